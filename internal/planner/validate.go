package planner

import "fmt"

// ConflictKind classifies why a proposed set was rejected.
type ConflictKind string

const (
	SelfOverlap      ConflictKind = "self_overlap"
	ProcessedOverlap ConflictKind = "processed_overlap"
	PendingOverlap   ConflictKind = "pending_overlap"
)

// ValidationResult is Ok when Kind is empty. For a conflict, First is the
// proposed range and Second is either the other proposed range (SelfOverlap)
// or the already processed range it hits (ProcessedOverlap), or the range
// still queued by another job (PendingOverlap).
type ValidationResult struct {
	Kind   ConflictKind `json:"kind,omitempty"`
	First  PageRange    `json:"first"`
	Second PageRange    `json:"second"`
}

// OK reports whether the proposed set may be submitted.
func (v ValidationResult) OK() bool { return v.Kind == "" }

// Message is the user-facing description of the result.
func (v ValidationResult) Message() string {
	switch v.Kind {
	case SelfOverlap:
		return fmt.Sprintf("Page ranges %s and %s overlap", v.First, v.Second)
	case ProcessedOverlap:
		return fmt.Sprintf("Page range %s overlaps already processed pages %s", v.First, v.Second)
	case PendingOverlap:
		return fmt.Sprintf("Page range %s overlaps pages already queued for processing %s", v.First, v.Second)
	}
	return "ok"
}

// Err returns the conflict as an error, nil when Ok.
func (v ValidationResult) Err() error {
	if v.OK() {
		return nil
	}
	return &ConflictError{Result: v}
}

// ConflictError carries a failed ValidationResult through error returns.
type ConflictError struct {
	Result ValidationResult
}

func (e *ConflictError) Error() string { return e.Result.Message() }

// ValidateProposedSet checks proposed for internal overlaps and for overlap with
// processed. Internal overlaps are searched on a start-sorted copy and ranges
// that merely touch (end == next start) count as overlapping. Processed
// overlaps are searched in input order of both slices. The first conflict
// found is returned.
func ValidateProposedSet(proposed, processed []PageRange) ValidationResult {
	if len(proposed) == 0 {
		return ValidationResult{}
	}

	sorted := sortedCopy(proposed)
	for i := 0; i+1 < len(sorted); i++ {
		if sorted[i].End >= sorted[i+1].Start {
			return ValidationResult{Kind: SelfOverlap, First: sorted[i], Second: sorted[i+1]}
		}
	}

	for _, p := range proposed {
		for _, e := range processed {
			if p.Overlaps(e) {
				return ValidationResult{Kind: ProcessedOverlap, First: p, Second: e}
			}
		}
	}
	return ValidationResult{}
}

// ValidateWithPending is ValidateProposedSet followed by a check against
// pending, the ranges reserved by jobs that have not finished. Processed
// conflicts are reported before pending ones.
func ValidateWithPending(proposed, processed, pending []PageRange) ValidationResult {
	if res := ValidateProposedSet(proposed, processed); !res.OK() {
		return res
	}
	for _, p := range proposed {
		for _, q := range pending {
			if p.Overlaps(q) {
				return ValidationResult{Kind: PendingOverlap, First: p, Second: q}
			}
		}
	}
	return ValidationResult{}
}
