// Package planner computes which page ranges of a document still need
// processing and validates newly proposed ranges against what is done.
// Everything here is pure: inputs are never mutated and results are fresh
// slices, so callers may recompute on every edit.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// PageRange is an inclusive, 1-indexed interval of pages.
type PageRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// ErrInvalidRange marks a range that is malformed or outside the document.
var ErrInvalidRange = errors.New("invalid page range")

func (r PageRange) String() string { return fmt.Sprintf("%d-%d", r.Start, r.End) }

// Valid reports start >= 1 and end >= start.
func (r PageRange) Valid() bool { return r.Start >= 1 && r.End >= r.Start }

// Overlaps reports whether r and o share at least one page.
func (r PageRange) Overlaps(o PageRange) bool { return r.Start <= o.End && r.End >= o.Start }

// Pages returns the number of pages in r, 0 for malformed ranges.
func (r PageRange) Pages() int {
	if !r.Valid() {
		return 0
	}
	return r.End - r.Start + 1
}

// Field names a single editable bound of a range.
type Field string

const (
	FieldStart Field = "start"
	FieldEnd   Field = "end"
)

// sortedCopy returns ranges ordered by start. The sort is stable so equal
// starts keep their input order.
func sortedCopy(ranges []PageRange) []PageRange {
	out := make([]PageRange, len(ranges))
	copy(out, ranges)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Normalize drops malformed entries, sorts by start and merges ranges that
// overlap or touch (a.End+1 >= b.Start).
func Normalize(ranges []PageRange) []PageRange {
	valid := make([]PageRange, 0, len(ranges))
	for _, r := range ranges {
		if r.Valid() {
			valid = append(valid, r)
		}
	}
	valid = sortedCopy(valid)

	merged := make([]PageRange, 0, len(valid))
	for _, r := range valid {
		if n := len(merged); n > 0 && merged[n-1].End+1 >= r.Start {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// ComputeUnprocessed returns the gaps of [1, totalPages] not covered by
// processed. An unknown page count (<= 0) yields no ranges, and so does a
// fully processed document. Gaps are strictly ascending and never extend past
// totalPages.
func ComputeUnprocessed(totalPages int, processed []PageRange) []PageRange {
	gaps := []PageRange{}
	if totalPages <= 0 {
		return gaps
	}
	norm := Normalize(processed)
	if len(norm) == 0 {
		return append(gaps, PageRange{Start: 1, End: totalPages})
	}

	add := func(start, end int) {
		if end > totalPages {
			end = totalPages
		}
		if start <= end {
			gaps = append(gaps, PageRange{Start: start, End: end})
		}
	}

	if norm[0].Start > 1 {
		add(1, norm[0].Start-1)
	}
	for i := 0; i+1 < len(norm); i++ {
		if norm[i].End+1 < norm[i+1].Start {
			add(norm[i].End+1, norm[i+1].Start-1)
		}
	}
	if last := norm[len(norm)-1]; last.End < totalPages {
		add(last.End+1, totalPages)
	}
	return gaps
}

// AdjustRange applies a single-field edit typed by the user. raw must parse as
// a positive integer, otherwise r is returned unchanged. Moving start past end
// drags end along (and the reverse for end), and end is clamped to totalPages
// when the page count is known.
func AdjustRange(r PageRange, field Field, raw string, totalPages int) PageRange {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 1 {
		return r
	}
	out := r
	switch field {
	case FieldStart:
		out.Start = n
		if out.Start > out.End {
			out.End = out.Start
		}
	case FieldEnd:
		out.End = n
		if out.End < out.Start {
			out.Start = out.End
		}
	default:
		return r
	}
	if totalPages > 0 && out.End > totalPages {
		out.End = totalPages
		if out.Start > out.End {
			out.Start = out.End
		}
	}
	return out
}

// CheckBounds rejects malformed ranges and, when totalPages is known, ranges
// that reach past the last page.
func CheckBounds(ranges []PageRange, totalPages int) error {
	for i, r := range ranges {
		if !r.Valid() {
			return fmt.Errorf("range %d (%s): %w", i+1, r, ErrInvalidRange)
		}
		if totalPages > 0 && r.End > totalPages {
			return fmt.Errorf("range %d (%s): end page out of range (1-%d): %w", i+1, r, totalPages, ErrInvalidRange)
		}
	}
	return nil
}

// PageCount returns how many distinct pages the ranges cover.
func PageCount(ranges []PageRange) int {
	total := 0
	for _, r := range Normalize(ranges) {
		total += r.Pages()
	}
	return total
}
