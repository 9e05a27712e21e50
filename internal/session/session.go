package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/local/rangeplanner/internal/planner"
)

// State of an editing session.
type State string

const (
	StateIdle       State = "idle"
	StateEditing    State = "editing"
	StateSubmitting State = "submitting"
	StateCancelled  State = "cancelled"
)

var (
	ErrInvalidTransition = errors.New("invalid session transition")
	ErrAllProcessed      = errors.New("all pages already processed")
	ErrAllQueued         = errors.New("all remaining pages are already queued for processing")
	ErrPagesUnknown      = errors.New("document page count unknown")
	ErrLastRange         = errors.New("at least one page range is required")
	ErrIndexOutOfRange   = errors.New("range index out of range")
	ErrNoRanges          = errors.New("no page ranges to submit")
)

// Session is the caller-held state of one "process pages" dialog. It is a
// plain value that round-trips through JSON so it can live in any store.
type Session struct {
	ID           string                    `json:"id"`
	DocumentID   string                    `json:"document_id"`
	State        State                     `json:"state"`
	TotalPages   int                       `json:"total_pages"`
	Processed    []planner.PageRange       `json:"processed_ranges"`
	Pending      []planner.PageRange       `json:"pending_ranges"`
	Proposed     []planner.PageRange       `json:"proposed_ranges"`
	AllProcessed bool                      `json:"all_processed"`
	AllQueued    bool                      `json:"all_queued"`
	PagesUnknown bool                      `json:"pages_unknown"`
	Error        string                    `json:"error,omitempty"`
	Conflict     *planner.ValidationResult `json:"conflict,omitempty"`
	JobID        string                    `json:"job_id,omitempty"`
	UpdatedAt    time.Time                 `json:"updated_at"`
}

// New returns an idle session for documentID.
func New(documentID string) *Session {
	return &Session{
		ID:         uuid.NewString(),
		DocumentID: documentID,
		State:      StateIdle,
		UpdatedAt:  time.Now(),
	}
}

func (s *Session) transitionErr(op string) error {
	return fmt.Errorf("%s from %s: %w", op, s.State, ErrInvalidTransition)
}

func (s *Session) touch() { s.UpdatedAt = time.Now() }

func (s *Session) clearError() {
	s.Error = ""
	s.Conflict = nil
}

// Open enters editing and seeds the proposed set with the pages that are
// neither processed nor pending. When nothing is left the session still
// opens, with AllProcessed set if every page is processed and AllQueued if
// the rest is only waiting on running jobs.
func (s *Session) Open(totalPages int, processed, pending []planner.PageRange) error {
	if s.State != StateIdle && s.State != StateCancelled {
		return s.transitionErr("open")
	}
	s.TotalPages = totalPages
	s.Processed = append([]planner.PageRange(nil), processed...)
	s.Pending = append([]planner.PageRange(nil), pending...)
	claimed := append(append([]planner.PageRange(nil), processed...), pending...)
	s.Proposed = planner.ComputeUnprocessed(totalPages, claimed)
	s.PagesUnknown = totalPages <= 0
	s.AllProcessed = !s.PagesUnknown && len(planner.ComputeUnprocessed(totalPages, processed)) == 0
	s.AllQueued = !s.PagesUnknown && !s.AllProcessed && len(s.Proposed) == 0
	s.JobID = ""
	s.clearError()
	s.State = StateEditing
	s.touch()
	return nil
}

func (s *Session) editable() error {
	if s.State != StateEditing {
		return s.transitionErr("edit")
	}
	if s.AllProcessed {
		return ErrAllProcessed
	}
	if s.AllQueued {
		return ErrAllQueued
	}
	return nil
}

// Add appends a default range covering the whole document, or {1,1} when the
// page count is unknown.
func (s *Session) Add() error {
	if err := s.editable(); err != nil {
		return err
	}
	r := planner.PageRange{Start: 1, End: 1}
	if s.TotalPages > 0 {
		r.End = s.TotalPages
	}
	s.Proposed = append(s.Proposed, r)
	s.touch()
	return nil
}

// Remove deletes the range at index i but never the last remaining one.
func (s *Session) Remove(i int) error {
	if err := s.editable(); err != nil {
		return err
	}
	if i < 0 || i >= len(s.Proposed) {
		return fmt.Errorf("remove %d: %w", i, ErrIndexOutOfRange)
	}
	if len(s.Proposed) <= 1 {
		return ErrLastRange
	}
	next := make([]planner.PageRange, 0, len(s.Proposed)-1)
	next = append(next, s.Proposed[:i]...)
	s.Proposed = append(next, s.Proposed[i+1:]...)
	s.touch()
	return nil
}

// Edit applies a user edit to one bound of the range at index i. Invalid
// input leaves the range unchanged.
func (s *Session) Edit(i int, field planner.Field, raw string) error {
	if err := s.editable(); err != nil {
		return err
	}
	if i < 0 || i >= len(s.Proposed) {
		return fmt.Errorf("edit %d: %w", i, ErrIndexOutOfRange)
	}
	next := append([]planner.PageRange(nil), s.Proposed...)
	next[i] = planner.AdjustRange(next[i], field, raw, s.TotalPages)
	s.Proposed = next
	s.touch()
	return nil
}

// Validate runs the overlap checks without changing state.
func (s *Session) Validate() planner.ValidationResult {
	return planner.ValidateWithPending(s.Proposed, s.Processed, s.Pending)
}

// BeginSubmit moves to submitting when the proposed set validates. On a
// conflict the session stays in editing with the conflict recorded as the
// current error.
func (s *Session) BeginSubmit() error {
	if err := s.editable(); err != nil {
		return err
	}
	if s.PagesUnknown {
		return ErrPagesUnknown
	}
	if len(s.Proposed) == 0 {
		return ErrNoRanges
	}
	res := s.Validate()
	if !res.OK() {
		s.Error = res.Message()
		s.Conflict = &res
		s.touch()
		return res.Err()
	}
	s.clearError()
	s.State = StateSubmitting
	s.touch()
	return nil
}

// Complete records the dispatched job and returns to idle.
func (s *Session) Complete(jobID string) error {
	if s.State != StateSubmitting {
		return s.transitionErr("complete")
	}
	s.JobID = jobID
	s.Proposed = nil
	s.clearError()
	s.State = StateIdle
	s.touch()
	return nil
}

// Fail returns to editing with err surfaced; the proposed set is kept.
func (s *Session) Fail(err error) error {
	if s.State != StateSubmitting {
		return s.transitionErr("fail")
	}
	s.clearError()
	var conflict *planner.ConflictError
	if errors.As(err, &conflict) {
		res := conflict.Result
		s.Conflict = &res
	}
	if err != nil {
		s.Error = err.Error()
	}
	s.State = StateEditing
	s.touch()
	return nil
}

// Cancel discards the proposed set without submitting anything.
func (s *Session) Cancel() error {
	if s.State != StateEditing {
		return s.transitionErr("cancel")
	}
	s.Proposed = nil
	s.clearError()
	s.State = StateCancelled
	s.touch()
	return nil
}
