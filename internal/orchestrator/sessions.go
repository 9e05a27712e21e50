package orchestrator

import (
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strconv"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    "github.com/local/rangeplanner/internal/dispatcher"
    mpkg "github.com/local/rangeplanner/internal/metrics"
    "github.com/local/rangeplanner/internal/planner"
    "github.com/local/rangeplanner/internal/session"
    "github.com/local/rangeplanner/internal/store"
)

var errDocumentBusy = errors.New("another submission for this document is in progress")

type sessionView struct {
    *session.Session
    ProcessedSummary string `json:"processed_summary"`
    PendingSummary   string `json:"pending_summary"`
    CanAdd           bool   `json:"can_add"`
    CanSubmit        bool   `json:"can_submit"`
}

func newSessionView(s *session.Session) sessionView {
    editing := s.State == session.StateEditing && !s.AllProcessed && !s.AllQueued
    return sessionView{
        Session:          s,
        ProcessedSummary: planner.FormatProcessedRanges(s.Processed),
        PendingSummary:   planner.FormatProcessedRanges(s.Pending),
        CanAdd:           editing,
        CanSubmit:        editing && !s.PagesUnknown && len(s.Proposed) > 0,
    }
}

// sessionErrorStatus maps session and planner errors to HTTP status codes.
func sessionErrorStatus(err error) int {
    var conflict *planner.ConflictError
    switch {
    case errors.As(err, &conflict):
        return http.StatusConflict
    case errors.Is(err, session.ErrInvalidTransition), errors.Is(err, session.ErrAllProcessed),
        errors.Is(err, session.ErrAllQueued), errors.Is(err, errDocumentBusy):
        return http.StatusConflict
    case errors.Is(err, session.ErrIndexOutOfRange), errors.Is(err, session.ErrLastRange):
        return http.StatusBadRequest
    case errors.Is(err, session.ErrPagesUnknown), errors.Is(err, session.ErrNoRanges), errors.Is(err, planner.ErrInvalidRange):
        return http.StatusUnprocessableEntity
    default:
        return http.StatusInternalServerError
    }
}

// writeSessionError answers with the session itself so the caller sees the
// recorded error next to the ranges it was about.
func writeSessionError(w http.ResponseWriter, s *session.Session, err error) {
    writeJSON(w, sessionErrorStatus(err), map[string]any{"error": err.Error(), "session": newSessionView(s)})
}

func (o *Orchestrator) loadSession(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
    id := r.PathValue("id")
    s, err := o.deps.Sessions.Get(r.Context(), id)
    if err == nil { return s, true }
    if errors.Is(err, store.ErrNotFound) {
        http.Error(w, "session not found", http.StatusNotFound)
        return nil, false
    }
    log.Error().Err(err).Str("session_id", id).Msg("session load failed")
    http.Error(w, "store unavailable", http.StatusServiceUnavailable)
    return nil, false
}

func (o *Orchestrator) saveSession(w http.ResponseWriter, r *http.Request, s *session.Session) bool {
    if err := o.deps.Sessions.Save(r.Context(), s); err != nil {
        log.Error().Err(err).Str("session_id", s.ID).Msg("session save failed")
        http.Error(w, "store unavailable", http.StatusServiceUnavailable)
        return false
    }
    return true
}

// mutateSession loads the session, applies fn and persists the result.
func (o *Orchestrator) mutateSession(w http.ResponseWriter, r *http.Request, action string, fn func(s *session.Session) error) {
    s, ok := o.loadSession(w, r)
    if !ok { return }
    if err := fn(s); err != nil {
        writeSessionError(w, s, err); return
    }
    if !o.saveSession(w, r, s) { return }
    mpkg.IncSession(action)
    writeJSON(w, http.StatusOK, newSessionView(s))
}

func (o *Orchestrator) handleOpenSession(w http.ResponseWriter, r *http.Request) {
    d, ok := o.loadDocument(w, r, r.PathValue("id"))
    if !ok { return }
    s := session.New(d.ID)
    if err := s.Open(d.TotalPages, d.Processed, d.Pending); err != nil {
        writeSessionError(w, s, err); return
    }
    if !o.saveSession(w, r, s) { return }
    mpkg.IncSession("open")
    log.Info().Str("session_id", s.ID).Str("document_id", d.ID).Int("proposed", len(s.Proposed)).Bool("all_processed", s.AllProcessed).Bool("all_queued", s.AllQueued).Msg("session opened")
    writeJSON(w, http.StatusCreated, newSessionView(s))
}

func (o *Orchestrator) handleGetSession(w http.ResponseWriter, r *http.Request) {
    s, ok := o.loadSession(w, r)
    if !ok { return }
    writeJSON(w, http.StatusOK, newSessionView(s))
}

func (o *Orchestrator) handleAddRange(w http.ResponseWriter, r *http.Request) {
    o.mutateSession(w, r, "add", func(s *session.Session) error { return s.Add() })
}

func rangeIndex(r *http.Request) (int, error) {
    i, err := strconv.Atoi(r.PathValue("index"))
    if err != nil { return 0, fmt.Errorf("index %q: %w", r.PathValue("index"), session.ErrIndexOutOfRange) }
    return i, nil
}

type editRangeReq struct {
    Field string          `json:"field"`
    Value json.RawMessage `json:"value"`
}

// rawValue accepts both "12" and 12 so form fields can be forwarded as typed.
func (e editRangeReq) rawValue() string {
    var s string
    if err := json.Unmarshal(e.Value, &s); err == nil { return s }
    return string(e.Value)
}

func (o *Orchestrator) handleEditRange(w http.ResponseWriter, r *http.Request) {
    defer r.Body.Close()
    var req editRangeReq
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid json", http.StatusBadRequest); return
    }
    field := planner.Field(req.Field)
    if field != planner.FieldStart && field != planner.FieldEnd {
        http.Error(w, "field must be start or end", http.StatusBadRequest); return
    }
    o.mutateSession(w, r, "edit", func(s *session.Session) error {
        i, err := rangeIndex(r)
        if err != nil { return err }
        return s.Edit(i, field, req.rawValue())
    })
}

func (o *Orchestrator) handleRemoveRange(w http.ResponseWriter, r *http.Request) {
    o.mutateSession(w, r, "remove", func(s *session.Session) error {
        i, err := rangeIndex(r)
        if err != nil { return err }
        return s.Remove(i)
    })
}

// dropSession removes a session that reached a terminal state. The caller
// still answers with the final view, so a failed delete is only logged and
// the TTL cleans up.
func (o *Orchestrator) dropSession(r *http.Request, s *session.Session) {
    if err := o.deps.Sessions.Delete(r.Context(), s.ID); err != nil {
        log.Warn().Err(err).Str("session_id", s.ID).Msg("session delete failed")
    }
}

func (o *Orchestrator) handleCancelSession(w http.ResponseWriter, r *http.Request) {
    s, ok := o.loadSession(w, r)
    if !ok { return }
    if err := s.Cancel(); err != nil {
        writeSessionError(w, s, err); return
    }
    o.dropSession(r, s)
    mpkg.IncSession("cancel")
    writeJSON(w, http.StatusOK, newSessionView(s))
}

type submitResp struct {
    JobID   string              `json:"job_id"`
    Ranges  []planner.PageRange `json:"ranges"`
    Pages   int                 `json:"pages"`
    Session sessionView         `json:"session"`
}

// handleSubmit turns the session's proposed set into a dispatched job. The
// set is validated again under the document lock against what is processed
// or pending at that moment, so two sessions on one document cannot both
// claim the same pages.
func (o *Orchestrator) handleSubmit(w http.ResponseWriter, r *http.Request) {
    ctx := r.Context()
    s, ok := o.loadSession(w, r)
    if !ok { return }

    if err := s.BeginSubmit(); err != nil {
        if s.Conflict != nil { observeValidation(*s.Conflict) }
        _ = o.deps.Sessions.Save(ctx, s)
        writeSessionError(w, s, err); return
    }
    mpkg.ObserveValidation("ok")

    // fail returns the session to editing with err and answers the request.
    fail := func(err error) {
        _ = s.Fail(err)
        _ = o.deps.Sessions.Save(ctx, s)
        mpkg.IncSession("submit_failed")
        writeSessionError(w, s, err)
    }

    release, locked, err := o.deps.Locker.Acquire(ctx, "doc:"+s.DocumentID)
    if err != nil {
        log.Error().Err(err).Str("document_id", s.DocumentID).Msg("document lock failed")
        fail(fmt.Errorf("document lock: %w", err)); return
    }
    if !locked { fail(errDocumentBusy); return }
    defer release()

    d, err := o.deps.Docs.Get(ctx, s.DocumentID)
    if err != nil { fail(fmt.Errorf("load document: %w", err)); return }

    proposed := append([]planner.PageRange(nil), s.Proposed...)
    if err := planner.CheckBounds(proposed, d.TotalPages); err != nil { fail(err); return }
    res := planner.ValidateWithPending(proposed, d.Processed, d.Pending)
    if !res.OK() {
        observeValidation(res)
        // someone else claimed these pages since the session opened
        s.Processed = d.Processed
        s.Pending = d.Pending
        fail(res.Err()); return
    }

    jobID := uuid.NewString()
    lg := log.With().Str("job_id", jobID).Str("document_id", d.ID).Str("session_id", s.ID).Logger()
    if _, err := o.deps.Docs.Reserve(ctx, d.ID, proposed); err != nil {
        lg.Error().Err(err).Msg("reserve ranges failed")
        fail(fmt.Errorf("reserve ranges: %w", err)); return
    }

    pages := planner.PageCount(proposed)
    start := time.Now()
    _ = o.deps.Status.Set(ctx, jobID, store.Status{Status: "queued", Progress: 0, Message: "queued", Start: &start,
        Metadata: map[string]any{"document_id": d.ID, "session_id": s.ID, "ranges": planner.FormatProcessedRanges(proposed), "pages": pages}})
    if err := o.deps.Status.InitCounters(ctx, jobID, len(proposed)); err != nil {
        lg.Error().Err(err).Msg("init job counters failed")
    }

    for i, pr := range proposed {
        job := dispatcher.RangeJob{
            JobID:          jobID,
            DocumentID:     d.ID,
            FileRef:        d.FileRef,
            Start:          pr.Start,
            End:            pr.End,
            IdempotencyKey: fmt.Sprintf("doc:%s:job:%s:range:%s", d.ID, jobID, pr),
        }
        data, _ := json.Marshal(job)
        if err := o.deps.Queue.Enqueue(ctx, data); err != nil {
            lg.Error().Err(err).Msg("enqueue failed; rolling back reservation")
            o.rollback(r, jobID, d.ID, proposed[i:])
            _ = s.Fail(errors.New("queue unavailable"))
            _ = o.deps.Sessions.Save(ctx, s)
            mpkg.IncSession("submit_failed")
            http.Error(w, "queue unavailable", http.StatusServiceUnavailable)
            return
        }
    }
    mpkg.AddEnqueued(len(proposed), pages)

    _ = s.Complete(jobID)
    o.dropSession(r, s)
    mpkg.IncSession("submit")
    lg.Info().Int("ranges", len(proposed)).Int("pages", pages).Msg("ranges enqueued")
    writeJSON(w, http.StatusCreated, submitResp{JobID: jobID, Ranges: proposed, Pages: pages, Session: newSessionView(s)})
}

// rollback undoes a partially enqueued submission. unsent are the ranges that
// never reached the queue; the ones that did are released by the workers when
// they see the job cancelled.
func (o *Orchestrator) rollback(r *http.Request, jobID, docID string, unsent []planner.PageRange) {
    ctx := r.Context()
    _ = o.deps.Queue.CancelJob(ctx, jobID)
    for _, pr := range unsent {
        if _, err := o.deps.Docs.Release(ctx, docID, pr); err != nil {
            log.Error().Err(err).Str("job_id", jobID).Str("range", pr.String()).Msg("release after failed enqueue failed")
        }
    }
    end := time.Now()
    _ = o.deps.Status.Set(ctx, jobID, store.Status{Status: "failed", Message: "enqueue failed", End: &end})
}
