package orchestrator

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"

    "github.com/google/uuid"
    "github.com/rs/zerolog/log"

    mpkg "github.com/local/rangeplanner/internal/metrics"
    "github.com/local/rangeplanner/internal/planner"
    "github.com/local/rangeplanner/internal/session"
    "github.com/local/rangeplanner/internal/statuscheck"
    "github.com/local/rangeplanner/internal/store"
)

type Queue interface {
    Enqueue(ctx context.Context, payload []byte) error
    CancelJob(ctx context.Context, jobID string) error
}

type Documents interface {
    Create(ctx context.Context, d store.Document) error
    Get(ctx context.Context, id string) (store.Document, error)
    RawProcessed(ctx context.Context, id string) (string, error)
    Reserve(ctx context.Context, id string, ranges []planner.PageRange) (store.Document, error)
    Release(ctx context.Context, id string, r planner.PageRange) (store.Document, error)
}

type Sessions interface {
    Save(ctx context.Context, s *session.Session) error
    Get(ctx context.Context, id string) (*session.Session, error)
    Delete(ctx context.Context, id string) error
}

type StatusStore interface {
    Set(ctx context.Context, jobID string, st store.Status) error
    Get(ctx context.Context, jobID string) (store.Status, bool, error)
    InitCounters(ctx context.Context, jobID string, total int) error
}

type Locker interface {
    Acquire(ctx context.Context, name string) (release func(), ok bool, err error)
}

type HealthChecker interface {
    Summary(ctx context.Context) statuscheck.Summary
}

type Dependencies struct {
    Queue    Queue
    Docs     Documents
    Sessions Sessions
    Status   StatusStore
    Locker   Locker
    Pages    PageCounter   // optional; without it page counts must be supplied
    Checker  HealthChecker // optional
    // Refs maps bucket-relative file_path values to s3:// references.
    Refs     func(path string) string
}

type Orchestrator struct {
    deps Dependencies
}

func New(deps Dependencies) *Orchestrator {
    return &Orchestrator{deps: deps}
}

func (o *Orchestrator) RegisterRoutes(mux *http.ServeMux) {
    mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request){ w.WriteHeader(http.StatusOK); _,_ = w.Write([]byte("ok")) })
    mux.HandleFunc("GET /status", o.handleStatus)
    mux.HandleFunc("POST /documents", o.handleCreateDocument)
    mux.HandleFunc("GET /documents/{id}", o.handleGetDocument)
    mux.HandleFunc("POST /documents/{id}/validate", o.handleValidate)
    mux.HandleFunc("POST /documents/{id}/sessions", o.handleOpenSession)
    mux.HandleFunc("GET /sessions/{id}", o.handleGetSession)
    mux.HandleFunc("POST /sessions/{id}/ranges", o.handleAddRange)
    mux.HandleFunc("PATCH /sessions/{id}/ranges/{index}", o.handleEditRange)
    mux.HandleFunc("DELETE /sessions/{id}/ranges/{index}", o.handleRemoveRange)
    mux.HandleFunc("POST /sessions/{id}/cancel", o.handleCancelSession)
    mux.HandleFunc("POST /sessions/{id}/submit", o.handleSubmit)
    mux.HandleFunc("GET /progress/{job_id}", o.handleProgress)
    mux.HandleFunc("POST /jobs/{job_id}/cancel", o.handleCancelJob)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
    w.Header().Set("Content-Type", "application/json")
    w.WriteHeader(code)
    _ = json.NewEncoder(w).Encode(v)
}

func (o *Orchestrator) handleStatus(w http.ResponseWriter, r *http.Request) {
    if o.deps.Checker == nil { http.Error(w, "status checks disabled", http.StatusNotImplemented); return }
    sum := o.deps.Checker.Summary(r.Context())
    code := http.StatusOK
    if !sum.Healthy() { code = http.StatusServiceUnavailable }
    writeJSON(w, code, sum)
}

type createDocumentReq struct {
    FileRef    string              `json:"file_ref"`
    FilePath   string              `json:"file_path"`
    FileURL    string              `json:"file_url"`
    Filename   string              `json:"filename"`
    TotalPages *int                `json:"total_pages"`
    Processed  []planner.PageRange `json:"processed_ranges"`
}

// documentView is what the planning UI renders for one document.
type documentView struct {
    store.Document
    PagesUnknown      bool                `json:"pages_unknown"`
    ProcessedSummary  string              `json:"processed_summary"`
    PendingSummary    string              `json:"pending_summary"`
    UnprocessedRanges []planner.PageRange `json:"unprocessed_ranges"`
    AllProcessed      bool                `json:"all_processed"`
    // AllQueued is set when nothing is left to propose but some pages are
    // still waiting on running jobs.
    AllQueued         bool                `json:"all_queued"`
}

func newDocumentView(d store.Document) documentView {
    if d.Processed == nil { d.Processed = []planner.PageRange{} }
    if d.Pending == nil { d.Pending = []planner.PageRange{} }
    unprocessed := planner.ComputeUnprocessed(d.TotalPages, d.Claimed())
    known := d.TotalPages > 0
    allProcessed := known && len(planner.ComputeUnprocessed(d.TotalPages, d.Processed)) == 0
    return documentView{
        Document:          d,
        PagesUnknown:      d.TotalPages <= 0,
        ProcessedSummary:  planner.FormatProcessedRanges(d.Processed),
        PendingSummary:    planner.FormatProcessedRanges(d.Pending),
        UnprocessedRanges: unprocessed,
        AllProcessed:      allProcessed,
        AllQueued:         known && !allProcessed && len(unprocessed) == 0,
    }
}

// fileRef picks the document reference from the request. Bare paths are
// treated as keys in the default bucket when one is configured.
func (o *Orchestrator) fileRef(req createDocumentReq) string {
    if req.FileRef != "" { return req.FileRef }
    if req.FileURL != "" { return req.FileURL }
    p := req.FilePath
    if p == "" { return "" }
    if strings.Contains(p, "://") || o.deps.Refs == nil { return p }
    return o.deps.Refs(p)
}

func (o *Orchestrator) handleCreateDocument(w http.ResponseWriter, r *http.Request) {
    defer r.Body.Close()
    var req createDocumentReq
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid json", http.StatusBadRequest); return
    }
    ref := o.fileRef(req)
    if ref == "" {
        http.Error(w, "missing file_ref/file_path/file_url", http.StatusBadRequest); return
    }

    total := 0
    if req.TotalPages != nil {
        if *req.TotalPages < 0 { http.Error(w, "total_pages must not be negative", http.StatusBadRequest); return }
        total = *req.TotalPages
    }
    if total == 0 && o.deps.Pages != nil {
        n, err := o.deps.Pages.Count(r.Context(), ref)
        if err != nil {
            // unknown page count is a valid document state
            log.Warn().Err(err).Str("file", ref).Msg("page count failed; total pages unknown")
        } else {
            total = n
        }
    }
    for i, pr := range req.Processed {
        if !pr.Valid() || (total > 0 && pr.End > total) {
            http.Error(w, fmt.Sprintf("processed range %d (%s) is invalid", i, pr), http.StatusBadRequest); return
        }
    }

    name := req.Filename
    if name == "" { name = baseName(ref) }
    d := store.Document{ID: uuid.NewString(), FileRef: ref, Filename: name, TotalPages: total, Processed: req.Processed}
    if err := o.deps.Docs.Create(r.Context(), d); err != nil {
        log.Error().Err(err).Msg("document create failed")
        http.Error(w, "store unavailable", http.StatusServiceUnavailable); return
    }
    log.Info().Str("document_id", d.ID).Str("file", ref).Int("total_pages", total).Msg("document registered")
    created, err := o.deps.Docs.Get(r.Context(), d.ID)
    if err != nil { created = d }
    writeJSON(w, http.StatusCreated, newDocumentView(created))
}

func baseName(ref string) string {
    if i := strings.Index(ref, "#"); i >= 0 { ref = ref[:i] }
    if i := strings.LastIndex(ref, "/"); i >= 0 { return ref[i+1:] }
    return ref
}

// loadDocument writes the error response itself and returns ok=false on failure.
func (o *Orchestrator) loadDocument(w http.ResponseWriter, r *http.Request, id string) (store.Document, bool) {
    d, err := o.deps.Docs.Get(r.Context(), id)
    if err == nil { return d, true }
    if errors.Is(err, store.ErrNotFound) {
        http.Error(w, "document not found", http.StatusNotFound)
        return d, false
    }
    log.Error().Err(err).Str("document_id", id).Msg("document load failed")
    // stored ranges may be unreadable; still show what we can
    raw, _ := o.deps.Docs.RawProcessed(r.Context(), id)
    writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "document unreadable", "processed_summary": planner.FormatRawProcessedRanges(raw)})
    return d, false
}

func (o *Orchestrator) handleGetDocument(w http.ResponseWriter, r *http.Request) {
    d, ok := o.loadDocument(w, r, r.PathValue("id"))
    if !ok { return }
    writeJSON(w, http.StatusOK, newDocumentView(d))
}

type validateReq struct {
    Ranges []planner.PageRange `json:"ranges"`
}

type validationView struct {
    OK      bool                     `json:"ok"`
    Message string                   `json:"message"`
    Result  planner.ValidationResult `json:"result"`
}

func newValidationView(res planner.ValidationResult) validationView {
    return validationView{OK: res.OK(), Message: res.Message(), Result: res}
}

func observeValidation(res planner.ValidationResult) {
    if res.OK() { mpkg.ObserveValidation("ok"); return }
    mpkg.ObserveValidation(string(res.Kind))
}

// handleValidate checks a proposed set against the document without a session.
func (o *Orchestrator) handleValidate(w http.ResponseWriter, r *http.Request) {
    defer r.Body.Close()
    var req validateReq
    if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
        http.Error(w, "invalid json", http.StatusBadRequest); return
    }
    d, ok := o.loadDocument(w, r, r.PathValue("id"))
    if !ok { return }
    if err := planner.CheckBounds(req.Ranges, d.TotalPages); err != nil {
        http.Error(w, err.Error(), http.StatusUnprocessableEntity); return
    }
    res := planner.ValidateWithPending(req.Ranges, d.Processed, d.Pending)
    observeValidation(res)
    writeJSON(w, http.StatusOK, newValidationView(res))
}

func (o *Orchestrator) handleProgress(w http.ResponseWriter, r *http.Request) {
    id := r.PathValue("job_id")
    st, ok, err := o.deps.Status.Get(r.Context(), id)
    if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
    if !ok {
        http.Error(w, "not found", http.StatusNotFound); return
    }
    writeJSON(w, http.StatusOK, map[string]any{
        "success":       st.Status == "success",
        "job_id":        id,
        "status":        st.Status,
        "progress":      st.Progress,
        "message":       st.Message,
        "start_time":    st.Start,
        "end_time":      st.End,
        "ranges_total":  st.RangesTotal,
        "ranges_done":   st.RangesDone,
        "ranges_failed": st.RangesFailed,
        "metadata":      st.Metadata,
    })
}

type cancelReq struct {
    Reason string `json:"reason,omitempty"`
}

// handleCancelJob stops a dispatched job. Ranges not yet processed are
// released by the workers as they come off the queue.
func (o *Orchestrator) handleCancelJob(w http.ResponseWriter, r *http.Request) {
    jobID := r.PathValue("job_id")
    var req cancelReq
    if r.Body != nil { _ = json.NewDecoder(r.Body).Decode(&req) }
    st, ok, err := o.deps.Status.Get(r.Context(), jobID)
    if err != nil { http.Error(w, "error", http.StatusInternalServerError); return }
    if !ok { http.Error(w, "not found", http.StatusNotFound); return }
    if err := o.deps.Queue.CancelJob(r.Context(), jobID); err != nil {
        http.Error(w, "cancel failed", http.StatusInternalServerError); return
    }
    st.Status = "cancelled"
    if req.Reason != "" { st.Message = fmt.Sprintf("Cancelled: %s", req.Reason) } else { st.Message = "Cancelled" }
    now := time.Now(); st.End = &now
    _ = o.deps.Status.Set(r.Context(), jobID, st)
    log.Info().Str("job_id", jobID).Str("reason", req.Reason).Msg("job cancelled")
    writeJSON(w, http.StatusOK, map[string]any{"success": true, "job_id": jobID, "status": "cancelled"})
}
