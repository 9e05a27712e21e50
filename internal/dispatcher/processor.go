package dispatcher

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/local/rangeplanner/internal/planner"
)

// RangeJob is one queued unit of work: a single page range of a document.
type RangeJob struct {
    JobID          string `json:"job_id"`
    DocumentID     string `json:"document_id"`
    FileRef        string `json:"file_ref"`
    Start          int    `json:"start"`
    End            int    `json:"end"`
    Attempt        int    `json:"attempt"`
    IdempotencyKey string `json:"idempotency_key"`
}

func (j RangeJob) Range() planner.PageRange { return planner.PageRange{Start: j.Start, End: j.End} }

// Processor does the actual work on a page range.
type Processor interface {
    Process(ctx context.Context, job RangeJob) error
}

// HTTPProcessor posts range jobs to an external service; any 2xx is success.
type HTTPProcessor struct {
    http *http.Client
    url  string
}

func NewHTTPProcessor(url string, timeout time.Duration) *HTTPProcessor {
    return &HTTPProcessor{http: &http.Client{Timeout: timeout}, url: url}
}

type processRequest struct {
    DocumentID string `json:"document_id"`
    FileRef    string `json:"file_ref"`
    Start      int    `json:"start"`
    End        int    `json:"end"`
    JobID      string `json:"job_id"`
}

func (p *HTTPProcessor) Process(ctx context.Context, job RangeJob) error {
    if p.url == "" { return &ValidationError{Message: "processor url not configured"} }
    body, _ := json.Marshal(processRequest{DocumentID: job.DocumentID, FileRef: job.FileRef, Start: job.Start, End: job.End, JobID: job.JobID})
    req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
    if err != nil { return &ValidationError{Message: err.Error()} }
    req.Header.Set("Content-Type", "application/json")
    if job.IdempotencyKey != "" { req.Header.Set("Idempotency-Key", job.IdempotencyKey) }
    resp, err := p.http.Do(req)
    if err != nil {
        if errors.Is(ctx.Err(), context.DeadlineExceeded) { return context.DeadlineExceeded }
        return err
    }
    defer resp.Body.Close()
    if resp.StatusCode >= 200 && resp.StatusCode < 300 {
        _, _ = io.Copy(io.Discard, resp.Body)
        return nil
    }
    b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
    return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b)), URL: p.url}
}
