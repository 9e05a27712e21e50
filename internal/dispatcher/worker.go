package dispatcher

import (
    "context"
    "encoding/json"
    "fmt"
    "math"
    "math/rand"
    "os"
    "sync"
    "time"

    mpkg "github.com/local/rangeplanner/internal/metrics"
    "github.com/local/rangeplanner/internal/planner"
    "github.com/local/rangeplanner/internal/queue"
    "github.com/local/rangeplanner/internal/store"
    "github.com/rs/zerolog/log"
)

// breakerTarget is the circuit breaker key suffix for the range processor.
const breakerTarget = "processor"

type Queue interface {
    Dequeue(ctx context.Context, consumer string, block time.Duration) (*queue.Message, error)
    Ack(ctx context.Context, msgID string) error
    EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error
    IsCancelled(ctx context.Context, jobID string) (bool, error)
    AddDLQ(ctx context.Context, payload []byte, reason string) error
}

type Documents interface {
    Complete(ctx context.Context, id string, r planner.PageRange) (store.Document, error)
    Release(ctx context.Context, id string, r planner.PageRange) (store.Document, error)
}

type StatusStore interface {
    Transition(ctx context.Context, jobID string, st store.Status, from ...string) (bool, error)
    Incr(ctx context.Context, jobID, field string) (total, done, failed int, err error)
}

type Config struct {
    Concurrency        int
    DequeueBlock       time.Duration
    RangeTimeout       time.Duration
    MaxAttempts        int
    RetryBaseDelay     time.Duration
    RetryJitter        time.Duration
    RetryBackoffFactor float64
}

type Deps struct {
    Queue     Queue
    Docs      Documents
    Status    StatusStore
    Processor Processor
    Breaker   *CircuitBreaker // optional
}

type Worker struct {
    cfg  Config
    deps Deps
    stop chan struct{}
    wg   sync.WaitGroup
    host string
}

func New(cfg Config, deps Deps) *Worker {
    if cfg.Concurrency <= 0 { cfg.Concurrency = 2 }
    if cfg.DequeueBlock <= 0 { cfg.DequeueBlock = 2 * time.Second }
    if cfg.RangeTimeout <= 0 { cfg.RangeTimeout = 10 * time.Minute }
    if cfg.MaxAttempts <= 0 { cfg.MaxAttempts = 3 }
    if cfg.RetryBackoffFactor < 1 { cfg.RetryBackoffFactor = 2 }
    host, _ := os.Hostname()
    if host == "" { host = "worker" }
    return &Worker{cfg: cfg, deps: deps, stop: make(chan struct{}), host: host}
}

func (w *Worker) Start() {
    for i := 0; i < w.cfg.Concurrency; i++ {
        w.wg.Add(1)
        go w.loop(i)
    }
}

// Stop signals the loops and waits for in-flight ranges until ctx expires.
func (w *Worker) Stop(ctx context.Context) error {
    close(w.stop)
    done := make(chan struct{})
    go func() { w.wg.Wait(); close(done) }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

func (w *Worker) loop(id int) {
    defer w.wg.Done()
    consumer := fmt.Sprintf("%s-%d", w.host, id)
    log.Info().Int("worker", id).Str("consumer", consumer).Msg("dispatcher worker started")
    for {
        select {
        case <-w.stop:
            log.Info().Int("worker", id).Msg("dispatcher worker stopped")
            return
        default:
        }

        msg, err := w.deps.Queue.Dequeue(context.Background(), consumer, w.cfg.DequeueBlock)
        if err != nil {
            log.Error().Err(err).Msg("queue dequeue error")
            time.Sleep(500 * time.Millisecond)
            continue
        }
        if msg == nil { continue }

        w.handle(context.Background(), msg)
        if err := w.deps.Queue.Ack(context.Background(), msg.ID); err != nil {
            log.Warn().Err(err).Str("msg_id", msg.ID).Msg("ack failed")
        }
    }
}

// handle runs one message to a terminal outcome: done, retried later,
// dead-lettered or skipped. The caller acks afterwards in every case.
func (w *Worker) handle(ctx context.Context, msg *queue.Message) {
    var job RangeJob
    if err := json.Unmarshal(msg.Data, &job); err != nil || job.JobID == "" || job.DocumentID == "" {
        log.Error().Err(err).Str("msg_id", msg.ID).Msg("malformed range job; sending to DLQ")
        _ = w.deps.Queue.AddDLQ(ctx, msg.Data, "malformed message")
        mpkg.IncProcessed("dlq")
        return
    }
    lg := log.With().Str("job_id", job.JobID).Str("document_id", job.DocumentID).Str("range", job.Range().String()).Int("attempt", job.Attempt).Logger()

    if cancelled, _ := w.deps.Queue.IsCancelled(ctx, job.JobID); cancelled {
        lg.Warn().Msg("job cancelled before processing; releasing range")
        if _, err := w.deps.Docs.Release(ctx, job.DocumentID, job.Range()); err != nil {
            lg.Error().Err(err).Msg("release cancelled range failed")
        }
        mpkg.IncProcessed("cancelled")
        return
    }

    if w.deps.Breaker != nil && w.deps.Breaker.IsOpen(ctx, breakerTarget) {
        // hold the range back without spending an attempt
        lg.Debug().Msg("circuit breaker OPEN - deferring range")
        if err := w.deps.Queue.EnqueueDelayed(ctx, msg.Data, time.Now().Add(w.retryDelay(0))); err != nil {
            lg.Error().Err(err).Msg("defer range failed")
        }
        return
    }

    if job.Attempt == 0 { w.markProcessing(ctx, job.JobID) }

    pctx, cancel := context.WithTimeout(ctx, w.cfg.RangeTimeout)
    start := time.Now()
    err := w.deps.Processor.Process(pctx, job)
    cancel()
    dur := time.Since(start)
    mpkg.ObserveProcessor(classify(err), dur)

    if err == nil {
        if w.deps.Breaker != nil { w.deps.Breaker.Close(ctx, breakerTarget) }
        if _, err := w.deps.Docs.Complete(ctx, job.DocumentID, job.Range()); err != nil {
            lg.Error().Err(err).Msg("mark range processed failed")
        }
        lg.Info().Dur("duration", dur).Msg("range processed")
        mpkg.IncProcessed("success")
        w.count(ctx, job.JobID, store.FieldRangesDone)
        return
    }

    if isTransientError(err) && w.deps.Breaker != nil { w.deps.Breaker.Open(ctx, breakerTarget) }

    if !isFatalError(err) && job.Attempt+1 < w.cfg.MaxAttempts {
        delay := w.retryDelay(job.Attempt)
        job.Attempt++
        b, _ := json.Marshal(job)
        qerr := w.deps.Queue.EnqueueDelayed(ctx, b, time.Now().Add(delay))
        if qerr == nil {
            lg.Warn().Err(err).Dur("retry_in", delay).Msg("range failed; retry scheduled")
            mpkg.IncRetry()
            return
        }
        lg.Error().Err(qerr).Msg("schedule retry failed; dead-lettering")
    }

    lg.Error().Err(err).Msg("range failed permanently; sending to DLQ")
    _ = w.deps.Queue.AddDLQ(ctx, msg.Data, err.Error())
    if _, rerr := w.deps.Docs.Release(ctx, job.DocumentID, job.Range()); rerr != nil {
        lg.Error().Err(rerr).Msg("release failed range failed")
    }
    mpkg.IncProcessed("dlq")
    w.count(ctx, job.JobID, store.FieldRangesFailed)
}

// retryDelay is base * factor^attempt plus up to RetryJitter.
func (w *Worker) retryDelay(attempt int) time.Duration {
    d := time.Duration(float64(w.cfg.RetryBaseDelay) * math.Pow(w.cfg.RetryBackoffFactor, float64(attempt)))
    if w.cfg.RetryJitter > 0 { d += time.Duration(rand.Int63n(int64(w.cfg.RetryJitter))) }
    return d
}

func (w *Worker) markProcessing(ctx context.Context, jobID string) {
    if _, err := w.deps.Status.Transition(ctx, jobID, store.Status{Status: "processing", Message: "processing ranges"}, "queued"); err != nil {
        log.Warn().Err(err).Str("job_id", jobID).Msg("mark job processing failed")
    }
}

// count bumps a range counter and finalizes the job once every range has an
// outcome.
func (w *Worker) count(ctx context.Context, jobID, field string) {
    total, done, failed, err := w.deps.Status.Incr(ctx, jobID, field)
    if err != nil {
        log.Error().Err(err).Str("job_id", jobID).Msg("status counter update failed")
        return
    }
    st := store.Status{Status: "processing", Message: "processing ranges"}
    if total > 0 { st.Progress = (done + failed) * 100 / total }
    if total > 0 && done+failed >= total {
        now := time.Now()
        st.End = &now
        st.Progress = 100
        switch {
        case failed == 0:
            st.Status, st.Message = "success", "all ranges processed"
        case done == 0:
            st.Status, st.Message = "failed", "no range could be processed"
        default:
            st.Status, st.Message = "partial", fmt.Sprintf("%d of %d ranges failed", failed, total)
        }
    }
    // a cancelled job keeps its status; only live jobs move forward
    applied, err := w.deps.Status.Transition(ctx, jobID, st, "queued", "processing")
    if err != nil {
        log.Error().Err(err).Str("job_id", jobID).Msg("status update failed")
        return
    }
    if applied && st.End != nil {
        log.Info().Str("job_id", jobID).Int("ranges_done", done).Int("ranges_failed", failed).Str("status", st.Status).Msg("job finished")
    }
}
