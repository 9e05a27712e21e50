package statuscheck

import (
    "context"
    "errors"
    "fmt"
    "net/http"
    "strings"
    "time"
)

// RedisPinger models the minimal Redis capability we need for status checks.
type RedisPinger interface {
    Ping(ctx context.Context) error
}

// BucketChecker verifies object storage access; satisfied by *storage.S3Client.
type BucketChecker interface {
    CheckBucket(ctx context.Context) error
}

// Checker aggregates health checks for external dependencies.
type Checker struct {
    redis        RedisPinger
    s3           BucketChecker
    httpClient   *http.Client
    processorURL string
}

// Options configures the Checker.
type Options struct {
    Redis        RedisPinger
    S3           BucketChecker
    HTTPClient   *http.Client
    ProcessorURL string
}

// Status represents the readiness of a subsystem.
type Status struct {
    OK      bool   `json:"ok"`
    Message string `json:"message"`
}

// Summary bundles all subsystem statuses.
type Summary struct {
    Redis     Status `json:"redis"`
    S3        Status `json:"s3"`
    Processor Status `json:"processor"`
}

// Healthy reports whether the checks the API cannot work without passed.
func (s Summary) Healthy() bool { return s.Redis.OK }

// New creates a new Checker with the provided options.
func New(opts Options) *Checker {
    client := opts.HTTPClient
    if client == nil {
        client = &http.Client{Timeout: 5 * time.Second}
    }
    return &Checker{
        redis:        opts.Redis,
        s3:           opts.S3,
        httpClient:   client,
        processorURL: strings.TrimSpace(opts.ProcessorURL),
    }
}

// Summary returns the current status snapshot.
func (c *Checker) Summary(ctx context.Context) Summary {
    return Summary{
        Redis:     c.checkRedis(ctx),
        S3:        c.checkS3(ctx),
        Processor: c.checkProcessor(ctx),
    }
}

func (c *Checker) checkRedis(ctx context.Context) Status {
    if c.redis == nil {
        return Status{OK: false, Message: "client unavailable"}
    }
    ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    if err := c.redis.Ping(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkS3(ctx context.Context) Status {
    if c.s3 == nil {
        return Status{OK: false, Message: "Bucket not configured"}
    }
    ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
    defer cancel()
    if err := c.s3.CheckBucket(ctx); err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    return Status{OK: true, Message: "Connected"}
}

func (c *Checker) checkProcessor(ctx context.Context) Status {
    if c.processorURL == "" {
        return Status{OK: false, Message: "URL not configured"}
    }
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.processorURL, nil)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    resp, err := c.httpClient.Do(req)
    if err != nil {
        return Status{OK: false, Message: trimError(err)}
    }
    defer resp.Body.Close()
    // 405 still proves the service is up when the health URL is the POST endpoint
    if resp.StatusCode >= 500 {
        return Status{OK: false, Message: fmt.Sprintf("HTTP %d", resp.StatusCode)}
    }
    return Status{OK: true, Message: "Available"}
}

func trimError(err error) string {
    if err == nil {
        return ""
    }
    var netErr interface{ Timeout() bool }
    if errors.As(err, &netErr) && netErr.Timeout() {
        return "timeout"
    }
    msg := err.Error()
    if len(msg) > 120 {
        return msg[:120]
    }
    return msg
}
