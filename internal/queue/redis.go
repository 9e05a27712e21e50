package queue

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Message is one dequeued stream entry.
type Message struct {
    ID   string
    Data []byte
}

// RedisQueue implements Redis Streams + consumer groups with a delayed ZSET mover.
type RedisQueue struct {
    client       *redis.Client
    // streams / groups
    Stream       string
    Group        string
    // keys
    CancelKey    string
    DelayedKey   string
    DLQStream    string
    // mover control
    pollInterval time.Duration
    stop         chan struct{}
    done         chan struct{}
}

// Options configures NewRedisQueue.
type Options struct {
    RedisURL     string
    Stream       string
    Group        string
    PollInterval time.Duration
}

// NewRedisQueue connects to Redis, ensures stream & group, and starts the delayed mover.
func NewRedisQueue(opts Options) (*RedisQueue, error) {
    opt, err := redis.ParseURL(opts.RedisURL)
    if err != nil {
        return nil, fmt.Errorf("parse redis url: %w", err)
    }
    return NewRedisQueueWithClient(redis.NewClient(opt), opts)
}

// NewRedisQueueWithClient is NewRedisQueue over an existing client.
func NewRedisQueueWithClient(c *redis.Client, opts Options) (*RedisQueue, error) {
    if opts.Stream == "" { opts.Stream = "jobs:ranges" }
    if opts.Group == "" { opts.Group = "workers:ranges" }
    ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
    defer cancel()
    if err := c.Ping(ctx).Err(); err != nil {
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    q := &RedisQueue{
        client:       c,
        Stream:       opts.Stream,
        Group:        opts.Group,
        CancelKey:    "jobs:cancelled:set",
        DelayedKey:   opts.Stream + ":delayed",
        DLQStream:    opts.Stream + ":dlq",
        pollInterval: opts.PollInterval,
        stop:         make(chan struct{}),
        done:         make(chan struct{}),
    }
    // MKSTREAM creates the stream if missing; "0" lets a fresh group see entries
    // added before it existed.
    if err := c.XGroupCreateMkStream(ctx, q.Stream, q.Group, "0").Err(); err != nil && !isBusyGroupErr(err) {
        return nil, fmt.Errorf("xgroup create: %w", err)
    }
    go q.mover()
    return q, nil
}

func isBusyGroupErr(err error) bool {
    if err == nil { return false }
    // go-redis returns the raw server error string
    return strings.Contains(strings.ToUpper(err.Error()), "BUSYGROUP")
}

func (q *RedisQueue) Close() error {
    close(q.stop)
    <-q.done
    return q.client.Close()
}

// Ping checks redis connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error { return q.client.Ping(ctx).Err() }

// Enqueue adds a job to the stream as a single-field entry {data: <json>}.
func (q *RedisQueue) Enqueue(ctx context.Context, payload []byte) error {
    return q.client.XAdd(ctx, &redis.XAddArgs{
        Stream: q.Stream,
        Values: map[string]any{"data": string(payload)},
    }).Err()
}

// EnqueueDelayed schedules a job for later execution via ZSET.
func (q *RedisQueue) EnqueueDelayed(ctx context.Context, payload []byte, executeAt time.Time) error {
    return q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(executeAt.UnixMilli()), Member: string(payload)}).Err()
}

// Dequeue reads one message for consumer, blocking up to block. A nil message
// with nil error means nothing arrived in time.
func (q *RedisQueue) Dequeue(ctx context.Context, consumer string, block time.Duration) (*Message, error) {
    res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
        Group:    q.Group,
        Consumer: consumer,
        Streams:  []string{q.Stream, ">"},
        Count:    1,
        Block:    block,
    }).Result()
    if err != nil {
        if errors.Is(err, redis.Nil) { return nil, nil }
        return nil, err
    }
    if len(res) == 0 || len(res[0].Messages) == 0 { return nil, nil }
    msg := res[0].Messages[0]
    out := &Message{ID: msg.ID}
    switch t := msg.Values["data"].(type) {
    case string:
        out.Data = []byte(t)
    case []byte:
        out.Data = t
    }
    return out, nil
}

// Ack marks a message as processed.
func (q *RedisQueue) Ack(ctx context.Context, msgID string) error {
    if msgID == "" { return nil }
    return q.client.XAck(ctx, q.Stream, q.Group, msgID).Err()
}

// CancelJob marks a job as cancelled. Workers check this before processing.
func (q *RedisQueue) CancelJob(ctx context.Context, jobID string) error {
    return q.client.SAdd(ctx, q.CancelKey, jobID).Err()
}

// IsCancelled returns true if job is cancelled.
func (q *RedisQueue) IsCancelled(ctx context.Context, jobID string) (bool, error) {
    return q.client.SIsMember(ctx, q.CancelKey, jobID).Result()
}

// AddDLQ pushes a failed job to DLQ stream with reason.
func (q *RedisQueue) AddDLQ(ctx context.Context, payload []byte, reason string) error {
    return q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.DLQStream, Values: map[string]any{"data": string(payload), "reason": reason}}).Err()
}

// mover periodically moves due delayed jobs from ZSET into the stream.
func (q *RedisQueue) mover() {
    defer close(q.done)
    if q.pollInterval <= 0 { q.pollInterval = 200 * time.Millisecond }
    ticker := time.NewTicker(q.pollInterval)
    defer ticker.Stop()
    for {
        select {
        case <-q.stop:
            return
        case <-ticker.C:
            q.moveDue(time.Now())
        }
    }
}

// moveDue moves up to 100 delayed jobs scheduled at or before now and
// returns how many it moved.
func (q *RedisQueue) moveDue(now time.Time) int {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    vals, err := q.client.ZRangeByScore(ctx, q.DelayedKey, &redis.ZRangeBy{
        Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()), Offset: 0, Count: 100,
    }).Result()
    if err != nil || len(vals) == 0 { return 0 }
    moved := 0
    for _, s := range vals {
        // ZREM first so two movers never both requeue the same member
        n, err := q.client.ZRem(ctx, q.DelayedKey, s).Result()
        if err != nil || n == 0 { continue }
        if err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.Stream, Values: map[string]any{"data": s}}).Err(); err != nil {
            _ = q.client.ZAdd(ctx, q.DelayedKey, redis.Z{Score: float64(now.UnixMilli()), Member: s}).Err()
            continue
        }
        moved++
    }
    return moved
}

// Depths returns approximate stream/deferred/dlq lengths for metrics.
func (q *RedisQueue) Depths(ctx context.Context) (int64, int64, int64, error) {
    pipe := q.client.Pipeline()
    xlen := pipe.XLen(ctx, q.Stream)
    zcard := pipe.ZCard(ctx, q.DelayedKey)
    dxlen := pipe.XLen(ctx, q.DLQStream)
    _, err := pipe.Exec(ctx)
    if err != nil { return 0, 0, 0, err }
    return xlen.Val(), zcard.Val(), dxlen.Val(), nil
}
