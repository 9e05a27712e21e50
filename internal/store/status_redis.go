package store

import (
    "context"
    "encoding/json"
    "fmt"
    "strconv"
    "time"

    redis "github.com/redis/go-redis/v9"
)

// Counter fields kept next to the status so workers can bump them atomically.
const (
    FieldRangesTotal  = "ranges_total"
    FieldRangesDone   = "ranges_done"
    FieldRangesFailed = "ranges_failed"
)

type Status struct {
    Status       string                 `json:"status"`
    Progress     int                    `json:"progress"`
    Message      string                 `json:"message"`
    Start        *time.Time             `json:"start_time,omitempty"`
    End          *time.Time             `json:"end_time,omitempty"`
    Metadata     map[string]interface{} `json:"metadata,omitempty"`
    RangesTotal  int                    `json:"ranges_total"`
    RangesDone   int                    `json:"ranges_done"`
    RangesFailed int                    `json:"ranges_failed"`
}

type RedisStatus struct {
    client *redis.Client
    keyNS  string
    ttl    time.Duration
}

func NewRedisStatusWithClient(c *redis.Client) *RedisStatus {
    return &RedisStatus{client: c, keyNS: "job", ttl: 7 * 24 * time.Hour}
}

func (s *RedisStatus) key(jobID string) string { return fmt.Sprintf("%s:%s:status", s.keyNS, jobID) }

// transitionScript writes the field pairs only while the current status is
// one of the listed ones.
// ARGV: ttl seconds, n, n allowed statuses, then field/value pairs.
var transitionScript = redis.NewScript(`
local cur = redis.call("HGET", KEYS[1], "status")
local n = tonumber(ARGV[2])
local allowed = false
for i = 3, n + 2 do
    if ARGV[i] == cur then allowed = true end
end
if not allowed then return 0 end
for i = n + 3, #ARGV, 2 do
    redis.call("HSET", KEYS[1], ARGV[i], ARGV[i + 1])
end
redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
return 1
`)

func (st Status) fields() map[string]interface{} {
    m := map[string]interface{}{
        "status":   st.Status,
        "progress": strconv.Itoa(st.Progress),
        "message":  st.Message,
    }
    if st.Start != nil { m["start"] = st.Start.Format(time.RFC3339Nano) }
    if st.End != nil { m["end"] = st.End.Format(time.RFC3339Nano) }
    if st.Metadata != nil {
        b, _ := json.Marshal(st.Metadata)
        m["metadata"] = string(b)
    }
    return m
}

// Set writes the descriptive fields. Counters are left alone; see InitCounters
// and Incr.
func (s *RedisStatus) Set(ctx context.Context, jobID string, st Status) error {
    pipe := s.client.TxPipeline()
    pipe.HSet(ctx, s.key(jobID), st.fields())
    pipe.Expire(ctx, s.key(jobID), s.ttl)
    _, err := pipe.Exec(ctx)
    return err
}

// Transition writes st only if the job's current status is one of from, in a
// single script so a concurrent cancel is never overwritten. It reports
// whether the write happened.
func (s *RedisStatus) Transition(ctx context.Context, jobID string, st Status, from ...string) (bool, error) {
    args := []interface{}{int64(s.ttl / time.Second), len(from)}
    for _, f := range from { args = append(args, f) }
    for k, v := range st.fields() { args = append(args, k, v) }
    n, err := transitionScript.Run(ctx, s.client, []string{s.key(jobID)}, args...).Int()
    if err != nil { return false, err }
    return n == 1, nil
}

// InitCounters resets the range counters for a job.
func (s *RedisStatus) InitCounters(ctx context.Context, jobID string, total int) error {
    return s.client.HSet(ctx, s.key(jobID), FieldRangesTotal, total, FieldRangesDone, 0, FieldRangesFailed, 0).Err()
}

// Incr bumps a counter field and returns the job's counters after the change.
func (s *RedisStatus) Incr(ctx context.Context, jobID, field string) (total, done, failed int, err error) {
    key := s.key(jobID)
    pipe := s.client.TxPipeline()
    pipe.HIncrBy(ctx, key, field, 1)
    vals := pipe.HMGet(ctx, key, FieldRangesTotal, FieldRangesDone, FieldRangesFailed)
    if _, err = pipe.Exec(ctx); err != nil { return 0, 0, 0, err }
    v := vals.Val()
    return atoiAny(v[0]), atoiAny(v[1]), atoiAny(v[2]), nil
}

func (s *RedisStatus) Get(ctx context.Context, jobID string) (Status, bool, error) {
    res, err := s.client.HGetAll(ctx, s.key(jobID)).Result()
    if err != nil { return Status{}, false, err }
    if len(res) == 0 { return Status{}, false, nil }
    st := Status{}
    st.Status = res["status"]
    st.Message = res["message"]
    st.Progress, _ = strconv.Atoi(res["progress"])
    st.RangesTotal, _ = strconv.Atoi(res[FieldRangesTotal])
    st.RangesDone, _ = strconv.Atoi(res[FieldRangesDone])
    st.RangesFailed, _ = strconv.Atoi(res[FieldRangesFailed])
    if v := res["start"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.Start = &t }
    }
    if v := res["end"]; v != "" {
        if t, err := time.Parse(time.RFC3339Nano, v); err == nil { st.End = &t }
    }
    if v := res["metadata"]; v != "" {
        _ = json.Unmarshal([]byte(v), &st.Metadata)
    }
    return st, true, nil
}

func atoiAny(v interface{}) int {
    s, ok := v.(string)
    if !ok { return 0 }
    n, _ := strconv.Atoi(s)
    return n
}
