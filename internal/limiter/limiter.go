package limiter

import (
    "context"
    "time"

    "github.com/google/uuid"
    redis "github.com/redis/go-redis/v9"
)

// releaseScript deletes the lock only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker hands out short-lived exclusive locks in Redis. Used to serialize
// range submissions per document across API replicas.
type Locker struct {
    rdb *redis.Client
    ttl time.Duration
}

func NewWithClient(c *redis.Client, ttl time.Duration) *Locker {
    if ttl <= 0 { ttl = 30 * time.Second }
    return &Locker{rdb: c, ttl: ttl}
}

// key keeps the name as given; document IDs are case-sensitive.
func (l *Locker) key(name string) string { return "lock:" + name }

// Acquire tries once to take the lock for name. When it is held elsewhere it
// returns ok=false and a no-op release.
func (l *Locker) Acquire(ctx context.Context, name string) (release func(), ok bool, err error) {
    k := l.key(name)
    token := uuid.NewString()
    ok, err = l.rdb.SetNX(ctx, k, token, l.ttl).Result()
    if err != nil { return func() {}, false, err }
    if !ok { return func() {}, false, nil }
    return func() {
        ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
        defer cancel()
        _ = releaseScript.Run(ctx, l.rdb, []string{k}, token).Err()
    }, true, nil
}
