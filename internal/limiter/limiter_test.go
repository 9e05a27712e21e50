package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquireRelease(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	release, ok, err := l.Acquire(ctx, "doc:d1")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.Acquire(ctx, "doc:d1")
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	release2, ok, err := l.Acquire(ctx, "doc:d1")
	require.NoError(t, err)
	assert.True(t, ok)
	release2()
}

func TestLockNamesAreCaseSensitive(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Minute)
	ctx := context.Background()

	upper, ok, err := l.Acquire(ctx, "doc:D1")
	require.NoError(t, err)
	require.True(t, ok)
	defer upper()

	// distinct document IDs must not block each other
	lower, ok, err := l.Acquire(ctx, "doc:d1")
	require.NoError(t, err)
	assert.True(t, ok)
	lower()
	assert.True(t, mr.Exists("lock:doc:D1"))
}

func TestExpiredLockIsNotStolenBack(t *testing.T) {
	mr := miniredis.RunT(t)
	l := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), time.Second)
	ctx := context.Background()

	staleRelease, ok, err := l.Acquire(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)
	_, ok, err = l.Acquire(ctx, "d")
	require.NoError(t, err)
	require.True(t, ok)

	// the first holder's release must not free the new holder's lock
	staleRelease()
	_, ok, err = l.Acquire(ctx, "d")
	require.NoError(t, err)
	assert.False(t, ok)
}
