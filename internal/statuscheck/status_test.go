package statuscheck

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }

type bucketFunc func(ctx context.Context) error

func (f bucketFunc) CheckBucket(ctx context.Context) error { return f(ctx) }

func TestSummaryAllUp(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMethodNotAllowed)
	}))
	defer srv.Close()

	chk := New(Options{
		Redis:        redisPinger{c},
		S3:           bucketFunc(func(context.Context) error { return nil }),
		ProcessorURL: srv.URL,
	})
	sum := chk.Summary(context.Background())
	assert.True(t, sum.Redis.OK)
	assert.True(t, sum.S3.OK)
	assert.True(t, sum.Processor.OK)
	assert.True(t, sum.Healthy())
}

func TestSummaryFailures(t *testing.T) {
	mr := miniredis.RunT(t)
	c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer c.Close()
	mr.Close()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	chk := New(Options{
		Redis:        redisPinger{c},
		S3:           bucketFunc(func(context.Context) error { return errors.New(strings.Repeat("x", 300)) }),
		ProcessorURL: srv.URL,
	})
	sum := chk.Summary(context.Background())
	assert.False(t, sum.Redis.OK)
	assert.False(t, sum.Healthy())
	assert.False(t, sum.S3.OK)
	assert.Len(t, sum.S3.Message, 120)
	assert.Equal(t, Status{OK: false, Message: "HTTP 502"}, sum.Processor)
}

func TestSummaryUnconfigured(t *testing.T) {
	sum := New(Options{}).Summary(context.Background())
	assert.Equal(t, "client unavailable", sum.Redis.Message)
	assert.Equal(t, "Bucket not configured", sum.S3.Message)
	assert.Equal(t, "URL not configured", sum.Processor.Message)
}
