package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/local/rangeplanner/internal/planner"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

const maxTxRetries = 10

// Document is the persisted metadata the planner reads: page count plus the
// ranges already processed and those reserved by in-flight jobs. Processed
// ranges are kept exactly as recorded, never merged.
type Document struct {
	ID         string              `json:"id"`
	FileRef    string              `json:"file_ref"`
	Filename   string              `json:"filename,omitempty"`
	TotalPages int                 `json:"total_pages"`
	Processed  []planner.PageRange `json:"processed_ranges"`
	Pending    []planner.PageRange `json:"pending_ranges"`
	CreatedAt  time.Time           `json:"created_at"`
	UpdatedAt  time.Time           `json:"updated_at"`
}

// Claimed returns processed and pending ranges together; both count as taken
// when validating a new proposal.
func (d Document) Claimed() []planner.PageRange {
	out := make([]planner.PageRange, 0, len(d.Processed)+len(d.Pending))
	out = append(out, d.Processed...)
	return append(out, d.Pending...)
}

type DocumentStore struct {
	client *redis.Client
}

// NewDocumentStoreWithClient shares an existing client.
func NewDocumentStoreWithClient(c *redis.Client) *DocumentStore { return &DocumentStore{client: c} }

func (s *DocumentStore) key(id string) string { return fmt.Sprintf("doc:%s", id) }

func (s *DocumentStore) fields(d Document) map[string]interface{} {
	return map[string]interface{}{
		"file_ref":         d.FileRef,
		"filename":         d.Filename,
		"total_pages":      d.TotalPages,
		"processed_ranges": planner.EncodeRanges(d.Processed),
		"pending_ranges":   planner.EncodeRanges(d.Pending),
		"created_at":       d.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       d.UpdatedAt.Format(time.RFC3339Nano),
	}
}

// Create stores a new document record.
func (s *DocumentStore) Create(ctx context.Context, d Document) error {
	now := time.Now()
	if d.CreatedAt.IsZero() { d.CreatedAt = now }
	d.UpdatedAt = now
	return s.client.HSet(ctx, s.key(d.ID), s.fields(d)).Err()
}

// Get loads a document; ErrNotFound when missing.
func (s *DocumentStore) Get(ctx context.Context, id string) (Document, error) {
	return s.get(ctx, s.client, id)
}

type hgetaller interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

func (s *DocumentStore) get(ctx context.Context, c hgetaller, id string) (Document, error) {
	res, err := c.HGetAll(ctx, s.key(id)).Result()
	if err != nil { return Document{}, fmt.Errorf("load document %s: %w", id, err) }
	if len(res) == 0 { return Document{}, fmt.Errorf("document %s: %w", id, ErrNotFound) }

	d := Document{ID: id, FileRef: res["file_ref"], Filename: res["filename"]}
	if v := res["total_pages"]; v != "" {
		if n, err := strconv.Atoi(v); err == nil { d.TotalPages = n }
	}
	if d.Processed, err = planner.ParseRanges(res["processed_ranges"]); err != nil {
		return Document{}, fmt.Errorf("document %s processed ranges: %w", id, err)
	}
	if d.Pending, err = planner.ParseRanges(res["pending_ranges"]); err != nil {
		return Document{}, fmt.Errorf("document %s pending ranges: %w", id, err)
	}
	if t, err := time.Parse(time.RFC3339Nano, res["created_at"]); err == nil { d.CreatedAt = t }
	if t, err := time.Parse(time.RFC3339Nano, res["updated_at"]); err == nil { d.UpdatedAt = t }
	return d, nil
}

// RawProcessed returns the stored processed_ranges field untouched, for
// fail-soft display of whatever was recorded.
func (s *DocumentStore) RawProcessed(ctx context.Context, id string) (string, error) {
	v, err := s.client.HGet(ctx, s.key(id), "processed_ranges").Result()
	if err == redis.Nil { return "", fmt.Errorf("document %s: %w", id, ErrNotFound) }
	return v, err
}

// update runs fn against the current document inside a WATCH transaction and
// writes the result back, retrying when another writer got there first.
func (s *DocumentStore) update(ctx context.Context, id string, fn func(d *Document) error) (Document, error) {
	key := s.key(id)
	var out Document
	txf := func(tx *redis.Tx) error {
		d, err := s.get(ctx, tx, id)
		if err != nil { return err }
		if err := fn(&d); err != nil { return err }
		d.UpdatedAt = time.Now()
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.HSet(ctx, key, s.fields(d))
			return nil
		})
		if err == nil { out = d }
		return err
	}
	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil { return out, nil }
		if errors.Is(err, redis.TxFailedErr) { continue }
		return Document{}, err
	}
	return Document{}, fmt.Errorf("update document %s: %w", id, redis.TxFailedErr)
}

// SetTotalPages records the page count once it is known.
func (s *DocumentStore) SetTotalPages(ctx context.Context, id string, n int) (Document, error) {
	return s.update(ctx, id, func(d *Document) error {
		d.TotalPages = n
		return nil
	})
}

// Reserve marks ranges as pending. Callers validate before reserving.
func (s *DocumentStore) Reserve(ctx context.Context, id string, ranges []planner.PageRange) (Document, error) {
	return s.update(ctx, id, func(d *Document) error {
		d.Pending = append(d.Pending, ranges...)
		return nil
	})
}

// Complete moves r from pending to processed. Completing a range that is
// already recorded and not pending is a no-op, so redelivered work is safe.
func (s *DocumentStore) Complete(ctx context.Context, id string, r planner.PageRange) (Document, error) {
	return s.update(ctx, id, func(d *Document) error {
		var removed bool
		d.Pending, removed = removeOne(d.Pending, r)
		if !removed && contains(d.Processed, r) {
			return nil
		}
		d.Processed = append(d.Processed, r)
		return nil
	})
}

// Release drops r from pending without recording it as processed.
func (s *DocumentStore) Release(ctx context.Context, id string, r planner.PageRange) (Document, error) {
	return s.update(ctx, id, func(d *Document) error {
		d.Pending, _ = removeOne(d.Pending, r)
		return nil
	})
}

func removeOne(ranges []planner.PageRange, r planner.PageRange) ([]planner.PageRange, bool) {
	for i, x := range ranges {
		if x == r {
			out := make([]planner.PageRange, 0, len(ranges)-1)
			out = append(out, ranges[:i]...)
			return append(out, ranges[i+1:]...), true
		}
	}
	return ranges, false
}

func contains(ranges []planner.PageRange, r planner.PageRange) bool {
	for _, x := range ranges {
		if x == r { return true }
	}
	return false
}
