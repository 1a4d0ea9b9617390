package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"pdv/backend/internal/domain"
)

// ReportCache memoizes report summaries. Invalidate drops every cached
// summary at once; it is called after each committed sale or cancellation.
//
// Get pins the generation it read into Lookup.Slot. A summary computed after
// a miss is stored with Set under that slot, so a fill that races with
// Invalidate lands in a dead generation and is never served.
type ReportCache interface {
	Get(ctx context.Context, q domain.ReportQuery) (Lookup, error)
	Set(ctx context.Context, slot string, value *domain.Summary, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type Lookup struct {
	Summary *domain.Summary
	Hit     bool
	// Slot is empty when the cache cannot take a fill.
	Slot string
}

type NoopReportCache struct{}

func (NoopReportCache) Get(context.Context, domain.ReportQuery) (Lookup, error) {
	return Lookup{}, nil
}

func (NoopReportCache) Set(context.Context, string, *domain.Summary, time.Duration) error {
	return nil
}

func (NoopReportCache) Invalidate(context.Context) error {
	return nil
}

// QueryKey is a stable digest of every field that changes a summary.
func QueryKey(q domain.ReportQuery) string {
	parts := []string{
		q.From.UTC().Format(time.RFC3339Nano),
		q.To.UTC().Format(time.RFC3339Nano),
		q.SellerID,
		fmt.Sprint(q.ProductID),
		optional(q.MinTotal),
		optional(q.MaxTotal),
		fmt.Sprint(q.TopN),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:12])
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

// MemoryReportCache is a process-local cache with the same generation
// semantics as the redis one.
type MemoryReportCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[string]memoryEntry
	now        func() time.Time
}

type memoryEntry struct {
	value   domain.Summary
	expires time.Time
}

func NewMemoryReportCache() *MemoryReportCache {
	return &MemoryReportCache{entries: map[string]memoryEntry{}, now: time.Now}
}

func (c *MemoryReportCache) slot(q domain.ReportQuery) string {
	return fmt.Sprintf("%d:%s", c.generation, QueryKey(q))
}

func (c *MemoryReportCache) Get(_ context.Context, q domain.ReportQuery) (Lookup, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.slot(q)
	entry, ok := c.entries[slot]
	if !ok || c.now().After(entry.expires) {
		return Lookup{Slot: slot}, nil
	}
	value := entry.value
	return Lookup{Summary: &value, Hit: true, Slot: slot}, nil
}

func (c *MemoryReportCache) Set(_ context.Context, slot string, value *domain.Summary, ttl time.Duration) error {
	if value == nil || slot == "" {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !strings.HasPrefix(slot, fmt.Sprintf("%d:", c.generation)) {
		return nil
	}
	c.entries[slot] = memoryEntry{value: *value, expires: c.now().Add(ttl)}
	return nil
}

func (c *MemoryReportCache) Invalidate(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	c.entries = map[string]memoryEntry{}
	return nil
}
