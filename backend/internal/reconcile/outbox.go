// Package reconcile repairs the graph mirror after failed best-effort writes.
// The matching engine queues the match id of every failed mirror write, and
// the Reconciler replays the ledger's current record into the graph index.
package reconcile

import (
	"context"
	"sync"
	"time"
)

// Entry is one queued mirror repair
type Entry struct {
	MatchID    string    `json:"match_id"`
	Operation  string    `json:"operation"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Outbox is a FIFO of pending mirror repairs
type Outbox interface {
	Enqueue(ctx context.Context, entry Entry) error
	// Dequeue removes and returns up to max entries, oldest first
	Dequeue(ctx context.Context, max int) ([]Entry, error)
	Len(ctx context.Context) (int64, error)
}

// MemoryOutbox is an in-process Outbox. Entries do not survive a restart.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries []Entry
}

// NewMemoryOutbox creates an empty in-process outbox
func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{}
}

// Enqueue implements Outbox
func (o *MemoryOutbox) Enqueue(_ context.Context, entry Entry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if entry.EnqueuedAt.IsZero() {
		entry.EnqueuedAt = time.Now().UTC()
	}
	o.entries = append(o.entries, entry)
	return nil
}

// Dequeue implements Outbox
func (o *MemoryOutbox) Dequeue(_ context.Context, max int) ([]Entry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if max <= 0 || len(o.entries) == 0 {
		return nil, nil
	}
	if max > len(o.entries) {
		max = len(o.entries)
	}
	out := make([]Entry, max)
	copy(out, o.entries[:max])
	o.entries = o.entries[max:]
	return out, nil
}

// Len implements Outbox
func (o *MemoryOutbox) Len(_ context.Context) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.entries)), nil
}
