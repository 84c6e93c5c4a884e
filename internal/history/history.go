// Package history keeps the latest ingestion run reports per user in memory.
package history

import (
	"context"
	"sync"
	"time"

	"cloudproof/internal/ingest"
	"cloudproof/internal/utils"
)

// Repository is a thread-safe store of run reports. Each user has a ring buffer of
// fixed length; users without a new report for longer than ttl are evicted by Serve.
//
//	repo := history.NewRepository(20, 24*time.Hour)
//	go repo.Serve(ctx, time.Minute)
//	repo.Append(42, report)
type Repository struct {
	length int
	ttl    time.Duration

	mu      sync.RWMutex
	reports map[int64]*utils.RingBuffer[ingest.Report]
	updated map[int64]time.Time

	now func() time.Time
}

// Append stores report for the user, evicting the oldest report when the buffer is full.
func (r *Repository) Append(userID int64, report ingest.Report) {
	r.mu.Lock()
	defer r.mu.Unlock()

	buffer, found := r.reports[userID]
	if !found {
		buffer = utils.NewRingBuffer[ingest.Report](r.length)
		r.reports[userID] = buffer
	}
	buffer.Push(report)
	r.updated[userID] = r.now()
}

// Get returns up to limit reports of the user, newest first.
func (r *Repository) Get(userID int64, limit int) ([]ingest.Report, bool) {
	r.mu.RLock()
	buffer, found := r.reports[userID]
	r.mu.RUnlock()

	if !found {
		return nil, false
	}
	return buffer.Newest(limit), true
}

// Len returns the maximum number of reports kept per user.
func (r *Repository) Len() int {
	return r.length
}

// Evict drops users idle for longer than ttl and returns how many were removed.
// A non-positive ttl disables eviction.
func (r *Repository) Evict() int {
	if r.ttl <= 0 {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	evicted := 0
	for userID, ts := range r.updated {
		if now.Sub(ts) > r.ttl {
			delete(r.reports, userID)
			delete(r.updated, userID)
			evicted++
		}
	}
	return evicted
}

// Serve calls Evict every interval until ctx ends. It blocks.
func (r *Repository) Serve(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Evict()
		}
	}
}

// NewRepository creates a repository keeping length reports per user.
func NewRepository(length int, ttl time.Duration) *Repository {
	return &Repository{
		length:  length,
		ttl:     ttl,
		reports: make(map[int64]*utils.RingBuffer[ingest.Report]),
		updated: make(map[int64]time.Time),
		now:     time.Now,
	}
}
