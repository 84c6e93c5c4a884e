package storage

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"cloudproof/internal/ingest"
)

type userDate struct {
	userID int64
	date   time.Time
}

type storedActivity struct {
	id int64
	ingest.Activity
}

var _ Repository = (*MemoryRepository)(nil)

// MemoryRepository keeps everything in process memory. It backs local sample runs
// when no database is configured. All operations are thread-safe.
type MemoryRepository struct {
	mu          sync.RWMutex
	users       []ingest.User
	activities  []storedActivity
	daily       map[userDate]int
	checkpoints map[int64]time.Time
	now         func() time.Time
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}

func (r *MemoryRepository) InsertActivity(_ context.Context, activity ingest.Activity) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.activities = append(r.activities, storedActivity{id: int64(len(r.activities) + 1), Activity: activity})
	return nil
}

func (r *MemoryRepository) ReadDailyScore(_ context.Context, userID int64, date time.Time) (int, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total, found := r.daily[userDate{userID: userID, date: dateOnly(date)}]
	return total, found, nil
}

func (r *MemoryRepository) UpsertDailyScore(_ context.Context, userID int64, date time.Time, total int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.daily[userDate{userID: userID, date: dateOnly(date)}] = total
	return nil
}

func (r *MemoryRepository) ReadCheckpoint(_ context.Context, userID int64) (time.Time, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	timestamp, found := r.checkpoints[userID]
	return timestamp, found, nil
}

func (r *MemoryRepository) WriteCheckpoint(_ context.Context, userID int64, timestamp time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.checkpoints[userID] = timestamp
	return nil
}

func (r *MemoryRepository) ListUsers(context.Context) ([]ingest.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Clone(r.users), nil
}

func (r *MemoryRepository) CreateUser(_ context.Context, user NewUser) (ingest.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == user.Email {
			return ingest.User{}, ErrEmailTaken
		}
	}

	created := ingest.User{
		ID:        int64(len(r.users) + 1),
		Name:      user.Name,
		Email:     user.Email,
		RoleARN:   user.RoleARN,
		CreatedAt: r.now(),
	}
	r.users = append(r.users, created)
	return created, nil
}

func (r *MemoryRepository) GetUser(_ context.Context, id int64) (ingest.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, user := range r.users {
		if user.ID == id {
			return user, nil
		}
	}
	return ingest.User{}, ErrUserNotFound
}

func (r *MemoryRepository) DailyScores(_ context.Context, userID int64, since time.Time) ([]DailyScore, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	scores := make([]DailyScore, 0)
	for key, total := range r.daily {
		if key.userID == userID && !key.date.Before(since) {
			scores = append(scores, DailyScore{Date: key.date, Total: total})
		}
	}
	slices.SortFunc(scores, func(a, b DailyScore) int { return a.Date.Compare(b.Date) })
	return scores, nil
}

func (r *MemoryRepository) ServiceTotals(_ context.Context, userID int64, since time.Time) ([]ServiceTotal, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sums := make(map[string]int)
	for _, stored := range r.activities {
		if stored.UserID == userID && !stored.Date.Before(since) {
			sums[stored.Service] += stored.Score
		}
	}

	totals := make([]ServiceTotal, 0, len(sums))
	for service, total := range sums {
		totals = append(totals, ServiceTotal{Service: service, Total: total})
	}
	slices.SortFunc(totals, func(a, b ServiceTotal) int {
		if c := cmp.Compare(b.Total, a.Total); c != 0 {
			return c
		}
		return cmp.Compare(a.Service, b.Service)
	})
	return totals, nil
}

func (r *MemoryRepository) RecentActivities(_ context.Context, userID int64, limit int) ([]ingest.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]storedActivity, 0)
	for _, stored := range r.activities {
		if stored.UserID == userID {
			matched = append(matched, stored)
		}
	}
	slices.SortFunc(matched, func(a, b storedActivity) int {
		if c := b.Date.Compare(a.Date); c != 0 {
			return c
		}
		return cmp.Compare(b.id, a.id)
	})

	activities := make([]ingest.Activity, 0, min(limit, len(matched)))
	for _, stored := range matched[:min(limit, len(matched))] {
		activities = append(activities, stored.Activity)
	}
	return activities, nil
}

// NewMemoryRepository creates an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		daily:       make(map[userDate]int),
		checkpoints: make(map[int64]time.Time),
		now:         time.Now,
	}
}
