package ingest

import (
	"context"
	"time"
)

// Activity is one admitted event. Persisted activities are never updated or deleted.
type Activity struct {
	UserID    int64     `json:"user_id"`
	Date      time.Time `json:"date"`
	Service   string    `json:"service"`
	Action    string    `json:"action"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// User is an account whose audit logs are ingested.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	RoleARN   string    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// ActivityWriter appends activity log entries.
type ActivityWriter interface {
	InsertActivity(ctx context.Context, activity Activity) error
}

// DailyScoreStore reads and writes the per-(user, date) running totals.
type DailyScoreStore interface {
	// ReadDailyScore returns the stored total and whether a record exists.
	ReadDailyScore(ctx context.Context, userID int64, date time.Time) (int, bool, error)
	// UpsertDailyScore creates the record or replaces its total.
	UpsertDailyScore(ctx context.Context, userID int64, date time.Time, total int) error
}

// CheckpointStore persists the processed-through timestamp of each user.
type CheckpointStore interface {
	ReadCheckpoint(ctx context.Context, userID int64) (time.Time, bool, error)
	WriteCheckpoint(ctx context.Context, userID int64, timestamp time.Time) error
}

// Store is the whole persistence boundary of the pipeline.
type Store interface {
	ActivityWriter
	DailyScoreStore
	CheckpointStore
}

// UserLister enumerates the users processed by a scheduled pass.
type UserLister interface {
	ListUsers(ctx context.Context) ([]User, error)
}

// ActivitySink receives activities after they have been persisted.
type ActivitySink interface {
	Publish(ctx context.Context, activities []Activity) error
}

// Recorder keeps the reports of finished runs.
type Recorder interface {
	Append(userID int64, report Report)
}
