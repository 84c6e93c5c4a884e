// Package storage persists users, activity logs, daily scores and checkpoints.
package storage

import (
	"context"
	"errors"
	"time"

	"cloudproof/internal/ingest"
)

var (
	// ErrUserNotFound is returned when the requested user does not exist.
	ErrUserNotFound = errors.New("user not found")
	// ErrEmailTaken is returned when a user with the same email already exists.
	ErrEmailTaken = errors.New("user with this email already exists")
)

// RecentActivitiesLimit is the number of entries shown in an activity profile.
const RecentActivitiesLimit = 20

// DailyScore is the capped total of one date.
type DailyScore struct {
	Date  time.Time
	Total int
}

// ServiceTotal is the summed score of one service over a period.
type ServiceTotal struct {
	Service string
	Total   int
}

// NewUser holds the fields required to register a user.
type NewUser struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	RoleARN string `json:"role_arn"`
}

// Repository is implemented by every backend.
type Repository interface {
	ingest.Store
	ingest.UserLister

	CreateUser(ctx context.Context, user NewUser) (ingest.User, error)
	GetUser(ctx context.Context, id int64) (ingest.User, error)
	DailyScores(ctx context.Context, userID int64, since time.Time) ([]DailyScore, error)
	ServiceTotals(ctx context.Context, userID int64, since time.Time) ([]ServiceTotal, error)
	RecentActivities(ctx context.Context, userID int64, limit int) ([]ingest.Activity, error)
	Ping(ctx context.Context) error
}

// dateOnly keeps the calendar date of t as read from a DATE column.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
