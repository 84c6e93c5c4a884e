package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cloudproof/internal/ingest"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT UNIQUE NOT NULL,
		role_arn TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		date DATE NOT NULL,
		service TEXT NOT NULL,
		action TEXT NOT NULL,
		score INTEGER NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS daily_scores (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
		date DATE NOT NULL,
		total_score INTEGER NOT NULL,
		UNIQUE (user_id, date)
	)`,
	`CREATE TABLE IF NOT EXISTS processing_state (
		id BIGSERIAL PRIMARY KEY,
		user_id BIGINT NOT NULL UNIQUE REFERENCES users(id) ON DELETE CASCADE,
		last_processed_timestamp TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_user_date ON activity_logs (user_id, date)`,
	`CREATE INDEX IF NOT EXISTS idx_daily_scores_user_date ON daily_scores (user_id, date)`,
}

// Config describes the Postgres connection.
type Config struct {
	DSN             string
	ConnectAttempts int
	ConnectBackoff  time.Duration
	MaxOpenConns    int
}

// Open connects to Postgres, retrying the initial ping with a linear backoff.
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	if err := connect(ctx, db, cfg.ConnectAttempts, cfg.ConnectBackoff, logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func connect(ctx context.Context, db *sql.DB, attempts int, backoff time.Duration, logger *slog.Logger) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return nil
		}
		logger.Warn("Failed to connect to database", "attempt", i+1, "attempts", attempts, "error", err)
		if i == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(i+1) * backoff):
		}
	}

	return fmt.Errorf("connect to database after %d attempts: %w", attempts, err)
}

var _ Repository = (*PostgresRepository)(nil)

// PostgresRepository is the Postgres backend.
type PostgresRepository struct {
	db *sql.DB
}

// EnsureSchema creates missing tables and indexes.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, statement := range schema {
		if _, err := r.db.ExecContext(ctx, statement); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresRepository) InsertActivity(ctx context.Context, activity ingest.Activity) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activity_logs (user_id, date, service, action, score, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		activity.UserID, activity.Date, activity.Service, activity.Action, activity.Score, activity.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert activity: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReadDailyScore(ctx context.Context, userID int64, date time.Time) (int, bool, error) {
	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT total_score FROM daily_scores WHERE user_id = $1 AND date = $2`,
		userID, date,
	).Scan(&total)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, false, nil
	case err != nil:
		return 0, false, fmt.Errorf("read daily score: %w", err)
	}
	return total, true, nil
}

func (r *PostgresRepository) UpsertDailyScore(ctx context.Context, userID int64, date time.Time, total int) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO daily_scores (user_id, date, total_score) VALUES ($1, $2, $3)
		ON CONFLICT (user_id, date) DO UPDATE SET total_score = EXCLUDED.total_score`,
		userID, date, total,
	)
	if err != nil {
		return fmt.Errorf("upsert daily score: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ReadCheckpoint(ctx context.Context, userID int64) (time.Time, bool, error) {
	var timestamp time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT last_processed_timestamp FROM processing_state WHERE user_id = $1`,
		userID,
	).Scan(&timestamp)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return time.Time{}, false, nil
	case err != nil:
		return time.Time{}, false, fmt.Errorf("read checkpoint: %w", err)
	}
	return timestamp.UTC(), true, nil
}

func (r *PostgresRepository) WriteCheckpoint(ctx context.Context, userID int64, timestamp time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO processing_state (user_id, last_processed_timestamp) VALUES ($1, $2)
		ON CONFLICT (user_id) DO UPDATE SET last_processed_timestamp = EXCLUDED.last_processed_timestamp`,
		userID, timestamp,
	)
	if err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListUsers(ctx context.Context) ([]ingest.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, name, email, role_arn, created_at FROM users ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]ingest.User, 0)
	for rows.Next() {
		var user ingest.User
		if err := rows.Scan(&user.ID, &user.Name, &user.Email, &user.RoleARN, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// CreateUser registers a user. A duplicate email yields ErrEmailTaken.
func (r *PostgresRepository) CreateUser(ctx context.Context, user NewUser) (ingest.User, error) {
	created := ingest.User{Name: user.Name, Email: user.Email, RoleARN: user.RoleARN}
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO users (name, email, role_arn) VALUES ($1, $2, $3) RETURNING id, created_at`,
		user.Name, user.Email, user.RoleARN,
	).Scan(&created.ID, &created.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return ingest.User{}, ErrEmailTaken
		}
		return ingest.User{}, fmt.Errorf("create user: %w", err)
	}
	return created, nil
}

// GetUser returns the user or ErrUserNotFound.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (ingest.User, error) {
	var user ingest.User
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, email, role_arn, created_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Name, &user.Email, &user.RoleARN, &user.CreatedAt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return ingest.User{}, ErrUserNotFound
	case err != nil:
		return ingest.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

// DailyScores returns the totals of the user from since onwards, oldest first.
func (r *PostgresRepository) DailyScores(ctx context.Context, userID int64, since time.Time) ([]DailyScore, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT date, total_score FROM daily_scores WHERE user_id = $1 AND date >= $2 ORDER BY date`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("daily scores: %w", err)
	}
	defer rows.Close()

	scores := make([]DailyScore, 0)
	for rows.Next() {
		var score DailyScore
		if err := rows.Scan(&score.Date, &score.Total); err != nil {
			return nil, fmt.Errorf("scan daily score: %w", err)
		}
		score.Date = dateOnly(score.Date)
		scores = append(scores, score)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("daily scores: %w", err)
	}
	return scores, nil
}

// ServiceTotals sums activity log scores per service from since onwards, highest first.
func (r *PostgresRepository) ServiceTotals(ctx context.Context, userID int64, since time.Time) ([]ServiceTotal, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT service, SUM(score) AS total FROM activity_logs
		WHERE user_id = $1 AND date >= $2 GROUP BY service ORDER BY total DESC, service`,
		userID, since,
	)
	if err != nil {
		return nil, fmt.Errorf("service totals: %w", err)
	}
	defer rows.Close()

	totals := make([]ServiceTotal, 0)
	for rows.Next() {
		var total ServiceTotal
		if err := rows.Scan(&total.Service, &total.Total); err != nil {
			return nil, fmt.Errorf("scan service total: %w", err)
		}
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("service totals: %w", err)
	}
	return totals, nil
}

// RecentActivities returns the latest activity log entries of the user.
func (r *PostgresRepository) RecentActivities(ctx context.Context, userID int64, limit int) ([]ingest.Activity, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT date, service, action, score, created_at FROM activity_logs
		WHERE user_id = $1 ORDER BY date DESC, id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent activities: %w", err)
	}
	defer rows.Close()

	activities := make([]ingest.Activity, 0, limit)
	for rows.Next() {
		activity := ingest.Activity{UserID: userID}
		if err := rows.Scan(&activity.Date, &activity.Service, &activity.Action, &activity.Score, &activity.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activity.Date = dateOnly(activity.Date)
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recent activities: %w", err)
	}
	return activities, nil
}

// NewPostgresRepository wraps an open database.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}
