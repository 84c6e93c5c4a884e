package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudproof/internal/source"
)

// SourceFactory builds the log source of a user for scheduled runs.
type SourceFactory func(user User) (source.Source, error)

// Summary counts the outcome of one pass over all users.
type Summary struct {
	Users     int
	Succeeded int
	Failed    int
	Admitted  int
}

// Driver runs the pipeline for every user, isolating failures per user.
type Driver struct {
	users      UserLister
	sources    SourceFactory
	sourceName string
	pipeline   *Pipeline
	recorder   Recorder
	logger     *slog.Logger
}

// RunAll processes every user once. A failing user is logged and the pass moves on;
// only a failure to list users is returned.
func (d *Driver) RunAll(ctx context.Context) (Summary, error) {
	var summary Summary

	users, err := d.users.ListUsers(ctx)
	if err != nil {
		return summary, fmt.Errorf("list users: %w", err)
	}
	if len(users) == 0 {
		d.logger.Info("No users found to process")
		return summary, nil
	}

	for _, user := range users {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Users++
		src, err := d.sources(user)
		if err != nil {
			summary.Failed++
			d.logger.Error("Unable to open log source", "error", err, "user_id", user.ID)
			continue
		}

		report, err := d.Run(ctx, user, src, d.sourceName)
		if err != nil {
			summary.Failed++
			continue
		}
		summary.Succeeded++
		summary.Admitted += report.Admitted
	}

	d.logger.Info("Ingestion pass completed",
		"users", summary.Users,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"admitted", summary.Admitted,
	)
	return summary, nil
}

// Run processes one user from src and records the report. A panic inside the
// pipeline is converted to an error so other users are unaffected.
func (d *Driver) Run(ctx context.Context, user User, src source.Source, sourceName string) (report Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("ingestion panic: %v", r)
			report.UserID = user.ID
			report.Error = err.Error()
			d.logger.Error("Ingestion run panicked", "user_id", user.ID, "panic", r)
		}
		if d.recorder != nil {
			d.recorder.Append(user.ID, report)
		}
	}()

	return d.pipeline.Run(ctx, user, src, sourceName)
}

// Serve runs a pass immediately and then every interval until ctx ends.
func (d *Driver) Serve(ctx context.Context, interval time.Duration) error {
	d.logger.Info("Ingestion scheduler started", "interval", interval)
	d.pass(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("Ingestion scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			d.pass(ctx)
		}
	}
}

func (d *Driver) pass(ctx context.Context) {
	d.logger.Info("Starting ingestion pass")
	if _, err := d.RunAll(ctx); err != nil {
		d.logger.Error("Ingestion pass failed", "error", err)
	}
}

// NewDriver creates a driver. The recorder may be nil.
func NewDriver(users UserLister, sources SourceFactory, sourceName string, pipeline *Pipeline, recorder Recorder, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		users:      users,
		sources:    sources,
		sourceName: sourceName,
		pipeline:   pipeline,
		recorder:   recorder,
		logger:     logger,
	}
}
