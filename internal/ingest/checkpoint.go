package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Checkpoints wraps a CheckpointStore with the failure policy of a run:
// reads degrade to "no checkpoint", writes fail the run.
type Checkpoints struct {
	store  CheckpointStore
	logger *slog.Logger
}

// Get returns the checkpoint of the user. A read error is logged and treated as absent,
// which makes the next run re-scan the default window.
func (c *Checkpoints) Get(ctx context.Context, userID int64) (time.Time, bool) {
	timestamp, found, err := c.store.ReadCheckpoint(ctx, userID)
	if err != nil {
		c.logger.Warn("Unable to read checkpoint", "error", err, "user_id", userID)
		return time.Time{}, false
	}
	return timestamp, found
}

// Set overwrites the checkpoint of the user.
func (c *Checkpoints) Set(ctx context.Context, userID int64, timestamp time.Time) error {
	if err := c.store.WriteCheckpoint(ctx, userID, timestamp); err != nil {
		return fmt.Errorf("write checkpoint for user %d: %w", userID, err)
	}
	return nil
}

// NewCheckpoints creates the checkpoint accessor.
func NewCheckpoints(store CheckpointStore, logger *slog.Logger) *Checkpoints {
	if logger == nil {
		logger = slog.Default()
	}
	return &Checkpoints{store: store, logger: logger}
}
