// Package journal appends persisted activities to a rotating JSONL file.
package journal

import (
	"context"
	"log/slog"
	"time"

	"cloudproof/internal/ingest"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Journal is an ingest.ActivitySink writing one line per activity to a file rotated
// and compressed by lumberjack. It is safe for concurrent use.
type Journal struct {
	file   *lumberjack.Logger
	logger *slog.Logger
}

// Publish appends the activities to the journal.
func (j *Journal) Publish(ctx context.Context, activities []ingest.Activity) error {
	for _, activity := range activities {
		j.logger.InfoContext(ctx, "",
			"user_id", activity.UserID,
			"date", activity.Date.Format(time.DateOnly),
			"service", activity.Service,
			"action", activity.Action,
			"score", activity.Score,
			"created_at", activity.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return nil
}

// Close flushes and closes the current file.
func (j *Journal) Close() error {
	return j.file.Close()
}

// New creates a journal writing to file. maxSize is in megabytes; maxBackups and
// maxAge (days) bound the retained rotated files.
func New(file string, maxSize, maxBackups, maxAge int) *Journal {
	rotating := &lumberjack.Logger{
		Filename:   file,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   true,
	}

	return &Journal{
		file:   rotating,
		logger: slog.New(newLineHandler(rotating)),
	}
}
