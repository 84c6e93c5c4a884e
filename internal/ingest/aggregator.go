package ingest

import (
	"context"
	"log/slog"
	"time"
)

// MergeReport counts the writes of one Merge call.
type MergeReport struct {
	Inserted     int `json:"inserted"`
	InsertFailed int `json:"insert_failed"`
	Created      int `json:"created"`
	Updated      int `json:"updated"`
	MergeFailed  int `json:"merge_failed"`
}

type userDay struct {
	userID int64
	date   time.Time
}

// Aggregator persists admitted activities and folds them into the daily totals.
type Aggregator struct {
	activities ActivityWriter
	scores     DailyScoreStore
	sinks      []ActivitySink
	dailyCap   int
	logger     *slog.Logger
	now        func() time.Time
}

// Merge stores every activity as a log entry, then applies one read-modify-write per
// (user, date): total = min(existing + delta, cap). Only activities that were inserted
// contribute to the delta. Single-entry failures are logged and skipped; the returned
// error is non-nil only when ctx ends before the merge finishes.
//
// Concurrent merges for the same user and date may lose updates; one run per user at
// a time is assumed.
func (a *Aggregator) Merge(ctx context.Context, activities []Activity) (MergeReport, error) {
	var report MergeReport
	if len(activities) == 0 {
		return report, nil
	}

	createdAt := a.now()
	inserted := make([]Activity, 0, len(activities))
	for _, activity := range activities {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		activity.CreatedAt = createdAt
		if err := a.activities.InsertActivity(ctx, activity); err != nil {
			report.InsertFailed++
			a.logger.Error("Unable to store activity",
				"error", err,
				"user_id", activity.UserID,
				"date", activity.Date.Format(time.DateOnly),
				"service", activity.Service,
				"action", activity.Action,
			)
			continue
		}
		report.Inserted++
		inserted = append(inserted, activity)
	}

	keys, deltas := group(inserted)
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		created, err := a.mergeDay(ctx, key, deltas[key])
		switch {
		case err != nil:
			report.MergeFailed++
			a.logger.Error("Unable to merge daily score",
				"error", err,
				"user_id", key.userID,
				"date", key.date.Format(time.DateOnly),
				"delta", deltas[key],
			)
		case created:
			report.Created++
		default:
			report.Updated++
		}
	}

	a.publish(ctx, inserted)

	return report, nil
}

// mergeDay applies delta to one daily record and reports whether it was created.
func (a *Aggregator) mergeDay(ctx context.Context, key userDay, delta int) (bool, error) {
	existing, found, err := a.scores.ReadDailyScore(ctx, key.userID, key.date)
	if err != nil {
		return false, err
	}

	total := MergeTotal(existing, delta, a.dailyCap)
	if err := a.scores.UpsertDailyScore(ctx, key.userID, key.date, total); err != nil {
		return false, err
	}

	return !found, nil
}

func (a *Aggregator) publish(ctx context.Context, activities []Activity) {
	if len(activities) == 0 {
		return
	}
	for _, sink := range a.sinks {
		if err := sink.Publish(ctx, activities); err != nil {
			a.logger.Warn("Unable to publish activities", "error", err, "count", len(activities))
		}
	}
}

// MergeTotal returns min(existing + delta, limit).
func MergeTotal(existing, delta, limit int) int {
	return min(existing+delta, limit)
}

// group sums scores per (user, date), keeping first-seen key order.
func group(activities []Activity) ([]userDay, map[userDay]int) {
	keys := make([]userDay, 0)
	deltas := make(map[userDay]int)
	for _, activity := range activities {
		key := userDay{userID: activity.UserID, date: activity.Date}
		if _, seen := deltas[key]; !seen {
			keys = append(keys, key)
		}
		deltas[key] += activity.Score
	}
	return keys, deltas
}

// NewAggregator creates an aggregator writing to store and capping daily totals at dailyCap.
// Sinks receive the inserted activities of every merge.
func NewAggregator(store Store, dailyCap int, logger *slog.Logger, sinks ...ActivitySink) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		activities: store,
		scores:     store,
		sinks:      sinks,
		dailyCap:   dailyCap,
		logger:     logger,
		now:        time.Now,
	}
}
