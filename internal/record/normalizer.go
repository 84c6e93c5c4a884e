package record

import (
	"log/slog"
)

// Stats counts the outcome of a normalization pass.
type Stats struct {
	Seen    int
	Skipped map[Reason]int
}

// SkippedTotal returns the number of records dropped for any reason.
func (s Stats) SkippedTotal() int {
	total := 0
	for _, n := range s.Skipped {
		total += n
	}
	return total
}

// Normalizer runs Normalize over batches and logs every skipped record.
type Normalizer struct {
	logger *slog.Logger
}

// NormalizeAll normalizes records in order. Malformed records are logged as warnings
// and left out of the result; they never fail the batch.
func (n *Normalizer) NormalizeAll(records []Raw) ([]Event, Stats) {
	events := make([]Event, 0, len(records))
	stats := Stats{Skipped: make(map[Reason]int)}

	for i, raw := range records {
		stats.Seen++
		event, reason := Normalize(raw)
		if reason != ReasonNone {
			stats.Skipped[reason]++
			if reason != ReasonReadOnly {
				n.logger.Warn("Skipping malformed record",
					"index", i,
					"reason", string(reason),
					"eventName", raw["eventName"],
					"eventTime", raw["eventTime"],
				)
			} else {
				n.logger.Debug("Skipping read-only record", "index", i, "eventName", raw["eventName"])
			}
			continue
		}
		events = append(events, event)
	}

	return events, stats
}

// NewNormalizer creates a normalizer logging to logger, or to slog.Default when nil.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger}
}
