package ingest

import (
	"time"

	"cloudproof/internal/record"
)

// Report summarizes one per-user ingestion run.
type Report struct {
	RunID        string                `json:"run_id"`
	UserID       int64                 `json:"user_id"`
	Source       string                `json:"source"`
	StartedAt    time.Time             `json:"started_at"`
	Duration     time.Duration         `json:"duration"`
	Cutoff       time.Time             `json:"cutoff"`
	Files        int                   `json:"files"`
	FilesSkipped int                   `json:"files_skipped"`
	Records      int                   `json:"records"`
	Skipped      map[record.Reason]int `json:"skipped"`
	Dropped      map[DropReason]int    `json:"dropped"`
	Admitted     int                   `json:"admitted"`
	Merge        MergeReport           `json:"merge"`
	Error        string                `json:"error,omitempty"`
}

func newReport(runID string, userID int64, source string, startedAt time.Time) Report {
	return Report{
		RunID:     runID,
		UserID:    userID,
		Source:    source,
		StartedAt: startedAt,
		Skipped:   make(map[record.Reason]int),
		Dropped:   make(map[DropReason]int),
	}
}
