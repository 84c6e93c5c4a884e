package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cloudproof/internal/metrics"
	"cloudproof/internal/record"
	"cloudproof/internal/score"
	"cloudproof/internal/source"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultLookback is the window scanned for users without a checkpoint.
const DefaultLookback = 7 * 24 * time.Hour

// PipelineConfig holds the collaborators of a Pipeline.
type PipelineConfig struct {
	Store    Store
	Scorer   score.Scorer
	Limits   score.Limits
	Lookback time.Duration
	Sinks    []ActivitySink
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
}

// Pipeline runs the ingestion of one user: source → normalizer → accumulator →
// aggregator, bracketed by the checkpoint read and write.
type Pipeline struct {
	normalizer  *record.Normalizer
	accumulator *Accumulator
	aggregator  *Aggregator
	checkpoints *Checkpoints
	metrics     *metrics.Metrics
	tracer      trace.Tracer
	logger      *slog.Logger
	lookback    time.Duration
	now         func() time.Time
}

// Run processes the log files of user from src sequentially and returns the report.
// The number of admitted activities is report.Admitted.
//
// Unreadable files and malformed records are logged and skipped. A listing failure
// aborts the run before anything is written. When ctx ends mid-run nothing further is
// merged and the checkpoint is left untouched. After a complete pass the checkpoint is
// overwritten with the run start time, even when nothing was admitted; a failure to
// write it fails the run.
func (p *Pipeline) Run(ctx context.Context, user User, src source.Source, sourceName string) (Report, error) {
	start := p.now()
	report := newReport(uuid.NewString(), user.ID, sourceName, start)
	logger := p.logger.With("run_id", report.RunID, "user_id", user.ID)

	ctx, span := p.tracer.Start(ctx, "ingest.Run", trace.WithAttributes(
		attribute.Int64("user.id", user.ID),
		attribute.String("run.id", report.RunID),
		attribute.String("run.source", sourceName),
	))
	defer span.End()

	err := p.run(ctx, logger, user, src, &report)
	report.Duration = p.now().Sub(start)

	status := metrics.StatusSuccess
	if err != nil {
		status = metrics.StatusFailure
		report.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Ingestion run failed", "error", err, "admitted", report.Admitted)
	} else {
		span.SetAttributes(attribute.Int("run.admitted", report.Admitted))
		logger.Info("Ingestion run finished",
			"files", report.Files,
			"files_skipped", report.FilesSkipped,
			"records", report.Records,
			"admitted", report.Admitted,
			"persisted", report.Merge.Inserted,
			"duration", report.Duration,
		)
	}
	if p.metrics != nil {
		p.metrics.ObserveRun(status, report.Duration.Seconds())
	}

	return report, err
}

func (p *Pipeline) run(ctx context.Context, logger *slog.Logger, user User, src source.Source, report *Report) error {
	cutoff, found := p.checkpoints.Get(ctx, user.ID)
	if !found {
		cutoff = report.StartedAt.Add(-p.lookback)
	}
	report.Cutoff = cutoff

	objects, err := src.List(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list log source: %w", err)
	}
	logger.Debug("Listed log files", "count", len(objects), "cutoff", cutoff)

	state := NewState()
	admitted := make([]Activity, 0)
	for _, object := range objects {
		if err := ctx.Err(); err != nil {
			return err
		}

		doc, err := src.Read(ctx, object)
		if err != nil {
			report.FilesSkipped++
			p.countFile(metrics.FileSkipped)
			logger.Warn("Skipping unreadable log file", "key", object.Key, "error", err)
			continue
		}
		report.Files++
		p.countFile(metrics.FileRead)

		events, stats := p.normalizer.NormalizeAll(doc.Records)
		report.Records += stats.Seen
		for reason, n := range stats.Skipped {
			report.Skipped[reason] += n
			p.countRecords(string(reason), n)
		}
		p.countRecords(metrics.OutcomeNormalized, len(events))

		admitted = append(admitted, p.accumulator.Admit(user.ID, events, state)...)
	}

	for reason, n := range state.Dropped {
		report.Dropped[reason] = n
		p.countRecords(string(reason), n)
	}
	report.Admitted = len(admitted)
	if p.metrics != nil {
		p.metrics.AddActivities(metrics.StageAdmitted, len(admitted))
	}

	merge, err := p.aggregator.Merge(ctx, admitted)
	report.Merge = merge
	if p.metrics != nil {
		p.metrics.AddActivities(metrics.StagePersisted, merge.Inserted)
	}
	if err != nil {
		return err
	}

	return p.checkpoints.Set(ctx, user.ID, report.StartedAt)
}

func (p *Pipeline) countFile(status string) {
	if p.metrics != nil {
		p.metrics.IncFiles(status)
	}
}

func (p *Pipeline) countRecords(outcome string, n int) {
	if p.metrics != nil {
		p.metrics.AddRecords(outcome, n)
	}
}

// NewPipeline wires a pipeline from cfg. Zero limits and lookback fall back to
// score.DefaultLimits and DefaultLookback.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limits := cfg.Limits
	if limits.Daily <= 0 || limits.Service <= 0 {
		limits = score.DefaultLimits()
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}

	return &Pipeline{
		normalizer:  record.NewNormalizer(logger),
		accumulator: NewAccumulator(cfg.Scorer, limits),
		aggregator:  NewAggregator(cfg.Store, limits.Daily, logger, cfg.Sinks...),
		checkpoints: NewCheckpoints(cfg.Store, logger),
		metrics:     cfg.Metrics,
		tracer:      otel.Tracer("cloudproof/internal/ingest"),
		logger:      logger,
		lookback:    lookback,
		now:         time.Now,
	}
}
