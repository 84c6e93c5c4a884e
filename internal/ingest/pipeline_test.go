package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloudproof/internal/metrics"
	"cloudproof/internal/record"
	"cloudproof/internal/score"
	"cloudproof/internal/source"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var runStart = time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

func newTestPipeline(store Store, sinks ...ActivitySink) *Pipeline {
	pipeline := NewPipeline(PipelineConfig{
		Store:  store,
		Scorer: score.NewDefaultTable(),
		Sinks:  sinks,
		Logger: quietLogger(),
	})
	pipeline.now = func() time.Time { return runStart }
	return pipeline
}

func TestPipeline_Run_DefaultLookbackAndCheckpoint(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5), raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "RunInstances"))

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Equal(t, runStart.Add(-7*24*time.Hour), src.lastSince)
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 3, store.dailyTotal(1, day(2024, 3, 5)))
	assert.Equal(t, runStart, store.checkpoints[1])
	assert.NotEmpty(t, report.RunID)
}

func TestPipeline_Run_UsesStoredCheckpoint(t *testing.T) {
	store := newFakeStore()
	checkpoint := time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)
	store.checkpoints[1] = checkpoint
	src := &fakeSource{}

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Equal(t, checkpoint, src.lastSince)
	assert.Equal(t, checkpoint, report.Cutoff)
	assert.Equal(t, runStart, store.checkpoints[1], "checkpoint advances even when nothing was admitted")
}

func TestPipeline_Run_ReadOnlyActionsNeverScore(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5),
		raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "DescribeInstances"),
		raw("2024-03-05T10:01:00Z", "s3.amazonaws.com", "ListBuckets"),
		raw("2024-03-05T10:02:00Z", "signin.amazonaws.com", "ConsoleLogin"),
	)

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Zero(t, report.Admitted)
	assert.Empty(t, store.activities)
	assert.Zero(t, store.upserts)
	assert.Equal(t, 3, report.Dropped[DropUnscored])
}

func TestPipeline_Run_NonObjectRecordSkippedAlone(t *testing.T) {
	dir := t.TempDir()
	content := `{"Records":[` +
		`{"eventTime":"2024-03-05T10:00:00Z","eventSource":"ec2.amazonaws.com","eventName":"RunInstances"},` +
		`42,` +
		`{"eventTime":"2024-03-05T11:00:00Z","eventSource":"ec2.amazonaws.com","eventName":"RunInstances"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mixed.json"), []byte(content), 0o644))

	store := newFakeStore()
	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, source.NewLocalSource(dir), "local")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Files)
	assert.Zero(t, report.FilesSkipped)
	assert.Equal(t, 3, report.Records)
	assert.Equal(t, 1, report.Skipped[record.ReasonNotObject])
	assert.Equal(t, 2, report.Admitted)
	assert.Equal(t, 6, store.dailyTotal(1, day(2024, 3, 5)))
}

func TestPipeline_Run_SkipsMalformedRecords(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5),
		record.Raw{"eventSource": "ec2.amazonaws.com", "eventName": "RunInstances"},
		raw("03/05/2024", "ec2.amazonaws.com", "RunInstances"),
		record.Raw{"eventTime": "2024-03-05T10:00:00Z", "eventSource": "ec2.amazonaws.com", "eventName": "RunInstances", "readOnly": true},
		raw("2024-03-05T10:00:00Z", "iam.amazonaws.com", "CreateRole"),
	)

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Equal(t, 4, report.Records)
	assert.Equal(t, 1, report.Skipped[record.ReasonMissingField])
	assert.Equal(t, 1, report.Skipped[record.ReasonBadTimestamp])
	assert.Equal(t, 1, report.Skipped[record.ReasonReadOnly])
	assert.Equal(t, 1, report.Admitted)
	assert.Equal(t, 2, store.dailyTotal(1, day(2024, 3, 5)))
}

func TestPipeline_Run_CapsSpanFiles(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	for i, key := range []string{"a.json.gz", "b.json.gz"} {
		records := make([]record.Raw, 10)
		for j := range records {
			records[j] = raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "RunInstances")
		}
		src.add(key, day(2024, 3, 5).Add(time.Duration(i)*time.Hour), records...)
	}

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Equal(t, 7, report.Admitted)
	assert.Equal(t, 20, store.dailyTotal(1, day(2024, 3, 5)))
	assert.Equal(t, 13, report.Dropped[DropServiceCap])
}

func TestPipeline_Run_RerunAdmitsNothing(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5), raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "RunInstances"))
	pipeline := newTestPipeline(store)

	first, err := pipeline.Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)
	second, err := pipeline.Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Equal(t, 1, first.Admitted)
	assert.Zero(t, second.Admitted)
	assert.Equal(t, 3, store.dailyTotal(1, day(2024, 3, 5)))
	assert.Len(t, store.activities, 1)
}

func TestPipeline_Run_UnreadableFileSkipped(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	src.add("good.json.gz", day(2024, 3, 5), raw("2024-03-05T10:00:00Z", "s3.amazonaws.com", "CreateBucket"))
	src.objects = append(src.objects, sourceObject("broken.json.gz", day(2024, 3, 5)))

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Files)
	assert.Equal(t, 1, report.FilesSkipped)
	assert.Equal(t, 1, report.Admitted)
}

func TestPipeline_Run_ListFailureLeavesCheckpoint(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{listErr: errStore}

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")

	assert.ErrorIs(t, err, errStore)
	assert.NotEmpty(t, report.Error)
	assert.NotContains(t, store.checkpoints, int64(1))
}

func TestPipeline_Run_CheckpointWriteFailure(t *testing.T) {
	store := newFakeStore()
	store.failWrite = errStore
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5), raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "RunInstances"))

	report, err := newTestPipeline(store).Run(context.Background(), User{ID: 1}, src, "test")

	assert.ErrorIs(t, err, errStore)
	assert.Equal(t, 1, report.Merge.Inserted, "merged data stays in place")
}

func TestPipeline_Run_CancelledBeforeMerge(t *testing.T) {
	store := newFakeStore()
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5), raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "RunInstances"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestPipeline(store).Run(ctx, User{ID: 1}, src, "test")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.activities)
	assert.Empty(t, store.checkpoints)
}

func TestPipeline_Run_PublishesToSinks(t *testing.T) {
	store := newFakeStore()
	sink := &fakeSink{}
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5), raw("2024-03-05T10:00:00Z", "eks.amazonaws.com", "CreateCluster"))

	_, err := newTestPipeline(store, sink).Run(context.Background(), User{ID: 3}, src, "test")
	require.NoError(t, err)

	require.Len(t, sink.batches, 1)
	assert.Equal(t, int64(3), sink.batches[0][0].UserID)
	assert.Equal(t, 5, sink.batches[0][0].Score)
}

func TestPipeline_Run_Metrics(t *testing.T) {
	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))
	store := newFakeStore()
	src := &fakeSource{}
	src.add("a.json.gz", day(2024, 3, 5),
		raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "RunInstances"),
		raw("2024-03-05T10:00:00Z", "ec2.amazonaws.com", "DescribeInstances"),
	)
	pipeline := NewPipeline(PipelineConfig{Store: store, Scorer: score.NewDefaultTable(), Metrics: m, Logger: quietLogger()})
	pipeline.now = func() time.Time { return runStart }

	_, err := pipeline.Run(context.Background(), User{ID: 1}, src, "test")
	require.NoError(t, err)

	expected := `
# HELP cloudproof_ingestion_activities_total Total number of activities by pipeline stage
# TYPE cloudproof_ingestion_activities_total counter
cloudproof_ingestion_activities_total{stage="admitted"} 1
cloudproof_ingestion_activities_total{stage="persisted"} 1
# HELP cloudproof_ingestion_files_total Total number of log files by status
# TYPE cloudproof_ingestion_files_total counter
cloudproof_ingestion_files_total{status="read"} 1
# HELP cloudproof_ingestion_records_total Total number of log records by normalization or admission outcome
# TYPE cloudproof_ingestion_records_total counter
cloudproof_ingestion_records_total{outcome="normalized"} 2
cloudproof_ingestion_records_total{outcome="unscored"} 1
# HELP cloudproof_ingestion_runs_total Total number of per-user ingestion runs by status
# TYPE cloudproof_ingestion_runs_total counter
cloudproof_ingestion_runs_total{status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		metrics.MetricActivitiesTotal,
		metrics.MetricFilesTotal,
		metrics.MetricRecordsTotal,
		metrics.MetricRunsTotal,
	))
}

func sourceObject(key string, modified time.Time) source.Object {
	return source.Object{Key: key, LastModified: modified}
}
