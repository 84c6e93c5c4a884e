package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cloudproof/internal/history"
	"cloudproof/internal/ingest"
	"cloudproof/internal/metrics"
	"cloudproof/internal/score"
	"cloudproof/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var today = time.Date(2024, 3, 10, 15, 0, 0, 0, time.UTC)

type fixture struct {
	repo    *storage.MemoryRepository
	history *history.Repository
	router  *ApiV1Router
	handler http.Handler
}

func newFixture(t *testing.T, sampleDir string) *fixture {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	repo := storage.NewMemoryRepository()
	runs := history.NewRepository(5, 0)
	m := metrics.NewMetrics()
	reg := prometheus.NewRegistry()
	require.NoError(t, m.Register(reg))

	pipeline := ingest.NewPipeline(ingest.PipelineConfig{
		Store:   repo,
		Scorer:  score.NewDefaultTable(),
		Metrics: m,
		Logger:  logger,
	})
	driver := ingest.NewDriver(repo, nil, "s3", pipeline, runs, logger)

	router := NewApiV1Router(repo, runs, driver, sampleDir, reg)
	router.now = func() time.Time { return today }
	return &fixture{repo: repo, history: runs, router: router, handler: router.Mux()}
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(method, target, reader))
	return rec
}

func (f *fixture) createUser(t *testing.T, email string) ingest.User {
	t.Helper()
	user, err := f.repo.CreateUser(context.Background(), storage.NewUser{Name: "Ada", Email: email, RoleARN: "arn:aws:iam::1:role/a"})
	require.NoError(t, err)
	return user
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

type failingRepository struct {
	*storage.MemoryRepository
}

func (failingRepository) Ping(context.Context) error {
	return errors.New("connection refused")
}

func TestHealth(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode[map[string]string](t, rec)["status"])

	router := NewApiV1Router(failingRepository{storage.NewMemoryRepository()}, f.history, nil, "", nil)
	rec = httptest.NewRecorder()
	router.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateUser(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodPost, "/api/v1/users", `{"name":"Ada","email":"ada@example.com","role_arn":"arn"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[map[string]any](t, rec)
	assert.Equal(t, float64(1), created["id"])
	assert.NotContains(t, created, "role_arn")

	rec = f.do(t, http.MethodPost, "/api/v1/users", `{"name":"Ada","email":"ada@example.com","role_arn":"arn"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/v1/users", `{"name":"Ada","email":"x@example.com"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "role_arn")

	rec = f.do(t, http.MethodPost, "/api/v1/users", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListAndGetUser(t *testing.T) {
	f := newFixture(t, "")
	f.createUser(t, "ada@example.com")
	f.createUser(t, "bob@example.com")

	rec := f.do(t, http.MethodGet, "/api/v1/users", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]map[string]any](t, rec), 2)

	rec = f.do(t, http.MethodGet, "/api/v1/users/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bob@example.com", decode[map[string]any](t, rec)["email"])

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/users/9", "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/users/abc", "").Code)
}

func TestActivity(t *testing.T) {
	f := newFixture(t, "")
	ctx := context.Background()
	user := f.createUser(t, "ada@example.com")
	recent := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, f.repo.UpsertDailyScore(ctx, user.ID, recent, 8))
	require.NoError(t, f.repo.UpsertDailyScore(ctx, user.ID, old, 30))
	for _, activity := range []ingest.Activity{
		{UserID: user.ID, Date: old, Service: "RDS", Action: "CreateDBInstance", Score: 4},
		{UserID: user.ID, Date: recent, Service: "EC2", Action: "RunInstances", Score: 3},
		{UserID: user.ID, Date: recent, Service: "EKS", Action: "CreateCluster", Score: 5},
	} {
		require.NoError(t, f.repo.InsertActivity(ctx, activity))
	}

	rec := f.do(t, http.MethodGet, "/api/v1/users/1/activity?days=30", "")
	require.Equal(t, http.StatusOK, rec.Code)
	profile := decode[ActivityProfile](t, rec)

	assert.Equal(t, map[string]int{"2024-03-05": 8}, profile.Heatmap)
	assert.Equal(t, map[string]int{"EKS": 5, "EC2": 3}, profile.Services)
	assert.Equal(t, 8, profile.TotalScore)
	require.Len(t, profile.RecentActions, 3, "recent actions are not limited by days")
	assert.Equal(t, "CreateCluster", profile.RecentActions[0].Action)
	assert.Equal(t, "2024-03-05", profile.RecentActions[0].Date)

	rec = f.do(t, http.MethodGet, "/api/v1/users/1/activity", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[ActivityProfile](t, rec).Heatmap, 1, "default window is 365 days")
}

func TestActivity_InvalidRequests(t *testing.T) {
	f := newFixture(t, "")
	f.createUser(t, "ada@example.com")

	for _, days := range []string{"0", "731", "-5", "abc"} {
		rec := f.do(t, http.MethodGet, "/api/v1/users/1/activity?days="+days, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, days)
	}
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/v1/users/1/activity?days=730", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/api/v1/users/2/activity", "").Code)
}

func TestLocalIngestionAndRuns(t *testing.T) {
	dir := t.TempDir()
	content := `{"Records":[
		{"eventTime":"2024-03-05T10:00:00Z","eventSource":"ec2.amazonaws.com","eventName":"RunInstances"},
		{"eventTime":"2024-03-05T10:05:00Z","eventSource":"ec2.amazonaws.com","eventName":"DescribeInstances"},
		{"eventTime":"2024-03-05T10:10:00Z","eventSource":"s3.amazonaws.com","eventName":"CreateBucket"}
	]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sample.json"), []byte(content), 0o644))
	f := newFixture(t, dir)
	f.createUser(t, "ada@example.com")

	rec := f.do(t, http.MethodGet, "/api/v1/users/1/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decode[[]ingest.Report](t, rec))

	rec = f.do(t, http.MethodPost, "/api/v1/users/1/ingestions/local", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(2), decode[map[string]any](t, rec)["records_processed"])

	total, found, err := f.repo.ReadDailyScore(context.Background(), 1, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 5, total)

	rec = f.do(t, http.MethodGet, "/api/v1/users/1/runs?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decode[[]ingest.Report](t, rec)
	require.Len(t, reports, 1)
	assert.Equal(t, "local", reports[0].Source)
	assert.Equal(t, 2, reports[0].Admitted)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/api/v1/users/1/runs?limit=0", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/users/7/ingestions/local", "").Code)
}

func TestLocalIngestion_Disabled(t *testing.T) {
	f := newFixture(t, "")
	f.createUser(t, "ada@example.com")

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/api/v1/users/1/ingestions/local", "").Code)
}

func TestLocalIngestion_Failure(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "missing"))
	f.createUser(t, "ada@example.com")

	rec := f.do(t, http.MethodPost, "/api/v1/users/1/ingestions/local", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to process sample logs", decode[map[string]string](t, rec)["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, "")

	rec := f.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Contains(t, rec.Body.String(), metrics.MetricRunDuration)

	f.router.gatherer = nil
	rec = httptest.NewRecorder()
	f.router.Mux().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestParseDays(t *testing.T) {
	days, err := parseDays("")
	require.NoError(t, err)
	assert.Equal(t, DefaultDays, days)

	days, err = parseDays("1")
	require.NoError(t, err)
	assert.Equal(t, 1, days)

	_, err = parseDays("731")
	assert.ErrorIs(t, err, ErrInvalidDays)
}
