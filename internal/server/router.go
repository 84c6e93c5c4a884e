package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cloudproof/internal/ingest"
	"cloudproof/internal/record"
	"cloudproof/internal/source"
	"cloudproof/internal/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// DefaultDays is the activity window used when days is not given.
	DefaultDays = 365
	// MaxDays is the widest accepted activity window.
	MaxDays = 730
	// DefaultRuns is the number of run reports returned when limit is not given.
	DefaultRuns = 10
)

// ErrInvalidDays is returned for a days parameter outside [1, MaxDays].
var ErrInvalidDays = errors.New("days must be between 1 and 730")

// Repository is the read and registration side of the storage used by the API.
type Repository interface {
	Ping(ctx context.Context) error
	CreateUser(ctx context.Context, user storage.NewUser) (ingest.User, error)
	GetUser(ctx context.Context, id int64) (ingest.User, error)
	ListUsers(ctx context.Context) ([]ingest.User, error)
	DailyScores(ctx context.Context, userID int64, since time.Time) ([]storage.DailyScore, error)
	ServiceTotals(ctx context.Context, userID int64, since time.Time) ([]storage.ServiceTotal, error)
	RecentActivities(ctx context.Context, userID int64, limit int) ([]ingest.Activity, error)
}

// RunHistory serves recent run reports.
type RunHistory interface {
	Get(userID int64, limit int) ([]ingest.Report, bool)
}

// Ingester runs the pipeline of one user against a source.
type Ingester interface {
	Run(ctx context.Context, user ingest.User, src source.Source, sourceName string) (ingest.Report, error)
}

// ActivityProfile is the response of the activity endpoint.
type ActivityProfile struct {
	Heatmap       map[string]int `json:"heatmap"`
	Services      map[string]int `json:"services"`
	RecentActions []RecentAction `json:"recent_actions"`
	TotalScore    int            `json:"total_score"`
}

// RecentAction is one entry of ActivityProfile.RecentActions.
type RecentAction struct {
	Date    string `json:"date"`
	Service string `json:"service"`
	Action  string `json:"action"`
	Score   int    `json:"score"`
}

// ApiV1Router serves the user, activity and ingestion endpoints.
type ApiV1Router struct {
	repo     Repository
	history  RunHistory
	ingester Ingester
	// sampleDir: directory processed by the local ingestion endpoint. Empty disables it.
	sampleDir string
	gatherer  prometheus.Gatherer
	now       func() time.Time
}

// Mux returns a *http.ServeMux with the following routes:
// - GET /api/health
// - GET /metrics
// - GET, POST /api/v1/users
// - GET /api/v1/users/{id}
// - GET /api/v1/users/{id}/activity?days=N
// - GET /api/v1/users/{id}/runs?limit=N
// - POST /api/v1/users/{id}/ingestions/local
func (ar *ApiV1Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", ar.healthHandler)
	mux.HandleFunc("GET /api/v1/users", ar.listUsersHandler)
	mux.HandleFunc("POST /api/v1/users", ar.createUserHandler)
	mux.HandleFunc("GET /api/v1/users/{id}", ar.userHandler)
	mux.HandleFunc("GET /api/v1/users/{id}/activity", ar.activityHandler)
	mux.HandleFunc("GET /api/v1/users/{id}/runs", ar.runsHandler)
	mux.HandleFunc("POST /api/v1/users/{id}/ingestions/local", ar.localIngestionHandler)

	if ar.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(ar.gatherer, promhttp.HandlerOpts{}))
	}

	return mux
}

func (ar *ApiV1Router) healthHandler(w http.ResponseWriter, r *http.Request) {
	if err := ar.repo.Ping(r.Context()); err != nil {
		slog.Warn("Health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": ar.now().UTC().Format(time.RFC3339),
	})
}

func (ar *ApiV1Router) listUsersHandler(w http.ResponseWriter, r *http.Request) {
	users, err := ar.repo.ListUsers(r.Context())
	if err != nil {
		slog.Error("Unable to list users", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list users")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (ar *ApiV1Router) createUserHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var user storage.NewUser
	if err := json.NewDecoder(r.Body).Decode(&user); err != nil {
		slog.Warn("Unable to decode user request body", "error", err)
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(user.Name) == "" || strings.TrimSpace(user.Email) == "" || strings.TrimSpace(user.RoleARN) == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields: name, email, role_arn")
		return
	}

	created, err := ar.repo.CreateUser(r.Context(), user)
	switch {
	case errors.Is(err, storage.ErrEmailTaken):
		writeError(w, http.StatusConflict, "User with this email already exists")
		return
	case err != nil:
		slog.Error("Unable to create user", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create user")
		return
	}

	slog.Info("User created", "user_id", created.ID, "email", created.Email)
	writeJSON(w, http.StatusCreated, created)
}

func (ar *ApiV1Router) userHandler(w http.ResponseWriter, r *http.Request) {
	user, ok := ar.lookupUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (ar *ApiV1Router) activityHandler(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, ok := ar.lookupUser(w, r)
	if !ok {
		return
	}

	profile, err := ar.profile(r.Context(), user.ID, days)
	if err != nil {
		slog.Error("Unable to fetch user activity", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Failed to fetch user activity")
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (ar *ApiV1Router) profile(ctx context.Context, userID int64, days int) (ActivityProfile, error) {
	since := record.DateOf(ar.now()).AddDate(0, 0, -days)

	scores, err := ar.repo.DailyScores(ctx, userID, since)
	if err != nil {
		return ActivityProfile{}, err
	}
	totals, err := ar.repo.ServiceTotals(ctx, userID, since)
	if err != nil {
		return ActivityProfile{}, err
	}
	recent, err := ar.repo.RecentActivities(ctx, userID, storage.RecentActivitiesLimit)
	if err != nil {
		return ActivityProfile{}, err
	}

	profile := ActivityProfile{
		Heatmap:       make(map[string]int, len(scores)),
		Services:      make(map[string]int, len(totals)),
		RecentActions: make([]RecentAction, 0, len(recent)),
	}
	for _, score := range scores {
		profile.Heatmap[score.Date.Format(time.DateOnly)] = score.Total
	}
	for _, total := range totals {
		profile.Services[total.Service] = total.Total
		profile.TotalScore += total.Total
	}
	for _, activity := range recent {
		profile.RecentActions = append(profile.RecentActions, RecentAction{
			Date:    activity.Date.Format(time.DateOnly),
			Service: activity.Service,
			Action:  activity.Action,
			Score:   activity.Score,
		})
	}
	return profile, nil
}

func (ar *ApiV1Router) runsHandler(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return
	}

	limit := DefaultRuns
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err = strconv.Atoi(raw); err != nil || limit < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit parameter")
			return
		}
	}

	reports, found := ar.history.Get(userID, limit)
	if !found {
		reports = []ingest.Report{}
	}
	writeJSON(w, http.StatusOK, reports)
}

func (ar *ApiV1Router) localIngestionHandler(w http.ResponseWriter, r *http.Request) {
	if ar.sampleDir == "" {
		writeError(w, http.StatusNotFound, "Local ingestion is disabled")
		return
	}

	user, ok := ar.lookupUser(w, r)
	if !ok {
		return
	}

	report, err := ar.ingester.Run(r.Context(), user, source.NewLocalSource(ar.sampleDir), "local")
	if err != nil {
		slog.Error("Local ingestion failed", "error", err, "user_id", user.ID)
		writeError(w, http.StatusInternalServerError, "Failed to process sample logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":           "Processed local sample CloudTrail logs",
		"run_id":            report.RunID,
		"records_processed": report.Admitted,
	})
}

// lookupUser resolves the {id} path value. On failure the response is written and ok is false.
func (ar *ApiV1Router) lookupUser(w http.ResponseWriter, r *http.Request) (ingest.User, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid user id")
		return ingest.User{}, false
	}

	user, err := ar.repo.GetUser(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found")
		return ingest.User{}, false
	case err != nil:
		slog.Error("Unable to fetch user", "error", err, "user_id", id)
		writeError(w, http.StatusInternalServerError, "Failed to fetch user")
		return ingest.User{}, false
	}
	return user, true
}

// parseDays validates the days query parameter. Empty means DefaultDays.
func parseDays(raw string) (int, error) {
	if raw == "" {
		return DefaultDays, nil
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("invalid days parameter")
	}
	if days < 1 || days > MaxDays {
		return 0, ErrInvalidDays
	}
	return days, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Warn("Unable to write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// NewApiV1Router creates the router. sampleDir may be empty and gatherer may be nil.
func NewApiV1Router(repo Repository, history RunHistory, ingester Ingester, sampleDir string, gatherer prometheus.Gatherer) *ApiV1Router {
	return &ApiV1Router{
		repo:      repo,
		history:   history,
		ingester:  ingester,
		sampleDir: sampleDir,
		gatherer:  gatherer,
		now:       time.Now,
	}
}
