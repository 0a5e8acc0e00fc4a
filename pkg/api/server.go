// Package api serves the control surface: tenant configuration CRUD, run
// dispatch, and artifact access. The worker owns run execution; this API only
// admits and observes runs.
package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Relay-Inventory/relay-inventory-service/pkg/config"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/queue"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/runs"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/storage"
	"github.com/Relay-Inventory/relay-inventory-service/pkg/tenantstore"
)

// presignTTL bounds artifact download links.
const presignTTL = time.Hour

// Options wire a Server's collaborators. Queue and Blobs may be nil; the
// affected endpoints then answer 503.
type Options struct {
	Runs    runs.Store
	Tenants tenantstore.Store
	Queue   queue.JobQueue
	Blobs   storage.BlobStore
	Limiter RunLimiter
	APIKeys []string
	Logger  *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Server is the control API.
type Server struct {
	runs    runs.Store
	tenants tenantstore.Store
	queue   queue.JobQueue
	blobs   storage.BlobStore
	limiter RunLimiter
	auth    *apiKeyAuth
	logger  *slog.Logger
	now     func() time.Time
}

// New builds a Server.
func New(opts Options) *Server {
	s := &Server{
		runs:    opts.Runs,
		tenants: opts.Tenants,
		queue:   opts.Queue,
		blobs:   opts.Blobs,
		limiter: opts.Limiter,
		auth:    newAPIKeyAuth(opts.APIKeys),
		logger:  opts.Logger,
		now:     opts.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("POST /v1/tenants", s.auth.wrap(s.handleCreateTenant))
	mux.HandleFunc("GET /v1/tenants/{tenant_id}", s.auth.wrap(s.handleGetTenant))
	mux.HandleFunc("PUT /v1/tenants/{tenant_id}/config", s.auth.wrap(s.handleUpdateTenantConfig))
	mux.HandleFunc("POST /v1/runs", s.auth.wrap(s.handleCreateRun))
	mux.HandleFunc("GET /v1/runs/{run_id}", s.auth.wrap(s.handleGetRun))
	mux.HandleFunc("GET /v1/runs/{run_id}/artifacts", s.auth.wrap(s.handleRunArtifacts))
	return mux
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readTenantConfig(w http.ResponseWriter, r *http.Request) *config.TenantConfig {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return nil
	}
	cfg, err := config.ParseTenantConfig(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return nil
	}
	return cfg
}

func (s *Server) handleCreateTenant(w http.ResponseWriter, r *http.Request) {
	cfg := s.readTenantConfig(w, r)
	if cfg == nil {
		return
	}
	record := &tenantstore.Record{TenantID: cfg.TenantID, ConfigVersion: 1, Config: *cfg}
	if err := s.tenants.Put(r.Context(), record); err != nil {
		s.logger.ErrorContext(r.Context(), "tenant_put_failed", "tenant_id", cfg.TenantID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Tenant storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tenant_id":      cfg.TenantID,
		"config_version": "1",
	})
}

func (s *Server) handleGetTenant(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	version := 1
	if raw := r.URL.Query().Get("config_version"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid config_version")
			return
		}
		version = parsed
	}
	record, err := s.tenants.Get(r.Context(), tenantID, version)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Tenant storage unavailable")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Tenant not found")
		return
	}
	writeJSON(w, http.StatusOK, &record.Config)
}

func (s *Server) handleUpdateTenantConfig(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant_id")
	cfg := s.readTenantConfig(w, r)
	if cfg == nil {
		return
	}
	if tenantID != cfg.TenantID {
		writeError(w, http.StatusBadRequest, "tenant_id mismatch")
		return
	}
	existing, err := s.tenants.GetLatest(r.Context(), tenantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Tenant storage unavailable")
		return
	}
	nextVersion := 1
	if existing != nil {
		nextVersion = existing.ConfigVersion + 1
	}
	record := &tenantstore.Record{TenantID: tenantID, ConfigVersion: nextVersion, Config: *cfg}
	if err := s.tenants.Put(r.Context(), record); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Tenant storage unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"tenant_id":      tenantID,
		"config_version": strconv.Itoa(nextVersion),
	})
}

// RunRequest is the dispatch payload.
type RunRequest struct {
	TenantID string   `json:"tenant_id"`
	RunType  string   `json:"run_type,omitempty"`
	Vendors  []string `json:"vendors"`
}

// RunStatus is the API's view of a run record.
type RunStatus struct {
	RunID             string            `json:"run_id"`
	TenantID          string            `json:"tenant_id"`
	ConfigVersion     int               `json:"config_version"`
	Status            runs.Status       `json:"status"`
	Stage             runs.Stage        `json:"stage,omitempty"`
	RequestedAt       time.Time         `json:"requested_at"`
	StartedAt         *time.Time        `json:"started_at,omitempty"`
	FinishedAt        *time.Time        `json:"finished_at,omitempty"`
	FailedStage       runs.Stage        `json:"failed_stage,omitempty"`
	ErrorCode         string            `json:"error_code,omitempty"`
	ErrorMessage      string            `json:"error_message,omitempty"`
	ErrorsArtifactKey string            `json:"errors_artifact_key,omitempty"`
	ErrorReportKey    string            `json:"error_report_key,omitempty"`
	Artifacts         map[string]string `json:"artifacts"`
}

func runStatusFromRecord(record *runs.Record) RunStatus {
	artifacts := record.Artifacts
	if artifacts == nil {
		artifacts = map[string]string{}
	}
	return RunStatus{
		RunID:             record.RunID,
		TenantID:          record.TenantID,
		ConfigVersion:     record.ConfigVersion,
		Status:            record.Status,
		Stage:             record.Stage,
		RequestedAt:       record.RequestedAt,
		StartedAt:         record.StartedAt,
		FinishedAt:        record.FinishedAt,
		FailedStage:       record.FailedStage,
		ErrorCode:         record.ErrorCode,
		ErrorMessage:      record.ErrorMessage,
		ErrorsArtifactKey: record.ErrorsArtifactKey,
		ErrorReportKey:    record.ErrorReportKey,
		Artifacts:         artifacts,
	}
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var request RunRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if request.TenantID == "" {
		writeError(w, http.StatusBadRequest, "tenant_id is required")
		return
	}

	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), request.TenantID)
		if err != nil {
			s.logger.WarnContext(r.Context(), "run_limiter_error",
				"tenant_id", request.TenantID, "error", err)
		}
		if !allowed {
			writeError(w, http.StatusTooManyRequests,
				fmt.Sprintf("run creation rate limit exceeded for tenant %s", request.TenantID))
			return
		}
	}

	// Admission-time single-running gate; the worker probes again per
	// message, so the lock holds even when this check races.
	running, err := s.runs.FindRunningByTenant(r.Context(), request.TenantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Run storage unavailable")
		return
	}
	if running != nil {
		writeError(w, http.StatusConflict,
			fmt.Sprintf("run already running for tenant %s (run_id=%s)", request.TenantID, running.RunID))
		return
	}

	tenantRecord, err := s.tenants.GetLatest(r.Context(), request.TenantID)
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Tenant storage unavailable")
		return
	}
	configVersion := 1
	if tenantRecord != nil {
		configVersion = tenantRecord.ConfigVersion
	}

	runID := uuid.NewString()
	record := &runs.Record{
		RunID:         runID,
		TenantID:      request.TenantID,
		ConfigVersion: configVersion,
		Status:        runs.StatusQueued,
		RequestedAt:   s.now().UTC(),
	}
	if err := s.runs.Create(r.Context(), record); err != nil {
		writeError(w, http.StatusServiceUnavailable, "Run storage unavailable")
		return
	}

	if s.queue != nil {
		job := runs.Job{
			RunID:         runID,
			TenantID:      request.TenantID,
			Vendors:       request.Vendors,
			ConfigVersion: configVersion,
		}
		body, err := json.Marshal(&job)
		if err == nil {
			err = s.queue.Send(r.Context(), body)
		}
		if err != nil {
			s.logger.ErrorContext(r.Context(), "queue_send_failed", "run_id", runID, "error", err)
			writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
			return
		}
	}

	writeJSON(w, http.StatusOK, runStatusFromRecord(record))
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	record, err := s.runs.Get(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Run storage unavailable")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	writeJSON(w, http.StatusOK, runStatusFromRecord(record))
}

func (s *Server) handleRunArtifacts(w http.ResponseWriter, r *http.Request) {
	record, err := s.runs.Get(r.Context(), r.PathValue("run_id"))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "Run storage unavailable")
		return
	}
	if record == nil {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if s.blobs == nil {
		writeError(w, http.StatusServiceUnavailable, "Artifact storage not configured")
		return
	}
	urls := make(map[string]string, len(record.Artifacts))
	for name, key := range record.Artifacts {
		url, err := s.blobs.Presign(r.Context(), key, presignTTL)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, "Artifact storage unavailable")
			return
		}
		urls[name] = url
	}
	writeJSON(w, http.StatusOK, urls)
}
