// Package httpapi implements the Query/Control API (C7) on top of
// net/http's stdlib router: the teacher's own services never reach
// for a third-party router for internal endpoints, and spec.md's
// handful of fixed routes don't need path-parameter matching beyond
// what http.ServeMux gives for free.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"vitalguard/internal/aggregator"
	"vitalguard/internal/apperr"
	"vitalguard/internal/baseline"
	"vitalguard/internal/detector"
	"vitalguard/internal/llmproxy"
	"vitalguard/internal/model"
)

// ConfigStore is the subset of internal/store.Store used to persist
// the active DetectorConfig and query alert history.
type ConfigStore interface {
	SaveConfig(ctx context.Context, cfg model.DetectorConfig) error
	QueryAlertHistory(ctx context.Context, userID string, limit int) ([]model.Alert, error)
}

// ConfigPublisher is the subset of internal/broker.Gateway used to
// echo a detector switch on the config topic.
type ConfigPublisher interface {
	PublishConfig(v any) error
}

// Server holds every dependency the API handlers read or mutate.
type Server struct {
	detectorCfg *detector.Config
	registry    *baseline.Registry
	store       ConfigStore
	aggregator  *aggregator.Aggregator
	publisher   ConfigPublisher
	llm         *llmproxy.Client
	logger      *zap.Logger
}

// New constructs a Server and returns its handler.
func New(detectorCfg *detector.Config, registry *baseline.Registry, store ConfigStore, agg *aggregator.Aggregator, publisher ConfigPublisher, llm *llmproxy.Client, logger *zap.Logger) http.Handler {
	s := &Server{
		detectorCfg: detectorCfg,
		registry:    registry,
		store:       store,
		aggregator:  agg,
		publisher:   publisher,
		llm:         llm,
		logger:      logger,
	}
	return s.routes()
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/detector/current", s.handleDetectorCurrent)
	mux.HandleFunc("/api/detector/set", s.handleDetectorSet)
	mux.HandleFunc("/api/user/baselines", s.handleUserBaselines)
	mux.HandleFunc("/api/user/reset_baselines", s.handleResetBaselines)
	mux.HandleFunc("/api/trends", s.handleTrends)
	mux.HandleFunc("/api/alerts/history", s.handleAlertHistory)
	mux.HandleFunc("/api/trends/llm_analysis", s.handleLLMAnalysis)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// response already started; nothing left to do but note it.
		_ = err
	}
}

func writeError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, apperr.ErrParse), errors.Is(err, apperr.ErrConfig):
		status = http.StatusBadRequest
	case errors.Is(err, apperr.ErrLLM):
		status = http.StatusBadGateway
	case errors.Is(err, apperr.ErrStorage), errors.Is(err, apperr.ErrInternal), errors.Is(err, apperr.ErrTransport):
		status = http.StatusInternalServerError
	}
	if status == http.StatusInternalServerError {
		logger.Error("api request failed", zap.Error(err))
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func readJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return apperr.Wrap(apperr.ErrParse, err)
	}
	return nil
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// GET /api/detector/current
func (s *Server) handleDetectorCurrent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}
	writeJSON(w, http.StatusOK, s.detectorCfg.Snapshot())
}

type detectorSetRequest struct {
	DetectorType model.DetectorKind `json:"detector_type"`
	UserID       string             `json:"user_id"`
}

// POST /api/detector/set
func (s *Server) handleDetectorSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}

	var req detectorSetRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.DetectorType != model.DetectorRangeBased && req.DetectorType != model.DetectorUserBaseline {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("detector_type must be range_based or user_baseline")))
		return
	}
	if req.UserID == "" {
		req.UserID = "default"
	}

	s.detectorCfg.Set(req.DetectorType, req.UserID)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.store.SaveConfig(ctx, s.detectorCfg.Snapshot()); err != nil {
		s.logger.Warn("persist detector config failed", zap.Error(err))
	}
	if err := s.publisher.PublishConfig(s.detectorCfg.Snapshot()); err != nil {
		s.logger.Warn("publish detector config failed", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type parameterStats struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Count  int64   `json:"count"`
}

type activityLevelStats struct {
	TotalSamples int64                      `json:"total_samples"`
	Parameters   map[string]parameterStats  `json:"parameters"`
}

// GET /api/user/baselines?user_id=
func (s *Server) handleUserBaselines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "default"
	}

	snapshot := s.registry.Stats(userID)
	levels := map[string]*activityLevelStats{
		string(model.ActivityLow):    {Parameters: map[string]parameterStats{}},
		string(model.ActivityMedium): {Parameters: map[string]parameterStats{}},
		string(model.ActivityHigh):   {Parameters: map[string]parameterStats{}},
	}

	for compound, cell := range snapshot {
		level, param := splitCompoundKey(compound)
		entry, ok := levels[level]
		if !ok {
			continue
		}
		entry.Parameters[param] = parameterStats{Mean: cell.Mean, StdDev: cell.StdDev(), Count: cell.Count}
		entry.TotalSamples += cell.Count
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         userID,
		"activity_levels": levels,
	})
}

func splitCompoundKey(compound string) (level, param string) {
	for i := 0; i < len(compound); i++ {
		if compound[i] == '/' {
			return compound[:i], compound[i+1:]
		}
	}
	return compound, ""
}

type resetBaselinesRequest struct {
	UserID string `json:"user_id"`
}

// POST /api/user/reset_baselines
func (s *Server) handleResetBaselines(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}
	var req resetBaselinesRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}
	if req.UserID == "" {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("user_id is required")))
		return
	}
	s.registry.Reset(req.UserID)
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// GET /api/trends
func (s *Server) handleTrends(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}
	env, err := s.aggregator.Query(r.Context())
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trends": env})
}

// GET /api/alerts/history?limit=&user_id=
func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		userID = "default"
	}
	limit := parseIntDefault(r.URL.Query().Get("limit"), 50)

	alerts, err := s.store.QueryAlertHistory(r.Context(), userID, limit)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

// POST /api/trends/llm_analysis
func (s *Server) handleLLMAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, s.logger, apperr.Wrap(apperr.ErrConfig, errors.New("method not allowed")))
		return
	}
	var req llmproxy.AnalysisRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, s.logger, err)
		return
	}

	markdown, err := s.llm.Analyze(r.Context(), req)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"markdown": markdown})
}
