package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/opensource-finance/heron/internal/bus"
	"github.com/opensource-finance/heron/internal/domain"
	"github.com/opensource-finance/heron/internal/federated"
	"github.com/opensource-finance/heron/internal/login"
	"github.com/opensource-finance/heron/internal/repository"
)

// maxBodyBytes bounds request bodies; a full capture is a few kilobytes.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	login      *login.Service
	aggregator *federated.Aggregator
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	version    string
}

// NewHandler creates a new API handler.
func NewHandler(svc *login.Service, agg *federated.Aggregator, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, version string) *Handler {
	return &Handler{
		login:      svc,
		aggregator: agg,
		repo:       repo,
		cache:      cache,
		bus:        eventBus,
		version:    version,
	}
}

// EnrollRequest is the request body for POST /enroll.
type EnrollRequest struct {
	UserID string                                  `json:"userId"`
	Phases map[domain.Context]domain.FeatureVector `json:"phases"`
}

// LoginRequest is the request body for POST /login.
type LoginRequest struct {
	UserID   string               `json:"userId"`
	Features domain.FeatureVector `json:"features"`
}

// VerifyRequest is the request body for POST /challenge/verify.
type VerifyRequest struct {
	UserID         string               `json:"userId"`
	ChallengeToken string               `json:"challengeToken"`
	Features       domain.FeatureVector `json:"features"`
}

// ModelResponse is the response for GET /federated/model.
type ModelResponse struct {
	Version int       `json:"version"`
	Weights []float64 `json:"weights"`
}

// Enroll handles POST /enroll.
func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}
	for c := range req.Phases {
		switch c {
		case domain.ContextCalm, domain.ContextCognitive, domain.ContextControlled:
		default:
			writeError(w, http.StatusBadRequest, "unknown calibration phase: "+string(c))
			return
		}
	}

	res, err := h.login.Enroll(r.Context(), GetTenantID(r.Context()), req.UserID, req.Phases)
	switch {
	case errors.Is(err, login.ErrProfileExists):
		writeError(w, http.StatusConflict, "profile already exists")
	case errors.Is(err, login.ErrNoCalibration):
		writeError(w, http.StatusBadRequest, "at least one calibration phase with signals is required")
	case errors.Is(err, login.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		h.internalError(w, r, "enroll failed", err)
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

// Login handles POST /login: 200 GRANTED, 202 CHALLENGED, 401 DENIED.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	out, err := h.login.Attempt(r.Context(), GetTenantID(r.Context()), req.UserID, req.Features)
	if err != nil {
		h.internalError(w, r, "login scoring failed", err)
		return
	}
	writeJSON(w, actionStatus(out.Decision.Action), out.Response())
}

// VerifyChallenge handles POST /challenge/verify.
func (h *Handler) VerifyChallenge(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !decode(w, r, &req) {
		return
	}
	if req.UserID == "" || req.ChallengeToken == "" {
		writeError(w, http.StatusBadRequest, "userId and challengeToken are required")
		return
	}

	out, err := h.login.VerifyChallenge(r.Context(), GetTenantID(r.Context()), req.ChallengeToken, req.UserID, req.Features)
	if errors.Is(err, login.ErrChallengeInvalid) {
		writeError(w, http.StatusUnauthorized, "invalid or expired challenge")
		return
	}
	if err != nil {
		h.internalError(w, r, "challenge verification failed", err)
		return
	}
	writeJSON(w, actionStatus(out.Decision.Action), out.Response())
}

// GetProfile handles GET /profiles/{userId}.
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	view, err := h.login.Profile(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "userId"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "profile not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "profile lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GetDecision handles GET /decisions/{id}.
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	rec, err := h.repo.GetDecision(r.Context(), GetTenantID(r.Context()), chi.URLParam(r, "id"))
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "decision not found")
		return
	}
	if err != nil {
		h.internalError(w, r, "decision lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// FederatedModel handles GET /federated/model.
func (h *Handler) FederatedModel(w http.ResponseWriter, r *http.Request) {
	version, weights, err := h.aggregator.CurrentWeights(r.Context())
	if err != nil {
		h.internalError(w, r, "model lookup failed", err)
		return
	}
	if weights == nil {
		weights = []float64{}
	}
	writeJSON(w, http.StatusOK, ModelResponse{Version: version, Weights: weights})
}

// FederatedUpdate handles POST /federated/update. Rejected submissions
// return 400 with the submit result.
func (h *Handler) FederatedUpdate(w http.ResponseWriter, r *http.Request) {
	var update domain.WeightUpdate
	if !decode(w, r, &update) {
		return
	}
	update.ReceivedAt = update.ReceivedAt.UTC()

	res, err := h.aggregator.Submit(r.Context(), update)
	if err != nil {
		h.internalError(w, r, "federated submit failed", err)
		return
	}
	if res.Aggregated && h.bus != nil {
		if err := bus.PublishJSON(r.Context(), h.bus, domain.GlobalTenant, domain.TopicFederatedAggregated, res); err != nil {
			slog.Error("failed to publish aggregation", "version", res.CurrentVersion, "error", err)
		}
	}

	status := http.StatusOK
	if !res.Accepted {
		status = http.StatusBadRequest
	}
	writeJSON(w, status, res)
}

// FederatedStatus handles GET /federated/status.
func (h *Handler) FederatedStatus(w http.ResponseWriter, r *http.Request) {
	reg, err := h.aggregator.Registry(r.Context())
	if err != nil {
		h.internalError(w, r, "registry lookup failed", err)
		return
	}
	writeJSON(w, http.StatusOK, reg)
}

// FederatedReset handles DELETE /federated/pending.
func (h *Handler) FederatedReset(w http.ResponseWriter, r *http.Request) {
	dropped, err := h.aggregator.Reset(r.Context())
	if err != nil {
		h.internalError(w, r, "pending reset failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"dropped": dropped})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	checks := map[string]string{}

	check := func(name string, ping func() error) {
		if err := ping(); err != nil {
			status = "degraded"
			checks[name] = err.Error()
			return
		}
		checks[name] = "ok"
	}
	if h.repo != nil {
		check("repository", func() error { return h.repo.Ping(r.Context()) })
	}
	if h.cache != nil {
		check("cache", func() error { return h.cache.Ping(r.Context()) })
	}
	if h.bus != nil {
		check("bus", func() error { return h.bus.Ping(r.Context()) })
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": h.version,
		"checks":  checks,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	slog.Error(msg,
		"tenant_id", GetTenantID(r.Context()),
		"trace_id", GetTraceID(r.Context()),
		"error", err,
	)
	writeError(w, http.StatusInternalServerError, msg)
}

func actionStatus(a domain.Action) int {
	switch a {
	case domain.ActionGranted:
		return http.StatusOK
	case domain.ActionChallenged:
		return http.StatusAccepted
	default:
		return http.StatusUnauthorized
	}
}

// decode reads a JSON body, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request body")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
