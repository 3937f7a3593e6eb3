// Package api provides HTTP handlers for the USBA service.
//
//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/ashureev/usba/internal/domain"
	"github.com/ashureev/usba/internal/gateway"
	"github.com/ashureev/usba/internal/identity"
	"github.com/ashureev/usba/internal/store"
	"github.com/ashureev/usba/internal/wizard"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 64 << 10

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode JSON response", "error", err)
	}
}

// Error writes an error response.
func Error(w http.ResponseWriter, status int, msg string) {
	JSON(w, status, map[string]string{"error": msg})
}

// Handler serves the wizard API for the calling device.
type Handler struct {
	registry      *wizard.Registry
	repo          store.Repository
	limiter       *RateLimiter
	aiEnabled     bool
	isDevelopment bool
}

// NewHandler creates a new API handler. limiter may be nil to disable rate limiting.
func NewHandler(registry *wizard.Registry, repo store.Repository, limiter *RateLimiter, aiEnabled, isDevelopment bool) *Handler {
	return &Handler{
		registry:      registry,
		repo:          repo,
		limiter:       limiter,
		aiEnabled:     aiEnabled,
		isDevelopment: isDevelopment,
	}
}

// RegisterRoutes registers the /api routes. Routes that call the AI service
// are rate limited per device.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Get("/me", h.GetMe)
		r.Get("/config", h.GetConfig)
		r.Get("/state", h.GetState)
		r.Post("/disclaimer/accept", h.AcceptDisclaimer)
		r.Post("/setup/location", h.SetLocation)
		r.Post("/setup/casino", h.SelectCasino)
		r.Post("/session/begin", h.BeginSession)
		r.Post("/session/spins", h.LogSpin)
		r.Post("/session/stage", h.MoveStage)
		r.Post("/session/end", h.EndSession)
		r.Post("/session/win", h.RecordWin)
		r.Post("/session/comps", h.Comps)

		r.Group(func(r chi.Router) {
			r.Use(h.limiter.Middleware)
			r.Post("/setup/location/detect", h.DetectLocation)
			r.Post("/setup/location/confirm", h.ConfirmLocation)
			r.Post("/setup/casinos/search", h.SearchCasinos)
			r.Post("/setup/plan", h.GeneratePlan)
			r.Get("/analysis", h.RegionalAnalysis)
			r.Post("/session/stages/{index}/refine", h.RefineStage)
			r.Get("/session/machines", h.ListMachines)
			r.Post("/session/insight", h.Insight)
			r.Post("/machines/identify", h.IdentifyMachine)
			r.Post("/machines/analyze", h.AnalyzePaytable)
		})
	})
}

// machine returns the wizard for the calling device.
func (h *Handler) machine(r *http.Request) *wizard.Machine {
	return h.registry.Get(r.Context(), identity.UserIDFromContext(r.Context()))
}

// respond writes the machine's state after a wizard operation, or the error.
func respond(w http.ResponseWriter, m *wizard.Machine, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	JSON(w, http.StatusOK, NewStateView(m.Snapshot()))
}

// statusFor maps wizard, domain and gateway errors to HTTP status codes.
func statusFor(err error) int {
	var gwErr *gateway.Error
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case errors.Is(err, wizard.ErrInvalidTransition), errors.Is(err, wizard.ErrStale):
		return http.StatusConflict
	case errors.Is(err, gateway.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	switch status {
	case http.StatusConflict:
		Error(w, status, err.Error())
	case http.StatusInternalServerError:
		slog.Error("Request failed", "error", err)
		Error(w, status, "internal error")
	default:
		Error(w, status, wizard.UserMessage(err))
	}
}

// decode reads a JSON request body into v. An empty body leaves v unchanged.
func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		Error(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// GetState returns the wizard state for the calling device.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, NewStateView(h.machine(r).Snapshot()))
}

// GetConfig returns the server configuration for the frontend.
func (h *Handler) GetConfig(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]interface{}{
		"ai_enabled": h.aiEnabled,
		"strategies": []gateway.Strategy{
			gateway.StrategyFlat,
			gateway.StrategyProgressive,
			gateway.StrategyMartingale,
			gateway.StrategyParoli,
		},
	})
}

// GetMe returns the current device's identity.
func (h *Handler) GetMe(w http.ResponseWriter, r *http.Request) {
	userID := identity.UserIDFromContext(r.Context())
	if userID == "" {
		Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	user, err := h.repo.GetUser(r.Context(), userID)
	if err != nil || user == nil {
		Error(w, http.StatusUnauthorized, "user not found")
		return
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"user_id":      user.UserID,
		"username":     user.Username,
		"tab_id":       identity.TabIDFromContext(r.Context()),
		"created_at":   user.CreatedAt,
		"last_seen_at": user.LastSeenAt,
	})
}
