package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/usba/internal/store"
	"github.com/go-chi/chi/v5"
)

const healthCheckTimeout = 5 * time.Second

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	repo      store.Repository
	aiEnabled bool
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, aiEnabled bool) *HealthHandler {
	return &HealthHandler{repo: repo, aiEnabled: aiEnabled}
}

// Health returns the health status of the API and its dependencies.
// A disabled AI service is reported but does not degrade the status.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	checks := map[string]string{"api": "ok", "ai": "configured"}
	if !h.aiEnabled {
		checks["ai"] = "disabled"
	}
	status := map[string]interface{}{
		"status": "healthy",
		"checks": checks,
	}
	statusCode := http.StatusOK

	if err := h.repo.Ping(ctx); err != nil {
		slog.Error("Health check failed", "error", err)
		status["status"] = "degraded"
		checks["database"] = "unreachable"
		statusCode = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	JSON(w, statusCode, status)
}

// RegisterHealth registers the health check route.
func (h *HealthHandler) RegisterHealth(r chi.Router) {
	r.Get("/health", h.Health)
}
