package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/gosds/retrieval-module/internal/config"
)

// ReadyChecker — проверка готовности зависимости (БД).
type ReadyChecker interface {
	Ready(ctx context.Context) error
}

// HealthHandler — liveness/readiness endpoints.
type HealthHandler struct {
	checker ReadyChecker
	logger  *slog.Logger
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(checker ReadyChecker, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{
		checker: checker,
		logger:  logger,
	}
}

// Live обрабатывает GET /health/live: процесс жив.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": config.Version,
	})
}

// Ready обрабатывает GET /health/ready: зависимости доступны.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := h.checker.Ready(r.Context()); err != nil {
		h.logger.Warn("Readiness-проверка не пройдена", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "unavailable",
			"error":  err.Error(),
		})
		return
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
