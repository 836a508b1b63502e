package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/risk"
)

// RiskHandler exposes portfolio metrics and risk alerts.
type RiskHandler struct {
	engine *risk.Engine
	logger *slog.Logger
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(engine *risk.Engine, logger *slog.Logger) *RiskHandler {
	return &RiskHandler{
		engine: engine,
		logger: logHandler(logger, "risk"),
	}
}

// GetMetrics returns a fresh portfolio metrics snapshot.
// GET /api/metrics
func (h *RiskHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Metrics())
}

// ListAlerts returns risk alerts, newest first.
// GET /api/alerts?type=exposure_limit&severity=critical&unacknowledged=true&since=RFC3339
func (h *RiskHandler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.AlertFilter{
		Type:           domain.AlertType(q.Get("type")),
		Severity:       domain.AlertSeverity(q.Get("severity")),
		Unacknowledged: q.Get("unacknowledged") == "true",
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filter.Since = &t
	}

	alerts := h.engine.Alerts(filter)
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

// AckAlert acknowledges one alert. Repeat acknowledgments are no-ops.
// POST /api/alerts/{id}/ack
func (h *RiskHandler) AckAlert(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if err := h.engine.AcknowledgeAlert(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrAlertNotFound) {
			writeError(w, http.StatusNotFound, "alert not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "acknowledge failed",
			slog.String("alert_id", id),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to acknowledge alert")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
}
