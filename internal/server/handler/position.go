package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/tracker"
	"github.com/arbtrack/arbtrack/internal/validate"
)

// PositionHandler exposes the tracker's mutation and query API over HTTP.
type PositionHandler struct {
	tracker *tracker.Tracker
	logger  *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(trk *tracker.Tracker, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{
		tracker: trk,
		logger:  logHandler(logger, "positions"),
	}
}

// ListPositions returns every position, optionally filtered by status.
// GET /api/positions?status=active
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	status := domain.PositionStatus(r.URL.Query().Get("status"))

	positions := h.tracker.Snapshot()
	if status != "" {
		filtered := positions[:0]
		for _, p := range positions {
			if p.Status == status {
				filtered = append(filtered, p)
			}
		}
		positions = filtered
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"positions": positions,
		"count":     len(positions),
	})
}

// GetPosition returns one position by id.
// GET /api/positions/{id}
func (h *PositionHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	pos, err := h.tracker.GetPosition(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// addPositionRequest is the body for opening a position.
type addPositionRequest struct {
	Opportunity domain.ArbitrageOpportunity `json:"opportunity"`
	Metadata    domain.PositionMetadata    `json:"metadata"`
}

// AddPosition opens a new position from an opportunity.
// POST /api/positions
func (h *PositionHandler) AddPosition(w http.ResponseWriter, r *http.Request) {
	var req addPositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pos, err := h.tracker.AddPosition(r.Context(), req.Opportunity, req.Metadata)
	if err != nil {
		var verr *validate.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error":  "opportunity failed validation",
				"issues": verr.Issues,
			})
			return
		}
		h.logger.ErrorContext(r.Context(), "add position failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to add position")
		return
	}

	writeJSON(w, http.StatusCreated, pos)
}

// UpdateLeg applies a fill to one leg of a position.
// POST /api/positions/{id}/legs/{idx}
func (h *PositionHandler) UpdateLeg(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	idx, err := strconv.Atoi(pathParam(r, "idx"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "leg index must be an integer")
		return
	}

	var fill domain.LegFill
	if err := json.NewDecoder(r.Body).Decode(&fill); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pos, err := h.tracker.UpdateLegExecution(r.Context(), id, idx, fill)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// closePositionRequest is the body for closing a position.
type closePositionRequest struct {
	Reason      domain.PositionStatus `json:"reason"`
	RealizedPnL float64               `json:"realized_pnl"`
}

// ClosePosition moves a position to a terminal status.
// POST /api/positions/{id}/close
func (h *PositionHandler) ClosePosition(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	var req closePositionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		req.Reason = domain.PositionStatusCompleted
	}

	pos, err := h.tracker.ClosePosition(r.Context(), id, req.Reason, req.RealizedPnL)
	if err != nil {
		writeTrackerError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// writeTrackerError maps tracker sentinel errors to HTTP statuses.
func writeTrackerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrPositionNotFound):
		writeError(w, http.StatusNotFound, "position not found")
	case errors.Is(err, domain.ErrLegIndexOutOfRange):
		writeError(w, http.StatusBadRequest, "leg index out of range")
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid position state transition")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
