package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/ingest"
	"github.com/arbtrack/arbtrack/internal/validate"
)

// IngestionHandler accepts tick batches over HTTP, runs them through the
// parser and validator, and reports per-record outcomes. A bad record never
// fails the batch.
type IngestionHandler struct {
	sink   func(domain.OddsTick) // receives each valid tick
	logger *slog.Logger
}

// NewIngestionHandler creates an IngestionHandler. sink may be nil when the
// caller only wants validation reports.
func NewIngestionHandler(sink func(domain.OddsTick), logger *slog.Logger) *IngestionHandler {
	return &IngestionHandler{
		sink:   sink,
		logger: logHandler(logger, "ingestion"),
	}
}

// batchRequest carries raw records in one of the supported formats. Records
// are strings, so JSON objects and CSV lines only. Binary payloads go through
// the feed adapter, not this endpoint.
type batchRequest struct {
	Format  string   `json:"format"`
	Records []string `json:"records"`
}

// recordError reports one failed record by its batch index.
type recordError struct {
	Index  int              `json:"index"`
	Error  string           `json:"error"`
	Issues []validate.Issue `json:"issues,omitempty"`
}

// IngestBatch parses and validates a batch of raw tick records.
// POST /api/ticks/batch
func (h *IngestionHandler) IngestBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	format := ingest.Format(req.Format)
	if format == "" {
		format = ingest.FormatJSON
	}

	var (
		accepted []domain.OddsTick
		failures []recordError
	)
	for i, raw := range req.Records {
		tick, err := ingest.ParseTick([]byte(raw), format)
		if err != nil {
			failures = append(failures, recordError{Index: i, Error: err.Error()})
			continue
		}
		if err := validate.Tick(tick); err != nil {
			verr := err.(*validate.ValidationError)
			failures = append(failures, recordError{Index: i, Error: "validation failed", Issues: verr.Issues})
			continue
		}
		accepted = append(accepted, tick)
		if h.sink != nil {
			h.sink(tick)
		}
	}

	// Ordering issues are reported against the accepted stream only.
	orderingIssues := validate.Sequence(accepted)

	total := len(req.Records)
	rate := 1.0
	if total > 0 {
		rate = float64(len(accepted)) / float64(total)
	}

	h.logger.InfoContext(r.Context(), "batch ingested",
		slog.Int("total", total),
		slog.Int("accepted", len(accepted)),
		slog.Int("failed", len(failures)),
	)

	writeJSON(w, http.StatusOK, map[string]any{
		"total":           total,
		"accepted":        len(accepted),
		"failed":          len(failures),
		"success_rate":    rate,
		"errors":          failures,
		"ordering_issues": orderingIssues,
	})
}
