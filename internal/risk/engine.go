// Package risk recomputes portfolio analytics after every tracker event and
// raises threshold alerts against a configurable limit set. Alerts are
// debounced by breach episode: a limit that stays breached across many
// recomputations produces one alert, re-raised only after acknowledgment or
// after the metric has recovered and breached again.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/arbtrack/arbtrack/internal/bus"
	"github.com/arbtrack/arbtrack/internal/domain"
	"github.com/arbtrack/arbtrack/internal/tracker"
)

// criticalRatio escalates severity once the metric runs this far past its
// threshold.
const criticalRatio = 1.25

// breachKey identifies one debounce episode. Symbol is empty except for
// concentration breaches, which track an episode per symbol.
type breachKey struct {
	Type   domain.AlertType
	Symbol string
}

// Engine consumes tracker events and maintains risk alerts.
type Engine struct {
	tracker *tracker.Tracker
	bus     *bus.Bus
	limits  domain.RiskLimits

	mu       sync.Mutex
	alerts   []domain.RiskAlert
	byID     map[string]int      // alert id -> index into alerts
	breached map[breachKey]string // active episode -> alert id

	store  domain.AlertStore // optional durable mirror
	audit  domain.AuditStore // optional
	logger *slog.Logger
}

// NewEngine creates an Engine. store and audit may be nil.
func NewEngine(trk *tracker.Tracker, b *bus.Bus, limits domain.RiskLimits, store domain.AlertStore, audit domain.AuditStore, logger *slog.Logger) *Engine {
	return &Engine{
		tracker:  trk,
		bus:      b,
		limits:   limits,
		byID:     make(map[string]int),
		breached: make(map[breachKey]string),
		store:    store,
		audit:    audit,
		logger:   logger.With(slog.String("component", "risk")),
	}
}

// Start subscribes the engine to tracker events. Every position mutation
// triggers a full metrics recomputation and limit evaluation on the
// mutator's goroutine. The returned function unsubscribes.
func (e *Engine) Start(ctx context.Context) func() {
	unsubs := []func(){
		e.bus.Subscribe(domain.EventPositionAdded, func(domain.Event) { e.Recompute(ctx) }),
		e.bus.Subscribe(domain.EventPositionUpdated, func(domain.Event) { e.Recompute(ctx) }),
		e.bus.Subscribe(domain.EventPositionClosed, func(domain.Event) { e.Recompute(ctx) }),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Metrics recomputes the portfolio snapshot from the current position set.
// It takes no lock on tracker state beyond the snapshot copy, so readers
// never block writers.
func (e *Engine) Metrics() domain.PortfolioMetrics {
	return ComputeMetrics(e.tracker.Snapshot(), time.Now().UTC())
}

// Recompute derives fresh metrics and evaluates every configured limit,
// raising alerts for new breach episodes.
func (e *Engine) Recompute(ctx context.Context) domain.PortfolioMetrics {
	positions := e.tracker.Snapshot()
	now := time.Now().UTC()
	metrics := ComputeMetrics(positions, now)

	e.mu.Lock()
	raised := e.evaluateLocked(metrics, positions, now)
	e.mu.Unlock()

	for _, alert := range raised {
		e.record(ctx, alert)
		e.bus.Publish(domain.Event{Type: domain.EventRiskAlert, At: now, Data: alert})
	}

	return metrics
}

// evaluateLocked checks each limit against the fresh metrics. A key already
// in breached is an ongoing episode and raises nothing; a key whose metric
// has recovered is cleared so the next breach opens a new episode.
func (e *Engine) evaluateLocked(m domain.PortfolioMetrics, positions []domain.SyntheticPosition, now time.Time) []domain.RiskAlert {
	var raised []domain.RiskAlert

	check := func(key breachKey, breach bool, threshold, value float64, msg string) {
		if !breach {
			delete(e.breached, key)
			return
		}
		if _, ongoing := e.breached[key]; ongoing {
			return
		}
		alert := e.newAlertLocked(key, threshold, value, msg, now)
		raised = append(raised, alert)
	}

	if e.limits.MaxTotalExposure > 0 {
		check(breachKey{Type: domain.AlertTypeExposureLimit},
			m.TotalExposure > e.limits.MaxTotalExposure,
			e.limits.MaxTotalExposure, m.TotalExposure,
			fmt.Sprintf("total exposure %.2f exceeds limit %.2f", m.TotalExposure, e.limits.MaxTotalExposure))
	}
	if e.limits.MaxVaR95 > 0 {
		check(breachKey{Type: domain.AlertTypeVaRLimit},
			m.VaR95 > e.limits.MaxVaR95,
			e.limits.MaxVaR95, m.VaR95,
			fmt.Sprintf("VaR95 %.2f exceeds limit %.2f", m.VaR95, e.limits.MaxVaR95))
	}
	if e.limits.MaxPositionCount > 0 {
		open := m.PendingPositions + m.ActivePositions
		check(breachKey{Type: domain.AlertTypePositionCount},
			open > e.limits.MaxPositionCount,
			float64(e.limits.MaxPositionCount), float64(open),
			fmt.Sprintf("open position count %d exceeds limit %d", open, e.limits.MaxPositionCount))
	}
	if e.limits.MaxConcentration > 0 && m.TotalExposure > 0 {
		for symbol, exposure := range SymbolExposures(positions) {
			frac := exposure / m.TotalExposure
			check(breachKey{Type: domain.AlertTypeConcentration, Symbol: symbol},
				frac > e.limits.MaxConcentration,
				e.limits.MaxConcentration, frac,
				fmt.Sprintf("symbol %s holds %.1f%% of exposure, limit %.1f%%", symbol, frac*100, e.limits.MaxConcentration*100))
		}
	}

	return raised
}

func (e *Engine) newAlertLocked(key breachKey, threshold, value float64, msg string, now time.Time) domain.RiskAlert {
	severity := domain.AlertSeverityWarning
	if threshold > 0 && value >= threshold*criticalRatio {
		severity = domain.AlertSeverityCritical
	}

	alert := domain.RiskAlert{
		ID:           uuid.NewString(),
		Type:         key.Type,
		Severity:     severity,
		Message:      msg,
		Symbol:       key.Symbol,
		Threshold:    threshold,
		CurrentValue: value,
		CreatedAt:    now,
	}

	e.byID[alert.ID] = len(e.alerts)
	e.alerts = append(e.alerts, alert)
	e.breached[key] = alert.ID
	return alert
}

// record mirrors a raised alert to the durable store and audit log.
func (e *Engine) record(ctx context.Context, alert domain.RiskAlert) {
	e.logger.WarnContext(ctx, "risk alert raised",
		slog.String("alert_id", alert.ID),
		slog.String("type", string(alert.Type)),
		slog.String("severity", string(alert.Severity)),
		slog.Float64("threshold", alert.Threshold),
		slog.Float64("value", alert.CurrentValue),
	)
	if e.store != nil {
		if err := e.store.Insert(ctx, alert); err != nil {
			e.logger.WarnContext(ctx, "alert store insert failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, "risk_alert", map[string]any{
			"alert_id": alert.ID,
			"type":     string(alert.Type),
			"severity": string(alert.Severity),
			"value":    alert.CurrentValue,
		}); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("alert_id", alert.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Alerts returns copies of alerts matching the filter, newest first.
func (e *Engine) Alerts(filter domain.AlertFilter) []domain.RiskAlert {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []domain.RiskAlert
	for i := len(e.alerts) - 1; i >= 0; i-- {
		if filter.Match(e.alerts[i]) {
			out = append(out, e.alerts[i])
		}
	}
	return out
}

// AcknowledgeAlert marks an alert acknowledged and closes its breach episode
// so a persisting breach may raise a fresh alert. Acknowledging an
// already-acknowledged alert is a no-op.
func (e *Engine) AcknowledgeAlert(ctx context.Context, alertID string) error {
	now := time.Now().UTC()

	e.mu.Lock()
	idx, ok := e.byID[alertID]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("risk: acknowledge: %w", domain.ErrAlertNotFound)
	}
	alert := &e.alerts[idx]
	if alert.Acknowledged {
		e.mu.Unlock()
		return nil
	}
	alert.Acknowledged = true
	alert.AcknowledgedAt = &now

	key := breachKey{Type: alert.Type, Symbol: alert.Symbol}
	if e.breached[key] == alertID {
		delete(e.breached, key)
	}
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.MarkAcknowledged(ctx, alertID, now); err != nil {
			e.logger.WarnContext(ctx, "alert store ack failed",
				slog.String("alert_id", alertID),
				slog.String("error", err.Error()),
			)
		}
	}
	if e.audit != nil {
		if err := e.audit.Log(ctx, "alert_acknowledged", map[string]any{"alert_id": alertID}); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("alert_id", alertID),
				slog.String("error", err.Error()),
			)
		}
	}

	e.logger.InfoContext(ctx, "alert acknowledged", slog.String("alert_id", alertID))
	return nil
}
