package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/arbtrack/arbtrack/internal/domain"
)

// AlertNotifier forwards risk alerts to the configured notification channels.
// Only alerts at or above the configured minimum severity are sent, so
// operators can route warnings to logs and keep pagers for critical breaches.
type AlertNotifier struct {
	notifier    *Notifier
	minSeverity domain.AlertSeverity
	logger      *slog.Logger
}

// NewAlertNotifier creates an AlertNotifier. If minSeverity is empty it
// defaults to critical.
func NewAlertNotifier(notifier *Notifier, minSeverity domain.AlertSeverity, logger *slog.Logger) *AlertNotifier {
	if minSeverity == "" {
		minSeverity = domain.AlertSeverityCritical
	}
	return &AlertNotifier{
		notifier:    notifier,
		minSeverity: minSeverity,
		logger:      logger.With(slog.String("component", "alert_notifier")),
	}
}

// HandleEvent is a bus handler that reacts to risk alert events. Delivery is
// best-effort: sender failures are logged, never propagated to the publisher.
func (an *AlertNotifier) HandleEvent(evt domain.Event) {
	if evt.Type != domain.EventRiskAlert {
		return
	}
	alert, ok := evt.Data.(domain.RiskAlert)
	if !ok {
		return
	}
	if !severityAtLeast(alert.Severity, an.minSeverity) {
		return
	}

	ctx := context.Background()
	title, message := formatAlert(alert)
	if err := an.notifier.Notify(ctx, string(domain.EventRiskAlert), title, message); err != nil {
		an.logger.WarnContext(ctx, "alert notification failed",
			slog.String("alert_id", alert.ID),
			slog.String("error", err.Error()),
		)
	}
}

func severityAtLeast(sev, min domain.AlertSeverity) bool {
	rank := func(s domain.AlertSeverity) int {
		switch s {
		case domain.AlertSeverityCritical:
			return 2
		case domain.AlertSeverityWarning:
			return 1
		default:
			return 0
		}
	}
	return rank(sev) >= rank(min)
}

// formatAlert renders a risk alert as a short title plus a plain-text body
// suitable for chat channels.
func formatAlert(alert domain.RiskAlert) (title, message string) {
	title = fmt.Sprintf("[%s] %s", strings.ToUpper(string(alert.Severity)), alert.Type)

	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", alert.Message)
	if alert.Symbol != "" {
		fmt.Fprintf(&b, "Symbol: %s\n", alert.Symbol)
	}
	fmt.Fprintf(&b, "Value: %.2f (threshold %.2f)\n", alert.CurrentValue, alert.Threshold)
	fmt.Fprintf(&b, "Alert ID: %s", alert.ID)
	return title, b.String()
}
