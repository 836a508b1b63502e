package domain

import "time"

// AlertType identifies which configured limit was breached.
type AlertType string

const (
	AlertTypeExposureLimit AlertType = "exposure_limit"
	AlertTypeVaRLimit      AlertType = "var_limit"
	AlertTypePositionCount AlertType = "position_count"
	AlertTypeConcentration AlertType = "concentration"
)

// AlertSeverity ranks how urgent an alert is.
type AlertSeverity string

const (
	AlertSeverityInfo     AlertSeverity = "info"
	AlertSeverityWarning  AlertSeverity = "warning"
	AlertSeverityCritical AlertSeverity = "critical"
)

// RiskAlert records one limit breach. Alerts are never deleted, only
// acknowledged; old acknowledged alerts may be pruned by the retention job.
type RiskAlert struct {
	ID             string        `json:"id"`
	Type           AlertType     `json:"type"`
	Severity       AlertSeverity `json:"severity"`
	Message        string        `json:"message"`
	Symbol         string        `json:"symbol,omitempty"` // set for concentration breaches
	Threshold      float64       `json:"threshold"`
	CurrentValue   float64       `json:"current_value"`
	Acknowledged   bool          `json:"acknowledged"`
	CreatedAt      time.Time     `json:"created_at"`
	AcknowledgedAt *time.Time    `json:"acknowledged_at,omitempty"`
}

// AlertFilter narrows GetRiskAlerts results. Zero values mean "any".
type AlertFilter struct {
	Type           AlertType
	Severity       AlertSeverity
	Unacknowledged bool
	Since          *time.Time
}

// Match reports whether the alert passes the filter.
func (f AlertFilter) Match(a RiskAlert) bool {
	if f.Type != "" && a.Type != f.Type {
		return false
	}
	if f.Severity != "" && a.Severity != f.Severity {
		return false
	}
	if f.Unacknowledged && a.Acknowledged {
		return false
	}
	if f.Since != nil && a.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}

// RiskLimits is the configurable limit set evaluated after every metrics
// recomputation. A zero limit disables that check.
type RiskLimits struct {
	MaxTotalExposure float64
	MaxVaR95         float64
	MaxPositionCount int
	MaxConcentration float64 // fraction of total exposure allowed in one symbol
}
