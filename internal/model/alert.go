package model

// AlertSeverity orders alerts for display: critical first, info last.
type AlertSeverity string

const (
	SeverityCritical AlertSeverity = "critical"
	SeverityWarning  AlertSeverity = "warning"
	SeverityInfo     AlertSeverity = "info"
)

// Rank returns the sort rank of the severity (lower sorts first).
func (s AlertSeverity) Rank() int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityWarning:
		return 1
	default:
		return 2
	}
}

// AlertType identifies the condition that produced an alert.
type AlertType string

const (
	AlertStaleLeads     AlertType = "stale_leads"
	AlertSLABreach      AlertType = "sla_breach"
	AlertLowProbability AlertType = "low_probability"
	AlertOverdueClose   AlertType = "overdue_close"
	AlertMissingValue   AlertType = "missing_value"
)

// Alert is derived fresh from the current lead set on every request.
// Alerts are never persisted.
type Alert struct {
	ID          string        `json:"id"`
	Severity    AlertSeverity `json:"severity"`
	Type        AlertType     `json:"type"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	LeadID      string        `json:"lead_id,omitempty"`
	LeadTitle   string        `json:"lead_title,omitempty"`
}
