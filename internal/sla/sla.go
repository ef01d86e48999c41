// Package sla derives deadlines, classifies leads against them, and
// generates pipeline health alerts.
package sla

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// Status classifies a lead against its SLA deadline.
type Status string

const (
	StatusOnTrack  Status = "on_track"
	StatusWarning  Status = "warning"
	StatusBreached Status = "breached"
)

// warningWindow is the remaining time under which an unbreached deadline
// is flagged as warning.
const warningWindow = 2 * time.Hour

// Classify returns the SLA status for a deadline at the given instant.
// A nil deadline is always on track; an explicit breach flag wins over
// the clock.
func Classify(deadline *time.Time, breached bool, now time.Time) Status {
	if breached {
		return StatusBreached
	}
	if deadline == nil {
		return StatusOnTrack
	}
	remaining := deadline.Sub(now)
	switch {
	case remaining < 0:
		return StatusBreached
	case remaining <= warningWindow:
		return StatusWarning
	default:
		return StatusOnTrack
	}
}

// stageWindows holds the per-stage SLA response windows. Terminal stages
// carry no deadline.
var stageWindows = map[model.Stage]time.Duration{
	model.StageNew:         24 * time.Hour,
	model.StageContacted:   3 * 24 * time.Hour,
	model.StageQualified:   7 * 24 * time.Hour,
	model.StageProposal:    5 * 24 * time.Hour,
	model.StageNegotiation: 7 * 24 * time.Hour,
}

// DeadlineFor derives the SLA deadline for a lead: a fixed window per
// stage, rolling from the last update. Returns nil for terminal stages.
func DeadlineFor(lead *model.Lead) *time.Time {
	window, ok := stageWindows[lead.Stage]
	if !ok {
		return nil
	}
	d := lead.UpdatedAt.Add(window)
	return &d
}

// Thresholds tunes alert generation. Zero values fall back to defaults.
type Thresholds struct {
	StaleDays         int     `yaml:"stale_days" mapstructure:"stale_days"`
	CriticalStaleDays int     `yaml:"critical_stale_days" mapstructure:"critical_stale_days"`
	BulkStale         int     `yaml:"bulk_stale" mapstructure:"bulk_stale"`
	HighValue         float64 `yaml:"high_value" mapstructure:"high_value"`
}

func (t Thresholds) withDefaults() Thresholds {
	if t.StaleDays <= 0 {
		t.StaleDays = model.DefaultStaleDays
	}
	if t.CriticalStaleDays <= 0 {
		t.CriticalStaleDays = 30
	}
	if t.BulkStale <= 0 {
		t.BulkStale = 10
	}
	if t.HighValue <= 0 {
		t.HighValue = 10000
	}
	return t
}

// DeriveAlerts generates the alert list for the given leads. It is a
// pure function of its inputs: no persistence, no side effects, same
// output for the same lead set and instant. The result is sorted by
// severity, then stable in rule discovery order.
func DeriveAlerts(leads []model.Lead, t Thresholds, now time.Time) []model.Alert {
	t = t.withDefaults()
	var alerts []model.Alert

	active := make([]*model.Lead, 0, len(leads))
	for i := range leads {
		if !leads[i].Stage.Terminal() {
			active = append(active, &leads[i])
		}
	}

	// 1. Stale leads: aggregate above the bulk threshold, per-lead below.
	var stale []*model.Lead
	for _, l := range active {
		if l.StaleDays(now) >= t.StaleDays {
			stale = append(stale, l)
		}
	}
	if len(stale) > t.BulkStale {
		alerts = append(alerts, model.Alert{
			ID:          fmt.Sprintf("stale-bulk-%d", len(stale)),
			Severity:    model.SeverityCritical,
			Type:        model.AlertStaleLeads,
			Title:       fmt.Sprintf("%d leads have gone stale", len(stale)),
			Description: fmt.Sprintf("Leads untouched for %d+ days include: %s", t.StaleDays, topTitles(stale, 5)),
		})
	} else {
		for _, l := range stale {
			severity := model.SeverityWarning
			if l.StaleDays(now) >= t.CriticalStaleDays {
				severity = model.SeverityCritical
			}
			alerts = append(alerts, model.Alert{
				ID:          "stale-" + l.ID,
				Severity:    severity,
				Type:        model.AlertStaleLeads,
				Title:       fmt.Sprintf("Lead stale for %d days", l.StaleDays(now)),
				Description: fmt.Sprintf("%q has not been updated since %s", l.Title, l.UpdatedAt.Format("2006-01-02")),
				LeadID:      l.ID,
				LeadTitle:   l.Title,
			})
		}
	}

	// 2. Breached SLAs: one aggregate alert.
	breached := 0
	for _, l := range active {
		if Classify(l.SLADeadline, l.SLABreached, now) == StatusBreached {
			breached++
		}
	}
	if breached > 0 {
		alerts = append(alerts, model.Alert{
			ID:          fmt.Sprintf("sla-breach-%d", breached),
			Severity:    model.SeverityCritical,
			Type:        model.AlertSLABreach,
			Title:       fmt.Sprintf("%d leads past SLA deadline", breached),
			Description: "Response-time commitments have been missed; review the breached leads.",
		})
	}

	// 3. High-value leads with low win probability: per-lead warnings.
	for _, l := range active {
		if l.ExpectedValue > t.HighValue && l.Probability > 0 && l.Probability < 30 {
			alerts = append(alerts, model.Alert{
				ID:          "lowprob-" + l.ID,
				Severity:    model.SeverityWarning,
				Type:        model.AlertLowProbability,
				Title:       fmt.Sprintf("High-value lead at %d%% win probability", l.Probability),
				Description: fmt.Sprintf("%q is worth %.0f but unlikely to close", l.Title, l.ExpectedValue),
				LeadID:      l.ID,
				LeadTitle:   l.Title,
			})
		}
	}

	// 4. Overdue expected close dates: one aggregate alert.
	overdue := 0
	for _, l := range active {
		if l.ExpectedCloseAt != nil && l.ExpectedCloseAt.Before(now) {
			overdue++
		}
	}
	if overdue > 0 {
		alerts = append(alerts, model.Alert{
			ID:          fmt.Sprintf("overdue-%d", overdue),
			Severity:    model.SeverityWarning,
			Type:        model.AlertOverdueClose,
			Title:       fmt.Sprintf("%d leads past their expected close date", overdue),
			Description: "Close dates have slipped; update the forecast or the dates.",
		})
	}

	// 5. Advanced-stage leads with no expected value: one aggregate alert.
	missingValue := 0
	for _, l := range active {
		if l.Stage.Advanced() && l.ExpectedValue == 0 {
			missingValue++
		}
	}
	if missingValue > 0 {
		alerts = append(alerts, model.Alert{
			ID:          fmt.Sprintf("novalue-%d", missingValue),
			Severity:    model.SeverityInfo,
			Type:        model.AlertMissingValue,
			Title:       fmt.Sprintf("%d advanced leads missing an expected value", missingValue),
			Description: "Proposal or negotiation stage leads without a value skew the forecast.",
		})
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Severity.Rank() < alerts[j].Severity.Rank()
	})
	return alerts
}

func topTitles(leads []*model.Lead, n int) string {
	if len(leads) < n {
		n = len(leads)
	}
	titles := make([]string, 0, n)
	for _, l := range leads[:n] {
		titles = append(titles, l.Title)
	}
	return strings.Join(titles, ", ")
}
