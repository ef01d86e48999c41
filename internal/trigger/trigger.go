// Package trigger selects the automation rules activated by a lead event.
package trigger

import (
	"sort"
	"time"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// MatchingRules returns the enabled rules whose trigger and conditions
// match the event, sorted by ascending priority (stable, so equal
// priorities keep their listing order). The caller executes them in the
// returned order.
func MatchingRules(event *model.LeadEvent, rules []model.AutomationRule, now time.Time) []model.AutomationRule {
	var matched []model.AutomationRule
	for i := range rules {
		r := &rules[i]
		if !r.Enabled || r.Trigger != event.Trigger {
			continue
		}
		if conditionsMatch(event, r, now) {
			matched = append(matched, *r)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority < matched[j].Priority
	})
	return matched
}

func conditionsMatch(event *model.LeadEvent, rule *model.AutomationRule, now time.Time) bool {
	c := rule.Conditions
	switch rule.Trigger {
	case model.TriggerStageChange:
		// Empty from/to acts as a wildcard. A same-stage update is not a
		// stage change.
		if event.Previous == nil || event.Previous.Stage == event.Current.Stage {
			return false
		}
		if c.FromStage != "" && event.Previous.Stage != c.FromStage {
			return false
		}
		if c.ToStage != "" && event.Current.Stage != c.ToStage {
			return false
		}
		return true

	case model.TriggerStaleLead:
		if event.Current.Stage.Terminal() {
			return false
		}
		threshold := c.StaleDays
		if threshold == 0 {
			threshold = model.DefaultStaleDays
		}
		return event.Current.StaleDays(now) >= threshold

	case model.TriggerValueChange:
		if event.Previous == nil || event.Previous.ExpectedValue == event.Current.ExpectedValue {
			return false
		}
		return event.Current.ExpectedValue >= c.MinValue

	case model.TriggerSLABreach:
		return event.Current.SLABreached

	case model.TriggerNewLead:
		return true
	}
	return false
}
