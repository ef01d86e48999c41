package trigger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-engine/internal/model"
)

func stageChangeEvent(from, to model.Stage) *model.LeadEvent {
	return &model.LeadEvent{
		Trigger:    model.TriggerStageChange,
		CompanyID:  "co1",
		Current:    model.Lead{ID: "l1", CompanyID: "co1", Stage: to},
		Previous:   &model.Lead{ID: "l1", CompanyID: "co1", Stage: from},
		OccurredAt: time.Now().UTC(),
	}
}

func TestMatchingRules_StageChange(t *testing.T) {
	rules := []model.AutomationRule{
		{Name: "any move", Enabled: true, Priority: 10, Trigger: model.TriggerStageChange, Action: model.ActionNotify},
		{Name: "to proposal", Enabled: true, Priority: 20, Trigger: model.TriggerStageChange,
			Conditions: model.TriggerConditions{ToStage: model.StageProposal}, Action: model.ActionTag},
		{Name: "from new to contacted", Enabled: true, Priority: 30, Trigger: model.TriggerStageChange,
			Conditions: model.TriggerConditions{FromStage: model.StageNew, ToStage: model.StageContacted}, Action: model.ActionAssign},
		{Name: "disabled", Enabled: false, Priority: 1, Trigger: model.TriggerStageChange, Action: model.ActionNotify},
		{Name: "wrong trigger", Enabled: true, Priority: 1, Trigger: model.TriggerNewLead, Action: model.ActionNotify},
	}

	matched := MatchingRules(stageChangeEvent(model.StageQualified, model.StageProposal), rules, time.Now())

	require.Len(t, matched, 2)
	assert.Equal(t, "any move", matched[0].Name)
	assert.Equal(t, "to proposal", matched[1].Name)
}

func TestMatchingRules_StageChangeRequiresActualChange(t *testing.T) {
	rules := []model.AutomationRule{
		{Name: "any move", Enabled: true, Trigger: model.TriggerStageChange},
	}

	assert.Empty(t, MatchingRules(stageChangeEvent(model.StageProposal, model.StageProposal), rules, time.Now()))

	noPrevious := &model.LeadEvent{
		Trigger: model.TriggerStageChange,
		Current: model.Lead{Stage: model.StageProposal},
	}
	assert.Empty(t, MatchingRules(noPrevious, rules, time.Now()))
}

func TestMatchingRules_SortedByAscendingPriority(t *testing.T) {
	rules := []model.AutomationRule{
		{Name: "third", Enabled: true, Priority: 300, Trigger: model.TriggerNewLead},
		{Name: "first", Enabled: true, Priority: 1, Trigger: model.TriggerNewLead},
		{Name: "second-a", Enabled: true, Priority: 50, Trigger: model.TriggerNewLead},
		{Name: "second-b", Enabled: true, Priority: 50, Trigger: model.TriggerNewLead},
	}
	event := &model.LeadEvent{Trigger: model.TriggerNewLead, Current: model.Lead{Stage: model.StageNew}}

	matched := MatchingRules(event, rules, time.Now())

	require.Len(t, matched, 4)
	assert.Equal(t, []string{"first", "second-a", "second-b", "third"},
		[]string{matched[0].Name, matched[1].Name, matched[2].Name, matched[3].Name})
}

func TestMatchingRules_StaleLead(t *testing.T) {
	now := time.Now().UTC()
	rules := []model.AutomationRule{
		{Name: "default threshold", Enabled: true, Trigger: model.TriggerStaleLead},
		{Name: "strict threshold", Enabled: true, Trigger: model.TriggerStaleLead,
			Conditions: model.TriggerConditions{StaleDays: 30}},
	}

	fifteenDaysStale := &model.LeadEvent{
		Trigger: model.TriggerStaleLead,
		Current: model.Lead{Stage: model.StageContacted, UpdatedAt: now.Add(-15 * 24 * time.Hour)},
	}
	matched := MatchingRules(fifteenDaysStale, rules, now)
	require.Len(t, matched, 1)
	assert.Equal(t, "default threshold", matched[0].Name)

	fortyDaysStale := &model.LeadEvent{
		Trigger: model.TriggerStaleLead,
		Current: model.Lead{Stage: model.StageContacted, UpdatedAt: now.Add(-40 * 24 * time.Hour)},
	}
	assert.Len(t, MatchingRules(fortyDaysStale, rules, now), 2)

	fresh := &model.LeadEvent{
		Trigger: model.TriggerStaleLead,
		Current: model.Lead{Stage: model.StageContacted, UpdatedAt: now.Add(-2 * 24 * time.Hour)},
	}
	assert.Empty(t, MatchingRules(fresh, rules, now))
}

func TestMatchingRules_StaleLeadSkipsTerminalStages(t *testing.T) {
	now := time.Now().UTC()
	rules := []model.AutomationRule{
		{Name: "stale", Enabled: true, Trigger: model.TriggerStaleLead},
	}
	event := &model.LeadEvent{
		Trigger: model.TriggerStaleLead,
		Current: model.Lead{Stage: model.StageWon, UpdatedAt: now.Add(-90 * 24 * time.Hour)},
	}

	assert.Empty(t, MatchingRules(event, rules, now))
}

func TestMatchingRules_ValueChange(t *testing.T) {
	rules := []model.AutomationRule{
		{Name: "any change", Enabled: true, Trigger: model.TriggerValueChange},
		{Name: "big deals only", Enabled: true, Trigger: model.TriggerValueChange,
			Conditions: model.TriggerConditions{MinValue: 100000}},
	}

	event := &model.LeadEvent{
		Trigger:  model.TriggerValueChange,
		Current:  model.Lead{ExpectedValue: 50000},
		Previous: &model.Lead{ExpectedValue: 20000},
	}
	matched := MatchingRules(event, rules, time.Now())
	require.Len(t, matched, 1)
	assert.Equal(t, "any change", matched[0].Name)

	unchanged := &model.LeadEvent{
		Trigger:  model.TriggerValueChange,
		Current:  model.Lead{ExpectedValue: 50000},
		Previous: &model.Lead{ExpectedValue: 50000},
	}
	assert.Empty(t, MatchingRules(unchanged, rules, time.Now()))
}

func TestMatchingRules_SLABreachAndNewLead(t *testing.T) {
	rules := []model.AutomationRule{
		{Name: "breach escalation", Enabled: true, Trigger: model.TriggerSLABreach, Action: model.ActionEscalate},
		{Name: "welcome", Enabled: true, Trigger: model.TriggerNewLead, Action: model.ActionNotify},
	}

	breach := &model.LeadEvent{
		Trigger: model.TriggerSLABreach,
		Current: model.Lead{Stage: model.StageContacted, SLABreached: true},
	}
	matched := MatchingRules(breach, rules, time.Now())
	require.Len(t, matched, 1)
	assert.Equal(t, "breach escalation", matched[0].Name)

	fresh := &model.LeadEvent{Trigger: model.TriggerNewLead, Current: model.Lead{Stage: model.StageNew}}
	matched = MatchingRules(fresh, rules, time.Now())
	require.Len(t, matched, 1)
	assert.Equal(t, "welcome", matched[0].Name)
}

func TestMatchingRules_SLABreachRequiresBreachedLead(t *testing.T) {
	rules := []model.AutomationRule{
		{Name: "breach escalation", Enabled: true, Trigger: model.TriggerSLABreach, Action: model.ActionEscalate},
	}

	// Events arrive over POST /events too; the breach flag on the lead
	// itself decides, not the event label.
	unbreached := &model.LeadEvent{
		Trigger: model.TriggerSLABreach,
		Current: model.Lead{Stage: model.StageContacted, SLABreached: false},
	}

	assert.Empty(t, MatchingRules(unbreached, rules, time.Now()))
}
