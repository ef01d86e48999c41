package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestActionStatus_CanTransitionTo(t *testing.T) {
	legal := []struct{ from, to ActionStatus }{
		{StatusPending, StatusApproved},
		{StatusPending, StatusDismissed},
		{StatusApproved, StatusExecuted},
	}
	for _, tc := range legal {
		assert.True(t, tc.from.CanTransitionTo(tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	statuses := []ActionStatus{StatusPending, StatusApproved, StatusDismissed, StatusExecuted}
	legalSet := map[[2]ActionStatus]bool{}
	for _, tc := range legal {
		legalSet[[2]ActionStatus{tc.from, tc.to}] = true
	}
	for _, from := range statuses {
		for _, to := range statuses {
			if !legalSet[[2]ActionStatus{from, to}] {
				assert.False(t, from.CanTransitionTo(to), "%s -> %s should be rejected", from, to)
			}
		}
	}
}

func TestLead_Field(t *testing.T) {
	lead := &Lead{
		Stage:         StageProposal,
		Source:        "referral",
		ExpectedValue: 50000,
		Probability:   45,
		Score:         70,
	}

	assert.Equal(t, "proposal", lead.Field("stage"))
	assert.Equal(t, "referral", lead.Field("source"))
	assert.Equal(t, "50000", lead.Field("expected_value"))
	assert.Equal(t, "45", lead.Field("probability"))
	// Unknown names coerce to empty, they never panic.
	assert.Equal(t, "", lead.Field("favorite_color"))

	assert.True(t, ValidLeadField("probability"))
	assert.False(t, ValidLeadField("favorite_color"))
}

func TestLead_FieldFormatsFractionalValue(t *testing.T) {
	lead := &Lead{ExpectedValue: 1234.5}
	assert.Equal(t, "1234.5", lead.Field("expected_value"))
}

func TestEscalationDedupeKey_StableAcrossZones(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	eastern := at.In(time.FixedZone("EST", -5*3600))

	assert.Equal(t, EscalationDedupeKey("l1", at), EscalationDedupeKey("l1", eastern))
	assert.NotEqual(t, EscalationDedupeKey("l1", at), EscalationDedupeKey("l2", at))
	assert.NotEqual(t, EscalationDedupeKey("l1", at), EscalationDedupeKey("l1", at.Add(time.Second)))
}

func TestStageClassification(t *testing.T) {
	assert.True(t, StageWon.Terminal())
	assert.True(t, StageLost.Terminal())
	assert.True(t, StageArchived.Terminal())
	assert.False(t, StageProposal.Terminal())

	assert.True(t, StageProposal.Advanced())
	assert.True(t, StageNegotiation.Advanced())
	assert.False(t, StageNew.Advanced())
}

func TestAutomationRule_Validate(t *testing.T) {
	valid := AutomationRule{
		Name: "escalate breaches", Trigger: TriggerSLABreach, Action: ActionEscalate,
	}
	assert.NoError(t, valid.Validate())

	missingTag := AutomationRule{Name: "tag", Trigger: TriggerNewLead, Action: ActionTag}
	assert.Error(t, missingTag.Validate())

	badTrigger := AutomationRule{Name: "x", Trigger: "eclipse", Action: ActionNotify}
	assert.Error(t, badTrigger.Validate())
}
