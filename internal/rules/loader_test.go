package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-engine/internal/model"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

const validBundle = `
company_id: co1
scoring:
  - name: referral bonus
    field: source
    operator: equals
    value: referral
    points: 20
  - name: long shot
    enabled: false
    field: probability
    operator: less_than
    value: "30"
    points: -10
automation:
  - name: breach escalation
    trigger: sla_breach
    action: auto_escalate
    params:
      escalate_to: vp-sales
  - name: welcome tag
    priority: 5
    trigger: new_lead
    action: auto_tag
    params:
      tag: fresh
`

func TestParse_ValidBundle(t *testing.T) {
	b, err := Parse([]byte(validBundle), testNow)
	require.NoError(t, err)

	assert.Equal(t, "co1", b.CompanyID)
	require.Len(t, b.Scoring, 2)
	assert.True(t, b.Scoring[0].Enabled)
	assert.False(t, b.Scoring[1].Enabled)
	assert.NotEmpty(t, b.Scoring[0].ID)
	assert.Equal(t, model.OpEquals, b.Scoring[0].Operator)

	require.Len(t, b.Automation, 2)
	assert.Equal(t, 100, b.Automation[0].Priority) // default
	assert.Equal(t, 5, b.Automation[1].Priority)
	assert.Equal(t, "vp-sales", b.Automation[0].Params.EscalateTo)
	assert.Equal(t, model.TriggerNewLead, b.Automation[1].Trigger)
}

func TestParse_MissingCompanyID(t *testing.T) {
	_, err := Parse([]byte(`scoring: []`), testNow)
	require.Error(t, err)
}

func TestParse_UnknownOperatorRejected(t *testing.T) {
	bad := `
company_id: co1
scoring:
  - name: broken
    field: source
    operator: resembles
    value: x
    points: 5
`
	_, err := Parse([]byte(bad), testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "operator")
}

func TestParse_UnknownFieldRejected(t *testing.T) {
	bad := `
company_id: co1
scoring:
  - name: broken
    field: favorite_color
    operator: equals
    value: blue
    points: 5
`
	_, err := Parse([]byte(bad), testNow)
	require.Error(t, err)
}

func TestParse_MissingActionParamRejected(t *testing.T) {
	bad := `
company_id: co1
automation:
  - name: broken move
    trigger: stage_change
    action: auto_move_stage
`
	_, err := Parse([]byte(bad), testNow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target_stage")
}

func TestParse_MalformedYAML(t *testing.T) {
	_, err := Parse([]byte("company_id: [unclosed"), testNow)
	require.Error(t, err)
}
