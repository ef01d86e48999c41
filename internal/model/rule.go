package model

import (
	"time"

	"github.com/rotisserie/eris"
)

// Operator is a condition comparison operator.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpIsSet       Operator = "is_set"
	OpIsNotSet    Operator = "is_not_set"
)

// Valid reports whether the operator is one the matcher understands.
func (o Operator) Valid() bool {
	switch o {
	case OpEquals, OpNotEquals, OpContains, OpGreaterThan, OpLessThan, OpIsSet, OpIsNotSet:
		return true
	}
	return false
}

// ScoringRule is a weighted condition contributing to a lead's score.
// All enabled rules are evaluated; matched point values accumulate.
type ScoringRule struct {
	ID        string    `json:"id"`
	CompanyID string    `json:"company_id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	Field     string    `json:"field"`
	Operator  Operator  `json:"operator"`
	Value     string    `json:"value"`
	Points    int       `json:"points"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate rejects malformed rules at save time so evaluation never sees
// an unknown operator or field name.
func (r *ScoringRule) Validate() error {
	if r.Name == "" {
		return eris.New("scoring rule: name is required")
	}
	if !ValidLeadField(r.Field) {
		return eris.Errorf("scoring rule %q: unknown field %q", r.Name, r.Field)
	}
	if !r.Operator.Valid() {
		return eris.Errorf("scoring rule %q: unknown operator %q", r.Name, r.Operator)
	}
	return nil
}

// TriggerEvent names a lifecycle occurrence that activates automation rules.
type TriggerEvent string

const (
	TriggerStageChange TriggerEvent = "stage_change"
	TriggerSLABreach   TriggerEvent = "sla_breach"
	TriggerStaleLead   TriggerEvent = "stale_lead"
	TriggerValueChange TriggerEvent = "value_change"
	TriggerNewLead     TriggerEvent = "new_lead"
)

// Valid reports whether the trigger event is known.
func (t TriggerEvent) Valid() bool {
	switch t {
	case TriggerStageChange, TriggerSLABreach, TriggerStaleLead, TriggerValueChange, TriggerNewLead:
		return true
	}
	return false
}

// ActionType names an automation action.
type ActionType string

const (
	ActionNotify    ActionType = "auto_notify"
	ActionAssign    ActionType = "auto_assign"
	ActionMoveStage ActionType = "auto_move_stage"
	ActionEscalate  ActionType = "auto_escalate"
	ActionTag       ActionType = "auto_tag"
)

// Valid reports whether the action type is known.
func (a ActionType) Valid() bool {
	switch a {
	case ActionNotify, ActionAssign, ActionMoveStage, ActionEscalate, ActionTag:
		return true
	}
	return false
}

// DefaultStaleDays is the staleness threshold used when a stale_lead rule
// does not configure its own.
const DefaultStaleDays = 14

// TriggerConditions holds the trigger-specific matching parameters.
type TriggerConditions struct {
	FromStage Stage   `json:"from_stage,omitempty" yaml:"from_stage"`
	ToStage   Stage   `json:"to_stage,omitempty" yaml:"to_stage"`
	StaleDays int     `json:"stale_days,omitempty" yaml:"stale_days"`
	MinValue  float64 `json:"min_value,omitempty" yaml:"min_value"`
}

// ActionParams holds the action-specific payload.
type ActionParams struct {
	NotifyRoles []string `json:"notify_roles,omitempty" yaml:"notify_roles"`
	AssignTo    string   `json:"assign_to,omitempty" yaml:"assign_to"`
	TargetStage Stage    `json:"target_stage,omitempty" yaml:"target_stage"`
	EscalateTo  string   `json:"escalate_to,omitempty" yaml:"escalate_to"`
	Tag         string   `json:"tag,omitempty" yaml:"tag"`
}

// AutomationRule binds a trigger event to an action. ExecutionCount and
// LastExecutedAt are mutated only by the action executor.
type AutomationRule struct {
	ID             string            `json:"id"`
	CompanyID      string            `json:"company_id"`
	Name           string            `json:"name"`
	Enabled        bool              `json:"enabled"`
	Priority       int               `json:"priority"` // ascending = evaluated first
	Trigger        TriggerEvent      `json:"trigger"`
	Conditions     TriggerConditions `json:"conditions"`
	Action         ActionType        `json:"action"`
	Params         ActionParams      `json:"params"`
	ExecutionCount int               `json:"execution_count"`
	LastExecutedAt *time.Time        `json:"last_executed_at,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// Validate rejects malformed automation rules at save time. Parameters
// with documented defaults (notify roles, escalation target) may be empty.
func (r *AutomationRule) Validate() error {
	if r.Name == "" {
		return eris.New("automation rule: name is required")
	}
	if !r.Trigger.Valid() {
		return eris.Errorf("automation rule %q: unknown trigger %q", r.Name, r.Trigger)
	}
	if !r.Action.Valid() {
		return eris.Errorf("automation rule %q: unknown action %q", r.Name, r.Action)
	}
	switch r.Action {
	case ActionAssign:
		if r.Params.AssignTo == "" {
			return eris.Errorf("automation rule %q: auto_assign requires assign_to", r.Name)
		}
	case ActionMoveStage:
		if r.Params.TargetStage == "" {
			return eris.Errorf("automation rule %q: auto_move_stage requires target_stage", r.Name)
		}
	case ActionTag:
		if r.Params.Tag == "" {
			return eris.Errorf("automation rule %q: auto_tag requires tag", r.Name)
		}
	}
	if r.Conditions.StaleDays < 0 {
		return eris.Errorf("automation rule %q: stale_days must be >= 0", r.Name)
	}
	return nil
}
