// Package store persists leads, rules, suggested actions, and the
// engine's bookkeeping rows. Two drivers are provided: Postgres (pgx)
// and SQLite (modernc.org/sqlite).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrTransitionConflict is returned when a conditional status update
// matched no row because the row is not in the expected status.
var ErrTransitionConflict = errors.New("store: status transition conflict")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	CompanyID string        `json:"company_id,omitempty"`
	Stages    []model.Stage `json:"stages,omitempty"`
	Limit     int           `json:"limit,omitempty"`
}

// LeadUpdate is a partial write of the engine-owned lead fields. Nil
// pointers leave the column untouched.
type LeadUpdate struct {
	Stage       *model.Stage
	AssignedTo  *string
	EscalatedTo *string
	Tags        []string // replaces tags when non-nil
	SLADeadline *time.Time
	SLABreached *bool
}

// Store defines the persistence interface for the rule engine.
type Store interface {
	// Leads
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)
	UpdateLead(ctx context.Context, id string, upd LeadUpdate) error
	UpdateLeadScore(ctx context.Context, id string, score int, at time.Time) error
	AppendScoreHistory(ctx context.Context, entry model.ScoreHistoryEntry) error
	ListScoreHistory(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error)

	// Rules
	ListScoringRules(ctx context.Context, companyID string, enabledOnly bool) ([]model.ScoringRule, error)
	ListAutomationRules(ctx context.Context, companyID string, trigger model.TriggerEvent) ([]model.AutomationRule, error)
	UpsertScoringRules(ctx context.Context, rules []model.ScoringRule) (int64, error)
	UpsertAutomationRules(ctx context.Context, rules []model.AutomationRule) (int64, error)
	RecordRuleExecution(ctx context.Context, ruleID string, at time.Time) error

	// Human tasks. InsertTaskIfAbsent returns false when a task with the
	// same dedupe key already exists (conflict-skip, not read-then-write).
	InsertTaskIfAbsent(ctx context.Context, task model.Task) (bool, error)

	// Suggested actions
	InsertAIActions(ctx context.Context, actions []model.AIAction) error
	GetAIAction(ctx context.Context, id string) (*model.AIAction, error)
	ListAIActions(ctx context.Context, companyID string, status model.ActionStatus, limit int) ([]model.AIAction, error)
	// TransitionAIAction moves one action from `from` to `to` atomically;
	// ErrTransitionConflict when the row is no longer in `from`.
	TransitionAIAction(ctx context.Context, id string, from, to model.ActionStatus, at time.Time) error
	// TransitionAllPending moves every pending action for the company to
	// `to` and returns the number of rows transitioned.
	TransitionAllPending(ctx context.Context, companyID string, to model.ActionStatus, at time.Time) (int64, error)

	// Notification resolution
	ListUserIDsByRoles(ctx context.Context, companyID string, roles []string) ([]string, error)

	// Scan cooldown. TryClaimScan atomically claims a scan slot for the
	// actor; when the cooldown has not elapsed it returns false and the
	// remaining wait.
	TryClaimScan(ctx context.Context, actorID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
