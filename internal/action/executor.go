// Package action applies the side effects of matched automation rules.
package action

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/notify"
	"github.com/sells-group/pipeline-engine/internal/store"
)

// defaultNotifyRoles receives auto_notify when the rule names no roles.
var defaultNotifyRoles = []string{"admin"}

// Store is the slice of persistence the executor needs.
type Store interface {
	UpdateLead(ctx context.Context, id string, upd store.LeadUpdate) error
	InsertTaskIfAbsent(ctx context.Context, task model.Task) (bool, error)
	ListUserIDsByRoles(ctx context.Context, companyID string, roles []string) ([]string, error)
	RecordRuleExecution(ctx context.Context, ruleID string, at time.Time) error
}

// Executor runs automation actions against leads.
type Executor struct {
	store             Store
	notifier          notify.Notifier
	defaultEscalateTo string
}

// NewExecutor creates an Executor. defaultEscalateTo is the fallback
// escalation target used when a rule does not name one.
func NewExecutor(s Store, n notify.Notifier, defaultEscalateTo string) *Executor {
	if n == nil {
		n = notify.Nop{}
	}
	return &Executor{store: s, notifier: n, defaultEscalateTo: defaultEscalateTo}
}

// ExecuteAll runs the rules sequentially in the given order (callers pass
// them sorted by ascending priority, so later rules win conflicting
// writes). One rule's failure is logged and does not stop the rest.
// Returns the number of rules that executed successfully.
func (e *Executor) ExecuteAll(ctx context.Context, event *model.LeadEvent, rules []model.AutomationRule) int {
	executed := 0
	for i := range rules {
		rule := &rules[i]
		if err := e.Execute(ctx, event, rule); err != nil {
			zap.L().Warn("automation rule failed",
				zap.String("rule", rule.Name),
				zap.String("lead_id", event.Current.ID),
				zap.Error(err))
			continue
		}
		executed++
	}
	return executed
}

// Execute runs a single rule's action. Execution bookkeeping is
// best-effort: a failed count update never fails the action itself.
func (e *Executor) Execute(ctx context.Context, event *model.LeadEvent, rule *model.AutomationRule) error {
	var err error
	switch rule.Action {
	case model.ActionNotify:
		err = e.notifyRoles(ctx, event, rule)
	case model.ActionAssign:
		err = e.assign(ctx, event, rule)
	case model.ActionMoveStage:
		err = e.moveStage(ctx, event, rule)
	case model.ActionEscalate:
		err = e.escalate(ctx, event, rule)
	case model.ActionTag:
		err = e.tag(ctx, event, rule)
	default:
		err = eris.Errorf("action: unknown action type %q", rule.Action)
	}
	if err != nil {
		return err
	}

	if recErr := e.store.RecordRuleExecution(ctx, rule.ID, event.OccurredAt); recErr != nil {
		zap.L().Warn("failed to record rule execution",
			zap.String("rule", rule.Name),
			zap.Error(recErr))
	}

	zap.L().Info("automation rule executed",
		zap.String("rule", rule.Name),
		zap.String("action", string(rule.Action)),
		zap.String("lead_id", event.Current.ID))
	return nil
}

func (e *Executor) notifyRoles(ctx context.Context, event *model.LeadEvent, rule *model.AutomationRule) error {
	roles := rule.Params.NotifyRoles
	if len(roles) == 0 {
		roles = defaultNotifyRoles
	}
	userIDs, err := e.store.ListUserIDsByRoles(ctx, event.CompanyID, roles)
	if err != nil {
		return eris.Wrapf(err, "action: resolve roles for rule %s", rule.Name)
	}

	// One notification per user; a failed delivery must not block the rest.
	for _, userID := range userIDs {
		n := notify.Notification{
			CompanyID: event.CompanyID,
			LeadID:    event.Current.ID,
			RuleName:  rule.Name,
			UserIDs:   []string{userID},
			Message:   fmt.Sprintf("%s: %q (%s)", rule.Trigger, event.Current.Title, event.Current.Stage),
			SentAt:    event.OccurredAt,
		}
		if err := e.notifier.Notify(ctx, n); err != nil {
			zap.L().Warn("notification delivery failed",
				zap.String("user_id", userID),
				zap.String("rule", rule.Name),
				zap.Error(err))
		}
	}
	return nil
}

func (e *Executor) assign(ctx context.Context, event *model.LeadEvent, rule *model.AutomationRule) error {
	assignTo := rule.Params.AssignTo
	// An absent target is a no-op, never an unassignment.
	if assignTo == "" {
		return nil
	}
	err := e.store.UpdateLead(ctx, event.Current.ID, store.LeadUpdate{AssignedTo: &assignTo})
	return eris.Wrapf(err, "action: assign lead %s", event.Current.ID)
}

func (e *Executor) moveStage(ctx context.Context, event *model.LeadEvent, rule *model.AutomationRule) error {
	stage := rule.Params.TargetStage
	if stage == "" {
		return nil
	}
	err := e.store.UpdateLead(ctx, event.Current.ID, store.LeadUpdate{Stage: &stage})
	return eris.Wrapf(err, "action: move lead %s to %s", event.Current.ID, stage)
}

func (e *Executor) escalate(ctx context.Context, event *model.LeadEvent, rule *model.AutomationRule) error {
	escalateTo := rule.Params.EscalateTo
	if escalateTo == "" {
		escalateTo = e.defaultEscalateTo
	}
	if err := e.store.UpdateLead(ctx, event.Current.ID, store.LeadUpdate{EscalatedTo: &escalateTo}); err != nil {
		return eris.Wrapf(err, "action: escalate lead %s", event.Current.ID)
	}

	// The dedupe key guarantees at most one task per (lead, escalation
	// instant) even when the same trigger is processed twice.
	task := model.Task{
		ID:         uuid.NewString(),
		CompanyID:  event.CompanyID,
		LeadID:     event.Current.ID,
		AssignedTo: escalateTo,
		Title:      fmt.Sprintf("Escalated: %s", event.Current.Title),
		DedupeKey:  model.EscalationDedupeKey(event.Current.ID, event.OccurredAt),
		CreatedAt:  event.OccurredAt,
	}
	created, err := e.store.InsertTaskIfAbsent(ctx, task)
	if err != nil {
		return eris.Wrapf(err, "action: create escalation task for lead %s", event.Current.ID)
	}
	if !created {
		zap.L().Debug("escalation task already exists",
			zap.String("lead_id", event.Current.ID),
			zap.String("dedupe_key", task.DedupeKey))
	}
	return nil
}

func (e *Executor) tag(ctx context.Context, event *model.LeadEvent, rule *model.AutomationRule) error {
	// Set semantics: adding a tag the lead already carries is a no-op.
	if event.Current.HasTag(rule.Params.Tag) {
		return nil
	}
	tags := append(append([]string{}, event.Current.Tags...), rule.Params.Tag)
	err := e.store.UpdateLead(ctx, event.Current.ID, store.LeadUpdate{Tags: tags})
	return eris.Wrapf(err, "action: tag lead %s", event.Current.ID)
}
