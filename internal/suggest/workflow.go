// Package suggest runs the AI suggestion workflow: cooldown-gated scans
// and the pending/approved/dismissed/executed state machine.
package suggest

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/store"
	"github.com/sells-group/pipeline-engine/pkg/suggestgen"
)

// ErrInvalidTransition signals an illegal status transition. It is
// distinct from collaborator failures: the action's status is unchanged
// and no side effect ran.
var ErrInvalidTransition = errors.New("suggest: invalid status transition")

// ErrNoGenerator signals a scan attempt on a deployment without a
// configured generator.
var ErrNoGenerator = errors.New("suggest: generator not configured")

// DefaultCooldown gates scans when no cooldown is configured.
const DefaultCooldown = 30 * time.Minute

// Store is the slice of persistence the workflow needs.
type Store interface {
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	InsertAIActions(ctx context.Context, actions []model.AIAction) error
	GetAIAction(ctx context.Context, id string) (*model.AIAction, error)
	ListAIActions(ctx context.Context, companyID string, status model.ActionStatus, limit int) ([]model.AIAction, error)
	TransitionAIAction(ctx context.Context, id string, from, to model.ActionStatus, at time.Time) error
	TransitionAllPending(ctx context.Context, companyID string, to model.ActionStatus, at time.Time) (int64, error)
	TryClaimScan(ctx context.Context, actorID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error)
}

// StatsSource supplies the aggregate view handed to the generator.
type StatsSource interface {
	PipelineStats(ctx context.Context, companyID string) (*model.PipelineStats, []model.Lead, error)
}

// ScanResult reports the outcome of a scan. A skipped scan is a normal
// outcome, not an error.
type ScanResult struct {
	Skipped    bool          `json:"skipped"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	Inserted   int           `json:"inserted"`
	Rejected   int           `json:"rejected"`
}

// Workflow manages AI-suggested actions.
type Workflow struct {
	store     Store
	stats     StatsSource
	generator suggestgen.Generator
	cooldown  time.Duration
}

// NewWorkflow creates a Workflow. A non-positive cooldown falls back to
// DefaultCooldown.
func NewWorkflow(s Store, stats StatsSource, g suggestgen.Generator, cooldown time.Duration) *Workflow {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Workflow{store: s, stats: stats, generator: g, cooldown: cooldown}
}

// Scan asks the generator for proposals and stores the valid ones as
// pending actions. The cooldown is claimed atomically before the
// generator is called, so concurrent scans within the window produce at
// most one generator call. Zero proposals is a valid outcome.
func (w *Workflow) Scan(ctx context.Context, companyID, actorID string, now time.Time) (*ScanResult, error) {
	// Checked before the claim so a misconfigured deployment does not
	// burn the actor's cooldown window.
	if w.generator == nil {
		return nil, ErrNoGenerator
	}

	claimed, retryAfter, err := w.store.TryClaimScan(ctx, actorID, now, w.cooldown)
	if err != nil {
		return nil, eris.Wrap(err, "suggest: claim scan")
	}
	if !claimed {
		zap.L().Info("scan skipped by cooldown",
			zap.String("actor_id", actorID),
			zap.Duration("retry_after", retryAfter))
		return &ScanResult{Skipped: true, RetryAfter: retryAfter}, nil
	}

	stats, leads, err := w.stats.PipelineStats(ctx, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "suggest: collect stats")
	}
	// A failure past this point leaves the claimed cooldown in place:
	// the window is wasted rather than rolled back, which keeps the
	// claim single-writer and caps generator calls per actor per window
	// even when the generator itself is flapping.
	proposals, err := w.generator.Propose(ctx, *stats, leads)
	if err != nil {
		return nil, eris.Wrap(err, "suggest: generate proposals")
	}

	actions := make([]model.AIAction, 0, len(proposals))
	rejected := 0
	for i := range proposals {
		action, err := w.validate(ctx, companyID, &proposals[i], actorID, now)
		if err != nil {
			rejected++
			zap.L().Warn("proposal rejected",
				zap.String("lead_id", proposals[i].LeadID),
				zap.String("action", proposals[i].Action),
				zap.Error(err))
			continue
		}
		actions = append(actions, *action)
	}

	if len(actions) > 0 {
		if err := w.store.InsertAIActions(ctx, actions); err != nil {
			return nil, eris.Wrap(err, "suggest: insert actions")
		}
	}

	zap.L().Info("scan completed",
		zap.String("company_id", companyID),
		zap.Int("inserted", len(actions)),
		zap.Int("rejected", rejected))
	return &ScanResult{Inserted: len(actions), Rejected: rejected}, nil
}

// validate turns an untrusted proposal into a pending action, rejecting
// unknown action types, unknown priorities, and unknown leads.
func (w *Workflow) validate(ctx context.Context, companyID string, p *model.Proposal, actorID string, now time.Time) (*model.AIAction, error) {
	actionType := model.ActionType(p.Action)
	if !actionType.Valid() {
		return nil, eris.Errorf("unknown action type %q", p.Action)
	}
	priority := model.ActionPriority(p.Priority)
	if !priority.Valid() {
		return nil, eris.Errorf("unknown priority %q", p.Priority)
	}
	// The generator payload is untrusted; hold it to the same per-action
	// requirements as a saved rule.
	switch actionType {
	case model.ActionAssign:
		if p.SuggestedData.AssignTo == "" {
			return nil, eris.New("auto_assign requires assign_to")
		}
	case model.ActionMoveStage:
		if p.SuggestedData.TargetStage == "" {
			return nil, eris.New("auto_move_stage requires target_stage")
		}
	case model.ActionTag:
		if p.SuggestedData.Tag == "" {
			return nil, eris.New("auto_tag requires tag")
		}
	}
	if p.LeadID == "" {
		return nil, eris.New("missing lead id")
	}
	lead, err := w.store.GetLead(ctx, p.LeadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, eris.Errorf("lead %q does not exist", p.LeadID)
		}
		return nil, eris.Wrap(err, "look up lead")
	}
	if lead.CompanyID != companyID {
		return nil, eris.Errorf("lead %q belongs to another company", p.LeadID)
	}

	return &model.AIAction{
		ID:            uuid.NewString(),
		CompanyID:     companyID,
		LeadID:        p.LeadID,
		Action:        actionType,
		Status:        model.StatusPending,
		Priority:      priority,
		Reasoning:     p.Reasoning,
		SuggestedData: p.SuggestedData,
		CreatedBy:     actorID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Approve moves a pending action to approved.
func (w *Workflow) Approve(ctx context.Context, id string, now time.Time) error {
	return w.transition(ctx, id, model.StatusPending, model.StatusApproved, now)
}

// Dismiss moves a pending action to dismissed.
func (w *Workflow) Dismiss(ctx context.Context, id string, now time.Time) error {
	return w.transition(ctx, id, model.StatusPending, model.StatusDismissed, now)
}

// ApproveAll approves every pending action for the company and returns
// the count transitioned.
func (w *Workflow) ApproveAll(ctx context.Context, companyID string, now time.Time) (int64, error) {
	n, err := w.store.TransitionAllPending(ctx, companyID, model.StatusApproved, now)
	return n, eris.Wrap(err, "suggest: approve all")
}

// DismissAll dismisses every pending action for the company and returns
// the count transitioned.
func (w *Workflow) DismissAll(ctx context.Context, companyID string, now time.Time) (int64, error) {
	n, err := w.store.TransitionAllPending(ctx, companyID, model.StatusDismissed, now)
	return n, eris.Wrap(err, "suggest: dismiss all")
}

// Capability applies an approved action's side effects. Supplied by the
// caller so the workflow stays free of executor wiring.
type Capability func(ctx context.Context, action *model.AIAction) error

// Execute runs an approved action. The status is checked before any
// side effect; a capability failure leaves the action approved so it can
// be retried.
func (w *Workflow) Execute(ctx context.Context, id string, apply Capability, now time.Time) error {
	action, err := w.store.GetAIAction(ctx, id)
	if err != nil {
		return eris.Wrapf(err, "suggest: load action %s", id)
	}
	if !action.Status.CanTransitionTo(model.StatusExecuted) {
		return eris.Wrapf(ErrInvalidTransition, "execute from %s", action.Status)
	}

	if err := apply(ctx, action); err != nil {
		return eris.Wrapf(err, "suggest: apply action %s", id)
	}

	if err := w.transition(ctx, id, model.StatusApproved, model.StatusExecuted, now); err != nil {
		return err
	}
	zap.L().Info("suggested action executed",
		zap.String("action_id", id),
		zap.String("lead_id", action.LeadID),
		zap.String("action", string(action.Action)))
	return nil
}

func (w *Workflow) transition(ctx context.Context, id string, from, to model.ActionStatus, now time.Time) error {
	if !from.CanTransitionTo(to) {
		return eris.Wrapf(ErrInvalidTransition, "%s to %s", from, to)
	}
	err := w.store.TransitionAIAction(ctx, id, from, to, now)
	if errors.Is(err, store.ErrTransitionConflict) {
		return eris.Wrapf(ErrInvalidTransition, "%s is not %s", id, from)
	}
	return eris.Wrapf(err, "suggest: transition %s to %s", id, to)
}
