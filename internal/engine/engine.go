// Package engine wires the matchers, scorer, executor, and SLA logic
// into the operations exposed by the server and CLI.
package engine

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pipeline-engine/internal/action"
	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/scoring"
	"github.com/sells-group/pipeline-engine/internal/sla"
	"github.com/sells-group/pipeline-engine/internal/store"
	"github.com/sells-group/pipeline-engine/internal/trigger"
)

// Engine processes lead events and batch operations against one store.
type Engine struct {
	store      store.Store
	scorer     *scoring.Scorer
	executor   *action.Executor
	thresholds sla.Thresholds
}

// New creates an Engine.
func New(s store.Store, scorer *scoring.Scorer, executor *action.Executor, thresholds sla.Thresholds) *Engine {
	return &Engine{store: s, scorer: scorer, executor: executor, thresholds: thresholds}
}

// HandleEvent evaluates automation rules against one lifecycle event and
// executes the matches in ascending priority order. Returns the number
// of rules that executed.
func (e *Engine) HandleEvent(ctx context.Context, event *model.LeadEvent) (int, error) {
	if !event.Trigger.Valid() {
		return 0, eris.Errorf("engine: unknown trigger %q", event.Trigger)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	rules, err := e.store.ListAutomationRules(ctx, event.CompanyID, event.Trigger)
	if err != nil {
		return 0, eris.Wrap(err, "engine: list automation rules")
	}
	matched := trigger.MatchingRules(event, rules, event.OccurredAt)
	if len(matched) == 0 {
		return 0, nil
	}

	executed := e.executor.ExecuteAll(ctx, event, matched)
	zap.L().Info("event processed",
		zap.String("trigger", string(event.Trigger)),
		zap.String("lead_id", event.Current.ID),
		zap.Int("matched", len(matched)),
		zap.Int("executed", executed))
	return executed, nil
}

// RecomputeScores rescores every lead in the company.
func (e *Engine) RecomputeScores(ctx context.Context, companyID string) (*scoring.Result, error) {
	return e.scorer.RescoreCompany(ctx, companyID, time.Now().UTC())
}

// ComputeAlerts derives the current alert list from the lead set.
func (e *Engine) ComputeAlerts(ctx context.Context, companyID string, now time.Time) ([]model.Alert, error) {
	leads, err := e.store.ListLeads(ctx, store.LeadFilter{CompanyID: companyID})
	if err != nil {
		return nil, eris.Wrap(err, "engine: list leads")
	}
	return sla.DeriveAlerts(leads, e.thresholds, now), nil
}

// PipelineStats aggregates the company's leads. It also returns the lead
// list so callers feeding the suggestion generator avoid a second query.
func (e *Engine) PipelineStats(ctx context.Context, companyID string) (*model.PipelineStats, []model.Lead, error) {
	leads, err := e.store.ListLeads(ctx, store.LeadFilter{CompanyID: companyID})
	if err != nil {
		return nil, nil, eris.Wrap(err, "engine: list leads")
	}

	now := time.Now().UTC()
	stats := &model.PipelineStats{
		CompanyID:    companyID,
		TotalLeads:   len(leads),
		ByStage:      make(map[model.Stage]int),
		ValueByStage: make(map[model.Stage]float64),
		CollectedAt:  now,
	}

	scoreSum := 0
	for i := range leads {
		l := &leads[i]
		stats.ByStage[l.Stage]++
		stats.ValueByStage[l.Stage] += l.ExpectedValue
		scoreSum += l.Score

		switch l.Stage {
		case model.StageWon:
			stats.WonCount++
		case model.StageLost:
			stats.LostCount++
		}
		if l.Stage.Terminal() {
			continue
		}
		stats.ActiveLeads++
		stats.TotalValue += l.ExpectedValue
		if l.StaleDays(now) >= model.DefaultStaleDays {
			stats.StaleCount++
		}
		if sla.Classify(l.SLADeadline, l.SLABreached, now) == sla.StatusBreached {
			stats.BreachedCount++
		}
	}
	if len(leads) > 0 {
		stats.AvgScore = float64(scoreSum) / float64(len(leads))
	}
	return stats, leads, nil
}

// ApplySuggestion runs an approved AI action with the same side effects
// as a matched automation rule. Used as the suggestion workflow's
// execute capability.
func (e *Engine) ApplySuggestion(ctx context.Context, a *model.AIAction) error {
	lead, err := e.store.GetLead(ctx, a.LeadID)
	if err != nil {
		return eris.Wrapf(err, "engine: load lead %s", a.LeadID)
	}

	rule := &model.AutomationRule{
		ID:     a.ID,
		Name:   "ai-suggestion",
		Action: a.Action,
		Params: a.SuggestedData,
	}
	event := &model.LeadEvent{
		CompanyID:  a.CompanyID,
		Current:    *lead,
		OccurredAt: time.Now().UTC(),
	}
	return e.executor.Execute(ctx, event, rule)
}

// SLARefreshResult summarizes a deadline refresh pass.
type SLARefreshResult struct {
	Updated     int `json:"updated"`
	NewBreaches int `json:"new_breaches"`
	Failed      int `json:"failed"`
}

// RefreshSLA rederives each active lead's deadline and flags new
// breaches, emitting an sla_breach event for each one so breach-triggered
// automation rules fire. Per-lead failures are counted, not fatal.
func (e *Engine) RefreshSLA(ctx context.Context, companyID string, now time.Time) (*SLARefreshResult, error) {
	leads, err := e.store.ListLeads(ctx, store.LeadFilter{CompanyID: companyID})
	if err != nil {
		return nil, eris.Wrap(err, "engine: list leads")
	}

	result := &SLARefreshResult{}
	for i := range leads {
		l := &leads[i]
		if l.Stage.Terminal() {
			continue
		}

		deadline := sla.DeadlineFor(l)
		breached := deadline != nil && deadline.Before(now)
		newBreach := breached && !l.SLABreached

		upd := store.LeadUpdate{SLADeadline: deadline}
		if newBreach {
			upd.SLABreached = &breached
		}
		if err := e.store.UpdateLead(ctx, l.ID, upd); err != nil {
			result.Failed++
			zap.L().Warn("sla refresh failed",
				zap.String("lead_id", l.ID),
				zap.Error(err))
			continue
		}
		result.Updated++

		if newBreach {
			result.NewBreaches++
			current := *l
			current.SLADeadline = deadline
			current.SLABreached = true
			event := &model.LeadEvent{
				Trigger:    model.TriggerSLABreach,
				CompanyID:  companyID,
				Current:    current,
				OccurredAt: now,
			}
			if _, err := e.HandleEvent(ctx, event); err != nil {
				zap.L().Warn("sla breach event failed",
					zap.String("lead_id", l.ID),
					zap.Error(err))
			}
		}
	}

	zap.L().Info("sla refreshed",
		zap.String("company_id", companyID),
		zap.Int("updated", result.Updated),
		zap.Int("new_breaches", result.NewBreaches),
		zap.Int("failed", result.Failed))
	return result, nil
}
