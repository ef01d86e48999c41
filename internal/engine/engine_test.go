package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-engine/internal/action"
	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/scoring"
	"github.com/sells-group/pipeline-engine/internal/sla"
	"github.com/sells-group/pipeline-engine/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// memStore is an in-memory store.Store for wiring tests.
type memStore struct {
	leads           map[string]*model.Lead
	scoringRules    []model.ScoringRule
	automationRules []model.AutomationRule
	tasks           map[string]model.Task
	history         []model.ScoreHistoryEntry
	usersByRole     map[string][]string
	executions      map[string]int
}

func newMemStore() *memStore {
	return &memStore{
		leads:       make(map[string]*model.Lead),
		tasks:       make(map[string]model.Task),
		usersByRole: make(map[string][]string),
		executions:  make(map[string]int),
	}
}

func (m *memStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, ok := m.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error) {
	var out []model.Lead
	for _, l := range m.leads {
		if filter.CompanyID != "" && l.CompanyID != filter.CompanyID {
			continue
		}
		out = append(out, *l)
	}
	return out, nil
}

func (m *memStore) UpdateLead(ctx context.Context, id string, upd store.LeadUpdate) error {
	l, ok := m.leads[id]
	if !ok {
		return store.ErrNotFound
	}
	if upd.Stage != nil {
		l.Stage = *upd.Stage
	}
	if upd.AssignedTo != nil {
		l.AssignedTo = *upd.AssignedTo
	}
	if upd.EscalatedTo != nil {
		l.EscalatedTo = *upd.EscalatedTo
	}
	if upd.Tags != nil {
		l.Tags = upd.Tags
	}
	if upd.SLADeadline != nil {
		l.SLADeadline = upd.SLADeadline
	}
	if upd.SLABreached != nil {
		l.SLABreached = *upd.SLABreached
	}
	return nil
}

func (m *memStore) UpdateLeadScore(ctx context.Context, id string, score int, at time.Time) error {
	l, ok := m.leads[id]
	if !ok {
		return store.ErrNotFound
	}
	l.Score = score
	l.ScoreUpdatedAt = &at
	return nil
}

func (m *memStore) AppendScoreHistory(ctx context.Context, entry model.ScoreHistoryEntry) error {
	m.history = append(m.history, entry)
	return nil
}

func (m *memStore) ListScoreHistory(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	return nil, nil
}

func (m *memStore) ListScoringRules(ctx context.Context, companyID string, enabledOnly bool) ([]model.ScoringRule, error) {
	return m.scoringRules, nil
}

func (m *memStore) ListAutomationRules(ctx context.Context, companyID string, trigger model.TriggerEvent) ([]model.AutomationRule, error) {
	var out []model.AutomationRule
	for _, r := range m.automationRules {
		if r.Enabled && (trigger == "" || r.Trigger == trigger) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) UpsertScoringRules(ctx context.Context, rules []model.ScoringRule) (int64, error) {
	return 0, nil
}

func (m *memStore) UpsertAutomationRules(ctx context.Context, rules []model.AutomationRule) (int64, error) {
	return 0, nil
}

func (m *memStore) RecordRuleExecution(ctx context.Context, ruleID string, at time.Time) error {
	m.executions[ruleID]++
	return nil
}

func (m *memStore) InsertTaskIfAbsent(ctx context.Context, task model.Task) (bool, error) {
	if _, exists := m.tasks[task.DedupeKey]; exists {
		return false, nil
	}
	m.tasks[task.DedupeKey] = task
	return true, nil
}

func (m *memStore) InsertAIActions(ctx context.Context, actions []model.AIAction) error { return nil }

func (m *memStore) GetAIAction(ctx context.Context, id string) (*model.AIAction, error) {
	return nil, store.ErrNotFound
}

func (m *memStore) ListAIActions(ctx context.Context, companyID string, status model.ActionStatus, limit int) ([]model.AIAction, error) {
	return nil, nil
}

func (m *memStore) TransitionAIAction(ctx context.Context, id string, from, to model.ActionStatus, at time.Time) error {
	return store.ErrNotFound
}

func (m *memStore) TransitionAllPending(ctx context.Context, companyID string, to model.ActionStatus, at time.Time) (int64, error) {
	return 0, nil
}

func (m *memStore) ListUserIDsByRoles(ctx context.Context, companyID string, roles []string) ([]string, error) {
	var ids []string
	for _, role := range roles {
		ids = append(ids, m.usersByRole[role]...)
	}
	return ids, nil
}

func (m *memStore) TryClaimScan(ctx context.Context, actorID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error) {
	return true, 0, nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

func newEngine(ms *memStore) *Engine {
	scorer := scoring.NewScorer(ms, 2)
	executor := action.NewExecutor(ms, nil, "manager")
	return New(ms, scorer, executor, sla.Thresholds{})
}

func TestHandleEvent_ExecutesMatchedRulesInPriorityOrder(t *testing.T) {
	ms := newMemStore()
	ms.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Title: "Acme", Stage: model.StageWon, UpdatedAt: testNow}
	ms.automationRules = []model.AutomationRule{
		{ID: "r2", Name: "late move", Enabled: true, Priority: 20, Trigger: model.TriggerStageChange,
			Action: model.ActionMoveStage, Params: model.ActionParams{TargetStage: model.StageArchived}},
		{ID: "r1", Name: "early move", Enabled: true, Priority: 10, Trigger: model.TriggerStageChange,
			Action: model.ActionMoveStage, Params: model.ActionParams{TargetStage: model.StageWon}},
	}

	event := &model.LeadEvent{
		Trigger:    model.TriggerStageChange,
		CompanyID:  "co1",
		Current:    *ms.leads["l1"],
		Previous:   &model.Lead{ID: "l1", Stage: model.StageNegotiation},
		OccurredAt: testNow,
	}

	executed, err := newEngine(ms).HandleEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, 2, executed)
	// Ascending priority, last write wins: the priority-20 rule's stage sticks.
	assert.Equal(t, model.StageArchived, ms.leads["l1"].Stage)
	assert.Equal(t, 1, ms.executions["r1"])
	assert.Equal(t, 1, ms.executions["r2"])
}

func TestHandleEvent_UnknownTriggerRejected(t *testing.T) {
	ms := newMemStore()
	event := &model.LeadEvent{Trigger: "comet_sighting", CompanyID: "co1"}

	_, err := newEngine(ms).HandleEvent(context.Background(), event)

	require.Error(t, err)
}

func TestHandleEvent_NoMatchesIsNoop(t *testing.T) {
	ms := newMemStore()
	ms.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Stage: model.StageNew, UpdatedAt: testNow}

	event := &model.LeadEvent{
		Trigger:    model.TriggerNewLead,
		CompanyID:  "co1",
		Current:    *ms.leads["l1"],
		OccurredAt: testNow,
	}

	executed, err := newEngine(ms).HandleEvent(context.Background(), event)

	require.NoError(t, err)
	assert.Equal(t, 0, executed)
}

func TestRecomputeScores(t *testing.T) {
	ms := newMemStore()
	ms.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Source: "referral", UpdatedAt: testNow}
	ms.scoringRules = []model.ScoringRule{
		{Name: "referral bonus", Enabled: true, Field: "source", Operator: model.OpEquals, Value: "referral", Points: 25},
	}

	result, err := newEngine(ms).RecomputeScores(context.Background(), "co1")

	require.NoError(t, err)
	assert.Equal(t, 1, result.Scored)
	assert.Equal(t, 1, result.Changed)
	assert.Equal(t, 25, ms.leads["l1"].Score)
	require.Len(t, ms.history, 1)
}

func TestPipelineStats(t *testing.T) {
	ms := newMemStore()
	ms.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Stage: model.StageProposal, ExpectedValue: 40000, Score: 60, UpdatedAt: testNow}
	ms.leads["l2"] = &model.Lead{ID: "l2", CompanyID: "co1", Stage: model.StageWon, ExpectedValue: 10000, Score: 80, UpdatedAt: testNow}
	ms.leads["l3"] = &model.Lead{ID: "l3", CompanyID: "co1", Stage: model.StageContacted, UpdatedAt: testNow.Add(-20 * 24 * time.Hour), Score: 10}

	stats, leads, err := newEngine(ms).PipelineStats(context.Background(), "co1")

	require.NoError(t, err)
	assert.Len(t, leads, 3)
	assert.Equal(t, 3, stats.TotalLeads)
	assert.Equal(t, 2, stats.ActiveLeads)
	assert.Equal(t, 1, stats.WonCount)
	assert.Equal(t, 1, stats.StaleCount)
	assert.Equal(t, 40000.0, stats.TotalValue) // terminal stages excluded
	assert.Equal(t, 1, stats.ByStage[model.StageProposal])
	assert.InDelta(t, 50.0, stats.AvgScore, 0.001)
}

func TestComputeAlerts(t *testing.T) {
	ms := newMemStore()
	ms.leads["stale"] = &model.Lead{ID: "stale", CompanyID: "co1", Stage: model.StageContacted, UpdatedAt: testNow.Add(-40 * 24 * time.Hour)}

	alerts, err := newEngine(ms).ComputeAlerts(context.Background(), "co1", testNow)

	require.NoError(t, err)
	require.Len(t, alerts, 1)
	assert.Equal(t, model.SeverityCritical, alerts[0].Severity)
}

func TestRefreshSLA_FlagsNewBreachesAndFiresRules(t *testing.T) {
	ms := newMemStore()
	// A new-stage lead last touched 3 days ago is past its 24h window.
	ms.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Title: "Acme", Stage: model.StageNew, UpdatedAt: testNow.Add(-3 * 24 * time.Hour)}
	// A fresh lead stays unbreached.
	ms.leads["l2"] = &model.Lead{ID: "l2", CompanyID: "co1", Stage: model.StageNew, UpdatedAt: testNow}
	ms.automationRules = []model.AutomationRule{
		{ID: "r1", Name: "breach escalation", Enabled: true, Trigger: model.TriggerSLABreach, Action: model.ActionEscalate},
	}

	result, err := newEngine(ms).RefreshSLA(context.Background(), "co1", testNow)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Updated)
	assert.Equal(t, 1, result.NewBreaches)
	assert.True(t, ms.leads["l1"].SLABreached)
	assert.False(t, ms.leads["l2"].SLABreached)
	// The breach event ran the escalation rule.
	assert.Equal(t, "manager", ms.leads["l1"].EscalatedTo)
	assert.Len(t, ms.tasks, 1)
}

func TestRefreshSLA_AlreadyBreachedNotReFired(t *testing.T) {
	ms := newMemStore()
	ms.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Stage: model.StageNew, UpdatedAt: testNow.Add(-3 * 24 * time.Hour), SLABreached: true}
	ms.automationRules = []model.AutomationRule{
		{ID: "r1", Name: "breach escalation", Enabled: true, Trigger: model.TriggerSLABreach, Action: model.ActionEscalate},
	}

	result, err := newEngine(ms).RefreshSLA(context.Background(), "co1", testNow)

	require.NoError(t, err)
	assert.Equal(t, 0, result.NewBreaches)
	assert.Empty(t, ms.tasks)
}
