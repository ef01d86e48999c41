package suggest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/store"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fakeStore struct {
	leads    map[string]*model.Lead
	actions  map[string]*model.AIAction
	lastScan map[string]time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		leads:    make(map[string]*model.Lead),
		actions:  make(map[string]*model.AIAction),
		lastScan: make(map[string]time.Time),
	}
}

func (f *fakeStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	l, ok := f.leads[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return l, nil
}

func (f *fakeStore) InsertAIActions(ctx context.Context, actions []model.AIAction) error {
	for i := range actions {
		a := actions[i]
		f.actions[a.ID] = &a
	}
	return nil
}

func (f *fakeStore) GetAIAction(ctx context.Context, id string) (*model.AIAction, error) {
	a, ok := f.actions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeStore) ListAIActions(ctx context.Context, companyID string, status model.ActionStatus, limit int) ([]model.AIAction, error) {
	var out []model.AIAction
	for _, a := range f.actions {
		if a.CompanyID == companyID && (status == "" || a.Status == status) {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeStore) TransitionAIAction(ctx context.Context, id string, from, to model.ActionStatus, at time.Time) error {
	a, ok := f.actions[id]
	if !ok {
		return store.ErrNotFound
	}
	if a.Status != from {
		return store.ErrTransitionConflict
	}
	a.Status = to
	a.UpdatedAt = at
	return nil
}

func (f *fakeStore) TransitionAllPending(ctx context.Context, companyID string, to model.ActionStatus, at time.Time) (int64, error) {
	var n int64
	for _, a := range f.actions {
		if a.CompanyID == companyID && a.Status == model.StatusPending {
			a.Status = to
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) TryClaimScan(ctx context.Context, actorID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error) {
	last, ok := f.lastScan[actorID]
	if ok && now.Sub(last) < cooldown {
		return false, last.Add(cooldown).Sub(now), nil
	}
	f.lastScan[actorID] = now
	return true, 0, nil
}

type fakeStats struct{ leads []model.Lead }

func (f *fakeStats) PipelineStats(ctx context.Context, companyID string) (*model.PipelineStats, []model.Lead, error) {
	return &model.PipelineStats{CompanyID: companyID, TotalLeads: len(f.leads)}, f.leads, nil
}

type fakeGenerator struct {
	proposals []model.Proposal
	calls     int
	err       error
}

func (f *fakeGenerator) Propose(ctx context.Context, stats model.PipelineStats, leads []model.Lead) ([]model.Proposal, error) {
	f.calls++
	return f.proposals, f.err
}

func setup() (*fakeStore, *fakeGenerator, *Workflow) {
	fs := newFakeStore()
	fs.leads["l1"] = &model.Lead{ID: "l1", CompanyID: "co1", Stage: model.StageProposal}
	gen := &fakeGenerator{}
	w := NewWorkflow(fs, &fakeStats{}, gen, 30*time.Minute)
	return fs, gen, w
}

func TestScan_InsertsValidProposals(t *testing.T) {
	fs, gen, w := setup()
	gen.proposals = []model.Proposal{
		{LeadID: "l1", Action: "auto_escalate", Priority: "high", Reasoning: "stale"},
		{LeadID: "l1", Action: "launch_rockets", Priority: "high", Reasoning: "nonsense action"},
		{LeadID: "ghost", Action: "auto_tag", Priority: "low", Reasoning: "unknown lead"},
		{LeadID: "l1", Action: "auto_tag", Priority: "someday", Reasoning: "unknown priority"},
	}

	result, err := w.Scan(context.Background(), "co1", "user1", testNow)

	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 3, result.Rejected)

	require.Len(t, fs.actions, 1)
	for _, a := range fs.actions {
		assert.Equal(t, model.StatusPending, a.Status)
		assert.Equal(t, model.ActionEscalate, a.Action)
		assert.Equal(t, "user1", a.CreatedBy)
	}
}

func TestScan_CooldownSkipsGenerator(t *testing.T) {
	_, gen, w := setup()

	first, err := w.Scan(context.Background(), "co1", "user1", testNow)
	require.NoError(t, err)
	assert.False(t, first.Skipped)

	second, err := w.Scan(context.Background(), "co1", "user1", testNow.Add(5*time.Minute))
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, 25*time.Minute, second.RetryAfter)

	// The generator ran exactly once.
	assert.Equal(t, 1, gen.calls)
}

func TestScan_RejectsProposalsMissingActionFields(t *testing.T) {
	fs, gen, w := setup()
	gen.proposals = []model.Proposal{
		{LeadID: "l1", Action: "auto_assign", Priority: "high", Reasoning: "no assignee"},
		{LeadID: "l1", Action: "auto_move_stage", Priority: "high", Reasoning: "no target stage"},
		{LeadID: "l1", Action: "auto_tag", Priority: "low", Reasoning: "no tag"},
		{LeadID: "l1", Action: "auto_assign", Priority: "high", Reasoning: "ok",
			SuggestedData: model.ActionParams{AssignTo: "closer-1"}},
	}

	result, err := w.Scan(context.Background(), "co1", "user1", testNow)

	require.NoError(t, err)
	assert.Equal(t, 1, result.Inserted)
	assert.Equal(t, 3, result.Rejected)

	require.Len(t, fs.actions, 1)
	for _, a := range fs.actions {
		assert.Equal(t, "closer-1", a.SuggestedData.AssignTo)
	}
}

func TestScan_NilGeneratorFailsBeforeClaimingCooldown(t *testing.T) {
	fs := newFakeStore()
	w := NewWorkflow(fs, &fakeStats{}, nil, 30*time.Minute)

	_, err := w.Scan(context.Background(), "co1", "user1", testNow)
	require.ErrorIs(t, err, ErrNoGenerator)

	// The cooldown slot stays free for a correctly wired scan.
	assert.Empty(t, fs.lastScan)
}

func TestScan_ZeroProposalsIsNotAnError(t *testing.T) {
	_, _, w := setup()

	result, err := w.Scan(context.Background(), "co1", "user1", testNow)

	require.NoError(t, err)
	assert.Equal(t, 0, result.Inserted)
	assert.Equal(t, 0, result.Rejected)
}

func seedAction(fs *fakeStore, id string, status model.ActionStatus) {
	fs.actions[id] = &model.AIAction{
		ID: id, CompanyID: "co1", LeadID: "l1",
		Action: model.ActionTag, Status: status, Priority: model.PriorityMedium,
	}
}

func TestApproveAndDismiss(t *testing.T) {
	fs, _, w := setup()
	seedAction(fs, "a1", model.StatusPending)
	seedAction(fs, "a2", model.StatusPending)

	require.NoError(t, w.Approve(context.Background(), "a1", testNow))
	assert.Equal(t, model.StatusApproved, fs.actions["a1"].Status)

	require.NoError(t, w.Dismiss(context.Background(), "a2", testNow))
	assert.Equal(t, model.StatusDismissed, fs.actions["a2"].Status)
}

func TestApprove_ExecutedActionRejected(t *testing.T) {
	fs, _, w := setup()
	seedAction(fs, "a1", model.StatusExecuted)

	err := w.Approve(context.Background(), "a1", testNow)

	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.StatusExecuted, fs.actions["a1"].Status)
}

func TestApproveAll(t *testing.T) {
	fs, _, w := setup()
	seedAction(fs, "a1", model.StatusPending)
	seedAction(fs, "a2", model.StatusPending)
	seedAction(fs, "a3", model.StatusDismissed)

	n, err := w.ApproveAll(context.Background(), "co1", testNow)

	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, model.StatusDismissed, fs.actions["a3"].Status)
}

func TestExecute_ApprovedAction(t *testing.T) {
	fs, _, w := setup()
	seedAction(fs, "a1", model.StatusApproved)

	applied := false
	err := w.Execute(context.Background(), "a1", func(ctx context.Context, a *model.AIAction) error {
		applied = true
		assert.Equal(t, "a1", a.ID)
		return nil
	}, testNow)

	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, model.StatusExecuted, fs.actions["a1"].Status)
}

func TestExecute_PendingRejectedBeforeSideEffect(t *testing.T) {
	fs, _, w := setup()
	seedAction(fs, "a1", model.StatusPending)

	applied := false
	err := w.Execute(context.Background(), "a1", func(ctx context.Context, a *model.AIAction) error {
		applied = true
		return nil
	}, testNow)

	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, applied)
	assert.Equal(t, model.StatusPending, fs.actions["a1"].Status)
}

func TestExecute_CapabilityFailureLeavesApproved(t *testing.T) {
	fs, _, w := setup()
	seedAction(fs, "a1", model.StatusApproved)

	err := w.Execute(context.Background(), "a1", func(ctx context.Context, a *model.AIAction) error {
		return assert.AnError
	}, testNow)

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, model.StatusApproved, fs.actions["a1"].Status)
}
