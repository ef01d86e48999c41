// Package scoring recomputes lead scores from the company's scoring
// rules and records an audit trail of changes.
package scoring

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/pipeline-engine/internal/match"
	"github.com/sells-group/pipeline-engine/internal/model"
	"github.com/sells-group/pipeline-engine/internal/store"
)

// Compute evaluates every enabled rule against the lead and returns the
// accumulated score with a factor breakdown (matched rule name -> points).
// Disabled rules are skipped; a rule that does not match contributes
// nothing. Scores may be negative.
func Compute(lead *model.Lead, rules []model.ScoringRule) (int, map[string]int) {
	score := 0
	factors := make(map[string]int)
	for i := range rules {
		r := &rules[i]
		if !r.Enabled {
			continue
		}
		if match.Matches(lead.Field(r.Field), r.Operator, r.Value) {
			score += r.Points
			factors[r.Name] = r.Points
		}
	}
	return score, factors
}

// Result summarizes a batch recompute.
type Result struct {
	Scored  int `json:"scored"`
	Changed int `json:"changed"`
	Failed  int `json:"failed"`
}

// Store is the slice of persistence the scorer needs.
type Store interface {
	ListScoringRules(ctx context.Context, companyID string, enabledOnly bool) ([]model.ScoringRule, error)
	ListLeads(ctx context.Context, filter store.LeadFilter) ([]model.Lead, error)
	UpdateLeadScore(ctx context.Context, id string, score int, at time.Time) error
	AppendScoreHistory(ctx context.Context, entry model.ScoreHistoryEntry) error
}

// Scorer recomputes and persists lead scores.
type Scorer struct {
	store       Store
	concurrency int
}

// NewScorer creates a Scorer. Concurrency bounds the batch fan-out and
// defaults to 8 when non-positive.
func NewScorer(s Store, concurrency int) *Scorer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Scorer{store: s, concurrency: concurrency}
}

// RescoreLead recomputes one lead's score against the given rules. The
// score column and history are written only when the score actually
// changed, so repeated recomputes of an unchanged lead are no-ops.
// Returns the new score and whether it changed.
func (s *Scorer) RescoreLead(ctx context.Context, lead *model.Lead, rules []model.ScoringRule, now time.Time) (int, bool, error) {
	score, factors := Compute(lead, rules)
	if score == lead.Score {
		return score, false, nil
	}

	if err := s.store.UpdateLeadScore(ctx, lead.ID, score, now); err != nil {
		return 0, false, eris.Wrapf(err, "scoring: persist score for lead %s", lead.ID)
	}
	entry := model.ScoreHistoryEntry{
		ID:             uuid.NewString(),
		LeadID:         lead.ID,
		Score:          score,
		Factors:        factors,
		WinProbability: lead.Probability,
		CreatedAt:      now,
	}
	if err := s.store.AppendScoreHistory(ctx, entry); err != nil {
		return 0, false, eris.Wrapf(err, "scoring: append history for lead %s", lead.ID)
	}

	zap.L().Debug("lead rescored",
		zap.String("lead_id", lead.ID),
		zap.Int("old_score", lead.Score),
		zap.Int("new_score", score),
		zap.Int("factors", len(factors)))
	return score, true, nil
}

// RescoreCompany recomputes every lead for the company concurrently.
// A failure on one lead does not stop the batch; failures are counted
// and logged. Returns an error only when the rule or lead listing fails.
func (s *Scorer) RescoreCompany(ctx context.Context, companyID string, now time.Time) (*Result, error) {
	rules, err := s.store.ListScoringRules(ctx, companyID, true)
	if err != nil {
		return nil, eris.Wrap(err, "scoring: list rules")
	}
	leads, err := s.store.ListLeads(ctx, store.LeadFilter{CompanyID: companyID})
	if err != nil {
		return nil, eris.Wrap(err, "scoring: list leads")
	}

	var (
		mu     sync.Mutex
		result Result
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for i := range leads {
		lead := leads[i]
		g.Go(func() error {
			_, changed, err := s.RescoreLead(gctx, &lead, rules, now)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				zap.L().Warn("rescore failed",
					zap.String("lead_id", lead.ID),
					zap.Error(err))
				return nil
			}
			result.Scored++
			if changed {
				result.Changed++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "scoring: rescore batch")
	}

	zap.L().Info("company rescored",
		zap.String("company_id", companyID),
		zap.Int("scored", result.Scored),
		zap.Int("changed", result.Changed),
		zap.Int("failed", result.Failed))
	return &result, nil
}
