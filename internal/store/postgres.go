package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	dbx "github.com/sells-group/pipeline-engine/internal/db"
	"github.com/sells-group/pipeline-engine/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    dbx.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_lead":          `SELECT ` + leadColumns + ` FROM leads WHERE id = $1`,
	"update_lead_score": `UPDATE leads SET score = $1, score_updated_at = $2, updated_at = $2 WHERE id = $3`,
	"record_execution":  `UPDATE automation_rules SET execution_count = execution_count + 1, last_executed_at = $1, updated_at = $1 WHERE id = $2`,
	"insert_task":       `INSERT INTO tasks (id, company_id, lead_id, assigned_to, title, dedupe_key, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (dedupe_key) DO NOTHING`,
	"transition_action": `UPDATE ai_actions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
}

const leadColumns = `id, company_id, title, stage, source, priority, customer_id, assigned_to, escalated_to, tags, expected_value, probability, expected_close_at, score, score_updated_at, sla_deadline, sla_breached, created_at, updated_at`

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() dbx.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id        TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	stage             TEXT NOT NULL DEFAULT 'new',
	source            TEXT NOT NULL DEFAULT '',
	priority          TEXT NOT NULL DEFAULT '',
	customer_id       TEXT NOT NULL DEFAULT '',
	assigned_to       TEXT NOT NULL DEFAULT '',
	escalated_to      TEXT NOT NULL DEFAULT '',
	tags              JSONB NOT NULL DEFAULT '[]',
	expected_value    DOUBLE PRECISION NOT NULL DEFAULT 0,
	probability       INTEGER NOT NULL DEFAULT 0,
	expected_close_at TIMESTAMPTZ,
	score             INTEGER NOT NULL DEFAULT 0,
	score_updated_at  TIMESTAMPTZ,
	sla_deadline      TIMESTAMPTZ,
	sla_breached      BOOLEAN NOT NULL DEFAULT FALSE,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_leads_company ON leads(company_id);
CREATE INDEX IF NOT EXISTS idx_leads_stage ON leads(company_id, stage);

CREATE TABLE IF NOT EXISTS scoring_rules (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	field      TEXT NOT NULL,
	operator   TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	points     INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_scoring_rules_company ON scoring_rules(company_id, enabled);

CREATE TABLE IF NOT EXISTS automation_rules (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id       TEXT NOT NULL,
	name             TEXT NOT NULL,
	enabled          BOOLEAN NOT NULL DEFAULT TRUE,
	priority         INTEGER NOT NULL DEFAULT 100,
	trigger_event    TEXT NOT NULL,
	conditions       JSONB NOT NULL DEFAULT '{}',
	action           TEXT NOT NULL,
	params           JSONB NOT NULL DEFAULT '{}',
	execution_count  INTEGER NOT NULL DEFAULT 0,
	last_executed_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_automation_rules_trigger ON automation_rules(company_id, trigger_event, enabled);

CREATE TABLE IF NOT EXISTS score_history (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	lead_id         TEXT NOT NULL REFERENCES leads(id),
	score           INTEGER NOT NULL,
	factors         JSONB NOT NULL DEFAULT '{}',
	win_probability INTEGER NOT NULL DEFAULT 0,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_score_history_lead ON score_history(lead_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id  TEXT NOT NULL,
	lead_id     TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	dedupe_key  TEXT NOT NULL UNIQUE,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS ai_actions (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id     TEXT NOT NULL,
	lead_id        TEXT NOT NULL,
	action         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	priority       TEXT NOT NULL DEFAULT 'medium',
	reasoning      TEXT NOT NULL DEFAULT '',
	suggested_data JSONB NOT NULL DEFAULT '{}',
	created_by     TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ai_actions_status ON ai_actions(company_id, status);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id    TEXT NOT NULL,
	company_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	PRIMARY KEY (user_id, company_id, role)
);

CREATE INDEX IF NOT EXISTS idx_user_roles_lookup ON user_roles(company_id, role);

CREATE TABLE IF NOT EXISTS scan_state (
	actor_id     TEXT PRIMARY KEY,
	last_scan_at TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = $1`, id)
	lead, err := scanLead(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get lead %s", id)
	}
	return lead, nil
}

func (s *PostgresStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	var (
		where []string
		args  []any
	)
	if filter.CompanyID != "" {
		args = append(args, filter.CompanyID)
		where = append(where, fmt.Sprintf("company_id = $%d", len(args)))
	}
	if len(filter.Stages) > 0 {
		stages := make([]string, len(filter.Stages))
		for i, st := range filter.Stages {
			stages[i] = string(st)
		}
		args = append(args, stages)
		where = append(where, fmt.Sprintf("stage = ANY($%d)", len(args)))
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "postgres: list leads")
}

func (s *PostgresStore) UpdateLead(ctx context.Context, id string, upd LeadUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, val any) {
		args = append(args, val)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}

	if upd.Stage != nil {
		add("stage", string(*upd.Stage))
	}
	if upd.AssignedTo != nil {
		add("assigned_to", *upd.AssignedTo)
	}
	if upd.EscalatedTo != nil {
		add("escalated_to", *upd.EscalatedTo)
	}
	if upd.Tags != nil {
		tagsJSON, err := json.Marshal(upd.Tags)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal tags")
		}
		add("tags", tagsJSON)
	}
	if upd.SLADeadline != nil {
		add("sla_deadline", *upd.SLADeadline)
	}
	if upd.SLABreached != nil {
		add("sla_breached", *upd.SLABreached)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())

	args = append(args, id)
	query := fmt.Sprintf("UPDATE leads SET %s WHERE id = $%d", strings.Join(sets, ", "), len(args))

	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateLeadScore(ctx context.Context, id string, score int, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE leads SET score = $1, score_updated_at = $2, updated_at = $2 WHERE id = $3`,
		score, at, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update lead score %s", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) AppendScoreHistory(ctx context.Context, entry model.ScoreHistoryEntry) error {
	factorsJSON, err := json.Marshal(entry.Factors)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal factors")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO score_history (id, lead_id, score, factors, win_probability, created_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		entry.ID, entry.LeadID, entry.Score, factorsJSON, entry.WinProbability, entry.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: append score history for %s", entry.LeadID)
}

func (s *PostgresStore) ListScoreHistory(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, lead_id, score, factors, win_probability, created_at FROM score_history WHERE lead_id = $1 ORDER BY created_at DESC LIMIT $2`,
		leadID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list score history")
	}
	defer rows.Close()

	var entries []model.ScoreHistoryEntry
	for rows.Next() {
		var (
			e           model.ScoreHistoryEntry
			factorsJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Score, &factorsJSON, &e.WinProbability, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan score history")
		}
		if err := json.Unmarshal(factorsJSON, &e.Factors); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal factors")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: list score history")
}

func (s *PostgresStore) ListScoringRules(ctx context.Context, companyID string, enabledOnly bool) ([]model.ScoringRule, error) {
	query := `SELECT id, company_id, name, enabled, field, operator, value, points, created_at, updated_at FROM scoring_rules WHERE company_id = $1`
	if enabledOnly {
		query += ` AND enabled = TRUE`
	}
	query += ` ORDER BY name`

	rows, err := s.pool.Query(ctx, query, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scoring rules")
	}
	defer rows.Close()

	var rules []model.ScoringRule
	for rows.Next() {
		var r model.ScoringRule
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Enabled, &r.Field, &r.Operator, &r.Value, &r.Points, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan scoring rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list scoring rules")
}

func (s *PostgresStore) ListAutomationRules(ctx context.Context, companyID string, trigger model.TriggerEvent) ([]model.AutomationRule, error) {
	query := `SELECT id, company_id, name, enabled, priority, trigger_event, conditions, action, params, execution_count, last_executed_at, created_at, updated_at FROM automation_rules WHERE company_id = $1 AND enabled = TRUE`
	args := []any{companyID}
	if trigger != "" {
		args = append(args, string(trigger))
		query += ` AND trigger_event = $2`
	}
	query += ` ORDER BY priority, created_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list automation rules")
	}
	defer rows.Close()

	var rules []model.AutomationRule
	for rows.Next() {
		var (
			r              model.AutomationRule
			conditionsJSON []byte
			paramsJSON     []byte
		)
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Enabled, &r.Priority, &r.Trigger, &conditionsJSON, &r.Action, &paramsJSON, &r.ExecutionCount, &r.LastExecutedAt, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan automation rule")
		}
		if err := json.Unmarshal(conditionsJSON, &r.Conditions); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal conditions")
		}
		if err := json.Unmarshal(paramsJSON, &r.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal params")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "postgres: list automation rules")
}

func (s *PostgresStore) UpsertScoringRules(ctx context.Context, rules []model.ScoringRule) (int64, error) {
	rows := make([][]any, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		rows = append(rows, []any{r.ID, r.CompanyID, r.Name, r.Enabled, r.Field, string(r.Operator), r.Value, r.Points, r.CreatedAt, r.UpdatedAt})
	}
	n, err := dbx.BulkUpsert(ctx, s.pool, dbx.UpsertConfig{
		Table:        "scoring_rules",
		Columns:      []string{"id", "company_id", "name", "enabled", "field", "operator", "value", "points", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert scoring rules")
}

func (s *PostgresStore) UpsertAutomationRules(ctx context.Context, rules []model.AutomationRule) (int64, error) {
	rows := make([][]any, 0, len(rules))
	for i := range rules {
		r := &rules[i]
		conditionsJSON, err := json.Marshal(r.Conditions)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal conditions")
		}
		paramsJSON, err := json.Marshal(r.Params)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal params")
		}
		rows = append(rows, []any{r.ID, r.CompanyID, r.Name, r.Enabled, r.Priority, string(r.Trigger), conditionsJSON, string(r.Action), paramsJSON, r.CreatedAt, r.UpdatedAt})
	}
	n, err := dbx.BulkUpsert(ctx, s.pool, dbx.UpsertConfig{
		Table:        "automation_rules",
		Columns:      []string{"id", "company_id", "name", "enabled", "priority", "trigger_event", "conditions", "action", "params", "created_at", "updated_at"},
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: upsert automation rules")
}

func (s *PostgresStore) RecordRuleExecution(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE automation_rules SET execution_count = execution_count + 1, last_executed_at = $1, updated_at = $1 WHERE id = $2`,
		at, ruleID,
	)
	return eris.Wrapf(err, "postgres: record execution for rule %s", ruleID)
}

func (s *PostgresStore) InsertTaskIfAbsent(ctx context.Context, task model.Task) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO tasks (id, company_id, lead_id, assigned_to, title, dedupe_key, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7) ON CONFLICT (dedupe_key) DO NOTHING`,
		task.ID, task.CompanyID, task.LeadID, task.AssignedTo, task.Title, task.DedupeKey, task.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert task %s", task.DedupeKey)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) InsertAIActions(ctx context.Context, actions []model.AIAction) error {
	for i := range actions {
		a := &actions[i]
		dataJSON, err := json.Marshal(a.SuggestedData)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal suggested data")
		}
		_, err = s.pool.Exec(ctx,
			`INSERT INTO ai_actions (id, company_id, lead_id, action, status, priority, reasoning, suggested_data, created_by, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			a.ID, a.CompanyID, a.LeadID, string(a.Action), string(a.Status), string(a.Priority), a.Reasoning, dataJSON, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert ai action for lead %s", a.LeadID)
		}
	}
	return nil
}

func (s *PostgresStore) GetAIAction(ctx context.Context, id string) (*model.AIAction, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, lead_id, action, status, priority, reasoning, suggested_data, created_by, created_at, updated_at FROM ai_actions WHERE id = $1`,
		id,
	)
	action, err := scanAIAction(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get ai action %s", id)
	}
	return action, nil
}

func (s *PostgresStore) ListAIActions(ctx context.Context, companyID string, status model.ActionStatus, limit int) ([]model.AIAction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, company_id, lead_id, action, status, priority, reasoning, suggested_data, created_by, created_at, updated_at FROM ai_actions WHERE company_id = $1`
	args := []any{companyID}
	if status != "" {
		args = append(args, string(status))
		query += ` AND status = $2`
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d`, len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ai actions")
	}
	defer rows.Close()

	var actions []model.AIAction
	for rows.Next() {
		a, err := scanAIAction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ai action")
		}
		actions = append(actions, *a)
	}
	return actions, eris.Wrap(rows.Err(), "postgres: list ai actions")
}

func (s *PostgresStore) TransitionAIAction(ctx context.Context, id string, from, to model.ActionStatus, at time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_actions SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`,
		string(to), at, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition ai action %s", id)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing row from a row in the wrong status.
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM ai_actions WHERE id = $1)`, id).Scan(&exists); err != nil {
			return eris.Wrapf(err, "postgres: check ai action %s", id)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrTransitionConflict
	}
	return nil
}

func (s *PostgresStore) TransitionAllPending(ctx context.Context, companyID string, to model.ActionStatus, at time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE ai_actions SET status = $1, updated_at = $2 WHERE company_id = $3 AND status = 'pending'`,
		string(to), at, companyID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: transition pending ai actions")
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) ListUserIDsByRoles(ctx context.Context, companyID string, roles []string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM user_roles WHERE company_id = $1 AND role = ANY($2) ORDER BY user_id`,
		companyID, roles,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list users by roles")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan user id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: list users by roles")
}

func (s *PostgresStore) TryClaimScan(ctx context.Context, actorID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error) {
	cutoff := now.Add(-cooldown)

	// Atomic check-and-set: the conditional DO UPDATE claims the slot only
	// when the previous scan is outside the cooldown window.
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO scan_state (actor_id, last_scan_at) VALUES ($1, $2)
		 ON CONFLICT (actor_id) DO UPDATE SET last_scan_at = $2
		 WHERE scan_state.last_scan_at <= $3`,
		actorID, now, cutoff,
	)
	if err != nil {
		return false, 0, eris.Wrapf(err, "postgres: claim scan for %s", actorID)
	}
	if tag.RowsAffected() > 0 {
		return true, 0, nil
	}

	var lastScan time.Time
	if err := s.pool.QueryRow(ctx, `SELECT last_scan_at FROM scan_state WHERE actor_id = $1`, actorID).Scan(&lastScan); err != nil {
		return false, 0, eris.Wrapf(err, "postgres: read scan state for %s", actorID)
	}
	remaining := lastScan.Add(cooldown).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return false, remaining, nil
}

// scanLead reads a lead from a row with the leadColumns column order.
func scanLead(row pgx.Row) (*model.Lead, error) {
	var (
		l        model.Lead
		tagsJSON []byte
	)
	err := row.Scan(
		&l.ID, &l.CompanyID, &l.Title, &l.Stage, &l.Source, &l.Priority, &l.CustomerID,
		&l.AssignedTo, &l.EscalatedTo, &tagsJSON, &l.ExpectedValue, &l.Probability,
		&l.ExpectedCloseAt, &l.Score, &l.ScoreUpdatedAt, &l.SLADeadline, &l.SLABreached,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &l.Tags); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal tags")
		}
	}
	return &l, nil
}

func scanAIAction(row pgx.Row) (*model.AIAction, error) {
	var (
		a        model.AIAction
		dataJSON []byte
	)
	err := row.Scan(
		&a.ID, &a.CompanyID, &a.LeadID, &a.Action, &a.Status, &a.Priority,
		&a.Reasoning, &dataJSON, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &a.SuggestedData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal suggested data")
		}
	}
	return &a, nil
}
