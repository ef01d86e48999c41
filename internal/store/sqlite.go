package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the
// single-node deployment path; Postgres is the default.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS leads (
	id                TEXT PRIMARY KEY,
	company_id        TEXT NOT NULL,
	title             TEXT NOT NULL DEFAULT '',
	stage             TEXT NOT NULL DEFAULT 'new',
	source            TEXT NOT NULL DEFAULT '',
	priority          TEXT NOT NULL DEFAULT '',
	customer_id       TEXT NOT NULL DEFAULT '',
	assigned_to       TEXT NOT NULL DEFAULT '',
	escalated_to      TEXT NOT NULL DEFAULT '',
	tags              TEXT NOT NULL DEFAULT '[]',
	expected_value    REAL NOT NULL DEFAULT 0,
	probability       INTEGER NOT NULL DEFAULT 0,
	expected_close_at DATETIME,
	score             INTEGER NOT NULL DEFAULT 0,
	score_updated_at  DATETIME,
	sla_deadline      DATETIME,
	sla_breached      INTEGER NOT NULL DEFAULT 0,
	created_at        DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at        DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_leads_company ON leads(company_id);
CREATE INDEX IF NOT EXISTS idx_leads_stage ON leads(company_id, stage);

CREATE TABLE IF NOT EXISTS scoring_rules (
	id         TEXT PRIMARY KEY,
	company_id TEXT NOT NULL,
	name       TEXT NOT NULL,
	enabled    INTEGER NOT NULL DEFAULT 1,
	field      TEXT NOT NULL,
	operator   TEXT NOT NULL,
	value      TEXT NOT NULL DEFAULT '',
	points     INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS automation_rules (
	id               TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL,
	name             TEXT NOT NULL,
	enabled          INTEGER NOT NULL DEFAULT 1,
	priority         INTEGER NOT NULL DEFAULT 100,
	trigger_event    TEXT NOT NULL,
	conditions       TEXT NOT NULL DEFAULT '{}',
	action           TEXT NOT NULL,
	params           TEXT NOT NULL DEFAULT '{}',
	execution_count  INTEGER NOT NULL DEFAULT 0,
	last_executed_at DATETIME,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_automation_rules_trigger ON automation_rules(company_id, trigger_event, enabled);

CREATE TABLE IF NOT EXISTS score_history (
	id              TEXT PRIMARY KEY,
	lead_id         TEXT NOT NULL REFERENCES leads(id),
	score           INTEGER NOT NULL,
	factors         TEXT NOT NULL DEFAULT '{}',
	win_probability INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_score_history_lead ON score_history(lead_id, created_at DESC);

CREATE TABLE IF NOT EXISTS tasks (
	id          TEXT PRIMARY KEY,
	company_id  TEXT NOT NULL,
	lead_id     TEXT NOT NULL,
	assigned_to TEXT NOT NULL DEFAULT '',
	title       TEXT NOT NULL DEFAULT '',
	dedupe_key  TEXT NOT NULL UNIQUE,
	created_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS ai_actions (
	id             TEXT PRIMARY KEY,
	company_id     TEXT NOT NULL,
	lead_id        TEXT NOT NULL,
	action         TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'pending',
	priority       TEXT NOT NULL DEFAULT 'medium',
	reasoning      TEXT NOT NULL DEFAULT '',
	suggested_data TEXT NOT NULL DEFAULT '{}',
	created_by     TEXT NOT NULL DEFAULT '',
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_ai_actions_status ON ai_actions(company_id, status);

CREATE TABLE IF NOT EXISTS user_roles (
	user_id    TEXT NOT NULL,
	company_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	PRIMARY KEY (user_id, company_id, role)
);

CREATE TABLE IF NOT EXISTS scan_state (
	actor_id     TEXT PRIMARY KEY,
	last_scan_at DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetLead(ctx context.Context, id string) (*model.Lead, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+leadColumns+` FROM leads WHERE id = ?`, id)
	lead, err := scanLeadSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get lead %s", id)
	}
	return lead, nil
}

func (s *SQLiteStore) ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error) {
	var (
		where []string
		args  []any
	)
	if filter.CompanyID != "" {
		where = append(where, "company_id = ?")
		args = append(args, filter.CompanyID)
	}
	if len(filter.Stages) > 0 {
		placeholders := make([]string, len(filter.Stages))
		for i, st := range filter.Stages {
			placeholders[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, fmt.Sprintf("stage IN (%s)", strings.Join(placeholders, ", ")))
	}

	query := `SELECT ` + leadColumns + ` FROM leads`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY updated_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list leads")
	}
	defer rows.Close()

	var leads []model.Lead
	for rows.Next() {
		lead, err := scanLeadSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan lead")
		}
		leads = append(leads, *lead)
	}
	return leads, eris.Wrap(rows.Err(), "sqlite: list leads")
}

func (s *SQLiteStore) UpdateLead(ctx context.Context, id string, upd LeadUpdate) error {
	var (
		sets []string
		args []any
	)
	add := func(col string, val any) {
		sets = append(sets, col+" = ?")
		args = append(args, val)
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
			return eris.Wrap(err, "sqlite: marshal tags")
		}
		add("tags", string(tagsJSON))
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
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE leads SET %s WHERE id = ?", strings.Join(sets, ", ")),
		args...,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) UpdateLeadScore(ctx context.Context, id string, score int, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE leads SET score = ?, score_updated_at = ?, updated_at = ? WHERE id = ?`,
		score, at, at, id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update lead score %s", id)
	}
	return checkRowsAffected(res, "lead", id)
}

func (s *SQLiteStore) AppendScoreHistory(ctx context.Context, entry model.ScoreHistoryEntry) error {
	factorsJSON, err := json.Marshal(entry.Factors)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal factors")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO score_history (id, lead_id, score, factors, win_probability, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.LeadID, entry.Score, string(factorsJSON), entry.WinProbability, entry.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: append score history for %s", entry.LeadID)
}

func (s *SQLiteStore) ListScoreHistory(ctx context.Context, leadID string, limit int) ([]model.ScoreHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, lead_id, score, factors, win_probability, created_at FROM score_history WHERE lead_id = ? ORDER BY created_at DESC LIMIT ?`,
		leadID, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list score history")
	}
	defer rows.Close()

	var entries []model.ScoreHistoryEntry
	for rows.Next() {
		var (
			e           model.ScoreHistoryEntry
			factorsJSON string
		)
		if err := rows.Scan(&e.ID, &e.LeadID, &e.Score, &factorsJSON, &e.WinProbability, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan score history")
		}
		if err := json.Unmarshal([]byte(factorsJSON), &e.Factors); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal factors")
		}
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "sqlite: list score history")
}

func (s *SQLiteStore) ListScoringRules(ctx context.Context, companyID string, enabledOnly bool) ([]model.ScoringRule, error) {
	query := `SELECT id, company_id, name, enabled, field, operator, value, points, created_at, updated_at FROM scoring_rules WHERE company_id = ?`
	if enabledOnly {
		query += ` AND enabled = 1`
	}
	query += ` ORDER BY name`

	rows, err := s.db.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scoring rules")
	}
	defer rows.Close()

	var rules []model.ScoringRule
	for rows.Next() {
		var r model.ScoringRule
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Enabled, &r.Field, &r.Operator, &r.Value, &r.Points, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan scoring rule")
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list scoring rules")
}

func (s *SQLiteStore) ListAutomationRules(ctx context.Context, companyID string, trigger model.TriggerEvent) ([]model.AutomationRule, error) {
	query := `SELECT id, company_id, name, enabled, priority, trigger_event, conditions, action, params, execution_count, last_executed_at, created_at, updated_at FROM automation_rules WHERE company_id = ? AND enabled = 1`
	args := []any{companyID}
	if trigger != "" {
		query += ` AND trigger_event = ?`
		args = append(args, string(trigger))
	}
	query += ` ORDER BY priority, created_at`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list automation rules")
	}
	defer rows.Close()

	var rules []model.AutomationRule
	for rows.Next() {
		var (
			r              model.AutomationRule
			conditionsJSON string
			paramsJSON     string
			lastExecuted   sql.NullTime
		)
		if err := rows.Scan(&r.ID, &r.CompanyID, &r.Name, &r.Enabled, &r.Priority, &r.Trigger, &conditionsJSON, &r.Action, &paramsJSON, &r.ExecutionCount, &lastExecuted, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan automation rule")
		}
		if err := json.Unmarshal([]byte(conditionsJSON), &r.Conditions); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal conditions")
		}
		if err := json.Unmarshal([]byte(paramsJSON), &r.Params); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal params")
		}
		if lastExecuted.Valid {
			t := lastExecuted.Time
			r.LastExecutedAt = &t
		}
		rules = append(rules, r)
	}
	return rules, eris.Wrap(rows.Err(), "sqlite: list automation rules")
}

func (s *SQLiteStore) UpsertScoringRules(ctx context.Context, rules []model.ScoringRule) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	var n int64
	for i := range rules {
		r := &rules[i]
		_, err := tx.ExecContext(ctx,
			`INSERT INTO scoring_rules (id, company_id, name, enabled, field, operator, value, points, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET company_id = excluded.company_id, name = excluded.name, enabled = excluded.enabled,
			 field = excluded.field, operator = excluded.operator, value = excluded.value, points = excluded.points, updated_at = excluded.updated_at`,
			r.ID, r.CompanyID, r.Name, r.Enabled, r.Field, string(r.Operator), r.Value, r.Points, r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert scoring rule %s", r.Name)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) UpsertAutomationRules(ctx context.Context, rules []model.AutomationRule) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin tx")
	}
	defer tx.Rollback()

	var n int64
	for i := range rules {
		r := &rules[i]
		conditionsJSON, err := json.Marshal(r.Conditions)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal conditions")
		}
		paramsJSON, err := json.Marshal(r.Params)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal params")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO automation_rules (id, company_id, name, enabled, priority, trigger_event, conditions, action, params, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET company_id = excluded.company_id, name = excluded.name, enabled = excluded.enabled,
			 priority = excluded.priority, trigger_event = excluded.trigger_event, conditions = excluded.conditions,
			 action = excluded.action, params = excluded.params, updated_at = excluded.updated_at`,
			r.ID, r.CompanyID, r.Name, r.Enabled, r.Priority, string(r.Trigger), string(conditionsJSON), string(r.Action), string(paramsJSON), r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert automation rule %s", r.Name)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit")
	}
	return n, nil
}

func (s *SQLiteStore) RecordRuleExecution(ctx context.Context, ruleID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE automation_rules SET execution_count = execution_count + 1, last_executed_at = ?, updated_at = ? WHERE id = ?`,
		at, at, ruleID,
	)
	return eris.Wrapf(err, "sqlite: record execution for rule %s", ruleID)
}

func (s *SQLiteStore) InsertTaskIfAbsent(ctx context.Context, task model.Task) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO tasks (id, company_id, lead_id, assigned_to, title, dedupe_key, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.CompanyID, task.LeadID, task.AssignedTo, task.Title, task.DedupeKey, task.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert task %s", task.DedupeKey)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n > 0, nil
}

func (s *SQLiteStore) InsertAIActions(ctx context.Context, actions []model.AIAction) error {
	for i := range actions {
		a := &actions[i]
		dataJSON, err := json.Marshal(a.SuggestedData)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal suggested data")
		}
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO ai_actions (id, company_id, lead_id, action, status, priority, reasoning, suggested_data, created_by, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.ID, a.CompanyID, a.LeadID, string(a.Action), string(a.Status), string(a.Priority), a.Reasoning, string(dataJSON), a.CreatedBy, a.CreatedAt, a.UpdatedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert ai action for lead %s", a.LeadID)
		}
	}
	return nil
}

func (s *SQLiteStore) GetAIAction(ctx context.Context, id string) (*model.AIAction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, lead_id, action, status, priority, reasoning, suggested_data, created_by, created_at, updated_at FROM ai_actions WHERE id = ?`,
		id,
	)
	action, err := scanAIActionSQLite(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get ai action %s", id)
	}
	return action, nil
}

func (s *SQLiteStore) ListAIActions(ctx context.Context, companyID string, status model.ActionStatus, limit int) ([]model.AIAction, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id, company_id, lead_id, action, status, priority, reasoning, suggested_data, created_by, created_at, updated_at FROM ai_actions WHERE company_id = ?`
	args := []any{companyID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ai actions")
	}
	defer rows.Close()

	var actions []model.AIAction
	for rows.Next() {
		a, err := scanAIActionSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ai action")
		}
		actions = append(actions, *a)
	}
	return actions, eris.Wrap(rows.Err(), "sqlite: list ai actions")
}

func (s *SQLiteStore) TransitionAIAction(ctx context.Context, id string, from, to model.ActionStatus, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_actions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(to), at, id, string(from),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition ai action %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM ai_actions WHERE id = ?)`, id).Scan(&exists); err != nil {
			return eris.Wrapf(err, "sqlite: check ai action %s", id)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrTransitionConflict
	}
	return nil
}

func (s *SQLiteStore) TransitionAllPending(ctx context.Context, companyID string, to model.ActionStatus, at time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE ai_actions SET status = ?, updated_at = ? WHERE company_id = ? AND status = 'pending'`,
		string(to), at, companyID,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: transition pending ai actions")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListUserIDsByRoles(ctx context.Context, companyID string, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(roles))
	args := []any{companyID}
	for i, role := range roles {
		placeholders[i] = "?"
		args = append(args, role)
	}

	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT DISTINCT user_id FROM user_roles WHERE company_id = ? AND role IN (%s) ORDER BY user_id`, strings.Join(placeholders, ", ")),
		args...,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list users by roles")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan user id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "sqlite: list users by roles")
}

func (s *SQLiteStore) TryClaimScan(ctx context.Context, actorID string, now time.Time, cooldown time.Duration) (bool, time.Duration, error) {
	cutoff := now.Add(-cooldown)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO scan_state (actor_id, last_scan_at) VALUES (?, ?)
		 ON CONFLICT(actor_id) DO UPDATE SET last_scan_at = excluded.last_scan_at
		 WHERE last_scan_at <= ?`,
		actorID, now, cutoff,
	)
	if err != nil {
		return false, 0, eris.Wrapf(err, "sqlite: claim scan for %s", actorID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, 0, eris.Wrap(err, "sqlite: rows affected")
	}
	if n > 0 {
		return true, 0, nil
	}

	var lastScan time.Time
	if err := s.db.QueryRowContext(ctx, `SELECT last_scan_at FROM scan_state WHERE actor_id = ?`, actorID).Scan(&lastScan); err != nil {
		return false, 0, eris.Wrapf(err, "sqlite: read scan state for %s", actorID)
	}
	remaining := lastScan.Add(cooldown).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	return false, remaining, nil
}

// scannable lets scan helpers accept both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanLeadSQLite(row scannable) (*model.Lead, error) {
	var (
		l               model.Lead
		tagsJSON        string
		expectedCloseAt sql.NullTime
		scoreUpdatedAt  sql.NullTime
		slaDeadline     sql.NullTime
	)
	err := row.Scan(
		&l.ID, &l.CompanyID, &l.Title, &l.Stage, &l.Source, &l.Priority, &l.CustomerID,
		&l.AssignedTo, &l.EscalatedTo, &tagsJSON, &l.ExpectedValue, &l.Probability,
		&expectedCloseAt, &l.Score, &scoreUpdatedAt, &slaDeadline, &l.SLABreached,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(tagsJSON), &l.Tags); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal tags")
	}
	if expectedCloseAt.Valid {
		t := expectedCloseAt.Time
		l.ExpectedCloseAt = &t
	}
	if scoreUpdatedAt.Valid {
		t := scoreUpdatedAt.Time
		l.ScoreUpdatedAt = &t
	}
	if slaDeadline.Valid {
		t := slaDeadline.Time
		l.SLADeadline = &t
	}
	return &l, nil
}

func scanAIActionSQLite(row scannable) (*model.AIAction, error) {
	var (
		a        model.AIAction
		dataJSON string
	)
	err := row.Scan(
		&a.ID, &a.CompanyID, &a.LeadID, &a.Action, &a.Status, &a.Priority,
		&a.Reasoning, &dataJSON, &a.CreatedBy, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(dataJSON), &a.SuggestedData); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal suggested data")
	}
	return &a, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", kind, id)
	}
	return nil
}
