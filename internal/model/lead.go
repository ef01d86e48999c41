package model

import (
	"fmt"
	"strconv"
	"time"
)

// Stage represents a lead's lifecycle stage.
type Stage string

const (
	StageNew         Stage = "new"
	StageContacted   Stage = "contacted"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageWon         Stage = "won"
	StageLost        Stage = "lost"
	StageArchived    Stage = "archived"
)

// Terminal reports whether the stage is excluded from active alerting
// and staleness checks.
func (s Stage) Terminal() bool {
	switch s {
	case StageWon, StageLost, StageArchived:
		return true
	}
	return false
}

// Advanced reports whether the stage is late enough in the pipeline that
// a missing expected value is a data-quality problem.
func (s Stage) Advanced() bool {
	switch s {
	case StageProposal, StageNegotiation:
		return true
	}
	return false
}

// Lead is the business record scored and automated by the engine.
// The engine reads all fields but writes only Score, ScoreUpdatedAt,
// SLADeadline, SLABreached, AssignedTo, EscalatedTo, Tags, and Stage.
type Lead struct {
	ID              string     `json:"id"`
	CompanyID       string     `json:"company_id"`
	Title           string     `json:"title"`
	Stage           Stage      `json:"stage"`
	Source          string     `json:"source,omitempty"`
	Priority        string     `json:"priority,omitempty"`
	CustomerID      string     `json:"customer_id,omitempty"`
	AssignedTo      string     `json:"assigned_to,omitempty"`
	EscalatedTo     string     `json:"escalated_to,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	ExpectedValue   float64    `json:"expected_value"`
	Probability     int        `json:"probability"` // 0-100 win probability
	ExpectedCloseAt *time.Time `json:"expected_close_at,omitempty"`
	Score           int        `json:"score"`
	ScoreUpdatedAt  *time.Time `json:"score_updated_at,omitempty"`
	SLADeadline     *time.Time `json:"sla_deadline,omitempty"`
	SLABreached     bool       `json:"sla_breached"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// leadFieldReaders maps the field names scoring conditions may reference
// to typed accessors. Rules referencing any other name are rejected at
// save time, not evaluation time.
var leadFieldReaders = map[string]func(*Lead) string{
	"stage":          func(l *Lead) string { return string(l.Stage) },
	"source":         func(l *Lead) string { return l.Source },
	"priority":       func(l *Lead) string { return l.Priority },
	"customer_id":    func(l *Lead) string { return l.CustomerID },
	"assigned_to":    func(l *Lead) string { return l.AssignedTo },
	"escalated_to":   func(l *Lead) string { return l.EscalatedTo },
	"expected_value": func(l *Lead) string { return formatFloat(l.ExpectedValue) },
	"probability":    func(l *Lead) string { return strconv.Itoa(l.Probability) },
	"score":          func(l *Lead) string { return strconv.Itoa(l.Score) },
	"title":          func(l *Lead) string { return l.Title },
}

// Field returns the string value of a named lead field. Unknown names
// return the empty string, matching the absent-field coercion rule.
func (l *Lead) Field(name string) string {
	reader, ok := leadFieldReaders[name]
	if !ok {
		return ""
	}
	return reader(l)
}

// ValidLeadField reports whether name is a permitted condition field.
func ValidLeadField(name string) bool {
	_, ok := leadFieldReaders[name]
	return ok
}

// StaleDays returns the number of whole days since the lead was last touched.
func (l *Lead) StaleDays(now time.Time) int {
	return int(now.Sub(l.UpdatedAt).Hours() / 24)
}

// HasTag reports whether tag is already present on the lead.
func (l *Lead) HasTag(tag string) bool {
	for _, t := range l.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ScoreHistoryEntry is an immutable audit snapshot written once per
// score-changing recompute.
type ScoreHistoryEntry struct {
	ID             string         `json:"id"`
	LeadID         string         `json:"lead_id"`
	Score          int            `json:"score"`
	Factors        map[string]int `json:"factors"` // matched rule name -> points
	WinProbability int            `json:"win_probability,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Task is a deduplicated human work item created by escalation actions.
type Task struct {
	ID         string    `json:"id"`
	CompanyID  string    `json:"company_id"`
	LeadID     string    `json:"lead_id"`
	AssignedTo string    `json:"assigned_to"`
	Title      string    `json:"title"`
	DedupeKey  string    `json:"dedupe_key"`
	CreatedAt  time.Time `json:"created_at"`
}

// EscalationDedupeKey builds the unique key that guarantees at most one
// task per (lead, escalation instant).
func EscalationDedupeKey(leadID string, at time.Time) string {
	return fmt.Sprintf("escalate:%s:%s", leadID, at.UTC().Format(time.RFC3339))
}
