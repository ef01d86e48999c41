package model

import "time"

// ActionStatus is the lifecycle state of an AI-suggested action.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusApproved  ActionStatus = "approved"
	StatusDismissed ActionStatus = "dismissed"
	StatusExecuted  ActionStatus = "executed"
)

// CanTransitionTo reports whether moving from s to next is a legal
// transition. Dismissed and executed are terminal.
func (s ActionStatus) CanTransitionTo(next ActionStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusApproved || next == StatusDismissed
	case StatusApproved:
		return next == StatusExecuted
	}
	return false
}

// ActionPriority ranks suggested actions for review.
type ActionPriority string

const (
	PriorityCritical ActionPriority = "critical"
	PriorityHigh     ActionPriority = "high"
	PriorityMedium   ActionPriority = "medium"
	PriorityLow      ActionPriority = "low"
)

// Valid reports whether the priority is a known rank.
func (p ActionPriority) Valid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	}
	return false
}

// AIAction is a suggested action awaiting human review. Rows are never
// deleted, only transitioned, so the table doubles as an audit trail.
type AIAction struct {
	ID            string         `json:"id"`
	CompanyID     string         `json:"company_id"`
	LeadID        string         `json:"lead_id"`
	Action        ActionType     `json:"action"`
	Status        ActionStatus   `json:"status"`
	Priority      ActionPriority `json:"priority"`
	Reasoning     string         `json:"reasoning"`
	SuggestedData ActionParams   `json:"suggested_data"`
	CreatedBy     string         `json:"created_by"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Proposal is one raw suggestion from the external generator. It is
// untrusted input and must be validated before persistence.
type Proposal struct {
	LeadID        string       `json:"lead_id"`
	Action        string       `json:"action"`
	Priority      string       `json:"priority"`
	Reasoning     string       `json:"reasoning"`
	SuggestedData ActionParams `json:"suggested_data"`
}
