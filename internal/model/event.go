package model

import "time"

// LeadEvent is a lifecycle occurrence delivered to the engine. Previous
// is set for events that compare against the prior snapshot
// (stage_change, value_change) and nil otherwise.
type LeadEvent struct {
	Trigger    TriggerEvent `json:"trigger"`
	CompanyID  string       `json:"company_id"`
	Current    Lead         `json:"current"`
	Previous   *Lead        `json:"previous,omitempty"`
	OccurredAt time.Time    `json:"occurred_at"`
}

// PipelineStats is the aggregate view handed to the suggestion generator
// and exposed on the stats endpoint.
type PipelineStats struct {
	CompanyID     string            `json:"company_id"`
	TotalLeads    int               `json:"total_leads"`
	ActiveLeads   int               `json:"active_leads"`
	ByStage       map[Stage]int     `json:"by_stage"`
	ValueByStage  map[Stage]float64 `json:"value_by_stage"`
	TotalValue    float64           `json:"total_value"`
	AvgScore      float64           `json:"avg_score"`
	StaleCount    int               `json:"stale_count"`
	BreachedCount int               `json:"breached_count"`
	WonCount      int               `json:"won_count"`
	LostCount     int               `json:"lost_count"`
	CollectedAt   time.Time         `json:"collected_at"`
}
