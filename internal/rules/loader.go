// Package rules loads scoring and automation rule definitions from YAML
// and validates them before they reach the store.
package rules

import (
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/pipeline-engine/internal/model"
)

// File is the on-disk rule bundle format.
type File struct {
	CompanyID  string           `yaml:"company_id"`
	Scoring    []ScoringRule    `yaml:"scoring"`
	Automation []AutomationRule `yaml:"automation"`
}

// ScoringRule is the YAML shape of a scoring rule.
type ScoringRule struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Enabled  *bool  `yaml:"enabled"`
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
	Points   int    `yaml:"points"`
}

// AutomationRule is the YAML shape of an automation rule.
type AutomationRule struct {
	ID         string                  `yaml:"id"`
	Name       string                  `yaml:"name"`
	Enabled    *bool                   `yaml:"enabled"`
	Priority   int                     `yaml:"priority"`
	Trigger    string                  `yaml:"trigger"`
	Conditions model.TriggerConditions `yaml:"conditions"`
	Action     string                  `yaml:"action"`
	Params     model.ActionParams      `yaml:"params"`
}

// LoadFile parses and validates a rule bundle from disk.
func LoadFile(path string, now time.Time) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "rules: read %s", path)
	}
	return Parse(data, now)
}

// Bundle is a validated set of rules ready for upserting.
type Bundle struct {
	CompanyID  string
	Scoring    []model.ScoringRule
	Automation []model.AutomationRule
}

// Parse validates a YAML rule bundle. Any invalid rule fails the whole
// bundle; partial imports would leave the rule set inconsistent.
func Parse(data []byte, now time.Time) (*Bundle, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "rules: parse yaml")
	}
	if f.CompanyID == "" {
		return nil, eris.New("rules: company_id is required")
	}

	b := &Bundle{CompanyID: f.CompanyID}
	for i := range f.Scoring {
		rule, err := f.Scoring[i].toModel(f.CompanyID, now)
		if err != nil {
			return nil, err
		}
		b.Scoring = append(b.Scoring, *rule)
	}
	for i := range f.Automation {
		rule, err := f.Automation[i].toModel(f.CompanyID, now)
		if err != nil {
			return nil, err
		}
		b.Automation = append(b.Automation, *rule)
	}
	return b, nil
}

func (y *ScoringRule) toModel(companyID string, now time.Time) (*model.ScoringRule, error) {
	rule := &model.ScoringRule{
		ID:        y.ID,
		CompanyID: companyID,
		Name:      y.Name,
		Enabled:   y.Enabled == nil || *y.Enabled,
		Field:     y.Field,
		Operator:  model.Operator(y.Operator),
		Value:     y.Value,
		Points:    y.Points,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}

func (y *AutomationRule) toModel(companyID string, now time.Time) (*model.AutomationRule, error) {
	priority := y.Priority
	if priority == 0 {
		priority = 100
	}
	rule := &model.AutomationRule{
		ID:         y.ID,
		CompanyID:  companyID,
		Name:       y.Name,
		Enabled:    y.Enabled == nil || *y.Enabled,
		Priority:   priority,
		Trigger:    model.TriggerEvent(y.Trigger),
		Conditions: y.Conditions,
		Action:     model.ActionType(y.Action),
		Params:     y.Params,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	return rule, nil
}
