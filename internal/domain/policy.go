package domain

import "time"

// PolicyRule is a CEL guard expression evaluated against each scored
// telemetry sample. A rule that evaluates to true forces session
// termination regardless of the statistical trust score.
type PolicyRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	// CEL expression over trust_score, raw_score, is_anomalous, the
	// four behavioral features and the raw telemetry map.
	Expression string `json:"expression"`

	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// PolicyResult is the outcome of one guard rule evaluation.
type PolicyResult struct {
	RuleID    string `json:"ruleId"`
	Name      string `json:"name"`
	Triggered bool   `json:"triggered"`
	Reason    string `json:"reason,omitempty"`
	Err       string `json:"error,omitempty"`
}
