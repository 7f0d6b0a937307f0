package policy

import (
	"time"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarn is for violations that are logged but do not block a
	// pass.
	SeverityWarn Severity = "warn"

	// SeverityDeny is for violations that block the pass.
	SeverityDeny Severity = "deny"
)

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations that do not carry
	// their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Tags are labels for organizing policies.
	Tags []string `json:"tags,omitempty"`

	// Metadata contains additional policy metadata.
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// CreatedAt is when the policy was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the policy was last updated.
	UpdatedAt time.Time `json:"updated_at"`
}

// Violation represents a single policy violation against a stage
// document.
type Violation struct {
	// Policy is the name of the policy that was violated.
	Policy string `json:"policy"`

	// Stage is the stage that violated the policy, if stage-scoped.
	Stage string `json:"stage,omitempty"`

	// Message is a human-readable violation message.
	Message string `json:"message"`

	// Severity is the violation severity level.
	Severity Severity `json:"severity"`
}

// Result represents the result of evaluating a stage document against
// the loaded policies.
type Result struct {
	// Allowed indicates if the pass may proceed. Any deny-severity
	// violation blocks it.
	Allowed bool `json:"allowed"`

	// Violations lists deny-severity violations.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings lists warn-severity violations that do not block.
	Warnings []Violation `json:"warnings,omitempty"`

	// EvaluatedPolicies lists the names of policies that were evaluated.
	EvaluatedPolicies []string `json:"evaluated_policies"`

	// EvaluatedAt is when the evaluation ran.
	EvaluatedAt time.Time `json:"evaluated_at"`

	// Duration is how long the evaluation took.
	Duration time.Duration `json:"duration"`
}

// Input is the document shape handed to Rego evaluation.
type Input struct {
	// Stages is the ordered stage list of the document.
	Stages []StageInput `json:"stages"`

	// Environment is the environment the pass would run under.
	Environment string `json:"environment"`

	// Context provides evaluation context.
	Context InputContext `json:"context"`
}

// StageInput is one stage as seen by policies.
type StageInput struct {
	Name       string        `json:"name"`
	Match      string        `json:"match"`
	Kind       string        `json:"kind"`
	States     []string      `json:"states,omitempty"`
	Fun        string        `json:"fun,omitempty"`
	Args       []interface{} `json:"args,omitempty"`
	Requisites []string      `json:"require,omitempty"`
	Batch      string        `json:"batch,omitempty"`
}

// InputContext provides context information for policy evaluation.
type InputContext struct {
	// AllowAll permits wildcard target selectors. Off by default; a
	// caller opts in explicitly.
	AllowAll bool `json:"allow_all"`

	// Timestamp is when the evaluation is occurring.
	Timestamp time.Time `json:"timestamp"`
}
