package policy

import (
	"time"
)

// GetBuiltinPolicies returns all built-in stage document policies.
func GetBuiltinPolicies() []Policy {
	return []Policy{
		stageNamingPolicy(),
		wildcardMatchPolicy(),
		batchBoundsPolicy(),
		selfRequisitePolicy(),
	}
}

// stageNamingPolicy enforces stage naming conventions.
func stageNamingPolicy() Policy {
	return Policy{
		Name:        "stage-naming",
		Description: "Enforces stage naming conventions (lowercase, alphanumeric, dash-separated)",
		Severity:    SeverityDeny,
		Enabled:     true,
		Tags:        []string{"naming", "conventions"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stagecast.policies.naming

import rego.v1

# Stage names must be lowercase, alphanumeric, dash-separated
deny contains violation if {
	some stage in input.stages
	not regex.match("^[a-z0-9]+(-[a-z0-9]+)*$", stage.name)
	violation := {
		"message": sprintf("Stage name %q must be lowercase, alphanumeric, and dash-separated", [stage.name]),
		"severity": "deny",
		"stage": stage.name,
	}
}
`,
	}
}

// wildcardMatchPolicy requires an explicit opt-in for wildcard target
// selectors.
func wildcardMatchPolicy() Policy {
	return Policy{
		Name:        "wildcard-match",
		Description: "Requires an explicit allow flag before a stage may target every host",
		Severity:    SeverityDeny,
		Enabled:     true,
		Tags:        []string{"targeting", "safety"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stagecast.policies.matching

import rego.v1

wildcard(expr) if expr == "*"

wildcard(expr) if expr == "all"

deny contains violation if {
	some stage in input.stages
	wildcard(stage.match)
	not input.context.allow_all
	violation := {
		"message": sprintf("Stage %q targets every host; set the allow-all flag to permit this", [stage.name]),
		"severity": "deny",
		"stage": stage.name,
	}
}
`,
	}
}

// batchBoundsPolicy bounds percentage batch specifications.
func batchBoundsPolicy() Policy {
	return Policy{
		Name:        "batch-bounds",
		Description: "Percentage batch specifications must be above zero and at most 100",
		Severity:    SeverityDeny,
		Enabled:     true,
		Tags:        []string{"batching"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stagecast.policies.batching

import rego.v1

percentage(stage) := value if {
	endswith(stage.batch, "%")
	value := to_number(trim_suffix(stage.batch, "%"))
}

deny contains violation if {
	some stage in input.stages
	value := percentage(stage)
	value <= 0
	violation := {
		"message": sprintf("Stage %q batch %q must be above zero", [stage.name, stage.batch]),
		"severity": "deny",
		"stage": stage.name,
	}
}

deny contains violation if {
	some stage in input.stages
	value := percentage(stage)
	value > 100
	violation := {
		"message": sprintf("Stage %q batch %q exceeds 100%%", [stage.name, stage.batch]),
		"severity": "deny",
		"stage": stage.name,
	}
}
`,
	}
}

// selfRequisitePolicy rejects stages that require themselves.
func selfRequisitePolicy() Policy {
	return Policy{
		Name:        "self-requisite",
		Description: "A stage must not list itself as a requisite",
		Severity:    SeverityDeny,
		Enabled:     true,
		Tags:        []string{"requisites"},
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
		Rego: `package stagecast.policies.requisites

import rego.v1

deny contains violation if {
	some stage in input.stages
	some req in stage.require
	req == stage.name
	violation := {
		"message": sprintf("Stage %q requires itself", [stage.name]),
		"severity": "deny",
		"stage": stage.name,
	}
}
`,
	}
}
