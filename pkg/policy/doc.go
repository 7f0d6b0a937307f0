// Package policy provides Open Policy Agent (OPA) gating for stage
// documents.
//
// Policies are Rego modules evaluated against a flattened stage
// document before a pass runs. Each module contributes a "deny" set;
// violations with deny severity block the pass, warn severity is
// reported but does not block. Built-in policies cover stage naming,
// wildcard target selectors, batch bounds, and self-requisites; custom
// policies load from .rego and .json files and can be hot-reloaded via
// a directory watcher.
//
// Creating an engine and gating a document:
//
//	eng, err := policy.NewEngine(logger)
//	if err != nil {
//	    return err
//	}
//	result, err := eng.Evaluate(ctx, def, policy.InputContext{})
//	if err != nil {
//	    return err
//	}
//	if !result.Allowed {
//	    for _, v := range result.Violations {
//	        fmt.Printf("policy %s: %s\n", v.Policy, v.Message)
//	    }
//	}
//
// Custom policies see the document as input:
//
//	package custom.policies.freeze
//
//	import rego.v1
//
//	deny contains violation if {
//	    some stage in input.stages
//	    input.environment == "prod"
//	    stage.kind == "function"
//	    violation := {
//	        "message": sprintf("Stage %q may not call raw functions in prod", [stage.name]),
//	        "severity": "deny",
//	        "stage": stage.name,
//	    }
//	}
//
// Policies are compiled once into prepared queries and reused across
// evaluations.
package policy
