// Package engine provides the core types and algorithms for the Stagecast
// orchestration engine.
//
// # Overview
//
// Stagecast orchestrates ordered, dependency-aware execution of named stages
// across a fleet of remote targets. The engine turns a parsed stage document
// into a lexicographically ordered Definition, resolves each stage's
// requisites recursively, dispatches its work through an injected Dispatcher,
// and records per-target outcomes in a per-pass RunState:
//
//  1. Load - Sort and parse the stage document into a Definition
//  2. Validate - Shallow per-stage validation (a stage must select targets)
//  3. Resolve - Recursive requisite resolution with failure synthesis
//  4. Dispatch - Execute the stage's work against its selected targets
//  5. Record - Fold per-target returns into the pass RunState
//
// # Core Domain Types
//
//   - Stage: A named orchestration step: target selector, unit of work,
//     requisites, and optional batch control
//   - Work: The stage's unit of work as a tagged variant (highstate,
//     state list, function call, or no-op)
//   - Definition: The immutable, lexicographically ordered set of stages
//     for one orchestration run
//   - RunState: Per-pass mapping of stage name to recorded Outcome
//   - Outcome: Per-target results for one stage, or a synthetic requisite
//     failure record
//   - TargetResult: One target's return value, function, retcode, and
//     success flag
//
// # Dispatcher Interface
//
// Remote execution is injected through the Dispatcher interface:
//
//	type Dispatcher interface {
//	    SelectTargets(ctx context.Context, matchExpr string) ([]string, error)
//	    Dispatch(ctx context.Context, call *Call) (<-chan Return, error)
//	}
//
// Any transport satisfying the contract is valid; the engine never assumes a
// particular wire protocol. Per-target failures are reported inline in the
// return stream and never abort the remaining targets.
//
// # Execution Drivers
//
// Two drivers sit atop the resolver:
//
//   - RunPass: the eager driver. Resolves and executes every stage to
//     completion and returns a Report with the terminal RunState.
//   - StreamPass: the streaming driver. Yields the full Definition first,
//     then one event per resolved or invalid stage as resolution proceeds.
//
// # Failure Semantics
//
// Requisite failures are data, not control flow. A stage whose requisite
// failed records a synthetic RequisiteFailure outcome (retcode 254) under its
// own name; a stage naming an undefined requisite records retcode 253. Both
// propagate to further dependents without halting the rest of the
// Definition. Only three conditions abort a pass: a requisite cycle, a
// dispatcher infrastructure error, and context cancellation.
//
// # Error Classification
//
// Hard errors are classified for retry and recovery logic:
//
//   - Transient: Temporary failures that may succeed on retry
//   - Throttled: Rate limiting that requires backoff
//   - Conflict: State conflicts requiring retry
//   - Permanent: Non-recoverable errors
//
// Use the error helper functions to classify and inspect errors:
//
//	if engine.IsTransient(err) {
//	    // Retry the pass
//	}
//
// # Thread Safety
//
// A Definition is immutable after Load. RunState guards its maps internally
// and is safe to snapshot while a pass is running, but each pass must own its
// own RunState instance. Resolution itself is sequential: stage N's work is
// never dispatched before all of its transitive requisites have completed.
package engine
