package engine

import (
	"fmt"
	"strings"
)

// Function identifiers for the built-in work forms and the synthetic
// requisite failure records.
const (
	// FunctionHighstate applies the full configuration on each target.
	FunctionHighstate = "state.highstate"

	// FunctionStateList applies a named list of state identifiers.
	FunctionStateList = "state.sls"

	// FunctionRequisiteFailure marks a synthetic record for a requisite
	// that resolved but did not succeed.
	FunctionRequisiteFailure = "requisite.failure"

	// FunctionRequisiteMissing marks a synthetic record for a requisite
	// that is not defined in the Definition.
	FunctionRequisiteMissing = "requisite.missing"
)

// Retcodes carried by synthetic requisite failure records.
const (
	// RetcodeRequisiteFailed is recorded when a requisite resolved but at
	// least one of its targets did not succeed.
	RetcodeRequisiteFailed = 254

	// RetcodeRequisiteMissing is recorded when a requisite names a stage
	// absent from the Definition.
	RetcodeRequisiteMissing = 253
)

// RequisiteFailureTarget is the fixed sentinel target key under which a
// synthetic requisite failure record is stored in an Outcome. It never
// collides with a real target identifier.
const RequisiteFailureTarget = "__requisite__"

// DefaultEnv is the environment used when none is given at load time.
const DefaultEnv = "base"

// Stage is a named unit of orchestration: a target selector, a unit of
// remote work, and zero or more requisites on other stages.
type Stage struct {
	// Name is the unique stage identifier within its Definition.
	Name string `json:"name"`

	// Match is the target-selection expression handed to the Dispatcher.
	// A list form in the source document is normalized at load time by
	// joining with " or ".
	Match string `json:"match"`

	// Work is the stage's unit of work, resolved once at load time.
	Work Work `json:"work"`

	// Requisites lists stage names that must resolve before this stage's
	// work is dispatched, in declaration order.
	Requisites []string `json:"require,omitempty"`

	// Batch controls how the Dispatcher partitions targets: a count or a
	// percentage string. Empty means dispatch all targets in one call.
	Batch string `json:"batch,omitempty"`

	// Raw is the stage body as authored in the source document, kept for
	// rendering. Nil for programmatically constructed stages.
	Raw map[string]interface{} `json:"-"`
}

// Validate performs the shallow pre-execution check on a stage and returns
// human-readable problems. An empty result means the stage may be resolved.
// The only check is that the stage selects targets; work well-formedness is
// settled at load time.
func (s *Stage) Validate() []string {
	var errors []string
	if s.Match == "" {
		errors = append(errors, `No "match" argument in stage.`)
	}
	return errors
}

// Work is a stage's unit of work as a tagged variant. The kind is fixed at
// load time and never re-inspected from the source document.
type Work struct {
	// Kind selects the work form.
	Kind WorkKind `json:"kind"`

	// States holds the state identifiers for the state-list form.
	States []string `json:"states,omitempty"`

	// Fun is the remote function name for the function form.
	Fun string `json:"fun,omitempty"`

	// Args are the positional arguments for the function form.
	Args []interface{} `json:"args,omitempty"`
}

// FunctionCall returns the concrete function identifier and argument list
// dispatched for this work under the given environment. The no-op form
// returns an empty function name and is never dispatched.
func (w Work) FunctionCall(env string) (string, []interface{}) {
	switch w.Kind {
	case WorkStateList:
		return FunctionStateList, []interface{}{strings.Join(w.States, ","), env}
	case WorkFunction:
		return w.Fun, w.Args
	case WorkNoop:
		return "", nil
	default:
		return FunctionHighstate, nil
	}
}

// TargetResult is one target's recorded outcome from a dispatch.
type TargetResult struct {
	// Return is the raw return value reported by the target.
	Return interface{} `json:"ret"`

	// Fun is the function that produced the return.
	Fun string `json:"fun"`

	// Retcode is the return code; zero means success.
	Retcode int `json:"retcode"`

	// Success is the transport-level success flag.
	Success bool `json:"success"`
}

// OK reports whether this target's result counts as success. State-form
// returns are checked structurally; everything else requires a zero retcode
// and the success flag.
func (r TargetResult) OK() bool {
	if r.Fun == FunctionHighstate || r.Fun == FunctionStateList {
		return CheckStateResult(r.Return)
	}
	return r.Retcode == 0 && r.Success
}

// Outcome maps target identifier to result for one resolved stage. A
// requisite failure is an Outcome holding a single synthetic record under
// RequisiteFailureTarget.
type Outcome map[string]TargetResult

// IsRequisiteFailure reports whether this outcome is a synthetic requisite
// failure rather than real per-target results.
func (o Outcome) IsRequisiteFailure() bool {
	r, ok := o[RequisiteFailureTarget]
	if !ok {
		return false
	}
	return r.Fun == FunctionRequisiteFailure || r.Fun == FunctionRequisiteMissing
}

// OK reports whether every target in the outcome succeeded. An empty
// outcome is vacuously successful.
func (o Outcome) OK() bool {
	for _, r := range o {
		if !r.OK() {
			return false
		}
	}
	return true
}

// Kind classifies the outcome for reporting and persistence.
func (o Outcome) Kind() OutcomeKind {
	if o.IsRequisiteFailure() {
		return OutcomeRequisiteFailure
	}
	return OutcomeResult
}

// requisiteFailed builds the synthetic record for a requisite that resolved
// but did not succeed on the given target.
func requisiteFailed(req, target string) TargetResult {
	return syntheticFailure(
		fmt.Sprintf("Requisite %s failed for stage on minion %s", req, target),
		FunctionRequisiteFailure,
		RetcodeRequisiteFailed,
	)
}

// requisiteMissing builds the synthetic record for a requisite absent from
// the Definition.
func requisiteMissing(req string) TargetResult {
	return syntheticFailure(
		fmt.Sprintf("Requisite %s not found", req),
		FunctionRequisiteMissing,
		RetcodeRequisiteMissing,
	)
}

func syntheticFailure(comment, fun string, retcode int) TargetResult {
	return TargetResult{
		Return: map[string]interface{}{
			"result":  false,
			"comment": comment,
			"name":    "Requisite Failure",
			"changes": map[string]interface{}{},
		},
		Fun:     fun,
		Retcode: retcode,
		Success: false,
	}
}

// PassSummary provides statistics about a pass.
type PassSummary struct {
	// Total is the number of stages in the Definition.
	Total int `json:"total"`

	// Succeeded is the number of stages whose outcome succeeded on every
	// target.
	Succeeded int `json:"succeeded"`

	// Failed is the number of stages with a failed target or a synthetic
	// requisite failure.
	Failed int `json:"failed"`

	// Invalid is the number of stages that failed validation and were
	// never resolved.
	Invalid int `json:"invalid"`
}
