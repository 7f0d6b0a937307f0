package engine

import (
	"context"
)

// Dispatcher is the engine's boundary to the remote-execution subsystem.
// The resolver treats it purely as an injected capability: any transport
// that resolves selectors to target identifiers and executes a function
// against them satisfies the contract.
//
// Implementations must tolerate individual target failures by reporting
// them inline in the return stream (non-zero retcode, success=false)
// without aborting the remaining targets. Only infrastructure failures
// that make the whole call impossible are returned as errors.
type Dispatcher interface {
	// SelectTargets resolves a target-selection expression to the set of
	// target identifiers it matches.
	SelectTargets(ctx context.Context, matchExpr string) ([]string, error)

	// Dispatch executes a function call against the call's targets and
	// streams one Return per target. The channel is closed when every
	// target has reported. When the call carries a batch spec, targets
	// are partitioned accordingly and each partition completes before
	// the next is issued.
	Dispatch(ctx context.Context, call *Call) (<-chan Return, error)
}

// Call describes one dispatch of a function against a set of targets.
type Call struct {
	// Targets are the resolved target identifiers to execute against.
	Targets []string `json:"targets"`

	// Fun is the function identifier to execute.
	Fun string `json:"fun"`

	// Args are the positional arguments for the function.
	Args []interface{} `json:"args,omitempty"`

	// Batch partitions the targets when non-empty: an integer count or a
	// percentage string such as "25%".
	Batch string `json:"batch,omitempty"`
}

// Return is one per-target record streamed back from a dispatch.
type Return struct {
	// TargetID identifies the target that produced this record.
	TargetID string `json:"id"`

	// Value is the raw return value from the target.
	Value interface{} `json:"return"`

	// Fun is the function that was executed.
	Fun string `json:"fun"`

	// Retcode is the return code; zero means success.
	Retcode int `json:"retcode"`

	// Success is the transport-level success flag.
	Success bool `json:"success"`
}

// Malformed reports whether the record carries none of the target-id,
// return-value, and function fields. Such records are skipped when folding
// a dispatch stream into an Outcome.
func (r Return) Malformed() bool {
	return r.TargetID == "" && r.Value == nil && r.Fun == ""
}

// ReturnFromMap decodes a loosely typed per-target record as produced at a
// wire boundary. The second return is false for malformed records that
// carry none of the id, return, and fun fields. An absent retcode defaults
// to zero and an absent success flag defaults to true.
func ReturnFromMap(m map[string]interface{}) (Return, bool) {
	_, hasID := m["id"]
	_, hasReturn := m["return"]
	_, hasFun := m["fun"]
	if !hasID && !hasReturn && !hasFun {
		return Return{}, false
	}

	ret := Return{
		Retcode: 0,
		Success: true,
	}
	if v, ok := m["id"].(string); ok {
		ret.TargetID = v
	}
	ret.Value = m["return"]
	if v, ok := m["fun"].(string); ok {
		ret.Fun = v
	}
	if v, ok := m["retcode"]; ok {
		ret.Retcode = toInt(v)
	}
	if v, ok := m["success"].(bool); ok {
		ret.Success = v
	}
	return ret, true
}

// toInt converts the numeric types a decoder may produce for a retcode.
func toInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint64:
		return int(n)
	default:
		return 0
	}
}
