package engine

import (
	"encoding/json"
	"fmt"
)

// WorkKind selects a stage's work form. The form is fixed once at load time.
type WorkKind string

const (
	// WorkHighstate applies the full configuration; the default when a
	// stage names neither states nor a function.
	WorkHighstate WorkKind = "highstate"

	// WorkStateList applies a named list of state identifiers.
	WorkStateList WorkKind = "statelist"

	// WorkFunction calls an explicit remote function with arguments.
	WorkFunction WorkKind = "function"

	// WorkNoop records an empty outcome without dispatching. A stage
	// degenerates to a no-op when its function form is present but empty.
	WorkNoop WorkKind = "noop"
)

// Validate checks if the work kind is valid.
func (k WorkKind) Validate() error {
	switch k {
	case WorkHighstate, WorkStateList, WorkFunction, WorkNoop:
		return nil
	default:
		return fmt.Errorf("invalid work kind: %s", k)
	}
}

// OutcomeKind classifies a recorded outcome.
type OutcomeKind string

const (
	// OutcomeResult indicates real per-target results from a dispatch.
	OutcomeResult OutcomeKind = "result"

	// OutcomeRequisiteFailure indicates a synthetic requisite failure
	// record.
	OutcomeRequisiteFailure OutcomeKind = "requisite_failure"
)

// Validate checks if the outcome kind is valid.
func (k OutcomeKind) Validate() error {
	switch k {
	case OutcomeResult, OutcomeRequisiteFailure:
		return nil
	default:
		return fmt.Errorf("invalid outcome kind: %s", k)
	}
}

// PassStatus represents the overall status of an execution pass.
type PassStatus string

const (
	// PassStatusPending indicates the pass is created but not yet started.
	PassStatusPending PassStatus = "pending"

	// PassStatusRunning indicates the pass is currently executing.
	PassStatusRunning PassStatus = "running"

	// PassStatusSucceeded indicates every stage resolved successfully.
	PassStatusSucceeded PassStatus = "succeeded"

	// PassStatusPartial indicates the pass completed with some stage
	// failures or invalid stages.
	PassStatusPartial PassStatus = "partial"

	// PassStatusFailed indicates the pass aborted on a hard error.
	PassStatusFailed PassStatus = "failed"

	// PassStatusCancelled indicates the pass was cancelled by the caller.
	PassStatusCancelled PassStatus = "cancelled"
)

// IsTerminal returns true if the pass status represents a final state.
func (s PassStatus) IsTerminal() bool {
	return s == PassStatusSucceeded || s == PassStatusPartial ||
		s == PassStatusFailed || s == PassStatusCancelled
}

// IsActive returns true if the pass is pending or running.
func (s PassStatus) IsActive() bool {
	return s == PassStatusPending || s == PassStatusRunning
}

// Validate checks if the pass status is valid.
func (s PassStatus) Validate() error {
	switch s {
	case PassStatusPending, PassStatusRunning, PassStatusSucceeded,
		PassStatusPartial, PassStatusFailed, PassStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid pass status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum
// serialization.
func (s PassStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *PassStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = PassStatus(str)
	return s.Validate()
}
