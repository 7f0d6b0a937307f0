package engine

// StreamEvent is one item in the streaming driver's output. The first event
// of a stream carries the full Definition so consumers can render a plan up
// front; every subsequent event pairs a stage with either its reduced
// per-target returns or its validation errors.
type StreamEvent struct {
	// Definition is set only on the first event of a stream.
	Definition *Definition

	// Stage is the stage the event concerns.
	Stage *Stage

	// Returns maps target identifier to its bare return value for a
	// resolved stage.
	Returns map[string]interface{}

	// Errors holds validation errors for an invalid stage.
	Errors []string
}

// ReduceOutcome strips an outcome down to bare per-target return values,
// the shape consumers render as progress.
func ReduceOutcome(out Outcome) map[string]interface{} {
	final := make(map[string]interface{}, len(out))
	for target, r := range out {
		final[target] = r.Return
	}
	return final
}

// flattenEvent pairs a resolution event with its stage body and reduces the
// outcome for streaming.
func flattenEvent(def *Definition, ev Event) StreamEvent {
	se := StreamEvent{}
	if st, ok := def.Lookup(ev.Name); ok {
		se.Stage = st
	} else {
		se.Stage = &Stage{Name: ev.Name}
	}
	if len(ev.Errors) > 0 {
		se.Errors = ev.Errors
		return se
	}
	se.Returns = ReduceOutcome(ev.Outcome)
	return se
}
