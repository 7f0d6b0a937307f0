package engine

import (
	"context"
)

// Report is the eager driver's product: the terminal RunState plus the
// stages that failed validation and were never resolved.
type Report struct {
	// State is the terminal RunState of the pass.
	State *RunState

	// Invalid maps stage name to validation errors for stages that were
	// not resolved.
	Invalid map[string][]string

	// Summary provides per-stage statistics.
	Summary PassSummary
}

// Status derives the terminal pass status from the report.
func (rep *Report) Status() PassStatus {
	if rep.Summary.Failed > 0 || rep.Summary.Invalid > 0 {
		return PassStatusPartial
	}
	return PassStatusSucceeded
}

// RunPass is the eager driver: it executes every stage of the Definition to
// completion in lexicographic order, without exposing intermediate events,
// and returns the terminal report. Stages already resolved through a
// requisite edge are not re-dispatched. On a hard error the partial report
// is returned alongside the error; its RunState is internally consistent
// but the pass cannot be resumed.
func RunPass(ctx context.Context, def *Definition, disp Dispatcher) (*Report, error) {
	r := NewResolver(def, disp)
	report := &Report{
		State:   r.State(),
		Invalid: make(map[string][]string),
	}
	collect := func(ev Event) error {
		if len(ev.Errors) > 0 {
			report.Invalid[ev.Name] = ev.Errors
		}
		return nil
	}

	for _, st := range def.Stages() {
		if r.State().Resolved(st.Name) {
			continue
		}
		if errs := st.Validate(); len(errs) > 0 {
			report.Invalid[st.Name] = errs
			continue
		}
		if err := r.Resolve(ctx, st, collect); err != nil {
			report.Summary = summarize(def, r.State(), report.Invalid)
			return report, err
		}
	}
	report.Summary = summarize(def, r.State(), report.Invalid)
	return report, nil
}

// Stream is the streaming driver's handle. Events delivers the ordered
// event sequence; Err reports the terminal error and is valid once Events
// is closed.
type Stream struct {
	events chan StreamEvent
	state  *RunState
	err    error
}

// Events returns the stream's event channel. The channel is closed when
// the pass completes or aborts.
func (s *Stream) Events() <-chan StreamEvent {
	return s.events
}

// Err returns the hard error that terminated the stream, if any. It must
// only be read after Events is closed.
func (s *Stream) Err() error {
	return s.err
}

// State returns the pass RunState, safe to snapshot while streaming.
func (s *Stream) State() *RunState {
	return s.state
}

// StreamPass is the streaming driver: it yields the full Definition first,
// then one event per resolved or invalid stage as resolution proceeds, in
// lexicographic top-level order with requisite resolutions nested
// depth-first. Cancelling the context stops the producer; the RunState is
// left partially populated but internally consistent.
func StreamPass(ctx context.Context, def *Definition, disp Dispatcher) *Stream {
	r := NewResolver(def, disp)
	s := &Stream{
		events: make(chan StreamEvent),
		state:  r.State(),
	}
	go func() {
		defer close(s.events)
		s.err = streamAll(ctx, def, r, s.events)
	}()
	return s
}

func streamAll(ctx context.Context, def *Definition, r *Resolver, events chan<- StreamEvent) error {
	send := func(ev StreamEvent) error {
		select {
		case events <- ev:
			return nil
		case <-ctx.Done():
			return NewTransientError("stream abandoned", ctx.Err()).
				WithCode(ErrCodeCancelled)
		}
	}

	if err := send(StreamEvent{Definition: def}); err != nil {
		return err
	}

	emit := func(ev Event) error {
		return send(flattenEvent(def, ev))
	}
	for _, st := range def.Stages() {
		if r.State().Resolved(st.Name) {
			continue
		}
		if errs := st.Validate(); len(errs) > 0 {
			if err := send(StreamEvent{Stage: st, Errors: errs}); err != nil {
				return err
			}
			continue
		}
		if err := r.Resolve(ctx, st, emit); err != nil {
			return err
		}
	}
	return nil
}

// summarize folds the terminal RunState into pass statistics.
func summarize(def *Definition, state *RunState, invalid map[string][]string) PassSummary {
	sum := PassSummary{
		Total:   def.Len(),
		Invalid: len(invalid),
	}
	for _, name := range state.Names() {
		out, _ := state.Outcome(name)
		if out.OK() {
			sum.Succeeded++
		} else {
			sum.Failed++
		}
	}
	return sum
}
