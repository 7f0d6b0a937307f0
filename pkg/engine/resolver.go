package engine

import (
	"context"
	"errors"
	"sort"
)

// Event is one node in a resolution walk, emitted in depth-first order.
// Exactly one of Outcome and Errors is set: Outcome for a resolved stage,
// Errors for a stage that failed validation and was not resolved.
type Event struct {
	// Name is the stage the event concerns.
	Name string

	// Outcome is the recorded outcome for a resolved stage.
	Outcome Outcome

	// Errors holds validation errors for an invalid stage.
	Errors []string
}

// Resolver resolves stages against a Definition: it ensures a stage's
// requisites are resolved before the stage's own work is dispatched,
// records every outcome exactly once in its RunState, and synthesizes
// failure records for missing or failed requisites.
//
// A Resolver is scoped to one execution pass and must not be shared across
// passes.
type Resolver struct {
	def   *Definition
	disp  Dispatcher
	state *RunState
}

// NewResolver returns a Resolver over the given Definition and Dispatcher
// with a fresh RunState.
func NewResolver(def *Definition, disp Dispatcher) *Resolver {
	return &Resolver{
		def:   def,
		disp:  disp,
		state: NewRunState(),
	}
}

// State returns the resolver's RunState.
func (r *Resolver) State() *RunState {
	return r.state
}

// Resolve resolves one stage, emitting events depth-first as requisites and
// the stage itself complete. Resolving an already-resolved stage is a pure
// RunState read and emits nothing. Requisite failures are recorded
// outcomes, not errors; Resolve returns an error only for hard failures: a
// requisite cycle, a dispatcher infrastructure error, context cancellation,
// or a failed emit.
func (r *Resolver) Resolve(ctx context.Context, st *Stage, emit func(Event) error) error {
	if r.state.Resolved(st.Name) {
		return nil
	}
	if err := r.state.begin(st.Name); err != nil {
		return err
	}
	defer r.state.end(st.Name)

	if err := ctx.Err(); err != nil {
		return NewTransientError("pass cancelled", err).
			WithCode(ErrCodeCancelled).
			WithStage(st.Name)
	}

	var fail *TargetResult
	for _, req := range st.Requisites {
		if out, ok := r.state.Outcome(req); ok {
			if f := checkRequisite(req, out); f != nil {
				fail = f
			}
			continue
		}
		if !r.def.Has(req) {
			f := requisiteMissing(req)
			fail = &f
			continue
		}
		rstage, _ := r.def.Lookup(req)
		if errs := rstage.Validate(); len(errs) > 0 {
			if err := emit(Event{Name: req, Errors: errs}); err != nil {
				return err
			}
			continue
		}
		if err := r.Resolve(ctx, rstage, emit); err != nil {
			return err
		}
		if out, ok := r.state.Outcome(req); ok {
			if f := checkRequisite(req, out); f != nil {
				fail = f
			}
		}
	}

	if fail != nil {
		out := Outcome{RequisiteFailureTarget: *fail}
		r.state.record(st.Name, out)
		return emit(Event{Name: st.Name, Outcome: out})
	}

	// A no-op stage still walks its requisites above; it only skips the
	// dispatch, recording an empty outcome.
	if st.Work.Kind == WorkNoop {
		out := Outcome{}
		r.state.record(st.Name, out)
		return emit(Event{Name: st.Name, Outcome: out})
	}

	out, err := r.dispatch(ctx, st)
	if err != nil {
		return err
	}
	r.state.record(st.Name, out)
	return emit(Event{Name: st.Name, Outcome: out})
}

// dispatch executes the stage's work through the Dispatcher and folds the
// per-target stream into an Outcome, skipping malformed records.
func (r *Resolver) dispatch(ctx context.Context, st *Stage) (Outcome, error) {
	fun, args := st.Work.FunctionCall(r.def.Env())

	targets, err := r.disp.SelectTargets(ctx, st.Match)
	if err != nil {
		return nil, classifyDispatch(err, "target selection failed",
			ErrCodeSelectorFailed, st.Name, "select_targets")
	}

	call := &Call{
		Targets: targets,
		Fun:     fun,
		Args:    args,
		Batch:   st.Batch,
	}
	stream, err := r.disp.Dispatch(ctx, call)
	if err != nil {
		return nil, classifyDispatch(err, "dispatch failed",
			ErrCodeDispatchFailed, st.Name, "dispatch")
	}

	out := Outcome{}
	for ret := range stream {
		if ret.Malformed() {
			continue
		}
		out[ret.TargetID] = TargetResult{
			Return:  ret.Value,
			Fun:     ret.Fun,
			Retcode: ret.Retcode,
			Success: ret.Success,
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, NewTransientError("pass cancelled during dispatch", err).
			WithCode(ErrCodeCancelled).
			WithStage(st.Name)
	}
	return out, nil
}

// checkRequisite applies the satisfied check to a resolved requisite's
// outcome. State-form results are checked structurally; function-form
// results require a zero retcode and the success flag, which also covers
// propagation from recorded requisite failures. It returns a synthetic
// failure record for the last failing target in sorted order, or nil when
// every target satisfied the requisite.
func checkRequisite(req string, out Outcome) *TargetResult {
	var fail *TargetResult
	targets := make([]string, 0, len(out))
	for t := range out {
		targets = append(targets, t)
	}
	sort.Strings(targets)
	for _, target := range targets {
		if out[target].OK() {
			continue
		}
		f := requisiteFailed(req, target)
		fail = &f
	}
	return fail
}

// classifyDispatch wraps a dispatcher error unless it is already
// classified.
func classifyDispatch(err error, msg, code, stage, op string) error {
	var ee *EngineError
	if errors.As(err, &ee) {
		return err
	}
	return NewTransientError(msg, err).
		WithCode(code).
		WithStage(stage).
		WithOperation(op)
}
