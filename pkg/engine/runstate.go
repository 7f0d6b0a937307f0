package engine

import (
	"sort"
	"sync"
)

// RunState is the per-pass record of resolved stages. Presence of a stage
// name as a key means the stage has been resolved in this pass, successfully
// or as a recorded failure; absence means not yet attempted. Entries are
// written exactly once per pass, by the resolver, and never removed during
// the pass.
//
// A RunState must not be shared across concurrent passes; each pass owns its
// own instance. The maps are guarded internally so the state can be
// snapshotted while a pass is running.
type RunState struct {
	mu         sync.RWMutex
	outcomes   map[string]Outcome
	inProgress map[string]struct{}
}

// NewRunState returns an empty RunState for one execution pass.
func NewRunState() *RunState {
	return &RunState{
		outcomes:   make(map[string]Outcome),
		inProgress: make(map[string]struct{}),
	}
}

// Reset clears all recorded outcomes and in-progress markers, returning the
// state to the start-of-pass condition.
func (s *RunState) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = make(map[string]Outcome)
	s.inProgress = make(map[string]struct{})
}

// Outcome returns the recorded outcome for a stage name.
func (s *RunState) Outcome(name string) (Outcome, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out, ok := s.outcomes[name]
	return out, ok
}

// Resolved reports whether the named stage has been resolved in this pass.
func (s *RunState) Resolved(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.outcomes[name]
	return ok
}

// Names returns the resolved stage names in sorted order.
func (s *RunState) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.outcomes))
	for name := range s.outcomes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of resolved stages.
func (s *RunState) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.outcomes)
}

// Snapshot returns a copy of the recorded outcomes, safe to inspect while
// the pass continues.
func (s *RunState) Snapshot() map[string]Outcome {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := make(map[string]Outcome, len(s.outcomes))
	for name, out := range s.outcomes {
		snap[name] = out
	}
	return snap
}

// record writes the outcome for a stage. The first write wins; a stage name
// is never re-recorded within a pass.
func (s *RunState) record(name string, out Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outcomes[name]; ok {
		return
	}
	s.outcomes[name] = out
}

// begin marks a stage as in progress. It returns a requisite-cycle error if
// the stage is already in progress, meaning resolution re-entered a stage
// that has not finished resolving.
func (s *RunState) begin(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inProgress[name]; ok {
		return NewPermanentError("requisite cycle detected", nil).
			WithCode(ErrCodeRequisiteCycle).
			WithStage(name).
			WithOperation("resolve")
	}
	s.inProgress[name] = struct{}{}
	return nil
}

// end clears a stage's in-progress marker.
func (s *RunState) end(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inProgress, name)
}
