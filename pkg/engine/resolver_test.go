package engine

import (
	"context"
	"strings"
	"testing"
)

// fakeDispatcher drives the resolver in tests. By default every target
// reports success with a true return value; respond overrides the records
// for a call when set.
type fakeDispatcher struct {
	targets map[string][]string
	respond func(call *Call) []Return
	selects []string
	calls   []*Call
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{targets: make(map[string][]string)}
}

func (f *fakeDispatcher) SelectTargets(_ context.Context, matchExpr string) ([]string, error) {
	f.selects = append(f.selects, matchExpr)
	return f.targets[matchExpr], nil
}

func (f *fakeDispatcher) Dispatch(_ context.Context, call *Call) (<-chan Return, error) {
	f.calls = append(f.calls, call)
	var rets []Return
	if f.respond != nil {
		rets = f.respond(call)
	} else {
		for _, id := range call.Targets {
			rets = append(rets, Return{
				TargetID: id,
				Value:    true,
				Fun:      call.Fun,
				Retcode:  0,
				Success:  true,
			})
		}
	}
	ch := make(chan Return, len(rets))
	for _, r := range rets {
		ch <- r
	}
	close(ch)
	return ch, nil
}

func (f *fakeDispatcher) funs() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.Fun
	}
	return out
}

func discardEvents(Event) error { return nil }

func resolveAll(t *testing.T, def *Definition, disp Dispatcher) *Resolver {
	t.Helper()
	r := NewResolver(def, disp)
	for _, st := range def.Stages() {
		if r.State().Resolved(st.Name) {
			continue
		}
		if errs := st.Validate(); len(errs) > 0 {
			continue
		}
		if err := r.Resolve(context.Background(), st, discardEvents); err != nil {
			t.Fatalf("Resolve(%s) failed: %v", st.Name, err)
		}
	}
	return r
}

func TestResolver_DispatchRecordsOutcome(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
			"fun_args": []interface{}{"mysql"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1", "node2"}

	r := resolveAll(t, def, disp)

	out, ok := r.State().Outcome("db")
	if !ok {
		t.Fatal("Expected db outcome to be recorded")
	}
	if len(out) != 2 {
		t.Fatalf("Expected 2 target results, got %d", len(out))
	}
	if out["node1"].Fun != "pkg.install" || !out["node1"].Success {
		t.Errorf("Unexpected node1 result: %+v", out["node1"])
	}

	if len(disp.calls) != 1 {
		t.Fatalf("Expected 1 dispatch, got %d", len(disp.calls))
	}
	call := disp.calls[0]
	if call.Fun != "pkg.install" {
		t.Errorf("Expected fun pkg.install, got %q", call.Fun)
	}
	if len(call.Args) != 1 || call.Args[0] != "mysql" {
		t.Errorf("Expected args [mysql], got %v", call.Args)
	}
}

func TestResolver_RequisiteSatisfied(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
			"fun_args": []interface{}{"mysql"},
		},
		"web": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"db"},
			"sls":     []interface{}{"nginx"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}
	disp.targets["role:web"] = []string{"web1"}

	r := resolveAll(t, def, disp)

	if !r.State().Resolved("web") {
		t.Fatal("Expected web to be resolved")
	}
	out, _ := r.State().Outcome("web")
	if out.IsRequisiteFailure() {
		t.Fatalf("Expected web to dispatch, got requisite failure: %+v", out)
	}

	if len(disp.calls) != 2 {
		t.Fatalf("Expected 2 dispatches, got %d: %v", len(disp.calls), disp.funs())
	}
	web := disp.calls[1]
	if web.Fun != FunctionStateList {
		t.Errorf("Expected web to use %s, got %q", FunctionStateList, web.Fun)
	}
	if len(web.Args) != 2 || web.Args[0] != "nginx" || web.Args[1] != "base" {
		t.Errorf("Expected args [nginx base], got %v", web.Args)
	}
}

func TestResolver_RequisiteFailed(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
		},
		"web": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"db"},
			"sls":     []interface{}{"nginx"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}
	disp.targets["role:web"] = []string{"web1"}
	disp.respond = func(call *Call) []Return {
		return []Return{{
			TargetID: "node1",
			Value:    "installation failed",
			Fun:      call.Fun,
			Retcode:  1,
			Success:  false,
		}}
	}

	r := resolveAll(t, def, disp)

	if len(disp.calls) != 1 {
		t.Fatalf("Expected web to never dispatch, got %d calls: %v", len(disp.calls), disp.funs())
	}

	out, ok := r.State().Outcome("web")
	if !ok {
		t.Fatal("Expected web outcome to be recorded")
	}
	if !out.IsRequisiteFailure() {
		t.Fatalf("Expected requisite failure, got %+v", out)
	}
	rec := out[RequisiteFailureTarget]
	if rec.Retcode != RetcodeRequisiteFailed {
		t.Errorf("Expected retcode %d, got %d", RetcodeRequisiteFailed, rec.Retcode)
	}
	if rec.Fun != FunctionRequisiteFailure {
		t.Errorf("Expected fun %s, got %q", FunctionRequisiteFailure, rec.Fun)
	}
	ret, ok := rec.Return.(map[string]interface{})
	if !ok {
		t.Fatalf("Expected synthetic return mapping, got %T", rec.Return)
	}
	if ret["comment"] != "Requisite db failed for stage on minion node1" {
		t.Errorf("Unexpected comment: %v", ret["comment"])
	}
	if ret["name"] != "Requisite Failure" {
		t.Errorf("Unexpected name: %v", ret["name"])
	}
}

func TestResolver_RequisiteMissing(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"web": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"ghost"},
			"sls":     []interface{}{"nginx"},
		},
	})
	disp := newFakeDispatcher()

	r := resolveAll(t, def, disp)

	if len(disp.calls) != 0 {
		t.Fatalf("Expected no dispatches, got %d", len(disp.calls))
	}

	out, ok := r.State().Outcome("web")
	if !ok {
		t.Fatal("Expected web outcome to be recorded")
	}
	rec := out[RequisiteFailureTarget]
	if rec.Retcode != RetcodeRequisiteMissing {
		t.Errorf("Expected retcode %d, got %d", RetcodeRequisiteMissing, rec.Retcode)
	}
	if rec.Fun != FunctionRequisiteMissing {
		t.Errorf("Expected fun %s, got %q", FunctionRequisiteMissing, rec.Fun)
	}
	ret := rec.Return.(map[string]interface{})
	if ret["comment"] != "Requisite ghost not found" {
		t.Errorf("Unexpected comment: %v", ret["comment"])
	}
}

func TestResolver_TransitivePropagation(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"a-base": map[string]interface{}{
			"match":    "role:a",
			"function": "cmd.run",
			"fun_args": []interface{}{"false"},
		},
		"b-mid": map[string]interface{}{
			"match":    "role:b",
			"require":  []interface{}{"a-base"},
			"function": "cmd.run",
		},
		"c-top": map[string]interface{}{
			"match":   "role:c",
			"require": []interface{}{"b-mid"},
			"sls":     []interface{}{"app"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:a"] = []string{"node1"}
	disp.respond = func(call *Call) []Return {
		return []Return{{TargetID: "node1", Value: 1, Fun: call.Fun, Retcode: 1, Success: false}}
	}

	r := resolveAll(t, def, disp)

	if len(disp.calls) != 1 {
		t.Fatalf("Expected only a-base to dispatch, got %v", disp.funs())
	}

	bOut, _ := r.State().Outcome("b-mid")
	if !bOut.IsRequisiteFailure() || bOut[RequisiteFailureTarget].Retcode != RetcodeRequisiteFailed {
		t.Fatalf("Expected b-mid requisite failure, got %+v", bOut)
	}
	bRet := bOut[RequisiteFailureTarget].Return.(map[string]interface{})
	if !strings.Contains(bRet["comment"].(string), "Requisite a-base failed") {
		t.Errorf("Unexpected b-mid comment: %v", bRet["comment"])
	}

	cOut, _ := r.State().Outcome("c-top")
	if !cOut.IsRequisiteFailure() {
		t.Fatalf("Expected c-top requisite failure, got %+v", cOut)
	}
	cRet := cOut[RequisiteFailureTarget].Return.(map[string]interface{})
	if !strings.Contains(cRet["comment"].(string), "Requisite b-mid failed") {
		t.Errorf("Expected c-top failure to reference b-mid, got: %v", cRet["comment"])
	}
}

func TestResolver_ForwardRequisiteChecked(t *testing.T) {
	// a-dependent sorts before its requisite, so the requisite resolves
	// through recursion and its outcome must still be checked.
	def := mustLoad(t, map[string]interface{}{
		"a-dependent": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"z-dep"},
			"sls":     []interface{}{"app"},
		},
		"z-dep": map[string]interface{}{
			"match":    "role:db",
			"function": "cmd.run",
		},
	})

	t.Run("requisite succeeds", func(t *testing.T) {
		disp := newFakeDispatcher()
		disp.targets["role:db"] = []string{"node1"}
		disp.targets["role:web"] = []string{"web1"}

		r := resolveAll(t, def, disp)

		if len(disp.calls) != 2 {
			t.Fatalf("Expected both stages to dispatch, got %v", disp.funs())
		}
		if disp.calls[0].Fun != "cmd.run" {
			t.Errorf("Expected the requisite to dispatch first, got %v", disp.funs())
		}
		out, _ := r.State().Outcome("a-dependent")
		if out.IsRequisiteFailure() {
			t.Errorf("Expected a-dependent to dispatch, got %+v", out)
		}
	})

	t.Run("requisite fails", func(t *testing.T) {
		disp := newFakeDispatcher()
		disp.targets["role:db"] = []string{"node1"}
		disp.targets["role:web"] = []string{"web1"}
		disp.respond = func(call *Call) []Return {
			if call.Fun == "cmd.run" {
				return []Return{{TargetID: "node1", Fun: call.Fun, Retcode: 2, Success: false}}
			}
			return nil
		}

		r := resolveAll(t, def, disp)

		if len(disp.calls) != 1 {
			t.Fatalf("Expected only the requisite to dispatch, got %v", disp.funs())
		}
		out, _ := r.State().Outcome("a-dependent")
		if !out.IsRequisiteFailure() {
			t.Fatalf("Expected a-dependent requisite failure, got %+v", out)
		}
	})
}

func TestResolver_IdempotentWithinPass(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"base": map[string]interface{}{
			"match":    "role:db",
			"function": "cmd.run",
		},
		"one": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"base"},
			"sls":     []interface{}{"one"},
		},
		"two": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"base"},
			"sls":     []interface{}{"two"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}
	disp.targets["role:web"] = []string{"web1"}

	r := resolveAll(t, def, disp)

	dispatched := 0
	for _, c := range disp.calls {
		if c.Fun == "cmd.run" {
			dispatched++
		}
	}
	if dispatched != 1 {
		t.Errorf("Expected base to dispatch exactly once, got %d", dispatched)
	}

	// Re-resolving an already resolved stage is a pure read.
	st, _ := def.Lookup("base")
	events := 0
	err := r.Resolve(context.Background(), st, func(Event) error {
		events++
		return nil
	})
	if err != nil {
		t.Fatalf("Re-resolve failed: %v", err)
	}
	if events != 0 {
		t.Errorf("Expected no events from re-resolution, got %d", events)
	}
	if len(disp.calls) != 3 {
		t.Errorf("Expected no additional dispatch, got %d calls", len(disp.calls))
	}
}

func TestResolver_RequisiteCycle(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"a": map[string]interface{}{
			"match":   "*",
			"require": []interface{}{"b"},
		},
		"b": map[string]interface{}{
			"match":   "*",
			"require": []interface{}{"a"},
		},
	})
	disp := newFakeDispatcher()
	r := NewResolver(def, disp)

	st, _ := def.Lookup("a")
	err := r.Resolve(context.Background(), st, discardEvents)
	if err == nil {
		t.Fatal("Expected a requisite cycle error")
	}
	if !IsRequisiteCycle(err) {
		t.Errorf("Expected requisite cycle classification, got: %v", err)
	}
	if r.State().Len() != 0 {
		t.Errorf("Expected no outcomes recorded, got %d", r.State().Len())
	}
	if len(disp.calls) != 0 {
		t.Errorf("Expected no dispatches, got %d", len(disp.calls))
	}
}

func TestResolver_InvalidRequisiteSurfacedAsEvent(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"broken": map[string]interface{}{
			"sls": []interface{}{"app"},
		},
		"web": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"broken"},
			"sls":     []interface{}{"nginx"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:web"] = []string{"web1"}
	r := NewResolver(def, disp)

	var invalid []Event
	st, _ := def.Lookup("web")
	err := r.Resolve(context.Background(), st, func(ev Event) error {
		if len(ev.Errors) > 0 {
			invalid = append(invalid, ev)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if len(invalid) != 1 || invalid[0].Name != "broken" {
		t.Fatalf("Expected one invalid event for broken, got %+v", invalid)
	}
	if invalid[0].Errors[0] != `No "match" argument in stage.` {
		t.Errorf("Unexpected validation error: %v", invalid[0].Errors)
	}
	if r.State().Resolved("broken") {
		t.Error("Expected broken to contribute no run state entry")
	}
	if !r.State().Resolved("web") {
		t.Error("Expected web to still resolve")
	}
	if len(disp.calls) != 1 {
		t.Errorf("Expected web to dispatch, got %d calls", len(disp.calls))
	}
}

func TestResolver_NoopRecordsEmptyOutcome(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"noop": map[string]interface{}{
			"match":    "*",
			"function": "",
		},
	})
	disp := newFakeDispatcher()

	r := resolveAll(t, def, disp)

	out, ok := r.State().Outcome("noop")
	if !ok {
		t.Fatal("Expected noop outcome to be recorded")
	}
	if len(out) != 0 {
		t.Errorf("Expected empty outcome, got %+v", out)
	}
	if len(disp.calls) != 0 {
		t.Errorf("Expected no dispatch for a noop stage, got %d", len(disp.calls))
	}
}

func TestResolver_NoopChecksRequisites(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "cmd.run",
		},
		"gate": map[string]interface{}{
			"match":    "*",
			"function": "",
			"require":  []interface{}{"db"},
		},
	})

	t.Run("requisite succeeds", func(t *testing.T) {
		disp := newFakeDispatcher()
		disp.targets["role:db"] = []string{"node1"}

		r := resolveAll(t, def, disp)

		out, ok := r.State().Outcome("gate")
		if !ok {
			t.Fatal("Expected gate outcome to be recorded")
		}
		if len(out) != 0 {
			t.Errorf("Expected empty outcome, got %+v", out)
		}
	})

	t.Run("requisite fails", func(t *testing.T) {
		disp := newFakeDispatcher()
		disp.targets["role:db"] = []string{"node1"}
		disp.respond = func(call *Call) []Return {
			return []Return{{TargetID: "node1", Fun: call.Fun, Retcode: 1, Success: false}}
		}

		r := resolveAll(t, def, disp)

		out, _ := r.State().Outcome("gate")
		if !out.IsRequisiteFailure() {
			t.Fatalf("Expected gate requisite failure, got %+v", out)
		}
		if out[RequisiteFailureTarget].Retcode != RetcodeRequisiteFailed {
			t.Errorf("Expected retcode %d, got %d",
				RetcodeRequisiteFailed, out[RequisiteFailureTarget].Retcode)
		}
	})

	t.Run("requisite missing", func(t *testing.T) {
		ghostDef := mustLoad(t, map[string]interface{}{
			"gate": map[string]interface{}{
				"match":    "*",
				"function": "",
				"require":  []interface{}{"ghost"},
			},
		})
		disp := newFakeDispatcher()

		r := resolveAll(t, ghostDef, disp)

		out, _ := r.State().Outcome("gate")
		if !out.IsRequisiteFailure() {
			t.Fatalf("Expected gate requisite failure, got %+v", out)
		}
		if out[RequisiteFailureTarget].Retcode != RetcodeRequisiteMissing {
			t.Errorf("Expected retcode %d, got %d",
				RetcodeRequisiteMissing, out[RequisiteFailureTarget].Retcode)
		}
	})
}

func TestResolver_SkipsMalformedRecords(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "cmd.run",
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}
	disp.respond = func(call *Call) []Return {
		return []Return{
			{},
			{TargetID: "node1", Value: "ok", Fun: call.Fun, Success: true},
		}
	}

	r := resolveAll(t, def, disp)

	out, _ := r.State().Outcome("db")
	if len(out) != 1 {
		t.Errorf("Expected malformed record to be skipped, got %+v", out)
	}
}

func TestResolver_StateFormRequisiteCheck(t *testing.T) {
	goodSteps := map[string]interface{}{
		"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{"result": true},
	}
	badSteps := map[string]interface{}{
		"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{"result": false},
	}

	run := func(t *testing.T, steps map[string]interface{}) (*Resolver, *fakeDispatcher) {
		t.Helper()
		def := mustLoad(t, map[string]interface{}{
			"base": map[string]interface{}{
				"match": "role:db",
				"sls":   []interface{}{"nginx"},
			},
			"top": map[string]interface{}{
				"match":   "role:web",
				"require": []interface{}{"base"},
				"sls":     []interface{}{"app"},
			},
		})
		disp := newFakeDispatcher()
		disp.targets["role:db"] = []string{"node1"}
		disp.targets["role:web"] = []string{"web1"}
		disp.respond = func(call *Call) []Return {
			if call.Args[0] == "nginx" {
				// Nonzero retcode: the state form is judged
				// structurally, not by retcode.
				return []Return{{TargetID: "node1", Value: steps, Fun: call.Fun, Retcode: 2, Success: true}}
			}
			var rets []Return
			for _, id := range call.Targets {
				rets = append(rets, Return{TargetID: id, Value: true, Fun: call.Fun, Success: true})
			}
			return rets
		}
		return resolveAll(t, def, disp), disp
	}

	t.Run("structurally successful", func(t *testing.T) {
		r, disp := run(t, goodSteps)
		out, _ := r.State().Outcome("top")
		if out.IsRequisiteFailure() {
			t.Fatalf("Expected top to dispatch, got %+v", out)
		}
		if len(disp.calls) != 2 {
			t.Errorf("Expected 2 dispatches, got %d", len(disp.calls))
		}
	})

	t.Run("structurally failed", func(t *testing.T) {
		r, disp := run(t, badSteps)
		out, _ := r.State().Outcome("top")
		if !out.IsRequisiteFailure() {
			t.Fatalf("Expected requisite failure, got %+v", out)
		}
		if len(disp.calls) != 1 {
			t.Errorf("Expected only base to dispatch, got %d", len(disp.calls))
		}
	})
}

func TestResolver_EmptyTargetListIsVacuousSuccess(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"base": map[string]interface{}{
			"match":    "role:none",
			"function": "cmd.run",
		},
		"top": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"base"},
			"sls":     []interface{}{"app"},
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:web"] = []string{"web1"}

	r := resolveAll(t, def, disp)

	base, _ := r.State().Outcome("base")
	if len(base) != 0 {
		t.Errorf("Expected empty outcome for base, got %+v", base)
	}
	top, _ := r.State().Outcome("top")
	if top.IsRequisiteFailure() {
		t.Errorf("Expected an empty requisite outcome to satisfy, got %+v", top)
	}
}

func TestResolver_CancelledContext(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "cmd.run",
		},
	})
	disp := newFakeDispatcher()
	r := NewResolver(def, disp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	st, _ := def.Lookup("db")
	err := r.Resolve(ctx, st, discardEvents)
	if err == nil {
		t.Fatal("Expected an error from a cancelled context")
	}
	if !IsTransient(err) {
		t.Errorf("Expected transient classification, got: %v", err)
	}
	if r.State().Resolved("db") {
		t.Error("Expected no outcome for a cancelled stage")
	}
}
