package engine

import (
	"context"
	"testing"
)

func TestRunPass_ResolvesEveryStage(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
			"fun_args": []interface{}{"mysql"},
		},
		"web": map[string]interface{}{
			"match":    "role:web",
			"require":  []interface{}{"db"},
			"function": "service.restart",
			"fun_args": []interface{}{"nginx"},
		},
		"monitor": map[string]interface{}{
			"match":    "role:mon",
			"function": "probe.check",
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}
	disp.targets["role:web"] = []string{"web1"}
	disp.targets["role:mon"] = []string{"mon1"}

	report, err := RunPass(context.Background(), def, disp)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	if len(disp.calls) != 3 {
		t.Fatalf("Expected 3 dispatches, got %d: %v", len(disp.calls), disp.funs())
	}
	for _, name := range []string{"db", "monitor", "web"} {
		if !report.State.Resolved(name) {
			t.Errorf("Expected %s to be resolved", name)
		}
	}

	want := PassSummary{Total: 3, Succeeded: 3}
	if report.Summary != want {
		t.Errorf("Expected summary %+v, got %+v", want, report.Summary)
	}
	if got := report.Status(); got != PassStatusSucceeded {
		t.Errorf("Expected status %s, got %s", PassStatusSucceeded, got)
	}
}

func TestRunPass_InvalidStage(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"broken": map[string]interface{}{
			"function": "cmd.run",
		},
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}

	report, err := RunPass(context.Background(), def, disp)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	errs, ok := report.Invalid["broken"]
	if !ok {
		t.Fatal("Expected broken to be reported invalid")
	}
	if len(errs) != 1 || errs[0] != `No "match" argument in stage.` {
		t.Errorf("Unexpected validation errors: %v", errs)
	}
	if report.State.Resolved("broken") {
		t.Error("Expected broken to stay unresolved")
	}

	want := PassSummary{Total: 2, Succeeded: 1, Invalid: 1}
	if report.Summary != want {
		t.Errorf("Expected summary %+v, got %+v", want, report.Summary)
	}
	if got := report.Status(); got != PassStatusPartial {
		t.Errorf("Expected status %s, got %s", PassStatusPartial, got)
	}
}

func TestRunPass_RequisiteFailureInSummary(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "cmd.run",
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
		return []Return{{TargetID: "node1", Fun: call.Fun, Retcode: 2, Success: false}}
	}

	report, err := RunPass(context.Background(), def, disp)
	if err != nil {
		t.Fatalf("RunPass failed: %v", err)
	}

	out, _ := report.State.Outcome("web")
	if !out.IsRequisiteFailure() {
		t.Fatalf("Expected web requisite failure, got %+v", out)
	}
	if len(disp.calls) != 1 {
		t.Fatalf("Expected web dispatch to be skipped, got %d dispatches", len(disp.calls))
	}

	want := PassSummary{Total: 2, Failed: 2}
	if report.Summary != want {
		t.Errorf("Expected summary %+v, got %+v", want, report.Summary)
	}
	if got := report.Status(); got != PassStatusPartial {
		t.Errorf("Expected status %s, got %s", PassStatusPartial, got)
	}
}

func collectStream(t *testing.T, s *Stream) []StreamEvent {
	t.Helper()
	var events []StreamEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func TestStreamPass_DefinitionLeadsTheStream(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}

	stream := StreamPass(context.Background(), def, disp)
	events := collectStream(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if events[0].Definition != def {
		t.Error("Expected the first event to carry the definition")
	}
	if events[1].Definition != nil {
		t.Error("Expected only the first event to carry the definition")
	}
	if events[1].Stage == nil || events[1].Stage.Name != "db" {
		t.Fatalf("Unexpected stage event: %+v", events[1])
	}
}

func TestStreamPass_RequisitePullsStageForward(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"a-second": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"z-first"},
			"sls":     []interface{}{"nginx"},
		},
		"z-first": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}
	disp.targets["role:web"] = []string{"web1"}

	stream := StreamPass(context.Background(), def, disp)
	events := collectStream(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if len(events) != 3 {
		t.Fatalf("Expected 3 events, got %d", len(events))
	}
	if events[1].Stage.Name != "z-first" || events[2].Stage.Name != "a-second" {
		t.Errorf("Expected requisite z-first before a-second, got %s then %s",
			events[1].Stage.Name, events[2].Stage.Name)
	}
	if got := events[1].Returns["node1"]; got != true {
		t.Errorf("Expected z-first return true for node1, got %v", got)
	}
	if got := events[2].Returns["web1"]; got != true {
		t.Errorf("Expected a-second return true for web1, got %v", got)
	}
}

func TestStreamPass_InvalidStageEvent(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"broken": map[string]interface{}{
			"function": "cmd.run",
		},
	})
	disp := newFakeDispatcher()

	stream := StreamPass(context.Background(), def, disp)
	events := collectStream(t, stream)
	if err := stream.Err(); err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	ev := events[1]
	if ev.Stage == nil || ev.Stage.Name != "broken" {
		t.Fatalf("Unexpected stage event: %+v", ev)
	}
	if len(ev.Errors) != 1 || ev.Errors[0] != `No "match" argument in stage.` {
		t.Errorf("Unexpected validation errors: %v", ev.Errors)
	}
	if stream.State().Resolved("broken") {
		t.Error("Expected broken to stay unresolved")
	}
	if len(disp.calls) != 0 {
		t.Errorf("Expected no dispatches, got %d", len(disp.calls))
	}
}

func TestStreamPass_CancelledContext(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{
			"match":    "role:db",
			"function": "pkg.install",
		},
	})
	disp := newFakeDispatcher()
	disp.targets["role:db"] = []string{"node1"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stream := StreamPass(ctx, def, disp)
	events := collectStream(t, stream)

	// At most the leading definition event slips out before the
	// cancellation is observed.
	if len(events) > 1 {
		t.Fatalf("Expected at most 1 event, got %d", len(events))
	}
	err := stream.Err()
	if err == nil {
		t.Fatal("Expected a terminal stream error")
	}
	if !IsTransient(err) {
		t.Errorf("Expected a transient error, got %v", err)
	}
}
