package engine

import (
	"errors"
	"reflect"
	"testing"
)

func mustLoad(t *testing.T, doc map[string]interface{}) *Definition {
	t.Helper()
	def, err := Load(doc, "")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return def
}

func TestLoad_SortsLexicographically(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"z-first": map[string]interface{}{
			"match": "*",
		},
		"a-second": map[string]interface{}{
			"match": "*",
		},
		"m-middle": map[string]interface{}{
			"match": "*",
		},
	})

	got := def.Names()
	want := []string{"a-second", "m-middle", "z-first"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected order %v, got %v", want, got)
	}
}

func TestLoad_NilInput(t *testing.T) {
	def, err := Load(nil, "")
	if err != nil {
		t.Fatalf("Expected no error for nil input, got: %v", err)
	}
	if def.Len() != 0 {
		t.Errorf("Expected empty definition, got %d stages", def.Len())
	}
	if def.Env() != DefaultEnv {
		t.Errorf("Expected env %q, got %q", DefaultEnv, def.Env())
	}
}

func TestLoad_NonMappingInput(t *testing.T) {
	def, err := Load([]interface{}{"not", "a", "mapping"}, "")
	if err == nil {
		t.Fatal("Expected a definition error for non-mapping input")
	}
	if !IsPermanent(err) {
		t.Errorf("Expected permanent error, got: %v", err)
	}
	var ee *EngineError
	if !errors.As(err, &ee) || ee.Code != ErrCodeDefinition {
		t.Errorf("Expected code %s, got: %v", ErrCodeDefinition, err)
	}
	if def == nil || def.Len() != 0 {
		t.Error("Expected a usable empty definition alongside the error")
	}
}

func TestLoad_CustomEnv(t *testing.T) {
	def, err := Load(map[string]interface{}{}, "prod")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if def.Env() != "prod" {
		t.Errorf("Expected env prod, got %q", def.Env())
	}
}

func TestLoad_NormalizesListMatch(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"fleet": map[string]interface{}{
			"match": []interface{}{"role:db", "role:web"},
		},
	})

	st, ok := def.Lookup("fleet")
	if !ok {
		t.Fatal("Expected stage fleet to be defined")
	}
	if st.Match != "role:db or role:web" {
		t.Errorf("Expected joined match expression, got %q", st.Match)
	}
}

func TestLoad_WorkForms(t *testing.T) {
	tests := []struct {
		name string
		body map[string]interface{}
		want Work
	}{
		{
			name: "default highstate",
			body: map[string]interface{}{"match": "*"},
			want: Work{Kind: WorkHighstate},
		},
		{
			name: "state list",
			body: map[string]interface{}{
				"match": "*",
				"sls":   []interface{}{"nginx", "certs"},
			},
			want: Work{Kind: WorkStateList, States: []string{"nginx", "certs"}},
		},
		{
			name: "state list scalar",
			body: map[string]interface{}{
				"match": "*",
				"sls":   "nginx",
			},
			want: Work{Kind: WorkStateList, States: []string{"nginx"}},
		},
		{
			name: "function string",
			body: map[string]interface{}{
				"match":    "*",
				"function": "pkg.install",
			},
			want: Work{Kind: WorkFunction, Fun: "pkg.install"},
		},
		{
			name: "function string with args",
			body: map[string]interface{}{
				"match":    "*",
				"function": "pkg.install",
				"fun_args": []interface{}{"mysql"},
			},
			want: Work{Kind: WorkFunction, Fun: "pkg.install", Args: []interface{}{"mysql"}},
		},
		{
			name: "function mapping",
			body: map[string]interface{}{
				"match": "*",
				"function": map[string]interface{}{
					"cmd.run": []interface{}{"uptime"},
				},
			},
			want: Work{Kind: WorkFunction, Fun: "cmd.run", Args: []interface{}{"uptime"}},
		},
		{
			name: "function mapping scalar arg",
			body: map[string]interface{}{
				"match": "*",
				"function": map[string]interface{}{
					"cmd.run": "uptime",
				},
			},
			want: Work{Kind: WorkFunction, Fun: "cmd.run", Args: []interface{}{"uptime"}},
		},
		{
			name: "fun short key",
			body: map[string]interface{}{
				"match": "*",
				"fun":   "test.ping",
			},
			want: Work{Kind: WorkFunction, Fun: "test.ping"},
		},
		{
			name: "function wins over fun",
			body: map[string]interface{}{
				"match":    "*",
				"function": "cmd.run",
				"fun":      "test.ping",
			},
			want: Work{Kind: WorkFunction, Fun: "cmd.run"},
		},
		{
			name: "sls wins over function",
			body: map[string]interface{}{
				"match":    "*",
				"sls":      []interface{}{"nginx"},
				"function": "cmd.run",
			},
			want: Work{Kind: WorkStateList, States: []string{"nginx"}},
		},
		{
			name: "empty function degenerates to noop",
			body: map[string]interface{}{
				"match":    "*",
				"function": "",
			},
			want: Work{Kind: WorkNoop},
		},
		{
			name: "nil function degenerates to noop",
			body: map[string]interface{}{
				"match":    "*",
				"function": nil,
			},
			want: Work{Kind: WorkNoop},
		},
		{
			name: "empty function mapping degenerates to noop",
			body: map[string]interface{}{
				"match":    "*",
				"function": map[string]interface{}{},
			},
			want: Work{Kind: WorkNoop},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := mustLoad(t, map[string]interface{}{"stage": tt.body})
			st, _ := def.Lookup("stage")
			if !reflect.DeepEqual(st.Work, tt.want) {
				t.Errorf("Expected work %+v, got %+v", tt.want, st.Work)
			}
		})
	}
}

func TestLoad_RequireAndBatch(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"web": map[string]interface{}{
			"match":   "role:web",
			"require": []interface{}{"db", "cache"},
			"batch":   5,
		},
		"canary": map[string]interface{}{
			"match":   "role:web",
			"require": "db",
			"batch":   "25%",
		},
	})

	web, _ := def.Lookup("web")
	if !reflect.DeepEqual(web.Requisites, []string{"db", "cache"}) {
		t.Errorf("Expected requisites [db cache], got %v", web.Requisites)
	}
	if web.Batch != "5" {
		t.Errorf("Expected batch 5, got %q", web.Batch)
	}

	canary, _ := def.Lookup("canary")
	if !reflect.DeepEqual(canary.Requisites, []string{"db"}) {
		t.Errorf("Expected scalar require normalized to list, got %v", canary.Requisites)
	}
	if canary.Batch != "25%" {
		t.Errorf("Expected batch 25%%, got %q", canary.Batch)
	}
}

func TestLoad_NonMappingStageBody(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"broken": "not a mapping",
	})

	st, ok := def.Lookup("broken")
	if !ok {
		t.Fatal("Expected stage broken to be defined")
	}
	errs := st.Validate()
	if len(errs) == 0 {
		t.Error("Expected a non-mapping stage body to fail validation")
	}
}

func TestStage_Validate(t *testing.T) {
	st := &Stage{Name: "web"}
	errs := st.Validate()
	if len(errs) != 1 {
		t.Fatalf("Expected 1 validation error, got %d", len(errs))
	}
	if errs[0] != `No "match" argument in stage.` {
		t.Errorf("Expected missing match message, got %q", errs[0])
	}

	st.Match = "role:web"
	if errs := st.Validate(); len(errs) != 0 {
		t.Errorf("Expected no errors for valid stage, got %v", errs)
	}
}

func TestDefinition_Lookup(t *testing.T) {
	def := mustLoad(t, map[string]interface{}{
		"db": map[string]interface{}{"match": "role:db"},
	})

	if _, ok := def.Lookup("db"); !ok {
		t.Error("Expected db to be found")
	}
	if _, ok := def.Lookup("ghost"); ok {
		t.Error("Expected ghost to be absent")
	}
	if !def.Has("db") || def.Has("ghost") {
		t.Error("Has disagrees with Lookup")
	}
}

func TestNewDefinition_Sorts(t *testing.T) {
	def := NewDefinition([]*Stage{
		{Name: "zeta", Match: "*"},
		{Name: "alpha", Match: "*"},
	}, "")

	got := def.Names()
	want := []string{"alpha", "zeta"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestWork_FunctionCall(t *testing.T) {
	tests := []struct {
		name     string
		work     Work
		env      string
		wantFun  string
		wantArgs []interface{}
	}{
		{
			name:    "highstate",
			work:    Work{Kind: WorkHighstate},
			env:     "base",
			wantFun: FunctionHighstate,
		},
		{
			name:     "state list joins names and carries env",
			work:     Work{Kind: WorkStateList, States: []string{"nginx", "certs"}},
			env:      "prod",
			wantFun:  FunctionStateList,
			wantArgs: []interface{}{"nginx,certs", "prod"},
		},
		{
			name:     "function",
			work:     Work{Kind: WorkFunction, Fun: "pkg.install", Args: []interface{}{"mysql"}},
			env:      "base",
			wantFun:  "pkg.install",
			wantArgs: []interface{}{"mysql"},
		},
		{
			name:    "noop",
			work:    Work{Kind: WorkNoop},
			env:     "base",
			wantFun: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fun, args := tt.work.FunctionCall(tt.env)
			if fun != tt.wantFun {
				t.Errorf("Expected fun %q, got %q", tt.wantFun, fun)
			}
			if !reflect.DeepEqual(args, tt.wantArgs) {
				t.Errorf("Expected args %v, got %v", tt.wantArgs, args)
			}
		})
	}
}
