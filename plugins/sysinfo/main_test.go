package main

import (
	"encoding/json"
	"testing"
)

func decode(t *testing.T, data []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	return m
}

func TestProcess(t *testing.T) {
	out := process([]byte(`{"target":"web1"}`))
	resp := decode(t, out)

	if resp["target"] != "web1" {
		t.Errorf("target = %v, want web1", resp["target"])
	}
	if resp["plugin"] != "sysinfo" {
		t.Errorf("plugin = %v, want sysinfo", resp["plugin"])
	}
	if _, ok := resp["error"]; ok {
		t.Errorf("unexpected error in response: %v", resp["error"])
	}
}

func TestProcessInvalidJSON(t *testing.T) {
	resp := decode(t, process([]byte(`not json`)))
	if resp["error"] == "" || resp["error"] == nil {
		t.Error("invalid request did not produce an error response")
	}
}

func TestProcessMissingTarget(t *testing.T) {
	resp := decode(t, process([]byte(`{"args":[1]}`)))
	if resp["error"] != "request missing target" {
		t.Errorf("error = %v, want request missing target", resp["error"])
	}
}

func TestMallocFree(t *testing.T) {
	ptr := malloc(16)
	if ptr == 0 {
		t.Fatal("malloc(16) returned null")
	}
	if _, ok := allocs[ptr]; !ok {
		t.Fatal("allocation not tracked")
	}
	free(ptr)
	if _, ok := allocs[ptr]; ok {
		t.Fatal("free did not release the allocation")
	}

	if malloc(0) != 0 {
		t.Error("malloc(0) should return null")
	}
}
