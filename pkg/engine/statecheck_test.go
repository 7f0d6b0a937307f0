package engine

import (
	"testing"
)

func TestCheckStateResult(t *testing.T) {
	tests := []struct {
		name string
		ret  interface{}
		want bool
	}{
		{
			name: "not a mapping",
			ret:  "service restarted",
			want: false,
		},
		{
			name: "nil",
			ret:  nil,
			want: false,
		},
		{
			name: "empty mapping is vacuously successful",
			ret:  map[string]interface{}{},
			want: true,
		},
		{
			name: "all steps succeeded",
			ret: map[string]interface{}{
				"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{
					"result":  true,
					"comment": "Package installed",
				},
				"service_|-nginx_|-nginx_|-running": map[string]interface{}{
					"result": true,
				},
			},
			want: true,
		},
		{
			name: "one step failed",
			ret: map[string]interface{}{
				"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{
					"result": true,
				},
				"service_|-nginx_|-nginx_|-running": map[string]interface{}{
					"result": false,
				},
			},
			want: false,
		},
		{
			name: "step missing result",
			ret: map[string]interface{}{
				"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{
					"comment": "no result reported",
				},
			},
			want: false,
		},
		{
			name: "step is not a mapping",
			ret: map[string]interface{}{
				"pkg_|-nginx_|-nginx_|-installed": "done",
			},
			want: false,
		},
		{
			name: "nil result counts as not failed",
			ret: map[string]interface{}{
				"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{
					"result": nil,
				},
			},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CheckStateResult(tt.ret); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestTargetResult_OK(t *testing.T) {
	stateReturn := map[string]interface{}{
		"pkg_|-nginx_|-nginx_|-installed": map[string]interface{}{"result": true},
	}

	tests := []struct {
		name string
		r    TargetResult
		want bool
	}{
		{
			name: "function success",
			r:    TargetResult{Fun: "test.ping", Retcode: 0, Success: true},
			want: true,
		},
		{
			name: "function nonzero retcode",
			r:    TargetResult{Fun: "test.ping", Retcode: 1, Success: true},
			want: false,
		},
		{
			name: "function success flag false",
			r:    TargetResult{Fun: "test.ping", Retcode: 0, Success: false},
			want: false,
		},
		{
			name: "highstate checks structure",
			r:    TargetResult{Fun: FunctionHighstate, Return: stateReturn, Retcode: 0, Success: true},
			want: true,
		},
		{
			name: "state list with scalar return fails",
			r:    TargetResult{Fun: FunctionStateList, Return: "oops", Retcode: 0, Success: true},
			want: false,
		},
		{
			name: "requisite failure record",
			r:    TargetResult{Fun: FunctionRequisiteFailure, Retcode: RetcodeRequisiteFailed},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.r.OK(); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}
