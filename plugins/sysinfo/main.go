// Package main implements the sysinfo plugin for Stagecast's local
// dispatch adapter. It compiles to WASM (tinygo, wasi target) and is
// loaded from the plugin directory, where the adapter exposes it as the
// plugin.sysinfo function.
//
// The guest contract: the module exports handle, malloc, and free.
// Requests cross the boundary as JSON written into guest memory; handle
// returns the response location packed as (ptr << 32) | len.
package main

import (
	"encoding/json"
	"fmt"
	"runtime"
	"unsafe"
)

const pluginVersion = "1.0.0"

// request is the payload the adapter sends for one target invocation.
type request struct {
	Target string        `json:"target"`
	Args   []interface{} `json:"args,omitempty"`
}

// allocs pins guest-allocated buffers so the host can read and write
// them before calling free.
var allocs = make(map[uintptr][]byte)

//export malloc
func malloc(size uint32) uintptr {
	if size == 0 {
		return 0
	}
	buf := make([]byte, size)
	ptr := uintptr(unsafe.Pointer(&buf[0]))
	allocs[ptr] = buf
	return ptr
}

//export free
func free(ptr uintptr) {
	delete(allocs, ptr)
}

//export handle
func handle(ptr uintptr, size uint32) uint64 {
	input := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), size)
	output := process(input)

	outPtr := malloc(uint32(len(output)))
	if outPtr == 0 {
		return 0
	}
	copy(allocs[outPtr], output)
	return uint64(outPtr)<<32 | uint64(len(output))
}

// process answers one invocation. Failures are reported through the
// error key, which the host maps to a non-zero retcode.
func process(input []byte) []byte {
	var req request
	if err := json.Unmarshal(input, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid request: %v", err))
	}
	if req.Target == "" {
		return errorResponse("request missing target")
	}

	resp := map[string]interface{}{
		"target":   req.Target,
		"plugin":   "sysinfo",
		"version":  pluginVersion,
		"os":       runtime.GOOS,
		"arch":     runtime.GOARCH,
		"compiler": runtime.Compiler,
	}
	out, err := json.Marshal(resp)
	if err != nil {
		return errorResponse(fmt.Sprintf("failed to marshal response: %v", err))
	}
	return out
}

func errorResponse(msg string) []byte {
	out, err := json.Marshal(map[string]string{"error": msg})
	if err != nil {
		return []byte(`{"error":"internal plugin error"}`)
	}
	return out
}

// main is required for the wasi target; execution happens through the
// handle export.
func main() {}
