package local

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// pluginHost owns the wazero runtime and the loaded plugin modules.
type pluginHost struct {
	runtime wazero.Runtime
	plugins map[string]*plugin
}

// plugin is one instantiated WASM module. The module must export handle
// plus malloc/free; arguments cross the boundary as JSON via guest
// memory, results come back as packed pointer/length pairs.
type plugin struct {
	name   string
	module api.Module
	memory api.Memory
	handle api.Function
	malloc api.Function
	free   api.Function
}

// pluginRequest is the JSON payload passed to a plugin's handle export.
type pluginRequest struct {
	Target string        `json:"target"`
	Args   []interface{} `json:"args,omitempty"`
}

// loadPlugins instantiates every .wasm module in dir.
func loadPlugins(ctx context.Context, dir string) (*pluginHost, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin directory %s: %w", dir, err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	host := &pluginHost{
		runtime: runtime,
		plugins: make(map[string]*plugin),
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".wasm") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		name := strings.TrimSuffix(entry.Name(), ".wasm")

		p, err := host.instantiate(ctx, name, path)
		if err != nil {
			runtime.Close(ctx)
			return nil, fmt.Errorf("failed to load plugin %s: %w", name, err)
		}
		host.plugins[name] = p
		log.Debug().Str("plugin", name).Str("path", path).Msg("plugin loaded")
	}

	return host, nil
}

func (h *pluginHost) instantiate(ctx context.Context, name, path string) (*plugin, error) {
	wasmBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	module, err := h.runtime.Instantiate(ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate module: %w", err)
	}

	p := &plugin{
		name:   name,
		module: module,
		memory: module.Memory(),
		handle: module.ExportedFunction("handle"),
		malloc: module.ExportedFunction("malloc"),
		free:   module.ExportedFunction("free"),
	}
	if p.memory == nil {
		return nil, fmt.Errorf("module does not export memory")
	}
	if p.handle == nil {
		return nil, fmt.Errorf("module does not export handle function")
	}
	if p.malloc == nil || p.free == nil {
		return nil, fmt.Errorf("module does not export malloc/free functions")
	}
	return p, nil
}

// funcs returns an adapter Func per plugin, registered as plugin.<name>.
func (h *pluginHost) funcs() map[string]Func {
	out := make(map[string]Func, len(h.plugins))
	for name, p := range h.plugins {
		p := p
		out["plugin."+name] = func(ctx context.Context, target string, args []interface{}) (interface{}, int, error) {
			return p.call(ctx, target, args)
		}
	}
	return out
}

func (h *pluginHost) close(ctx context.Context) error {
	return h.runtime.Close(ctx)
}

// call invokes the plugin's handle export with a JSON request.
func (p *plugin) call(ctx context.Context, target string, args []interface{}) (interface{}, int, error) {
	input, err := json.Marshal(pluginRequest{Target: target, Args: args})
	if err != nil {
		return nil, 1, fmt.Errorf("failed to marshal plugin request: %w", err)
	}

	inputPtr, err := p.allocate(ctx, uint32(len(input)))
	if err != nil {
		return nil, 1, err
	}
	defer p.deallocate(ctx, inputPtr)

	if !p.memory.Write(inputPtr, input) {
		return nil, 1, fmt.Errorf("failed to write request to guest memory")
	}

	// handle(ptr, len) -> (out_ptr << 32) | out_len
	results, err := p.handle.Call(ctx, uint64(inputPtr), uint64(len(input)))
	if err != nil {
		return nil, 1, fmt.Errorf("plugin call failed: %w", err)
	}
	if len(results) == 0 {
		return nil, 1, fmt.Errorf("plugin returned no results")
	}

	packed := results[0]
	outputPtr := uint32(packed >> 32)
	outputLen := uint32(packed & 0xFFFFFFFF)

	if outputLen == 0 {
		return nil, 0, nil
	}

	output, ok := p.memory.Read(outputPtr, outputLen)
	if !ok {
		return nil, 1, fmt.Errorf("failed to read response from guest memory")
	}
	// The plugin allocated the output buffer; hand it back.
	defer p.deallocate(ctx, outputPtr)

	var value interface{}
	if err := json.Unmarshal(output, &value); err != nil {
		return nil, 1, fmt.Errorf("plugin returned invalid JSON: %w", err)
	}

	// A plugin signals failure with an {"error": "..."} object.
	if m, ok := value.(map[string]interface{}); ok {
		if msg, ok := m["error"].(string); ok && msg != "" {
			return nil, 1, fmt.Errorf("plugin error: %s", msg)
		}
	}
	return value, 0, nil
}

func (p *plugin) allocate(ctx context.Context, size uint32) (uint32, error) {
	results, err := p.malloc.Call(ctx, uint64(size))
	if err != nil {
		return 0, fmt.Errorf("malloc failed: %w", err)
	}
	if len(results) == 0 || uint32(results[0]) == 0 {
		return 0, fmt.Errorf("malloc returned null pointer")
	}
	return uint32(results[0]), nil
}

func (p *plugin) deallocate(ctx context.Context, ptr uint32) {
	if _, err := p.free.Call(ctx, uint64(ptr)); err != nil {
		log.Warn().Str("plugin", p.name).Err(err).Msg("failed to free guest memory")
	}
}
