// Package local implements the in-process dispatch adapter. Functions
// run as Go handlers on the controller host itself, which makes it the
// adapter of choice for tests, dry runs, and single-node setups.
package local

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/stagecast/stagecast/pkg/dispatchers"
	"github.com/stagecast/stagecast/pkg/engine"
	"github.com/stagecast/stagecast/pkg/inventory"
	"github.com/stagecast/stagecast/pkg/runner/handlers"
	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// DefaultWorkers bounds the per-batch fan-out.
const DefaultWorkers = 8

// Func executes one function call against one target. The retcode is
// reported alongside the value; a returned error becomes a failure
// record for that target.
type Func func(ctx context.Context, target string, args []interface{}) (value interface{}, retcode int, err error)

// Config configures the local adapter.
type Config struct {
	// Inventory resolves match expressions. Required.
	Inventory *inventory.Registry

	// Workers bounds concurrent per-target executions within a batch.
	Workers int

	// PluginDir is an optional directory of WASM plugin modules, each
	// registered under plugin.<name>.
	PluginDir string

	// StateDir is where the state forms look for state files.
	StateDir string
}

// Adapter is the in-process engine.Dispatcher.
type Adapter struct {
	inventory *inventory.Registry
	workers   int
	stateDir  string

	mu    sync.RWMutex
	funcs map[string]Func

	plugins *pluginHost
}

// New creates a local adapter with the built-in functions registered
// and any WASM plugins loaded.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Inventory == nil {
		return nil, fmt.Errorf("inventory is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}

	a := &Adapter{
		inventory: cfg.Inventory,
		workers:   workers,
		stateDir:  cfg.StateDir,
		funcs:     make(map[string]Func),
	}
	a.registerBuiltins()

	if cfg.PluginDir != "" {
		host, err := loadPlugins(ctx, cfg.PluginDir)
		if err != nil {
			return nil, fmt.Errorf("failed to load plugins: %w", err)
		}
		a.plugins = host
		for name, fn := range host.funcs() {
			if err := a.Register(name, fn); err != nil {
				return nil, err
			}
		}
	}

	return a, nil
}

// Register adds a function under the given identifier. Identifiers are
// unique; re-registering is an error.
func (a *Adapter) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return fmt.Errorf("function registration requires a name and a handler")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.funcs[name]; ok {
		return fmt.Errorf("function %q already registered", name)
	}
	a.funcs[name] = fn
	return nil
}

// Functions returns the registered function identifiers in sorted order.
func (a *Adapter) Functions() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, 0, len(a.funcs))
	for name := range a.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close releases plugin resources.
func (a *Adapter) Close(ctx context.Context) error {
	if a.plugins == nil {
		return nil
	}
	return a.plugins.close(ctx)
}

// SelectTargets resolves a match expression against the inventory.
func (a *Adapter) SelectTargets(ctx context.Context, matchExpr string) ([]string, error) {
	return a.inventory.SelectIDs(matchExpr)
}

// Dispatch executes the call against its targets, fanning out with a
// bounded worker pool. Batch partitions complete in order.
func (a *Adapter) Dispatch(ctx context.Context, call *engine.Call) (<-chan engine.Return, error) {
	a.mu.RLock()
	fn, ok := a.funcs[call.Fun]
	a.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown function %q", call.Fun)
	}

	size, err := dispatchers.ParseBatch(call.Batch, len(call.Targets))
	if err != nil {
		return nil, err
	}
	batches := dispatchers.Partition(call.Targets, size)

	out := make(chan engine.Return, len(call.Targets))
	go func() {
		defer close(out)
		for _, batch := range batches {
			a.runBatch(ctx, call, fn, batch, out)
		}
	}()
	return out, nil
}

// runBatch executes one partition with bounded concurrency, emitting a
// record per target.
func (a *Adapter) runBatch(ctx context.Context, call *engine.Call, fn Func, targets []string, out chan<- engine.Return) {
	sem := make(chan struct{}, a.workers)
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out <- a.runOne(ctx, call, fn, target)
		}(target)
	}
	wg.Wait()
}

func (a *Adapter) runOne(ctx context.Context, call *engine.Call, fn Func, target string) engine.Return {
	if err := ctx.Err(); err != nil {
		return engine.Return{
			TargetID: target,
			Value:    err.Error(),
			Fun:      call.Fun,
			Retcode:  1,
			Success:  false,
		}
	}

	value, retcode, err := fn(ctx, target, call.Args)
	if err != nil {
		log.Debug().
			Str("target", target).
			Str("fun", call.Fun).
			Err(err).
			Msg("local function failed")
		rc := retcode
		if rc == 0 {
			rc = 1
		}
		return engine.Return{
			TargetID: target,
			Value:    err.Error(),
			Fun:      call.Fun,
			Retcode:  rc,
			Success:  false,
		}
	}

	return engine.Return{
		TargetID: target,
		Value:    value,
		Fun:      call.Fun,
		Retcode:  retcode,
		Success:  retcode == 0,
	}
}

// registerBuiltins installs the built-in function set.
func (a *Adapter) registerBuiltins() {
	a.funcs["test.ping"] = func(ctx context.Context, target string, args []interface{}) (interface{}, int, error) {
		return true, 0, nil
	}

	a.funcs["cmd.run"] = func(ctx context.Context, target string, args []interface{}) (interface{}, int, error) {
		if len(args) == 0 {
			return nil, 1, fmt.Errorf("cmd.run requires a command argument")
		}
		command, ok := args[0].(string)
		if !ok {
			return nil, 1, fmt.Errorf("cmd.run command must be a string")
		}
		h := &handlers.ExecHandler{}
		res, err := h.Handle(ctx, &protocol.ExecParams{
			Command:    command,
			CaptureOut: true,
			CaptureErr: true,
		}, nil)
		if err != nil {
			return nil, 1, err
		}
		if res.ExitCode != 0 {
			return strings.TrimSpace(res.Stderr), res.ExitCode, nil
		}
		return strings.TrimSpace(res.Stdout), 0, nil
	}

	a.funcs["state.sls"] = func(ctx context.Context, target string, args []interface{}) (interface{}, int, error) {
		params := &protocol.StateApplyParams{StateDir: a.stateDir}
		if len(args) > 0 {
			names, ok := args[0].(string)
			if !ok {
				return nil, 1, fmt.Errorf("state.sls state names must be a string")
			}
			params.States = strings.Split(names, ",")
		}
		if len(args) > 1 {
			if env, ok := args[1].(string); ok {
				params.Env = env
			}
		}
		return a.applyStates(ctx, params)
	}

	a.funcs["state.highstate"] = func(ctx context.Context, target string, args []interface{}) (interface{}, int, error) {
		return a.applyStates(ctx, &protocol.StateApplyParams{StateDir: a.stateDir})
	}
}

func (a *Adapter) applyStates(ctx context.Context, params *protocol.StateApplyParams) (interface{}, int, error) {
	h := &handlers.StateApplyHandler{}
	res, err := h.Handle(ctx, params, nil)
	if err != nil {
		return nil, 1, err
	}
	return dispatchers.StateResultValue(res), 0, nil
}
