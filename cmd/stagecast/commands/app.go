package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/stagecast/stagecast/pkg/config"
	localdisp "github.com/stagecast/stagecast/pkg/dispatchers/local"
	sshdisp "github.com/stagecast/stagecast/pkg/dispatchers/ssh"
	"github.com/stagecast/stagecast/pkg/engine"
	"github.com/stagecast/stagecast/pkg/inventory"
	"github.com/stagecast/stagecast/pkg/policy"
	"github.com/stagecast/stagecast/pkg/stores"
	"github.com/stagecast/stagecast/pkg/telemetry"
)

// app bundles the wired subsystems a command needs: configuration,
// telemetry, the host inventory, the pass history store, and the policy
// gate.
type app struct {
	cfg      *config.AppConfig
	tel      *telemetry.Telemetry
	hosts    *inventory.Registry
	store    stores.Store
	policies *policy.Engine
}

// loadApp wires the application from the config file. The returned
// cleanup function shuts everything down.
func loadApp(ctx context.Context, version string) (*app, func(), error) {
	cfg, err := config.LoadAppConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}

	tel, err := telemetry.NewTelemetry(cfg.TelemetryConfig(version))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		_ = tel.Shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	hosts, err := inventory.LoadFile(cfg.Inventory)
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, nil, fmt.Errorf("failed to load inventory: %w", err)
	}

	a := &app{
		cfg:   cfg,
		tel:   tel,
		hosts: hosts,
	}
	cleanup := func() {
		if a.store != nil {
			_ = a.store.Close()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}

	if cfg.Store.Enabled {
		store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Store.Path})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := store.Init(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			cleanup()
			return nil, nil, err
		}
		a.store = store
	}

	policies, err := policy.NewEngine(tel.Logger.Zerolog())
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	if cfg.PolicyDir != "" {
		if err := policies.LoadPolicies(ctx, []string{cfg.PolicyDir}); err != nil {
			cleanup()
			return nil, nil, err
		}
	}
	a.policies = policies

	return a, cleanup, nil
}

// dispatcher builds the dispatch adapter: in-process when local is set,
// the SSH fleet adapter otherwise.
func (a *app) dispatcher(ctx context.Context, local bool, stateDir, pluginDir, runnerPath string) (engine.Dispatcher, func(), error) {
	if local {
		adapter, err := localdisp.New(ctx, localdisp.Config{
			Inventory: a.hosts,
			StateDir:  stateDir,
			PluginDir: pluginDir,
		})
		if err != nil {
			return nil, nil, err
		}
		return adapter, func() { _ = adapter.Close(context.Background()) }, nil
	}

	adapter, err := sshdisp.New(sshdisp.Config{
		Inventory:             a.hosts,
		User:                  a.cfg.SSH.User,
		Port:                  a.cfg.SSH.Port,
		PrivateKeyPath:        a.cfg.SSH.PrivateKeyPath,
		KnownHostsPath:        a.cfg.SSH.KnownHostsPath,
		StrictHostKeyChecking: a.cfg.SSH.StrictHostKeyChecking,
		ConnectTimeout:        a.cfg.SSH.ConnectTimeout,
		ExecTimeout:           a.cfg.SSH.ExecTimeout,
		RunnerLocalPath:       runnerPath,
		RunnerRemotePath:      a.cfg.SSH.RunnerPath,
	})
	if err != nil {
		return nil, nil, err
	}
	return adapter, func() {}, nil
}

// loadDefinition parses a stage document and loads it into a Definition.
// The environment is resolved flag over document over config default.
func loadDefinition(cfg *config.AppConfig, path, envFlag string) (*config.Document, *engine.Definition, error) {
	doc, err := config.LoadPath(path)
	if err != nil {
		return nil, nil, err
	}

	env := envFlag
	if env == "" {
		env = doc.Environment
	}
	if env == "" {
		env = cfg.Environment
	}

	def, err := engine.Load(doc.Stages, env)
	if err != nil {
		return nil, nil, err
	}
	return doc, def, nil
}

// gate evaluates the stage document against the policy engine. Deny
// violations abort with an error; warnings are logged.
func (a *app) gate(ctx context.Context, def *engine.Definition, allowAll bool) error {
	result, err := a.policies.Evaluate(ctx, def, policy.InputContext{AllowAll: allowAll})
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, w := range result.Warnings {
		a.tel.Logger.WithStage(w.Stage).Warnf("policy %s: %s", w.Policy, w.Message)
		_ = a.tel.Events.PublishPolicyViolation(w.Stage, w.Policy, w.Message)
	}
	if result.Allowed {
		return nil
	}

	lines := make([]string, 0, len(result.Violations))
	for _, v := range result.Violations {
		_ = a.tel.Events.PublishPolicyViolation(v.Stage, v.Policy, v.Message)
		lines = append(lines, fmt.Sprintf("  %s: %s", v.Policy, v.Message))
	}
	return fmt.Errorf("stage document denied by policy:\n%s", strings.Join(lines, "\n"))
}

// passRecorder persists a pass to the history store. All methods are
// no-ops when the store is disabled.
type passRecorder struct {
	store  stores.Store
	passID string
	seq    int64
}

// newPassRecorder opens a pass record and emits the started event.
func newPassRecorder(ctx context.Context, store stores.Store, document, env string, driver stores.Driver, total int) (*passRecorder, error) {
	r := &passRecorder{store: store}
	if store == nil {
		return r, nil
	}

	pass := &stores.Pass{
		DocumentPath: document,
		Environment:  env,
		Driver:       driver,
		StagesTotal:  total,
	}
	if err := store.CreatePass(ctx, pass); err != nil {
		return nil, err
	}
	r.passID = pass.ID
	r.event(ctx, telemetry.EventTypePassStarted, "", nil)
	return r, nil
}

// PassID returns the recorded pass identifier, empty when disabled.
func (r *passRecorder) PassID() string {
	return r.passID
}

// event appends one entry to the pass event log.
func (r *passRecorder) event(ctx context.Context, eventType, stage string, payload interface{}) {
	if r.store == nil {
		return
	}
	r.seq++
	ev := &stores.Event{
		PassID: r.passID,
		Seq:    r.seq,
		Type:   eventType,
		Stage:  stage,
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			s := string(data)
			ev.Payload = &s
		}
	}
	_ = r.store.AppendEvent(ctx, ev)
}

// stageResult records one resolved stage outcome.
func (r *passRecorder) stageResult(ctx context.Context, name string, out engine.Outcome) {
	if r.store == nil {
		return
	}

	payload, err := json.Marshal(out)
	if err != nil {
		payload = []byte("{}")
	}
	retcodes := make(map[string]int)
	for _, tr := range out {
		retcodes[strconv.Itoa(tr.Retcode)]++
	}
	tally, err := json.Marshal(retcodes)
	if err != nil {
		tally = []byte("{}")
	}

	_ = r.store.RecordStageResult(ctx, &stores.StageResult{
		PassID:   r.passID,
		Stage:    name,
		Kind:     out.Kind(),
		Payload:  string(payload),
		Retcodes: string(tally),
	})
	r.event(ctx, telemetry.EventTypeStageResolved, name, map[string]interface{}{
		"ok":      out.OK(),
		"targets": len(out),
	})
}

// invalidStage records a stage that failed validation.
func (r *passRecorder) invalidStage(ctx context.Context, name string, errs []string) {
	r.event(ctx, telemetry.EventTypeStageInvalid, name, map[string]interface{}{
		"errors": errs,
	})
}

// finish closes the pass record.
func (r *passRecorder) finish(ctx context.Context, status engine.PassStatus, summary engine.PassSummary, runErr error) {
	if r.store == nil {
		return
	}

	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}
	eventType := telemetry.EventTypePassCompleted
	if runErr != nil {
		eventType = telemetry.EventTypePassFailed
	}
	r.event(ctx, eventType, "", map[string]interface{}{
		"status":    string(status),
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"invalid":   summary.Invalid,
	})
	_ = r.store.FinishPass(ctx, r.passID, status, summary.Succeeded, summary.Failed, errMsg)
}

// describeWork renders a stage's work form for display.
func describeWork(w engine.Work) string {
	switch w.Kind {
	case engine.WorkStateList:
		return "state.sls " + strings.Join(w.States, ",")
	case engine.WorkFunction:
		if len(w.Args) == 0 {
			return w.Fun
		}
		args := make([]string, len(w.Args))
		for i, a := range w.Args {
			args[i] = fmt.Sprintf("%v", a)
		}
		return w.Fun + " " + strings.Join(args, " ")
	case engine.WorkNoop:
		return "noop"
	default:
		return "state.highstate"
	}
}
