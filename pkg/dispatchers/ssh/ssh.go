// Package ssh implements the fleet dispatch adapter. Each target is an
// inventory host reached over SSH; the stage-runner agent is uploaded
// on demand and functions execute through the runner protocol.
package ssh

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/stagecast/stagecast/pkg/dispatchers"
	"github.com/stagecast/stagecast/pkg/engine"
	"github.com/stagecast/stagecast/pkg/inventory"
	"github.com/stagecast/stagecast/pkg/runner/client"
	"github.com/stagecast/stagecast/pkg/runner/protocol"
	sshx "github.com/stagecast/stagecast/pkg/transports/ssh"
)

// RetcodeUnreachable marks a target the adapter could not reach or
// bootstrap. Unreachable targets are failure records, never pass aborts.
const RetcodeUnreachable = 255

// DefaultRemotePath is where the runner agent lands on targets.
const DefaultRemotePath = "/tmp/stage-runner"

// DefaultWorkers bounds the per-batch fan-out.
const DefaultWorkers = 8

// connection is the per-host transport surface the adapter needs.
// *sshx.Client satisfies it.
type connection interface {
	Connect(ctx context.Context) error
	Close() error
	StartSession(ctx context.Context, cmd string) (*sshx.Session, error)
	Upload(ctx context.Context, localPath, remotePath string, mode uint32) error
	FileExists(ctx context.Context, remotePath string) (bool, error)
}

// Config configures the fleet adapter.
type Config struct {
	// Inventory resolves match expressions and host connection details.
	Inventory *inventory.Registry

	// User is the default login user for hosts that do not set one.
	User string

	// Port is the default SSH port for hosts that do not set one.
	Port int

	// PrivateKeyPath is the default private key.
	PrivateKeyPath string

	// KnownHostsPath locates known_hosts for host key verification.
	KnownHostsPath string

	// StrictHostKeyChecking rejects unknown host keys.
	StrictHostKeyChecking bool

	// ConnectTimeout bounds connection establishment.
	ConnectTimeout time.Duration

	// ExecTimeout bounds a single function execution on a target.
	ExecTimeout time.Duration

	// RunnerLocalPath is the local stage-runner binary uploaded to
	// targets that do not have one.
	RunnerLocalPath string

	// RunnerRemotePath is where the runner lives on targets.
	RunnerRemotePath string

	// Workers bounds concurrent targets within a batch.
	Workers int
}

// Adapter is the SSH fleet engine.Dispatcher.
type Adapter struct {
	cfg  Config
	dial func(hostCfg *sshx.Config) (connection, error)
}

// New creates a fleet adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.Inventory == nil {
		return nil, fmt.Errorf("inventory is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("default user is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.RunnerRemotePath == "" {
		cfg.RunnerRemotePath = DefaultRemotePath
	}
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = 30 * time.Second
	}
	if cfg.ExecTimeout == 0 {
		cfg.ExecTimeout = 5 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}

	return &Adapter{
		cfg: cfg,
		dial: func(hostCfg *sshx.Config) (connection, error) {
			return sshx.NewClient(hostCfg)
		},
	}, nil
}

// SelectTargets resolves a match expression against the inventory.
func (a *Adapter) SelectTargets(ctx context.Context, matchExpr string) ([]string, error) {
	return a.cfg.Inventory.SelectIDs(matchExpr)
}

// Dispatch executes the call per target over SSH. Connection failures
// become failure records with retcode 255; the remaining targets still
// run. Batch partitions complete in order.
func (a *Adapter) Dispatch(ctx context.Context, call *engine.Call) (<-chan engine.Return, error) {
	if _, err := commandForCall(call); err != nil {
		return nil, err
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
			a.runBatch(ctx, call, batch, out)
		}
	}()
	return out, nil
}

func (a *Adapter) runBatch(ctx context.Context, call *engine.Call, targets []string, out chan<- engine.Return) {
	sem := make(chan struct{}, a.cfg.Workers)
	var wg sync.WaitGroup

	for _, target := range targets {
		wg.Add(1)
		go func(target string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			out <- a.runTarget(ctx, call, target)
		}(target)
	}
	wg.Wait()
}

// runTarget connects to one host, ensures the runner is present, and
// executes the call through the runner protocol.
func (a *Adapter) runTarget(ctx context.Context, call *engine.Call, target string) engine.Return {
	host, ok := a.cfg.Inventory.Get(target)
	if !ok {
		return a.failure(call, target, RetcodeUnreachable, fmt.Sprintf("unknown target %q", target))
	}

	conn, err := a.dial(a.hostConfig(host))
	if err != nil {
		return a.failure(call, target, RetcodeUnreachable, err.Error())
	}

	if err := conn.Connect(ctx); err != nil {
		log.Warn().Str("target", target).Err(err).Msg("target unreachable")
		return a.failure(call, target, RetcodeUnreachable, err.Error())
	}
	defer conn.Close()

	if err := a.ensureRunner(ctx, conn); err != nil {
		return a.failure(call, target, RetcodeUnreachable, err.Error())
	}

	session, err := conn.StartSession(ctx, a.cfg.RunnerRemotePath)
	if err != nil {
		return a.failure(call, target, RetcodeUnreachable, err.Error())
	}
	defer session.Close()

	cl := client.New(session.Stdin, session.Stdout)
	defer cl.Close()
	if err := cl.Start(ctx, client.DefaultStartupTimeout); err != nil {
		return a.failure(call, target, RetcodeUnreachable, err.Error())
	}

	spec, _ := commandForCall(call)
	res, err := cl.Call(ctx, spec.cmdType, spec.params, a.cfg.ExecTimeout)
	if err != nil {
		return a.failure(call, target, 1, err.Error())
	}

	value, retcode, err := spec.decode(res)
	if err != nil {
		return a.failure(call, target, 1, err.Error())
	}

	return engine.Return{
		TargetID: target,
		Value:    value,
		Fun:      call.Fun,
		Retcode:  retcode,
		Success:  retcode == 0,
	}
}

// ensureRunner uploads the agent when the target does not have it.
func (a *Adapter) ensureRunner(ctx context.Context, conn connection) error {
	exists, err := conn.FileExists(ctx, a.cfg.RunnerRemotePath)
	if err != nil {
		return fmt.Errorf("failed to check for runner: %w", err)
	}
	if exists {
		return nil
	}
	if a.cfg.RunnerLocalPath == "" {
		return fmt.Errorf("runner missing on target and no local runner binary configured")
	}
	if err := conn.Upload(ctx, a.cfg.RunnerLocalPath, a.cfg.RunnerRemotePath, 0o755); err != nil {
		return fmt.Errorf("failed to upload runner: %w", err)
	}
	return nil
}

// hostConfig merges inventory host details with the adapter defaults.
func (a *Adapter) hostConfig(host *inventory.Host) *sshx.Config {
	cfg := sshx.DefaultConfig(host.Address, a.cfg.User)
	cfg.Port = a.cfg.Port
	if host.Port != 0 {
		cfg.Port = host.Port
	}
	if host.User != "" {
		cfg.User = host.User
	}
	cfg.PrivateKeyPath = a.cfg.PrivateKeyPath
	if host.KeyPath != "" {
		cfg.PrivateKeyPath = host.KeyPath
	}
	if a.cfg.KnownHostsPath != "" {
		cfg.KnownHostsPath = a.cfg.KnownHostsPath
	}
	cfg.StrictHostKeyChecking = a.cfg.StrictHostKeyChecking
	cfg.ConnectTimeout = a.cfg.ConnectTimeout
	cfg.ExecTimeout = a.cfg.ExecTimeout
	return cfg
}

func (a *Adapter) failure(call *engine.Call, target string, retcode int, msg string) engine.Return {
	return engine.Return{
		TargetID: target,
		Value:    msg,
		Fun:      call.Fun,
		Retcode:  retcode,
		Success:  false,
	}
}

// commandSpec pairs a runner command with its result decoding.
type commandSpec struct {
	cmdType protocol.CommandType
	params  interface{}
	decode  func(res *client.Result) (interface{}, int, error)
}

// commandForCall maps a stage function to a runner command.
func commandForCall(call *engine.Call) (*commandSpec, error) {
	switch call.Fun {
	case "test.ping":
		return &commandSpec{
			cmdType: protocol.CommandTypePing,
			params:  &protocol.PingParams{},
			decode: func(res *client.Result) (interface{}, int, error) {
				var pong protocol.PingResult
				if err := res.Decode(&pong); err != nil {
					return nil, 1, err
				}
				if !pong.Pong {
					return false, 1, nil
				}
				return true, 0, nil
			},
		}, nil

	case "cmd.run":
		if len(call.Args) == 0 {
			return nil, fmt.Errorf("cmd.run requires a command argument")
		}
		command, ok := call.Args[0].(string)
		if !ok {
			return nil, fmt.Errorf("cmd.run command must be a string")
		}
		return &commandSpec{
			cmdType: protocol.CommandTypeExec,
			params: &protocol.ExecParams{
				Command:    command,
				CaptureOut: true,
				CaptureErr: true,
			},
			decode: func(res *client.Result) (interface{}, int, error) {
				var exec protocol.ExecResult
				if err := res.Decode(&exec); err != nil {
					return nil, 1, err
				}
				if exec.ExitCode != 0 {
					return strings.TrimSpace(exec.Stderr), exec.ExitCode, nil
				}
				return strings.TrimSpace(exec.Stdout), 0, nil
			},
		}, nil

	case "state.sls":
		params := &protocol.StateApplyParams{}
		if len(call.Args) > 0 {
			names, ok := call.Args[0].(string)
			if !ok {
				return nil, fmt.Errorf("state.sls state names must be a string")
			}
			params.States = strings.Split(names, ",")
		}
		if len(call.Args) > 1 {
			if env, ok := call.Args[1].(string); ok {
				params.Env = env
			}
		}
		return stateSpec(params), nil

	case "state.highstate":
		return stateSpec(&protocol.StateApplyParams{}), nil

	default:
		return nil, fmt.Errorf("unsupported function %q", call.Fun)
	}
}

func stateSpec(params *protocol.StateApplyParams) *commandSpec {
	return &commandSpec{
		cmdType: protocol.CommandTypeStateApply,
		params:  params,
		decode: func(res *client.Result) (interface{}, int, error) {
			var applied protocol.StateApplyResult
			if err := res.Decode(&applied); err != nil {
				return nil, 1, err
			}
			return dispatchers.StateResultValue(&applied), 0, nil
		},
	}
}
