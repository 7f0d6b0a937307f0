package handlers

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// DefaultStateDir is where state files live when the command does not
// name a directory.
const DefaultStateDir = "/etc/stagecast/states"

// stateStep is one step in a state file. Exactly one of Cmd or File is
// expected; Creates skips a Cmd step when the path already exists.
type stateStep struct {
	Cmd     string         `yaml:"cmd,omitempty"`
	Creates string         `yaml:"creates,omitempty"`
	File    *stateFileStep `yaml:"file,omitempty"`
}

type stateFileStep struct {
	Path    string `yaml:"path"`
	Content string `yaml:"content"`
	Mode    string `yaml:"mode,omitempty"`
}

// StateApplyHandler applies state files locally. A state identifier maps
// to a YAML file under the state directory, with dots as path separators
// (web.nginx resolves to web/nginx.yaml). Each file maps step tags to
// steps; every step's outcome lands in the result keyed by
// "<state>.<step>" so the controller can check them structurally.
type StateApplyHandler struct{}

// Handle applies the named states, or every state under the directory
// when none are named.
func (h *StateApplyHandler) Handle(ctx context.Context, params *protocol.StateApplyParams, eventCh chan<- *protocol.EventMessage) (*protocol.StateApplyResult, error) {
	stateDir := params.StateDir
	if stateDir == "" {
		stateDir = DefaultStateDir
	}

	states := params.States
	if len(states) == 0 {
		var err error
		states, err = discoverStates(stateDir)
		if err != nil {
			return nil, err
		}
	}

	result := &protocol.StateApplyResult{
		Steps: make(map[string]protocol.StateStepResult),
	}

	for _, state := range states {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		emit(eventCh, "", "info", fmt.Sprintf("applying state %s", state))
		if err := h.applyState(ctx, stateDir, state, params.Test, result, eventCh); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// applyState runs every step in one state file. Step failures are
// recorded, not returned; only an unreadable or malformed file aborts.
func (h *StateApplyHandler) applyState(ctx context.Context, stateDir, state string, test bool, result *protocol.StateApplyResult, eventCh chan<- *protocol.EventMessage) error {
	path := filepath.Join(stateDir, filepath.FromSlash(strings.ReplaceAll(state, ".", "/"))+".yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read state %s: %w", state, err)
	}

	var steps map[string]*stateStep
	if err := yaml.Unmarshal(data, &steps); err != nil {
		return fmt.Errorf("failed to parse state %s: %w", state, err)
	}

	names := make([]string, 0, len(steps))
	for name := range steps {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		tag := state + "." + name
		result.Steps[tag] = h.applyStep(ctx, steps[name], test)
	}
	return nil
}

func (h *StateApplyHandler) applyStep(ctx context.Context, step *stateStep, test bool) protocol.StateStepResult {
	switch {
	case step == nil:
		return protocol.StateStepResult{Result: false, Comment: "empty step"}

	case step.Cmd != "":
		if step.Creates != "" {
			if _, err := os.Stat(step.Creates); err == nil {
				return protocol.StateStepResult{Result: true, Comment: fmt.Sprintf("%s exists", step.Creates)}
			}
		}
		if test {
			return protocol.StateStepResult{Result: true, Comment: fmt.Sprintf("would run: %s", step.Cmd)}
		}
		execHandler := &ExecHandler{}
		res, err := execHandler.Handle(ctx, &protocol.ExecParams{
			Command:    step.Cmd,
			CaptureOut: true,
			CaptureErr: true,
		}, nil)
		if err != nil {
			return protocol.StateStepResult{Result: false, Comment: err.Error()}
		}
		if res.ExitCode != 0 {
			return protocol.StateStepResult{
				Result:  false,
				Comment: fmt.Sprintf("exit %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr)),
			}
		}
		return protocol.StateStepResult{
			Result:  true,
			Changes: map[string]interface{}{"stdout": strings.TrimSpace(res.Stdout)},
		}

	case step.File != nil:
		if test {
			return protocol.StateStepResult{Result: true, Comment: fmt.Sprintf("would write %s", step.File.Path)}
		}
		fileHandler := &FileWriteHandler{}
		res, err := fileHandler.Handle(ctx, &protocol.FileWriteParams{
			Path:    step.File.Path,
			Content: step.File.Content,
			Mode:    step.File.Mode,
			Create:  true,
		}, nil)
		if err != nil {
			return protocol.StateStepResult{Result: false, Comment: err.Error()}
		}
		return protocol.StateStepResult{
			Result: true,
			Changes: map[string]interface{}{
				"bytes_written": res.BytesWritten,
				"created":       res.Created,
			},
		}

	default:
		return protocol.StateStepResult{Result: false, Comment: "step has neither cmd nor file"}
	}
}

// discoverStates finds every state file under dir, returning dotted
// identifiers in sorted order.
func discoverStates(dir string) ([]string, error) {
	var states []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".yaml") {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = strings.TrimSuffix(rel, ".yaml")
		states = append(states, strings.ReplaceAll(filepath.ToSlash(rel), "/", "."))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to discover states in %s: %w", dir, err)
	}
	sort.Strings(states)
	return states, nil
}
