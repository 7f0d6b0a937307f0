// Package main implements the stage-runner agent. It is a minimal,
// self-contained binary that executes commands received over
// JSON-on-stdio and optionally self-deletes on exit.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/stagecast/stagecast/pkg/runner/handlers"
	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

const (
	version    = "1.0.0"
	defaultTTL = 10 * time.Minute
)

type runner struct {
	encoder      *protocol.Encoder
	decoder      *protocol.Decoder
	execPath     string
	selfDelete   bool
	commandCount int
}

func main() {
	ttl := flag.Duration("ttl", defaultTTL, "maximum lifetime before the runner exits")
	selfDelete := flag.Bool("self-delete", false, "remove the runner binary on exit")
	flag.Parse()

	r := &runner{
		encoder:    protocol.NewEncoder(os.Stdout),
		decoder:    protocol.NewDecoder(os.Stdin),
		selfDelete: *selfDelete,
	}

	var err error
	r.execPath, err = os.Executable()
	if err != nil {
		r.sendErrorAndExit("INIT_FAILED", fmt.Sprintf("failed to get executable path: %v", err), 1)
		return
	}

	if err := r.sendReady(*ttl); err != nil {
		os.Exit(1)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), *ttl)
	defer cancel()

	reason := "completed"
	exitCode := 0

loop:
	for {
		select {
		case <-ctx.Done():
			reason = "ttl_expired"
			break loop
		default:
			if err := r.processNextCommand(ctx); err != nil {
				if errors.Is(err, io.EOF) {
					reason = "stdin_closed"
				} else {
					reason = "error"
					exitCode = 1
				}
				break loop
			}
		}
	}

	r.exit(reason, exitCode)
}

func (r *runner) sendReady(ttl time.Duration) error {
	ready := &protocol.ReadyMessage{
		Version:  version,
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
		PID:      os.Getpid(),
		Caps: map[string]bool{
			string(protocol.CommandTypePing):          true,
			string(protocol.CommandTypeExec):          true,
			string(protocol.CommandTypeFileWrite):     true,
			string(protocol.CommandTypeFileRead):      true,
			string(protocol.CommandTypePkgEnsure):     true,
			string(protocol.CommandTypeServiceManage): true,
			string(protocol.CommandTypeStateApply):    true,
		},
	}
	return r.encoder.EncodeReady(ready)
}

func (r *runner) processNextCommand(ctx context.Context) error {
	cmd, err := r.decoder.DecodeCommand()
	if err != nil {
		return err
	}

	r.commandCount++

	cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(cmd.Timeout)*time.Second)
	defer cancel()

	eventCh := make(chan *protocol.EventMessage, 10)
	eventsDone := make(chan struct{})
	go func() {
		defer close(eventsDone)
		for evt := range eventCh {
			evt.CommandID = cmd.ID
			r.encoder.EncodeEvent(evt)
		}
	}()

	start := time.Now()
	result, err := r.handleCommand(cmdCtx, cmd, eventCh)
	duration := time.Since(start).Seconds()

	// Drain events before DONE/ERROR so the client never sees them
	// after the terminal message.
	close(eventCh)
	<-eventsDone

	if err != nil {
		return r.encoder.EncodeError(&protocol.ErrorMessage{
			CommandID: cmd.ID,
			Code:      "EXEC_FAILED",
			Message:   err.Error(),
			Retryable: false,
		})
	}

	return r.encoder.EncodeDone(&protocol.DoneMessage{
		CommandID: cmd.ID,
		Result:    result,
		Duration:  duration,
	})
}

func (r *runner) handleCommand(ctx context.Context, cmd *protocol.CommandMessage, eventCh chan<- *protocol.EventMessage) (json.RawMessage, error) {
	switch cmd.Type {
	case protocol.CommandTypePing:
		var params protocol.PingParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.PingHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeExec:
		var params protocol.ExecParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.ExecHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileWrite:
		var params protocol.FileWriteParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.FileWriteHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeFileRead:
		var params protocol.FileReadParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.FileReadHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypePkgEnsure:
		var params protocol.PkgEnsureParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.PkgEnsureHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeServiceManage:
		var params protocol.ServiceManageParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.ServiceManageHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	case protocol.CommandTypeStateApply:
		var params protocol.StateApplyParams
		if err := protocol.ParseParams(cmd.Params, &params); err != nil {
			return nil, err
		}
		handler := &handlers.StateApplyHandler{}
		result, err := handler.Handle(ctx, &params, eventCh)
		if err != nil {
			return nil, err
		}
		return json.Marshal(result)

	default:
		return nil, fmt.Errorf("unsupported command type: %s", cmd.Type)
	}
}

func (r *runner) exit(reason string, exitCode int) {
	exitMsg := &protocol.ExitMessage{
		Reason:        reason,
		ExitCode:      exitCode,
		CommandsTotal: r.commandCount,
	}

	if r.selfDelete {
		if err := os.Remove(r.execPath); err == nil {
			exitMsg.SelfDeleted = true
		}
	}

	r.encoder.EncodeExit(exitMsg)
	os.Exit(exitCode)
}

func (r *runner) sendErrorAndExit(code, message string, exitCode int) {
	r.encoder.EncodeError(&protocol.ErrorMessage{
		Code:      code,
		Message:   message,
		Retryable: false,
	})
	os.Exit(exitCode)
}
