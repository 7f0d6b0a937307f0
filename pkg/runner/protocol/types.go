// Package protocol defines the JSON-over-stdio communication protocol
// between Stagecast and the stage-runner agent.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the runner is ready to receive commands
	MessageTypeReady MessageType = "READY"
	// MessageTypeCommand indicates a command from the controller
	MessageTypeCommand MessageType = "CMD"
	// MessageTypeEvent indicates a progress event from the runner
	MessageTypeEvent MessageType = "EVENT"
	// MessageTypeDone indicates successful completion
	MessageTypeDone MessageType = "DONE"
	// MessageTypeError indicates an error occurred
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the runner is exiting
	MessageTypeExit MessageType = "EXIT"
)

// CommandType represents the type of command to execute.
type CommandType string

const (
	// CommandTypePing checks runner liveness
	CommandTypePing CommandType = "ping"
	// CommandTypeExec executes a shell command
	CommandTypeExec CommandType = "exec"
	// CommandTypeFileWrite writes content to a file
	CommandTypeFileWrite CommandType = "file.write"
	// CommandTypeFileRead reads content from a file
	CommandTypeFileRead CommandType = "file.read"
	// CommandTypePkgEnsure ensures a package is installed or removed
	CommandTypePkgEnsure CommandType = "pkg.ensure"
	// CommandTypeServiceManage manages a systemd service
	CommandTypeServiceManage CommandType = "service.manage"
	// CommandTypeStateApply applies a list of state identifiers locally
	CommandTypeStateApply CommandType = "state.apply"
)

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the runner is ready to receive commands.
type ReadyMessage struct {
	Version  string          `json:"version"`
	Platform string          `json:"platform"`
	Arch     string          `json:"arch"`
	PID      int             `json:"pid"`
	Caps     map[string]bool `json:"capabilities"`
}

// CommandMessage contains a command to execute.
type CommandMessage struct {
	ID      string          `json:"id"`
	Type    CommandType     `json:"type"`
	Timeout int             `json:"timeout"` // seconds
	Params  json.RawMessage `json:"params"`
}

// EventMessage contains progress information during command execution.
type EventMessage struct {
	CommandID string `json:"command_id"`
	Level     string `json:"level"` // info, warn, debug
	Message   string `json:"message"`
}

// DoneMessage indicates successful command completion.
type DoneMessage struct {
	CommandID string          `json:"command_id"`
	Result    json.RawMessage `json:"result"`
	Duration  float64         `json:"duration"` // seconds
}

// ErrorMessage indicates an error occurred.
type ErrorMessage struct {
	CommandID string `json:"command_id,omitempty"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// ExitMessage is sent before the runner terminates.
type ExitMessage struct {
	Reason        string `json:"reason"`
	ExitCode      int    `json:"exit_code"`
	SelfDeleted   bool   `json:"self_deleted"`
	CommandsTotal int    `json:"commands_total"`
}

// PingParams contains parameters for the ping command.
type PingParams struct {
	Payload string `json:"payload,omitempty"`
}

// PingResult contains the ping response.
type PingResult struct {
	Pong    bool   `json:"pong"`
	Payload string `json:"payload,omitempty"`
}

// ExecParams contains parameters for shell command execution.
type ExecParams struct {
	Command    string            `json:"command"`
	Args       []string          `json:"args,omitempty"`
	WorkDir    string            `json:"work_dir,omitempty"`
	Env        map[string]string `json:"env,omitempty"`
	Shell      string            `json:"shell,omitempty"` // defaults to /bin/sh
	CaptureOut bool              `json:"capture_out"`
	CaptureErr bool              `json:"capture_err"`
}

// ExecResult contains the result of command execution.
type ExecResult struct {
	ExitCode int     `json:"exit_code"`
	Stdout   string  `json:"stdout,omitempty"`
	Stderr   string  `json:"stderr,omitempty"`
	Duration float64 `json:"duration"`
}

// FileWriteParams contains parameters for writing a file.
type FileWriteParams struct {
	Path    string `json:"path"`
	Content string `json:"content"`
	Mode    string `json:"mode,omitempty"` // e.g., "0644"
	Backup  bool   `json:"backup,omitempty"`
	Create  bool   `json:"create"`
}

// FileWriteResult contains the result of a file write operation.
type FileWriteResult struct {
	BytesWritten int64  `json:"bytes_written"`
	Created      bool   `json:"created"`
	BackupPath   string `json:"backup_path,omitempty"`
	Checksum     string `json:"checksum"` // SHA256
}

// FileReadParams contains parameters for reading a file.
type FileReadParams struct {
	Path     string `json:"path"`
	MaxBytes int64  `json:"max_bytes,omitempty"`
}

// FileReadResult contains the result of a file read operation.
type FileReadResult struct {
	Content   string `json:"content"`
	Size      int64  `json:"size"`
	Mode      string `json:"mode"`
	Checksum  string `json:"checksum"` // SHA256
	Truncated bool   `json:"truncated"`
}

// PkgEnsureParams contains parameters for package management.
type PkgEnsureParams struct {
	Name    string `json:"name"`
	Version string `json:"version,omitempty"` // empty = latest
	State   string `json:"state"`             // present, absent
	Manager string `json:"manager,omitempty"` // apt, dnf, yum (auto-detect if empty)
}

// PkgEnsureResult contains the result of a package operation.
type PkgEnsureResult struct {
	Changed bool   `json:"changed"`
	Action  string `json:"action"` // installed, removed, already_present, already_absent
}

// ServiceManageParams contains parameters for service management.
type ServiceManageParams struct {
	Name   string `json:"name"`
	Action string `json:"action"` // start, stop, restart, reload, enable, disable
}

// ServiceManageResult contains the result of a service operation.
type ServiceManageResult struct {
	Changed bool   `json:"changed"`
	Action  string `json:"action"`
	Status  string `json:"status"` // active, inactive, failed
}

// StateApplyParams contains parameters for applying configuration states.
// States names the state identifiers to apply in order; an empty list
// applies everything found under StateDir (the highstate form).
type StateApplyParams struct {
	States   []string `json:"states,omitempty"`
	StateDir string   `json:"state_dir,omitempty"`
	Env      string   `json:"env,omitempty"`
	Test     bool     `json:"test,omitempty"`
}

// StateApplyResult maps step tags to step results. The controller's
// requisite check requires every step to report a result that is not
// false.
type StateApplyResult struct {
	Steps map[string]StateStepResult `json:"steps"`
}

// StateStepResult is one applied step's outcome.
type StateStepResult struct {
	Result  bool                   `json:"result"`
	Comment string                 `json:"comment,omitempty"`
	Changes map[string]interface{} `json:"changes,omitempty"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeCommand, MessageTypeEvent,
		MessageTypeDone, MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the command type is valid.
func (ct CommandType) Validate() error {
	switch ct {
	case CommandTypePing, CommandTypeExec, CommandTypeFileWrite,
		CommandTypeFileRead, CommandTypePkgEnsure,
		CommandTypeServiceManage, CommandTypeStateApply:
		return nil
	default:
		return fmt.Errorf("invalid command type: %s", ct)
	}
}

// Validate checks if the command message is valid.
func (cmd *CommandMessage) Validate() error {
	if cmd.ID == "" {
		return fmt.Errorf("command ID is required")
	}
	if err := cmd.Type.Validate(); err != nil {
		return err
	}
	if cmd.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if len(cmd.Params) == 0 {
		return fmt.Errorf("command params are required")
	}
	return nil
}

// Validate checks if the event message is valid.
func (evt *EventMessage) Validate() error {
	if evt.CommandID == "" {
		return fmt.Errorf("command ID is required")
	}
	if evt.Level == "" {
		evt.Level = "info"
	}
	validLevels := map[string]bool{"info": true, "warn": true, "debug": true}
	if !validLevels[evt.Level] {
		return fmt.Errorf("invalid event level: %s", evt.Level)
	}
	return nil
}
