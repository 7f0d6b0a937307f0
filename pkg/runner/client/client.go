// Package client drives a stage-runner agent over a streaming session.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// DefaultStartupTimeout bounds the wait for the READY message.
const DefaultStartupTimeout = 10 * time.Second

// Result is a completed command: the raw result payload plus any events
// the runner emitted while executing it.
type Result struct {
	CommandID string
	Raw       json.RawMessage
	Duration  time.Duration
	Events    []*protocol.EventMessage
}

// Decode unmarshals the raw result payload into target.
func (r *Result) Decode(target interface{}) error {
	return protocol.ParseParams(r.Raw, target)
}

// Client correlates commands with their DONE/ERROR responses over a
// runner session's stdio. Not safe for concurrent Call; the runner
// processes commands sequentially and so does the client.
type Client struct {
	encoder *protocol.Encoder
	decoder *protocol.Decoder

	mu     sync.Mutex
	ready  *protocol.ReadyMessage
	closed bool
}

// New creates a client over an established session's stdio.
func New(stdin io.Writer, stdout io.Reader) *Client {
	return &Client{
		encoder: protocol.NewEncoder(stdin),
		decoder: protocol.NewDecoder(stdout),
	}
}

// Start waits for the runner's READY message.
func (c *Client) Start(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = DefaultStartupTimeout
	}

	readyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	readyCh := make(chan *protocol.ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != protocol.MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready protocol.ReadyMessage
		if err := protocol.ParseParams(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.mu.Lock()
		c.ready = ready
		c.mu.Unlock()
		return nil
	}
}

// Ready returns the READY message received during startup, or nil if
// Start has not completed.
func (c *Client) Ready() *protocol.ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Supports reports whether the runner advertised a capability for the
// given command type.
func (c *Client) Supports(cmdType protocol.CommandType) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready == nil {
		return false
	}
	return c.ready.Caps[string(cmdType)]
}

// Call sends a command and waits for its DONE or ERROR, collecting
// interleaved events along the way.
func (c *Client) Call(ctx context.Context, cmdType protocol.CommandType, params interface{}, timeout time.Duration) (*Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("client is closed")
	}
	c.mu.Unlock()

	paramBytes, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params: %w", err)
	}

	if timeout == 0 {
		timeout = 60 * time.Second
	}

	cmd := &protocol.CommandMessage{
		ID:      uuid.New().String(),
		Type:    cmdType,
		Timeout: int(timeout.Seconds()),
		Params:  paramBytes,
	}
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	if err := c.encoder.EncodeCommand(cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	result := &Result{CommandID: cmd.ID}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msg, err := c.decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case protocol.MessageTypeEvent:
			var event protocol.EventMessage
			if err := protocol.ParseParams(msg.Data, &event); err != nil {
				return nil, fmt.Errorf("failed to parse event: %w", err)
			}
			result.Events = append(result.Events, &event)

		case protocol.MessageTypeDone:
			var done protocol.DoneMessage
			if err := protocol.ParseParams(msg.Data, &done); err != nil {
				return nil, fmt.Errorf("failed to parse done: %w", err)
			}
			if done.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, done.CommandID)
			}
			result.Raw = done.Result
			result.Duration = time.Duration(done.Duration * float64(time.Second))
			return result, nil

		case protocol.MessageTypeError:
			var errMsg protocol.ErrorMessage
			if err := protocol.ParseParams(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.CommandID != "" && errMsg.CommandID != cmd.ID {
				return nil, fmt.Errorf("command ID mismatch: expected %s, got %s", cmd.ID, errMsg.CommandID)
			}
			return nil, fmt.Errorf("command failed: %s: %s", errMsg.Code, errMsg.Message)

		case protocol.MessageTypeExit:
			return nil, fmt.Errorf("runner exited before completing command")

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

// Close marks the client closed. The underlying session is owned and
// closed by the caller.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}
