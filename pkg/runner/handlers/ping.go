// Package handlers implements the stage-runner command handlers. Every
// handler follows the same shape: Handle(ctx, params, eventCh) returns a
// result or an error, emitting progress events on eventCh as it goes.
package handlers

import (
	"context"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// PingHandler answers liveness probes.
type PingHandler struct{}

// Handle echoes the payload back.
func (h *PingHandler) Handle(ctx context.Context, params *protocol.PingParams, eventCh chan<- *protocol.EventMessage) (*protocol.PingResult, error) {
	return &protocol.PingResult{
		Pong:    true,
		Payload: params.Payload,
	}, nil
}
