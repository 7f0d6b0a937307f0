package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// ServiceManageHandler handles systemd service operations.
type ServiceManageHandler struct{}

// Handle manages a systemd service.
func (h *ServiceManageHandler) Handle(ctx context.Context, params *protocol.ServiceManageParams, eventCh chan<- *protocol.EventMessage) (*protocol.ServiceManageResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("service name is required")
	}

	beforeActive, beforeEnabled := serviceStatus(ctx, params.Name)

	result := &protocol.ServiceManageResult{}

	switch params.Action {
	case "restart", "reload":
		if err := systemctl(ctx, params.Action, params.Name); err != nil {
			return nil, err
		}
		result.Action = params.Action + "ed"
		result.Changed = true

	case "start":
		if beforeActive == "active" {
			result.Action = "already_started"
		} else {
			if err := systemctl(ctx, "start", params.Name); err != nil {
				return nil, err
			}
			result.Action = "started"
			result.Changed = true
		}

	case "stop":
		if beforeActive == "inactive" {
			result.Action = "already_stopped"
		} else {
			if err := systemctl(ctx, "stop", params.Name); err != nil {
				return nil, err
			}
			result.Action = "stopped"
			result.Changed = true
		}

	case "enable":
		if beforeEnabled {
			result.Action = "already_enabled"
		} else {
			if err := systemctl(ctx, "enable", params.Name); err != nil {
				return nil, err
			}
			result.Action = "enabled"
			result.Changed = true
		}

	case "disable":
		if !beforeEnabled {
			result.Action = "already_disabled"
		} else {
			if err := systemctl(ctx, "disable", params.Name); err != nil {
				return nil, err
			}
			result.Action = "disabled"
			result.Changed = true
		}

	default:
		return nil, fmt.Errorf("invalid action: %s", params.Action)
	}

	afterActive, _ := serviceStatus(ctx, params.Name)
	result.Status = afterActive

	return result, nil
}

func serviceStatus(ctx context.Context, name string) (string, bool) {
	statusOut, _ := exec.CommandContext(ctx, "systemctl", "is-active", name).Output()
	status := strings.TrimSpace(string(statusOut))

	enabledOut, _ := exec.CommandContext(ctx, "systemctl", "is-enabled", name).Output()
	enabled := strings.TrimSpace(string(enabledOut)) == "enabled"

	return status, enabled
}

func systemctl(ctx context.Context, action, name string) error {
	cmd := exec.CommandContext(ctx, "systemctl", action, name)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to %s service %s: %w", action, name, err)
	}
	return nil
}
