package handlers

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/stagecast/stagecast/pkg/runner/protocol"
)

// PkgEnsureHandler handles package management operations.
type PkgEnsureHandler struct{}

// Handle ensures a package is in the desired state.
func (h *PkgEnsureHandler) Handle(ctx context.Context, params *protocol.PkgEnsureParams, eventCh chan<- *protocol.EventMessage) (*protocol.PkgEnsureResult, error) {
	if params.Name == "" {
		return nil, fmt.Errorf("package name is required")
	}

	manager := params.Manager
	if manager == "" {
		var err error
		manager, err = detectPackageManager()
		if err != nil {
			return nil, fmt.Errorf("failed to detect package manager: %w", err)
		}
	}

	installed, err := isPackageInstalled(ctx, manager, params.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to check package status: %w", err)
	}

	result := &protocol.PkgEnsureResult{}

	switch params.State {
	case "present":
		if installed {
			result.Action = "already_present"
		} else {
			emit(eventCh, "", "info", fmt.Sprintf("installing %s via %s", params.Name, manager))
			if err := installPackage(ctx, manager, params.Name, params.Version); err != nil {
				return nil, fmt.Errorf("failed to install package: %w", err)
			}
			result.Changed = true
			result.Action = "installed"
		}

	case "absent":
		if !installed {
			result.Action = "already_absent"
		} else {
			emit(eventCh, "", "info", fmt.Sprintf("removing %s via %s", params.Name, manager))
			if err := removePackage(ctx, manager, params.Name); err != nil {
				return nil, fmt.Errorf("failed to remove package: %w", err)
			}
			result.Changed = true
			result.Action = "removed"
		}

	default:
		return nil, fmt.Errorf("invalid state: %s", params.State)
	}

	return result, nil
}

func isPackageInstalled(ctx context.Context, manager, name string) (bool, error) {
	var cmd *exec.Cmd
	switch manager {
	case "apt":
		cmd = exec.CommandContext(ctx, "dpkg-query", "-W", "-f=${Version}", name)
	case "dnf", "yum":
		cmd = exec.CommandContext(ctx, "rpm", "-q", name)
	default:
		return false, fmt.Errorf("unsupported package manager: %s", manager)
	}

	if err := cmd.Run(); err != nil {
		return false, nil // not installed
	}
	return true, nil
}

func installPackage(ctx context.Context, manager, name, version string) error {
	pkgSpec := name
	if version != "" {
		switch manager {
		case "apt":
			pkgSpec = fmt.Sprintf("%s=%s", name, version)
		case "dnf", "yum":
			pkgSpec = fmt.Sprintf("%s-%s", name, version)
		}
	}

	cmd := exec.CommandContext(ctx, manager, "install", "-y", pkgSpec)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func removePackage(ctx context.Context, manager, name string) error {
	cmd := exec.CommandContext(ctx, manager, "remove", "-y", name)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func detectPackageManager() (string, error) {
	for _, mgr := range []string{"apt", "dnf", "yum"} {
		if _, err := exec.LookPath(mgr); err == nil {
			return mgr, nil
		}
	}
	return "", fmt.Errorf("no supported package manager found")
}
