// Package podman drives the container that hosts an ephemeral VM.
package podman

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/projecteru2/bootwatch/utils"
)

const (
	DefaultBinary = "podman"
	stateRunning  = "running"
	runningPoll   = 200 * time.Millisecond
)

// ErrNotRunning is returned for containers that exist but are not running.
var ErrNotRunning = errors.New("container is not running")

// Client runs podman subcommands.
type Client struct {
	Binary string
}

// New returns a Client for binary, defaulting to "podman" from PATH.
func New(binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{Binary: binary}
}

// Command prepares a podman invocation bound to ctx.
func (c *Client) Command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, c.Binary, args...) //nolint:gosec // args built by this package
}

// State returns the container's State.Status (running, exited, ...).
func (c *Client) State(ctx context.Context, container string) (string, error) {
	out, err := c.Command(ctx, "inspect", container, "--format", "{{.State.Status}}").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("inspect container %s: %s: %w", container, strings.TrimSpace(string(out)), err)
	}
	return strings.TrimSpace(string(out)), nil
}

// EnsureRunning fails with ErrNotRunning unless the container is running.
func (c *Client) EnsureRunning(ctx context.Context, container string) error {
	state, err := c.State(ctx, container)
	if err != nil {
		return err
	}
	if state != stateRunning {
		return fmt.Errorf("%w: %s (status: %s)", ErrNotRunning, container, state)
	}
	return nil
}

// WaitRunning polls until the container is running, for callers that race
// the launcher.
func (c *Client) WaitRunning(ctx context.Context, container string, timeout time.Duration) error {
	var lastErr error
	err := utils.WaitFor(ctx, timeout, runningPoll, func(ctx context.Context) (bool, error) {
		lastErr = c.EnsureRunning(ctx, container)
		return lastErr == nil, nil
	})
	if err != nil && lastErr != nil {
		return fmt.Errorf("%w (last check: %w)", err, lastErr)
	}
	return err
}
