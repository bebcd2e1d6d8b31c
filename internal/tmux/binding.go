// Package tmux persists the window → sandbox binding as a tmux window
// option, so `cockpit attach` and `cockpit destroy` can find the sandbox
// created from the current window without re-specifying it.
package tmux

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/justinmoon/cockpit/internal/runner"
)

// option is the tmux window option that stores the bound sandbox name.
const option = "@cockpit_sandbox"

// Binding reads and writes the per-window sandbox binding. All operations
// are no-ops outside a tmux session.
type Binding struct {
	Runner runner.Runner
	// Getenv defaults to os.Getenv; injectable for tests.
	Getenv func(string) string
}

func (b *Binding) getenv(key string) string {
	if b.Getenv != nil {
		return b.Getenv(key)
	}
	return os.Getenv(key)
}

// Inside reports whether the process runs inside a tmux client.
func (b *Binding) Inside() bool {
	return strings.TrimSpace(b.getenv("TMUX")) != ""
}

// Get returns the bound sandbox name, or "" when unbound or outside tmux.
func (b *Binding) Get(ctx context.Context) (string, error) {
	if !b.Inside() {
		return "", nil
	}
	res, err := b.Runner.Run(ctx, runner.Request{
		Cmd:  "tmux",
		Args: []string{"show-option", "-wqv", option},
	})
	if err != nil {
		return "", fmt.Errorf("tmux: read window binding: %w", err)
	}
	// -q makes an unset option an empty success; a non-zero exit here is a
	// real tmux failure.
	if !res.Ok() {
		return "", fmt.Errorf("tmux: read window binding: exit code %d: %s", res.ExitCode, res.Combined())
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Set binds the current window to a sandbox name. At most one binding per
// window: setting replaces any previous value.
func (b *Binding) Set(ctx context.Context, name string) error {
	if !b.Inside() {
		return nil
	}
	res, err := b.Runner.Run(ctx, runner.Request{
		Cmd:      "tmux",
		Args:     []string{"set-option", "-w", option, name},
		Mutating: true,
	})
	return runner.RequireOk("tmux: bind window", res, err)
}

// Clear removes the binding for the current window.
func (b *Binding) Clear(ctx context.Context) error {
	if !b.Inside() {
		return nil
	}
	res, err := b.Runner.Run(ctx, runner.Request{
		Cmd:      "tmux",
		Args:     []string{"set-option", "-wu", option},
		Mutating: true,
	})
	return runner.RequireOk("tmux: clear window binding", res, err)
}
