package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/justinmoon/cockpit/internal/provision"
	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sandbox"
	"github.com/justinmoon/cockpit/internal/tmux"
)

// windowBinding is the slice of tmux.Binding the attach/destroy flows need.
type windowBinding interface {
	Inside() bool
	Get(ctx context.Context) (string, error)
	Clear(ctx context.Context) error
}

func newAttachCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attach",
		Short: "Re-attach a shell to the sandbox bound to this tmux window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger()
			run := &runner.ExecRunner{Logger: logger}
			binding := &tmux.Binding{Runner: run}
			client := &sandbox.CLI{Runner: run, Binary: cfg.SpriteBin, Org: cfg.Org, Logger: logger}
			return attachSandbox(cmd.Context(), binding, client, provision.WorkDirFor(cfg.RepoURL), logger)
		},
	}
}

// attachSandbox re-attaches a shell to the window's bound sandbox. A probe
// confirming the sandbox is gone clears the stale binding; an ambiguous
// probe keeps it, so a transient provider error can't orphan a live sandbox.
func attachSandbox(ctx context.Context, binding windowBinding, client sandbox.Client, workDir string, logger *slog.Logger) error {
	if !binding.Inside() {
		return fmt.Errorf("attach only works inside tmux")
	}
	name, err := binding.Get(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("no sandbox is bound to this window; run `cockpit create` first")
	}

	switch existence, err := client.Exists(ctx, name); existence {
	case sandbox.ExistenceFound:
		// fall through to attach
	case sandbox.ExistenceNotFound:
		if clearErr := binding.Clear(ctx); clearErr != nil && logger != nil {
			logger.Warn("could not clear stale binding", "err", clearErr)
		}
		return fmt.Errorf("sandbox %q no longer exists; binding cleared — run `cockpit create`", name)
	default:
		return fmt.Errorf("could not verify sandbox %q: %w", name, err)
	}

	return provision.AttachShell(ctx, client, name, workDir)
}

// destroySandbox force-destroys the window's bound sandbox. Destroy is
// best-effort (the sandbox may already be gone); the binding is cleared
// unconditionally so the window is reusable.
func destroySandbox(ctx context.Context, binding windowBinding, client sandbox.Client, stderr io.Writer) error {
	if !binding.Inside() {
		return fmt.Errorf("destroy only works inside tmux")
	}
	name, err := binding.Get(ctx)
	if err != nil {
		return err
	}
	if name == "" {
		return fmt.Errorf("no sandbox is bound to this window")
	}

	if err := client.Destroy(ctx, name, true); err != nil {
		fmt.Fprintf(stderr, "warning: %v\n", err)
	} else {
		fmt.Fprintf(stderr, "destroyed %s\n", name)
	}
	return binding.Clear(ctx)
}
