package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/justinmoon/cockpit/internal/config"
	"github.com/justinmoon/cockpit/internal/provision"
	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sandbox"
	"github.com/justinmoon/cockpit/internal/sshkey"
	"github.com/justinmoon/cockpit/internal/tmux"
)

// Exit codes for signal-interrupted runs, matching shell convention
// (128 + signal number).
const (
	exitInterrupt = 130
	exitTerminate = 143
)

func newCreateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Provision a sandbox, clone the repo, and attach a shell",
		RunE:  runCreate,
	}
	addCreateFlags(cmd)
	return cmd
}

func addCreateFlags(cmd *cobra.Command) {
	cmd.Flags().String("repo", "", "repository URL to clone (or "+config.EnvRepoURL+")")
	cmd.Flags().String("branch", "", "branch to clone (default "+config.DefaultBranch+")")
	cmd.Flags().String("org", "", "sandbox provider org")
	cmd.Flags().Bool("qa", false, "run the agent help QA check instead of attaching")
	cmd.Flags().Bool("qa-turn", false, "run a one-turn agent QA check instead of attaching")
	cmd.Flags().Bool("dry-run", false, "log mutating commands instead of running them")
}

func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.DefaultPath()
	}
	return config.Load(path, nil)
}

// overlayCreateFlags applies explicitly set flags on top of env/file config.
func overlayCreateFlags(cmd *cobra.Command, cfg *config.Config) {
	if v, _ := cmd.Flags().GetString("repo"); v != "" {
		cfg.RepoURL = v
	}
	if v, _ := cmd.Flags().GetString("branch"); v != "" {
		cfg.Branch = v
	}
	if v, _ := cmd.Flags().GetString("org"); v != "" {
		cfg.Org = v
	}
	if v, _ := cmd.Flags().GetBool("qa"); v {
		cfg.QAHelp = true
	}
	if v, _ := cmd.Flags().GetBool("qa-turn"); v {
		cfg.QATurn = true
	}
	if v, _ := cmd.Flags().GetBool("dry-run"); v {
		cfg.DryRun = true
	}
}

func runCreate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	overlayCreateFlags(cmd, &cfg)
	if cfg.RepoURL == "" {
		return fmt.Errorf("repository URL is required: pass --repo or set %s", config.EnvRepoURL)
	}

	logger := newLogger()
	run := &runner.ExecRunner{Logger: logger, DryRun: cfg.DryRun}
	pipe := &provision.Pipeline{
		Sandbox: &sandbox.CLI{Runner: run, Binary: cfg.SpriteBin, Org: cfg.Org, Logger: logger},
		Runner:  run,
		Binding: &tmux.Binding{Runner: run},
		Keys:    &sshkey.Manager{Runner: run},
		Logger:  logger,
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Signals cancel the context; the pipeline's deferred cleanup still runs
	// because cancellation surfaces as a step error, not a process exit.
	sigc := make(chan os.Signal, 2)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigc)

	var sigMu sync.Mutex
	var received os.Signal
	go func() {
		sig, ok := <-sigc
		if !ok {
			return
		}
		sigMu.Lock()
		received = sig
		sigMu.Unlock()
		fmt.Fprintf(cmd.ErrOrStderr(), "\nreceived %s, tearing down...\n", sig)
		cancel()
	}()

	runErr := pipe.Run(ctx, provision.Options{
		RepoURL: cfg.RepoURL,
		Branch:  cfg.Branch,
		QAHelp:  cfg.QAHelp,
		QATurn:  cfg.QATurn,
	})

	sigMu.Lock()
	sig := received
	sigMu.Unlock()
	if sig != nil {
		code := exitInterrupt
		if sig == syscall.SIGTERM {
			code = exitTerminate
		}
		return &exitError{Code: code, Err: runErr}
	}
	if runErr != nil {
		return &exitError{Code: 1, Err: runErr}
	}
	return nil
}
