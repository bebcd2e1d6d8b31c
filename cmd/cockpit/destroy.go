package main

import (
	"github.com/spf13/cobra"

	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sandbox"
	"github.com/justinmoon/cockpit/internal/tmux"
)

func newDestroyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "destroy",
		Short: "Destroy the sandbox bound to this tmux window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := newLogger()
			run := &runner.ExecRunner{Logger: logger}
			binding := &tmux.Binding{Runner: run}
			client := &sandbox.CLI{Runner: run, Binary: cfg.SpriteBin, Org: cfg.Org, Logger: logger}
			return destroySandbox(cmd.Context(), binding, client, cmd.ErrOrStderr())
		},
	}
}
