package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/justinmoon/cockpit/internal/runner"
	"github.com/justinmoon/cockpit/internal/sshkey"
)

func newKeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate the cockpit-managed SSH key pair for SSH repo URLs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger := newLogger()
			mgr := &sshkey.Manager{Runner: &runner.ExecRunner{Logger: logger}}
			pair, err := mgr.Generate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "generated %s\n", pair.PrivatePath)
			fmt.Fprintf(cmd.OutOrStdout(), "add this public key to your git host:\n%s\n", pair.Public)
			return nil
		},
	}
}
