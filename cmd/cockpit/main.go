package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e == nil || e.Err == nil {
		return "command failed"
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func main() {
	root := &cobra.Command{
		Use:           "cockpit",
		Short:         "Cockpit — ephemeral coding-agent sandboxes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
		RunE:          runCreate,
	}
	root.PersistentFlags().String("config", "", "path to config file (default ~/.config/cockpit/config.toml)")
	addCreateFlags(root)

	root.AddCommand(
		newVersionCmd(),
		newCreateCmd(),
		newAttachCmd(),
		newDestroyCmd(),
		newKeygenCmd(),
		newServeCmd(),
	)

	if err := root.Execute(); err != nil {
		var coded *exitError
		if errors.As(err, &coded) {
			if coded.Err != nil {
				_, _ = fmt.Fprintln(os.Stderr, coded.Err)
			}
			os.Exit(coded.Code)
		}
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print cockpit version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "cockpit %s (%s, %s)\n", version, commit, date)
			return err
		},
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("COCKPIT_DEBUG") != "" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
