package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/justinmoon/cockpit/internal/agent"
	"github.com/justinmoon/cockpit/internal/config"
	"github.com/justinmoon/cockpit/internal/web"
	"github.com/justinmoon/cockpit/internal/web/bridge"
	"github.com/justinmoon/cockpit/internal/web/registry"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web server (sprite registry API and agent WebSocket bridge)",
		RunE:  runServe,
	}
	cmd.Flags().String("listen", "", "listen address (or "+config.EnvListen+")")
	cmd.Flags().String("db", "", "registry database path (or "+config.EnvDBPath+")")
	cmd.Flags().Duration("reap-idle", 0, "dispose sessions detached longer than this (0 disables)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if v, _ := cmd.Flags().GetString("listen"); v != "" {
		cfg.Listen = v
	}
	if v, _ := cmd.Flags().GetString("db"); v != "" {
		cfg.DBPath = v
	}
	reapIdle, _ := cmd.Flags().GetDuration("reap-idle")

	logger := newLogger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := registry.Open(ctx, cfg.DBPath)
	if err != nil {
		return err
	}
	defer store.Close()

	br := bridge.New(
		&agent.ClaudeFactory{Logger: logger},
		func(ctx context.Context, id string) (string, error) {
			sp, err := store.Get(ctx, id)
			if err != nil {
				return "", err
			}
			return sp.CWD, nil
		},
		store.SetStatus,
		logger,
	)

	if reapIdle > 0 {
		go func() {
			ticker := time.NewTicker(reapIdle / 2)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					if reaped := br.ReapIdle(reapIdle); len(reaped) > 0 {
						logger.Info("reaped idle sessions", "sprites", reaped)
					}
				}
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           web.NewServer(store, br, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen, "db", cfg.DBPath)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}
