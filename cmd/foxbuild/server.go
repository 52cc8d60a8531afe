package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanutp/foxbuild/internal/ghapp"
	"github.com/vanutp/foxbuild/internal/shutdown"
	"github.com/vanutp/foxbuild/internal/webhook"
)

func init() {
	rootCmd.AddCommand(serverCmd)
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Serve the GitHub App webhook listener (standalone mode)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func runServer() error {
	log := newLogger(false)
	cfg := loadConfigOrExit(log, true)
	log = newLogger(cfg.Debug)

	if cfg.GHAppID == 0 || cfg.GHKey == nil {
		log.Error("gh_app_id and gh_key must be configured for server mode")
		os.Exit(1)
	}

	deps := buildDeps(cfg, log)
	app := ghapp.New(cfg.GHAppID, cfg.GHKey)
	server := webhook.NewServer(cfg, deps, app, log)

	coordinator := shutdown.NewCoordinator(
		shutdown.WithTimeout(cfg.ShutdownTimeout),
		shutdown.WithLogger(log.Logger),
	)
	coordinator.Register(shutdown.NewFuncComponent("webhook-server", server.Shutdown))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(context.Background())
	}()

	go func() {
		if err := <-errCh; err != nil {
			log.Error("webhook server error", "error", err)
			coordinator.Shutdown()
		}
	}()

	coordinator.WaitForSignal()
	coordinator.Wait()

	log.Info("server shutdown complete")
	if coordinator.ExitCode() != 0 {
		os.Exit(coordinator.ExitCode())
	}
	return nil
}
