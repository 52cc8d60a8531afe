package main

import (
	"log/slog"
	"os"

	"github.com/vanutp/foxbuild/internal/checkout"
	"github.com/vanutp/foxbuild/internal/config"
	"github.com/vanutp/foxbuild/internal/engine"
	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/profilecache"
	"github.com/vanutp/foxbuild/pkg/logger"
)

// loadConfigOrExit loads configuration, exiting the process on failure since
// there's no sensible way to run any subcommand without it.
func loadConfigOrExit(log *logger.Logger, isServerCmd bool) *config.Config {
	cfg, err := config.Load(isServerCmd)
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	return cfg
}

// newLogger builds the process-wide logger, honoring cfg.Debug if cfg is
// already available: debug level with text output when debug is set, info
// level with JSON output otherwise.
func newLogger(debug bool) *logger.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	return logger.New(level, !debug)
}

// buildDeps wires the shared collaborators every engine run needs.
func buildDeps(cfg *config.Config, log *logger.Logger) *engine.Deps {
	runner := process.NewExecRunner()
	return &engine.Deps{
		Config:       cfg,
		Runner:       runner,
		Checkout:     checkout.New(cfg.ReposDir, runner),
		ProfileCache: profilecache.New(cfg.ProfilesDir, cfg.EmptyDir, runner),
		Logger:       log,
	}
}
