package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/vanutp/foxbuild/internal/process"
	"github.com/vanutp/foxbuild/internal/setup"
)

func init() {
	rootCmd.AddCommand(setupEnvCmd)
}

var setupEnvCmd = &cobra.Command{
	Use:   "setup-sandbox-env",
	Short: "Build the global Nix profile and prime the shared Nix cache",
	Long: `setup-sandbox-env builds the profile every sandbox binds read-only at
/profile and runs a throwaway sandbox to populate the shared Nix store cache.
It must be run once before always_use_sandbox (or any non-default image) is
exercised for the first time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		log := newLogger(false)
		cfg := loadConfigOrExit(log, false)
		log = newLogger(cfg.Debug)

		runner := process.NewExecRunner()
		if err := setup.SandboxEnv(context.Background(), cfg, runner, log); err != nil {
			log.Error("setup failed", "error", err)
			os.Exit(1)
		}
		return nil
	},
}
