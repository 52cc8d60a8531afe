package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/vanutp/foxbuild/internal/engine"
	"github.com/vanutp/foxbuild/internal/foxfile"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run [dir]",
	Short: "Run every workflow in a repository's foxfile.yml against the local checkout",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}
		return runLocal(dir)
	},
}

func runLocal(dir string) error {
	log := newLogger(false)
	cfg := loadConfigOrExit(log, false)
	log = newLogger(cfg.Debug)
	deps := buildDeps(cfg, log)

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(filepath.Join(absDir, "foxfile.yml"))
	if err != nil {
		return fmt.Errorf("reading foxfile.yml: %w", err)
	}
	ff, err := foxfile.Parse(data)
	if err != nil {
		return fmt.Errorf("parsing foxfile.yml: %w", err)
	}

	orch := engine.NewOrchestrator(deps)
	result, err := orch.RunLocal(context.Background(), absDir, ff)
	if err != nil {
		printResult(result)
		return fmt.Errorf("run aborted: %w", err)
	}

	ok := printResult(result)
	if !ok {
		os.Exit(1)
	}
	return nil
}

func printResult(result *engine.RunResult) bool {
	if result == nil {
		return false
	}
	ok := true
	for name, wf := range result.Workflows {
		if wf == nil {
			fmt.Printf("== %s: aborted ==\n", name)
			ok = false
			continue
		}
		for stageName, stage := range wf.Stages {
			if stage == nil {
				fmt.Printf("-- %s / %s: aborted --\n", name, stageName)
				ok = false
				continue
			}
			status := "ok"
			if stage.ExitCode != 0 {
				status = "failed"
				ok = false
			}
			fmt.Printf("-- %s / %s: exit %d (%s) --\n%s%s\n", name, stageName, stage.ExitCode, status, stage.Stdout, stage.Stderr)
		}
	}
	return ok
}
