package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "foxbuild",
	Short: "foxbuild runs sandboxed CI workflows for GitHub repositories",
	Long: `foxbuild reads a foxfile.yml from a repository and runs the stages it
defines inside reproducible Nix-provisioned sandboxes, reporting results back
as GitHub check runs. Without a subcommand it runs the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

// Execute runs the selected subcommand and exits the process on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
