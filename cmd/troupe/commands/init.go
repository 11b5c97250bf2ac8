package commands

import (
	"fmt"

	"github.com/dyluth/troupe/internal/scaffold"
	"github.com/spf13/cobra"
)

var (
	forceInit bool
)

var initCmd = &cobra.Command{
	Use:   "init [DIR]",
	Short: "Create a starter stage",
	Long: `Create a starter stage with an example cast and script.

Creates:
  • stage.yml - Session configuration (actors, script, persistence)
  • actors/narrator.sh - Example command actor demonstrating the turn contract
  • actors/README.md - The command actor contract

DIR defaults to the current directory.

Use --force to reinitialize an existing stage (WARNING: destroys existing configuration).`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&forceInit, "force", false, "Force reinitialization (removes existing stage.yml and actors/)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) == 1 {
		dir = args[0]
	}

	// Check for existing files (unless --force)
	if !forceInit {
		if err := scaffold.CheckExisting(dir); err != nil {
			return err
		}
	}

	if err := scaffold.Initialize(dir, forceInit); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	scaffold.PrintSuccess()

	return nil
}
