package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/troupe/internal/collab"
	"github.com/dyluth/troupe/internal/config"
	"github.com/dyluth/troupe/internal/stage"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate [stage.yml]",
	Short: "Check a stage configuration without running it",
	Long: `Validate a stage.yml: required fields, scene references, stage rules
and collaborator settings. Prints a summary of the performance on success.

Examples:
  troupe validate
  troupe validate performances/bus-stop.yml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := "stage.yml"
	if len(args) > 0 {
		path = args[0]
	}

	cfg, err := loadStageConfig(path)
	if err != nil {
		return err
	}
	if err := checkStageRules(cfg); err != nil {
		return configFailure(path, err)
	}
	if _, err := collab.FromConfig(cfg); err != nil {
		return configFailure(path, err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ %s is valid\n\n", path)
	fmt.Fprintf(out, "  Title:       %s\n", valueOr(cfg.Title, "(untitled)"))
	fmt.Fprintf(out, "  Stage rule:  %s\n", cfg.StageRule)
	fmt.Fprintf(out, "  Actors:      %s\n", strings.Join(cfg.Roster(), ", "))
	fmt.Fprintf(out, "  Director:    %s\n", directorKind(cfg))
	fmt.Fprintf(out, "  Persistence: %s\n", persistenceKind(cfg))
	fmt.Fprintf(out, "  Scenes:\n")
	for _, scene := range cfg.Script {
		fmt.Fprintf(out, "    %-12s %-28s max %d turns, %s\n",
			scene.ID, valueOr(scene.Title, "-"), scene.MaxTurns, strings.Join(scene.Actors, ", "))
	}
	return nil
}

func checkStageRules(cfg *config.SessionConfig) error {
	if _, ok := stage.LookupStageRule(cfg.StageRule); !ok {
		return config.NewConfigError("stage_rule", "unknown stage rule '%s' (known: %s)",
			cfg.StageRule, strings.Join(stage.StageRuleTags(), ", "))
	}
	for i, scene := range cfg.Script {
		if _, ok := stage.LookupStageRule(scene.StageRule); !ok {
			return config.NewConfigError(fmt.Sprintf("script[%d].stage_rule", i), "unknown stage rule '%s'", scene.StageRule)
		}
	}
	return nil
}

func directorKind(cfg *config.SessionConfig) string {
	if cfg.Director == nil || cfg.Director.Kind == config.DirectorNone {
		return "none (scenes run as written)"
	}
	return fmt.Sprintf("%s %s", cfg.Director.Kind, strings.Join(cfg.Director.Command, " "))
}

func persistenceKind(cfg *config.SessionConfig) string {
	p := cfg.Persistence
	if p == nil {
		return config.PersistenceNone
	}
	switch p.Kind {
	case config.PersistenceRedis:
		return fmt.Sprintf("redis %s (namespace %s)", p.RedisURL, p.Namespace)
	case config.PersistenceSQLite:
		return "sqlite " + p.SQLitePath
	}
	return p.Kind
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
