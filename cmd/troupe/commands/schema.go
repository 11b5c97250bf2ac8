package commands

import (
	"fmt"
	"strings"

	"github.com/dyluth/troupe/internal/collab"
	"github.com/dyluth/troupe/internal/printer"
	"github.com/spf13/cobra"
)

var schemaCmd = &cobra.Command{
	Use:   "schema [KIND]",
	Short: "Print JSON schemas of the collaborator contracts",
	Long: `Print the JSON schema of a wire contract. Command actors and directors
read the request schema on stdin and answer with the response schema on stdout.

Without KIND the available kinds are listed.

Examples:
  troupe schema
  troupe schema actor-request
  troupe schema session > session.schema.json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runSchema,
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}

func runSchema(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	if len(args) == 0 {
		fmt.Fprintln(out, "Available schemas:")
		for _, kind := range collab.SchemaKinds() {
			fmt.Fprintf(out, "  %s\n", kind)
		}
		return nil
	}

	data, err := collab.Schema(args[0])
	if err != nil {
		return printer.Error(
			fmt.Sprintf("unknown schema '%s'", args[0]),
			err.Error(),
			[]string{"Valid kinds: " + strings.Join(collab.SchemaKinds(), ", ")},
		)
	}
	fmt.Fprintln(out, string(data))
	return nil
}
