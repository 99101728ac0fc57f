package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/schema"
)

var schemaCmd = &cobra.Command{
	Use:     "schema <kind>",
	GroupID: "advanced",
	Short:   "Print the JSON Schema of an item file",
	Long: `Print the JSON Schema of the on-disk file of one kind: project, chapter,
note, reference, lore or timeline. Editors can use it to validate files.

Example:
  loom schema chapter > chapter.schema.json`,
	Args:        cobra.ExactArgs(1),
	Annotations: map[string]string{"skipConfig": "true"},
	Run: func(cmd *cobra.Command, args []string) {
		kind, err := schema.ParseKind(args[0])
		if err != nil {
			exit(err)
		}
		data, err := json.MarshalIndent(mapper.JSONSchema(kind), "", "  ")
		if err != nil {
			exit(fmt.Errorf("failed to marshal schema: %w", err))
		}
		fmt.Fprintln(os.Stdout, string(data))
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
}
