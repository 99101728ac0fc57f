package main

import (
	"context"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/migrate"
	"github.com/loomnotes/loom/internal/ui"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	GroupID: "maint",
	Short:   "Rewrite legacy project files into the canonical layout",
	Long: `Rewrite legacy files in every project directory:

  - lore files using lore_type, content or "Field N Name/Content" get the
    canonical lore_kind, body and entryN_name/entryN_content fields
  - item files named chapter-3.json, chapter3.json, 3.json or after their
    public code are renamed to chapter_3.json
  - duplicate files of one item are merged into the canonical file, which
    wins field by field, and the duplicates are removed

Sync reads legacy files as they are, so migrating is optional.

Examples:
  loom migrate --dry-run    # Show what would change
  loom migrate --backup     # Copy every touched file to .loom-backup-<time>/`,
	Run: func(cmd *cobra.Command, args []string) {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		backup, _ := cmd.Flags().GetBool("backup")
		output, _ := cmd.Flags().GetString("output")
		if err := validOutput(output); err != nil {
			exit(err)
		}

		m := migrate.New(afero.NewOsFs(), logger.Logger)
		result, err := m.Migrate(context.Background(), migrate.Options{
			Root:   cfg.Local.Root,
			DryRun: dryRun,
			Backup: backup,
		})
		if err != nil {
			exit(err)
		}

		if err := writeOutput(os.Stdout, output, result, func(s ui.Styles) string { return s.Migration(result, dryRun) }); err != nil {
			exit(err)
		}
		if len(result.Errors) > 0 {
			exit(exitError{code: 2})
		}
	},
}

func init() {
	migrateCmd.Flags().Bool("dry-run", false, "Preview without writing")
	migrateCmd.Flags().Bool("backup", false, "Back up every file before changing it")
	migrateCmd.Flags().StringP("output", "o", outputText, "Output format: text, json or yaml")
	rootCmd.AddCommand(migrateCmd)
}
