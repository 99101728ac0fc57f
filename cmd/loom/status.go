package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/orchestrator"
	"github.com/loomnotes/loom/internal/ui"
)

var statusCmd = &cobra.Command{
	Use:     "status",
	GroupID: "sync",
	Short:   "Show recent sync history",
	Long: `Show the outcome of recent syncs, newest first, read from the history
file in the state directory.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runStatus(cmd); err != nil {
			exit(err)
		}
	},
}

func init() {
	statusCmd.Flags().IntP("limit", "n", 10, "Number of entries to show (0 for all)")
	statusCmd.Flags().StringP("output", "o", outputText, "Output format: text, json or yaml")
	rootCmd.AddCommand(statusCmd)
}

// statusView is the machine-readable status.
type statusView struct {
	Enabled   bool                        `json:"enabled" yaml:"enabled"`
	Root      string                      `json:"root" yaml:"root"`
	CreatorID int64                       `json:"creator_id" yaml:"creator_id"`
	History   []orchestrator.HistoryEntry `json:"history" yaml:"history"`
}

func runStatus(cmd *cobra.Command) error {
	limit, _ := cmd.Flags().GetInt("limit")
	output, _ := cmd.Flags().GetString("output")
	if err := validOutput(output); err != nil {
		return err
	}

	history := orchestrator.NewHistory(afero.NewOsFs(), cfg.Local.StateDir)
	entries, err := history.Load()
	if err != nil {
		return err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	view := statusView{
		Enabled:   cfg.Sync.Enabled,
		Root:      cfg.Local.Root,
		CreatorID: cfg.Session.CreatorID,
		History:   entries,
	}
	return writeOutput(os.Stdout, output, view, func(s ui.Styles) string {
		enabled := s.OK.Render("enabled")
		if !view.Enabled {
			enabled = s.Muted.Render("disabled")
		}
		session := s.Error.Render("logged out")
		if view.CreatorID > 0 {
			session = fmt.Sprintf("creator %d", view.CreatorID)
		}
		return fmt.Sprintf("%s %s  %s\n%s %s\n\n%s",
			s.Bold.Render("sync"), enabled, session,
			s.Muted.Render("root"), view.Root,
			s.History(entries))
	})
}
