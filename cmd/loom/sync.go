package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/orchestrator"
	loomsync "github.com/loomnotes/loom/internal/sync"
	"github.com/loomnotes/loom/internal/ui"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	GroupID: "sync",
	Short:   "Push local projects to the remote store",
	Long: `Reconcile the remote store with the local project tree.

A sync runs four passes:
  1. Upsert every local project
  2. Upsert the chapters, notes, references, lore and timeline of each project
  3. Verify remote counts against local counts (when anything was written)
  4. Delete remote projects that no longer exist locally, children first

The deletion pass is skipped when a project directory could not be read, and
when no local project exists at all unless --allow-empty-delete is given.
Remote children without a local file are kept unless --prune-children is set.

Examples:
  loom sync                      # Push, unless the last sync was too recent
  loom sync --force              # Ignore the minimum interval
  loom sync --dry-run -o json    # Show what would change, as JSON`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runSync(cmd); err != nil {
			exit(err)
		}
	},
}

func init() {
	syncCmd.Flags().Bool("dry-run", false, "Look up everything, write nothing")
	syncCmd.Flags().Bool("force", false, "Ignore the minimum interval between syncs")
	syncCmd.Flags().Bool("allow-empty-delete", false, "Let an empty project root delete every remote project")
	syncCmd.Flags().Bool("prune-children", false, "Delete remote children whose local file is gone")
	syncCmd.Flags().Bool("yes", false, "Do not ask before an empty-root deletion")
	syncCmd.Flags().String("trigger", string(orchestrator.TriggerExplicit), "Trigger recorded for this sync: explicit, logout or periodic")
	syncCmd.Flags().StringP("output", "o", outputText, "Output format: text, json or yaml")

	bindLocal(syncCmd, "sync.dry_run", "dry-run")
	bindLocal(syncCmd, "sync.allow_empty_delete", "allow-empty-delete")
	bindLocal(syncCmd, "sync.prune_children", "prune-children")

	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command) error {
	force, _ := cmd.Flags().GetBool("force")
	yes, _ := cmd.Flags().GetBool("yes")
	output, _ := cmd.Flags().GetString("output")
	trigger := orchestrator.ParseTrigger(mustString(cmd, "trigger"))
	if err := validOutput(output); err != nil {
		return err
	}
	if trigger == orchestrator.TriggerLogin {
		return errors.New("use 'loom pull' for a login sync")
	}

	if cfg.Sync.AllowEmptyDelete && !cfg.Sync.DryRun && !yes {
		if err := confirmEmptyDelete(); err != nil {
			return err
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer := loomsync.New(afero.NewOsFs(), store, syncOptions())
	orch, history := newOrchestrator(syncer, nil)

	var out orchestrator.Outcome
	if force {
		out = orch.ForceSync(ctx, trigger)
	} else {
		out = orch.RequestSync(ctx, trigger)
	}
	compactHistory(history)

	if err := writeOutput(os.Stdout, output, out, func(s ui.Styles) string { return s.Outcome(out) }); err != nil {
		return err
	}
	if code := exitCode(out); code != 0 {
		return exitError{code: code}
	}
	return nil
}

// confirmEmptyDelete asks before a sync that would delete every remote
// project because the local root is empty.
func confirmEmptyDelete() error {
	snaps, errs := collect.New(afero.NewOsFs(), logger.Logger).CollectAll(cfg.Local.Root)
	if len(snaps) > 0 || len(errs) > 0 {
		return nil
	}
	ok, err := confirm(
		"Delete every remote project?",
		fmt.Sprintf("%s holds no project, and --allow-empty-delete is set. Every remote project of creator %d will be deleted.",
			cfg.Local.Root, cfg.Session.CreatorID),
	)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("aborted: rerun with --yes to delete without a terminal")
	}
	return nil
}

func mustString(cmd *cobra.Command, name string) string {
	s, _ := cmd.Flags().GetString(name)
	return s
}
