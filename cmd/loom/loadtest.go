package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/loadtest"
	"github.com/loomnotes/loom/internal/remote"
	loomsync "github.com/loomnotes/loom/internal/sync"
	"github.com/loomnotes/loom/internal/ui"
)

var loadtestCmd = &cobra.Command{
	Use:     "loadtest",
	GroupID: "advanced",
	Short:   "Measure push latency on a generated project tree",
	Long: `Generate a synthetic project tree in memory, push it once to seed a
remote store, then edit a share of the items and push again for every
cycle, reporting the latency of each push.

The store is a throwaway SQLite database unless --target names another
one. Never point --target at a store holding real projects: the generated
projects are written to it.

Examples:
  loom loadtest
  loom loadtest --projects 20 --items 100 --cycles 25
  loom loadtest --target postgres://localhost/loom_bench`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runLoadTest(cmd); err != nil {
			exit(err)
		}
	},
}

func init() {
	d := loadtest.DefaultWorkload()
	loadtestCmd.Flags().Int("projects", d.Projects, "Number of projects to generate")
	loadtestCmd.Flags().Int("items", d.ItemsPerKind, "Items of each kind per project")
	loadtestCmd.Flags().Int("cycles", d.Cycles, "Measured push cycles")
	loadtestCmd.Flags().Float64("edit-ratio", d.EditRatio, "Share of items edited before each cycle")
	loadtestCmd.Flags().Int64("seed", d.Seed, "Random seed for picking edited items")
	loadtestCmd.Flags().String("target", "", "Remote DSN to load (default: a temporary SQLite file)")
	loadtestCmd.Flags().StringP("output", "o", outputText, "Output format: text, json or yaml")
	rootCmd.AddCommand(loadtestCmd)
}

func runLoadTest(cmd *cobra.Command) error {
	output, _ := cmd.Flags().GetString("output")
	if err := validOutput(output); err != nil {
		return err
	}

	w := loadtest.DefaultWorkload()
	w.Projects, _ = cmd.Flags().GetInt("projects")
	w.ItemsPerKind, _ = cmd.Flags().GetInt("items")
	w.Cycles, _ = cmd.Flags().GetInt("cycles")
	w.EditRatio, _ = cmd.Flags().GetFloat64("edit-ratio")
	w.Seed, _ = cmd.Flags().GetInt64("seed")
	if cfg.Session.CreatorID > 0 {
		w.CreatorID = cfg.Session.CreatorID
	}

	target, _ := cmd.Flags().GetString("target")
	if target == "" {
		dir, err := os.MkdirTemp("", "loom-loadtest-")
		if err != nil {
			return fmt.Errorf("failed to create temp dir: %w", err)
		}
		defer func() { _ = os.RemoveAll(dir) }()
		target = filepath.Join(dir, "remote.db")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := remote.Open(ctx, target, remote.WithLogger(logger.Logger))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	if err := store.InitSchema(ctx); err != nil {
		return err
	}

	runner := loadtest.New(afero.NewMemMapFs(), "/projects", store, loomsync.Options{Logger: logger.Logger})
	res, err := runner.Run(ctx, w)
	if err != nil {
		return err
	}

	if err := writeOutput(os.Stdout, output, res, func(s ui.Styles) string { return s.LoadTest(res) }); err != nil {
		return err
	}
	if res.Failures > 0 || res.Edits != res.Updated {
		return exitError{code: 2}
	}
	return nil
}
