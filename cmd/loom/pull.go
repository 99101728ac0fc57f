package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/loomnotes/loom/internal/orchestrator"
	loomsync "github.com/loomnotes/loom/internal/sync"
	"github.com/loomnotes/loom/internal/ui"
)

var pullCmd = &cobra.Command{
	Use:     "pull",
	GroupID: "sync",
	Short:   "Write remote projects into the local project tree",
	Long: `Fetch every remote project of the creator and write its items as local
files. An existing file is replaced only when the remote copy is newer and
differs; the project index is updated to list every pulled item.

Without --since, pull runs as a login sync through the orchestrator, so it is
recorded in the sync history and respects the cross-process lock.

--since accepts an RFC 3339 time, a date, a duration, or plain English:
  loom pull --since 2025-06-01
  loom pull --since 48h
  loom pull --since "last monday"`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runPull(cmd); err != nil {
			exit(err)
		}
	},
}

func init() {
	pullCmd.Flags().String("since", "", "Only pull items updated at or after this time")
	pullCmd.Flags().StringP("output", "o", outputText, "Output format: text, json or yaml")
	rootCmd.AddCommand(pullCmd)
}

func runPull(cmd *cobra.Command) error {
	output, _ := cmd.Flags().GetString("output")
	if err := validOutput(output); err != nil {
		return err
	}

	var since time.Time
	if value := mustString(cmd, "since"); value != "" {
		t, err := loomsync.ParseSince(value, time.Now())
		if err != nil {
			return err
		}
		since = t
		logger.Debug("pull since", "value", value, "since", since)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	syncer := loomsync.New(afero.NewOsFs(), store, syncOptions())

	if since.IsZero() {
		orch, history := newOrchestrator(syncer, nil)
		out := orch.ForceSync(ctx, orchestrator.TriggerLogin)
		compactHistory(history)
		if err := writeOutput(os.Stdout, output, out, func(s ui.Styles) string { return s.Outcome(out) }); err != nil {
			return err
		}
		if code := exitCode(out); code != 0 {
			return exitError{code: code}
		}
		return nil
	}

	result, err := syncer.Pull(ctx, session(), loomsync.PullOptions{Since: since})
	if err != nil {
		return err
	}
	if err := writeOutput(os.Stdout, output, result, func(s ui.Styles) string { return s.Pull(result) }); err != nil {
		return err
	}
	if result.Failed > 0 {
		return exitError{code: 2}
	}
	return nil
}
