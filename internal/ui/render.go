package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/loomnotes/loom/internal/loadtest"
	"github.com/loomnotes/loom/internal/migrate"
	"github.com/loomnotes/loom/internal/orchestrator"
	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/schema"
	loomsync "github.com/loomnotes/loom/internal/sync"
)

// Status renders a status word in its color.
func (s Styles) Status(status orchestrator.Status) string {
	word := string(status)
	switch status {
	case orchestrator.StatusOK:
		return s.OK.Render(word)
	case orchestrator.StatusPartial, orchestrator.StatusTooSoon, orchestrator.StatusInFlight:
		return s.Warn.Render(word)
	case orchestrator.StatusFailed, orchestrator.StatusNoSession:
		return s.Error.Render(word)
	default:
		return s.Muted.Render(word)
	}
}

// Report renders a push report: per-kind counts, failures and conflicts.
func (s Styles) Report(r *reconcile.Report) string {
	var sb strings.Builder

	title := "Sync report"
	if r.DryRun {
		title += " (dry run)"
	}
	sb.WriteString(s.Title.Render(title))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%s %s  %s %d  %s %d\n",
		s.Muted.Render("run"), r.RunID,
		s.Muted.Render("creator"), r.CreatorID,
		s.Muted.Render("projects"), r.Projects)

	t := &Table{Headers: []string{"kind", "inserted", "updated", "unchanged", "deleted", "errors", "skipped"}}
	for _, kind := range r.Kinds() {
		c := r.Counts[kind]
		t.AddRow(string(kind), itoa(c.Inserted), itoa(c.Updated), itoa(c.Unchanged), itoa(c.Deleted), itoa(c.Errors), itoa(c.Skipped))
	}
	if view := t.View(s); view != "" {
		sb.WriteString("\n")
		sb.WriteString(view)
	} else {
		sb.WriteString(s.Muted.Render("nothing to sync"))
		sb.WriteString("\n")
	}

	if r.CodesAssigned > 0 {
		fmt.Fprintf(&sb, "\n%d public codes assigned\n", r.CodesAssigned)
	}
	if r.DeletionSkipped != "" {
		fmt.Fprintf(&sb, "\n%s %s\n", s.Warn.Render("deletion skipped:"), r.DeletionSkipped)
	}
	if r.CollectionErrors > 0 {
		fmt.Fprintf(&sb, "%s %d project(s) could not be read\n", s.Warn.Render("collection errors:"), r.CollectionErrors)
	}

	if len(r.Failures) > 0 {
		sb.WriteString("\n")
		sb.WriteString(s.Error.Render(fmt.Sprintf("%d write failure(s)", len(r.Failures))))
		sb.WriteString("\n")
		for _, f := range r.Failures {
			fmt.Fprintf(&sb, "  %s\n", f.Error())
		}
	}
	if len(r.Conflicts) > 0 {
		sb.WriteString("\n")
		sb.WriteString(s.Warn.Render(fmt.Sprintf("%d verification mismatch(es)", len(r.Conflicts))))
		sb.WriteString("\n")
		for _, c := range r.Conflicts {
			fmt.Fprintf(&sb, "  %s\n", c.String())
		}
	}
	return sb.String()
}

// Pull renders a pull result.
func (s Styles) Pull(r *loomsync.PullResult) string {
	var sb strings.Builder
	sb.WriteString(s.Title.Render("Pull"))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%d project(s), %d file(s) written, %d kept", r.Projects, r.FilesWritten, r.Kept)
	if r.Failed > 0 {
		fmt.Fprintf(&sb, ", %s", s.Error.Render(fmt.Sprintf("%d failed", r.Failed)))
	}
	sb.WriteString("\n")

	kinds := make([]schema.Kind, 0, len(r.Counts))
	for k := range r.Counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	for _, k := range kinds {
		fmt.Fprintf(&sb, "  %-10s %d\n", k, r.Counts[k])
	}
	if r.NeedsReload() {
		sb.WriteString(s.Muted.Render("local files changed; reload open projects"))
		sb.WriteString("\n")
	}
	return sb.String()
}

// Outcome renders the result of one sync request.
func (s Styles) Outcome(o orchestrator.Outcome) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s", s.Bold.Render("sync"), s.Status(o.Status))
	if o.Status.Ran() {
		fmt.Fprintf(&sb, " %s", s.Muted.Render(fmt.Sprintf("(%s, %s)", o.Trigger, o.Duration.Round(time.Millisecond))))
	}
	if o.RetryIn > 0 {
		fmt.Fprintf(&sb, " %s", s.Muted.Render("retry in "+o.RetryIn.Round(time.Second).String()))
	}
	sb.WriteString("\n")
	if o.Err != "" {
		fmt.Fprintf(&sb, "%s %s\n", s.Error.Render("error:"), o.Err)
	}
	if o.Report != nil {
		sb.WriteString("\n")
		sb.WriteString(s.Report(o.Report))
	}
	if o.Pull != nil {
		sb.WriteString("\n")
		sb.WriteString(s.Pull(o.Pull))
	}
	return sb.String()
}

// History renders past cycles, newest first.
func (s Styles) History(entries []orchestrator.HistoryEntry) string {
	if len(entries) == 0 {
		return s.Muted.Render("no sync has run yet") + "\n"
	}
	t := &Table{Headers: []string{"started", "trigger", "status", "writes", "failures", "conflicts", "duration"}}
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		t.AddRow(
			e.StartedAt.Local().Format("2006-01-02 15:04:05"),
			string(e.Trigger),
			string(e.Status),
			itoa(e.Totals.Writes()+e.Written),
			itoa(e.Failures),
			itoa(e.Conflicts),
			e.Duration.Round(time.Millisecond).String(),
		)
	}
	return t.View(s)
}

// Migration renders a migration result.
func (s Styles) Migration(r *migrate.Result, dryRun bool) string {
	var sb strings.Builder
	title := "Migration"
	if dryRun {
		title += " (dry run)"
	}
	sb.WriteString(s.Title.Render(title))
	sb.WriteString("\n")
	if !r.Changed() {
		fmt.Fprintf(&sb, "%d project(s) already canonical\n", r.Projects)
	} else {
		fmt.Fprintf(&sb, "%d project(s): %d canonicalized, %d renamed, %d merged\n",
			r.Projects, r.Canonicalized, r.Renamed, r.Merged)
		if !dryRun {
			fmt.Fprintf(&sb, "%d file(s) written, %d removed\n", r.FilesWritten, r.FilesRemoved)
		}
	}
	if r.BackupCreated != "" {
		fmt.Fprintf(&sb, "%s %s\n", s.Muted.Render("backup:"), r.BackupCreated)
	}
	for _, e := range r.Errors {
		fmt.Fprintf(&sb, "%s %s\n", s.Error.Render("error:"), e)
	}
	return sb.String()
}

// LoadTest renders a load test result.
func (s Styles) LoadTest(r *loadtest.Result) string {
	var sb strings.Builder
	sb.WriteString(s.Title.Render("Load test"))
	sb.WriteString("\n")
	w := r.Workload
	fmt.Fprintf(&sb, "%d project(s), %d item(s) each kind, %d file(s)\n", w.Projects, w.ItemsPerKind, w.Items())
	fmt.Fprintf(&sb, "%s %d inserted in %s\n", s.Muted.Render("seed"), r.Seed.Totals().Inserted, r.SeedLatency.Round(time.Millisecond))

	if r.Stats != nil {
		t := &Table{Headers: []string{"cycles", "min", "p50", "mean", "p95", "p99", "max"}}
		st := r.Stats
		t.AddRow(itoa(st.Cycles), ms(st.Min), ms(st.P50), ms(st.Mean), ms(st.P95), ms(st.P99), ms(st.Max))
		sb.WriteString("\n")
		sb.WriteString(t.View(s))
		fmt.Fprintf(&sb, "\n%d edit(s), %d update(s)\n", r.Edits, r.Updated)
	}
	if r.Edits != r.Updated {
		fmt.Fprintf(&sb, "%s %d edit(s) did not reach the store\n", s.Warn.Render("warning:"), r.Edits-r.Updated)
	}
	if r.Failures > 0 {
		fmt.Fprintf(&sb, "%s %d write failure(s)\n", s.Error.Render("error:"), r.Failures)
	}
	return sb.String()
}

func ms(d time.Duration) string {
	return d.Round(10 * time.Microsecond).String()
}

func itoa(n int) string {
	return strconv.Itoa(n)
}
