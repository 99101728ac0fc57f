// Package sync connects the local project tree to the remote store in both
// directions.
//
// # Overview
//
// Push collects every project under the session's project root and hands the
// snapshots to the reconciliation engine, which makes the remote store mirror
// them. Pull reads the creator's remote projects and writes them back as
// item files and project indexes.
//
//	<root>/<project>/project.json       → index (project + entries)
//	<root>/<project>/chapters/*.json    → chapter items
//	<root>/<project>/notes/*.json       → note items
//	<root>/<project>/refs/*.json        → reference items
//	<root>/<project>/lore/*.json        → lore items
//	<root>/<project>/timeline.json      → timeline
//	                   ↓ Push     ↑ Pull
//	             remote store (projects, chapters, notes, refs, lore, timelines)
//
// Usage
//
//	store, err := remote.Open(ctx, "file:loom.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	syncer := sync.New(afero.NewOsFs(), store, sync.Options{})
//	report, err := syncer.Push(ctx, reconcile.Session{CreatorID: 1, ProjectRoot: "projects"}, sync.PushOptions{})
//
// # Error Handling
//
// Both directions are resilient to individual failures:
//
//   - a project that fails to collect is reported and skipped, and disables
//     the remote deletion pass for that cycle;
//   - a failed remote write is recorded in the report and the pass continues;
//   - a failed remote lookup stops the cycle and is returned to the caller;
//   - during Pull, an item file that cannot be written is logged and counted.
//
// Codes assigned during Push are written back into the item files and the
// project index by FileCodeWriter.
package sync
