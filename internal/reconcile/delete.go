package reconcile

import (
	"log/slog"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/schema"
)

// verify compares remote child counts with the collected counts of one
// project and records every mismatch as a conflict.
func (c *cycle) verify(snap *collect.Snapshot, parentID string, log *slog.Logger) error {
	for i, kind := range schema.ChildKinds {
		c.progress(PhaseVerify, i+1, len(schema.ChildKinds), string(kind))

		remoteCount, err := c.store.CountChildren(c.ctx, kind, parentID)
		if err != nil {
			log.Error("lookup failed", "op", "count", "kind", kind, "error", err)
			return err
		}
		localCount := len(snap.Kind(kind))
		if remoteCount == localCount {
			continue
		}

		conflict := Conflict{Project: parentID, Kind: kind, Local: localCount, Remote: remoteCount}
		c.report.Conflicts = append(c.report.Conflicts, conflict)
		log.Warn("verification mismatch", "kind", kind, "local", localCount, "remote", remoteCount)
	}
	return nil
}

// deletionPass deletes remote projects of the creator that were not
// collected locally, each with all of its children.
func (c *cycle) deletionPass(in Input) error {
	var reason string
	switch {
	case len(in.CollectErrors) > 0:
		reason = "some projects failed to collect"
	case len(in.Snapshots) == 0 && !c.opts.AllowEmptyDelete:
		reason = "no local projects"
	}
	if reason != "" {
		c.report.DeletionSkipped = reason
		c.log.Info("deletion pass skipped", "reason", reason)
		return nil
	}

	ids, err := c.store.ProjectIDsForCreator(c.ctx, c.creator)
	if err != nil {
		c.log.Error("lookup failed", "op", "project ids", "error", err)
		return err
	}

	var stale []string
	for _, id := range ids {
		if !c.known[id] {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if len(in.Snapshots) == 0 {
		c.log.Warn("deleting every remote project: no local projects and override set", "count", len(stale))
	}

	for i, id := range stale {
		c.progress(PhaseDelete, i+1, len(stale), id)
		if err := c.deleteProject(id); err != nil {
			return err
		}
	}
	return nil
}

// deleteProject removes every child row of project id, kind by kind, then
// the project row. The project is kept when a child deletion fails so no
// child is orphaned.
func (c *cycle) deleteProject(id string) error {
	log := c.log.With("project_id", id)

	for _, kind := range schema.ChildKinds {
		if c.opts.DryRun {
			n, err := c.store.CountChildren(c.ctx, kind, id)
			if err != nil {
				log.Error("lookup failed", "op", "count", "kind", kind, "error", err)
				return err
			}
			if n > 0 {
				log.Info("would delete children", "op", "delete", "kind", kind, "count", n)
				c.report.bump(kind, func(counts *Counts) { counts.Deleted += n })
			}
			continue
		}

		n, err := c.store.DeleteChildren(c.ctx, kind, id)
		if err != nil {
			log.Error("write failed", "op", "delete children", "kind", kind, "error", err)
			c.report.fail(WriteFailure{Kind: kind, ID: id, Project: id, Op: "delete children", Err: err.Error()})
			return nil
		}
		if n > 0 {
			log.Info("deleted children", "kind", kind, "count", n)
			c.report.bump(kind, func(counts *Counts) { counts.Deleted += int(n) })
		}
	}

	if c.opts.DryRun {
		log.Info("would delete project", "op", "delete")
		c.report.bump(schema.KindProject, func(counts *Counts) { counts.Deleted++ })
		return nil
	}
	if err := c.store.Delete(c.ctx, schema.KindProject, id); err != nil {
		log.Error("write failed", "op", "delete", "error", err)
		c.report.fail(WriteFailure{Kind: schema.KindProject, ID: id, Project: id, Op: "delete", Err: err.Error()})
		return nil
	}
	log.Info("deleted project without local directory")
	c.report.bump(schema.KindProject, func(counts *Counts) { counts.Deleted++ })
	return nil
}
