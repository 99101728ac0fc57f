package reconcile

import (
	"errors"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/schema"
)

// result is the outcome of one upsert.
type result int

const (
	resultInserted result = iota
	resultUpdated
	resultUnchanged
	resultInsertFailed
	resultUpdateFailed
	resultRefused
)

// rowExists reports whether the remote row is known to exist (or, in
// dry-run mode, would exist) after the upsert.
func (r result) rowExists() bool {
	return r != resultInsertFailed && r != resultRefused
}

// syncProject runs the project pass, child pass and verification pass for
// one collected project.
func (c *cycle) syncProject(snap *collect.Snapshot) error {
	log := c.log.With("project", snap.Path)
	rec := snap.Project.Clone()

	localID, ok := rec.LocalID()
	if !ok || localID <= 0 {
		log.Warn("skipping project without local id")
		c.report.bump(schema.KindProject, func(n *Counts) { n.Skipped++ })
		if code := rec.Code(); code != "" {
			c.known[code] = true
		}
		c.skipChildren(snap, "project has no local id")
		return nil
	}

	if owner, ok := rec.Int("creator_id"); ok && owner > 0 && owner != c.creator && owner != c.sessionCreator {
		if code := rec.Code(); code != "" {
			c.known[code] = true
		}
		c.report.fail(WriteFailure{
			Kind: schema.KindProject, ID: rec.Code(), LocalID: localID, Project: snap.Path,
			Op: "ownership", Err: "project belongs to another creator",
		})
		log.Warn("skipping project owned by another creator", "owner", owner)
		c.skipChildren(snap, "project owned by another creator")
		return nil
	}

	code, assigned, err := c.assignCode(schema.KindProject, rec, c.creator, schema.Row{"creator_id": c.creator})
	if err != nil {
		return err
	}
	if code == "" {
		c.report.fail(WriteFailure{
			Kind: schema.KindProject, LocalID: localID, Project: snap.Path,
			Op: "assign code", Err: mapper.ErrNoFreeCode.Error(),
		})
		c.skipChildren(snap, "no free public code")
		return nil
	}
	rec["creator_id"] = c.creator
	row := c.mapper.ToRemoteRow(schema.KindProject, rec)

	// Tracked before the write so a failed insert never marks the remote
	// project for deletion.
	c.known[code] = true
	writesBefore := c.report.Totals().Writes()

	rowID, res, err := c.upsert(schema.KindProject, code, localID, row, remote.Scope{CreatorID: c.creator}, snap.Path)
	if err != nil {
		return err
	}
	if rowID != "" {
		c.known[rowID] = true
	}
	if assigned && !c.opts.DryRun && res.rowExists() && rowID == code {
		c.persistCode(snap.Path, collect.Item{Kind: schema.KindProject, Record: rec, Path: schema.IndexPath(snap.Path)}, code)
	}
	if !res.rowExists() {
		c.skipChildren(snap, "project upsert failed")
		return nil
	}

	parentID := rowID
	projectLog := log.With("project_id", parentID)
	for _, kind := range schema.ChildKinds {
		if err := c.childPass(snap, kind, localID, parentID); err != nil {
			return err
		}
	}

	if c.opts.DryRun || c.report.Totals().Writes() == writesBefore {
		return nil
	}
	return c.verify(snap, parentID, projectLog)
}

// childPass upserts every collected item of one kind, strictly in order.
func (c *cycle) childPass(snap *collect.Snapshot, kind schema.Kind, projectLocalID int64, parentID string) error {
	items := snap.Kind(kind)
	seen := make(map[string]bool, len(items))
	complete := snap.Counts[kind].Skipped == 0

	for i, item := range items {
		c.progress(PhaseChildren, i+1, len(items), string(kind)+" "+item.Path)

		rec := item.Record.Clone()
		localID, ok := rec.LocalID()
		if !ok || localID <= 0 {
			c.log.Warn("skipping item without local id", "kind", kind, "path", item.Path)
			c.report.bump(kind, func(n *Counts) { n.Skipped++ })
			complete = false
			continue
		}

		owner := schema.Row{"creator_id": c.creator, "project_id": parentID}
		code, assigned, err := c.assignCode(kind, rec, projectLocalID, owner)
		if err != nil {
			return err
		}
		if code == "" {
			c.report.fail(WriteFailure{
				Kind: kind, LocalID: localID, Project: parentID,
				Op: "assign code", Err: mapper.ErrNoFreeCode.Error(),
			})
			complete = false
			continue
		}
		rec["project_id"] = parentID
		rec["creator_id"] = c.creator
		row := c.mapper.ToRemoteRow(kind, rec)

		rowID, res, err := c.upsert(kind, code, localID, row, remote.Scope{ProjectID: parentID}, parentID)
		if err != nil {
			return err
		}
		if rowID != "" {
			seen[rowID] = true
		}
		if assigned && !c.opts.DryRun && res.rowExists() && rowID == code {
			c.persistCode(snap.Path, item, code)
		}
	}

	if !c.opts.PruneChildren {
		return nil
	}
	if !complete {
		c.log.Info("not pruning kind with skipped files", "kind", kind, "project_id", parentID)
		return nil
	}
	return c.prune(kind, parentID, seen)
}

// assignCode gives rec a public code when it has none. A derived code
// already held by a row that owner may not write is skipped for the next
// candidate. An empty code with a nil error means every candidate was
// taken; a non-nil error is a failed lookup.
func (c *cycle) assignCode(kind schema.Kind, rec schema.Record, parentID int64, owner schema.Row) (string, bool, error) {
	free := func(code string) (bool, error) {
		existing, err := c.store.FindByID(c.ctx, kind, code)
		if err != nil {
			c.log.Error("lookup failed", "op", "find by id", "kind", kind, "id", code, "error", err)
			return false, err
		}
		if existing == nil {
			return true, nil
		}
		if reason := ownershipMismatch(kind, existing, owner); reason != "" {
			c.log.Info("public code held by another owner", "kind", kind, "id", code, "reason", reason)
			return false, nil
		}
		return true, nil
	}

	code, assigned, err := mapper.AssignCode(kind, rec, parentID, free)
	if errors.Is(err, mapper.ErrNoFreeCode) {
		c.log.Warn("no free public code", "kind", kind, "local_id", rec.String("id"))
		return "", false, nil
	}
	return code, assigned, err
}

// upsert looks up a row by public code, then by local id within scope, and
// inserts or updates it. It returns the id of the remote row that now
// represents the item. Only a failed lookup returns an error.
func (c *cycle) upsert(kind schema.Kind, code string, localID int64, row schema.Row, scope remote.Scope, project string) (string, result, error) {
	log := c.log.With("kind", kind, "id", code, "local_id", localID)

	existing, err := c.store.FindByID(c.ctx, kind, code)
	if err != nil {
		log.Error("lookup failed", "op", "find by id", "error", err)
		return "", 0, err
	}
	if existing == nil {
		existing, err = c.store.FindByLocalID(c.ctx, kind, localID, scope)
		if err != nil {
			log.Error("lookup failed", "op", "find by local id", "error", err)
			return "", 0, err
		}
		if existing != nil {
			log.Warn("matched remote row by local id", "remote_id", existing.ID())
		}
	}

	if existing == nil {
		if c.opts.DryRun {
			log.Info("would insert", "op", "insert")
			c.report.bump(kind, func(n *Counts) { n.Inserted++ })
			return code, resultInserted, nil
		}
		if err := c.store.Insert(c.ctx, kind, row); err != nil {
			log.Error("write failed", "op", "insert", "error", err, "row", map[string]any(row))
			c.report.fail(WriteFailure{Kind: kind, ID: code, LocalID: localID, Project: project, Op: "insert", Err: err.Error()})
			return "", resultInsertFailed, nil
		}
		log.Debug("inserted", "op", "insert")
		c.report.bump(kind, func(n *Counts) { n.Inserted++ })
		return code, resultInserted, nil
	}

	rowID := existing.ID()
	if reason := ownershipMismatch(kind, existing, row); reason != "" {
		log.Warn("refusing write to row with another owner", "op", "update", "remote_id", rowID, "reason", reason)
		c.report.fail(WriteFailure{Kind: kind, ID: rowID, LocalID: localID, Project: project, Op: "ownership", Err: reason})
		return rowID, resultRefused, nil
	}

	changed := mapper.Changed(kind, row, existing)
	if len(changed) == 0 {
		c.report.bump(kind, func(n *Counts) { n.Unchanged++ })
		return rowID, resultUnchanged, nil
	}
	if c.opts.DryRun {
		log.Info("would update", "op", "update", "remote_id", rowID, "columns", changed)
		c.report.bump(kind, func(n *Counts) { n.Updated++ })
		return rowID, resultUpdated, nil
	}
	if err := c.store.Update(c.ctx, kind, rowID, row, changed); err != nil {
		log.Error("write failed", "op", "update", "remote_id", rowID, "columns", changed, "error", err)
		c.report.fail(WriteFailure{Kind: kind, ID: rowID, LocalID: localID, Project: project, Op: "update", Err: err.Error()})
		return rowID, resultUpdateFailed, nil
	}
	log.Debug("updated", "op", "update", "remote_id", rowID, "columns", changed)
	c.report.bump(kind, func(n *Counts) { n.Updated++ })
	return rowID, resultUpdated, nil
}

// ownershipMismatch returns why existing may not be overwritten by row, or
// "" when it may.
func ownershipMismatch(kind schema.Kind, existing, row schema.Row) string {
	if existing.Has("creator_id") {
		have, _ := existing.Int("creator_id")
		want, _ := row.Int("creator_id")
		if have != want {
			return "creator mismatch"
		}
	}
	if kind != schema.KindProject && existing.Has("project_id") {
		if existing.String("project_id") != row.String("project_id") {
			return "project mismatch"
		}
	}
	return ""
}

func (c *cycle) skipChildren(snap *collect.Snapshot, reason string) {
	for _, kind := range schema.ChildKinds {
		n := len(snap.Kind(kind))
		if n == 0 {
			continue
		}
		c.log.Warn("skipping children", "project", snap.Path, "kind", kind, "count", n, "reason", reason)
		c.report.bump(kind, func(counts *Counts) { counts.Skipped += n })
	}
}

// prune deletes remote children of kind under parentID that no local item
// claimed this cycle.
func (c *cycle) prune(kind schema.Kind, parentID string, seen map[string]bool) error {
	ids, err := c.store.ChildIDs(c.ctx, kind, parentID)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if seen[id] {
			continue
		}
		log := c.log.With("kind", kind, "id", id, "project_id", parentID, "op", "delete")
		if c.opts.DryRun {
			log.Info("would delete child without local file")
			c.report.bump(kind, func(n *Counts) { n.Deleted++ })
			continue
		}
		if err := c.store.Delete(c.ctx, kind, id); err != nil {
			log.Error("write failed", "error", err)
			c.report.fail(WriteFailure{Kind: kind, ID: id, Project: parentID, Op: "delete", Err: err.Error()})
			continue
		}
		log.Info("deleted child without local file")
		c.report.bump(kind, func(n *Counts) { n.Deleted++ })
	}
	return nil
}
