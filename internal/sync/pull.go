package sync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/reconcile"
	"github.com/loomnotes/loom/internal/schema"
)

// Pull implements Syncer.Pull.
func (s *syncer) Pull(ctx context.Context, sess reconcile.Session, opts PullOptions) (*PullResult, error) {
	res := &PullResult{Counts: make(map[schema.Kind]int)}
	if sess.CreatorID <= 0 {
		return res, reconcile.ErrNoSession
	}

	creator := sess.CreatorID
	if id, found, err := s.remote.LookupCreator(ctx, sess.CreatorID); err != nil {
		return res, fmt.Errorf("failed to resolve creator: %w", err)
	} else if found {
		creator = id
	}

	ids, err := s.remote.ProjectIDsForCreator(ctx, creator)
	if err != nil {
		return res, err
	}

	local, err := s.localProjects(sess.ProjectRoot)
	if err != nil {
		return res, err
	}

	log := s.logger.With("creator", creator)
	log.Info("pull started", "projects", len(ids), "since", opts.Since)
	for _, code := range ids {
		if err := s.pullProject(ctx, sess.ProjectRoot, code, local, opts, res); err != nil {
			return res, err
		}
	}
	log.Info("pull finished", "projects", res.Projects, "written", res.FilesWritten, "kept", res.Kept, "failed", res.Failed)
	return res, nil
}

// localProjects maps the public code of every readable local project to its
// directory.
func (s *syncer) localProjects(root string) (map[string]string, error) {
	out := make(map[string]string)
	entries, err := afero.ReadDir(s.fs, root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return nil, fmt.Errorf("failed to read project root %s: %w", root, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		dir := filepath.Join(root, entry.Name())
		idx, err := schema.ReadIndex(s.fs, dir)
		if err != nil {
			continue
		}
		if code := idx.Project.Code(); code != "" {
			out[code] = dir
		}
	}
	return out, nil
}

func (s *syncer) pullProject(ctx context.Context, root, code string, local map[string]string, opts PullOptions, res *PullResult) error {
	entries, err := s.remote.ProjectEntries(ctx, code)
	if err != nil {
		return err
	}
	if entries == nil {
		return nil
	}
	res.Projects++

	project := s.mapper.ToLocalRecord(schema.KindProject, entries.Project)

	dir, exists := local[code]
	if !exists {
		dir, err = s.newProjectDir(root, project)
		if err != nil {
			return err
		}
		local[code] = dir
	}
	log := s.logger.With("project", dir, "project_id", code)

	idx, err := schema.ReadIndex(s.fs, dir)
	if err != nil {
		if exists {
			log.Warn("rebuilding unreadable project index", "error", err)
		}
		idx = &schema.Index{}
	}

	var indexChanged bool
	if idx.Project == nil || (newer(project, idx.Project) && !before(project, opts.Since) && !s.sameContent(schema.KindProject, project, idx.Project)) {
		idx.Project = project
		indexChanged = true
	}

	for _, kind := range schema.ChildKinds {
		for _, row := range entries.Items[kind] {
			rec := s.mapper.ToLocalRecord(kind, row)
			id, ok := rec.LocalID()
			if !ok || id <= 0 {
				log.Warn("skipping remote row without numeric local id", "kind", kind, "id", row.ID(), "code", row.String("code"))
				res.Failed++
				continue
			}
			if before(rec, opts.Since) {
				continue
			}

			path := schema.ItemPath(dir, kind, id)
			if existing, err := schema.ReadRecordFile(s.fs, path); err == nil && (!newer(rec, existing) || s.sameContent(kind, rec, existing)) {
				res.Kept++
				continue
			}
			if err := schema.WriteRecordFile(s.fs, path, rec); err != nil {
				log.Error("failed to write item", "kind", kind, "id", id, "path", path, "error", err)
				res.Failed++
				continue
			}
			log.Debug("wrote item", "kind", kind, "id", id, "path", path)
			res.FilesWritten++
			res.Written = append(res.Written, path)
			res.Counts[kind]++

			if upsertEntry(idx, kind, rec) {
				indexChanged = true
			}
		}
	}

	if !indexChanged {
		return nil
	}
	if err := schema.WriteIndex(s.fs, dir, idx); err != nil {
		log.Error("failed to write project index", "error", err)
		res.Failed++
		return nil
	}
	res.FilesWritten++
	res.Written = append(res.Written, schema.IndexPath(dir))
	return nil
}

// newProjectDir picks an unused directory under root for a project that has
// no local copy yet.
func (s *syncer) newProjectDir(root string, project schema.Record) (string, error) {
	id, _ := project.LocalID()
	base := Slug(project.String("title"))
	if base == "" {
		base = "project"
	}
	base = fmt.Sprintf("%s-%d", base, id)

	dir := filepath.Join(root, base)
	for n := 2; ; n++ {
		exists, err := afero.Exists(s.fs, dir)
		if err != nil {
			return "", fmt.Errorf("failed to check %s: %w", dir, err)
		}
		if !exists {
			return dir, nil
		}
		dir = filepath.Join(root, fmt.Sprintf("%s-%d", base, n))
	}
}

// upsertEntry makes idx list rec and reports whether the index changed.
func upsertEntry(idx *schema.Index, kind schema.Kind, rec schema.Record) bool {
	id, _ := rec.LocalID()
	order, _ := rec.Int("order_index")
	want := schema.IndexEntry{
		ID:         id,
		Code:       rec.Code(),
		Type:       schema.Info(kind).IndexType,
		Title:      rec.String("title"),
		OrderIndex: order,
		UpdatedAt:  rec.String("updated_at"),
	}
	for i, entry := range idx.Entries {
		if entry.Type == want.Type && entry.ID == want.ID {
			if entry.SameSummary(want) {
				return false
			}
			want.Extra = entry.Extra
			idx.Entries[i] = want
			return true
		}
	}
	idx.Entries = append(idx.Entries, want)
	return true
}

// sameContent reports whether a and b carry the same mutable values once
// mapped to a remote row. Timestamps and identifiers are not compared.
func (s *syncer) sameContent(kind schema.Kind, a, b schema.Record) bool {
	a = mapper.CanonicalizeLegacyFields(kind, a)
	b = mapper.CanonicalizeLegacyFields(kind, b)
	return len(mapper.Changed(kind, s.mapper.ToRemoteRow(kind, a), s.mapper.ToRemoteRow(kind, b))) == 0
}

// newer reports whether remote was updated after local. A local record
// without a readable timestamp is always older.
func newer(remote, local schema.Record) bool {
	rt, ok := remote.Time("updated_at")
	if !ok {
		return false
	}
	lt, ok := local.Time("updated_at")
	if !ok {
		return true
	}
	return rt.After(lt)
}

// before reports whether rec was last updated before since.
func before(rec schema.Record, since time.Time) bool {
	if since.IsZero() {
		return false
	}
	t, ok := rec.Time("updated_at")
	return ok && t.Before(since)
}
