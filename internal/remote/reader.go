package remote

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/loomnotes/loom/internal/mapper"
	"github.com/loomnotes/loom/internal/schema"
)

// LookupError reports a failed read query. It marks a connectivity or query
// problem, never a missing row: lookups that find nothing return a nil row
// and a nil error.
type LookupError struct {
	Op    string
	Table string
	Key   string
	Err   error
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("remote lookup %s on %s (%s) failed: %v", e.Op, e.Table, e.Key, e.Err)
}

func (e *LookupError) Unwrap() error { return e.Err }

// Entries is a project row together with its child rows.
type Entries struct {
	Project schema.Row
	Items   map[schema.Kind][]schema.Row
}

// Chapters returns the project's chapter rows.
func (e *Entries) Chapters() []schema.Row { return e.Items[schema.KindChapter] }

// Notes returns the project's note rows.
func (e *Entries) Notes() []schema.Row { return e.Items[schema.KindNote] }

// Refs returns the project's reference rows.
func (e *Entries) Refs() []schema.Row { return e.Items[schema.KindReference] }

// ProjectIDsForCreator returns the public codes of every project owned by
// creatorID, sorted.
func (s *Store) ProjectIDsForCreator(ctx context.Context, creatorID int64) ([]string, error) {
	rows, err := s.query(ctx, "SELECT id FROM projects WHERE creator_id = ? ORDER BY id", creatorID)
	if err != nil {
		return nil, &LookupError{Op: "project ids", Table: "projects", Key: fmt.Sprint(creatorID), Err: err}
	}
	found, err := scanRows(rows)
	if err != nil {
		return nil, &LookupError{Op: "project ids", Table: "projects", Key: fmt.Sprint(creatorID), Err: err}
	}

	ids := make([]string, 0, len(found))
	for _, row := range found {
		ids = append(ids, row.ID())
	}
	return ids, nil
}

// ProjectInfo returns the project row for projectCode, or nil when none
// exists.
//
// The lookup goes by the id column first and falls back to the code column
// compared as text, for legacy rows that stored the identifier in the wrong
// column. An error is returned only when both lookups fail.
func (s *Store) ProjectInfo(ctx context.Context, projectCode string) (schema.Row, error) {
	row, errByID := s.findOne(ctx, schema.KindProject, "id = ?", projectCode)
	if errByID == nil && row != nil {
		return row, nil
	}

	row, errByCode := s.findOne(ctx, schema.KindProject, "CAST(code AS TEXT) = ?", projectCode)
	switch {
	case errByCode == nil:
		return row, nil
	case errByID == nil:
		s.logger.Warn("fallback project lookup failed", "project", projectCode, "error", errByCode)
		return nil, nil
	default:
		return nil, &LookupError{Op: "project info", Table: "projects", Key: projectCode, Err: errByCode}
	}
}

// ProjectEntries returns a project row and all of its children. Child
// kinds are queried in parallel; each kind is ordered by sort_order with
// NULLs last, then by id, so repeated reads return the same order.
//
// A missing project yields nil entries and a nil error.
func (s *Store) ProjectEntries(ctx context.Context, projectCode string) (*Entries, error) {
	project, err := s.ProjectInfo(ctx, projectCode)
	if err != nil {
		return nil, err
	}
	if project == nil {
		return nil, nil
	}

	entries := &Entries{Project: project, Items: make(map[schema.Kind][]schema.Row)}
	parentID := project.ID()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range schema.ChildKinds {
		g.Go(func() error {
			rows, err := s.children(gctx, kind, parentID)
			if err != nil {
				return err
			}
			mu.Lock()
			entries.Items[kind] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) children(ctx context.Context, kind schema.Kind, projectID string) ([]schema.Row, error) {
	order := "id"
	if _, ok := mapper.ColumnType(kind, "sort_order"); ok {
		order = "CASE WHEN sort_order IS NULL THEN 1 ELSE 0 END, sort_order, id"
	}
	query := fmt.Sprintf("SELECT %s FROM %s WHERE project_id = ? ORDER BY %s", selectList(kind), kind.Table(), order)

	rows, err := s.query(ctx, query, projectID)
	if err != nil {
		return nil, &LookupError{Op: "children", Table: kind.Table(), Key: projectID, Err: err}
	}
	found, err := scanRows(rows)
	if err != nil {
		return nil, &LookupError{Op: "children", Table: kind.Table(), Key: projectID, Err: err}
	}
	return found, nil
}

// findOne returns the first row of kind matching where, or nil.
func (s *Store) findOne(ctx context.Context, kind schema.Kind, where string, args ...any) (schema.Row, error) {
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id LIMIT 1", selectList(kind), kind.Table(), where)
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	found, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return found[0], nil
}
