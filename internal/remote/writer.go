package remote

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/loomnotes/loom/internal/schema"
)

// ErrNoRows is returned by Update and Delete when no row matched.
var ErrNoRows = errors.New("no matching row")

// Scope restricts a fallback lookup to one owner: the creator for projects,
// the parent project for children.
type Scope struct {
	CreatorID int64
	ProjectID string
}

// FindByID looks up a row of kind by its public code.
func (s *Store) FindByID(ctx context.Context, kind schema.Kind, id string) (schema.Row, error) {
	row, err := s.findOne(ctx, kind, "id = ?", id)
	if err != nil {
		return nil, &LookupError{Op: "find by id", Table: kind.Table(), Key: id, Err: err}
	}
	return row, nil
}

// FindByLocalID looks up a row of kind whose code column, compared as text,
// equals localID, within scope. It finds rows written under the wrong
// identifier by earlier clients.
func (s *Store) FindByLocalID(ctx context.Context, kind schema.Kind, localID int64, scope Scope) (schema.Row, error) {
	key := strconv.FormatInt(localID, 10)

	var (
		row schema.Row
		err error
	)
	if kind == schema.KindProject {
		row, err = s.findOne(ctx, kind, "CAST(code AS TEXT) = ? AND creator_id = ?", key, scope.CreatorID)
	} else {
		row, err = s.findOne(ctx, kind, "CAST(code AS TEXT) = ? AND project_id = ?", key, scope.ProjectID)
	}
	if err != nil {
		return nil, &LookupError{Op: "find by local id", Table: kind.Table(), Key: key, Err: err}
	}
	return row, nil
}

// Insert writes a new row of kind. Columns unknown to the table are ignored.
func (s *Store) Insert(ctx context.Context, kind schema.Kind, row schema.Row) error {
	cols, args := rowValues(kind, row)
	if len(cols) == 0 {
		return fmt.Errorf("failed to insert into %s: empty row", kind.Table())
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", kind.Table(), strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.exec(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to insert %s %s: %w", kind, row.ID(), err)
	}
	return nil
}

// Update sets columns (plus updated_at) of the row whose id is id, taking
// values from row.
func (s *Store) Update(ctx context.Context, kind schema.Kind, id string, row schema.Row, columns []string) error {
	set := make([]string, 0, len(columns)+1)
	args := make([]any, 0, len(columns)+2)
	seen := make(map[string]bool)
	for _, col := range append(append([]string(nil), columns...), "updated_at") {
		if seen[col] || col == "id" {
			continue
		}
		seen[col] = true
		v, ok := row[col]
		if !ok {
			continue
		}
		set = append(set, col+" = ?")
		args = append(args, v)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", kind.Table(), strings.Join(set, ", "))
	res, err := s.exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to update %s %s: %w", kind, id, ErrNoRows)
	}
	return nil
}

// Delete removes the row of kind whose id is id. Children are not touched.
func (s *Store) Delete(ctx context.Context, kind schema.Kind, id string) error {
	res, err := s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE id = ?", kind.Table()), id)
	if err != nil {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to delete %s %s: %w", kind, id, ErrNoRows)
	}
	return nil
}

// DeleteChildren removes every row of kind belonging to projectID and
// returns how many were removed.
func (s *Store) DeleteChildren(ctx context.Context, kind schema.Kind, projectID string) (int64, error) {
	res, err := s.exec(ctx, fmt.Sprintf("DELETE FROM %s WHERE project_id = ?", kind.Table()), projectID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete %s of project %s: %w", kind.Table(), projectID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// CountChildren returns the number of rows of kind belonging to projectID.
func (s *Store) CountChildren(ctx context.Context, kind schema.Kind, projectID string) (int, error) {
	rows, err := s.query(ctx, fmt.Sprintf("SELECT COUNT(*) AS n FROM %s WHERE project_id = ?", kind.Table()), projectID)
	if err != nil {
		return 0, &LookupError{Op: "count", Table: kind.Table(), Key: projectID, Err: err}
	}
	found, err := scanRows(rows)
	if err != nil {
		return 0, &LookupError{Op: "count", Table: kind.Table(), Key: projectID, Err: err}
	}
	if len(found) == 0 {
		return 0, nil
	}
	n, _ := found[0].Int("n")
	return int(n), nil
}

// ChildIDs returns the public codes of every row of kind belonging to
// projectID, sorted.
func (s *Store) ChildIDs(ctx context.Context, kind schema.Kind, projectID string) ([]string, error) {
	rows, err := s.query(ctx, fmt.Sprintf("SELECT id FROM %s WHERE project_id = ? ORDER BY id", kind.Table()), projectID)
	if err != nil {
		return nil, &LookupError{Op: "child ids", Table: kind.Table(), Key: projectID, Err: err}
	}
	found, err := scanRows(rows)
	if err != nil {
		return nil, &LookupError{Op: "child ids", Table: kind.Table(), Key: projectID, Err: err}
	}
	ids := make([]string, 0, len(found))
	for _, row := range found {
		ids = append(ids, row.ID())
	}
	return ids, nil
}

// LookupCreator resolves a creator by numeric id, falling back to the
// creator's code column compared as text. found is false when no creator
// row exists.
func (s *Store) LookupCreator(ctx context.Context, creatorID int64) (id int64, found bool, err error) {
	key := strconv.FormatInt(creatorID, 10)
	rows, err := s.query(ctx,
		"SELECT id FROM creators WHERE id = ? OR CAST(code AS TEXT) = ? ORDER BY CASE WHEN id = ? THEN 0 ELSE 1 END LIMIT 1",
		creatorID, key, creatorID)
	if err != nil {
		return 0, false, &LookupError{Op: "creator", Table: "creators", Key: key, Err: err}
	}
	matches, err := scanRows(rows)
	if err != nil {
		return 0, false, &LookupError{Op: "creator", Table: "creators", Key: key, Err: err}
	}
	if len(matches) == 0 {
		return 0, false, nil
	}
	id, ok := matches[0].Int("id")
	return id, ok, nil
}

// UpsertCreator creates or renames a creator row.
func (s *Store) UpsertCreator(ctx context.Context, id int64, code, name, createdAt string) error {
	_, err := s.exec(ctx, `INSERT INTO creators (id, code, name, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET code = excluded.code, name = excluded.name`,
		id, code, name, createdAt)
	if err != nil {
		return fmt.Errorf("failed to upsert creator %d: %w", id, err)
	}
	return nil
}
