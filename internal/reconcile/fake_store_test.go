package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/loomnotes/loom/internal/collect"
	"github.com/loomnotes/loom/internal/remote"
	"github.com/loomnotes/loom/internal/schema"
)

// call is one store operation recorded by fakeStore.
type call struct {
	Op   string
	Kind schema.Kind
	ID   string
}

func (c call) String() string { return fmt.Sprintf("%s %s %s", c.Op, c.Kind, c.ID) }

// fakeStore is an in-memory Store that records every call.
type fakeStore struct {
	mu       sync.Mutex
	rows     map[schema.Kind]map[string]schema.Row
	creators map[int64]int64
	calls    []call

	// failWrite makes Insert/Update/Delete of the given id fail.
	failWrite map[string]error
	// failLookup makes FindByID of the given id fail.
	failLookup map[string]error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		rows:       make(map[schema.Kind]map[string]schema.Row),
		creators:   make(map[int64]int64),
		failWrite:  make(map[string]error),
		failLookup: make(map[string]error),
	}
}

func (f *fakeStore) put(kind schema.Kind, row schema.Row) {
	if f.rows[kind] == nil {
		f.rows[kind] = make(map[string]schema.Row)
	}
	f.rows[kind][row.ID()] = row.Clone()
}

func (f *fakeStore) get(kind schema.Kind, id string) schema.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[kind][id]
}

func (f *fakeStore) record(op string, kind schema.Kind, id string) {
	f.calls = append(f.calls, call{Op: op, Kind: kind, ID: id})
}

// writes returns the recorded mutating calls.
func (f *fakeStore) writes() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.calls {
		switch c.Op {
		case "insert", "update", "delete", "delete children":
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeStore) sortedRows(kind schema.Kind) []schema.Row {
	var out []schema.Row
	for _, row := range f.rows[kind] {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (f *fakeStore) ProjectIDsForCreator(_ context.Context, creatorID int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("project ids", schema.KindProject, strconv.FormatInt(creatorID, 10))
	var ids []string
	for _, row := range f.sortedRows(schema.KindProject) {
		if id, _ := row.Int("creator_id"); id == creatorID {
			ids = append(ids, row.ID())
		}
	}
	return ids, nil
}

func (f *fakeStore) LookupCreator(_ context.Context, creatorID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.creators[creatorID]
	return id, ok, nil
}

func (f *fakeStore) FindByID(_ context.Context, kind schema.Kind, id string) (schema.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("find", kind, id)
	if err := f.failLookup[id]; err != nil {
		return nil, &remote.LookupError{Op: "find by id", Table: kind.Table(), Key: id, Err: err}
	}
	if row, ok := f.rows[kind][id]; ok {
		return row.Clone(), nil
	}
	return nil, nil
}

func (f *fakeStore) FindByLocalID(_ context.Context, kind schema.Kind, localID int64, scope remote.Scope) (schema.Row, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := strconv.FormatInt(localID, 10)
	f.record("find local", kind, key)
	for _, row := range f.sortedRows(kind) {
		if row.String("code") != key {
			continue
		}
		if kind == schema.KindProject {
			if id, _ := row.Int("creator_id"); id != scope.CreatorID {
				continue
			}
		} else if row.String("project_id") != scope.ProjectID {
			continue
		}
		return row.Clone(), nil
	}
	return nil, nil
}

func (f *fakeStore) Insert(_ context.Context, kind schema.Kind, row schema.Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("insert", kind, row.ID())
	if err := f.failWrite[row.ID()]; err != nil {
		return err
	}
	if _, exists := f.rows[kind][row.ID()]; exists {
		return errors.New("UNIQUE constraint failed")
	}
	f.put(kind, row)
	return nil
}

func (f *fakeStore) Update(_ context.Context, kind schema.Kind, id string, row schema.Row, columns []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("update", kind, id)
	if err := f.failWrite[id]; err != nil {
		return err
	}
	existing, ok := f.rows[kind][id]
	if !ok {
		return remote.ErrNoRows
	}
	for _, col := range append(columns, "updated_at") {
		existing[col] = row[col]
	}
	return nil
}

func (f *fakeStore) Delete(_ context.Context, kind schema.Kind, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete", kind, id)
	if err := f.failWrite[id]; err != nil {
		return err
	}
	if _, ok := f.rows[kind][id]; !ok {
		return remote.ErrNoRows
	}
	delete(f.rows[kind], id)
	return nil
}

func (f *fakeStore) DeleteChildren(_ context.Context, kind schema.Kind, projectID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete children", kind, projectID)
	var n int64
	for id, row := range f.rows[kind] {
		if row.String("project_id") == projectID {
			delete(f.rows[kind], id)
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) CountChildren(_ context.Context, kind schema.Kind, projectID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("count", kind, projectID)
	n := 0
	for _, row := range f.rows[kind] {
		if row.String("project_id") == projectID {
			n++
		}
	}
	return n, nil
}

func (f *fakeStore) ChildIDs(_ context.Context, kind schema.Kind, projectID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("child ids", kind, projectID)
	var ids []string
	for _, row := range f.sortedRows(kind) {
		if row.String("project_id") == projectID {
			ids = append(ids, row.ID())
		}
	}
	return ids, nil
}

// fakeCodeWriter records persisted codes by item path.
type fakeCodeWriter struct {
	codes map[string]string
}

func (w *fakeCodeWriter) PersistCode(_ string, item collect.Item, code string) error {
	if w.codes == nil {
		w.codes = make(map[string]string)
	}
	w.codes[item.Path] = code
	return nil
}
