package mapper

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/loomnotes/loom/internal/schema"
)

// Direction selects which side of a mapping table is the source.
type Direction int

const (
	// ToRemote reads local field names and produces remote columns.
	ToRemote Direction = iota
	// ToLocal reads remote columns and produces local field names.
	ToLocal
)

// Invert renames the keys of src according to k's mapping table, in the
// given direction. Values are copied unchanged and keys absent from the
// table are dropped. Legacy aliases are honoured when reading local names.
//
// Invert is the only place the id/code swap happens.
func Invert(k schema.Kind, dir Direction, src map[string]any) map[string]any {
	out := make(map[string]any, len(src))
	for _, f := range tables[k] {
		from, to := f.Local, f.Remote
		if dir == ToLocal {
			from, to = f.Remote, f.Local
		}
		v, ok := lookup(src, from)
		if !ok && dir == ToRemote {
			v, ok = lookupAliases(src, f.Aliases)
		}
		if ok {
			out[to] = v
		}
	}
	return out
}

// Mapper converts records and rows. It holds no state beyond its logger and
// clock and is safe for concurrent use.
type Mapper struct {
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Mapper.
type Option func(*Mapper)

// WithClock sets the time source used to stamp updated_at.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) { m.now = now }
}

// New returns a Mapper. A nil logger discards MappingDefault events.
func New(logger *slog.Logger, opts ...Option) *Mapper {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	m := &Mapper{logger: logger, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ToRemoteRow maps a local record of kind k to a remote row.
//
// The record's "id" becomes the row's "code" and its "code" becomes the
// row's "id". Missing fields are filled from legacy aliases, then from a
// type default; a non-nullable column is never NULL. updated_at is stamped
// with the current time.
func (m *Mapper) ToRemoteRow(k schema.Kind, rec schema.Record) schema.Row {
	now := schema.FormatTime(m.now())
	src := Invert(k, ToRemote, rec)
	row := make(schema.Row, len(tables[k]))

	for _, f := range tables[k] {
		v, ok := src[f.Remote]
		if f.Remote == "updated_at" {
			row[f.Remote] = now
			continue
		}
		converted, valid := toRemoteValue(f, v, ok)
		if !valid {
			converted = m.remoteDefault(k, f, now, rec)
		}
		row[f.Remote] = converted
	}
	return row
}

// ToLocalRecord maps a remote row of kind k to a local record.
//
// The row's "code" becomes the record's "id". When it does not parse as an
// integer the raw value is kept, and callers must not assume the id orders
// numerically.
func (m *Mapper) ToLocalRecord(k schema.Kind, row schema.Row) schema.Record {
	src := Invert(k, ToLocal, row)
	rec := make(schema.Record, len(tables[k]))

	for _, f := range tables[k] {
		v, ok := src[f.Local]
		if !ok || v == nil {
			if f.Nullable {
				continue
			}
			rec[f.Local] = localDefault(f)
			if f.Type != LocalID {
				m.logger.Debug("mapping default", "kind", k, "field", f.Local, "direction", "local")
			}
			continue
		}
		rec[f.Local] = toLocalValue(f, v)
	}
	return rec
}

// Changed returns the mutable columns whose values differ between want and
// have. Immutable columns and updated_at are never compared.
func Changed(k schema.Kind, want, have schema.Row) []string {
	var changed []string
	for _, f := range tables[k] {
		if f.Immutable || f.Remote == "updated_at" {
			continue
		}
		if !equalValue(f, want[f.Remote], have[f.Remote]) {
			changed = append(changed, f.Remote)
		}
	}
	return changed
}

func (m *Mapper) remoteDefault(k schema.Kind, f Field, now string, rec schema.Record) any {
	if f.Nullable {
		return nil
	}
	var v any
	switch f.Type {
	case Int, Bool:
		v = int64(0)
	case Tags, JSON:
		v = "[]"
	case Time:
		v = now
	default:
		v = ""
	}
	if f.Remote != "id" {
		id, _ := rec.LocalID()
		m.logger.Debug("mapping default", "kind", k, "id", id, "field", f.Local, "column", f.Remote, "default", v)
	}
	return v
}

func localDefault(f Field) any {
	switch f.Type {
	case Int:
		return int64(0)
	case Bool:
		return false
	case Tags:
		return []string{}
	case JSON:
		return []any{}
	default:
		return ""
	}
}

// toRemoteValue converts a local value to its column representation. It
// reports false when the value is absent or unusable.
func toRemoteValue(f Field, v any, present bool) (any, bool) {
	if !present || v == nil {
		return nil, false
	}
	switch f.Type {
	case LocalID:
		n, ok := schema.AsInt(v)
		if !ok {
			s := strings.TrimSpace(schema.AsString(v))
			return s, s != ""
		}
		return strconv.FormatInt(n, 10), true
	case Int:
		n, ok := schema.AsInt(v)
		return n, ok
	case Bool:
		if schema.AsBool(v) {
			return int64(1), true
		}
		return int64(0), true
	case Tags:
		tags := schema.AsStrings(v)
		if tags == nil {
			tags = []string{}
		}
		data, err := json.Marshal(tags)
		if err != nil {
			return nil, false
		}
		return string(data), true
	case JSON:
		if s, ok := v.(string); ok {
			if json.Valid([]byte(s)) {
				return s, true
			}
			return nil, false
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		return string(data), true
	case Time:
		t, ok := schema.AsTime(v)
		if !ok {
			return nil, false
		}
		return schema.FormatTime(t), true
	default:
		if f.Identifier {
			return strings.TrimSpace(schema.AsString(v)), true
		}
		return schema.AsString(v), true
	}
}

func toLocalValue(f Field, v any) any {
	switch f.Type {
	case LocalID:
		if n, ok := schema.AsInt(v); ok {
			return n
		}
		return schema.AsString(v)
	case Int:
		n, _ := schema.AsInt(v)
		return n
	case Bool:
		return schema.AsBool(v)
	case Tags:
		tags := schema.AsStrings(v)
		if tags == nil {
			tags = []string{}
		}
		return tags
	case JSON:
		var out any
		if err := json.Unmarshal([]byte(schema.AsString(v)), &out); err != nil || out == nil {
			return []any{}
		}
		return out
	case Time:
		if t, ok := schema.AsTime(v); ok {
			return schema.FormatTime(t)
		}
		return schema.AsString(v)
	default:
		return schema.AsString(v)
	}
}

func equalValue(f Field, a, b any) bool {
	switch f.Type {
	case Tags:
		return strings.Join(schema.AsStrings(a), "\x00") == strings.Join(schema.AsStrings(b), "\x00")
	case Bool:
		return schema.AsBool(a) == schema.AsBool(b)
	case JSON:
		return canonicalJSON(a) == canonicalJSON(b)
	case Time:
		ta, okA := schema.AsTime(a)
		tb, okB := schema.AsTime(b)
		if okA && okB {
			return ta.Equal(tb)
		}
		return schema.AsString(a) == schema.AsString(b)
	default:
		return schema.AsString(a) == schema.AsString(b)
	}
}

func canonicalJSON(v any) string {
	var decoded any
	if err := json.Unmarshal([]byte(schema.AsString(v)), &decoded); err != nil {
		return schema.AsString(v)
	}
	data, err := json.Marshal(decoded)
	if err != nil {
		return schema.AsString(v)
	}
	return string(data)
}

func lookup(src map[string]any, key string) (any, bool) {
	v, ok := src[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func lookupAliases(src map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if v, ok := lookup(src, alias); ok {
			return v, true
		}
	}
	return nil, false
}
