package schema

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"
)

// Record is one item as it appears on disk: a JSON object keyed by local
// field names. The "id" field holds the local id and "code" the public code.
//
// Records are kept as maps because item files carry optional and legacy
// fields that vary between kinds and between versions of the editor.
type Record map[string]any

// Row is one remote row keyed by column name. The "id" column holds the
// public code and "code" the local id.
type Row map[string]any

// Has reports whether key is present with a non-nil value.
func (r Record) Has(key string) bool {
	v, ok := r[key]
	return ok && v != nil
}

// String returns the value at key rendered as a string ("" when absent).
func (r Record) String(key string) string { return AsString(r[key]) }

// Int returns the value at key as an integer.
func (r Record) Int(key string) (int64, bool) { return AsInt(r[key]) }

// Bool returns the value at key as a boolean.
func (r Record) Bool(key string) bool { return AsBool(r[key]) }

// Strings returns the value at key as a string slice.
func (r Record) Strings(key string) []string { return AsStrings(r[key]) }

// Time returns the value at key parsed as a timestamp.
func (r Record) Time(key string) (time.Time, bool) { return AsTime(r[key]) }

// LocalID returns the item's local id.
func (r Record) LocalID() (int64, bool) { return r.Int("id") }

// Code returns the item's public code, "" when not yet assigned.
func (r Record) Code() string { return strings.TrimSpace(r.String("code")) }

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Has reports whether column is present with a non-nil value.
func (r Row) Has(column string) bool {
	v, ok := r[column]
	return ok && v != nil
}

// String returns the value of column rendered as a string.
func (r Row) String(column string) string { return AsString(r[column]) }

// Int returns the value of column as an integer.
func (r Row) Int(column string) (int64, bool) { return AsInt(r[column]) }

// ID returns the row's remote-facing identifier (the public code).
func (r Row) ID() string { return strings.TrimSpace(r.String("id")) }

// Clone returns a shallow copy of r.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// AsString renders a decoded JSON or SQL value as a string.
func AsString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		data, err := json.Marshal(x)
		if err != nil {
			return ""
		}
		return string(data)
	}
}

// AsInt converts a decoded JSON or SQL value to an integer.
// Strings are accepted when they hold a base-10 integer.
func AsInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int64:
		return x, true
	case int32:
		return int64(x), true
	case float64:
		if x != math.Trunc(x) {
			return 0, false
		}
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		return n, err == nil
	case []byte:
		return AsInt(string(x))
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// AsBool converts a decoded JSON or SQL value to a boolean.
func AsBool(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "true" || s == "1" || s == "yes"
	case []byte:
		return AsBool(string(x))
	default:
		n, ok := AsInt(v)
		return ok && n != 0
	}
}

// AsStrings converts a decoded value to a string slice. JSON array text is
// decoded; any other non-empty string is split on commas.
func AsStrings(v any) []string {
	switch x := v.(type) {
	case nil:
		return nil
	case []string:
		return x
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			if s := AsString(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case []byte:
		return AsStrings(string(x))
	case string:
		s := strings.TrimSpace(x)
		if s == "" || s == "null" {
			return nil
		}
		if strings.HasPrefix(s, "[") {
			var out []string
			if err := json.Unmarshal([]byte(s), &out); err == nil {
				return out
			}
		}
		var out []string
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		return out
	default:
		return nil
	}
}

// AsTime parses RFC3339 (with or without fractional seconds) and the
// "2006-01-02 15:04:05" form SQLite produces.
func AsTime(v any) (time.Time, bool) {
	if t, ok := v.(time.Time); ok {
		return t, !t.IsZero()
	}
	s := strings.TrimSpace(AsString(v))
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// FormatTime renders t the way both sides store timestamps.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
