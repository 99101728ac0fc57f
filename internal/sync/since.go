package sync

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// ParseSince reads a --since value relative to now. It accepts RFC3339
// timestamps, plain dates (2006-01-02), Go durations meaning "that long
// ago" (36h), and English phrases such as "yesterday" or "last monday".
func ParseSince(value string, now time.Time) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", value, now.Location()); err == nil {
		return t, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}

	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	r, err := w.Parse(value, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse since %q: %w", value, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("failed to parse since %q: no date found", value)
	}
	return r.Time, nil
}
