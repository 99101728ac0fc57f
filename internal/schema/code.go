package schema

import (
	"fmt"
	"regexp"
	"strconv"
)

var codePattern = regexp.MustCompile(`^([A-Z]{2,4})-(\d{4,})-(\d{6,})$`)

// Code is a parsed public code.
type Code struct {
	Kind     Kind
	ParentID int64
	LocalID  int64
}

// String formats the code in canonical form.
func (c Code) String() string {
	return FormatCode(c.Kind, c.ParentID, c.LocalID)
}

// FormatCode builds the public code for an entity of kind k.
// For projects the parent is the owning creator; for children it is the
// project's local id.
func FormatCode(k Kind, parentID, localID int64) string {
	return fmt.Sprintf("%s-%04d-%06d", kinds[k].Prefix, parentID, localID)
}

// ParseCode parses a public code such as "CHP-0002-000001".
func ParseCode(s string) (Code, error) {
	m := codePattern.FindStringSubmatch(s)
	if m == nil {
		return Code{}, fmt.Errorf("invalid public code %q", s)
	}

	var kind Kind
	for k, info := range kinds {
		if info.Prefix == m[1] {
			kind = k
			break
		}
	}
	if kind == "" {
		return Code{}, fmt.Errorf("unknown code prefix %q in %q", m[1], s)
	}

	parent, err := strconv.ParseInt(m[2], 10, 64)
	if err != nil {
		return Code{}, fmt.Errorf("invalid parent id in %q: %w", s, err)
	}
	local, err := strconv.ParseInt(m[3], 10, 64)
	if err != nil {
		return Code{}, fmt.Errorf("invalid local id in %q: %w", s, err)
	}

	return Code{Kind: kind, ParentID: parent, LocalID: local}, nil
}
