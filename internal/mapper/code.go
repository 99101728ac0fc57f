package mapper

import (
	"errors"

	"github.com/loomnotes/loom/internal/schema"
)

// CodeParentSpan is the step between the parent segments tried when a
// derived public code is already held by another owner. Parent ids stay
// below it in the common case, so shifted codes never meet derived ones.
const CodeParentSpan = 10000

// MaxCodeAttempts bounds the candidates AssignCode tries.
const MaxCodeAttempts = 100

// ErrNoFreeCode is returned when every candidate code is taken.
var ErrNoFreeCode = errors.New("no free public code")

// FreeFunc reports whether a candidate code may be used by the caller.
type FreeFunc func(code string) (bool, error)

// AssignCode returns the public code of rec, assigning one when it has none.
//
// A new code is derived from parentID (the creator for projects, the
// project's local id for children) and the record's local id. Local ids
// are only unique per parent, so the derived code may belong to another
// owner; free is asked about each candidate and a rejected one is retried
// with the parent segment shifted by CodeParentSpan. A nil free accepts
// the first candidate. The chosen code is written into rec and assigned
// reports whether rec was changed. A record without a usable local id gets
// no code.
func AssignCode(k schema.Kind, rec schema.Record, parentID int64, free FreeFunc) (code string, assigned bool, err error) {
	if code := rec.Code(); code != "" {
		return code, false, nil
	}
	localID, ok := rec.LocalID()
	if !ok || localID <= 0 {
		return "", false, nil
	}

	for i := int64(0); i < MaxCodeAttempts; i++ {
		candidate := schema.FormatCode(k, parentID+i*CodeParentSpan, localID)
		if free != nil {
			ok, err := free(candidate)
			if err != nil {
				return "", false, err
			}
			if !ok {
				continue
			}
		}
		rec["code"] = candidate
		return candidate, true, nil
	}
	return "", false, ErrNoFreeCode
}
