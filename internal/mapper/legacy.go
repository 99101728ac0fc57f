package mapper

import (
	"regexp"
	"strings"

	"github.com/loomnotes/loom/internal/schema"
)

var loreFieldPattern = regexp.MustCompile(`^(?i)field\s*([1-4])\s*(name|content)$`)

// CanonicalizeLegacyFields rewrites the legacy lore field names of rec into
// their canonical names:
//
//	lore_type           -> lore_kind
//	content             -> body
//	"Field N Name"      -> entryN_name
//	"Field N Content"   -> entryN_content
//
// When both a legacy and a canonical name are present the canonical value
// wins and the legacy key is dropped. Other kinds are returned unchanged.
// rec itself is never modified.
func CanonicalizeLegacyFields(k schema.Kind, rec schema.Record) schema.Record {
	out := rec.Clone()
	if k != schema.KindLoreItem {
		return out
	}

	renames := map[string]string{
		"lore_type": "lore_kind",
		"content":   "body",
	}
	for key := range rec {
		if m := loreFieldPattern.FindStringSubmatch(strings.TrimSpace(key)); m != nil {
			renames[key] = "entry" + m[1] + "_" + strings.ToLower(m[2])
		}
	}

	for legacy, canonical := range renames {
		v, ok := out[legacy]
		if !ok {
			continue
		}
		delete(out, legacy)
		if out.Has(canonical) {
			continue
		}
		out[canonical] = v
	}
	return out
}

// HasLegacyFields reports whether rec carries any legacy field name that
// CanonicalizeLegacyFields would rewrite.
func HasLegacyFields(k schema.Kind, rec schema.Record) bool {
	if k != schema.KindLoreItem {
		return false
	}
	for key := range rec {
		if key == "lore_type" || key == "content" || loreFieldPattern.MatchString(strings.TrimSpace(key)) {
			return true
		}
	}
	return false
}
