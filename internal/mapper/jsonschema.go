package mapper

import (
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/loomnotes/loom/internal/schema"
)

// JSONSchema describes the on-disk item file of k. Legacy aliases are
// listed as deprecated properties.
func JSONSchema(k schema.Kind) *jsonschema.Schema {
	info := schema.Info(k)
	props := jsonschema.NewProperties()

	for _, f := range tables[k] {
		prop := fieldSchema(f)
		prop.Description = fieldDescription(f)
		props.Set(f.Local, prop)

		for _, alias := range f.Aliases {
			if _, taken := props.Get(alias); taken || isLocalName(k, alias) {
				continue
			}
			deprecated := fieldSchema(f)
			deprecated.Description = fmt.Sprintf("Legacy name of %s.", f.Local)
			deprecated.Deprecated = true
			props.Set(alias, deprecated)
		}
	}

	file := info.SingleFile
	if file == "" {
		file = info.Dir + "/" + info.FileStem + "_<id>.json"
	}
	return &jsonschema.Schema{
		Version:     jsonschema.Version,
		Title:       fmt.Sprintf("loom %s", k),
		Description: fmt.Sprintf("A %s item file (%s).", k, file),
		Type:        "object",
		Properties:  props,
		Required:    []string{"id"},
	}
}

func fieldSchema(f Field) *jsonschema.Schema {
	var s *jsonschema.Schema
	switch f.Type {
	case Int, LocalID:
		s = &jsonschema.Schema{Type: "integer"}
	case Bool:
		s = &jsonschema.Schema{Type: "boolean"}
	case Tags:
		s = &jsonschema.Schema{Type: "array", Items: &jsonschema.Schema{Type: "string"}}
	case JSON:
		s = &jsonschema.Schema{}
	case Time:
		s = &jsonschema.Schema{Type: "string", Format: "date-time"}
	default:
		s = &jsonschema.Schema{Type: "string"}
	}
	if f.Nullable && s.Type != "" {
		return &jsonschema.Schema{AnyOf: []*jsonschema.Schema{s, {Type: "null"}}}
	}
	return s
}

func fieldDescription(f Field) string {
	switch f.Local {
	case "id":
		return "Local sequence number, unique per kind within the project."
	case "code":
		return "Public code, assigned on first sync when empty."
	}
	if f.Local != f.Remote {
		return fmt.Sprintf("Stored remotely as %s.", f.Remote)
	}
	return ""
}

func isLocalName(k schema.Kind, name string) bool {
	for _, f := range tables[k] {
		if f.Local == name {
			return true
		}
	}
	return false
}
