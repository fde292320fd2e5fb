// Package schema implements the versioned attribute schemas that give
// resources their shape: typed attribute definitions, validation,
// dotted-path flattening, the compact token map that keeps records inside
// the provider metadata budget, and migration between versions.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Type is an attribute value type.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeDate    Type = "date"
	TypeSecret  Type = "secret"
	TypeURL     Type = "url"
	TypeEmail   Type = "email"
	TypeObject  Type = "object"
	TypeArray   Type = "array"
)

// validTypes gates definitions at version-create time so typos fail fast
// instead of producing unparseable stored values.
var validTypes = map[Type]bool{
	TypeString:  true,
	TypeNumber:  true,
	TypeBoolean: true,
	TypeDate:    true,
	TypeSecret:  true,
	TypeURL:     true,
	TypeEmail:   true,
	TypeObject:  true,
	TypeArray:   true,
}

// Attribute defines one field of a resource schema.
//
// Object attributes may carry nested Attributes; their leaves are
// addressed by dotted paths ("address.city"). An object without declared
// children is stored as one opaque JSON value.
type Attribute struct {
	Type     Type `json:"type"`
	Required bool `json:"required,omitempty"`

	// Default is applied on insert when the field is absent.
	Default any `json:"default,omitempty"`

	// Priority orders truncation under the truncate-data behavior:
	// higher values are kept longer. Zero means unprioritized.
	Priority int `json:"priority,omitempty"`

	// Validators. Nil pointers mean "not set".
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`

	// Attributes holds nested definitions for object types.
	Attributes Attributes `json:"attributes,omitempty"`
}

// Attributes maps field name to definition.
type Attributes map[string]*Attribute

// Validate checks the definitions themselves (not data). Called once at
// version-create time.
func (a Attributes) Validate() error {
	return a.validate("")
}

func (a Attributes) validate(prefix string) error {
	for name, attr := range a {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if attr == nil {
			return fmt.Errorf("attribute %q has no definition", path)
		}
		if strings.Contains(name, ".") {
			return fmt.Errorf("attribute %q: names must not contain dots", path)
		}
		if !validTypes[attr.Type] {
			return fmt.Errorf("attribute %q: unknown type %q", path, attr.Type)
		}
		if len(attr.Attributes) > 0 && attr.Type != TypeObject {
			return fmt.Errorf("attribute %q: nested attributes require type object", path)
		}
		if err := attr.Attributes.validate(path); err != nil {
			return err
		}
	}
	return nil
}

// Path is one flattened leaf of a schema.
type Path struct {
	Name string // dotted path, e.g. "address.city"
	Attr *Attribute
}

// Flatten returns every leaf path in lexicographic order. Object
// attributes with children contribute their leaves; all other attributes
// are leaves themselves. The order is the basis of both the version hash
// and the token map, so it must stay deterministic.
func (a Attributes) Flatten() []Path {
	var out []Path
	a.flatten("", &out)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (a Attributes) flatten(prefix string, out *[]Path) {
	for name, attr := range a {
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		if attr.Type == TypeObject && len(attr.Attributes) > 0 {
			attr.Attributes.flatten(path, out)
			continue
		}
		*out = append(*out, Path{Name: path, Attr: attr})
	}
}

// Leaf resolves a dotted path to its definition, or nil.
func (a Attributes) Leaf(path string) *Attribute {
	parts := strings.Split(path, ".")
	attrs := a
	for i, part := range parts {
		attr, ok := attrs[part]
		if !ok {
			return nil
		}
		if i == len(parts)-1 {
			return attr
		}
		attrs = attr.Attributes
	}
	return nil
}

// HasField reports whether the schema declares a top-level or nested field
// at the given dotted path.
func (a Attributes) HasField(path string) bool {
	return a.Leaf(path) != nil
}
