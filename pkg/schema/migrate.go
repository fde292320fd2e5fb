package schema

import (
	"fmt"
)

// ChangeOp classifies one step of a schema migration.
type ChangeOp string

const (
	ChangeAdd    ChangeOp = "add"
	ChangeRemove ChangeOp = "remove"
	ChangeRetype ChangeOp = "retype"
)

// Change is one field-level difference between two versions.
type Change struct {
	Op   ChangeOp
	Path string
	From Type // zero for add
	To   Type // zero for remove
}

// Diff computes the field-level changes needed to move a record from one
// version to another. Validator-only edits (min/max/pattern) do not
// produce changes: stored values stay readable either way.
func Diff(from, to *Version) []Change {
	var changes []Change

	toLeaves := make(map[string]*Attribute, len(to.paths))
	for _, p := range to.paths {
		toLeaves[p.Name] = p.Attr
	}

	for _, p := range from.paths {
		target, ok := toLeaves[p.Name]
		if !ok {
			changes = append(changes, Change{Op: ChangeRemove, Path: p.Name, From: p.Attr.Type})
			continue
		}
		if target.Type != p.Attr.Type {
			changes = append(changes, Change{Op: ChangeRetype, Path: p.Name, From: p.Attr.Type, To: target.Type})
		}
		delete(toLeaves, p.Name)
	}

	for _, p := range to.paths {
		if _, stillPending := toLeaves[p.Name]; stillPending {
			changes = append(changes, Change{Op: ChangeAdd, Path: p.Name, To: p.Attr.Type})
		}
	}

	return changes
}

// Migrate rewrites flat record data decoded under `from` into the shape of
// `to`: removed fields are dropped, added fields get their defaults, and
// retyped fields are re-parsed through the wire string form. A retype the
// wire form cannot express (e.g. "abc" into number) fails.
func Migrate(flat map[string]any, from, to *Version) (map[string]any, error) {
	out := make(map[string]any, len(flat))

	for path, val := range flat {
		target := to.Leaf(path)
		if target == nil {
			continue // removed
		}
		source := from.Leaf(path)
		if source == nil || source.Type == target.Type {
			out[path] = val
			continue
		}

		wire, err := CoerceValue(source, val)
		if err != nil {
			return nil, fmt.Errorf("migrate %q: %w", path, err)
		}
		parsed, err := ParseValue(target, wire)
		if err != nil {
			return nil, fmt.Errorf("migrate %q from %s to %s: %w", path, source.Type, target.Type, err)
		}
		out[path] = parsed
	}

	return to.ApplyDefaults(out), nil
}
