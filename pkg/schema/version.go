package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is an immutable, hash-identified schema version.
//
// The token map assigns each flattened attribute path a compact key
// ("t0", "t1", ...) used in object metadata, where every byte of key
// length counts against the provider's 2 KB budget. Tokens are assigned
// over the lexicographically sorted paths at create time and then stored
// in the manifest, so the wire format of a version never shifts even if
// the assignment rule ever changes.
type Version struct {
	ID         string            `json:"-"`
	Hash       string            `json:"hash"`
	Attributes Attributes        `json:"attributes"`
	Tokens     map[string]string `json:"tokens"`

	paths   []Path            // cached flatten
	reverse map[string]string // token -> path
	leaves  map[string]*Attribute
}

// NewVersion validates the definitions, computes the content hash, and
// assigns the token map.
func NewVersion(id string, attrs Attributes) (*Version, error) {
	if err := attrs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	v := &Version{
		ID:         id,
		Attributes: attrs,
	}
	v.index()

	tokens := make(map[string]string, len(v.paths))
	for i, p := range v.paths {
		tokens[p.Name] = "t" + strconv.Itoa(i)
	}
	v.Tokens = tokens
	v.buildReverse()

	hash, err := HashAttributes(attrs)
	if err != nil {
		return nil, err
	}
	v.Hash = hash

	return v, nil
}

// Restore rebuilds a Version from manifest fields, keeping the persisted
// token map authoritative. Used when reopening a database.
func Restore(id, hash string, attrs Attributes, tokens map[string]string) (*Version, error) {
	if err := attrs.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stored schema %q: %w", id, err)
	}
	v := &Version{
		ID:         id,
		Hash:       hash,
		Attributes: attrs,
		Tokens:     tokens,
	}
	v.index()
	if len(v.Tokens) == 0 {
		// Older manifests may predate persisted tokens; regenerate with
		// the deterministic rule.
		tokens := make(map[string]string, len(v.paths))
		for i, p := range v.paths {
			tokens[p.Name] = "t" + strconv.Itoa(i)
		}
		v.Tokens = tokens
	}
	v.buildReverse()
	return v, nil
}

func (v *Version) index() {
	v.paths = v.Attributes.Flatten()
	v.leaves = make(map[string]*Attribute, len(v.paths))
	for _, p := range v.paths {
		v.leaves[p.Name] = p.Attr
	}
}

func (v *Version) buildReverse() {
	v.reverse = make(map[string]string, len(v.Tokens))
	for path, token := range v.Tokens {
		v.reverse[token] = path
	}
}

// Paths returns the flattened leaves in lexicographic order.
func (v *Version) Paths() []Path {
	return v.paths
}

// Leaf resolves a dotted path to its definition, or nil.
func (v *Version) Leaf(path string) *Attribute {
	return v.leaves[path]
}

// Token returns the compact metadata key for a path, or "" when the path
// is not part of this version.
func (v *Version) Token(path string) string {
	return v.Tokens[path]
}

// PathOf reverses a token back to its dotted path, or "".
func (v *Version) PathOf(token string) string {
	return v.reverse[token]
}

// HasSecrets reports whether any leaf is secret-typed, which makes an
// encryption passphrase mandatory at connect.
func (v *Version) HasSecrets() bool {
	for _, p := range v.paths {
		if p.Attr.Type == TypeSecret {
			return true
		}
	}
	return false
}

// hashEntry is the canonical per-leaf descriptor fed to the hash. Field
// order is fixed by the struct; leaves are sorted by path.
type hashEntry struct {
	Path      string   `json:"path"`
	Type      Type     `json:"type"`
	Required  bool     `json:"required"`
	Default   any      `json:"default,omitempty"`
	Priority  int      `json:"priority,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	MinLength *int     `json:"minLength,omitempty"`
	MaxLength *int     `json:"maxLength,omitempty"`
	Pattern   string   `json:"pattern,omitempty"`
	Enum      []string `json:"enum,omitempty"`
}

// HashAttributes computes the content hash identifying a schema version.
// It is a pure function of the attribute definitions: two manifests with
// equal hashes describe the same wire format.
func HashAttributes(attrs Attributes) (string, error) {
	paths := attrs.Flatten()
	entries := make([]hashEntry, 0, len(paths))
	for _, p := range paths {
		enum := p.Attr.Enum
		if len(enum) > 0 {
			enum = append([]string(nil), enum...)
			sort.Strings(enum)
		}
		entries = append(entries, hashEntry{
			Path:      p.Name,
			Type:      p.Attr.Type,
			Required:  p.Attr.Required,
			Default:   p.Attr.Default,
			Priority:  p.Attr.Priority,
			Min:       p.Attr.Min,
			Max:       p.Attr.Max,
			MinLength: p.Attr.MinLength,
			MaxLength: p.Attr.MaxLength,
			Pattern:   p.Attr.Pattern,
			Enum:      enum,
		})
	}

	canonical, err := json.Marshal(entries)
	if err != nil {
		return "", fmt.Errorf("hash schema: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// NextVersionID returns the successor of the highest vN among existing
// version ids ("v1" for an empty set). Non-conforming ids are ignored.
func NextVersionID(existing []string) string {
	max := 0
	for _, id := range existing {
		if !strings.HasPrefix(id, "v") {
			continue
		}
		n, err := strconv.Atoi(id[1:])
		if err != nil {
			continue
		}
		if n > max {
			max = n
		}
	}
	return "v" + strconv.Itoa(max+1)
}
