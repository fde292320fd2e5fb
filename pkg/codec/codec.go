// Package codec maps validated records to and from their stored form:
// flattened dotted paths rewritten to compact tokens, values coerced to
// canonical wire strings, secret fields sealed with AES-GCM, the whole
// field set optionally gzip-packed, and the result routed to object
// metadata or body according to the resource behavior and the provider's
// 2 KB metadata budget.
package codec

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/crypto"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/schema"
)

// Behavior is the record-sizing policy applied when encoded metadata
// exceeds the provider cap.
type Behavior string

const (
	// BehaviorUserManaged refuses oversized records; sizing is the
	// caller's problem.
	BehaviorUserManaged Behavior = "user-managed"

	// BehaviorBodyOverflow moves overflow fields into the object body.
	BehaviorBodyOverflow Behavior = "body-overflow"

	// BehaviorTruncateData drops non-required fields until the record fits.
	BehaviorTruncateData Behavior = "truncate-data"

	// BehaviorEnforceLimits refuses oversized records.
	BehaviorEnforceLimits Behavior = "enforce-limits"
)

// DefaultBehavior applies when a resource does not configure one.
const DefaultBehavior = BehaviorUserManaged

// ValidBehavior reports whether b is a known behavior.
func ValidBehavior(b Behavior) bool {
	switch b {
	case BehaviorUserManaged, BehaviorBodyOverflow, BehaviorTruncateData, BehaviorEnforceLimits:
		return true
	}
	return false
}

// TruncateOrder selects which non-required field falls first under
// truncate-data.
type TruncateOrder string

const (
	// TruncateByPriority drops ascending declared priority, then
	// lexicographic path order. The default.
	TruncateByPriority TruncateOrder = "priority"

	// TruncateByDocument drops in reverse lexicographic path order,
	// ignoring priorities.
	TruncateByDocument TruncateOrder = "document"
)

// Reserved metadata keys. Everything else in the user-metadata namespace
// is an attribute token.
const (
	KeyVersion   = "_v"  // schema version id
	KeyHash      = "_h"  // content hash over the wire fields
	KeyTimestamp = "_ts" // last write time, RFC 3339
	KeyOverflow  = "_overflow"
	KeyTruncated = "_truncated"
	KeyPacked    = "_z" // gzip-packed field set
)

// Record-level markers surfaced on decode.
const (
	FieldDecryptionFailed = "_decryptionFailed"
	FieldTruncated        = "_truncated"
)

// compressionThreshold is the minimum byte saving before the packed form
// is preferred over individual metadata keys.
const compressionThreshold = 64

// Config configures a codec bound to one schema version.
type Config struct {
	Resource string
	Version  *schema.Version
	Behavior Behavior

	// Cipher seals secret-typed fields. Required when the version has
	// secrets; connect fails earlier otherwise.
	Cipher *crypto.Cipher

	// Compression enables the packed form when it saves enough bytes.
	Compression bool

	// MetadataLimit overrides the provider cap; zero means
	// blob.MetadataSizeLimit.
	MetadataLimit int

	TruncateOrder TruncateOrder
}

// Codec encodes and decodes records for one schema version. Safe for
// concurrent use.
type Codec struct {
	cfg Config
}

// New validates the configuration and returns a codec.
func New(cfg Config) (*Codec, error) {
	if cfg.Version == nil {
		return nil, fmt.Errorf("codec: schema version is required")
	}
	if cfg.Behavior == "" {
		cfg.Behavior = DefaultBehavior
	}
	if !ValidBehavior(cfg.Behavior) {
		return nil, fmt.Errorf("codec: unknown behavior %q", cfg.Behavior)
	}
	if cfg.MetadataLimit == 0 {
		cfg.MetadataLimit = blob.MetadataSizeLimit
	}
	if cfg.TruncateOrder == "" {
		cfg.TruncateOrder = TruncateByPriority
	}
	if cfg.Version.HasSecrets() && cfg.Cipher == nil {
		return nil, fmt.Errorf("codec: resource %q has secret attributes but no passphrase is configured", cfg.Resource)
	}
	return &Codec{cfg: cfg}, nil
}

// Version returns the bound schema version.
func (c *Codec) Version() *schema.Version {
	return c.cfg.Version
}

// Behavior returns the configured sizing behavior.
func (c *Codec) Behavior() Behavior {
	return c.cfg.Behavior
}

// Encoded is a record rendered for storage.
type Encoded struct {
	Metadata    blob.Metadata
	Body        []byte
	ContentType string
}

// Validate runs the flatten + defaults + validate phases without encoding.
// Returns the defaulted flat data and any field failures.
func (c *Codec) Validate(data map[string]any) (map[string]any, []errs.FieldError) {
	flat := c.cfg.Version.FlattenData(data)
	flat = c.cfg.Version.ApplyDefaults(flat)
	return flat, c.cfg.Version.Validate(flat)
}

// Encode renders a record for storage, applying the full pipeline.
func (c *Codec) Encode(data map[string]any) (*Encoded, error) {
	flat, fieldErrs := c.Validate(data)
	if len(fieldErrs) > 0 {
		return nil, errs.NewValidation(c.cfg.Resource, fieldErrs)
	}

	// Coerce and encrypt into the token -> wire-string map.
	wire := make(map[string]string, len(flat))
	for path, val := range flat {
		attr := c.cfg.Version.Leaf(path)
		if attr == nil {
			// Undeclared fields ride along as raw strings under their own
			// path; the token map cannot shorten what it has never seen.
			wire[path] = fmt.Sprintf("%v", val)
			continue
		}
		s, err := schema.CoerceValue(attr, val)
		if err != nil {
			return nil, errs.NewValidation(c.cfg.Resource, []errs.FieldError{{
				Field: path, Rule: "type", Message: err.Error(),
			}})
		}
		if attr.Type == schema.TypeSecret {
			sealed, err := c.cfg.Cipher.Encrypt(s)
			if err != nil {
				return nil, fmt.Errorf("encrypt %q: %w", path, err)
			}
			s = sealed
		}
		key := c.cfg.Version.Token(path)
		if key == "" {
			key = path
		}
		wire[key] = s
	}

	meta := blob.Metadata{
		KeyVersion:   c.cfg.Version.ID,
		KeyHash:      contentHash(wire),
		KeyTimestamp: time.Now().UTC().Format(time.RFC3339),
	}

	// Packed form when compression is on and it pays for itself.
	if c.cfg.Compression {
		packed, err := packFields(wire)
		if err != nil {
			return nil, err
		}
		plainSize := fieldsSize(wire)
		if plainSize-len(KeyPacked)-len(packed) >= compressionThreshold {
			meta[KeyPacked] = packed
			if meta.Size() <= c.cfg.MetadataLimit {
				return &Encoded{Metadata: meta}, nil
			}
			// Even packed it does not fit; fall through to the behavior
			// with the unpacked form so overflow routing sees real fields.
			delete(meta, KeyPacked)
		}
	}

	for k, v := range wire {
		meta[k] = v
	}
	if meta.Size() <= c.cfg.MetadataLimit {
		return &Encoded{Metadata: meta}, nil
	}

	switch c.cfg.Behavior {
	case BehaviorUserManaged, BehaviorEnforceLimits:
		return nil, errs.NewFieldOverflow(c.cfg.Resource, meta.Size(), c.cfg.MetadataLimit)

	case BehaviorTruncateData:
		return c.truncate(meta, wire)

	case BehaviorBodyOverflow:
		return c.overflow(meta, wire)
	}

	return nil, errs.NewFieldOverflow(c.cfg.Resource, meta.Size(), c.cfg.MetadataLimit)
}

// truncate drops non-required fields in the configured order until the
// metadata fits, marking the record as truncated.
func (c *Codec) truncate(meta blob.Metadata, wire map[string]string) (*Encoded, error) {
	meta[KeyTruncated] = "1"

	for _, key := range c.dropOrder(wire) {
		if meta.Size() <= c.cfg.MetadataLimit {
			break
		}
		delete(meta, key)
	}

	if meta.Size() > c.cfg.MetadataLimit {
		return nil, errs.NewFieldOverflow(c.cfg.Resource, meta.Size(), c.cfg.MetadataLimit)
	}
	return &Encoded{Metadata: meta}, nil
}

// dropOrder lists droppable (non-required) wire keys, first to fall first.
func (c *Codec) dropOrder(wire map[string]string) []string {
	type candidate struct {
		key      string
		path     string
		priority int
	}
	var candidates []candidate
	for key := range wire {
		path := c.cfg.Version.PathOf(key)
		if path == "" {
			path = key
		}
		attr := c.cfg.Version.Leaf(path)
		if attr != nil && attr.Required {
			continue
		}
		priority := 0
		if attr != nil {
			priority = attr.Priority
		}
		candidates = append(candidates, candidate{key: key, path: path, priority: priority})
	}

	switch c.cfg.TruncateOrder {
	case TruncateByDocument:
		sort.Slice(candidates, func(i, j int) bool { return candidates[i].path > candidates[j].path })
	default:
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].priority != candidates[j].priority {
				return candidates[i].priority < candidates[j].priority
			}
			return candidates[i].path > candidates[j].path
		})
	}

	keys := make([]string, len(candidates))
	for i, cand := range candidates {
		keys[i] = cand.key
	}
	return keys
}

// overflow moves fields into the body as JSON until the metadata fits.
// Required fields stay in metadata as long as possible so partition scans
// and quick HEADs keep working.
func (c *Codec) overflow(meta blob.Metadata, wire map[string]string) (*Encoded, error) {
	meta[KeyOverflow] = "1"

	type candidate struct {
		key      string
		required bool
		size     int
	}
	candidates := make([]candidate, 0, len(wire))
	for key, val := range wire {
		path := c.cfg.Version.PathOf(key)
		if path == "" {
			path = key
		}
		attr := c.cfg.Version.Leaf(path)
		candidates = append(candidates, candidate{
			key:      key,
			required: attr != nil && attr.Required,
			size:     len(key) + len(val),
		})
	}
	// Optional before required, big before small.
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].required != candidates[j].required {
			return !candidates[i].required
		}
		return candidates[i].size > candidates[j].size
	})

	overflowed := make(map[string]string)
	for _, cand := range candidates {
		if meta.Size() <= c.cfg.MetadataLimit {
			break
		}
		overflowed[cand.key] = meta[cand.key]
		delete(meta, cand.key)
	}

	if meta.Size() > c.cfg.MetadataLimit {
		return nil, errs.NewFieldOverflow(c.cfg.Resource, meta.Size(), c.cfg.MetadataLimit)
	}

	body, err := json.Marshal(overflowed)
	if err != nil {
		return nil, fmt.Errorf("marshal overflow body: %w", err)
	}
	return &Encoded{
		Metadata:    meta,
		Body:        body,
		ContentType: "application/json",
	}, nil
}

// Decode reverses Encode. A failed field decryption tags the record with
// _decryptionFailed=true and keeps going, so one bad field never aborts a
// listing batch.
func (c *Codec) Decode(meta blob.Metadata, body []byte) (map[string]any, error) {
	wire := make(map[string]string)

	if packed, ok := meta[KeyPacked]; ok {
		unpacked, err := unpackFields(packed)
		if err != nil {
			return nil, fmt.Errorf("unpack fields: %w", err)
		}
		for k, v := range unpacked {
			wire[k] = v
		}
	}

	for k, v := range meta {
		switch k {
		case KeyVersion, KeyHash, KeyTimestamp, KeyOverflow, KeyTruncated, KeyPacked:
			continue
		}
		wire[k] = v
	}

	if meta[KeyOverflow] == "1" && len(body) > 0 {
		var overflowed map[string]string
		if err := json.Unmarshal(body, &overflowed); err != nil {
			return nil, fmt.Errorf("parse overflow body: %w", err)
		}
		for k, v := range overflowed {
			wire[k] = v
		}
	}

	flat := make(map[string]any, len(wire))
	decryptionFailed := false

	for key, s := range wire {
		path := c.cfg.Version.PathOf(key)
		if path == "" {
			path = key
		}
		attr := c.cfg.Version.Leaf(path)
		if attr == nil {
			flat[path] = s
			continue
		}

		if attr.Type == schema.TypeSecret {
			plain, err := c.cfg.Cipher.Decrypt(s)
			if err != nil {
				decryptionFailed = true
				continue
			}
			s = plain
		}

		val, err := schema.ParseValue(attr, s)
		if err != nil {
			// A value the schema cannot parse back (e.g. after a manual
			// edit) surfaces raw rather than poisoning the record.
			flat[path] = s
			continue
		}
		flat[path] = val
	}

	record := schema.UnflattenData(flat)
	if decryptionFailed {
		record[FieldDecryptionFailed] = true
	}
	if meta[KeyTruncated] == "1" {
		record[FieldTruncated] = true
	}
	return record, nil
}

// contentHash fingerprints the wire fields for integrity checks. Sixteen
// hex characters keep the metadata cost fixed.
func contentHash(wire map[string]string) string {
	keys := make([]string, 0, len(wire))
	for k := range wire {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(wire[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

func fieldsSize(wire map[string]string) int {
	total := 0
	for k, v := range wire {
		total += len(k) + len(v)
	}
	return total
}
