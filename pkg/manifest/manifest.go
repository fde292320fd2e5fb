// Package manifest implements the metadata catalog: the s3db.json object
// listing every resource, its schema versions, partitions, and persisted
// hook names, together with the self-healing pipeline that recovers the
// catalog from syntactic, structural, and semantic corruption.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/internal/version"
	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/schema"
)

// Key is the catalog object key under the database prefix.
const Key = "s3db.json"

// FormatVersion is the manifest format version string.
const FormatVersion = "1"

// Manifest is the root catalog. It is a plain tagged record: schema
// versions are referenced by id, hooks by registry name, never by
// embedded pointers.
type Manifest struct {
	Version     string               `json:"version"`
	S3DBVersion string               `json:"s3dbVersion"`
	LastUpdated string               `json:"lastUpdated"`
	Salt        string               `json:"salt,omitempty"`
	Resources   map[string]*Resource `json:"resources"`
}

// Resource is one catalog entry.
type Resource struct {
	CurrentVersion string                 `json:"currentVersion"`
	Versions       map[string]*VersionDef `json:"versions"`
}

// VersionDef is one immutable schema version as stored.
type VersionDef struct {
	Hash       string                `json:"hash"`
	Behavior   string                `json:"behavior,omitempty"`
	Attributes schema.Attributes     `json:"attributes"`
	Tokens     map[string]string     `json:"tokens,omitempty"`
	Partitions map[string]*Partition `json:"partitions,omitempty"`
	Hooks      map[string][]string   `json:"hooks,omitempty"`
}

// Partition is a partition definition: field name to attribute type.
type Partition struct {
	Fields map[string]string `json:"fields"`
}

// New returns a blank manifest.
func New() *Manifest {
	return &Manifest{
		Version:     FormatVersion,
		S3DBVersion: version.Version,
		LastUpdated: time.Now().UTC().Format(time.RFC3339),
		Resources:   make(map[string]*Resource),
	}
}

// Current returns the resource's current version definition, or nil.
func (r *Resource) Current() *VersionDef {
	if r == nil {
		return nil
	}
	return r.Versions[r.CurrentVersion]
}

// Catalog owns the manifest lifecycle: load and heal at connect, gated
// writes afterwards. The manifest is effectively single-writer: a
// process-local mutex serializes saves; cross-process races resolve to
// last writer wins with a logged warning when LastUpdated regresses.
type Catalog struct {
	store blob.Store
	bus   *bus.Bus

	mu       sync.Mutex
	manifest *Manifest
}

// Open loads the catalog, healing or creating it as needed. It never
// fails on a corrupt manifest: the worst case backs up the corrupt body
// and starts blank (panic mode), emitting metadataHealed either way.
func Open(ctx context.Context, store blob.Store, b *bus.Bus) (*Catalog, error) {
	c := &Catalog{store: store, bus: b}

	obj, err := store.Get(ctx, Key)
	if err != nil {
		if errs.KindOf(err) == errs.KindNoSuchKey {
			c.manifest = New()
			if err := c.save(ctx); err != nil {
				return nil, fmt.Errorf("create manifest: %w", err)
			}
			return c, nil
		}
		return nil, fmt.Errorf("load manifest: %w", err)
	}

	m, steps, healErr := Heal(obj.Body)
	if healErr != nil {
		// Panic mode: preserve the corrupt body, start blank.
		backupKey := fmt.Sprintf("%s.corrupted.%s.backup", Key, time.Now().UTC().Format("2006-01-02T15-04-05Z"))
		if err := store.Put(ctx, blob.PutInput{
			Key:         backupKey,
			Body:        obj.Body,
			ContentType: "application/json",
		}); err != nil {
			return nil, fmt.Errorf("back up corrupt manifest: %w", err)
		}
		logger.Error("manifest unrecoverable, backed up and reset",
			"backup", backupKey, "error", healErr)

		m = New()
		steps = append(steps, HealStep{Step: StepPanic, Detail: "corrupt body backed up to " + backupKey})
	}

	c.manifest = m

	if len(steps) > 0 {
		if err := c.save(ctx); err != nil {
			return nil, fmt.Errorf("persist healed manifest: %w", err)
		}
		if b != nil {
			b.Emit(bus.Event{
				Name:    bus.EventMetadataHealed,
				Payload: steps,
			})
		}
		logger.Warn("manifest healed", "steps", len(steps))
	}

	return c, nil
}

// Snapshot returns a deep copy of the current manifest for readers that
// must not observe concurrent updates.
func (c *Catalog) Snapshot() *Manifest {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, _ := json.Marshal(c.manifest)
	var out Manifest
	_ = json.Unmarshal(raw, &out)
	if out.Resources == nil {
		out.Resources = make(map[string]*Resource)
	}
	return &out
}

// Resource returns the catalog entry for a resource, or nil.
func (c *Catalog) Resource(name string) *Resource {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.manifest.Resources[name]
}

// Salt returns the per-database encryption salt, generating and
// persisting one on first use.
func (c *Catalog) Salt(ctx context.Context, generate func() (string, error)) (string, error) {
	c.mu.Lock()
	if c.manifest.Salt != "" {
		salt := c.manifest.Salt
		c.mu.Unlock()
		return salt, nil
	}
	c.mu.Unlock()

	salt, err := generate()
	if err != nil {
		return "", err
	}
	err = c.Update(ctx, func(m *Manifest) error {
		if m.Salt == "" {
			m.Salt = salt
		}
		salt = m.Salt
		return nil
	})
	return salt, err
}

// Update applies fn to the manifest under the writer lock, bumps
// LastUpdated, and persists. An error from fn leaves the manifest
// untouched.
func (c *Catalog) Update(ctx context.Context, fn func(m *Manifest) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Work on a copy so a failing fn cannot leave partial edits behind.
	raw, err := json.Marshal(c.manifest)
	if err != nil {
		return fmt.Errorf("snapshot manifest: %w", err)
	}
	var next Manifest
	if err := json.Unmarshal(raw, &next); err != nil {
		return fmt.Errorf("snapshot manifest: %w", err)
	}
	if next.Resources == nil {
		next.Resources = make(map[string]*Resource)
	}

	if err := fn(&next); err != nil {
		return err
	}

	next.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	next.S3DBVersion = version.Version
	c.manifest = &next
	return c.save(ctx)
}

// save persists the manifest. Caller holds the lock (or is Open, before
// the catalog is shared).
func (c *Catalog) save(ctx context.Context) error {
	// Cross-process race detection: warn when our write would move
	// LastUpdated backwards relative to what is stored.
	if obj, err := c.store.Get(ctx, Key); err == nil {
		var stored struct {
			LastUpdated string `json:"lastUpdated"`
		}
		if json.Unmarshal(obj.Body, &stored) == nil &&
			stored.LastUpdated > c.manifest.LastUpdated {
			logger.Warn("manifest lastUpdated moving backwards, another writer is active",
				"stored", stored.LastUpdated, "writing", c.manifest.LastUpdated)
		}
	}

	body, err := json.MarshalIndent(c.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	return c.store.Put(ctx, blob.PutInput{
		Key:         Key,
		Body:        body,
		ContentType: "application/json",
	})
}
