package database

import (
	"context"
	"fmt"
	"sort"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/crypto"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/manifest"
	"github.com/s3db-io/s3db/pkg/resource"
	"github.com/s3db-io/s3db/pkg/resource/idgen"
	"github.com/s3db-io/s3db/pkg/schema"
)

// ResourceOptions declares (or re-declares) a resource.
type ResourceOptions struct {
	// Name is the resource name. Required.
	Name string

	// Attributes is the schema definition. Required.
	Attributes schema.Attributes

	// Behavior selects the metadata-cap strategy. Defaults to
	// user-managed.
	Behavior codec.Behavior

	// TruncateOrder selects the truncate-data drop order.
	TruncateOrder codec.TruncateOrder

	// Partitions maps partition name to field name to attribute type.
	Partitions map[string]map[string]string

	// AsyncPartitions applies partition index deltas in the background.
	AsyncPartitions bool

	// PartitionWorkers sizes the async pool.
	PartitionWorkers int

	// IDs overrides the ID generator (default fixed-length random).
	IDs idgen.Generator

	// PersistHooks stores named hook registrations in the manifest.
	PersistHooks bool
}

// CreateResource declares a resource, creating a new schema version only
// when the attribute definitions actually changed. Re-declaring an
// identical schema is idempotent and reuses the stored version, so
// applications can declare their resources unconditionally at startup.
func (db *DB) CreateResource(ctx context.Context, opts ResourceOptions) (*resource.Resource, error) {
	if opts.Name == "" {
		return nil, fmt.Errorf("database: resource name is required")
	}
	if len(opts.Attributes) == 0 {
		return nil, fmt.Errorf("database: resource %q needs at least one attribute", opts.Name)
	}
	if opts.Behavior == "" {
		opts.Behavior = codec.DefaultBehavior
	}

	hash, err := schema.HashAttributes(opts.Attributes)
	if err != nil {
		return nil, fmt.Errorf("resource %q: %w", opts.Name, err)
	}

	// Fast path: same schema already live in this process.
	db.mu.RLock()
	if r, ok := db.resources[opts.Name]; ok && r.Schema().Hash == hash {
		db.mu.RUnlock()
		return r, nil
	}
	db.mu.RUnlock()

	var (
		versionID string
		version   *schema.Version
		created   bool
	)
	err = db.catalog.Update(ctx, func(m *manifest.Manifest) error {
		entry := m.Resources[opts.Name]
		if entry == nil {
			entry = &manifest.Resource{Versions: make(map[string]*manifest.VersionDef)}
			m.Resources[opts.Name] = entry
		}

		// Reuse a stored version with the same content hash.
		for id, def := range entry.Versions {
			if def.Hash == hash {
				versionID = id
				restored, rerr := schema.Restore(id, def.Hash, def.Attributes, def.Tokens)
				if rerr != nil {
					return rerr
				}
				version = restored
				entry.CurrentVersion = id
				def.Behavior = string(opts.Behavior)
				def.Partitions = partitionDefs(opts.Partitions)
				return nil
			}
		}

		ids := make([]string, 0, len(entry.Versions))
		for id := range entry.Versions {
			ids = append(ids, id)
		}
		versionID = schema.NextVersionID(ids)

		v, verr := schema.NewVersion(versionID, opts.Attributes)
		if verr != nil {
			return fmt.Errorf("resource %q: %w", opts.Name, verr)
		}
		version = v
		created = true

		entry.Versions[versionID] = &manifest.VersionDef{
			Hash:       v.Hash,
			Behavior:   string(opts.Behavior),
			Attributes: opts.Attributes,
			Tokens:     v.Tokens,
			Partitions: partitionDefs(opts.Partitions),
		}
		entry.CurrentVersion = versionID
		return nil
	})
	if err != nil {
		return nil, err
	}

	r, err := db.buildResource(ctx, opts.Name, version, buildOptions{
		behavior:         opts.Behavior,
		truncateOrder:    opts.TruncateOrder,
		partitions:       opts.Partitions,
		asyncPartitions:  opts.AsyncPartitions,
		partitionWorkers: opts.PartitionWorkers,
		ids:              opts.IDs,
		persistHooks:     opts.PersistHooks,
	})
	if err != nil {
		return nil, err
	}

	if created {
		logger.Info("resource created", "resource", opts.Name, "version", versionID)
		db.bus.Emit(bus.Event{
			Name:     bus.EventResourceCreated,
			Resource: opts.Name,
			Payload:  versionID,
		})
	}
	return r, nil
}

// Resource returns an open resource by name.
func (db *DB) Resource(name string) (*resource.Resource, error) {
	db.mu.RLock()
	r, ok := db.resources[name]
	db.mu.RUnlock()
	if !ok {
		return nil, errs.NewNotFound("resource", name)
	}
	return r, nil
}

// Resources returns the open resource names, sorted.
func (db *DB) Resources() []string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	names := make([]string, 0, len(db.resources))
	for name := range db.resources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type buildOptions struct {
	behavior         codec.Behavior
	truncateOrder    codec.TruncateOrder
	partitions       map[string]map[string]string
	asyncPartitions  bool
	partitionWorkers int
	ids              idgen.Generator
	persistHooks     bool
}

// buildResource assembles the codec and resource for a schema version
// and registers the handle.
func (db *DB) buildResource(ctx context.Context, name string, version *schema.Version, opts buildOptions) (*resource.Resource, error) {
	var cipher *crypto.Cipher
	if version.HasSecrets() {
		c, err := db.cipherFor(ctx)
		if err != nil {
			return nil, err
		}
		cipher = c
	}

	cdc, err := codec.New(codec.Config{
		Resource:      name,
		Version:       version,
		Behavior:      opts.behavior,
		Cipher:        cipher,
		Compression:   true,
		TruncateOrder: opts.truncateOrder,
	})
	if err != nil {
		return nil, err
	}

	r, err := resource.New(resource.Config{
		Name:             name,
		Store:            db.store,
		Codec:            cdc,
		Bus:              db.bus,
		Catalog:          db.catalog,
		IDs:              opts.ids,
		Partitions:       opts.partitions,
		AsyncPartitions:  opts.asyncPartitions,
		PartitionWorkers: opts.partitionWorkers,
		PersistHooks:     opts.persistHooks,
	})
	if err != nil {
		return nil, err
	}

	if db.recCache != nil {
		db.recCache.Attach(r)
	}

	db.mu.Lock()
	if prev, ok := db.resources[name]; ok && prev != r {
		prev.Close()
	}
	db.resources[name] = r
	db.mu.Unlock()
	return r, nil
}

// rehydrate rebuilds every catalogued resource from the manifest. A
// resource whose stored schema no longer restores is skipped with an
// error log rather than failing the whole connect; the healing pipeline
// has already done what it could.
func (db *DB) rehydrate(ctx context.Context) error {
	snapshot := db.catalog.Snapshot()

	names := make([]string, 0, len(snapshot.Resources))
	for name := range snapshot.Resources {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		entry := snapshot.Resources[name]
		def := entry.Current()
		if def == nil {
			logger.Error("resource has no current version, skipping", "resource", name)
			continue
		}

		version, err := schema.Restore(entry.CurrentVersion, def.Hash, def.Attributes, def.Tokens)
		if err != nil {
			logger.Error("stored schema does not restore, skipping resource",
				"resource", name, "version", entry.CurrentVersion, "error", err)
			continue
		}

		if _, err := db.buildResource(ctx, name, version, buildOptions{
			behavior:   codec.Behavior(def.Behavior),
			partitions: partitionFields(def.Partitions),
		}); err != nil {
			return fmt.Errorf("rehydrate resource %q: %w", name, err)
		}
	}
	return nil
}

func partitionDefs(partitions map[string]map[string]string) map[string]*manifest.Partition {
	if len(partitions) == 0 {
		return nil
	}
	out := make(map[string]*manifest.Partition, len(partitions))
	for name, fields := range partitions {
		cp := make(map[string]string, len(fields))
		for f, t := range fields {
			cp[f] = t
		}
		out[name] = &manifest.Partition{Fields: cp}
	}
	return out
}

func partitionFields(defs map[string]*manifest.Partition) map[string]map[string]string {
	if len(defs) == 0 {
		return nil
	}
	out := make(map[string]map[string]string, len(defs))
	for name, def := range defs {
		if def == nil {
			continue
		}
		cp := make(map[string]string, len(def.Fields))
		for f, t := range def.Fields {
			cp[f] = t
		}
		out[name] = cp
	}
	return out
}
