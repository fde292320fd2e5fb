// Package resource implements the record collection layer: CRUD over the
// data prefix, partition index maintenance, the hook and middleware
// pipeline, and the delegation points for counters and queues.
//
// Storage layout under the database prefix:
//
//	data/<resource>/<id>                               the record object
//	part/<resource>/<partition>/<f>=<v>/.../id=<id>    partition index keys
//
// Record fields live in object user-metadata through the codec; partition
// index objects are empty markers whose key encodes the field values.
package resource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/codec"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/manifest"
	"github.com/s3db-io/s3db/pkg/resource/idgen"
	"github.com/s3db-io/s3db/pkg/schema"
)

// FieldID is the reserved record key carrying the record ID. It is never
// stored as a field; the ID is the object key suffix.
const FieldID = "id"

// Counter applies eventually-consistent numeric deltas to record fields.
// Bound by the counter engine at connect time.
type Counter interface {
	Add(ctx context.Context, id, field string, amount float64) (float64, error)
	Sub(ctx context.Context, id, field string, amount float64) (float64, error)
	Set(ctx context.Context, id, field string, value float64) (float64, error)
}

// Queue accepts messages for asynchronous processing. Bound by the queue
// runtime when the resource is queue-enabled.
type Queue interface {
	Enqueue(ctx context.Context, payload map[string]any) (string, error)
	Stats(ctx context.Context) (map[string]int64, error)
}

// Config assembles a resource.
type Config struct {
	// Name is the resource name, used in keys and events.
	Name string

	// Store is the blob client scoped to the database prefix.
	Store blob.Store

	// Codec encodes records for the resource's current schema version.
	Codec *codec.Codec

	// Bus receives inserted/updated/deleted events. Optional.
	Bus *bus.Bus

	// Catalog persists partition and hook definitions. Optional; required
	// only for RemoveOrphanedPartitions and persisted hooks.
	Catalog *manifest.Catalog

	// IDs generates record IDs when Insert data carries none. Defaults to
	// fixed-length random.
	IDs idgen.Generator

	// Partitions maps partition name to field name to attribute type.
	Partitions map[string]map[string]string

	// AsyncPartitions routes partition index deltas through the background
	// pool instead of applying them inline.
	AsyncPartitions bool

	// PartitionWorkers sizes the async pool (default 4).
	PartitionWorkers int

	// PersistHooks serializes named hook registrations into the manifest
	// so they rehydrate on reconnect.
	PersistHooks bool
}

// Resource is one record collection. Safe for concurrent use.
type Resource struct {
	name    string
	store   blob.Store
	codec   *codec.Codec
	bus     *bus.Bus
	catalog *manifest.Catalog
	ids     idgen.Generator

	asyncParts   bool
	persistHooks bool

	partMu     sync.RWMutex
	partitions map[string]map[string]string

	hookMu sync.RWMutex
	hooks  map[HookPoint][]registeredHook

	mwMu       sync.RWMutex
	middleware map[string][]Middleware

	delegMu sync.RWMutex
	counter Counter
	queue   Queue

	pool *partitionPool
}

// New validates the configuration and returns a resource. Named hooks
// already present in the catalog are rehydrated from the process registry.
func New(cfg Config) (*Resource, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("resource: name is required")
	}
	if strings.ContainsAny(cfg.Name, "/ ") {
		return nil, fmt.Errorf("resource: name %q must not contain slashes or spaces", cfg.Name)
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("resource %q: store is required", cfg.Name)
	}
	if cfg.Codec == nil {
		return nil, fmt.Errorf("resource %q: codec is required", cfg.Name)
	}
	if cfg.IDs == nil {
		cfg.IDs = idgen.NewRandom(0)
	}

	partitions := make(map[string]map[string]string, len(cfg.Partitions))
	for name, fields := range cfg.Partitions {
		if name == "" || len(fields) == 0 {
			return nil, fmt.Errorf("resource %q: partition definitions need a name and at least one field", cfg.Name)
		}
		cp := make(map[string]string, len(fields))
		for f, t := range fields {
			cp[f] = t
		}
		partitions[name] = cp
	}

	r := &Resource{
		name:         cfg.Name,
		store:        cfg.Store,
		codec:        cfg.Codec,
		bus:          cfg.Bus,
		catalog:      cfg.Catalog,
		ids:          cfg.IDs,
		asyncParts:   cfg.AsyncPartitions,
		persistHooks: cfg.PersistHooks,
		partitions:   partitions,
		hooks:        make(map[HookPoint][]registeredHook),
		middleware:   make(map[string][]Middleware),
	}

	if cfg.AsyncPartitions {
		workers := cfg.PartitionWorkers
		if workers <= 0 {
			workers = defaultPartitionWorkers
		}
		r.pool = newPartitionPool(cfg.Store, workers)
	}

	r.rehydrateHooks()
	return r, nil
}

// Name returns the resource name.
func (r *Resource) Name() string {
	return r.name
}

// Schema returns the bound schema version.
func (r *Resource) Schema() *schema.Version {
	return r.codec.Version()
}

// Codec returns the bound codec.
func (r *Resource) Codec() *codec.Codec {
	return r.codec
}

// Close drains and stops the async partition pool, if any.
func (r *Resource) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// DrainPartitions blocks until all queued async partition deltas are
// applied. Used by tests and by graceful shutdown.
func (r *Resource) DrainPartitions() {
	if r.pool != nil {
		r.pool.Drain()
	}
}

// ============================================================================
// Keys
// ============================================================================

func (r *Resource) dataKey(id string) string {
	return "data/" + r.name + "/" + id
}

func (r *Resource) dataPrefix() string {
	return "data/" + r.name + "/"
}

func (r *Resource) partitionRoot() string {
	return "part/" + r.name + "/"
}

// idFromKey strips the data prefix from a listed key.
func (r *Resource) idFromKey(key string) string {
	return strings.TrimPrefix(key, r.dataPrefix())
}

// sortedFieldNames returns a partition's field names in key order.
func sortedFieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for f := range fields {
		names = append(names, f)
	}
	sort.Strings(names)
	return names
}

// emit publishes a lifecycle event when a bus is attached.
func (r *Resource) emit(name, id string, payload any) {
	if r.bus == nil {
		return
	}
	r.bus.Emit(bus.Event{Name: name, Resource: r.name, ID: id, Payload: payload})
}

// errNotFound builds the canonical not-found error for a record.
func (r *Resource) errNotFound(id string) error {
	return errs.NewNotFound(r.name, id)
}

// stripReserved removes the ID and decode markers so they never round-trip
// into stored metadata.
func stripReserved(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		switch k {
		case FieldID, codec.FieldDecryptionFailed, codec.FieldTruncated:
			continue
		}
		out[k] = v
	}
	return out
}
