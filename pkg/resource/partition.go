package resource

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/manifest"
	"github.com/s3db-io/s3db/pkg/schema"
)

// Partition index keys follow
//
//	part/<resource>/<partition>/<field>=<value>/.../id=<id>
//
// with fields in sorted name order and values coerced to their canonical
// wire form, so a prefix LIST over any value combination costs O(matching
// rows).

// partitionValue coerces a field value to its stable key segment form.
func partitionValue(typeName string, val any) (string, error) {
	attr := &schema.Attribute{Type: schema.Type(typeName)}
	s, err := schema.CoerceValue(attr, val)
	if err != nil {
		return "", err
	}
	// Key segments must not smuggle separators.
	return url.QueryEscape(s), nil
}

// partitionKeys computes every partition index key the record should own
// given its current flat field values. Partitions with any missing field
// contribute no key.
func (r *Resource) partitionKeys(id string, flat map[string]any) []string {
	r.partMu.RLock()
	defer r.partMu.RUnlock()

	names := make([]string, 0, len(r.partitions))
	for name := range r.partitions {
		names = append(names, name)
	}
	sort.Strings(names)

	var keys []string
	for _, name := range names {
		fields := r.partitions[name]
		segments := make([]string, 0, len(fields)+1)
		complete := true
		for _, field := range sortedFieldNames(fields) {
			val, ok := flat[field]
			if !ok || val == nil {
				complete = false
				break
			}
			seg, err := partitionValue(fields[field], val)
			if err != nil {
				complete = false
				break
			}
			segments = append(segments, field+"="+seg)
		}
		if !complete {
			continue
		}
		key := r.partitionRoot() + name + "/" + strings.Join(segments, "/") + "/id=" + url.QueryEscape(id)
		keys = append(keys, key)
	}
	return keys
}

// partitionDeltaFor diffs the keys owned under the previous values against
// the keys owned under the next values.
func (r *Resource) partitionDeltaFor(id string, prevFlat, nextFlat map[string]any) partitionDelta {
	delta := partitionDelta{resource: r.name, id: id}

	next := make(map[string]bool)
	if nextFlat != nil {
		for _, key := range r.partitionKeys(id, nextFlat) {
			next[key] = true
		}
	}
	prev := make(map[string]bool)
	if prevFlat != nil {
		for _, key := range r.partitionKeys(id, prevFlat) {
			prev[key] = true
		}
	}

	for key := range next {
		if !prev[key] {
			delta.puts = append(delta.puts, key)
		}
	}
	for key := range prev {
		if !next[key] {
			delta.deletes = append(delta.deletes, key)
		}
	}
	sort.Strings(delta.puts)
	sort.Strings(delta.deletes)
	return delta
}

// applyPartitions routes a delta inline or through the pool depending on
// the resource configuration.
func (r *Resource) applyPartitions(ctx context.Context, delta partitionDelta) error {
	if delta.empty() {
		return nil
	}
	if r.asyncParts && r.pool != nil {
		r.pool.Apply(delta)
		return nil
	}
	return applyDelta(ctx, r.store, delta)
}

// flatValues flattens a record for partition key computation, dropping
// reserved fields first.
func (r *Resource) flatValues(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	return r.codec.Version().FlattenData(stripReserved(record))
}

// ----------------------------------------------------------------------------
// Partition listing
// ----------------------------------------------------------------------------

// partitionScanPrefix builds the LIST prefix for a partition and a
// possibly-partial set of field values. Values bind in sorted field order;
// the prefix stops at the first unbound field.
func (r *Resource) partitionScanPrefix(partition string, values map[string]any) (string, error) {
	r.partMu.RLock()
	fields, ok := r.partitions[partition]
	r.partMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("resource %q: unknown partition %q", r.name, partition)
	}

	prefix := r.partitionRoot() + partition + "/"
	for _, field := range sortedFieldNames(fields) {
		val, bound := values[field]
		if !bound {
			break
		}
		seg, err := partitionValue(fields[field], val)
		if err != nil {
			return "", fmt.Errorf("resource %q: partition %q field %q: %w", r.name, partition, field, err)
		}
		prefix += field + "=" + seg + "/"
	}
	return prefix, nil
}

// idFromPartitionKey extracts the record ID from a partition index key.
func idFromPartitionKey(key string) (string, bool) {
	idx := strings.LastIndex(key, "/id=")
	if idx < 0 {
		return "", false
	}
	id, err := url.QueryUnescape(key[idx+len("/id="):])
	if err != nil {
		return "", false
	}
	return id, true
}

// ----------------------------------------------------------------------------
// Orphan handling
// ----------------------------------------------------------------------------

// FindOrphanedPartitions returns the partitions referencing at least one
// field absent from the current schema version.
func (r *Resource) FindOrphanedPartitions() []string {
	v := r.codec.Version()

	r.partMu.RLock()
	defer r.partMu.RUnlock()

	var orphaned []string
	for name, fields := range r.partitions {
		for field := range fields {
			if v.Leaf(field) == nil {
				orphaned = append(orphaned, name)
				break
			}
		}
	}
	sort.Strings(orphaned)
	return orphaned
}

// RemoveOrphanedPartitions prunes orphaned partition definitions from the
// resource and the catalog. Existing index objects are left for the
// background reaper; only the definitions go. With dryRun the candidates
// are returned untouched.
func (r *Resource) RemoveOrphanedPartitions(ctx context.Context, dryRun bool) ([]string, error) {
	orphaned := r.FindOrphanedPartitions()
	if dryRun || len(orphaned) == 0 {
		return orphaned, nil
	}

	r.partMu.Lock()
	for _, name := range orphaned {
		delete(r.partitions, name)
	}
	r.partMu.Unlock()

	if r.catalog != nil {
		err := r.catalog.Update(ctx, func(m *manifest.Manifest) error {
			res := m.Resources[r.name]
			ver := res.Current()
			if ver == nil {
				return nil
			}
			for _, name := range orphaned {
				delete(ver.Partitions, name)
			}
			return nil
		})
		if err != nil {
			return orphaned, err
		}
	}

	if r.bus != nil {
		r.bus.Emit(bus.Event{
			Name:     bus.EventOrphansRemoved,
			Resource: r.name,
			Payload:  orphaned,
		})
	}
	return orphaned, nil
}

// Partitions returns a copy of the current partition definitions.
func (r *Resource) Partitions() map[string]map[string]string {
	r.partMu.RLock()
	defer r.partMu.RUnlock()

	out := make(map[string]map[string]string, len(r.partitions))
	for name, fields := range r.partitions {
		cp := make(map[string]string, len(fields))
		for f, t := range fields {
			cp[f] = t
		}
		out[name] = cp
	}
	return out
}
