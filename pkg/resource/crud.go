package resource

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/schema"
)

// writeConcurrency bounds parallel record operations inside batch calls.
const writeConcurrency = 8

// Insert stores a new record. When data carries no "id" the configured
// generator assigns one; a caller-provided ID must not already exist.
// Returns the stored record with defaults applied and the ID set.
func (r *Resource) Insert(ctx context.Context, data map[string]any) (map[string]any, error) {
	out, err := r.run(ctx, OpInsert, map[string]any{"data": data}, func(oc *OpContext) (any, error) {
		d, _ := oc.Args["data"].(map[string]any)
		return r.doInsert(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := out.(map[string]any)
	return rec, nil
}

func (r *Resource) doInsert(ctx context.Context, data map[string]any) (map[string]any, error) {
	if data == nil {
		data = map[string]any{}
	}

	id, _ := data[FieldID].(string)
	if id == "" {
		generated, err := r.ids.Next(ctx)
		if err != nil {
			return nil, fmt.Errorf("generate id: %w", err)
		}
		id = generated
	} else {
		exists, err := r.store.Exists(ctx, r.dataKey(id))
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, errs.NewValidation(r.name, []errs.FieldError{{
				Field: FieldID, Rule: "unique", Message: fmt.Sprintf("record %q already exists", id),
			}})
		}
	}

	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload[FieldID] = id

	payload, err := r.runBefore(ctx, BeforeInsert, payload)
	if err != nil {
		return nil, err
	}
	if v, ok := payload[FieldID].(string); ok && v != "" {
		id = v
	}

	record, flat, err := r.write(ctx, id, stripReserved(payload))
	if err != nil {
		return nil, err
	}

	if err := r.applyPartitions(ctx, r.partitionDeltaFor(id, nil, flat)); err != nil {
		return nil, fmt.Errorf("apply partitions for %s/%s: %w", r.name, id, err)
	}

	r.emit(bus.EventInserted, id, record)
	record = r.runAfter(ctx, AfterInsert, id, record)
	return record, nil
}

// InsertMany stores records concurrently and returns them in input order.
// The first failure cancels the batch; records already written stay.
func (r *Resource) InsertMany(ctx context.Context, items []map[string]any) ([]map[string]any, error) {
	out := make([]map[string]any, len(items))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(writeConcurrency)
	for i, item := range items {
		g.Go(func() error {
			rec, err := r.Insert(ctx, item)
			if err != nil {
				return err
			}
			out[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Get returns the record, or a NotFound error.
func (r *Resource) Get(ctx context.Context, id string) (map[string]any, error) {
	out, err := r.run(ctx, OpGet, map[string]any{"id": id}, func(oc *OpContext) (any, error) {
		gid, _ := oc.Args["id"].(string)
		return r.getRecord(ctx, gid)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := out.(map[string]any)
	return rec, nil
}

// GetOrNil returns the record, or nil when it does not exist.
func (r *Resource) GetOrNil(ctx context.Context, id string) (map[string]any, error) {
	rec, err := r.Get(ctx, id)
	if errs.IsNotFound(err) {
		return nil, nil
	}
	return rec, err
}

// Exists reports whether the record is present.
func (r *Resource) Exists(ctx context.Context, id string) (bool, error) {
	return r.store.Exists(ctx, r.dataKey(id))
}

// Update merges changes into the record at the flattened field level, so
// nested fields can change independently ("profile.city" alone leaves
// "profile.zip" intact). Returns the stored record.
func (r *Resource) Update(ctx context.Context, id string, changes map[string]any) (map[string]any, error) {
	out, err := r.run(ctx, OpUpdate, map[string]any{"id": id, "data": changes}, func(oc *OpContext) (any, error) {
		gid, _ := oc.Args["id"].(string)
		d, _ := oc.Args["data"].(map[string]any)
		return r.doMerge(ctx, gid, d, true)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := out.(map[string]any)
	return rec, nil
}

// Patch merges changes at the top level: a provided nested object replaces
// the stored one wholesale. Cheaper to reason about for flat records. Like
// Update it reads before writing: fields ride in object metadata and a PUT
// replaces all of it, so any merge needs the stored record first.
func (r *Resource) Patch(ctx context.Context, id string, changes map[string]any) (map[string]any, error) {
	out, err := r.run(ctx, OpPatch, map[string]any{"id": id, "data": changes}, func(oc *OpContext) (any, error) {
		gid, _ := oc.Args["id"].(string)
		d, _ := oc.Args["data"].(map[string]any)
		return r.doMerge(ctx, gid, d, false)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := out.(map[string]any)
	return rec, nil
}

func (r *Resource) doMerge(ctx context.Context, id string, changes map[string]any, deep bool) (map[string]any, error) {
	current, err := r.getRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	prevFlat := r.flatValues(current)

	var merged map[string]any
	if deep {
		flat := r.codec.Version().FlattenData(stripReserved(current))
		for path, val := range r.codec.Version().FlattenData(stripReserved(changes)) {
			flat[path] = val
		}
		merged = schema.UnflattenData(flat)
	} else {
		merged = stripReserved(current)
		for k, v := range stripReserved(changes) {
			merged[k] = v
		}
	}
	merged[FieldID] = id

	merged, err = r.runBefore(ctx, BeforeUpdate, merged)
	if err != nil {
		return nil, err
	}

	record, nextFlat, err := r.write(ctx, id, stripReserved(merged))
	if err != nil {
		return nil, err
	}

	if err := r.applyPartitions(ctx, r.partitionDeltaFor(id, prevFlat, nextFlat)); err != nil {
		return nil, fmt.Errorf("apply partitions for %s/%s: %w", r.name, id, err)
	}

	r.emit(bus.EventUpdated, id, record)
	record = r.runAfter(ctx, AfterUpdate, id, record)
	return record, nil
}

// Replace overwrites the record with exactly the provided data. The
// record must exist; use Upsert for write-or-create.
func (r *Resource) Replace(ctx context.Context, id string, data map[string]any) (map[string]any, error) {
	out, err := r.run(ctx, OpReplace, map[string]any{"id": id, "data": data}, func(oc *OpContext) (any, error) {
		gid, _ := oc.Args["id"].(string)
		d, _ := oc.Args["data"].(map[string]any)
		return r.doReplace(ctx, gid, d, true)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := out.(map[string]any)
	return rec, nil
}

// Upsert replaces the record when it exists and inserts it otherwise.
func (r *Resource) Upsert(ctx context.Context, id string, data map[string]any) (map[string]any, error) {
	out, err := r.run(ctx, OpUpsert, map[string]any{"id": id, "data": data}, func(oc *OpContext) (any, error) {
		gid, _ := oc.Args["id"].(string)
		d, _ := oc.Args["data"].(map[string]any)
		return r.doReplace(ctx, gid, d, false)
	})
	if err != nil {
		return nil, err
	}
	rec, _ := out.(map[string]any)
	return rec, nil
}

func (r *Resource) doReplace(ctx context.Context, id string, data map[string]any, mustExist bool) (map[string]any, error) {
	current, err := r.GetOrNil(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		if mustExist {
			return nil, r.errNotFound(id)
		}
		payload := make(map[string]any, len(data)+1)
		for k, v := range data {
			payload[k] = v
		}
		payload[FieldID] = id
		return r.doInsert(ctx, payload)
	}
	prevFlat := r.flatValues(current)

	payload := make(map[string]any, len(data)+1)
	for k, v := range stripReserved(data) {
		payload[k] = v
	}
	payload[FieldID] = id

	payload, err = r.runBefore(ctx, BeforeUpdate, payload)
	if err != nil {
		return nil, err
	}

	record, nextFlat, err := r.write(ctx, id, stripReserved(payload))
	if err != nil {
		return nil, err
	}

	if err := r.applyPartitions(ctx, r.partitionDeltaFor(id, prevFlat, nextFlat)); err != nil {
		return nil, fmt.Errorf("apply partitions for %s/%s: %w", r.name, id, err)
	}

	r.emit(bus.EventUpdated, id, record)
	record = r.runAfter(ctx, AfterUpdate, id, record)
	return record, nil
}

// Delete removes the record. Partition index keys follow the base-record
// delete; with async partitions they are cleaned up in the background.
func (r *Resource) Delete(ctx context.Context, id string) error {
	_, err := r.run(ctx, OpDelete, map[string]any{"id": id}, func(oc *OpContext) (any, error) {
		gid, _ := oc.Args["id"].(string)
		return nil, r.doDelete(ctx, gid)
	})
	return err
}

func (r *Resource) doDelete(ctx context.Context, id string) error {
	current, err := r.getRecord(ctx, id)
	if err != nil {
		return err
	}

	if _, err := r.runBefore(ctx, BeforeDelete, current); err != nil {
		return err
	}

	if err := r.store.Delete(ctx, r.dataKey(id)); err != nil {
		return err
	}

	if err := r.applyPartitions(ctx, r.partitionDeltaFor(id, r.flatValues(current), nil)); err != nil {
		return fmt.Errorf("remove partitions for %s/%s: %w", r.name, id, err)
	}

	r.emit(bus.EventDeleted, id, current)
	r.runAfter(ctx, AfterDelete, id, current)
	return nil
}

// DeleteMany removes records in one provider batch. Missing IDs are
// skipped; the returned count is the number of records actually deleted.
func (r *Resource) DeleteMany(ctx context.Context, ids []string) (int, error) {
	out, err := r.run(ctx, OpDeleteMany, map[string]any{"ids": ids}, func(oc *OpContext) (any, error) {
		gids, _ := oc.Args["ids"].([]string)
		return r.doDeleteMany(ctx, gids)
	})
	if err != nil {
		return 0, err
	}
	n, _ := out.(int)
	return n, nil
}

func (r *Resource) doDeleteMany(ctx context.Context, ids []string) (int, error) {
	records := make([]map[string]any, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(writeConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := r.GetOrNil(gctx, id)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	var keys []string
	for i, rec := range records {
		if rec != nil {
			keys = append(keys, r.dataKey(ids[i]))
		}
	}
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.store.DeleteMany(ctx, keys); err != nil {
		return 0, err
	}

	for i, rec := range records {
		if rec == nil {
			continue
		}
		id := ids[i]
		if err := r.applyPartitions(ctx, r.partitionDeltaFor(id, r.flatValues(rec), nil)); err != nil {
			return len(keys), fmt.Errorf("remove partitions for %s/%s: %w", r.name, id, err)
		}
		r.emit(bus.EventDeleted, id, rec)
	}
	return len(keys), nil
}

// ----------------------------------------------------------------------------
// Shared read/write paths
// ----------------------------------------------------------------------------

// write validates, encodes, and stores fields under id. Returns the
// defaulted record (with id) and its flat form for partition maintenance.
func (r *Resource) write(ctx context.Context, id string, fields map[string]any) (map[string]any, map[string]any, error) {
	flat, fieldErrs := r.codec.Validate(fields)
	if len(fieldErrs) > 0 {
		return nil, nil, errs.NewValidation(r.name, fieldErrs)
	}

	enc, err := r.codec.Encode(fields)
	if err != nil {
		return nil, nil, err
	}

	if err := r.store.Put(ctx, blob.PutInput{
		Key:         r.dataKey(id),
		Body:        enc.Body,
		Metadata:    enc.Metadata,
		ContentType: enc.ContentType,
	}); err != nil {
		return nil, nil, err
	}

	record := schema.UnflattenData(flat)
	record[FieldID] = id
	return record, flat, nil
}

// getRecord fetches and decodes one record.
func (r *Resource) getRecord(ctx context.Context, id string) (map[string]any, error) {
	if id == "" {
		return nil, r.errNotFound(id)
	}
	obj, err := r.store.Get(ctx, r.dataKey(id))
	if err != nil {
		if errs.KindOf(err) == errs.KindNoSuchKey {
			return nil, r.errNotFound(id)
		}
		return nil, err
	}

	record, err := r.codec.Decode(obj.Metadata, obj.Body)
	if err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", r.name, id, err)
	}
	record[FieldID] = id
	return record, nil
}
