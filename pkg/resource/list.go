package resource

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/schema"
)

// listConcurrency bounds parallel record fetches during listings.
const listConcurrency = 8

// ListOptions paginates a listing. Zero Limit means no cap.
type ListOptions struct {
	Limit  int
	Offset int
}

// PageOptions describes one page request.
type PageOptions struct {
	Offset int
	Size   int

	// SkipCount leaves Page.Total at -1, saving the full prefix walk.
	SkipCount bool
}

// Page is one page of records.
type Page struct {
	Items   []map[string]any
	Offset  int
	Size    int
	Total   int64 // -1 when the count was skipped
	HasMore bool
}

// QueryOptions scope a query. With Partition set the scan walks the
// partition index prefix instead of the whole data prefix.
type QueryOptions struct {
	Partition       string
	PartitionValues map[string]any
	Limit           int
}

// PartitionOptions scope a partition listing. Values may bind only a
// prefix of the partition's fields (in sorted field order).
type PartitionOptions struct {
	Partition string
	Values    map[string]any
	Limit     int
}

// ValidationResult reports a dry-run validation.
type ValidationResult struct {
	Valid  bool
	Errors []errs.FieldError
	Data   map[string]any // defaulted record, nil when invalid
}

// ListIDs returns record IDs in key order.
func (r *Resource) ListIDs(ctx context.Context, opts ListOptions) ([]string, error) {
	return r.listIDs(ctx, opts.Limit, opts.Offset)
}

func (r *Resource) listIDs(ctx context.Context, limit, offset int) ([]string, error) {
	var ids []string
	var token string
	skip := offset
	for {
		page, err := r.store.List(ctx, blob.ListInput{
			Prefix:            r.dataPrefix(),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			if skip > 0 {
				skip--
				continue
			}
			ids = append(ids, r.idFromKey(key))
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
		if !page.Truncated {
			return ids, nil
		}
		token = page.NextToken
	}
}

// List returns records in key order.
func (r *Resource) List(ctx context.Context, opts ListOptions) ([]map[string]any, error) {
	out, err := r.run(ctx, OpList, map[string]any{"limit": opts.Limit, "offset": opts.Offset}, func(oc *OpContext) (any, error) {
		limit, _ := oc.Args["limit"].(int)
		offset, _ := oc.Args["offset"].(int)
		ids, err := r.listIDs(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		return r.fetchMany(ctx, ids)
	})
	if err != nil {
		return nil, err
	}
	items, _ := out.([]map[string]any)
	return items, nil
}

// Count returns the number of records.
func (r *Resource) Count(ctx context.Context) (int64, error) {
	return blob.Count(ctx, r.store, r.dataPrefix())
}

// GetMany fetches records by ID, preserving order. Missing IDs are
// dropped from the result.
func (r *Resource) GetMany(ctx context.Context, ids []string) ([]map[string]any, error) {
	return r.fetchMany(ctx, ids)
}

// PageRecords returns one page of records with pagination bookkeeping.
func (r *Resource) PageRecords(ctx context.Context, opts PageOptions) (*Page, error) {
	if opts.Size <= 0 {
		opts.Size = 100
	}

	// One extra ID decides HasMore without a second LIST round.
	ids, err := r.listIDs(ctx, opts.Size+1, opts.Offset)
	if err != nil {
		return nil, err
	}
	hasMore := len(ids) > opts.Size
	if hasMore {
		ids = ids[:opts.Size]
	}

	items, err := r.fetchMany(ctx, ids)
	if err != nil {
		return nil, err
	}

	page := &Page{
		Items:   items,
		Offset:  opts.Offset,
		Size:    opts.Size,
		Total:   -1,
		HasMore: hasMore,
	}
	if !opts.SkipCount {
		total, err := r.Count(ctx)
		if err != nil {
			return nil, err
		}
		page.Total = total
	}
	return page, nil
}

// Query filters records in-process. The filter is a (possibly nested)
// map of field values that must all match; matching is typed where the
// schema declares the field and string-wise otherwise. With
// opts.Partition the scan is scoped to the matching index prefix.
func (r *Resource) Query(ctx context.Context, filter map[string]any, opts QueryOptions) ([]map[string]any, error) {
	out, err := r.run(ctx, OpQuery, map[string]any{"filter": filter}, func(oc *OpContext) (any, error) {
		f, _ := oc.Args["filter"].(map[string]any)
		return r.doQuery(ctx, f, opts)
	})
	if err != nil {
		return nil, err
	}
	items, _ := out.([]map[string]any)
	return items, nil
}

func (r *Resource) doQuery(ctx context.Context, filter map[string]any, opts QueryOptions) ([]map[string]any, error) {
	payload, err := r.runBefore(ctx, BeforeQuery, map[string]any{"filter": filter})
	if err != nil {
		return nil, err
	}
	if f, ok := payload["filter"].(map[string]any); ok {
		filter = f
	}

	var ids []string
	if opts.Partition != "" {
		ids, err = r.partitionIDs(ctx, opts.Partition, opts.PartitionValues, 0)
	} else {
		ids, err = r.listIDs(ctx, 0, 0)
	}
	if err != nil {
		return nil, err
	}

	flatFilter := r.codec.Version().FlattenData(filter)

	var results []map[string]any
	for _, id := range ids {
		rec, err := r.GetOrNil(ctx, id)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			continue
		}
		if !r.matches(r.flatValues(rec), flatFilter) {
			continue
		}
		results = append(results, rec)
		if opts.Limit > 0 && len(results) >= opts.Limit {
			break
		}
	}

	after := r.runAfter(ctx, AfterQuery, "", map[string]any{"items": results})
	if items, ok := after["items"].([]map[string]any); ok {
		results = items
	}
	return results, nil
}

// matches reports whether every filter path equals the record value.
func (r *Resource) matches(flatRecord, flatFilter map[string]any) bool {
	v := r.codec.Version()
	for path, want := range flatFilter {
		got, ok := flatRecord[path]
		if !ok {
			return false
		}
		if attr := v.Leaf(path); attr != nil {
			ws, errW := schema.CoerceValue(attr, want)
			gs, errG := schema.CoerceValue(attr, got)
			if errW == nil && errG == nil {
				if ws != gs {
					return false
				}
				continue
			}
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

// ListPartition returns records owned by a partition value combination,
// walking the index prefix directly.
func (r *Resource) ListPartition(ctx context.Context, opts PartitionOptions) ([]map[string]any, error) {
	ids, err := r.partitionIDs(ctx, opts.Partition, opts.Values, opts.Limit)
	if err != nil {
		return nil, err
	}
	return r.fetchMany(ctx, ids)
}

// partitionIDs lists record IDs under a partition index prefix.
func (r *Resource) partitionIDs(ctx context.Context, partition string, values map[string]any, limit int) ([]string, error) {
	prefix, err := r.partitionScanPrefix(partition, values)
	if err != nil {
		return nil, err
	}

	var ids []string
	var token string
	for {
		page, err := r.store.List(ctx, blob.ListInput{Prefix: prefix, ContinuationToken: token})
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			id, ok := idFromPartitionKey(key)
			if !ok {
				continue
			}
			ids = append(ids, id)
			if limit > 0 && len(ids) >= limit {
				return ids, nil
			}
		}
		if !page.Truncated {
			return ids, nil
		}
		token = page.NextToken
	}
}

// CountPartition counts records under a partition value combination
// without fetching them.
func (r *Resource) CountPartition(ctx context.Context, partition string, values map[string]any) (int64, error) {
	prefix, err := r.partitionScanPrefix(partition, values)
	if err != nil {
		return 0, err
	}
	return blob.Count(ctx, r.store, prefix)
}

// Validate runs the codec's validation phase without persisting anything.
func (r *Resource) Validate(data map[string]any) *ValidationResult {
	flat, fieldErrs := r.codec.Validate(stripReserved(data))
	if len(fieldErrs) > 0 {
		return &ValidationResult{Valid: false, Errors: fieldErrs}
	}
	return &ValidationResult{Valid: true, Data: schema.UnflattenData(flat)}
}

// fetchMany fetches records concurrently, preserving input order and
// dropping IDs deleted since they were listed.
func (r *Resource) fetchMany(ctx context.Context, ids []string) ([]map[string]any, error) {
	slots := make([]map[string]any, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			rec, err := r.GetOrNil(gctx, id)
			if err != nil {
				return err
			}
			slots[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]map[string]any, 0, len(slots))
	for _, rec := range slots {
		if rec != nil {
			out = append(out, rec)
		}
	}
	return out, nil
}
