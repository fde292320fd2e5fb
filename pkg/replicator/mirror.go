package replicator

import (
	"context"
	"fmt"

	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/resource"
)

// ResourceResolver maps a resource name to a resource handle on the
// mirror side. The database root implements this.
type ResourceResolver interface {
	Resource(name string) (*resource.Resource, error)
}

// mirrorDriver replays mutations into a second database, typically one
// backed by another bucket or prefix.
type mirrorDriver struct {
	resolver ResourceResolver
}

// NewMirror returns the s3db driver: entries are upserted into (or
// deleted from) the same-named resource on the mirror.
func NewMirror(resolver ResourceResolver) Driver {
	return &mirrorDriver{resolver: resolver}
}

func (d *mirrorDriver) Name() string { return "s3db" }

func (d *mirrorDriver) Apply(ctx context.Context, e Entry) error {
	r, err := d.resolver.Resource(e.Resource)
	if err != nil {
		return fmt.Errorf("resolve mirror resource %q: %w", e.Resource, err)
	}

	if e.Op == OpDelete {
		if err := r.Delete(ctx, e.RecordID); err != nil && !errs.IsNotFound(err) {
			return err
		}
		return nil
	}

	fields := make(map[string]any, len(e.Record))
	for k, v := range e.Record {
		if k == resource.FieldID {
			continue
		}
		fields[k] = v
	}
	_, err = r.Upsert(ctx, e.RecordID, fields)
	return err
}
