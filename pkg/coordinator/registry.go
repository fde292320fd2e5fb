package coordinator

import (
	"context"
	"sync"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/bus"
)

// Registry shares one running service per namespace within a process, so
// N plugins attached to the same namespace cost one protocol loop instead
// of N. This is the request-volume optimization the multi-tenant design
// calls for.
type Registry struct {
	store blob.Store
	bus   *bus.Bus
	id    string

	mu       sync.Mutex
	services map[string]*Service
}

// NewRegistry returns a registry issuing services bound to store and bus.
// id is the shared process identity; empty means per-service random IDs.
func NewRegistry(store blob.Store, b *bus.Bus, id string) *Registry {
	return &Registry{
		store:    store,
		bus:      b,
		id:       id,
		services: make(map[string]*Service),
	}
}

// Service returns the namespace's shared service, creating and starting
// it on first use. The tune callback, when non-nil, adjusts the config
// before the first start and is ignored afterwards.
func (r *Registry) Service(ctx context.Context, namespace string, tune func(*Config)) (*Service, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if svc, ok := r.services[namespace]; ok {
		return svc, nil
	}

	cfg := Config{
		Store:     r.store,
		Bus:       r.bus,
		Namespace: namespace,
		ID:        r.id,
	}
	if tune != nil {
		tune(&cfg)
	}

	svc, err := New(cfg)
	if err != nil {
		return nil, err
	}
	svc.Start(ctx)
	r.services[namespace] = svc
	return svc, nil
}

// StopAll stops every running service.
func (r *Registry) StopAll(ctx context.Context) {
	r.mu.Lock()
	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.services = make(map[string]*Service)
	r.mu.Unlock()

	for _, svc := range services {
		svc.Stop(ctx)
	}
}

// Metrics returns per-namespace views for status output.
func (r *Registry) Metrics(ctx context.Context) []Metrics {
	r.mu.Lock()
	services := make([]*Service, 0, len(r.services))
	for _, svc := range r.services {
		services = append(services, svc)
	}
	r.mu.Unlock()

	out := make([]Metrics, 0, len(services))
	for _, svc := range services {
		out = append(out, svc.Metrics(ctx))
	}
	return out
}
