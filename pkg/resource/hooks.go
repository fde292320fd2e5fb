package resource

import (
	"context"
	"sync"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/bus"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/manifest"
)

// HookPoint names a hook attachment point.
type HookPoint string

// Hook points, fired around the core mutation inside the middleware chain.
const (
	BeforeInsert HookPoint = "beforeInsert"
	AfterInsert  HookPoint = "afterInsert"
	BeforeUpdate HookPoint = "beforeUpdate"
	AfterUpdate  HookPoint = "afterUpdate"
	BeforeDelete HookPoint = "beforeDelete"
	AfterDelete  HookPoint = "afterDelete"
	BeforeQuery  HookPoint = "beforeQuery"
	AfterQuery   HookPoint = "afterQuery"
)

// Hook transforms the pending payload (before hooks) or the result (after
// hooks). A non-nil return replaces the data; nil means no change. An
// error from a before hook aborts the operation; an error from an after
// hook is reported on the bus and the operation still succeeds.
type Hook func(ctx context.Context, data map[string]any) (map[string]any, error)

type registeredHook struct {
	name string // registry name; "" for closures
	fn   Hook
}

// ----------------------------------------------------------------------------
// Process-level hook registry
// ----------------------------------------------------------------------------

var (
	registryMu   sync.RWMutex
	hookRegistry = make(map[string]Hook)
)

// RegisterHook publishes a named hook implementation process-wide so
// persisted hook references can rehydrate on reconnect.
func RegisterHook(name string, fn Hook) {
	registryMu.Lock()
	defer registryMu.Unlock()
	hookRegistry[name] = fn
}

// LookupHook returns the registered hook, or nil.
func LookupHook(name string) Hook {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return hookRegistry[name]
}

// ----------------------------------------------------------------------------
// Registration
// ----------------------------------------------------------------------------

// AddHook attaches a closure hook. Closures are process-local and never
// persisted.
func (r *Resource) AddHook(point HookPoint, fn Hook) {
	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	r.hooks[point] = append(r.hooks[point], registeredHook{fn: fn})
}

// AddNamedHook attaches a hook by registry name. When the resource
// persists hooks, the name is also written to the catalog so a reconnect
// re-attaches it.
func (r *Resource) AddNamedHook(ctx context.Context, point HookPoint, name string) error {
	fn := LookupHook(name)
	if fn == nil {
		return errs.NewDependencyMissing(r.name, "hook "+name,
			"call resource.RegisterHook before AddNamedHook")
	}

	r.hookMu.Lock()
	r.hooks[point] = append(r.hooks[point], registeredHook{name: name, fn: fn})
	r.hookMu.Unlock()

	if !r.persistHooks || r.catalog == nil {
		return nil
	}
	return r.catalog.Update(ctx, func(m *manifest.Manifest) error {
		res := m.Resources[r.name]
		if res == nil {
			return nil
		}
		ver := res.Current()
		if ver == nil {
			return nil
		}
		if ver.Hooks == nil {
			ver.Hooks = make(map[string][]string)
		}
		for _, existing := range ver.Hooks[string(point)] {
			if existing == name {
				return nil
			}
		}
		ver.Hooks[string(point)] = append(ver.Hooks[string(point)], name)
		return nil
	})
}

// rehydrateHooks re-attaches persisted named hooks from the catalog.
// Unknown names are logged and skipped; the record data must stay
// reachable even when a plugin that registered the hook is absent.
func (r *Resource) rehydrateHooks() {
	if r.catalog == nil {
		return
	}
	res := r.catalog.Resource(r.name)
	ver := res.Current()
	if ver == nil {
		return
	}

	r.hookMu.Lock()
	defer r.hookMu.Unlock()
	for point, names := range ver.Hooks {
		for _, name := range names {
			fn := LookupHook(name)
			if fn == nil {
				logger.Warn("persisted hook not in registry, skipping",
					"resource", r.name, "point", point, "hook", name)
				continue
			}
			r.hooks[HookPoint(point)] = append(r.hooks[HookPoint(point)], registeredHook{name: name, fn: fn})
		}
	}
}

// ----------------------------------------------------------------------------
// Firing
// ----------------------------------------------------------------------------

// runBefore chains the point's hooks over data. Any error aborts.
func (r *Resource) runBefore(ctx context.Context, point HookPoint, data map[string]any) (map[string]any, error) {
	r.hookMu.RLock()
	hooks := append([]registeredHook(nil), r.hooks[point]...)
	r.hookMu.RUnlock()

	for _, h := range hooks {
		out, err := h.fn(ctx, data)
		if err != nil {
			return nil, err
		}
		if out != nil {
			data = out
		}
	}
	return data, nil
}

// runAfter chains the point's hooks over the result. Errors are reported
// on the bus; the mutation has already happened.
func (r *Resource) runAfter(ctx context.Context, point HookPoint, id string, data map[string]any) map[string]any {
	r.hookMu.RLock()
	hooks := append([]registeredHook(nil), r.hooks[point]...)
	r.hookMu.RUnlock()

	for _, h := range hooks {
		out, err := h.fn(ctx, data)
		if err != nil {
			logger.Error("after hook failed", "resource", r.name, "point", point, "hook", h.name, "error", err)
			if r.bus != nil {
				r.bus.Emit(bus.Event{
					Name:     bus.EventHookFailed,
					Resource: r.name,
					ID:       id,
					Payload:  map[string]any{"point": string(point), "hook": h.name, "error": err.Error()},
				})
			}
			continue
		}
		if out != nil {
			data = out
		}
	}
	return data
}
