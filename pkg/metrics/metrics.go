// Package metrics manages the process-wide Prometheus registry and the
// subsystem metrics interfaces.
//
// Metrics are opt-in: until InitRegistry is called every constructor
// returns nil, and callers pass that nil straight into the subsystem,
// which results in zero overhead. The Prometheus implementations live in
// pkg/metrics/prometheus and register themselves through the constructor
// indirection below, which keeps this package free of an import cycle.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	mu       sync.RWMutex
	registry *prometheus.Registry
)

// InitRegistry creates the process registry and enables metrics. Safe to
// call more than once; later calls are no-ops.
func InitRegistry() {
	mu.Lock()
	defer mu.Unlock()
	if registry != nil {
		return
	}
	registry = prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return registry != nil
}

// GetRegistry returns the process registry, or nil when disabled.
func GetRegistry() *prometheus.Registry {
	mu.RLock()
	defer mu.RUnlock()
	return registry
}

// ResetForTesting drops the registry so tests can re-init cleanly.
func ResetForTesting() {
	mu.Lock()
	defer mu.Unlock()
	registry = nil
}
