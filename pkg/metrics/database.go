package metrics

// Snapshot is a point-in-time view of database state exported on each
// Prometheus scrape. It is produced by the database root so this package
// needs no knowledge of the higher layers.
type Snapshot struct {
	// Leaders reports coordination state per namespace.
	Leaders []LeaderStatus

	// Requests counts blob requests by class (get, put, list, ...).
	Requests map[string]uint64

	// CostUSD is the projected request spend since process start.
	CostUSD float64

	// Queues maps queue-enabled resource name to counts by state.
	Queues map[string]map[string]int64

	// Replication maps target id to counts by entry status.
	Replication map[string]map[string]int64
}

// LeaderStatus is the coordination state of one namespace.
type LeaderStatus struct {
	Namespace string
	IsLeader  bool
	Epoch     int64
	Workers   int
}

// Sampler supplies snapshots for the database collector. Implemented by
// the database root.
type Sampler interface {
	SampleMetrics() Snapshot
}

// RegisterDatabaseCollector attaches a scrape-time collector for the
// sampler to the process registry. No-op when metrics are disabled.
func RegisterDatabaseCollector(s Sampler) {
	if !IsEnabled() || registerDatabaseCollector == nil {
		return
	}
	registerDatabaseCollector(s)
}

var registerDatabaseCollector func(Sampler)

// RegisterDatabaseCollectorConstructor installs the Prometheus collector
// registration. Called from pkg/metrics/prometheus.
func RegisterDatabaseCollectorConstructor(fn func(Sampler)) {
	registerDatabaseCollector = fn
}
