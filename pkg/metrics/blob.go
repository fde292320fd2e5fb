package metrics

import (
	"github.com/s3db-io/s3db/pkg/blob"
)

// NewBlobMetrics creates a Prometheus-backed blob.Metrics instance.
//
// Returns nil when metrics are disabled (InitRegistry not called); the
// blob stores treat a nil Metrics as "collect nothing".
//
// Example usage:
//
//	metrics.InitRegistry()
//	store, err := s3.New(ctx, s3.Config{..., Metrics: metrics.NewBlobMetrics()})
func NewBlobMetrics() blob.Metrics {
	if !IsEnabled() || newPrometheusBlobMetrics == nil {
		return nil
	}
	return newPrometheusBlobMetrics()
}

// newPrometheusBlobMetrics is installed by pkg/metrics/prometheus during
// package initialization. The indirection avoids an import cycle while
// keeping the call site clean.
var newPrometheusBlobMetrics func() blob.Metrics

// RegisterBlobMetricsConstructor installs the Prometheus blob metrics
// constructor. Called from pkg/metrics/prometheus.
func RegisterBlobMetricsConstructor(constructor func() blob.Metrics) {
	newPrometheusBlobMetrics = constructor
}
