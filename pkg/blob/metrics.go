package blob

import "time"

// Metrics is the optional instrumentation hook for Store implementations.
//
// A nil Metrics is valid and results in zero overhead; callers must
// nil-check before invoking. The Prometheus implementation lives in
// pkg/metrics/prometheus.
type Metrics interface {
	// ObserveOperation records one logical operation with its duration
	// and outcome. The operation name is the provider command, e.g.
	// "PutObject".
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred for an operation.
	RecordBytes(operation string, bytes int64)

	// RecordRetry records a retry attempt for an operation.
	RecordRetry(operation string)
}
