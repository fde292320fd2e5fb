// Package prometheus provides the Prometheus implementations of the
// metrics interfaces. Importing it (usually blank) installs the
// constructors into pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/s3db-io/s3db/pkg/blob"
	"github.com/s3db-io/s3db/pkg/errs"
	"github.com/s3db-io/s3db/pkg/metrics"
)

func init() {
	metrics.RegisterBlobMetricsConstructor(NewBlobMetrics)
	metrics.RegisterDatabaseCollectorConstructor(RegisterDatabaseCollector)
}

// blobMetrics is the Prometheus implementation of blob.Metrics.
type blobMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	bytesTransferred  *prometheus.CounterVec
	retriesTotal      *prometheus.CounterVec
}

// NewBlobMetrics creates a Prometheus-backed blob.Metrics instance.
// Returns nil when metrics are disabled.
func NewBlobMetrics() blob.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &blobMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3db_blob_operations_total",
				Help: "Total blob operations by provider command and outcome kind",
			},
			[]string{"operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "s3db_blob_operation_duration_milliseconds",
				Help: "Duration of blob operations in milliseconds",
				Buckets: []float64{
					5,    // 5ms - memory store, warm paths
					25,   // 25ms - metadata-only requests
					50,   // 50ms
					100,  // 100ms - typical record PUT/GET
					250,  // 250ms
					500,  // 500ms
					1000, // 1s - listings, large pages
					5000, // 5s - retried operations
				},
			},
			[]string{"operation"},
		),
		bytesTransferred: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3db_blob_bytes_transferred_total",
				Help: "Total object body bytes transferred by operation",
			},
			[]string{"operation"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "s3db_blob_retries_total",
				Help: "Total retry attempts by operation",
			},
			[]string{"operation"},
		),
	}
}

func (m *blobMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = errs.KindOf(err).String()
	}
	m.operationsTotal.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(float64(duration.Milliseconds()))
}

func (m *blobMetrics) RecordBytes(operation string, bytes int64) {
	if bytes > 0 {
		m.bytesTransferred.WithLabelValues(operation).Add(float64(bytes))
	}
}

func (m *blobMetrics) RecordRetry(operation string) {
	m.retriesTotal.WithLabelValues(operation).Inc()
}
