package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/s3db-io/s3db/pkg/metrics"
)

// databaseCollector exports database state sampled at scrape time:
// leader status per namespace, request counts and projected cost, queue
// depth by state, and replication log status.
type databaseCollector struct {
	sampler metrics.Sampler

	isLeader    *prometheus.Desc
	leaderEpoch *prometheus.Desc
	workers     *prometheus.Desc
	requests    *prometheus.Desc
	costUSD     *prometheus.Desc
	queueDepth  *prometheus.Desc
	replication *prometheus.Desc
}

// RegisterDatabaseCollector attaches a collector for the sampler to the
// process registry.
func RegisterDatabaseCollector(s metrics.Sampler) {
	metrics.GetRegistry().MustRegister(&databaseCollector{
		sampler: s,
		isLeader: prometheus.NewDesc(
			"s3db_coordinator_is_leader",
			"1 when this process holds the namespace lease",
			[]string{"namespace"}, nil,
		),
		leaderEpoch: prometheus.NewDesc(
			"s3db_coordinator_epoch",
			"Epoch of the current namespace lease as observed by this process",
			[]string{"namespace"}, nil,
		),
		workers: prometheus.NewDesc(
			"s3db_coordinator_workers",
			"Live workers registered in the namespace",
			[]string{"namespace"}, nil,
		),
		requests: prometheus.NewDesc(
			"s3db_blob_requests_total",
			"Blob requests issued since process start, by request class",
			[]string{"class"}, nil,
		),
		costUSD: prometheus.NewDesc(
			"s3db_blob_cost_usd",
			"Projected request spend in USD since process start",
			nil, nil,
		),
		queueDepth: prometheus.NewDesc(
			"s3db_queue_depth",
			"Queue messages by resource and state",
			[]string{"resource", "state"}, nil,
		),
		replication: prometheus.NewDesc(
			"s3db_replication_entries",
			"Replication log entries by target and status",
			[]string{"target", "status"}, nil,
		),
	})
}

func (c *databaseCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.isLeader
	ch <- c.leaderEpoch
	ch <- c.workers
	ch <- c.requests
	ch <- c.costUSD
	ch <- c.queueDepth
	ch <- c.replication
}

func (c *databaseCollector) Collect(ch chan<- prometheus.Metric) {
	snap := c.sampler.SampleMetrics()

	for _, ls := range snap.Leaders {
		leading := 0.0
		if ls.IsLeader {
			leading = 1.0
		}
		ch <- prometheus.MustNewConstMetric(c.isLeader, prometheus.GaugeValue, leading, ls.Namespace)
		ch <- prometheus.MustNewConstMetric(c.leaderEpoch, prometheus.GaugeValue, float64(ls.Epoch), ls.Namespace)
		ch <- prometheus.MustNewConstMetric(c.workers, prometheus.GaugeValue, float64(ls.Workers), ls.Namespace)
	}

	for class, n := range snap.Requests {
		ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(n), class)
	}
	ch <- prometheus.MustNewConstMetric(c.costUSD, prometheus.GaugeValue, snap.CostUSD)

	for res, states := range snap.Queues {
		for state, n := range states {
			ch <- prometheus.MustNewConstMetric(c.queueDepth, prometheus.GaugeValue, float64(n), res, state)
		}
	}
	for target, statuses := range snap.Replication {
		for status, n := range statuses {
			ch <- prometheus.MustNewConstMetric(c.replication, prometheus.GaugeValue, float64(n), target, status)
		}
	}
}
