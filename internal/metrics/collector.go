package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// QueueStats provides the collector access to watch-mode queue state.
type QueueStats interface {
	Pending() int
	Completed() int64
	Failed() int64
}

// Collector implements prometheus.Collector to read live gauges at scrape time.
type Collector struct {
	pool  *pgxpool.Pool
	queue QueueStats

	queuePending    *prometheus.Desc
	queueCompleted  *prometheus.Desc
	queueFailed     *prometheus.Desc
	dbTotalConns    *prometheus.Desc
	dbAcquiredConns *prometheus.Desc
}

// NewCollector creates a collector that reads live state at scrape time.
// pool may be nil (metrics will report 0). queue may be nil outside watch mode.
func NewCollector(pool *pgxpool.Pool, queue QueueStats) *Collector {
	return &Collector{
		pool:  pool,
		queue: queue,
		queuePending: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "queue_pending"),
			"Files waiting to be transcribed.",
			nil, nil,
		),
		queueCompleted: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "files_completed_total"),
			"Watched files transcribed successfully.",
			nil, nil,
		),
		queueFailed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "watch", "files_failed_total"),
			"Watched files that failed to transcribe.",
			nil, nil,
		),
		dbTotalConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "total_conns"),
			"Total database pool connections.",
			nil, nil,
		),
		dbAcquiredConns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "db_pool", "acquired_conns"),
			"Database pool connections currently in use.",
			nil, nil,
		),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queuePending
	ch <- c.queueCompleted
	ch <- c.queueFailed
	ch <- c.dbTotalConns
	ch <- c.dbAcquiredConns
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	var pending, completed, failed float64
	if c.queue != nil {
		pending = float64(c.queue.Pending())
		completed = float64(c.queue.Completed())
		failed = float64(c.queue.Failed())
	}
	ch <- prometheus.MustNewConstMetric(c.queuePending, prometheus.GaugeValue, pending)
	ch <- prometheus.MustNewConstMetric(c.queueCompleted, prometheus.CounterValue, completed)
	ch <- prometheus.MustNewConstMetric(c.queueFailed, prometheus.CounterValue, failed)

	var total, acquired float64
	if c.pool != nil {
		stat := c.pool.Stat()
		total = float64(stat.TotalConns())
		acquired = float64(stat.AcquiredConns())
	}
	ch <- prometheus.MustNewConstMetric(c.dbTotalConns, prometheus.GaugeValue, total)
	ch <- prometheus.MustNewConstMetric(c.dbAcquiredConns, prometheus.GaugeValue, acquired)
}
