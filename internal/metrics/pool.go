package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStatter is the part of [pgxpool.Pool] the collector reads.
type PoolStatter interface {
	Stat() *pgxpool.Stat
}

type poolCollector struct {
	pool PoolStatter

	acquiredConns   *prometheus.Desc
	idleConns       *prometheus.Desc
	totalConns      *prometheus.Desc
	maxConns        *prometheus.Desc
	acquireCount    *prometheus.Desc
	acquireDuration *prometheus.Desc
}

// RegisterPoolMetrics registers collectors that report live pgxpool
// statistics on every scrape.
func RegisterPoolMetrics(reg prometheus.Registerer, pool PoolStatter) {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc("rollout_db_pool_"+name, help, nil, nil)
	}

	reg.MustRegister(&poolCollector{
		pool:            pool,
		acquiredConns:   desc("acquired", "Number of currently acquired database connections."),
		idleConns:       desc("idle", "Number of idle database connections in the pool."),
		totalConns:      desc("total", "Total number of database connections in the pool."),
		maxConns:        desc("max", "Maximum number of database connections allowed in the pool."),
		acquireCount:    desc("acquires_total", "Cumulative count of successful connection acquires."),
		acquireDuration: desc("acquire_seconds_total", "Cumulative time spent acquiring connections."),
	})
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.acquiredConns
	ch <- c.idleConns
	ch <- c.totalConns
	ch <- c.maxConns
	ch <- c.acquireCount
	ch <- c.acquireDuration
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	stat := c.pool.Stat()

	ch <- prometheus.MustNewConstMetric(c.acquiredConns, prometheus.GaugeValue, float64(stat.AcquiredConns()))
	ch <- prometheus.MustNewConstMetric(c.idleConns, prometheus.GaugeValue, float64(stat.IdleConns()))
	ch <- prometheus.MustNewConstMetric(c.totalConns, prometheus.GaugeValue, float64(stat.TotalConns()))
	ch <- prometheus.MustNewConstMetric(c.maxConns, prometheus.GaugeValue, float64(stat.MaxConns()))
	ch <- prometheus.MustNewConstMetric(c.acquireCount, prometheus.CounterValue, float64(stat.AcquireCount()))
	ch <- prometheus.MustNewConstMetric(c.acquireDuration, prometheus.CounterValue, stat.AcquireDuration().Seconds())
}
