package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Storage metrics for Cassandra and Redis
var (
	CassandraQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cassandra_query_duration_seconds",
		Help:    "Cassandra query latency in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"operation", "table"})

	CassandraQueryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cassandra_query_total",
		Help: "Total number of Cassandra queries executed",
	}, []string{"operation", "table", "status"})

	RedisUnavailableTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redis_unavailable_total",
		Help: "Total number of times Redis was unavailable",
	})

	RedisAvailableGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "redis_available",
		Help: "Whether Redis is available (1) or unavailable (0)",
	})
)

// ObserveCassandraQuery records the outcome and latency of one query
func ObserveCassandraQuery(operation, table string, start time.Time, err error) {
	CassandraQueryDuration.WithLabelValues(operation, table).Observe(time.Since(start).Seconds())
	status := "success"
	if err != nil {
		status = "error"
	}
	CassandraQueryTotal.WithLabelValues(operation, table, status).Inc()
}

// RecordRedisAvailable updates the Redis availability gauge
func RecordRedisAvailable(available bool) {
	if available {
		RedisAvailableGauge.Set(1)
		return
	}
	RedisAvailableGauge.Set(0)
	RedisUnavailableTotal.Inc()
}
