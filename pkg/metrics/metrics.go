package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Command metrics
	CommandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdfs_commands_total",
			Help: "Total number of request/response exchanges by command and result",
		},
		[]string{"command", "result"},
	)

	CommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fdfs_command_duration_seconds",
			Help:    "Exchange duration in seconds, connection acquisition included",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	BytesSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fdfs_bytes_sent_total",
			Help: "Total request bytes written to the cluster",
		},
	)

	BytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "fdfs_bytes_received_total",
			Help: "Total response bytes read from the cluster",
		},
	)

	// Pool metrics
	PoolConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fdfs_pool_connections",
			Help: "Pooled connections by pool and state (idle, in_use)",
		},
		[]string{"pool", "state"},
	)

	PoolConnectRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdfs_pool_connect_retries_total",
			Help: "Total number of failed connect attempts",
		},
		[]string{"pool"},
	)

	PoolExhausted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fdfs_pool_exhausted_total",
			Help: "Total number of connection requests rejected at the pool ceiling",
		},
		[]string{"pool"},
	)

	// Cluster metrics, filled by the monitor collector
	GroupSpace = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fdfs_group_space_mb",
			Help: "Group capacity in MB by kind (total, free, trunk_free)",
		},
		[]string{"group", "kind"},
	)

	GroupStorageServers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fdfs_group_storage_servers",
			Help: "Storage servers per group by status",
		},
		[]string{"group", "status"},
	)
)

func init() {
	prometheus.MustRegister(CommandsTotal)
	prometheus.MustRegister(CommandDuration)
	prometheus.MustRegister(BytesSent)
	prometheus.MustRegister(BytesReceived)
	prometheus.MustRegister(PoolConnections)
	prometheus.MustRegister(PoolConnectRetries)
	prometheus.MustRegister(PoolExhausted)
	prometheus.MustRegister(GroupSpace)
	prometheus.MustRegister(GroupStorageServers)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
