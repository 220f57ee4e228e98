/*
Package metrics exposes Prometheus metrics for fdfs clients.

Every exchange is counted and timed per command (fdfs_commands_total,
fdfs_command_duration_seconds) and bytes moved are summed in both
directions. Connection pools report idle and in-use connections, failed
connect attempts and requests rejected at the connection ceiling, labelled
with the pool name ("tracker" or "storage/<host:port>").

The Collector polls a tracker on an interval and publishes per group
capacity (fdfs_group_space_mb) and storage server counts by status
(fdfs_group_storage_servers). Each poll also updates a Registry: the
tracker is up when the poll succeeds and a storage server is serving while
its status is ACTIVE. The cluster is ready once the tracker is up and one
storage server serves.

	reg := metrics.NewRegistry(version)
	collector := metrics.NewCollector(c.Tracker(), reg, 30*time.Second)
	collector.Start()
	defer collector.Stop()

	http.Handle("/metrics", metrics.Handler())
	http.Handle("/ready", reg.ReadyHandler())
*/
package metrics
