package metrics

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/types"
)

// ClusterSource is the part of the tracker client the collector polls
type ClusterSource interface {
	ListGroups(ctx context.Context) ([]types.GroupInfo, error)
	ListServers(ctx context.Context, group, storageIP string) ([]types.StorageInfo, error)
}

// Collector polls a tracker, publishes group capacity and storage server
// states as gauges and feeds the node states into a Registry
type Collector struct {
	source   ClusterSource
	registry *Registry
	interval time.Duration
	timeout  time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewCollector creates a collector. registry may be nil when only the
// gauges are wanted.
func NewCollector(source ClusterSource, registry *Registry, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Collector{
		source:   source,
		registry: registry,
		interval: interval,
		timeout:  interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		defer close(c.doneCh)
		defer ticker.Stop()

		// Collect immediately on start
		c.collectOnce()

		for {
			select {
			case <-ticker.C:
				c.collectOnce()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop stops the collector and waits for an in-flight poll
func (c *Collector) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) collectOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	err := c.Collect(ctx)
	if err != nil {
		logger := log.WithComponent("collector")
		logger.Warn().Err(err).Msg("Cluster poll failed")
	}
	if c.registry != nil {
		c.registry.MarkTracker(err == nil, errText(err))
	}
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Collect polls the tracker once
func (c *Collector) Collect(ctx context.Context) error {
	groups, err := c.source.ListGroups(ctx)
	if err != nil {
		return err
	}

	GroupSpace.Reset()
	GroupStorageServers.Reset()
	var nodes []NodeState
	for _, g := range groups {
		GroupSpace.WithLabelValues(g.Name, "total").Set(float64(g.TotalMB.MB()))
		GroupSpace.WithLabelValues(g.Name, "free").Set(float64(g.FreeMB.MB()))
		GroupSpace.WithLabelValues(g.Name, "trunk_free").Set(float64(g.TrunkFreeMB.MB()))

		servers, err := c.source.ListServers(ctx, g.Name, "")
		if err != nil {
			return err
		}
		counts := make(map[types.StorageStatus]int)
		for _, s := range servers {
			counts[s.Status]++
			addr := net.JoinHostPort(s.IPAddr, strconv.FormatUint(s.StoragePort, 10))
			nodes = append(nodes, NodeState{
				Name:    StorageNodeName(g.Name, addr),
				Healthy: s.Status == types.StorageStatusActive,
				Detail:  s.Status.String(),
			})
		}
		for status, n := range counts {
			GroupStorageServers.WithLabelValues(g.Name, status.String()).Set(float64(n))
		}
	}
	if c.registry != nil {
		c.registry.SetStorage(nodes)
	}
	return nil
}
