/*
Package health probes tracker and storage nodes.

TCPChecker proves a port is open. ActiveTestChecker sends command 111
through a client's pool and proves the node serves requests. Sweep runs a
set of targets concurrently, which is what the health command prints.

A long running monitor keeps one Verdict per node so a single lost reply
does not flip it:

	p := health.DefaultPolicy()
	v := health.NewVerdict()
	for range time.Tick(30 * time.Second) {
		res := health.Run(ctx, health.NewActiveTestChecker(tc), v, p)
		if !v.Healthy {
			log.Logger.Warn().Str("detail", res.Detail).Msg("Tracker unhealthy")
		}
	}
*/
package health
