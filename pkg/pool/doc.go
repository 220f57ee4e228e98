/*
Package pool manages a bounded set of connections to one logical target,
either a tracker cluster reached through several equivalent hosts or a single
storage node.

# Admission

A pool never holds more than Config.MaxConns open connections. When the
ceiling is reached Get fails immediately with ErrPoolExhausted instead of
queueing; callers that need to bound concurrency do so above the pool. A slot
is reserved before dialing, so concurrent Get calls can never overshoot.

New connections are dialed up to Config.ConnectAttempts times, paced by a
token-bucket limiter. Each failed attempt is logged, counted in
fdfs_pool_connect_retries_total and reported through Config.OnEvent; only the
last error is returned.

# Reuse

	conn, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Release(conn)

Release puts live connections back on the idle list and drops connections
whose socket was closed. A connection that failed mid-exchange must be
disconnected before it is released.

# Process identity

Every pool remembers the process id that created it and every connection
records its creator. When the id changes, the next Get or Release discards all
pooled state without shutting sockets down, and connections from the previous
identity are never handed out again.
*/
package pool
