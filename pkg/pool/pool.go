package pool

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/fdfs/pkg/events"
	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/metrics"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

var (
	// ErrPoolExhausted is returned when MaxConns connections are already open
	ErrPoolExhausted = errors.New("connection pool exhausted")

	// ErrPoolClosed is returned by Get after Close
	ErrPoolClosed = errors.New("connection pool closed")
)

const (
	DefaultMaxConns        = math.MaxInt32
	DefaultConnectAttempts = 10
	DefaultRetryInterval   = 100 * time.Millisecond
)

// Config holds pool configuration
type Config struct {
	// Name labels logs and metrics, e.g. "tracker" or "storage/10.0.0.5:23000"
	Name string

	// Endpoints are equivalent hosts; each connection picks one at random
	Endpoints []transport.Endpoint

	// Timeout bounds connect and every socket read or write
	Timeout time.Duration

	// MaxConns caps open connections. Zero means DefaultMaxConns.
	MaxConns int

	// ConnectAttempts bounds dial retries for one new connection. Zero means DefaultConnectAttempts.
	ConnectAttempts int

	// RetryInterval paces dial retries. Zero means DefaultRetryInterval.
	RetryInterval time.Duration

	// Dialer overrides the network dialer
	Dialer transport.Dialer

	// OnEvent receives diagnostics: retries, resets, swallowed teardown errors
	OnEvent events.Handler
}

func (c Config) withDefaults() (Config, error) {
	if len(c.Endpoints) == 0 {
		return c, fmt.Errorf("pool %q: no endpoints", c.Name)
	}
	if c.MaxConns < 0 {
		return c, fmt.Errorf("pool %q: max conns must not be negative, got %d", c.Name, c.MaxConns)
	}
	if c.ConnectAttempts < 0 {
		return c, fmt.Errorf("pool %q: connect attempts must not be negative, got %d", c.Name, c.ConnectAttempts)
	}
	if c.MaxConns == 0 {
		c.MaxConns = DefaultMaxConns
	}
	if c.ConnectAttempts == 0 {
		c.ConnectAttempts = DefaultConnectAttempts
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.Name == "" {
		c.Name = c.Endpoints[0].String()
	}
	return c, nil
}

// Stats is a point-in-time view of a pool
type Stats struct {
	Available int
	InUse     int
	Created   int
}

// Pool hands out connections to one logical target and takes them back.
// Connections are only reused by the process that created them.
type Pool struct {
	cfg    Config
	logger zerolog.Logger
	getpid func() int

	// forkMu serializes resets after a process id change
	forkMu sync.Mutex
	pid    atomic.Int64

	mu        sync.Mutex
	available []*transport.Conn
	inUse     map[*transport.Conn]struct{}
	created   int
	closed    bool

	// gen changes whenever created is reset, so a slot reserved before the
	// reset is not released into the new count
	gen uint64
}

// New creates an empty pool. No connection is opened until Get.
func New(cfg Config) (*Pool, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	p := &Pool{
		cfg:    cfg,
		logger: log.WithPool(cfg.Name),
		getpid: os.Getpid,
		inUse:  make(map[*transport.Conn]struct{}),
	}
	p.pid.Store(int64(p.getpid()))
	return p, nil
}

// Name returns the pool label
func (p *Pool) Name() string {
	return p.cfg.Name
}

// checkPID resets the pool if the process id changed since the pool was
// created or last reset. Inherited sockets are dropped without shutdown so the
// parent's streams stay intact.
func (p *Pool) checkPID() {
	cur := p.getpid()
	if p.pid.Load() == int64(cur) {
		return
	}

	p.forkMu.Lock()
	defer p.forkMu.Unlock()
	if p.pid.Load() == int64(cur) {
		return
	}

	p.mu.Lock()
	dropped := len(p.available) + len(p.inUse)
	p.available = nil
	p.inUse = make(map[*transport.Conn]struct{})
	p.created = 0
	p.gen++
	p.pid.Store(int64(cur))
	p.updateGauges()
	p.mu.Unlock()

	p.logger.Warn().Int("pid", cur).Int("dropped", dropped).Msg("Process id changed, pool reset")
	p.cfg.OnEvent.Emit(events.EventPoolReset, "process id changed", nil, map[string]string{
		"pool":    p.cfg.Name,
		"pid":     strconv.Itoa(cur),
		"dropped": strconv.Itoa(dropped),
	})
}

// Get returns an idle connection or opens a new one. The caller must hand it
// back with Release.
func (p *Pool) Get(ctx context.Context) (*transport.Conn, error) {
	p.checkPID()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if n := len(p.available); n > 0 {
		conn := p.available[n-1]
		p.available = p.available[:n-1]
		p.inUse[conn] = struct{}{}
		p.updateGauges()
		p.mu.Unlock()
		return conn, nil
	}
	p.mu.Unlock()

	return p.makeConnection(ctx)
}

// makeConnection reserves a slot, dials without holding the lock and
// registers the connection as in use
func (p *Pool) makeConnection(ctx context.Context) (*transport.Conn, error) {
	p.mu.Lock()
	if p.created >= p.cfg.MaxConns {
		p.mu.Unlock()
		metrics.PoolExhausted.WithLabelValues(p.cfg.Name).Inc()
		p.cfg.OnEvent.Emit(events.EventPoolExhausted, "connection ceiling reached", ErrPoolExhausted, map[string]string{
			"pool": p.cfg.Name,
			"max":  strconv.Itoa(p.cfg.MaxConns),
		})
		return nil, fmt.Errorf("%w: %d connections open to %s", ErrPoolExhausted, p.cfg.MaxConns, p.cfg.Name)
	}
	p.created++
	gen := p.gen
	p.mu.Unlock()

	conn, err := p.dial(ctx)

	p.mu.Lock()
	if err != nil {
		if p.gen == gen {
			p.created--
		}
		p.mu.Unlock()
		return nil, err
	}
	if p.closed {
		p.mu.Unlock()
		conn.Disconnect()
		return nil, ErrPoolClosed
	}
	if p.gen != gen {
		if int64(conn.PID()) != p.pid.Load() {
			// dialed by the parent of a fork; Release will ignore it
			p.mu.Unlock()
			return conn, nil
		}
		// the pool was reset while dialing; count the connection anew
		p.created++
	}
	p.inUse[conn] = struct{}{}
	p.updateGauges()
	p.mu.Unlock()
	return conn, nil
}

func (p *Pool) dial(ctx context.Context) (*transport.Conn, error) {
	limiter := rate.NewLimiter(rate.Every(p.cfg.RetryInterval), 1)

	var lastErr error
	for attempt := 1; attempt <= p.cfg.ConnectAttempts; attempt++ {
		if err := limiter.Wait(ctx); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		conn := transport.NewConn(p.cfg.Endpoints, transport.Options{
			Timeout: p.cfg.Timeout,
			Dialer:  p.cfg.Dialer,
			PID:     p.getpid(),
			OnEvent: p.cfg.OnEvent,
		})
		err := conn.Connect(ctx)
		if err == nil {
			p.logger.Debug().Str("conn", conn.ID()).Str("endpoint", conn.Remote().String()).Msg("Connection opened")
			return conn, nil
		}

		lastErr = err
		metrics.PoolConnectRetries.WithLabelValues(p.cfg.Name).Inc()
		p.logger.Warn().Err(err).Int("attempt", attempt).Int("max_attempts", p.cfg.ConnectAttempts).Msg("Connect attempt failed")
		p.cfg.OnEvent.Emit(events.EventConnectRetry, "connect attempt failed", err, map[string]string{
			"pool":    p.cfg.Name,
			"attempt": strconv.Itoa(attempt),
		})
	}

	p.cfg.OnEvent.Emit(events.EventConnectFailed, "giving up on connect", lastErr, map[string]string{
		"pool": p.cfg.Name,
	})
	return nil, lastErr
}

// Release hands a connection back. Live connections become idle; dead ones
// are dropped. Connections created by another process are ignored.
func (p *Pool) Release(conn *transport.Conn) {
	if conn == nil {
		return
	}
	p.checkPID()
	if int64(conn.PID()) != p.pid.Load() {
		return
	}

	p.mu.Lock()
	if _, ok := p.inUse[conn]; !ok {
		// destroyed or never ours
		p.mu.Unlock()
		conn.Disconnect()
		return
	}
	delete(p.inUse, conn)

	if conn.Connected() && !p.closed {
		p.available = append(p.available, conn)
		p.updateGauges()
		p.mu.Unlock()
		return
	}
	p.created--
	p.updateGauges()
	p.mu.Unlock()

	conn.Disconnect()
	p.logger.Debug().Str("conn", conn.ID()).Msg("Dropped dead connection")
	p.cfg.OnEvent.Emit(events.EventConnDropped, "dead connection dropped", nil, map[string]string{
		"pool": p.cfg.Name,
		"conn": conn.ID(),
	})
}

// Destroy disconnects every connection, idle and in use, and resets the pool
// to its initial empty state. It never fails.
func (p *Pool) Destroy() {
	p.mu.Lock()
	conns := make([]*transport.Conn, 0, len(p.available)+len(p.inUse))
	conns = append(conns, p.available...)
	for c := range p.inUse {
		conns = append(conns, c)
	}
	p.available = nil
	p.inUse = make(map[*transport.Conn]struct{})
	p.created = 0
	p.gen++
	p.updateGauges()
	p.mu.Unlock()

	for _, c := range conns {
		c.Disconnect()
	}
	if len(conns) > 0 {
		p.logger.Debug().Int("count", len(conns)).Msg("Pool destroyed")
	}
}

// Close destroys the pool and rejects further Get calls
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.Destroy()
	metrics.PoolConnections.DeleteLabelValues(p.cfg.Name, "idle")
	metrics.PoolConnections.DeleteLabelValues(p.cfg.Name, "in_use")
}

// Stats returns current counts
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Available: len(p.available),
		InUse:     len(p.inUse),
		Created:   p.created,
	}
}

// updateGauges must be called with p.mu held
func (p *Pool) updateGauges() {
	metrics.PoolConnections.WithLabelValues(p.cfg.Name, "idle").Set(float64(len(p.available)))
	metrics.PoolConnections.WithLabelValues(p.cfg.Name, "in_use").Set(float64(len(p.inUse)))
}
