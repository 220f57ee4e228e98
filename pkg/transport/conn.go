package transport

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/fdfs/pkg/events"
	"github.com/google/uuid"
)

// ErrNotConnected is wrapped by send and receive calls made without a live socket
var ErrNotConnected = errors.New("not connected")

// ErrNegativeLength is wrapped by receive calls asked for a negative byte count
var ErrNegativeLength = errors.New("negative read length")

var errNoEndpoints = errors.New("no endpoints configured")

const copyBufferSize = 64 * 1024

// Dialer opens network connections; *net.Dialer satisfies it
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Options configures a Conn
type Options struct {
	// Timeout bounds connect and every individual read or write
	Timeout time.Duration

	// Dialer defaults to a net.Dialer
	Dialer Dialer

	// PID is recorded as the creating process; defaults to os.Getpid()
	PID int

	// OnEvent receives errors swallowed by Disconnect
	OnEvent events.Handler
}

// Conn owns at most one socket to one of a set of equivalent endpoints.
// It is not safe for concurrent use by multiple borrowers, but Disconnect and
// Interrupt may be called from any goroutine.
type Conn struct {
	id        string
	pid       int
	endpoints []Endpoint
	timeout   time.Duration
	dialer    Dialer
	onEvent   events.Handler

	mu          sync.Mutex
	nc          net.Conn
	remote      Endpoint
	limit       time.Time
	interrupted atomic.Bool
}

// NewConn creates an unconnected Conn
func NewConn(endpoints []Endpoint, opts Options) *Conn {
	dialer := opts.Dialer
	if dialer == nil {
		dialer = &net.Dialer{Timeout: opts.Timeout}
	}
	pid := opts.PID
	if pid == 0 {
		pid = os.Getpid()
	}
	return &Conn{
		id:        uuid.NewString(),
		pid:       pid,
		endpoints: endpoints,
		timeout:   opts.Timeout,
		dialer:    dialer,
		onEvent:   opts.OnEvent,
	}
}

func (c *Conn) ID() string { return c.id }

// PID returns the id of the process that created the connection
func (c *Conn) PID() int { return c.pid }

// Remote returns the endpoint chosen by the last Connect
func (c *Conn) Remote() Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

// Connected reports whether a socket is open
func (c *Conn) Connected() bool {
	return c.netConn() != nil
}

func (c *Conn) netConn() net.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nc
}

// Connect opens a socket to a randomly chosen endpoint. It is a no-op while connected.
func (c *Conn) Connect(ctx context.Context) error {
	if c.Connected() {
		return nil
	}
	if len(c.endpoints) == 0 {
		return &ConnectError{Err: errNoEndpoints}
	}

	ep := c.endpoints[rand.Intn(len(c.endpoints))]

	dialCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	nc, err := c.dialer.DialContext(dialCtx, "tcp", ep.String())
	if err != nil {
		return &ConnectError{Endpoint: ep, Err: err}
	}

	c.mu.Lock()
	c.nc = nc
	c.remote = ep
	c.mu.Unlock()
	c.interrupted.Store(false)
	return nil
}

// Bind ties the connection to ctx until the returned stop function is called.
// The context deadline caps every I/O deadline, and cancellation expires the
// socket deadline so blocked reads and writes fail promptly. stop reports
// whether the context fired while bound; such a connection must be discarded.
func (c *Conn) Bind(ctx context.Context) (stop func() bool) {
	if d, ok := ctx.Deadline(); ok {
		c.mu.Lock()
		c.limit = d
		c.mu.Unlock()
	}
	unregister := context.AfterFunc(ctx, c.Interrupt)
	return func() bool {
		fired := !unregister()
		c.mu.Lock()
		c.limit = time.Time{}
		c.mu.Unlock()
		return fired || c.interrupted.Load()
	}
}

// Interrupt makes any blocked or future I/O on the current socket fail
func (c *Conn) Interrupt() {
	c.interrupted.Store(true)
	if nc := c.netConn(); nc != nil {
		_ = nc.SetDeadline(time.Unix(1, 0))
	}
}

func (c *Conn) deadline() time.Time {
	if c.interrupted.Load() {
		return time.Unix(1, 0)
	}
	var d time.Time
	if c.timeout > 0 {
		d = time.Now().Add(c.timeout)
	}
	c.mu.Lock()
	limit := c.limit
	c.mu.Unlock()
	if !limit.IsZero() && (d.IsZero() || limit.Before(d)) {
		d = limit
	}
	return d
}

// SendAll writes every byte of b, looping over partial writes
func (c *Conn) SendAll(b []byte) error {
	nc := c.netConn()
	if nc == nil {
		return &WriteError{Endpoint: c.Remote(), Err: ErrNotConnected}
	}
	for len(b) > 0 {
		if err := nc.SetWriteDeadline(c.deadline()); err != nil {
			return &WriteError{Endpoint: c.Remote(), Err: err}
		}
		n, err := nc.Write(b)
		b = b[n:]
		if err != nil {
			return &WriteError{Endpoint: c.Remote(), Err: err}
		}
	}
	return nil
}

// SendFrom streams exactly n bytes from r to the socket
func (c *Conn) SendFrom(r io.Reader, n int64) error {
	if c.netConn() == nil {
		return &WriteError{Endpoint: c.Remote(), Err: ErrNotConnected}
	}
	buf := make([]byte, min(n, copyBufferSize))
	for n > 0 {
		chunk := buf[:min(n, int64(len(buf)))]
		k, err := io.ReadFull(r, chunk)
		if k > 0 {
			if werr := c.SendAll(chunk[:k]); werr != nil {
				return werr
			}
			n -= int64(k)
		}
		if err != nil && n > 0 {
			return &WriteError{Endpoint: c.Remote(), Err: err}
		}
	}
	return nil
}

// RecvExactly reads exactly n bytes; it never returns a short read
func (c *Conn) RecvExactly(n int) ([]byte, error) {
	if n < 0 {
		return nil, &ReadError{Endpoint: c.Remote(), Want: int64(n), Err: ErrNegativeLength}
	}
	buf := make([]byte, n)
	nc := c.netConn()
	if nc == nil {
		return nil, &ReadError{Endpoint: c.Remote(), Want: int64(n), Err: ErrNotConnected}
	}
	got, err := io.ReadFull(&deadlineReader{c: c, nc: nc}, buf)
	if err != nil {
		return nil, &ReadError{Endpoint: c.Remote(), Want: int64(n), Got: int64(got), Err: err}
	}
	return buf, nil
}

// RecvTo copies exactly n bytes from the socket into w
func (c *Conn) RecvTo(w io.Writer, n int64) (int64, error) {
	if n < 0 {
		return 0, &ReadError{Endpoint: c.Remote(), Want: n, Err: ErrNegativeLength}
	}
	nc := c.netConn()
	if nc == nil {
		return 0, &ReadError{Endpoint: c.Remote(), Want: n, Err: ErrNotConnected}
	}
	buf := make([]byte, min(max(n, 1), copyBufferSize))
	got, err := io.CopyBuffer(w, io.LimitReader(&deadlineReader{c: c, nc: nc}, n), buf)
	if err == nil && got < n {
		err = io.ErrUnexpectedEOF
	}
	if err != nil {
		return got, &ReadError{Endpoint: c.Remote(), Want: n, Got: got, Err: err}
	}
	return got, nil
}

// Disconnect half-closes and closes the socket. Errors are reported to the
// event handler, never returned. Safe to call repeatedly.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	nc := c.nc
	c.nc = nil
	remote := c.remote
	c.mu.Unlock()

	if nc == nil {
		return
	}

	meta := map[string]string{"conn": c.id, "endpoint": remote.String()}
	if cw, ok := nc.(interface{ CloseWrite() error }); ok {
		if err := cw.CloseWrite(); err != nil {
			c.onEvent.Emit(events.EventTeardownError, "shutdown failed", err, meta)
		}
	}
	if err := nc.Close(); err != nil {
		c.onEvent.Emit(events.EventTeardownError, "close failed", err, meta)
	}
}

// deadlineReader refreshes the read deadline before every read so the
// timeout bounds idle time rather than total transfer time
type deadlineReader struct {
	c  *Conn
	nc net.Conn
}

func (r *deadlineReader) Read(p []byte) (int, error) {
	if err := r.nc.SetReadDeadline(r.c.deadline()); err != nil {
		return 0, err
	}
	return r.nc.Read(p)
}
