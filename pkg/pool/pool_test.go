package pool

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cuemby/fdfs/pkg/events"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listen starts a loopback listener that holds accepted connections open
func listen(t *testing.T) transport.Endpoint {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var mu sync.Mutex
	var accepted []net.Conn
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range accepted {
			c.Close()
		}
	})

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			accepted = append(accepted, c)
			mu.Unlock()
		}
	}()

	return transport.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
}

func newTestPool(t *testing.T, cfg Config) *Pool {
	t.Helper()
	if cfg.Timeout == 0 {
		cfg.Timeout = time.Second
	}
	p, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestNewValidation(t *testing.T) {
	ep := transport.Endpoint{Host: "127.0.0.1", Port: 1}

	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "no endpoints", cfg: Config{}, wantErr: true},
		{name: "negative max", cfg: Config{Endpoints: []transport.Endpoint{ep}, MaxConns: -1}, wantErr: true},
		{name: "negative attempts", cfg: Config{Endpoints: []transport.Endpoint{ep}, ConnectAttempts: -2}, wantErr: true},
		{name: "defaults", cfg: Config{Endpoints: []transport.Endpoint{ep}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, DefaultMaxConns, p.cfg.MaxConns)
			assert.Equal(t, DefaultConnectAttempts, p.cfg.ConnectAttempts)
			assert.Equal(t, "127.0.0.1:1", p.Name())
		})
	}
}

func TestGetReleaseReuse(t *testing.T) {
	ep := listen(t)
	p := newTestPool(t, Config{Name: "reuse", Endpoints: []transport.Endpoint{ep}, MaxConns: 2})

	c1, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.True(t, c1.Connected())
	assert.Equal(t, Stats{InUse: 1, Created: 1}, p.Stats())

	p.Release(c1)
	assert.Equal(t, Stats{Available: 1, Created: 1}, p.Stats())

	c2, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, c1, c2, "idle connection must be reused")
	p.Release(c2)
}

func TestReleaseDropsDeadConnection(t *testing.T) {
	ep := listen(t)

	var got []events.EventType
	p := newTestPool(t, Config{
		Endpoints: []transport.Endpoint{ep},
		MaxConns:  1,
		OnEvent:   func(e *events.Event) { got = append(got, e.Type) },
	})

	c, err := p.Get(context.Background())
	require.NoError(t, err)
	c.Disconnect()
	p.Release(c)

	assert.Equal(t, Stats{}, p.Stats())
	assert.Contains(t, got, events.EventConnDropped)

	// the slot is free again
	c, err = p.Get(context.Background())
	require.NoError(t, err)
	p.Release(c)
}

func TestAdmissionFailsFast(t *testing.T) {
	ep := listen(t)
	const maxConns = 3
	p := newTestPool(t, Config{Endpoints: []transport.Endpoint{ep}, MaxConns: maxConns})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		conns     []*transport.Conn
		exhausted int
	)
	for i := 0; i < maxConns+1; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.Get(context.Background())
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ErrPoolExhausted)
				exhausted++
				return
			}
			conns = append(conns, c)
		}()
	}
	wg.Wait()

	assert.Len(t, conns, maxConns)
	assert.Equal(t, 1, exhausted)
	assert.LessOrEqual(t, p.Stats().Created, maxConns)

	p.Release(conns[0])
	c, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Same(t, conns[0], c)
	assert.Equal(t, maxConns, p.Stats().Created)

	for _, c := range conns {
		p.Release(c)
	}
}

func TestConnectRetriesThenFails(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := transport.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	ln.Close()

	retries := 0
	p := newTestPool(t, Config{
		Endpoints:       []transport.Endpoint{ep},
		ConnectAttempts: 3,
		RetryInterval:   time.Millisecond,
		OnEvent: func(e *events.Event) {
			if e.Type == events.EventConnectRetry {
				retries++
			}
		},
	})

	_, err = p.Get(context.Background())
	var cerr *transport.ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 3, retries)
	assert.Equal(t, Stats{}, p.Stats(), "failed dial must release its slot")
}

type flakyDialer struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (d *flakyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.mu.Lock()
	d.calls++
	fail := d.calls <= d.failures
	d.mu.Unlock()
	if fail {
		return nil, errors.New("listener warming up")
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

func TestConnectRecoversWithinAttempts(t *testing.T) {
	ep := listen(t)
	dialer := &flakyDialer{failures: 2}
	p := newTestPool(t, Config{
		Endpoints:     []transport.Endpoint{ep},
		RetryInterval: time.Millisecond,
		Dialer:        dialer,
	})

	c, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dialer.calls)
	p.Release(c)
}

func TestForkReset(t *testing.T) {
	ep := listen(t)

	var resets int
	p := newTestPool(t, Config{
		Endpoints: []transport.Endpoint{ep},
		MaxConns:  2,
		OnEvent: func(e *events.Event) {
			if e.Type == events.EventPoolReset {
				resets++
			}
		},
	})

	pid := 1000
	p.getpid = func() int { return pid }
	p.pid.Store(int64(pid))

	parentIdle, err := p.Get(context.Background())
	require.NoError(t, err)
	parentBusy, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Release(parentIdle)
	assert.Equal(t, Stats{Available: 1, InUse: 1, Created: 2}, p.Stats())

	// simulate running in a forked child
	pid = 2000

	child, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, resets)
	assert.NotSame(t, parentIdle, child)
	assert.Equal(t, 2000, child.PID())
	assert.Equal(t, Stats{InUse: 1, Created: 1}, p.Stats())

	// parent connections are ignored on release and keep their sockets
	p.Release(parentBusy)
	assert.True(t, parentBusy.Connected())
	assert.Equal(t, Stats{InUse: 1, Created: 1}, p.Stats())

	p.Release(child)
	assert.Equal(t, 1, resets)

	parentIdle.Disconnect()
	parentBusy.Disconnect()
}

// hookDialer runs hook before every dial and fails when fail is set
type hookDialer struct {
	hook func()
	fail bool
}

func (d *hookDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if d.hook != nil {
		d.hook()
	}
	if d.fail {
		return nil, errors.New("connection refused")
	}
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

func TestResetDuringFailedDialKeepsCount(t *testing.T) {
	ep := listen(t)
	dialer := &hookDialer{fail: true}
	p := newTestPool(t, Config{
		Endpoints:       []transport.Endpoint{ep},
		MaxConns:        1,
		ConnectAttempts: 1,
		Dialer:          dialer,
	})

	pid := 1000
	p.getpid = func() int { return pid }
	p.pid.Store(int64(pid))
	dialer.hook = func() {
		pid = 2000
		p.checkPID()
	}

	_, err := p.Get(context.Background())
	require.Error(t, err)
	assert.Equal(t, Stats{}, p.Stats())

	dialer.hook = nil
	dialer.fail = false
	c, err := p.Get(context.Background())
	require.NoError(t, err)
	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolExhausted)
	p.Release(c)
	assert.Equal(t, Stats{Available: 1, Created: 1}, p.Stats())
}

func TestDestroyDuringDialCountsNewConnection(t *testing.T) {
	ep := listen(t)
	dialer := &hookDialer{}
	p := newTestPool(t, Config{
		Endpoints: []transport.Endpoint{ep},
		MaxConns:  1,
		Dialer:    dialer,
	})
	dialer.hook = p.Destroy

	c, err := p.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{InUse: 1, Created: 1}, p.Stats())

	p.Release(c)
	assert.Equal(t, Stats{Available: 1, Created: 1}, p.Stats())
}

func TestDestroy(t *testing.T) {
	ep := listen(t)
	p := newTestPool(t, Config{Endpoints: []transport.Endpoint{ep}})

	idle, err := p.Get(context.Background())
	require.NoError(t, err)
	busy, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Release(idle)

	p.Destroy()
	assert.Equal(t, Stats{}, p.Stats())
	assert.False(t, idle.Connected())
	assert.False(t, busy.Connected())

	// releasing a connection the pool no longer tracks is harmless
	p.Release(busy)
	assert.Equal(t, Stats{}, p.Stats())

	// the pool is usable after Destroy
	c, err := p.Get(context.Background())
	require.NoError(t, err)
	p.Release(c)

	p.Destroy()
	p.Destroy()
}

func TestClose(t *testing.T) {
	ep := listen(t)
	p := newTestPool(t, Config{Endpoints: []transport.Endpoint{ep}})

	c, err := p.Get(context.Background())
	require.NoError(t, err)

	p.Close()
	assert.False(t, c.Connected())

	_, err = p.Get(context.Background())
	assert.ErrorIs(t, err, ErrPoolClosed)
}

func TestGetHonoursContext(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ep := transport.Endpoint{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}
	ln.Close()

	p := newTestPool(t, Config{
		Endpoints:     []transport.Endpoint{ep},
		RetryInterval: time.Hour,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = p.Get(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 0, p.Stats().Created)
}
