package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/cuemby/fdfs/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startEcho starts a listener whose connections are handled by fn
func startEcho(t *testing.T, fn func(net.Conn)) Endpoint {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go fn(c)
		}
	}()

	addr := ln.Addr().(*net.TCPAddr)
	return Endpoint{Host: "127.0.0.1", Port: addr.Port}
}

func echoHandler(c net.Conn) {
	defer c.Close()
	_, _ = io.Copy(c, c)
}

func TestParseEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("10.0.0.1:22122")
	require.NoError(t, err)
	assert.Equal(t, Endpoint{Host: "10.0.0.1", Port: 22122}, ep)
	assert.Equal(t, "10.0.0.1:22122", ep.String())

	tests := []string{"10.0.0.1", ":22122", "host:0", "host:70000", "host:abc"}
	for _, s := range tests {
		t.Run(s, func(t *testing.T) {
			_, err := ParseEndpoint(s)
			assert.Error(t, err)
		})
	}

	_, err = ParseEndpoints(nil)
	assert.Error(t, err)
}

func TestConnSendRecv(t *testing.T) {
	ep := startEcho(t, echoHandler)

	c := NewConn([]Endpoint{ep}, Options{Timeout: time.Second})
	assert.False(t, c.Connected())
	assert.Equal(t, os.Getpid(), c.PID())
	assert.NotEmpty(t, c.ID())

	require.NoError(t, c.Connect(context.Background()))
	assert.True(t, c.Connected())
	assert.Equal(t, ep, c.Remote())

	// second connect is a no-op
	require.NoError(t, c.Connect(context.Background()))

	require.NoError(t, c.SendAll([]byte("hello world")))
	got, err := c.RecvExactly(11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, c.SendFrom(strings.NewReader("streamed"), 8))
	var buf bytes.Buffer
	n, err := c.RecvTo(&buf, 8)
	require.NoError(t, err)
	assert.Equal(t, int64(8), n)
	assert.Equal(t, "streamed", buf.String())

	c.Disconnect()
	assert.False(t, c.Connected())
	c.Disconnect()
}

func TestConnRecvNegativeLength(t *testing.T) {
	c := NewConn([]Endpoint{startEcho(t, echoHandler)}, Options{Timeout: time.Second})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	_, err := c.RecvExactly(-1)
	var rerr *ReadError
	require.ErrorAs(t, err, &rerr)
	assert.ErrorIs(t, err, ErrNegativeLength)

	n, err := c.RecvTo(io.Discard, -5)
	assert.Zero(t, n)
	assert.ErrorIs(t, err, ErrNegativeLength)
}

func TestConnRecvShortRead(t *testing.T) {
	ep := startEcho(t, func(c net.Conn) {
		_, _ = c.Write([]byte("abc"))
		c.Close()
	})

	c := NewConn([]Endpoint{ep}, Options{Timeout: time.Second})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	_, err := c.RecvExactly(10)
	var rerr *ReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(10), rerr.Want)
	assert.Equal(t, int64(3), rerr.Got)
}

func TestConnConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	c := NewConn([]Endpoint{{Host: "127.0.0.1", Port: port}}, Options{Timeout: time.Second})
	err = c.Connect(context.Background())

	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, port, cerr.Endpoint.Port)
	assert.Contains(t, err.Error(), "error connecting to")
	assert.False(t, c.Connected())
}

func TestConnNoEndpoints(t *testing.T) {
	c := NewConn(nil, Options{})
	var cerr *ConnectError
	assert.ErrorAs(t, c.Connect(context.Background()), &cerr)
}

func TestConnNotConnected(t *testing.T) {
	c := NewConn([]Endpoint{{Host: "127.0.0.1", Port: 1}}, Options{})

	err := c.SendAll([]byte("x"))
	var werr *WriteError
	require.ErrorAs(t, err, &werr)
	assert.True(t, errors.Is(err, ErrNotConnected))

	_, err = c.RecvExactly(1)
	var rerr *ReadError
	require.ErrorAs(t, err, &rerr)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestConnReadTimeout(t *testing.T) {
	ep := startEcho(t, func(c net.Conn) {
		time.Sleep(time.Second)
		c.Close()
	})

	c := NewConn([]Endpoint{ep}, Options{Timeout: 50 * time.Millisecond})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	start := time.Now()
	_, err := c.RecvExactly(1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	var nerr net.Error
	require.ErrorAs(t, err, &nerr)
	assert.True(t, nerr.Timeout())
}

func TestConnBindCancel(t *testing.T) {
	ep := startEcho(t, func(c net.Conn) {
		time.Sleep(time.Second)
		c.Close()
	})

	c := NewConn([]Endpoint{ep}, Options{Timeout: 5 * time.Second})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	ctx, cancel := context.WithCancel(context.Background())
	stop := c.Bind(ctx)
	time.AfterFunc(30*time.Millisecond, cancel)

	start := time.Now()
	_, err := c.RecvExactly(1)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.True(t, stop(), "cancelled binding must be reported")
}

func TestConnBindUnfired(t *testing.T) {
	ep := startEcho(t, echoHandler)

	c := NewConn([]Endpoint{ep}, Options{Timeout: time.Second})
	require.NoError(t, c.Connect(context.Background()))
	defer c.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	stop := c.Bind(ctx)
	require.NoError(t, c.SendAll([]byte("ok")))
	_, err := c.RecvExactly(2)
	require.NoError(t, err)
	assert.False(t, stop())
}

type failingConn struct {
	net.Conn
}

func (failingConn) Close() error { return errors.New("close boom") }

type stubDialer struct{ conn net.Conn }

func (d stubDialer) DialContext(context.Context, string, string) (net.Conn, error) {
	return d.conn, nil
}

func TestConnDisconnectReportsErrors(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	defer client.Close()

	var got []*events.Event
	c := NewConn([]Endpoint{{Host: "pipe", Port: 1}}, Options{
		Dialer:  stubDialer{conn: failingConn{Conn: client}},
		OnEvent: func(e *events.Event) { got = append(got, e) },
	})
	require.NoError(t, c.Connect(context.Background()))

	c.Disconnect()
	require.Len(t, got, 1)
	assert.Equal(t, events.EventTeardownError, got[0].Type)
	assert.EqualError(t, got[0].Err, "close boom")
	assert.Equal(t, c.ID(), got[0].Metadata["conn"])
}
