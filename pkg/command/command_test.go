package command

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/cuemby/fdfs/pkg/pool"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// request is what the scripted server saw
type request struct {
	hdr  protocol.Header
	body []byte
}

// reply builds a response frame
func reply(status uint8, body []byte) []byte {
	frame := make([]byte, protocol.HeaderSize, protocol.HeaderSize+len(body))
	binary.BigEndian.PutUint64(frame, uint64(len(body)))
	frame[8] = byte(protocol.CmdResp)
	frame[9] = status
	return append(frame, body...)
}

// serve answers every request on a connection with the next scripted frame.
// A nil frame closes the connection without answering; once the script runs
// out requests go unanswered.
func serve(t *testing.T, frames ...[]byte) (*pool.Pool, <-chan request) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	done := make(chan struct{})
	t.Cleanup(func() { close(done) })

	seen := make(chan request, len(frames)+1)
	script := make(chan []byte, len(frames))
	for _, f := range frames {
		script <- f
	}
	close(script)

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				for {
					raw := make([]byte, protocol.HeaderSize)
					if _, err := io.ReadFull(c, raw); err != nil {
						return
					}
					hdr, _ := protocol.DecodeHeader(raw)
					body := make([]byte, hdr.Length)
					if _, err := io.ReadFull(c, body); err != nil {
						return
					}
					seen <- request{hdr: hdr, body: body}

					frame, ok := <-script
					if !ok {
						// script exhausted: hold the connection silently
						<-done
						return
					}
					if frame == nil {
						return
					}
					if _, err := c.Write(frame); err != nil {
						return
					}
				}
			}(c)
		}
	}()

	p, err := pool.New(pool.Config{
		Name:            "test",
		Endpoints:       []transport.Endpoint{{Host: "127.0.0.1", Port: ln.Addr().(*net.TCPAddr).Port}},
		Timeout:         time.Second,
		MaxConns:        4,
		ConnectAttempts: 1,
	})
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p, seen
}

type pair struct {
	Name  string
	Count uint64
}

func (p *pair) Width() int { return 8 + 8 }

func (p *pair) DecodeFrom(r *protocol.Reader) {
	p.Name = r.FixedString(8)
	p.Count = r.Uint64()
}

func (p *pair) EncodeTo(w *protocol.Writer) {
	w.FixedString(p.Name, 8).Uint64(p.Count)
}

func encodePairs(items ...pair) []byte {
	w := protocol.NewBodyWriter()
	for i := range items {
		items[i].EncodeTo(w)
	}
	return w.Frame()
}

func TestExecuteRoundTrip(t *testing.T) {
	p, seen := serve(t, reply(0, []byte("pong")))

	c := New(p, protocol.CmdActiveTest, 5)
	c.Body().FixedString("grp", 5)
	assert.Equal(t, StateBuilt, c.State())

	body, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "pong", string(body))
	assert.Equal(t, StateDone, c.State())

	req := <-seen
	assert.Equal(t, protocol.CmdActiveTest, req.hdr.Cmd)
	assert.Equal(t, uint64(5), req.hdr.Length)
	assert.Equal(t, []byte("grp\x00\x00"), req.body)

	assert.Equal(t, pool.Stats{Available: 1, Created: 1}, p.Stats(), "connection returns to the pool")
}

func TestExecuteStream(t *testing.T) {
	p, seen := serve(t, reply(0, nil))

	c := New(p, protocol.CmdUploadFile, 3+11)
	c.Body().Uint8(1).String("ab")
	c.Stream(strings.NewReader("hello world"), 11)

	body, err := c.Execute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, body)

	req := <-seen
	assert.Equal(t, "\x01abhello world", string(req.body))
}

func TestExecuteBodyLengthMismatch(t *testing.T) {
	p, _ := serve(t)

	c := New(p, protocol.CmdDeleteFile, 20)
	c.Body().FixedString("group1", 16)

	_, err := c.Execute(context.Background())
	assert.ErrorIs(t, err, ErrBodyLength)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, pool.Stats{}, p.Stats(), "nothing is dialed")
}

func TestExecuteOnlyOnce(t *testing.T) {
	p, _ := serve(t, reply(0, nil))

	c := New(p, protocol.CmdActiveTest, 0)
	_, err := c.Execute(context.Background())
	require.NoError(t, err)

	_, err = c.Execute(context.Background())
	assert.Error(t, err)
}

func TestServerErrorKeepsConnection(t *testing.T) {
	p, _ := serve(t, reply(uint8(syscall.ENOENT), []byte("ignored")), reply(0, []byte("ok")))

	c := New(p, protocol.CmdGetMetadata, 0)
	_, err := c.Execute(context.Background())

	var serr *ServerError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, uint8(syscall.ENOENT), serr.Status)
	assert.Equal(t, syscall.ENOENT.Error(), serr.Message)
	assert.Equal(t, protocol.CmdGetMetadata, serr.Cmd)
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.Equal(t, StateDone, c.State())
	assert.Equal(t, pool.Stats{Available: 1, Created: 1}, p.Stats())

	// the drained connection is reused for the next exchange
	body, err := New(p, protocol.CmdActiveTest, 0).Execute(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, 1, p.Stats().Created)
}

func TestTransportErrorDiscardsConnection(t *testing.T) {
	p, _ := serve(t, nil)

	c := New(p, protocol.CmdActiveTest, 0)
	_, err := c.Execute(context.Background())

	var rerr *transport.ReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, int64(protocol.HeaderSize), rerr.Want)
	assert.Equal(t, StateAborted, c.State())
	assert.Equal(t, pool.Stats{}, p.Stats(), "broken connection must not be pooled")
}

func TestTruncatedBodyDiscardsConnection(t *testing.T) {
	frame := reply(0, []byte("0123456789"))
	p, _ := serve(t, frame[:len(frame)-4])

	c := New(p, protocol.CmdActiveTest, 0)
	_, err := c.Execute(context.Background())

	var rerr *transport.ReadError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, pool.Stats{}, p.Stats())
}

// header builds a bodyless response header declaring length bytes
func header(length uint64, status uint8) []byte {
	frame := make([]byte, protocol.HeaderSize)
	binary.BigEndian.PutUint64(frame, length)
	frame[8] = byte(protocol.CmdResp)
	frame[9] = status
	return frame
}

func TestOversizedBodyLengthDiscardsConnection(t *testing.T) {
	tests := []struct {
		name   string
		length uint64
		status uint8
	}{
		{"beyond int64", 1<<63 + 5, 0},
		{"beyond int64 on server error", 1<<63 + 5, uint8(syscall.ENOENT)},
		{"beyond buffered limit", protocol.MaxBufferedBody + 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := serve(t, header(tt.length, tt.status))

			c := New(p, protocol.CmdActiveTest, 0)
			_, err := c.Execute(context.Background())

			assert.ErrorIs(t, err, protocol.ErrMalformedResponse)
			var serr *ServerError
			assert.False(t, errors.As(err, &serr))
			assert.Equal(t, StateAborted, c.State())
			assert.Equal(t, pool.Stats{}, p.Stats())
		})
	}
}

func TestWrongResponseCommand(t *testing.T) {
	frame := reply(0, nil)
	frame[8] = 42
	p, _ := serve(t, frame)

	_, err := New(p, protocol.CmdActiveTest, 0).Execute(context.Background())
	assert.ErrorIs(t, err, protocol.ErrMalformedResponse)
	assert.Equal(t, pool.Stats{}, p.Stats())
}

func TestContextCancelAbortsRead(t *testing.T) {
	p, _ := serve(t) // never answers

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	c := New(p, protocol.CmdActiveTest, 0)
	_, err := c.Execute(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, pool.Stats{}, p.Stats())
}

func TestExecuteTo(t *testing.T) {
	p, _ := serve(t, reply(0, []byte("file content")))

	var buf bytes.Buffer
	n, err := New(p, protocol.CmdDownloadFile, 0).ExecuteTo(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, int64(12), n)
	assert.Equal(t, "file content", buf.String())
}

func TestFetchList(t *testing.T) {
	body := encodePairs(pair{"a", 1}, pair{"bb", 2}, pair{"ccc", 3})
	p, _ := serve(t, reply(0, body), reply(0, nil), reply(0, body[:20]))

	items, err := FetchList[pair](context.Background(), New(p, protocol.CmdServerListAllGroups, 0))
	require.NoError(t, err)
	assert.Equal(t, []pair{{"a", 1}, {"bb", 2}, {"ccc", 3}}, items)

	items, err = FetchList[pair](context.Background(), New(p, protocol.CmdServerListAllGroups, 0))
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = FetchList[pair](context.Background(), New(p, protocol.CmdServerListAllGroups, 0))
	assert.ErrorIs(t, err, protocol.ErrMalformedResponse)
}

func TestFetchOne(t *testing.T) {
	body := encodePairs(pair{"one", 7})
	p, _ := serve(t, reply(0, body), reply(0, append(body, 0)))

	item, err := FetchOne[pair](context.Background(), New(p, protocol.CmdServerListOneGroup, 0))
	require.NoError(t, err)
	assert.Equal(t, &pair{"one", 7}, item)

	_, err = FetchOne[pair](context.Background(), New(p, protocol.CmdServerListOneGroup, 0))
	assert.ErrorIs(t, err, protocol.ErrMalformedResponse)
}

func TestFetchByFormat(t *testing.T) {
	format := protocol.Format{protocol.Uint64Field(), protocol.StringField(4), protocol.Uint8Field()}
	body := protocol.NewBodyWriter().Uint64(99).FixedString("ab", 4).Uint8(3).Frame()
	p, _ := serve(t, reply(0, body))

	values, err := FetchByFormat(context.Background(), New(p, protocol.CmdQueryFileInfo, 0), format)
	require.NoError(t, err)
	assert.Equal(t, []any{uint64(99), "ab", uint8(3)}, values)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "header_received", StateHeaderReceived.String())
	assert.Equal(t, "state_42", State(42).String())
}
