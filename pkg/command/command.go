package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"syscall"
	"time"

	"github.com/cuemby/fdfs/pkg/log"
	"github.com/cuemby/fdfs/pkg/metrics"
	"github.com/cuemby/fdfs/pkg/protocol"
	"github.com/cuemby/fdfs/pkg/transport"
)

// ErrBodyLength is returned before anything is sent when the declared body
// length differs from the bytes actually supplied
var ErrBodyLength = errors.New("request body length mismatch")

// ServerError is a non-zero response status. The response was fully drained,
// so the connection went back to the pool.
type ServerError struct {
	Cmd      protocol.Command
	Status   uint8
	Message  string
	Endpoint transport.Endpoint
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("%s on %s: status %d: %s", e.Cmd, e.Endpoint, e.Status, e.Message)
}

// Is matches syscall errno values, e.g. errors.Is(err, syscall.ENOENT)
func (e *ServerError) Is(target error) bool {
	errno, ok := target.(syscall.Errno)
	return ok && uint8(errno) == e.Status && uintptr(errno) < 256
}

// NewServerError builds a ServerError with the standard errno text
func NewServerError(cmd protocol.Command, status uint8, ep transport.Endpoint) *ServerError {
	return &ServerError{
		Cmd:      cmd,
		Status:   status,
		Message:  syscall.Errno(status).Error(),
		Endpoint: ep,
	}
}

// State tracks the progress of one exchange
type State int

const (
	StateBuilt State = iota
	StateConnectionAcquired
	StateSent
	StateHeaderReceived
	StateBodyReceived
	StateDone
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateBuilt:
		return "built"
	case StateConnectionAcquired:
		return "connection_acquired"
	case StateSent:
		return "sent"
	case StateHeaderReceived:
		return "header_received"
	case StateBodyReceived:
		return "body_received"
	case StateDone:
		return "done"
	case StateAborted:
		return "aborted"
	default:
		return fmt.Sprintf("state_%d", int(s))
	}
}

// Pool is the part of pool.Pool a command needs
type Pool interface {
	Get(ctx context.Context) (*transport.Conn, error)
	Release(conn *transport.Conn)
}

// Command is a single request/response exchange. It borrows one connection
// for the duration of Execute and never outlives it.
type Command struct {
	pool    Pool
	cmd     protocol.Command
	bodyLen uint64
	w       *protocol.Writer

	stream    io.Reader
	streamLen int64

	state State
}

// New builds a command whose body must total bodyLen bytes, from Body and Stream combined
func New(pool Pool, cmd protocol.Command, bodyLen uint64) *Command {
	return &Command{
		pool:    pool,
		cmd:     cmd,
		bodyLen: bodyLen,
		w:       protocol.NewWriter(bodyLen, cmd),
	}
}

// Body returns the writer that positional fields are packed into
func (c *Command) Body() *protocol.Writer {
	return c.w
}

// Stream appends n bytes read from r after the packed body
func (c *Command) Stream(r io.Reader, n int64) *Command {
	c.stream = r
	c.streamLen = n
	return c
}

func (c *Command) State() State {
	return c.state
}

// Execute runs the exchange and returns the response body
func (c *Command) Execute(ctx context.Context) ([]byte, error) {
	var body []byte
	err := c.exchange(ctx, func(conn *transport.Conn, hdr protocol.Header) error {
		if hdr.Length == 0 {
			body = []byte{}
			return nil
		}
		if hdr.Length > protocol.MaxBufferedBody {
			return fmt.Errorf("%w: %s: body of %d bytes exceeds %d", protocol.ErrMalformedResponse, c.cmd, hdr.Length, protocol.MaxBufferedBody)
		}
		b, err := conn.RecvExactly(int(hdr.Length))
		body = b
		return err
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ExecuteTo runs the exchange and copies the response body into w
func (c *Command) ExecuteTo(ctx context.Context, w io.Writer) (int64, error) {
	var n int64
	err := c.exchange(ctx, func(conn *transport.Conn, hdr protocol.Header) error {
		got, err := conn.RecvTo(w, int64(hdr.Length))
		n = got
		return err
	})
	return n, err
}

func (c *Command) exchange(ctx context.Context, recv func(*transport.Conn, protocol.Header) error) (err error) {
	if c.state != StateBuilt {
		return fmt.Errorf("%s: command already executed (state %s)", c.cmd, c.state)
	}

	timer := metrics.NewTimer()
	defer func() {
		result := "ok"
		var serr *ServerError
		switch {
		case err == nil:
			c.state = StateDone
		case errors.As(err, &serr):
			result = "server_error"
			c.state = StateDone
		default:
			result = "error"
			c.state = StateAborted
		}
		metrics.CommandsTotal.WithLabelValues(c.cmd.String(), result).Inc()
		timer.ObserveDurationVec(metrics.CommandDuration, c.cmd.String())
	}()

	written := uint64(c.w.Len()-protocol.HeaderSize) + uint64(c.streamLen)
	if written != c.bodyLen {
		return fmt.Errorf("%w: %s declared %d bytes, got %d", ErrBodyLength, c.cmd, c.bodyLen, written)
	}

	conn, err := c.pool.Get(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", c.cmd, err)
	}
	c.state = StateConnectionAcquired

	stop := conn.Bind(ctx)
	clean := false
	defer func() {
		if stop() {
			clean = false
		}
		if err != nil {
			if cerr := contextErr(ctx); cerr != nil {
				err = fmt.Errorf("%w: %w", cerr, err)
			}
		}
		if !clean {
			// stream position is unknown
			conn.Disconnect()
		}
		c.pool.Release(conn)
	}()

	ep := conn.Remote()
	logger := log.WithEndpoint("command", ep.String())

	if err := conn.SendAll(c.w.Frame()); err != nil {
		return err
	}
	if c.stream != nil && c.streamLen > 0 {
		if err := conn.SendFrom(c.stream, c.streamLen); err != nil {
			return err
		}
	}
	metrics.BytesSent.Add(float64(uint64(protocol.HeaderSize) + c.bodyLen))
	c.state = StateSent

	raw, err := conn.RecvExactly(protocol.HeaderSize)
	if err != nil {
		return err
	}
	hdr, err := protocol.DecodeHeader(raw)
	if err != nil {
		return err
	}
	if hdr.Cmd != protocol.CmdResp {
		return fmt.Errorf("%w: %s: response command %d, want %d", protocol.ErrMalformedResponse, c.cmd, hdr.Cmd, protocol.CmdResp)
	}
	if hdr.Length > protocol.MaxBodyLen {
		return fmt.Errorf("%w: %s: body length %d", protocol.ErrMalformedResponse, c.cmd, hdr.Length)
	}
	c.state = StateHeaderReceived

	if hdr.Status != 0 {
		if hdr.Length > 0 {
			if _, err := conn.RecvTo(io.Discard, int64(hdr.Length)); err != nil {
				return err
			}
		}
		clean = true
		metrics.BytesReceived.Add(float64(uint64(protocol.HeaderSize) + hdr.Length))
		serr := NewServerError(c.cmd, hdr.Status, ep)
		logger.Debug().Str("cmd", c.cmd.String()).Uint8("status", hdr.Status).Msg(serr.Message)
		return serr
	}

	if err := recv(conn, hdr); err != nil {
		return err
	}
	clean = true
	c.state = StateBodyReceived
	metrics.BytesReceived.Add(float64(uint64(protocol.HeaderSize) + hdr.Length))
	return nil
}

// contextErr also reports an expired deadline whose timer has not fired yet,
// since the socket deadline is set to the same instant
func contextErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// FetchByFormat executes c and decodes the body against a fixed format
func FetchByFormat(ctx context.Context, c *Command, format protocol.Format) ([]any, error) {
	body, err := c.Execute(ctx)
	if err != nil {
		return nil, err
	}
	values, err := format.Unpack(body)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c.cmd, err)
	}
	return values, nil
}

// FetchOne executes c and decodes the body as exactly one record
func FetchOne[T any, P interface {
	*T
	protocol.Record
}](ctx context.Context, c *Command) (*T, error) {
	body, err := c.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeOne[T, P](body)
}

// FetchList executes c and decodes the body as a run of fixed-width records.
// The record count is derived from the body length.
func FetchList[T any, P interface {
	*T
	protocol.Record
}](ctx context.Context, c *Command) ([]T, error) {
	body, err := c.Execute(ctx)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeList[T, P](body)
}
