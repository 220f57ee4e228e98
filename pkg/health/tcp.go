package health

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/fdfs/pkg/transport"
)

// TCPChecker dials a node and hangs up without speaking the protocol
type TCPChecker struct {
	Endpoint transport.Endpoint
	Dialer   transport.Dialer
}

// NewTCPChecker dials ep with a plain net.Dialer
func NewTCPChecker(ep transport.Endpoint) *TCPChecker {
	return &TCPChecker{Endpoint: ep, Dialer: &net.Dialer{}}
}

func (t *TCPChecker) Check(ctx context.Context) Result {
	start := time.Now()
	conn, err := t.Dialer.DialContext(ctx, "tcp", t.Endpoint.String())
	if err != nil {
		return finish(start, false, fmt.Sprintf("dial %s: %v", t.Endpoint, err))
	}
	conn.Close()
	return finish(start, true, "port open")
}

func (t *TCPChecker) Kind() Kind { return KindTCP }
