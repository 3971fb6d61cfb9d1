package probe

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/hamed0406/healthwatch/internal/domain"
)

type TCPProber struct {
	Dialer *net.Dialer
}

func NewTCPProber() *TCPProber {
	return &TCPProber{Dialer: &net.Dialer{}}
}

// Probe succeeds when a TCP connection is established.
func (p *TCPProber) Probe(ctx context.Context, ch domain.Channel) Result {
	addr := net.JoinHostPort(ch.Host, strconv.Itoa(ch.Port))
	start := time.Now()
	conn, err := p.Dialer.DialContext(ctx, "tcp", addr)
	latency := sinceMS(start)
	if err != nil {
		return Result{Success: false, Error: err.Error(), LatencyMS: latency}
	}
	conn.Close()
	return Result{Success: true, LatencyMS: latency, Details: map[string]any{"addr": addr}}
}
