package transport

import (
	"context"
	"errors"
	"net"
	"time"
)

// MaxDatagram is the receive buffer size; it holds any UDP payload.
const MaxDatagram = 64 * 1024

var (
	ErrTimedOut = errors.New("transport: receive timed out")
	ErrClosed   = errors.New("transport: closed")
)

// Transport is an unreliable, unordered, possibly duplicating datagram
// channel. Receive returns ErrTimedOut when nothing arrived within timeout;
// a non-positive timeout waits until ctx is done.
type Transport interface {
	Send(ctx context.Context, b []byte, to net.Addr) error
	Receive(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error)
	LocalAddr() net.Addr
	Close() error
}

// SameAddr compares addresses by network string form.
func SameAddr(a, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.String() == b.String()
}

// waitTimer returns a channel firing after timeout, or nil (never fires) for
// a non-positive timeout, plus its stop function.
func waitTimer(timeout time.Duration) (<-chan time.Time, func()) {
	if timeout <= 0 {
		return nil, func() {}
	}
	t := time.NewTimer(timeout)
	return t.C, func() { t.Stop() }
}
