package endpoint

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"

	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/danmuck/simp/internal/transport"
)

// Dial opens a private UDP socket and runs the client handshake with addr.
// The returned engine owns the socket.
func Dial(ctx context.Context, addr string, opts Options) (*session.Engine, error) {
	opts = opts.withDefaults()
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", addr, err)
	}
	udp, err := transport.ListenUDP("")
	if err != nil {
		return nil, fmt.Errorf("open socket: %w", err)
	}

	e := session.New(opts.wrap(udp, 0), raddr, opts.Session)
	if err := e.Connect(ctx); err != nil {
		return nil, err
	}
	logs.Infof("endpoint.Dial connected addr=%s local=%s session=%s", raddr, udp.LocalAddr(), e.ID())
	return e, nil
}

// DialWithRetry repeats Dial with backoff between failed handshakes, up to
// MaxConnectAttempts. A refusal by the server is not retried.
func DialWithRetry(ctx context.Context, addr string, opts Options) (*session.Engine, error) {
	opts = opts.withDefaults()
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	var lastErr error
	for attempt := 1; attempt <= opts.MaxConnectAttempts; attempt++ {
		e, err := Dial(ctx, addr, opts)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, session.ErrRefused) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
		logs.Warnf(
			"endpoint.DialWithRetry connect failed attempt=%d/%d addr=%s err=%v",
			attempt,
			opts.MaxConnectAttempts,
			addr,
			err,
		)
		if attempt == opts.MaxConnectAttempts {
			break
		}
		if err := session.WaitBackoff(ctx, opts.Session.Backoff, attempt, rng); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("dial %s after %d attempts: %w", addr, opts.MaxConnectAttempts, lastErr)
}
