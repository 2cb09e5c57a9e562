package transport

import (
	"context"
	"errors"
	"net"
	"os"
	"sync"
	"time"
)

var bufPool = sync.Pool{
	New: func() any {
		b := make([]byte, MaxDatagram)
		return &b
	},
}

// UDP adapts a packet socket owned by a single session.
type UDP struct {
	conn      net.PacketConn
	closeOnce sync.Once
	closeErr  error
}

func NewUDP(conn net.PacketConn) *UDP {
	return &UDP{conn: conn}
}

// ListenUDP binds a local socket; addr may be "" or ":0" for an ephemeral port.
func ListenUDP(addr string) (*UDP, error) {
	if addr == "" {
		addr = ":0"
	}
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, err
	}
	return NewUDP(conn), nil
}

func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

func (u *UDP) Send(ctx context.Context, b []byte, to net.Addr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := u.conn.WriteTo(b, to)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (u *UDP) Receive(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	if err := u.conn.SetReadDeadline(deadline); err != nil {
		return nil, nil, err
	}
	// Cancellation unblocks ReadFrom by moving the deadline into the past.
	stop := context.AfterFunc(ctx, func() {
		_ = u.conn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()

	bp := bufPool.Get().(*[]byte)
	defer bufPool.Put(bp)
	buf := *bp

	n, from, err := u.conn.ReadFrom(buf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, nil, ctxErr
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return nil, nil, ErrTimedOut
		}
		if errors.Is(err, net.ErrClosed) {
			return nil, nil, ErrClosed
		}
		return nil, nil, err
	}
	out := make([]byte, n)
	copy(out, buf[:n])
	return out, from, nil
}

func (u *UDP) Close() error {
	u.closeOnce.Do(func() {
		u.closeErr = u.conn.Close()
	})
	return u.closeErr
}
