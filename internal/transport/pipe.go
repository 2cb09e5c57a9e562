package transport

import (
	"context"
	"net"
	"sync"
	"time"
)

// PipeAddr names one end of an in-memory pipe.
type PipeAddr string

func (a PipeAddr) Network() string { return "pipe" }
func (a PipeAddr) String() string  { return string(a) }

// PipeEnd is one side of an in-memory datagram pipe. Datagrams sent on one
// end arrive on the other unless the sender's filter drops them.
type PipeEnd struct {
	addr  PipeAddr
	peer  *PipeEnd
	inbox chan datagram

	mu     sync.Mutex
	filter func(b []byte) bool
	sent   [][]byte
	closed bool
	done   chan struct{}
}

// Pipe connects two named ends.
func Pipe(a, b string) (*PipeEnd, *PipeEnd) {
	x := newPipeEnd(PipeAddr(a))
	y := newPipeEnd(PipeAddr(b))
	x.peer, y.peer = y, x
	return x, y
}

func newPipeEnd(addr PipeAddr) *PipeEnd {
	return &PipeEnd{
		addr:  addr,
		inbox: make(chan datagram, EndpointQueueLen),
		done:  make(chan struct{}),
	}
}

func (p *PipeEnd) LocalAddr() net.Addr {
	return p.addr
}

// PeerAddr is the address of the opposite end.
func (p *PipeEnd) PeerAddr() net.Addr {
	return p.peer.addr
}

// SetFilter installs a predicate deciding whether an outbound datagram is
// delivered. Every datagram is still recorded in Sent.
func (p *PipeEnd) SetFilter(keep func(b []byte) bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.filter = keep
}

// Sent returns copies of every datagram passed to Send, delivered or not.
func (p *PipeEnd) Sent() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([][]byte, len(p.sent))
	copy(out, p.sent)
	return out
}

// Inject queues b on this end as if it had arrived from from.
func (p *PipeEnd) Inject(b []byte, from net.Addr) {
	select {
	case <-p.done:
	case p.inbox <- datagram{b: b, from: from}:
	default:
	}
}

func (p *PipeEnd) Send(ctx context.Context, b []byte, _ net.Addr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := append([]byte(nil), b...)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.sent = append(p.sent, cp)
	keep := p.filter == nil || p.filter(cp)
	p.mu.Unlock()

	if keep {
		p.peer.Inject(cp, p.addr)
	}
	return nil
}

func (p *PipeEnd) Receive(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error) {
	timer, stop := waitTimer(timeout)
	defer stop()
	select {
	case d := <-p.inbox:
		return d.b, d.from, nil
	case <-p.done:
		return nil, nil, ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-timer:
		return nil, nil, ErrTimedOut
	}
}

func (p *PipeEnd) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.done)
	}
	return nil
}
