package transport

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"
)

// EndpointQueueLen bounds datagrams buffered per peer; overflow is dropped
// like any other datagram loss.
const EndpointQueueLen = 64

// UnknownHandler receives datagrams from peers without a registered endpoint.
type UnknownHandler func(b []byte, from net.Addr)

type datagram struct {
	b    []byte
	from net.Addr
}

// Mux shares one packet socket among many peer endpoints. Its read loop is
// the only reader of the socket; datagrams are routed by source address.
type Mux struct {
	conn    net.PacketConn
	mu      sync.RWMutex
	peers   map[string]*Endpoint
	unknown UnknownHandler
	closed  bool
	wg      sync.WaitGroup
}

func NewMux(conn net.PacketConn) *Mux {
	return &Mux{
		conn:  conn,
		peers: make(map[string]*Endpoint),
	}
}

// Start launches the read loop. onUnknown may be nil.
func (m *Mux) Start(onUnknown UnknownHandler) {
	m.mu.Lock()
	m.unknown = onUnknown
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.readLoop()
	}()
}

func (m *Mux) readLoop() {
	buf := make([]byte, MaxDatagram)
	for {
		n, from, err := m.conn.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) || m.isClosed() {
				return
			}
			continue
		}
		b := make([]byte, n)
		copy(b, buf[:n])

		m.mu.RLock()
		ep := m.peers[from.String()]
		unknown := m.unknown
		m.mu.RUnlock()

		if ep != nil {
			ep.deliver(datagram{b: b, from: from})
			continue
		}
		if unknown != nil {
			unknown(b, from)
		}
	}
}

func (m *Mux) LocalAddr() net.Addr {
	return m.conn.LocalAddr()
}

// Register creates the endpoint for peer, or returns the existing one.
func (m *Mux) Register(peer net.Addr) (*Endpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrClosed
	}
	key := peer.String()
	if ep, ok := m.peers[key]; ok {
		return ep, false, nil
	}
	ep := &Endpoint{
		mux:   m,
		peer:  peer,
		inbox: make(chan datagram, EndpointQueueLen),
		done:  make(chan struct{}),
	}
	m.peers[key] = ep
	return ep, true, nil
}

// Lookup returns the endpoint registered for peer.
func (m *Mux) Lookup(peer net.Addr) (*Endpoint, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.peers[peer.String()]
	return ep, ok
}

// Len reports registered endpoints.
func (m *Mux) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.peers)
}

// WriteTo sends outside any endpoint (replies to unknown peers).
func (m *Mux) WriteTo(b []byte, to net.Addr) error {
	_, err := m.conn.WriteTo(b, to)
	if errors.Is(err, net.ErrClosed) {
		return ErrClosed
	}
	return err
}

func (m *Mux) unregister(ep *Endpoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.peers[ep.peer.String()]; ok && cur == ep {
		delete(m.peers, ep.peer.String())
	}
}

func (m *Mux) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Close closes every endpoint and the socket, then waits for the read loop.
func (m *Mux) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	eps := make([]*Endpoint, 0, len(m.peers))
	for _, ep := range m.peers {
		eps = append(eps, ep)
	}
	m.peers = make(map[string]*Endpoint)
	m.mu.Unlock()

	for _, ep := range eps {
		ep.shutdown()
	}
	err := m.conn.Close()
	m.wg.Wait()
	return err
}

// Endpoint is the per-peer view of a Mux and implements Transport. A nil
// destination in Send means the registered peer.
type Endpoint struct {
	mux       *Mux
	peer      net.Addr
	inbox     chan datagram
	done      chan struct{}
	closeOnce sync.Once
}

func (e *Endpoint) Peer() net.Addr {
	return e.peer
}

func (e *Endpoint) LocalAddr() net.Addr {
	return e.mux.LocalAddr()
}

func (e *Endpoint) deliver(d datagram) {
	select {
	case <-e.done:
	case e.inbox <- d:
	default:
	}
}

// Inject queues a datagram as if it had been read from the socket; the
// listener uses it to hand the opening SYN to a new session.
func (e *Endpoint) Inject(b []byte) {
	e.deliver(datagram{b: b, from: e.peer})
}

func (e *Endpoint) Send(ctx context.Context, b []byte, to net.Addr) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-e.done:
		return ErrClosed
	default:
	}
	if to == nil {
		to = e.peer
	}
	return e.mux.WriteTo(b, to)
}

func (e *Endpoint) Receive(ctx context.Context, timeout time.Duration) ([]byte, net.Addr, error) {
	timer, stop := waitTimer(timeout)
	defer stop()
	select {
	case d := <-e.inbox:
		return d.b, d.from, nil
	case <-e.done:
		return nil, nil, ErrClosed
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-timer:
		return nil, nil, ErrTimedOut
	}
}

// Close unregisters the endpoint; the shared socket stays open.
func (e *Endpoint) Close() error {
	e.mux.unregister(e)
	e.shutdown()
	return nil
}

func (e *Endpoint) shutdown() {
	e.closeOnce.Do(func() {
		close(e.done)
	})
}
