package endpoint

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"sync"

	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/observability"
	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/danmuck/simp/internal/transport"
	"github.com/panjf2000/ants"
)

var ErrListenerClosed = errors.New("endpoint: listener closed")

// BusyReason is the ERROR payload sent to a peer when the listener is full.
const BusyReason = "busy"

// Listener admits peers on one shared UDP socket.
type Listener struct {
	mux  *transport.Mux
	opts Options

	ctx    context.Context
	cancel context.CancelFunc

	accepted chan *session.Engine

	mu       sync.Mutex
	sessions map[string]*session.Engine
	admitted int64
	closed   bool
	wg       sync.WaitGroup
}

// Listen binds addr and starts admitting peers. Cancelling ctx stops new
// admissions and unblocks Accept; Close releases everything.
func Listen(ctx context.Context, addr string, opts Options) (*Listener, error) {
	opts = opts.withDefaults()
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %w", addr, err)
	}
	lctx, cancel := context.WithCancel(ctx)
	l := &Listener{
		mux:      transport.NewMux(conn),
		opts:     opts,
		ctx:      lctx,
		cancel:   cancel,
		accepted: make(chan *session.Engine, opts.MaxSessions),
		sessions: make(map[string]*session.Engine),
	}
	l.mux.Start(l.handleUnknown)
	logs.Infof("endpoint.Listen ready addr=%s max_sessions=%d", conn.LocalAddr(), opts.MaxSessions)
	return l, nil
}

func (l *Listener) Addr() net.Addr {
	return l.mux.LocalAddr()
}

// handleUnknown runs on the mux read loop for datagrams from peers without a
// session.
func (l *Listener) handleUnknown(b []byte, from net.Addr) {
	m, err := protocol.Decode(b)
	if err != nil {
		observability.RecordListenerReject("malformed")
		logs.Debugf("endpoint.Listener.handleUnknown malformed from=%s err=%v", from, err)
		return
	}
	switch m.Kind() {
	case protocol.KindSyn:
		l.admit(m, b, from)
	case protocol.KindFin:
		// The peer's session is gone here; let it finish its close.
		l.reply(protocol.NewAck(l.opts.Session.User, m.Sequence), from)
	default:
		observability.RecordListenerReject("unknown_peer")
		logs.Debugf("endpoint.Listener.handleUnknown drop from=%s kind=%s", from, m.Kind())
	}
}

func (l *Listener) admit(syn protocol.Message, raw []byte, from net.Addr) {
	if !l.hasRoom(from, syn) {
		return
	}
	if l.opts.Accept != nil && !l.opts.Accept(from, syn.User) {
		observability.RecordListenerReject("refused")
		logs.Infof("endpoint.Listener.admit refused peer=%s user=%q", from, syn.User)
		l.reply(protocol.NewControl(l.opts.Session.User, protocol.OpFin, syn.Sequence), from)
		return
	}

	l.mu.Lock()
	if l.closed || l.ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	// Re-checked: the accept policy may have blocked while others were admitted.
	if len(l.sessions) >= l.opts.MaxSessions {
		l.mu.Unlock()
		l.rejectBusy(from, syn)
		return
	}
	ep, created, err := l.mux.Register(from)
	if err != nil {
		l.mu.Unlock()
		return
	}
	if !created {
		l.mu.Unlock()
		ep.Inject(raw)
		return
	}
	l.admitted++
	e := session.New(l.opts.wrap(ep, l.admitted), from, l.opts.Session)
	key := from.String()
	l.sessions[key] = e
	e.OnClose(func() { l.forget(key, e) })
	l.wg.Add(1)
	l.mu.Unlock()

	ep.Inject(raw)
	go l.handshake(e)
}

// hasRoom answers busy when the listener is full. The check comes before the
// accept policy so a full listener never asks.
func (l *Listener) hasRoom(from net.Addr, syn protocol.Message) bool {
	l.mu.Lock()
	if l.closed || l.ctx.Err() != nil {
		l.mu.Unlock()
		return false
	}
	full := len(l.sessions) >= l.opts.MaxSessions
	l.mu.Unlock()
	if full {
		l.rejectBusy(from, syn)
	}
	return !full
}

func (l *Listener) rejectBusy(from net.Addr, syn protocol.Message) {
	observability.RecordListenerReject("busy")
	logs.Infof("endpoint.Listener.admit busy peer=%s user=%q", from, syn.User)
	l.reply(protocol.NewError(l.opts.Session.User, syn.Sequence, BusyReason), from)
}

func (l *Listener) handshake(e *session.Engine) {
	defer l.wg.Done()
	if err := e.Accept(l.ctx); err != nil {
		logs.Warnf("endpoint.Listener.handshake failed peer=%s err=%v", e.Peer(), err)
		return
	}
	select {
	case l.accepted <- e:
	case <-l.ctx.Done():
		e.Abort()
	}
}

func (l *Listener) reply(m protocol.Message, to net.Addr) {
	if err := l.mux.WriteTo(protocol.Encode(m), to); err != nil {
		logs.Debugf("endpoint.Listener.reply failed to=%s kind=%s err=%v", to, m.Kind(), err)
	}
}

func (l *Listener) forget(key string, e *session.Engine) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.sessions[key]; ok && cur == e {
		delete(l.sessions, key)
	}
}

// Accept returns the next session that completed its handshake.
func (l *Listener) Accept(ctx context.Context) (*session.Engine, error) {
	select {
	case e := <-l.accepted:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.ctx.Done():
		return nil, ErrListenerClosed
	}
}

// Serve runs fn for every accepted session on a worker pool sized
// MaxSessions and closes the session when fn returns. It returns when ctx is
// done or the listener closes, after running handlers finish.
func (l *Listener) Serve(ctx context.Context, fn func(context.Context, *session.Engine) error) error {
	pool, err := ants.NewPool(l.opts.MaxSessions)
	if err != nil {
		return fmt.Errorf("endpoint: worker pool: %w", err)
	}
	defer pool.Release()

	var running sync.WaitGroup
	defer running.Wait()

	for {
		e, err := l.Accept(ctx)
		if errors.Is(err, ErrListenerClosed) {
			return nil
		}
		if err != nil {
			return err
		}

		running.Add(1)
		task := func() {
			defer running.Done()
			if err := fn(ctx, e); err != nil {
				logs.Warnf("endpoint.Listener.Serve session=%s peer=%s err=%v", e.ID(), e.Peer(), err)
			}
			_ = e.Close(context.WithoutCancel(ctx))
		}
		if err := pool.Submit(task); err != nil {
			running.Done()
			e.Abort()
			return fmt.Errorf("endpoint: submit session: %w", err)
		}
	}
}

// Sessions snapshots every session the listener holds, including ones still
// handshaking, ordered by peer address.
func (l *Listener) Sessions() []session.Snapshot {
	l.mu.Lock()
	engines := make([]*session.Engine, 0, len(l.sessions))
	for _, e := range l.sessions {
		engines = append(engines, e)
	}
	l.mu.Unlock()

	out := make([]session.Snapshot, 0, len(engines))
	for _, e := range engines {
		out = append(out, e.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// Close aborts every session, closes the socket and waits for pending
// handshakes.
func (l *Listener) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	engines := make([]*session.Engine, 0, len(l.sessions))
	for _, e := range l.sessions {
		engines = append(engines, e)
	}
	l.mu.Unlock()

	l.cancel()
	for _, e := range engines {
		e.Abort()
	}
	err := l.mux.Close()
	l.wg.Wait()
	logs.Infof("endpoint.Listener.Close addr=%s sessions=%d", l.Addr(), len(engines))
	return err
}
