package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/observability"
	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/transport"
	"github.com/google/uuid"
)

type role int

const (
	roleUnset role = iota
	roleDialer
	roleAcceptor
)

// Engine runs the alternating-bit stop-and-wait discipline for one peer.
// It owns its transport and closes it when the session ends.
type Engine struct {
	id   uuid.UUID
	cfg  Config
	tr   transport.Transport
	peer net.Addr

	mu       sync.Mutex
	role     role
	opened   bool
	// confirmed is set once the peer has provably finished its handshake:
	// the acceptor saw the ACK (or DATA), or the dialer saw DATA or an ACK for
	// its own DATA. Handshake retries arriving after that are stale.
	confirmed bool
	state    State
	inbox    []protocol.Message
	stats    *Stats
	closeErr error
	onClose  []func()

	// life is cancelled when the session starts closing; blocked calls bound
	// to it return promptly.
	life   context.Context
	cancel context.CancelFunc
}

// New creates an engine in PhaseNew. Call Connect (client) or Accept
// (server) before sending or receiving.
func New(tr transport.Transport, peer net.Addr, cfg Config) *Engine {
	life, cancel := context.WithCancel(context.Background())
	return &Engine{
		id:     uuid.New(),
		cfg:    cfg.WithDefaults(),
		tr:     tr,
		peer:   peer,
		stats:  newStats(),
		life:   life,
		cancel: cancel,
	}
}

func (e *Engine) ID() string {
	return e.id.String()
}

func (e *Engine) Peer() net.Addr {
	return e.peer
}

func (e *Engine) Config() Config {
	return e.cfg
}

// PeerUser is the name the peer puts in its headers.
func (e *Engine) PeerUser() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.PeerUser
}

func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Phase
}

// Done is closed once the session starts closing.
func (e *Engine) Done() <-chan struct{} {
	return e.life.Done()
}

// OnClose registers fn to run once the session is released.
func (e *Engine) OnClose(fn func()) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onClose = append(e.onClose, fn)
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := Snapshot{
		ID:           e.id.String(),
		Peer:         peerString(e.peer),
		PeerUser:     e.state.PeerUser,
		Phase:        e.state.Phase.String(),
		ExpectedSend: e.state.ExpectedSend,
		ExpectedRecv: e.state.ExpectedRecv,
		Outstanding:  e.state.LastSent != nil,
		Deadline:     e.state.TimeoutDeadline,
		Stats:        e.stats.snapshot(),
	}
	if e.state.LastSent != nil {
		snap.Attempts = e.state.LastSent.Attempts
	}
	return snap
}

// SendReliable transmits payload as the next DATA message and blocks until
// the peer acknowledges it. On each retry timeout the identical datagram is
// sent again; with MaxRetries set, exceeding it closes the session and
// returns an error wrapping ErrDeliveryFailed. Cancelling ctx abandons the
// session.
func (e *Engine) SendReliable(ctx context.Context, payload []byte) error {
	if len(payload) > protocol.MaxPayloadLen {
		return fmt.Errorf("%w: %d bytes", ErrPayloadTooLarge, len(payload))
	}

	e.mu.Lock()
	switch e.state.Phase {
	case PhaseIdle:
	case PhaseAwaitingAck:
		e.mu.Unlock()
		return ErrSendInProgress
	case PhaseClosing, PhaseClosed:
		err := e.closedErrLocked()
		e.mu.Unlock()
		return err
	default:
		e.mu.Unlock()
		return ErrNotEstablished
	}
	msg := protocol.NewData(e.cfg.User, e.state.ExpectedSend, payload)
	p := newPending(msg, time.Now(), e.cfg.RetryTimeout)
	e.state.LastSent = p
	e.state.TimeoutDeadline = p.DeadlineAt
	e.state.Phase = PhaseAwaitingAck
	e.mu.Unlock()

	ctx, stop := e.bind(ctx)
	defer stop()

	logs.Debugf("session.Engine.SendReliable send id=%s seq=%d len=%d", e.id, msg.Sequence, len(payload))
	if err := e.transmit(ctx, p.Encoded, protocol.KindData); err != nil {
		return e.failSend(ctx, err)
	}

	err := e.exchange(ctx, p, e.cfg.MaxRetries, func(m protocol.Message) bool {
		return m.Kind() == protocol.KindAck && m.Sequence == msg.Sequence
	})
	if err != nil {
		return e.failSend(ctx, err)
	}

	e.mu.Lock()
	e.confirmed = true
	if e.state.LastSent == p {
		e.state.ExpectedSend = e.state.ExpectedSend.Flip()
		e.state.LastSent = nil
		e.state.TimeoutDeadline = time.Time{}
		e.state.Phase = PhaseIdle
	}
	if p.Attempts == 1 {
		rtt := time.Since(p.LastAttemptAt)
		e.stats.observeRTT(rtt)
		observability.ObserveAckRTT(e.roleLabelLocked(), rtt)
	}
	e.mu.Unlock()
	logs.Debugf("session.Engine.SendReliable acked id=%s seq=%d attempts=%d", e.id, msg.Sequence, p.Attempts)
	return nil
}

// failSend maps an aborted send to the error surfaced to the caller and
// releases the session for every cause except a closure already in progress.
// A send abandoned by the caller's context still tells the peer with a
// best-effort FIN so it does not wait forever.
func (e *Engine) failSend(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, ErrDeliveryFailed):
		observability.RecordDeliveryFailure(e.roleLabel())
		logs.Warnf("session.Engine.SendReliable giving up id=%s peer=%s err=%v", e.id, e.peer, err)
		e.release(err)
		return err
	case e.life.Err() != nil:
		return e.closedErr()
	case ctx.Err() != nil:
		logs.Infof("session.Engine.SendReliable abandoned id=%s peer=%s err=%v", e.id, e.peer, err)
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.RetryTimeout)
		defer cancel()
		_ = e.Close(closeCtx)
		return err
	default:
		e.release(err)
		return err
	}
}

// Receive returns the next newly delivered DATA message. Duplicates are
// acknowledged and dropped here; they never reach the caller.
func (e *Engine) Receive(ctx context.Context) (protocol.Message, error) {
	ctx, stop := e.bind(ctx)
	defer stop()

	for {
		e.mu.Lock()
		if len(e.inbox) > 0 {
			m := e.inbox[0]
			e.inbox = e.inbox[1:]
			e.mu.Unlock()
			return m, nil
		}
		phase := e.state.Phase
		if phase == PhaseClosing || phase == PhaseClosed {
			err := e.closedErrLocked()
			e.mu.Unlock()
			return protocol.Message{}, err
		}
		e.mu.Unlock()

		switch phase {
		case PhaseIdle:
		case PhaseAwaitingAck:
			return protocol.Message{}, ErrSendInProgress
		default:
			return protocol.Message{}, ErrNotEstablished
		}

		m, err := e.next(ctx, e.cfg.RetryTimeout)
		if errors.Is(err, transport.ErrTimedOut) || errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			if e.life.Err() != nil {
				return protocol.Message{}, e.closedErr()
			}
			if errors.Is(err, transport.ErrClosed) {
				e.release(ErrClosed)
			}
			return protocol.Message{}, err
		}
		if err := e.dispatch(ctx, m); err != nil {
			return protocol.Message{}, err
		}
	}
}

// Close cancels any pending retransmission, sends FIN and waits for its ack
// (bounded by CloseRetries), then releases the session. Safe to call more
// than once and concurrently with a blocked SendReliable or Receive.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	phase := e.state.Phase
	if phase == PhaseClosing || phase == PhaseClosed {
		e.mu.Unlock()
		return nil
	}
	e.cancelPendingLocked()
	e.state.Phase = PhaseClosing
	seq := e.state.ExpectedSend
	e.mu.Unlock()

	if phase.Established() {
		e.sendFin(ctx, seq)
	}
	e.release(ErrClosed)
	return nil
}

// Abort releases the session without notifying the peer.
func (e *Engine) Abort() {
	e.mu.Lock()
	e.cancelPendingLocked()
	e.mu.Unlock()
	e.release(ErrClosed)
}

func (e *Engine) sendFin(ctx context.Context, seq protocol.Sequence) {
	fin := protocol.NewControl(e.cfg.User, protocol.OpFin, seq)
	p := newPending(fin, time.Now(), e.cfg.RetryTimeout)
	if err := e.transmit(ctx, p.Encoded, protocol.KindFin); err != nil {
		return
	}
	err := e.exchange(ctx, p, e.cfg.CloseRetries, func(m protocol.Message) bool {
		return m.Kind() == protocol.KindAck && m.Sequence == seq
	})
	switch {
	case err == nil, errors.Is(err, ErrPeerClosed), errors.Is(err, ErrPeerRejected):
		logs.Debugf("session.Engine.Close fin acknowledged id=%s", e.id)
	default:
		logs.Debugf("session.Engine.Close fin unacknowledged id=%s err=%v", e.id, err)
	}
}

// cancelPendingLocked stops retransmission of the outstanding message and
// wakes any call blocked on the session.
func (e *Engine) cancelPendingLocked() {
	if e.state.LastSent != nil {
		e.state.LastSent.cancelled = true
		e.state.LastSent = nil
	}
	e.state.TimeoutDeadline = time.Time{}
	e.cancel()
}

// release moves the session to PhaseClosed exactly once, recording cause.
func (e *Engine) release(cause error) {
	e.mu.Lock()
	if e.state.Phase == PhaseClosed {
		e.mu.Unlock()
		return
	}
	wasOpen := e.opened
	e.opened = false
	e.cancelPendingLocked()
	e.state.Phase = PhaseClosed
	e.closeErr = cause
	e.inbox = nil
	hooks := e.onClose
	e.onClose = nil
	roleLabel := e.roleLabelLocked()
	e.mu.Unlock()

	_ = e.tr.Close()
	if wasOpen {
		observability.SessionClosed(roleLabel)
	}
	logs.Infof("session.Engine.release id=%s peer=%s cause=%v", e.id, e.peer, cause)
	for _, fn := range hooks {
		fn()
	}
}

// exchange waits for the datagram accepted by match, retransmitting
// p.Encoded whenever p's deadline passes. Everything else that arrives is
// handled by dispatch. maxRetries <= 0 retries until ctx ends.
func (e *Engine) exchange(ctx context.Context, p *Pending, maxRetries int, match func(protocol.Message) bool) error {
	for {
		e.mu.Lock()
		if p.cancelled {
			err := e.closedErrLocked()
			e.mu.Unlock()
			return err
		}
		wait := time.Until(p.DeadlineAt)
		if wait <= 0 {
			if err := ctx.Err(); err != nil {
				e.mu.Unlock()
				return err
			}
			if maxRetries > 0 && p.Retries() >= maxRetries {
				e.mu.Unlock()
				return fmt.Errorf("%w: %s unacknowledged after %d attempts", ErrDeliveryFailed, p.Message.Kind(), p.Attempts)
			}
			p.markAttempt(time.Now(), e.cfg.RetryTimeout)
			if e.state.LastSent == p {
				e.state.TimeoutDeadline = p.DeadlineAt
			}
			e.stats.Retransmitted++
			roleLabel := e.roleLabelLocked()
			e.mu.Unlock()

			observability.RecordRetransmit(roleLabel)
			logs.Debugf("session.Engine.exchange retransmit id=%s kind=%s seq=%d attempt=%d", e.id, p.Message.Kind(), p.Message.Sequence, p.Attempts)
			if err := e.transmit(ctx, p.Encoded, p.Message.Kind()); err != nil {
				return err
			}
			continue
		}
		e.mu.Unlock()

		m, err := e.next(ctx, wait)
		if errors.Is(err, transport.ErrTimedOut) || errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return err
		}
		if match(m) {
			e.mu.Lock()
			cancelled := p.cancelled
			err := e.closedErrLocked()
			e.mu.Unlock()
			if cancelled {
				return err
			}
			return nil
		}
		if err := e.dispatch(ctx, m); err != nil {
			return err
		}
	}
}

var errSkip = errors.New("session: datagram discarded")

// next reads one datagram from the peer. Foreign and malformed datagrams are
// counted and reported as errSkip without touching session state.
func (e *Engine) next(ctx context.Context, timeout time.Duration) (protocol.Message, error) {
	b, from, err := e.tr.Receive(ctx, timeout)
	if err != nil {
		return protocol.Message{}, err
	}
	if !transport.SameAddr(from, e.peer) {
		e.mu.Lock()
		e.stats.Foreign++
		roleLabel := e.roleLabelLocked()
		e.mu.Unlock()
		observability.RecordDiscard(roleLabel, "foreign")
		logs.Debugf("session.Engine.next discard foreign id=%s from=%s", e.id, from)
		return protocol.Message{}, errSkip
	}
	m, err := protocol.Decode(b)
	if err != nil {
		e.mu.Lock()
		e.stats.Malformed++
		roleLabel := e.roleLabelLocked()
		e.mu.Unlock()
		observability.RecordDiscard(roleLabel, "malformed")
		logs.Debugf("session.Engine.next discard malformed id=%s err=%v", e.id, err)
		return protocol.Message{}, errSkip
	}
	observability.RecordReceived(e.roleLabel(), m.Kind().String())
	return m, nil
}

// dispatch handles an inbound message that is not the reply the caller is
// waiting for. A non-nil error ends the caller's operation.
func (e *Engine) dispatch(ctx context.Context, m protocol.Message) error {
	switch m.Kind() {
	case protocol.KindData:
		return e.handleData(ctx, m)
	case protocol.KindAck:
		e.mu.Lock()
		e.stats.StaleAcks++
		roleLabel := e.roleLabelLocked()
		e.mu.Unlock()
		observability.RecordDiscard(roleLabel, "stale_ack")
		logs.Debugf("session.Engine.dispatch stale ack id=%s seq=%d", e.id, m.Sequence)
		return nil
	case protocol.KindFin:
		ack := protocol.NewAck(e.cfg.User, m.Sequence)
		_ = e.transmit(ctx, protocol.Encode(ack), protocol.KindAck)
		logs.Infof("session.Engine.dispatch peer closed id=%s peer=%s", e.id, e.peer)
		e.release(ErrPeerClosed)
		return ErrPeerClosed
	case protocol.KindError:
		perr := &PeerError{User: m.User, Reason: string(m.Payload)}
		logs.Warnf("session.Engine.dispatch peer error id=%s err=%v", e.id, perr)
		e.release(perr)
		return perr
	case protocol.KindSyn, protocol.KindSynAck:
		if e.staleHandshake(m) {
			return nil
		}
		return e.answerHandshake(ctx, m)
	default:
		return nil
	}
}

// staleHandshake reports (and counts) a SYN or SYN+ACK that arrives after
// the peer is known to be established. Answering it would emit an ACK{1}
// indistinguishable from the ACK of a DATA carrying bit 1.
func (e *Engine) staleHandshake(m protocol.Message) bool {
	e.mu.Lock()
	stale := e.confirmed
	if stale {
		e.stats.StaleHandshakes++
	}
	roleLabel := e.roleLabelLocked()
	e.mu.Unlock()
	if stale {
		observability.RecordDiscard(roleLabel, "stale_handshake")
		logs.Debugf("session.Engine.dispatch stale handshake id=%s kind=%s seq=%d", e.id, m.Kind(), m.Sequence)
	}
	return stale
}

// answerHandshake repeats our side of the handshake while the peer may still
// be waiting for it.
func (e *Engine) answerHandshake(ctx context.Context, m protocol.Message) error {
	switch m.Kind() {
	case protocol.KindSyn:
		// Our SYN+ACK was lost; answer the retried SYN again.
		if e.currentRole() == roleAcceptor {
			reply := protocol.NewControl(e.cfg.User, protocol.OpSynAck, m.Sequence)
			return e.transmit(ctx, protocol.Encode(reply), protocol.KindSynAck)
		}
	case protocol.KindSynAck:
		// Our handshake ACK was lost; the acceptor is still retrying.
		if e.currentRole() == roleDialer {
			ack := protocol.NewAck(e.cfg.User, m.Sequence)
			return e.transmit(ctx, protocol.Encode(ack), protocol.KindAck)
		}
	}
	return nil
}

// handleData applies the receive half of the alternating-bit rule: a DATA
// carrying the expected bit is delivered once and the bit flips; any other
// bit is a duplicate of the previous delivery. Both are acknowledged with the
// bit they carried.
func (e *Engine) handleData(ctx context.Context, m protocol.Message) error {
	e.mu.Lock()
	e.confirmed = true
	fresh := m.Sequence == e.state.ExpectedRecv
	if fresh {
		e.state.ExpectedRecv = e.state.ExpectedRecv.Flip()
		e.inbox = append(e.inbox, m)
		e.stats.Delivered++
		if m.User != "" {
			e.state.PeerUser = m.User
		}
	} else {
		e.stats.Duplicates++
	}
	roleLabel := e.roleLabelLocked()
	e.mu.Unlock()

	observability.RecordDelivery(roleLabel, !fresh)
	if !fresh {
		logs.Debugf("session.Engine.handleData duplicate id=%s seq=%d", e.id, m.Sequence)
	}
	ack := protocol.NewAck(e.cfg.User, m.Sequence)
	return e.transmit(ctx, protocol.Encode(ack), protocol.KindAck)
}

// transmit hands b to the transport. Send failures other than a closed
// transport are treated as loss: the retry timer recovers from them.
func (e *Engine) transmit(ctx context.Context, b []byte, kind protocol.Kind) error {
	err := e.tr.Send(ctx, b, e.peer)

	e.mu.Lock()
	e.stats.Sent++
	roleLabel := e.roleLabelLocked()
	e.mu.Unlock()
	observability.RecordSent(roleLabel, kind.String())

	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
		return err
	}
	logs.Warnf("session.Engine.transmit absorbed id=%s kind=%s err=%v", e.id, kind, err)
	return nil
}

// bind derives a context that is also cancelled when the session closes.
func (e *Engine) bind(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(e.life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (e *Engine) closedErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closedErrLocked()
}

func (e *Engine) closedErrLocked() error {
	if e.closeErr != nil {
		return e.closeErr
	}
	return ErrClosed
}

func (e *Engine) currentRole() role {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role
}

func (e *Engine) roleLabel() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.roleLabelLocked()
}

func (e *Engine) roleLabelLocked() string {
	switch e.role {
	case roleDialer:
		return "client"
	case roleAcceptor:
		return "server"
	default:
		return "unknown"
	}
}
