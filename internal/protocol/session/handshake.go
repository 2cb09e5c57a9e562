package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/observability"
	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/transport"
)

const handshakeSeq = protocol.Seq1

// Connect runs the client side of the three-way handshake: SYN, wait for
// SYN+ACK, answer ACK. A peer that replies FIN or ERR refuses the session.
func (e *Engine) Connect(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Phase != PhaseNew {
		phase := e.state.Phase
		e.mu.Unlock()
		return fmt.Errorf("session: connect in phase %s", phase)
	}
	e.role = roleDialer
	e.state.Phase = PhaseSynSent
	// The handshake runs on bit 1 so a late handshake ACK is stale against
	// the first DATA, which always carries bit 0. Later DATA is protected by
	// no longer answering handshake retries once the peer is confirmed.
	syn := protocol.NewControl(e.cfg.User, protocol.OpSyn, handshakeSeq)
	p := newPending(syn, time.Now(), e.cfg.RetryTimeout)
	e.state.LastSent = p
	e.state.TimeoutDeadline = p.DeadlineAt
	e.mu.Unlock()

	ctx, stop := e.bind(ctx)
	defer stop()

	logs.Debugf("session.Engine.Connect syn id=%s peer=%s", e.id, e.peer)
	if err := e.transmit(ctx, p.Encoded, protocol.KindSyn); err != nil {
		return e.failHandshake(err)
	}

	var reply protocol.Message
	err := e.exchange(ctx, p, e.cfg.HandshakeRetries, func(m protocol.Message) bool {
		if m.Kind() != protocol.KindSynAck {
			return false
		}
		reply = m
		return true
	})
	if err != nil {
		return e.failHandshake(err)
	}

	e.establish(p, reply.User)
	ack := protocol.NewAck(e.cfg.User, reply.Sequence)
	if err := e.transmit(ctx, protocol.Encode(ack), protocol.KindAck); err != nil {
		e.release(err)
		return err
	}
	logs.Infof("session.Engine.Connect established id=%s peer=%s peer_user=%q", e.id, e.peer, reply.User)
	return nil
}

// Accept runs the server side of the handshake: wait for SYN, answer
// SYN+ACK until the client's ACK (or its first DATA) arrives.
func (e *Engine) Accept(ctx context.Context) error {
	e.mu.Lock()
	if e.state.Phase != PhaseNew {
		phase := e.state.Phase
		e.mu.Unlock()
		return fmt.Errorf("session: accept in phase %s", phase)
	}
	e.role = roleAcceptor
	e.mu.Unlock()

	ctx, stop := e.bind(ctx)
	defer stop()

	syn, err := e.awaitSyn(ctx)
	if err != nil {
		return e.failHandshake(err)
	}

	e.mu.Lock()
	e.state.PeerUser = syn.User
	e.state.Phase = PhaseSynReceived
	synAck := protocol.NewControl(e.cfg.User, protocol.OpSynAck, syn.Sequence)
	p := newPending(synAck, time.Now(), e.cfg.RetryTimeout)
	e.state.LastSent = p
	e.state.TimeoutDeadline = p.DeadlineAt
	e.mu.Unlock()

	logs.Debugf("session.Engine.Accept syn_ack id=%s peer=%s", e.id, e.peer)
	if err := e.transmit(ctx, p.Encoded, protocol.KindSynAck); err != nil {
		return e.failHandshake(err)
	}

	var early *protocol.Message
	err = e.exchange(ctx, p, e.cfg.HandshakeRetries, func(m protocol.Message) bool {
		switch m.Kind() {
		case protocol.KindAck:
			return m.Sequence == synAck.Sequence
		case protocol.KindData:
			// The handshake ACK was lost but the client already moved on.
			early = &m
			return true
		}
		return false
	})
	if err != nil {
		return e.failHandshake(err)
	}

	e.establish(p, syn.User)
	e.mu.Lock()
	e.confirmed = true
	e.mu.Unlock()
	logs.Infof("session.Engine.Accept established id=%s peer=%s peer_user=%q", e.id, e.peer, syn.User)
	if early != nil {
		return e.handleData(ctx, *early)
	}
	return nil
}

// awaitSyn reads until the opening SYN arrives, bounded by the time a client
// would spend retrying it.
func (e *Engine) awaitSyn(ctx context.Context) (protocol.Message, error) {
	deadline := time.Now().Add(e.cfg.RetryTimeout * time.Duration(e.cfg.HandshakeRetries+1))
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return protocol.Message{}, fmt.Errorf("%w: no SYN from %s", ErrHandshakeFailed, e.peer)
		}
		m, err := e.next(ctx, wait)
		if errors.Is(err, transport.ErrTimedOut) || errors.Is(err, errSkip) {
			continue
		}
		if err != nil {
			return protocol.Message{}, err
		}
		switch m.Kind() {
		case protocol.KindSyn:
			return m, nil
		case protocol.KindFin:
			ack := protocol.NewAck(e.cfg.User, m.Sequence)
			_ = e.transmit(ctx, protocol.Encode(ack), protocol.KindAck)
			return protocol.Message{}, fmt.Errorf("%w: peer closed before handshake", ErrHandshakeFailed)
		default:
			logs.Debugf("session.Engine.awaitSyn ignore id=%s kind=%s", e.id, m.Kind())
		}
	}
}

// establish moves a handshaking engine to PhaseIdle with both bits at 0.
func (e *Engine) establish(p *Pending, peerUser string) {
	e.mu.Lock()
	if e.state.LastSent == p {
		e.state.LastSent = nil
		e.state.TimeoutDeadline = time.Time{}
	}
	e.state.Phase = PhaseIdle
	e.state.ExpectedSend = protocol.Seq0
	e.state.ExpectedRecv = protocol.Seq0
	if peerUser != "" {
		e.state.PeerUser = peerUser
	}
	e.opened = true
	roleLabel := e.roleLabelLocked()
	e.mu.Unlock()
	observability.SessionOpened(roleLabel)
}

// failHandshake classifies a handshake error and releases the session.
func (e *Engine) failHandshake(err error) error {
	var out error
	switch {
	case errors.Is(err, ErrPeerClosed):
		out = fmt.Errorf("%w: peer declined", ErrRefused)
	case errors.Is(err, ErrPeerRejected):
		out = fmt.Errorf("%w: %w", ErrRefused, err)
	case errors.Is(err, ErrDeliveryFailed):
		out = fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	case e.life.Err() != nil:
		return e.closedErr()
	default:
		out = err
	}
	logs.Warnf("session.Engine handshake failed id=%s peer=%s err=%v", e.id, e.peer, out)
	e.release(out)
	return out
}
