// Package conversation drives an established session as a turn-taking chat.
//
// The initiator speaks first; the responder listens first. After the first
// turn both run the same receive/reply loop.
package conversation

import (
	"context"
	"errors"

	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/protocol/session"
)

// ErrEnd is returned by a Handler to finish the conversation. The driver
// closes the session with FIN and returns nil.
var ErrEnd = errors.New("conversation: end")

// Session is the part of *session.Engine the drivers use.
type Session interface {
	SendReliable(ctx context.Context, payload []byte) error
	Receive(ctx context.Context) (protocol.Message, error)
	Close(ctx context.Context) error
}

// Handler supplies the application side of a conversation. OnMessage runs
// exactly once per delivered DATA message and returns the reply payload.
type Handler interface {
	Open(ctx context.Context) ([]byte, error)
	OnMessage(ctx context.Context, msg protocol.Message) ([]byte, error)
}

// HandlerFunc adapts a function to Handler. Open calls f with the zero
// Message.
type HandlerFunc func(ctx context.Context, msg protocol.Message) ([]byte, error)

func (f HandlerFunc) Open(ctx context.Context) ([]byte, error) {
	return f(ctx, protocol.Message{})
}

func (f HandlerFunc) OnMessage(ctx context.Context, msg protocol.Message) ([]byte, error) {
	return f(ctx, msg)
}

// RunInitiator sends the handler's opening payload, then alternates between
// receiving and replying until either side ends the conversation.
func RunInitiator(ctx context.Context, s Session, h Handler) error {
	return run(ctx, s, h, true)
}

// RunResponder waits for the peer's first message, then alternates between
// replying and receiving.
func RunResponder(ctx context.Context, s Session, h Handler) error {
	return run(ctx, s, h, false)
}

func run(ctx context.Context, s Session, h Handler, initiate bool) error {
	if initiate {
		out, err := h.Open(ctx)
		if err != nil {
			return stop(ctx, s, err)
		}
		if err := s.SendReliable(ctx, out); err != nil {
			return finish(ctx, s, err)
		}
	}

	for turn := 1; ; turn++ {
		msg, err := s.Receive(ctx)
		if err != nil {
			return finish(ctx, s, err)
		}
		logs.Tracef("conversation.run delivered turn=%d %s", turn, msg)
		out, err := h.OnMessage(ctx, msg)
		if err != nil {
			return stop(ctx, s, err)
		}
		if err := s.SendReliable(ctx, out); err != nil {
			return finish(ctx, s, err)
		}
	}
}

// stop ends the conversation on a handler decision or handler failure.
func stop(ctx context.Context, s Session, err error) error {
	closeErr := s.Close(context.WithoutCancel(ctx))
	if errors.Is(err, ErrEnd) {
		logs.Infof("conversation.run ended locally")
		return closeErr
	}
	logs.Warnf("conversation.run handler failed err=%v", err)
	return err
}

// finish maps a session error to the driver result. The peer closing is a
// normal end.
func finish(ctx context.Context, s Session, err error) error {
	if errors.Is(err, session.ErrPeerClosed) {
		logs.Infof("conversation.run ended by peer")
		return nil
	}
	_ = s.Close(context.WithoutCancel(ctx))
	logs.Warnf("conversation.run aborted err=%v", err)
	return err
}
