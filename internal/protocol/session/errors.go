package session

import (
	"errors"
	"fmt"
)

var (
	ErrDeliveryFailed  = errors.New("session: delivery failed")
	ErrHandshakeFailed = errors.New("session: handshake failed")
	ErrRefused         = errors.New("session: connection refused")
	ErrClosed          = errors.New("session: closed")
	ErrPeerClosed      = errors.New("session: closed by peer")
	ErrPeerRejected    = errors.New("session: peer reported error")
	ErrSendInProgress  = errors.New("session: send already awaiting ack")
	ErrNotEstablished  = errors.New("session: not established")
	ErrPayloadTooLarge = errors.New("session: payload too large")
)

// PeerError carries the reason from an ERROR message sent by the peer.
type PeerError struct {
	User   string
	Reason string
}

func (e *PeerError) Error() string {
	if e.User == "" {
		return fmt.Sprintf("%s: %s", ErrPeerRejected, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrPeerRejected, e.User, e.Reason)
}

func (e *PeerError) Is(target error) bool {
	return target == ErrPeerRejected
}
