package endpoint

import (
	"net"

	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/danmuck/simp/internal/transport"
)

const (
	DefaultMaxConnectAttempts = 3
	DefaultMaxSessions        = 1
)

// AcceptPolicy decides whether a peer opening a session is admitted. A
// refused peer is answered with FIN.
type AcceptPolicy func(peer net.Addr, user string) bool

// Options configures both dialing and listening.
type Options struct {
	Session            session.Config
	Loss               transport.LossConfig
	MaxConnectAttempts int
	MaxSessions        int
	Accept             AcceptPolicy
}

func (o Options) withDefaults() Options {
	o.Session = o.Session.WithDefaults()
	if o.MaxConnectAttempts <= 0 {
		o.MaxConnectAttempts = DefaultMaxConnectAttempts
	}
	if o.MaxSessions <= 0 {
		o.MaxSessions = DefaultMaxSessions
	}
	return o
}

// wrap applies simulated loss when configured.
func (o Options) wrap(tr transport.Transport, seedOffset int64) transport.Transport {
	if !o.Loss.Enabled() {
		return tr
	}
	cfg := o.Loss
	if cfg.Seed != 0 {
		cfg.Seed += seedOffset
	}
	return transport.NewLossy(tr, cfg)
}
