package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/danmuck/simp/internal/config"
	"github.com/danmuck/simp/internal/console"
	"github.com/danmuck/simp/internal/conversation"
	"github.com/danmuck/simp/internal/endpoint"
	logs "github.com/danmuck/simp/internal/logging"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/spf13/cobra"
)

func newServerCmd() *cobra.Command {
	var (
		flags   sessionFlags
		listen  string
		confirm bool
	)
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Listen for clients and open each conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd, config.KindServer, func(c *config.Config) {
				if cmd.Flags().Changed("listen") {
					c.Listen = listen
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return serverRun{
				cfg:     cfg,
				confirm: confirm,
				in:      cmd.InOrStdin(),
				out:     cmd.OutOrStdout(),
			}.run(ctx)
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&listen, "listen", "l", config.DefaultAddress, "UDP address to listen on")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "ask before admitting each peer")
	return cmd
}

type serverRun struct {
	cfg     config.Config
	confirm bool
	in      io.Reader
	out     io.Writer
	ready   func(net.Addr)
}

func (r serverRun) run(ctx context.Context) error {
	con := console.New(r.cfg.User, r.in, r.out)
	opts := r.cfg.Endpoint()
	if r.confirm {
		opts.Accept = newConfirmPolicy(ctx, con).allow
	}

	l, err := endpoint.Listen(ctx, r.cfg.Listen, opts)
	if err != nil {
		return err
	}
	defer l.Close()

	startAdmin(ctx, string(config.KindServer), r.cfg, l)
	con.Notice("listening on %s as %s", l.Addr(), r.cfg.User)
	if r.ready != nil {
		r.ready(l.Addr())
	}

	err = l.Serve(ctx, func(ctx context.Context, e *session.Engine) error {
		con.Notice("%s connected from %s", e.PeerUser(), e.Peer())
		err := conversation.RunInitiator(ctx, e, con)
		switch {
		case err == nil:
			con.Notice("conversation with %s ended", e.PeerUser())
		case ctx.Err() == nil:
			con.Error(err)
		}
		return err
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// confirmPolicy asks the operator about each new peer. Refusals are
// remembered so the peer's retransmitted SYNs do not prompt again.
type confirmPolicy struct {
	ctx context.Context
	con *console.Console

	mu      sync.Mutex
	refused map[string]bool
}

func newConfirmPolicy(ctx context.Context, con *console.Console) *confirmPolicy {
	return &confirmPolicy{ctx: ctx, con: con, refused: make(map[string]bool)}
}

func (p *confirmPolicy) allow(peer net.Addr, user string) bool {
	key := peer.String()
	p.mu.Lock()
	refused := p.refused[key]
	p.mu.Unlock()
	if refused {
		return false
	}

	ok := p.con.Confirm(p.ctx, fmt.Sprintf("accept conversation with %s (%s)?", user, peer))
	if !ok {
		logs.Infof("simpctl.confirmPolicy refused peer=%s user=%q", peer, user)
		p.mu.Lock()
		p.refused[key] = true
		p.mu.Unlock()
	}
	return ok
}
