package main

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/danmuck/simp/internal/admin"
	"github.com/danmuck/simp/internal/config"
	"github.com/danmuck/simp/internal/console"
	"github.com/danmuck/simp/internal/conversation"
	"github.com/danmuck/simp/internal/endpoint"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/spf13/cobra"
)

func newClientCmd() *cobra.Command {
	var (
		flags   sessionFlags
		address string
	)
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Connect to a server and answer its conversation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := flags.load(cmd, config.KindClient, func(c *config.Config) {
				if cmd.Flags().Changed("address") {
					c.Address = address
				}
			})
			if err != nil {
				return err
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return runClient(ctx, cfg, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&address, "address", "a", config.DefaultAddress, "server UDP address")
	return cmd
}

// closeGrace bounds the FIN exchange after an interrupt.
const closeGrace = 2 * time.Second

func runClient(ctx context.Context, cfg config.Config, in io.Reader, out io.Writer) error {
	con := console.New(cfg.User, in, out)
	e, err := endpoint.DialWithRetry(ctx, cfg.Address, cfg.Endpoint())
	if err != nil {
		if errors.Is(err, session.ErrRefused) {
			con.Notice("server %s refused the conversation", cfg.Address)
		}
		return err
	}
	defer e.Abort()

	startAdmin(ctx, string(config.KindClient), cfg, admin.SessionsFunc(func() []session.Snapshot {
		return []session.Snapshot{e.Snapshot()}
	}))
	con.Notice("connected to %s at %s", e.PeerUser(), cfg.Address)

	err = conversation.RunResponder(ctx, e, con)
	if ctx.Err() != nil {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeGrace)
		defer cancel()
		_ = e.Close(closeCtx)
		return nil
	}
	if err != nil {
		return err
	}
	con.Notice("conversation ended")
	return nil
}
