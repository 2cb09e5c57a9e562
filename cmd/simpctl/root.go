package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/simp/internal/admin"
	"github.com/danmuck/simp/internal/config"
	logs "github.com/danmuck/simp/internal/logging"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X main.version=x.y.z".
var version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "simpctl",
		Short: "SIMP chat over UDP",
		Long: `simpctl runs either side of a SIMP conversation: a reliable,
turn-taking chat carried over UDP with an alternating-bit protocol.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServerCmd(),
		newClientCmd(),
		newConfigCmd(),
		newVersionCmd(),
	)
	return root
}

// sessionFlags are shared by server and client.
type sessionFlags struct {
	configPath string
	user       string
	admin      string
}

func (f *sessionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "TOML config file (built-in defaults when empty)")
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "user name carried in every message")
	cmd.Flags().StringVar(&f.admin, "admin", "", "serve /health, /sessions and /metrics on this address")
}

// load reads the config file, applies flags the caller set and validates.
func (f *sessionFlags) load(cmd *cobra.Command, kind config.Kind, apply func(*config.Config)) (config.Config, error) {
	cfg := config.Default(kind)
	if f.configPath != "" {
		loaded, err := config.Load(f.configPath, kind)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("user") {
		cfg.User = f.user
	}
	if cmd.Flags().Changed("admin") {
		cfg.AdminListen = f.admin
	}
	if apply != nil {
		apply(&cfg)
	}
	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func startAdmin(ctx context.Context, node string, cfg config.Config, src admin.SessionSource) {
	if cfg.AdminListen == "" {
		return
	}
	srv := admin.New(admin.Options{
		Node:        node,
		Addr:        cfg.AdminListen,
		Version:     version,
		CORSOrigins: cfg.AdminCORSOrigins,
		Token:       cfg.AdminToken,
	}, src)
	go func() {
		if err := srv.Serve(ctx); err != nil {
			logs.Errorf("simpctl.startAdmin stopped addr=%s err=%v", cfg.AdminListen, err)
		}
	}()
}
