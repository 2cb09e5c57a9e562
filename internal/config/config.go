package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/simp/internal/endpoint"
	"github.com/danmuck/simp/internal/protocol"
	"github.com/danmuck/simp/internal/protocol/session"
	"github.com/danmuck/simp/internal/transport"
)

// DefaultAddress is the host:port both roles use when none is configured.
const DefaultAddress = "localhost:8745"

var (
	ErrInvalid     = errors.New("config: invalid")
	ErrUnknownKind = errors.New("config: unknown kind")
)

// Kind selects which side of a conversation a config file describes.
type Kind string

const (
	KindServer Kind = "server"
	KindClient Kind = "client"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindServer, KindClient:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// Config is the runtime configuration of simpctl server and client.
type Config struct {
	Kind               Kind
	User               string
	Listen             string
	Address            string
	MaxRetries         int
	MaxSessions        int
	AdminListen        string
	AdminCORSOrigins   []string
	AdminToken         string
	LossRate           float64
	DuplicateRate      float64
	MaxConnectAttempts int
}

type fileConfig struct {
	User               string   `toml:"user"`
	Listen             string   `toml:"listen"`
	Address            string   `toml:"address"`
	MaxRetries         int      `toml:"max_retries"`
	MaxSessions        int      `toml:"max_sessions"`
	AdminListen        string   `toml:"admin_listen"`
	AdminCORSOrigins   []string `toml:"admin_cors_origins"`
	AdminToken         string   `toml:"admin_token"`
	LossRate           float64  `toml:"loss_rate"`
	DuplicateRate      float64  `toml:"duplicate_rate"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
}

// Default returns the built-in configuration for kind.
func Default(kind Kind) Config {
	return Config{
		Kind:               kind,
		User:               string(kind),
		Listen:             DefaultAddress,
		Address:            DefaultAddress,
		MaxRetries:         0,
		MaxSessions:        endpoint.DefaultMaxSessions,
		MaxConnectAttempts: endpoint.DefaultMaxConnectAttempts,
	}
}

// Load reads a TOML file over Default(kind). Keys absent from the file keep
// their defaults; unknown keys are rejected.
func Load(path string, kind Kind) (Config, error) {
	cfg := Default(kind)

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load %s config: %w", kind, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalid, path, strings.Join(keys, ", "))
	}

	if meta.IsDefined("user") {
		cfg.User = strings.TrimSpace(raw.User)
	}
	if meta.IsDefined("listen") {
		cfg.Listen = strings.TrimSpace(raw.Listen)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("max_retries") {
		cfg.MaxRetries = raw.MaxRetries
	}
	if meta.IsDefined("max_sessions") {
		cfg.MaxSessions = raw.MaxSessions
	}
	if meta.IsDefined("admin_listen") {
		cfg.AdminListen = strings.TrimSpace(raw.AdminListen)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = nil
		for _, o := range raw.AdminCORSOrigins {
			if o = strings.TrimSpace(o); o != "" {
				cfg.AdminCORSOrigins = append(cfg.AdminCORSOrigins, o)
			}
		}
	}
	if meta.IsDefined("admin_token") {
		cfg.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("loss_rate") {
		cfg.LossRate = raw.LossRate
	}
	if meta.IsDefined("duplicate_rate") {
		cfg.DuplicateRate = raw.DuplicateRate
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.MaxConnectAttempts = raw.MaxConnectAttempts
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the config's kind uses.
func Validate(cfg Config) error {
	if _, err := ParseKind(string(cfg.Kind)); err != nil {
		return err
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		return fmt.Errorf("%w: user is required", ErrInvalid)
	}
	if len(user) > protocol.UserLen {
		return fmt.Errorf("%w: user %q exceeds %d bytes", ErrInvalid, user, protocol.UserLen)
	}
	switch cfg.Kind {
	case KindServer:
		if err := validateHostPort("listen", cfg.Listen); err != nil {
			return err
		}
		if cfg.MaxSessions < 1 {
			return fmt.Errorf("%w: max_sessions must be at least 1", ErrInvalid)
		}
	case KindClient:
		if err := validateHostPort("address", cfg.Address); err != nil {
			return err
		}
		if cfg.MaxConnectAttempts < 1 {
			return fmt.Errorf("%w: max_connect_attempts must be at least 1", ErrInvalid)
		}
	}
	if cfg.MaxRetries < 0 {
		return fmt.Errorf("%w: max_retries must not be negative", ErrInvalid)
	}
	if cfg.AdminListen != "" {
		if err := validateHostPort("admin_listen", cfg.AdminListen); err != nil {
			return err
		}
	}
	if len(cfg.AdminCORSOrigins) > 0 && cfg.AdminListen == "" {
		return fmt.Errorf("%w: admin_cors_origins requires admin_listen", ErrInvalid)
	}
	if cfg.AdminToken != "" && cfg.AdminListen == "" {
		return fmt.Errorf("%w: admin_token requires admin_listen", ErrInvalid)
	}
	if cfg.LossRate < 0 || cfg.LossRate > 1 {
		return fmt.Errorf("%w: loss_rate must be within [0, 1]", ErrInvalid)
	}
	if cfg.DuplicateRate < 0 || cfg.DuplicateRate > 1 {
		return fmt.Errorf("%w: duplicate_rate must be within [0, 1]", ErrInvalid)
	}
	return nil
}

func validateHostPort(key, addr string) error {
	if strings.TrimSpace(addr) == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalid, key)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%w: %s %q: %v", ErrInvalid, key, addr, err)
	}
	return nil
}

// Endpoint maps the config onto dial/listen options.
func (c Config) Endpoint() endpoint.Options {
	sess := session.DefaultConfig()
	sess.User = c.User
	sess.MaxRetries = c.MaxRetries
	return endpoint.Options{
		Session: sess,
		Loss: transport.LossConfig{
			DropRate:      c.LossRate,
			DuplicateRate: c.DuplicateRate,
		},
		MaxConnectAttempts: c.MaxConnectAttempts,
		MaxSessions:        c.MaxSessions,
	}
}
