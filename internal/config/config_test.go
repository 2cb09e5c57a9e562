package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/simp/internal/testutil/testlog"
)

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simp.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []Kind{KindServer, KindClient} {
		path := filepath.Join(t.TempDir(), string(kind)+".toml")
		if err := WriteTemplate(path, kind, false); err != nil {
			t.Fatalf("write %s template: %v", kind, err)
		}
		cfg, err := Load(path, kind)
		if err != nil {
			t.Fatalf("load %s template: %v", kind, err)
		}
		if cfg.User != string(kind) {
			t.Fatalf("%s user=%q", kind, cfg.User)
		}
		if cfg.Listen != DefaultAddress || cfg.Address != DefaultAddress {
			t.Fatalf("%s addresses listen=%q address=%q", kind, cfg.Listen, cfg.Address)
		}
		if err := WriteTemplate(path, kind, false); err == nil {
			t.Fatalf("expected refusal to overwrite %s", path)
		}
		if err := WriteTemplate(path, kind, true); err != nil {
			t.Fatalf("overwrite %s: %v", path, err)
		}
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `user = "alice"
address = "127.0.0.1:9000"
loss_rate = 0.1
admin_listen = "127.0.0.1:9745"
admin_cors_origins = [" http://localhost:3000 ", ""]
admin_token = " s3cret "
`)
	cfg, err := Load(path, KindClient)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.User != "alice" || cfg.Address != "127.0.0.1:9000" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if cfg.MaxConnectAttempts != 3 || cfg.MaxRetries != 0 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
	if cfg.LossRate != 0.1 {
		t.Fatalf("loss rate=%v", cfg.LossRate)
	}
	if len(cfg.AdminCORSOrigins) != 1 || cfg.AdminCORSOrigins[0] != "http://localhost:3000" {
		t.Fatalf("cors origins=%q", cfg.AdminCORSOrigins)
	}
	if cfg.AdminToken != "s3cret" {
		t.Fatalf("admin token=%q", cfg.AdminToken)
	}

	opts := cfg.Endpoint()
	if opts.Session.User != "alice" || opts.Loss.DropRate != 0.1 || opts.MaxConnectAttempts != 3 {
		t.Fatalf("endpoint options: %+v", opts)
	}
	if opts.Session.RetryTimeout == 0 {
		t.Fatalf("endpoint options should carry the protocol retry timeout")
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	testlog.Start(t)
	path := writeFile(t, `user = "alice"
retry_timeout = "1s"
`)
	if _, err := Load(path, KindClient); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	testlog.Start(t)
	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{name: "defaults", mutate: func(*Config) {}, ok: true},
		{name: "empty user", mutate: func(c *Config) { c.User = " " }},
		{name: "long user", mutate: func(c *Config) { c.User = "abcdefghijklmnopqrstuvwxyz0123456789" }},
		{name: "bad listen", mutate: func(c *Config) { c.Listen = "localhost" }},
		{name: "no sessions", mutate: func(c *Config) { c.MaxSessions = 0 }},
		{name: "negative retries", mutate: func(c *Config) { c.MaxRetries = -1 }},
		{name: "bad admin", mutate: func(c *Config) { c.AdminListen = "nope" }},
		{name: "admin ok", mutate: func(c *Config) { c.AdminListen = "127.0.0.1:9745" }, ok: true},
		{name: "cors without admin", mutate: func(c *Config) { c.AdminCORSOrigins = []string{"http://localhost:3000"} }},
		{name: "cors with admin", mutate: func(c *Config) {
			c.AdminListen = "127.0.0.1:9745"
			c.AdminCORSOrigins = []string{"http://localhost:3000"}
		}, ok: true},
		{name: "token without admin", mutate: func(c *Config) { c.AdminToken = "s3cret" }},
		{name: "loss rate", mutate: func(c *Config) { c.LossRate = 1.5 }},
		{name: "duplicate rate", mutate: func(c *Config) { c.DuplicateRate = -0.1 }},
		{name: "unknown kind", mutate: func(c *Config) { c.Kind = "relay" }},
	}
	for _, tc := range cases {
		cfg := Default(KindServer)
		tc.mutate(&cfg)
		err := Validate(cfg)
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}

	client := Default(KindClient)
	client.MaxConnectAttempts = 0
	if err := Validate(client); !errors.Is(err, ErrInvalid) {
		t.Fatalf("client attempts: %v", err)
	}
}

func TestParseKind(t *testing.T) {
	testlog.Start(t)
	if k, err := ParseKind(" Server "); err != nil || k != KindServer {
		t.Fatalf("parse server: %v %v", k, err)
	}
	if _, err := ParseKind("seed"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
	if _, err := Template("seed"); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("template: expected ErrUnknownKind, got %v", err)
	}
}
