package config

import (
	"os"
	"testing"
	"time"
)

func TestConfigLoad_Defaults(t *testing.T) {
	_ = os.Unsetenv("CONNECT_DB_DRIVER")
	_ = os.Unsetenv("CONNECT_HTTP_PORT")
	_ = os.Unsetenv("CONNECT_TYPING_TTL")
	// The postgres default requires a DSN; use sqlite for defaults.
	_ = os.Setenv("CONNECT_DB_DRIVER", "sqlite")
	defer func() { _ = os.Unsetenv("CONNECT_DB_DRIVER") }()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.HTTPPort != 8080 || cfg.SQLitePath != "connect.db" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.TypingTTL != 3*time.Second || cfg.PresenceWindow != 30*time.Second {
		t.Fatalf("unexpected realtime defaults: %+v", cfg)
	}
	if cfg.BrokerBuffer != 64 || cfg.ShutdownTimeout != 10*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestConfigLoad_EnvOverride(t *testing.T) {
	_ = os.Setenv("CONNECT_DB_DRIVER", "sqlite")
	_ = os.Setenv("CONNECT_TYPING_TTL", "5s")
	_ = os.Setenv("CONNECT_HTTP_PORT", "9090")
	defer func() {
		_ = os.Unsetenv("CONNECT_DB_DRIVER")
		_ = os.Unsetenv("CONNECT_TYPING_TTL")
		_ = os.Unsetenv("CONNECT_HTTP_PORT")
	}()

	cfg, err := New()
	if err != nil {
		t.Fatalf("config load: %v", err)
	}
	if cfg.TypingTTL != 5*time.Second || cfg.HTTPPort != 9090 {
		t.Fatalf("env overrides failed: %+v", cfg)
	}
}

func TestConfigLoad_PostgresRequiresDSN(t *testing.T) {
	_ = os.Setenv("CONNECT_DB_DRIVER", "postgres")
	_ = os.Unsetenv("CONNECT_POSTGRES_DSN")
	defer func() { _ = os.Unsetenv("CONNECT_DB_DRIVER") }()

	if _, err := New(); err == nil {
		t.Fatalf("postgres driver without DSN must fail validation")
	}

	_ = os.Setenv("CONNECT_POSTGRES_DSN", "postgres://localhost:5432/connect")
	defer func() { _ = os.Unsetenv("CONNECT_POSTGRES_DSN") }()
	if _, err := New(); err != nil {
		t.Fatalf("postgres driver with DSN: %v", err)
	}
}

func TestConfigLoad_UnknownDriverRejected(t *testing.T) {
	_ = os.Setenv("CONNECT_DB_DRIVER", "oracle")
	defer func() { _ = os.Unsetenv("CONNECT_DB_DRIVER") }()

	if _, err := New(); err == nil {
		t.Fatalf("unknown driver must fail validation")
	}
}

func TestConfigValidate_PositiveDurations(t *testing.T) {
	cfg := &Config{DBDriver: "sqlite", SQLitePath: "x.db", TypingTTL: 3 * time.Second, PresenceWindow: 30 * time.Second, HealthInterval: 15 * time.Second}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("zero sweep interval must fail validation")
	}
	cfg.SweepInterval = time.Second
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
