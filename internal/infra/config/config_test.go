package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want 5", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.ReadTimeout != 500*time.Millisecond {
		t.Errorf("ReadTimeout = %v, want 500ms", cfg.Connection.ReadTimeout)
	}
	if cfg.Connection.MaxInFlight != 10 {
		t.Errorf("MaxInFlight = %d, want 10", cfg.Connection.MaxInFlight)
	}
	if cfg.Engine.FoodCritical >= cfg.Engine.FoodSafe {
		t.Errorf("FoodCritical %d should be below FoodSafe %d", cfg.Engine.FoodCritical, cfg.Engine.FoodSafe)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestDefaultsValidOnceClientIsSet(t *testing.T) {
	cfg := Defaults()
	cfg.Client.Team = "red"
	cfg.Client.Port = 4242
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.LoopWindow != 3 {
		t.Errorf("expected defaults, got LoopWindow=%d", cfg.Engine.LoopWindow)
	}
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.Host != "localhost" {
		t.Errorf("Host = %q, want localhost", cfg.Client.Host)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "zappy.yaml")
	content := `
client:
  team: "blue"
  port: 4000
connection:
  max_attempts: 3
  retry_delay: 250ms
  reconnect: false
engine:
  sender_id: 31
  food_safe: 20
  state_budget: 2s
logger:
  level: "debug"
  format: "json"
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client.Team != "blue" || cfg.Client.Port != 4000 {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Connection.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.RetryDelay != 250*time.Millisecond {
		t.Errorf("RetryDelay = %v, want 250ms", cfg.Connection.RetryDelay)
	}
	if cfg.Connection.Reconnect {
		t.Error("Reconnect should be false")
	}
	if cfg.Engine.SenderID != 31 || cfg.Engine.FoodSafe != 20 || cfg.Engine.StateBudget != 2*time.Second {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	// Untouched fields keep their defaults.
	if cfg.Engine.FoodCritical != 5 {
		t.Errorf("FoodCritical = %d, want 5", cfg.Engine.FoodCritical)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q, want json", cfg.Logger.Format)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("connection: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected parse error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ZAPPY_TEAM", "green")
	t.Setenv("ZAPPY_HOST", "10.0.0.2")
	t.Setenv("ZAPPY_PORT", "4343")
	t.Setenv("ZAPPY_LOGGER_LEVEL", "warn")
	t.Setenv("ZAPPY_CONNECTION_MAX_ATTEMPTS", "9")
	t.Setenv("ZAPPY_CONNECTION_RETRY_DELAY", "1s")
	t.Setenv("ZAPPY_CONNECTION_RECONNECT", "false")
	t.Setenv("ZAPPY_LAUNCHER_ENABLED", "false")
	t.Setenv("ZAPPY_METRICS_ENABLED", "true")
	t.Setenv("ZAPPY_METRICS_ADDR", ":9100")
	t.Setenv("ZAPPY_ENGINE_SENDER_ID", "4242")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Client != (ClientConfig{Team: "green", Host: "10.0.0.2", Port: 4343}) {
		t.Errorf("client = %+v", cfg.Client)
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if cfg.Connection.MaxAttempts != 9 || cfg.Connection.RetryDelay != time.Second || cfg.Connection.Reconnect {
		t.Errorf("connection = %+v", cfg.Connection)
	}
	if cfg.Launcher.Enabled {
		t.Error("launcher should be disabled")
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr != ":9100" {
		t.Errorf("metrics = %+v", cfg.Metrics)
	}
	if cfg.Engine.SenderID != 4242 {
		t.Errorf("Engine.SenderID = %d, want 4242", cfg.Engine.SenderID)
	}
}

func TestEnvOverridesIgnoreGarbage(t *testing.T) {
	t.Setenv("ZAPPY_CONNECTION_MAX_ATTEMPTS", "-2")
	t.Setenv("ZAPPY_CONNECTION_RETRY_DELAY", "soon")
	t.Setenv("ZAPPY_ENGINE_SENDER_ID", "-7")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Connection.MaxAttempts != 5 {
		t.Errorf("MaxAttempts = %d, want default", cfg.Connection.MaxAttempts)
	}
	if cfg.Connection.RetryDelay != 2*time.Second {
		t.Errorf("RetryDelay = %v, want default", cfg.Connection.RetryDelay)
	}
	if cfg.Engine.SenderID != 0 {
		t.Errorf("SenderID = %d, want default", cfg.Engine.SenderID)
	}
}
