package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level client configuration.
type Config struct {
	Client     ClientConfig     `yaml:"client"`
	Connection ConnectionConfig `yaml:"connection"`
	Engine     EngineConfig     `yaml:"engine"`
	Launcher   LauncherConfig   `yaml:"launcher"`
	Logger     LoggerConfig     `yaml:"logger"`
	Tracer     TracerConfig     `yaml:"tracer"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ClientConfig identifies the game to join. Usually supplied by flags.
type ClientConfig struct {
	Team string `yaml:"team"`
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// ConnectionConfig tunes the transport and the connect policy.
type ConnectionConfig struct {
	MaxAttempts      int           `yaml:"max_attempts"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	HandshakeTimeout time.Duration `yaml:"handshake_timeout"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	LivenessTimeout  time.Duration `yaml:"liveness_timeout"`
	MaxBufferBytes   int           `yaml:"max_buffer_bytes"`
	ReadChunkBytes   int           `yaml:"read_chunk_bytes"`
	MaxInFlight      int           `yaml:"max_in_flight"`
	SendRate         float64       `yaml:"send_rate"` // commands per second, 0 = unlimited
	SendBurst        int           `yaml:"send_burst"`
	Reconnect        bool          `yaml:"reconnect"`
}

// EngineConfig tunes the decision engine.
type EngineConfig struct {
	SenderID        int           `yaml:"sender_id"` // 0 = random per process
	FoodCritical    int           `yaml:"food_critical"`
	FoodSafe        int           `yaml:"food_safe"`
	SpawnFood       int           `yaml:"spawn_food"`
	StateBudget     time.Duration `yaml:"state_budget"`
	LoopHistory     int           `yaml:"loop_history"`
	LoopWindow      int           `yaml:"loop_window"`
	WaitTimeout     time.Duration `yaml:"wait_timeout"`
	MaxSpawns       int           `yaml:"max_spawns"`
	TeammateTTL     time.Duration `yaml:"teammate_ttl"`
	DecodeCacheSize int           `yaml:"decode_cache_size"`
	InventoryEvery  int           `yaml:"inventory_every"`
	QueueSize       int           `yaml:"queue_size"`
}

// LauncherConfig controls how additional agent processes are started.
type LauncherConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Executable  string        `yaml:"executable"` // empty = this binary
	LogDir      string        `yaml:"log_dir"`    // empty = discard child output
	MaxSessions int           `yaml:"max_sessions"`
	SessionTTL  time.Duration `yaml:"session_ttl"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// MetricsConfig controls the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`            // empty = collect without serving
	ScrapesPerMin int    `yaml:"scrapes_per_min"` // per client IP; 0 = unlimited
	ScrapeBurst   int    `yaml:"scrape_burst"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Client: ClientConfig{
			Host: "localhost",
		},
		Connection: ConnectionConfig{
			MaxAttempts:      5,
			RetryDelay:       2 * time.Second,
			DialTimeout:      5 * time.Second,
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      500 * time.Millisecond,
			WriteTimeout:     5 * time.Second,
			LivenessTimeout:  30 * time.Second,
			MaxBufferBytes:   64 * 1024,
			ReadChunkBytes:   1024,
			MaxInFlight:      10,
			SendBurst:        10,
			Reconnect:        true,
		},
		Engine: EngineConfig{
			FoodCritical:    5,
			FoodSafe:        15,
			SpawnFood:       30,
			StateBudget:     5 * time.Second,
			LoopHistory:     12,
			LoopWindow:      3,
			WaitTimeout:     100 * time.Millisecond,
			MaxSpawns:       5,
			TeammateTTL:     60 * time.Second,
			DecodeCacheSize: 256,
			InventoryEvery:  5,
			QueueSize:       64,
		},
		Launcher: LauncherConfig{
			Enabled:     true,
			MaxSessions: 10,
			SessionTTL:  30 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			Addr:          "",
			ScrapesPerMin: 120,
			ScrapeBurst:   10,
		},
	}
}

// Load reads a YAML config file over Defaults and applies env var
// overrides. An empty or missing path yields the defaults. Callers apply
// command-line values afterwards and then call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// ApplyEnvOverrides maps ZAPPY_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ZAPPY_TEAM"); v != "" {
		cfg.Client.Team = v
	}
	if v := os.Getenv("ZAPPY_HOST"); v != "" {
		cfg.Client.Host = v
	}
	if v := os.Getenv("ZAPPY_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Client.Port = n
		}
	}
	if v := os.Getenv("ZAPPY_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ZAPPY_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ZAPPY_LOGGER_OUTPUT"); v != "" {
		cfg.Logger.Output = v
	}
	if v := os.Getenv("ZAPPY_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ZAPPY_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("ZAPPY_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("ZAPPY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("ZAPPY_CONNECTION_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Connection.MaxAttempts = n
		}
	}
	if v := os.Getenv("ZAPPY_CONNECTION_RETRY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			cfg.Connection.RetryDelay = d
		}
	}
	if v := os.Getenv("ZAPPY_CONNECTION_RECONNECT"); v == "false" {
		cfg.Connection.Reconnect = false
	}
	if v := os.Getenv("ZAPPY_ENGINE_SENDER_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Engine.SenderID = n
		}
	}
	if v := os.Getenv("ZAPPY_ENGINE_MAX_SPAWNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Engine.MaxSpawns = n
		}
	}
	if v := os.Getenv("ZAPPY_LAUNCHER_ENABLED"); v == "false" {
		cfg.Launcher.Enabled = false
	}
	if v := os.Getenv("ZAPPY_LAUNCHER_LOG_DIR"); v != "" {
		cfg.Launcher.LogDir = v
	}
}
