package config

import (
	"fmt"
	"net"
	"strings"
)

// MaxTeamName is the longest accepted team name.
const MaxTeamName = 50

// ReservedTeam is the name graphical observers use; agents may not join it.
const ReservedTeam = "GRAPHIC"

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateClient(cfg, ve)
	validateConnection(cfg, ve)
	validateEngine(cfg, ve)
	validateLauncher(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMetrics(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateClient(cfg *Config, ve *ValidationError) {
	team := cfg.Client.Team
	switch {
	case strings.TrimSpace(team) == "":
		ve.Add("client.team is required")
	case len(team) > MaxTeamName:
		ve.Add("client.team must be at most %d characters, got %d", MaxTeamName, len(team))
	case strings.EqualFold(team, ReservedTeam):
		ve.Add("client.team %q is reserved", team)
	case strings.ContainsAny(team, "\r\n"):
		ve.Add("client.team must be a single line")
	}
	if strings.TrimSpace(cfg.Client.Host) == "" {
		ve.Add("client.host is required")
	}
	if cfg.Client.Port < 1 || cfg.Client.Port > 65535 {
		ve.Add("client.port must be in 1..65535, got %d", cfg.Client.Port)
	}
}

func validateConnection(cfg *Config, ve *ValidationError) {
	c := cfg.Connection
	if c.MaxAttempts <= 0 {
		ve.Add("connection.max_attempts must be > 0")
	}
	if c.RetryDelay < 0 {
		ve.Add("connection.retry_delay must be >= 0")
	}
	if c.DialTimeout <= 0 {
		ve.Add("connection.dial_timeout must be > 0")
	}
	if c.HandshakeTimeout <= 0 {
		ve.Add("connection.handshake_timeout must be > 0")
	}
	if c.ReadTimeout <= 0 {
		ve.Add("connection.read_timeout must be > 0")
	}
	if c.LivenessTimeout <= c.ReadTimeout {
		ve.Add("connection.liveness_timeout must exceed connection.read_timeout")
	}
	if c.MaxBufferBytes < c.ReadChunkBytes || c.ReadChunkBytes <= 0 {
		ve.Add("connection.max_buffer_bytes must be >= connection.read_chunk_bytes > 0")
	}
	if c.MaxInFlight <= 0 {
		ve.Add("connection.max_in_flight must be > 0")
	}
	if c.SendRate < 0 {
		ve.Add("connection.send_rate must be >= 0")
	}
	if c.SendRate > 0 && c.SendBurst <= 0 {
		ve.Add("connection.send_burst must be > 0 when send_rate is set")
	}
}

func validateEngine(cfg *Config, ve *ValidationError) {
	e := cfg.Engine
	if e.SenderID < 0 {
		ve.Add("engine.sender_id must be >= 0")
	}
	if e.FoodCritical < 0 || e.FoodSafe < e.FoodCritical {
		ve.Add("engine.food_safe must be >= engine.food_critical >= 0")
	}
	if e.StateBudget <= 0 {
		ve.Add("engine.state_budget must be > 0")
	}
	if e.LoopWindow <= 0 || e.LoopHistory < 2*e.LoopWindow {
		ve.Add("engine.loop_history must hold at least two engine.loop_window sequences")
	}
	if e.WaitTimeout <= 0 {
		ve.Add("engine.wait_timeout must be > 0")
	}
	if e.MaxSpawns < 0 {
		ve.Add("engine.max_spawns must be >= 0")
	}
	if e.TeammateTTL <= 0 {
		ve.Add("engine.teammate_ttl must be > 0")
	}
	if e.InventoryEvery <= 0 {
		ve.Add("engine.inventory_every must be > 0")
	}
	if e.QueueSize <= 0 {
		ve.Add("engine.queue_size must be > 0")
	}
}

func validateLauncher(cfg *Config, ve *ValidationError) {
	if !cfg.Launcher.Enabled {
		return
	}
	if cfg.Launcher.MaxSessions <= 0 {
		ve.Add("launcher.max_sessions must be > 0")
	}
	if cfg.Launcher.SessionTTL <= 0 {
		ve.Add("launcher.session_ttl must be > 0")
	}
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch cfg.Logger.Format {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "stderr", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateMetrics(cfg *Config, ve *ValidationError) {
	if !cfg.Metrics.Enabled || cfg.Metrics.Addr == "" {
		return
	}
	if cfg.Metrics.ScrapesPerMin < 0 || cfg.Metrics.ScrapeBurst < 0 {
		ve.Add("metrics.scrapes_per_min and metrics.scrape_burst must be >= 0")
	}
	if _, _, err := net.SplitHostPort(cfg.Metrics.Addr); err != nil {
		ve.Add("metrics.addr %q is not host:port: %v", cfg.Metrics.Addr, err)
	}
}
