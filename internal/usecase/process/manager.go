// Package process launches additional agent processes and tracks them until
// they exit.
package process

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/config"
)

// ManagerConfig holds configuration for the Manager.
type ManagerConfig struct {
	Enabled         bool
	Executable      string        // program to launch (default: this binary)
	LogDir          string        // per-child log files; empty discards child output
	MaxSessions     int           // max concurrently running children (default: 10)
	SessionTTL      time.Duration // forget finished sessions after this (default: 30m)
	CleanupInterval time.Duration // how often to run TTL cleanup (default: 1m)
}

// ConfigFrom maps the launcher configuration section.
func ConfigFrom(c config.LauncherConfig) ManagerConfig {
	return ManagerConfig{
		Enabled:     c.Enabled,
		Executable:  c.Executable,
		LogDir:      c.LogDir,
		MaxSessions: c.MaxSessions,
		SessionTTL:  c.SessionTTL,
	}
}

// processEntry holds the runtime state for a single launched process.
type processEntry struct {
	session domain.ProcessSession
	cmd     *exec.Cmd
	done    chan struct{}
}

// Manager starts agent processes fire-and-forget: children are not tied
// to the parent's context and keep running when the parent exits.
type Manager struct {
	sessions map[string]*processEntry
	mu       sync.Mutex
	config   ManagerConfig
	parentID string
	bus      domain.EventBus
	logger   *slog.Logger
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewManager creates a Manager and starts the TTL cleanup goroutine.
// parentID tags every launched session with the launching agent.
func NewManager(cfg ManagerConfig, parentID string, bus domain.EventBus, logger *slog.Logger) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 10
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * time.Minute
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 1 * time.Minute
	}

	pm := &Manager{
		sessions: make(map[string]*processEntry),
		config:   cfg,
		parentID: parentID,
		bus:      bus,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	go pm.cleanupLoop()
	return pm
}

// Launch starts one more agent that joins the same team on the same server.
func (pm *Manager) Launch(ctx context.Context, team, host string, port int) (*domain.ProcessSession, error) {
	if !pm.config.Enabled {
		return nil, domain.NewSubSystemError("launcher", "Launcher.Launch", domain.ErrInvalidInput, "launcher disabled")
	}
	exe := pm.config.Executable
	if exe == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("launcher: resolve executable: %w", err)
		}
		exe = self
	}
	return pm.Start(ctx, exe, []string{"-p", strconv.Itoa(port), "-n", team, "-h", host})
}

// Start runs command in the background and returns the session
// immediately.
func (pm *Manager) Start(ctx context.Context, command string, args []string) (*domain.ProcessSession, error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	running := pm.runningLocked()
	if running >= pm.config.MaxSessions {
		return nil, domain.NewSubSystemError("launcher", "Launcher.Start", domain.ErrLimitReached,
			fmt.Sprintf("%d/%d agents running", running, pm.config.MaxSessions))
	}

	sessionID := pm.newID()
	cmd := exec.Command(command, args...)

	var logPath string
	if pm.config.LogDir != "" {
		if err := os.MkdirAll(pm.config.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("launcher: log dir: %w", err)
		}
		logPath = filepath.Join(pm.config.LogDir, sessionID+".log")
		f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("launcher: open log: %w", err)
		}
		// The child holds its own descriptor after Start.
		defer f.Close()
		cmd.Stdout = f
		cmd.Stderr = f
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("launcher: start: %w", err)
	}

	session := domain.ProcessSession{
		ID:        sessionID,
		Command:   command,
		Args:      args,
		PID:       cmd.Process.Pid,
		LogPath:   logPath,
		Status:    domain.ProcessStatusRunning,
		StartedAt: time.Now(),
		ParentID:  pm.parentID,
	}

	entry := &processEntry{
		session: session,
		cmd:     cmd,
		done:    make(chan struct{}),
	}
	pm.sessions[sessionID] = entry

	go pm.waitForCompletion(entry)

	pm.emitEvent(ctx, domain.EventProcessStarted, session)
	pm.logger.Info("agent launched", "session_id", sessionID, "pid", session.PID, "command", command, "args", args)

	return &session, nil
}

// List returns a snapshot of all known sessions.
func (pm *Manager) List() []domain.ProcessSession {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	out := make([]domain.ProcessSession, 0, len(pm.sessions))
	for _, e := range pm.sessions {
		out = append(out, e.session)
	}
	return out
}

// Running returns the number of children still running.
func (pm *Manager) Running() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return pm.runningLocked()
}

// Stop shuts down the cleanup goroutine. Children keep running.
func (pm *Manager) Stop() {
	pm.stopOnce.Do(func() {
		close(pm.stopCh)
	})
}

// --- internal ---

func (pm *Manager) runningLocked() int {
	n := 0
	for _, e := range pm.sessions {
		if e.session.Status == domain.ProcessStatusRunning {
			n++
		}
	}
	return n
}

func (pm *Manager) waitForCompletion(entry *processEntry) {
	err := entry.cmd.Wait()
	close(entry.done)

	pm.mu.Lock()
	now := time.Now()
	entry.session.EndedAt = &now
	if err != nil {
		entry.session.Status = domain.ProcessStatusFailed
		if exitErr, ok := err.(*exec.ExitError); ok {
			code := exitErr.ExitCode()
			entry.session.ExitCode = &code
		}
	} else {
		entry.session.Status = domain.ProcessStatusCompleted
		code := 0
		entry.session.ExitCode = &code
	}
	session := entry.session
	pm.mu.Unlock()

	pm.emitEvent(context.Background(), domain.EventProcessCompleted, session)
	pm.logger.Info("agent exited", "session_id", session.ID, "status", session.Status)
}

func (pm *Manager) cleanupLoop() {
	ticker := time.NewTicker(pm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.cleanupExpired()
		}
	}
}

func (pm *Manager) cleanupExpired() {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	cutoff := time.Now().Add(-pm.config.SessionTTL)
	for id, entry := range pm.sessions {
		if entry.session.Status != domain.ProcessStatusRunning && entry.session.EndedAt != nil {
			if entry.session.EndedAt.Before(cutoff) {
				delete(pm.sessions, id)
				pm.logger.Debug("process session expired", "session_id", id)
			}
		}
	}
}

func (pm *Manager) emitEvent(ctx context.Context, eventType domain.EventType, session domain.ProcessSession) {
	if pm.bus == nil {
		return
	}
	pm.bus.Publish(ctx, domain.NewEvent(eventType, pm.parentID, session))
}

func (pm *Manager) newID() string {
	t := time.Now()
	entropy := ulid.Monotonic(rand.New(rand.NewSource(t.UnixNano())), 0)
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}
