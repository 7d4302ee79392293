package process

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"zappy-ai/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingBus captures published events for assertions.
type recordingBus struct {
	mu     sync.Mutex
	events []domain.Event
}

func (b *recordingBus) Publish(_ context.Context, evt domain.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, evt)
}

func (b *recordingBus) Subscribe(domain.EventType, domain.EventHandler) func() { return func() {} }
func (b *recordingBus) SubscribeAll(domain.EventHandler) func()               { return func() {} }
func (b *recordingBus) Close()                                                {}

func (b *recordingBus) Events() []domain.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]domain.Event, len(b.events))
	copy(cp, b.events)
	return cp
}

func newTestManager(t *testing.T, cfg ManagerConfig, bus domain.EventBus) *Manager {
	t.Helper()
	cfg.Enabled = true
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = 5
	}
	cfg.CleanupInterval = time.Hour // don't auto-cleanup during tests
	pm := NewManager(cfg, "parent-1", bus, newTestLogger())
	t.Cleanup(func() {
		pm.Stop()
		killAll(pm)
	})
	return pm
}

func skipOnWindows(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestManagerStartCompletes(t *testing.T) {
	skipOnWindows(t)
	pm := newTestManager(t, ManagerConfig{}, nil)

	session, err := pm.Start(context.Background(), "sh", []string{"-c", "exit 0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if session.ID == "" || session.PID == 0 {
		t.Errorf("session = %+v, want ID and PID", session)
	}
	if session.Status != domain.ProcessStatusRunning {
		t.Errorf("status = %q, want %q", session.Status, domain.ProcessStatusRunning)
	}
	if session.ParentID != "parent-1" {
		t.Errorf("parent = %q", session.ParentID)
	}

	got := waitForSession(t, pm, session.ID, 2*time.Second)
	if got.Status != domain.ProcessStatusCompleted {
		t.Errorf("status = %q, want completed", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 0 {
		t.Errorf("exit code = %v, want 0", got.ExitCode)
	}
}

func TestManagerFailedExitCode(t *testing.T) {
	skipOnWindows(t)
	pm := newTestManager(t, ManagerConfig{}, nil)

	session, err := pm.Start(context.Background(), "sh", []string{"-c", "exit 3"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	got := waitForSession(t, pm, session.ID, 2*time.Second)
	if got.Status != domain.ProcessStatusFailed {
		t.Errorf("status = %q, want failed", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != 3 {
		t.Errorf("exit code = %v, want 3", got.ExitCode)
	}
}

func TestManagerMaxSessions(t *testing.T) {
	skipOnWindows(t)
	pm := newTestManager(t, ManagerConfig{MaxSessions: 2}, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := pm.Start(ctx, "sleep", []string{"10"}); err != nil {
			t.Fatalf("Start[%d]: %v", i, err)
		}
	}
	_, err := pm.Start(ctx, "sleep", []string{"10"})
	if !errors.Is(err, domain.ErrLimitReached) {
		t.Fatalf("err = %v, want ErrLimitReached", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeLauncherMaxSession {
		t.Errorf("code = %q, want %q", code, domain.CodeLauncherMaxSession)
	}
	if n := pm.Running(); n != 2 {
		t.Errorf("Running() = %d, want 2", n)
	}
}

func TestManagerLaunchDisabled(t *testing.T) {
	pm := NewManager(ManagerConfig{}, "", nil, newTestLogger())
	defer pm.Stop()

	_, err := pm.Launch(context.Background(), "red", "localhost", 4242)
	if !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("err = %v, want ErrInvalidInput", err)
	}
	if code := domain.ErrorCodeOf(err); code != domain.CodeLauncherDisabled {
		t.Errorf("code = %q, want %q", code, domain.CodeLauncherDisabled)
	}
}

func TestManagerLaunchPassesConnectionFlags(t *testing.T) {
	skipOnWindows(t)
	dir := t.TempDir()
	script := filepath.Join(dir, "agent.sh")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho \"$@\"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	logDir := filepath.Join(dir, "logs")
	pm := newTestManager(t, ManagerConfig{Executable: script, LogDir: logDir}, nil)

	session, err := pm.Launch(context.Background(), "red", "example.org", 4242)
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	waitForSession(t, pm, session.ID, 2*time.Second)

	if session.LogPath != filepath.Join(logDir, session.ID+".log") {
		t.Errorf("log path = %q", session.LogPath)
	}
	out, err := os.ReadFile(session.LogPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if got := strings.TrimSpace(string(out)); got != "-p 4242 -n red -h example.org" {
		t.Errorf("child args = %q", got)
	}
}

func TestManagerEvents(t *testing.T) {
	skipOnWindows(t)
	bus := &recordingBus{}
	pm := newTestManager(t, ManagerConfig{}, bus)

	session, err := pm.Start(context.Background(), "sh", []string{"-c", "exit 0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForSession(t, pm, session.ID, 2*time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for len(bus.Events()) < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	events := bus.Events()
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Type != domain.EventProcessStarted || events[1].Type != domain.EventProcessCompleted {
		t.Errorf("event types = %q, %q", events[0].Type, events[1].Type)
	}
	if events[0].SessionID != "parent-1" {
		t.Errorf("event session = %q, want parent-1", events[0].SessionID)
	}
	if !strings.Contains(string(events[0].Payload), session.ID) {
		t.Errorf("payload %s does not name the session", events[0].Payload)
	}
}

func TestManagerStopLeavesChildrenRunning(t *testing.T) {
	skipOnWindows(t)
	pm := newTestManager(t, ManagerConfig{}, nil)

	if _, err := pm.Start(context.Background(), "sleep", []string{"10"}); err != nil {
		t.Fatalf("Start: %v", err)
	}
	pm.Stop()
	pm.Stop()
	if n := pm.Running(); n != 1 {
		t.Errorf("Running() after Stop = %d, want 1", n)
	}
}

func TestManagerCleanupExpired(t *testing.T) {
	skipOnWindows(t)
	pm := newTestManager(t, ManagerConfig{SessionTTL: time.Millisecond}, nil)

	session, err := pm.Start(context.Background(), "sh", []string{"-c", "exit 0"})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitForSession(t, pm, session.ID, 2*time.Second)
	time.Sleep(5 * time.Millisecond)

	pm.cleanupExpired()
	if n := len(pm.List()); n != 0 {
		t.Errorf("List() after cleanup = %d sessions, want 0", n)
	}
}

func killAll(pm *Manager) {
	pm.mu.Lock()
	var running []*processEntry
	for _, e := range pm.sessions {
		if e.session.Status == domain.ProcessStatusRunning {
			running = append(running, e)
		}
	}
	pm.mu.Unlock()
	for _, e := range running {
		e.cmd.Process.Kill()
		<-e.done
	}
}

func waitForSession(t *testing.T, pm *Manager, sessionID string, timeout time.Duration) domain.ProcessSession {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for session %s to complete", sessionID)
		default:
			pm.mu.Lock()
			entry, ok := pm.sessions[sessionID]
			if ok && entry.session.Status != domain.ProcessStatusRunning {
				s := entry.session
				pm.mu.Unlock()
				return s
			}
			pm.mu.Unlock()
			time.Sleep(20 * time.Millisecond)
		}
	}
}
