// Package connection owns the TCP link to the game server: bounded connect
// attempts with handshake, then the session I/O loop.
package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"zappy-ai/internal/adapter/wire"
	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/config"
	"zappy-ai/internal/infra/metrics"
	"zappy-ai/internal/infra/tracer"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateHandshaking
	StateActive
	StateClosing
)

var stateNames = [...]string{"disconnected", "connecting", "handshaking", "active", "closing"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Dialer opens the raw transport. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds everything the Manager and its sessions need.
type Config struct {
	Team             string
	Host             string
	Port             int
	MaxAttempts      int
	RetryDelay       time.Duration
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	LivenessTimeout  time.Duration
	MaxInFlight      int
	SendRate         float64
	SendBurst        int
	Wire             wire.Options
}

// ConfigFrom assembles a Config from the loaded configuration sections.
func ConfigFrom(client config.ClientConfig, c config.ConnectionConfig) Config {
	return Config{
		Team:             client.Team,
		Host:             client.Host,
		Port:             client.Port,
		MaxAttempts:      c.MaxAttempts,
		RetryDelay:       c.RetryDelay,
		DialTimeout:      c.DialTimeout,
		HandshakeTimeout: c.HandshakeTimeout,
		LivenessTimeout:  c.LivenessTimeout,
		MaxInFlight:      c.MaxInFlight,
		SendRate:         c.SendRate,
		SendBurst:        c.SendBurst,
		Wire: wire.Options{
			MaxBuffer:    c.MaxBufferBytes,
			ReadChunk:    c.ReadChunkBytes,
			ReadTimeout:  c.ReadTimeout,
			WriteTimeout: c.WriteTimeout,
		},
	}
}

func (c Config) addr() string { return net.JoinHostPort(c.Host, strconv.Itoa(c.Port)) }

// Manager establishes sessions. It allows one connect attempt at a time.
type Manager struct {
	cfg     Config
	dialer  Dialer
	bus     domain.EventBus
	metrics *metrics.Metrics
	logger  *slog.Logger
	agentID string

	connectMu sync.Mutex
	state     atomic.Int32
}

// NewManager creates a Manager. bus and m may be nil.
func NewManager(cfg Config, dialer Dialer, agentID string, bus domain.EventBus, m *metrics.Metrics, logger *slog.Logger) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = 10
	}
	if cfg.LivenessTimeout <= 0 {
		cfg.LivenessTimeout = 30 * time.Second
	}
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		bus:     bus,
		metrics: m,
		logger:  logger,
		agentID: agentID,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State { return State(m.state.Load()) }

func (m *Manager) setState(ctx context.Context, s State) {
	if State(m.state.Swap(int32(s))) == s {
		return
	}
	m.logger.Debug("connection state", "state", s.String())
	if m.bus != nil {
		m.bus.Publish(ctx, domain.NewEvent(domain.EventConnectionState, m.agentID, domain.ConnectionStatePayload{
			State: s.String(),
			Host:  m.cfg.Host,
			Port:  m.cfg.Port,
		}))
	}
}

// Connect dials and handshakes until it succeeds or MaxAttempts consecutive
// attempts have failed, waiting RetryDelay between attempts. Exhaustion is
// reported as ErrAttemptsExhausted wrapping the last attempt's error.
func (m *Manager) Connect(ctx context.Context) (*Session, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	maxAttempts := uint32(m.cfg.MaxAttempts)
	cb := gobreaker.NewCircuitBreaker[*Session](gobreaker.Settings{
		Name:        "connect:" + m.cfg.addr(),
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxAttempts
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Debug("connect breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil
		},
	})

	var lastErr error
	attempt := 0
	for {
		attempt++
		sess, err := cb.Execute(func() (*Session, error) {
			return m.attempt(ctx, attempt)
		})
		if err == nil {
			m.metrics.IncConnectAttempt("ok")
			return sess, nil
		}
		if ctx.Err() != nil {
			m.setState(ctx, StateDisconnected)
			return nil, ctx.Err()
		}
		lastErr = err
		m.metrics.IncConnectAttempt(string(domain.ErrorCodeOf(err)))
		m.logger.Warn("connection attempt failed",
			"host", m.cfg.Host, "port", m.cfg.Port,
			"attempt", attempt, "max_attempts", m.cfg.MaxAttempts,
			"code", domain.ErrorCodeOf(err), "error", err)

		if cb.State() == gobreaker.StateOpen {
			break
		}
		if err := sleepCtx(ctx, m.cfg.RetryDelay); err != nil {
			m.setState(ctx, StateDisconnected)
			return nil, err
		}
	}

	m.setState(ctx, StateDisconnected)
	m.logger.Error("giving up on server", "host", m.cfg.Host, "port", m.cfg.Port, "attempts", attempt)
	return nil, fmt.Errorf("%w: %s after %d attempts: %w", domain.ErrAttemptsExhausted, m.cfg.addr(), attempt, lastErr)
}

// attempt performs one dial and handshake.
func (m *Manager) attempt(ctx context.Context, n int) (sess *Session, err error) {
	ctx, span := tracer.StartSpan(ctx, "connection.connect")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("host", m.cfg.Host),
		tracer.IntAttr("port", m.cfg.Port),
		tracer.IntAttr("attempt", n),
	)
	defer func() {
		if err != nil {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
	}()

	m.setState(ctx, StateConnecting)
	dialCtx := ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}
	raw, err := m.dialer.DialContext(dialCtx, "tcp", m.cfg.addr())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, domain.NewDomainError("Connection.Dial", domain.ErrConnectionRefused, err.Error())
	}

	m.setState(ctx, StateHandshaking)
	lc := wire.NewLineConn(raw, m.cfg.Wire, m.logger)
	hsCtx := ctx
	if m.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		hsCtx, cancel = context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
		defer cancel()
	}
	info, err := wire.Handshake(hsCtx, lc, m.cfg.Team)
	if err != nil {
		lc.Close()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	m.setState(ctx, StateActive)
	m.logger.Info("session established",
		"host", m.cfg.Host, "port", m.cfg.Port, "team", m.cfg.Team,
		"slots", info.Slots, "width", info.Width, "height", info.Height)
	if m.bus != nil {
		m.bus.Publish(ctx, domain.NewEvent(domain.EventSessionEstablished, m.agentID, domain.SessionPayload{
			Team: m.cfg.Team, Slots: info.Slots, Width: info.Width, Height: info.Height,
		}))
	}
	return newSession(m, lc, info), nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsFatal reports whether err ends the client rather than just the session.
func IsFatal(err error) bool {
	return errors.Is(err, domain.ErrDead) || errors.Is(err, domain.ErrAttemptsExhausted)
}
