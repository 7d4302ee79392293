package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"zappy-ai/internal/adapter/wire"
	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/metrics"
	"zappy-ai/internal/usecase/correlator"
)

// Queues connects a Session to the decision task.
type Queues struct {
	Replies    chan<- domain.CorrelatedReply
	Broadcasts chan<- domain.BroadcastEnvelope
	Outbound   <-chan domain.Command
}

type inbound struct {
	line string
	err  error
}

// Session is one established connection. Serve owns it until it returns.
type Session struct {
	Info domain.SessionInfo

	manager *Manager
	conn    *wire.LineConn
	corr    *correlator.Correlator
	limiter *rate.Limiter
	metrics *metrics.Metrics
	logger  *slog.Logger

	probing bool
}

func newSession(m *Manager, lc *wire.LineConn, info domain.SessionInfo) *Session {
	s := &Session{
		Info:    info,
		manager: m,
		conn:    lc,
		corr:    correlator.New(m.logger),
		metrics: m.metrics,
		logger:  m.logger,
	}
	if m.cfg.SendRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(m.cfg.SendRate), max(m.cfg.SendBurst, 1))
	}
	return s
}

// Close closes the transport without serving.
func (s *Session) Close() error { return s.conn.Close() }

// Serve runs the session I/O loop: it writes commands from q.Outbound while
// fewer than MaxInFlight are unanswered, classifies every received line and
// forwards replies and broadcasts. It returns ErrDead when the server
// reports death, ErrPeerClosed or another I/O error when the link fails,
// ErrTimeout when the liveness probe goes unanswered, or ctx's error.
func (s *Session) Serve(ctx context.Context, q Queues) error {
	ctx, cancel := context.WithCancel(ctx)
	lines := make(chan inbound, 64)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.readLoop(ctx, lines)
	}()

	err := s.loop(ctx, q, lines)

	s.manager.setState(ctx, StateClosing)
	cancel()
	s.conn.Close()
	wg.Wait()
	s.manager.setState(context.WithoutCancel(ctx), StateDisconnected)
	s.metrics.SetInFlight(0)
	return err
}

func (s *Session) loop(ctx context.Context, q Queues, lines <-chan inbound) error {
	cfg := s.manager.cfg
	interval := cfg.Wire.ReadTimeout
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		var outbound <-chan domain.Command
		if s.corr.InFlight() < cfg.MaxInFlight {
			outbound = q.Outbound
		}

		select {
		case <-ctx.Done():
			return ctx.Err()

		case in := <-lines:
			if in.err != nil {
				return in.err
			}
			if err := s.dispatch(ctx, in.line, q); err != nil {
				return err
			}

		case cmd, ok := <-outbound:
			if !ok {
				return nil
			}
			if s.limiter != nil {
				if err := s.limiter.Wait(ctx); err != nil {
					return err
				}
			}
			if err := s.send(cmd, false); err != nil {
				return err
			}

		case <-tick.C:
			if err := s.checkLiveness(); err != nil {
				return err
			}
		}
	}
}

// readLoop is the only reader of the connection after the handshake.
func (s *Session) readLoop(ctx context.Context, out chan<- inbound) {
	emit := func(in inbound) bool {
		select {
		case out <- in:
			return true
		case <-ctx.Done():
			return false
		}
	}
	for {
		for {
			line, ok := s.conn.PopLine()
			if !ok {
				break
			}
			if !emit(inbound{line: line}) {
				return
			}
		}
		if ctx.Err() != nil {
			return
		}
		if _, err := s.conn.Fill(); err != nil {
			// Lines framed before the failure are delivered first.
			for {
				line, ok := s.conn.PopLine()
				if !ok {
					break
				}
				if !emit(inbound{line: line}) {
					return
				}
			}
			emit(inbound{err: err})
			return
		}
	}
}

func (s *Session) send(cmd domain.Command, probe bool) error {
	s.corr.Track(cmd, probe)
	if err := s.conn.WriteLine(cmd.String()); err != nil {
		return err
	}
	s.metrics.IncCommandSent(cmd.Name)
	s.metrics.SetInFlight(s.corr.InFlight())
	return nil
}

func (s *Session) dispatch(ctx context.Context, line string, q Queues) error {
	s.probing = false
	out := s.corr.Classify(line)
	s.metrics.IncLine(out.Kind.String())
	s.metrics.SetInFlight(s.corr.InFlight())

	switch out.Kind {
	case correlator.KindBroadcast:
		select {
		case q.Broadcasts <- out.Broadcast:
		case <-ctx.Done():
			return ctx.Err()
		}
		return nil
	case correlator.KindDead:
		s.logger.Info("server reported death")
		return domain.NewDomainError("Session.Serve", domain.ErrDead, "server sent dead")
	case correlator.KindDiscarded:
		return nil
	case correlator.KindReply:
		if out.Probe {
			s.logger.Debug("liveness probe answered", "reply", line)
			return nil
		}
	}

	select {
	case q.Replies <- out.Reply:
	case <-ctx.Done():
		return ctx.Err()
	}
	return nil
}

// checkLiveness sends one probe after LivenessTimeout of silence and gives
// up after a second LivenessTimeout.
func (s *Session) checkLiveness() error {
	timeout := s.manager.cfg.LivenessTimeout
	idle := time.Since(s.conn.LastActivity())
	if idle < timeout {
		return nil
	}
	if s.probing {
		return domain.NewSubSystemError("connection", "Session.Liveness", domain.ErrTimeout,
			fmt.Sprintf("no traffic for %s after probe", idle.Round(time.Millisecond)))
	}
	s.logger.Debug("connection idle, probing", "idle", idle.Round(time.Millisecond))
	s.probing = true
	return s.send(domain.NewCommand(domain.CmdConnectNbr), true)
}
