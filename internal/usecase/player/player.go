// Package player runs one agent: it establishes sessions and joins each
// session's I/O task with the decision task.
package player

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"

	"zappy-ai/internal/adapter/codec"
	"zappy-ai/internal/adapter/connection"
	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/metrics"
	"zappy-ai/internal/infra/tracer"
	"zappy-ai/internal/usecase/engine"
)

// Connector establishes sessions. *connection.Manager satisfies it.
type Connector interface {
	Connect(ctx context.Context) (*connection.Session, error)
}

// Launcher starts one more agent process. *process.Manager satisfies it.
type Launcher interface {
	Launch(ctx context.Context, team, host string, port int) (*domain.ProcessSession, error)
}

// Config holds the player settings.
type Config struct {
	Team            string
	Host            string
	Port            int
	Reconnect       bool
	WaitTimeout     time.Duration
	QueueSize       int
	DecodeCacheSize int
	Engine          engine.Config
}

// Player drives one agent for its whole life.
type Player struct {
	cfg      Config
	conn     Connector
	launcher Launcher
	bus      domain.EventBus
	metrics  *metrics.Metrics
	logger   *slog.Logger
	agentID  string
	level    int
}

// New creates a Player. launcher, bus and m may be nil. A zero sender id in
// cfg.Engine is replaced with a random one.
func New(cfg Config, conn Connector, launcher Launcher, agentID string, bus domain.EventBus, m *metrics.Metrics, logger *slog.Logger) *Player {
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = 100 * time.Millisecond
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.Engine.SenderID == 0 {
		cfg.Engine.SenderID = 1 + rand.IntN(1<<30)
	}
	return &Player{
		cfg:      cfg,
		conn:     conn,
		launcher: launcher,
		bus:      bus,
		metrics:  m,
		logger:   logger,
		agentID:  agentID,
		level:    1,
	}
}

// Run plays until the agent dies, ctx is cancelled or the connection cannot
// be (re)established. Death is reported as domain.ErrDead.
func (p *Player) Run(ctx context.Context) error {
	for {
		sess, err := p.conn.Connect(ctx)
		if err != nil {
			return err
		}

		err = p.play(ctx, sess)
		switch {
		case errors.Is(err, domain.ErrDead):
			p.logger.Info("agent died", "level", p.level)
			p.publish(ctx, domain.EventAgentDead, domain.LevelPayload{Level: p.level})
			return err
		case ctx.Err() != nil:
			return ctx.Err()
		case err == nil:
			return nil
		case p.cfg.Reconnect && domain.IsRetryableError(err):
			p.logger.Warn("session lost, reconnecting",
				"host", p.cfg.Host, "port", p.cfg.Port, "code", domain.ErrorCodeOf(err), "error", err)
		default:
			return err
		}
	}
}

// play runs one session with a fresh engine.
func (p *Player) play(ctx context.Context, sess *connection.Session) (err error) {
	ctx, span := tracer.StartSpan(ctx, "player.session")
	defer span.End()
	defer func() {
		if err != nil && !errors.Is(err, domain.ErrDead) {
			tracer.RecordError(span, err)
		} else {
			tracer.SetOK(span)
		}
	}()

	cipher, err := codec.NewCipher(p.cfg.Team, p.cfg.DecodeCacheSize)
	if err != nil {
		sess.Close()
		return err
	}
	p.level = 1
	eng := engine.New(p.cfg.Engine, sess.Info, cipher, nil, p.metrics, p.logger)

	replies := make(chan domain.CorrelatedReply, p.cfg.QueueSize)
	broadcasts := make(chan domain.BroadcastEnvelope, p.cfg.QueueSize)
	outbound := make(chan domain.Command, p.cfg.QueueSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sess.Serve(gctx, connection.Queues{Replies: replies, Broadcasts: broadcasts, Outbound: outbound})
	})
	g.Go(func() error {
		return p.decide(gctx, eng, replies, broadcasts, outbound)
	})
	return g.Wait()
}

// decide is the decision task. It steps the engine once every command of
// the previous batch has been handed over and answered. Staged commands are
// offered to the session in the same select that drains replies and
// broadcasts, so the I/O task never waits on a blocked decision task and no
// wait outlasts WaitTimeout without re-checking ctx.
func (p *Player) decide(ctx context.Context, eng *engine.Engine, replies <-chan domain.CorrelatedReply,
	broadcasts <-chan domain.BroadcastEnvelope, outbound chan<- domain.Command) error {
	tick := time.NewTicker(p.cfg.WaitTimeout)
	defer tick.Stop()

	var (
		staged      []domain.Command
		outstanding int
		gotReplies  []domain.CorrelatedReply
		gotHeard    []domain.BroadcastEnvelope
	)
	for {
		if outstanding == 0 && len(staged) == 0 {
			d := eng.Step(time.Now(), gotReplies, gotHeard)
			gotReplies, gotHeard = nil, nil
			p.report(ctx, d)
			staged = d.Commands
			if d.Spawn {
				p.spawn(ctx)
			}
		}

		var (
			out  chan<- domain.Command
			next domain.Command
		)
		if len(staged) > 0 {
			out, next = outbound, staged[0]
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- next:
			staged = staged[1:]
			outstanding++
		case r := <-replies:
			gotReplies = append(gotReplies, r)
			if r.Answered && !r.Unsolicited {
				outstanding = max(outstanding-1, 0)
			}
		case b := <-broadcasts:
			gotHeard = append(gotHeard, b)
		case <-tick.C:
		}
	}
}

func (p *Player) report(ctx context.Context, d engine.Decision) {
	p.logger.Debug("decision", "state", d.State.String(), "commands", len(d.Commands), "level", d.Level)
	if d.LevelUp {
		p.level = d.Level
		p.publish(ctx, domain.EventAgentLevel, domain.LevelPayload{Level: d.Level})
	}
	if d.Loop != nil {
		p.publish(ctx, domain.EventAgentLoop, domain.LoopPayload{Pattern: d.Loop.Pattern, Escape: d.Loop.Escape.Name})
	}
}

func (p *Player) spawn(ctx context.Context) {
	if p.launcher == nil {
		return
	}
	s, err := p.launcher.Launch(ctx, p.cfg.Team, p.cfg.Host, p.cfg.Port)
	if err != nil {
		p.metrics.IncSpawn(string(domain.ErrorCodeOf(err)))
		p.logger.Warn("could not launch teammate", "code", domain.ErrorCodeOf(err), "error", err)
		return
	}
	p.metrics.IncSpawn("ok")
	p.logger.Info("teammate launched", "session_id", s.ID, "pid", s.PID)
}

func (p *Player) publish(ctx context.Context, t domain.EventType, payload any) {
	if p.bus != nil {
		p.bus.Publish(ctx, domain.NewEvent(t, p.agentID, payload))
	}
}
