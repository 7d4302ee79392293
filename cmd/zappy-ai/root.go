package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"zappy-ai/internal/adapter/connection"
	"zappy-ai/internal/domain"
	"zappy-ai/internal/infra/config"
	"zappy-ai/internal/infra/logger"
	"zappy-ai/internal/infra/metrics"
	"zappy-ai/internal/infra/middleware"
	"zappy-ai/internal/infra/tracer"
	"zappy-ai/internal/usecase/engine"
	"zappy-ai/internal/usecase/eventbus"
	"zappy-ai/internal/usecase/player"
	"zappy-ai/internal/usecase/process"
)

type options struct {
	configPath string
	port       int
	team       string
	host       string
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:   "zappy-ai -p port -n name -h machine",
		Short: "Autonomous Zappy team agent",
		Long: `zappy-ai joins a Zappy game as one member of a team and plays on its own:
it survives, gathers stones, coordinates elevations with teammates over
encrypted broadcasts and launches more agents while the team has free slots.`,
		Args: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				return fmt.Errorf("%w: unexpected argument %q", domain.ErrInvalidInput, args[0])
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, opts)
		},
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	})

	f := cmd.Flags()
	// -h selects the host, so help has no shorthand.
	f.Bool("help", false, "help for zappy-ai")
	f.IntVarP(&opts.port, "port", "p", 0, "server port")
	f.StringVarP(&opts.team, "name", "n", "", "team name")
	f.StringVarP(&opts.host, "host", "h", "localhost", "server host")
	f.StringVar(&opts.configPath, "config", "", "path to a YAML configuration file")
	return cmd
}

// loadConfig layers defaults, the config file, ZAPPY_* variables and the
// flags the user actually set, then validates the result.
func loadConfig(cmd *cobra.Command, opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Client.Port = opts.port
	}
	if f.Changed("name") {
		cfg.Client.Team = opts.team
	}
	if f.Changed("host") {
		cfg.Client.Host = opts.host
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	return cfg, nil
}

func run(ctx context.Context, cmd *cobra.Command, opts options) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	agentID := ulid.Make().String()

	log, closeLog, err := logger.New(cfg.Logger, "agent", agentID)
	if err != nil {
		return fmt.Errorf("%w: logger: %w", domain.ErrConfigLoad, err)
	}
	defer closeLog()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("%w: tracer: %w", domain.ErrConfigLoad, err)
	}
	defer shutdownTracer(context.WithoutCancel(ctx))

	bus := eventbus.New(log, eventbus.DefaultMailbox)
	defer bus.Close()
	unsubscribe := bus.SubscribeAll(logEvent(log))
	defer unsubscribe()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		m = metrics.MustNew(reg)
		if cfg.Metrics.Addr != "" {
			go func() {
				err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, log,
					middleware.MethodGuard,
					middleware.SecurityHeaders,
					middleware.RateLimit(ctx, cfg.Metrics.ScrapesPerMin, cfg.Metrics.ScrapeBurst))
				if err != nil {
					log.Error("metrics endpoint failed", "addr", cfg.Metrics.Addr, "error", err)
				}
			}()
		}
	}

	launcher := process.NewManager(process.ConfigFrom(cfg.Launcher), agentID, bus, log)
	defer launcher.Stop()

	conn := connection.NewManager(connection.ConfigFrom(cfg.Client, cfg.Connection), nil, agentID, bus, m, log)
	p := player.New(player.Config{
		Team:            cfg.Client.Team,
		Host:            cfg.Client.Host,
		Port:            cfg.Client.Port,
		Reconnect:       cfg.Connection.Reconnect,
		WaitTimeout:     cfg.Engine.WaitTimeout,
		QueueSize:       cfg.Engine.QueueSize,
		DecodeCacheSize: cfg.Engine.DecodeCacheSize,
		Engine:          engine.ConfigFrom(cfg.Engine),
	}, conn, launcher, agentID, bus, m, log)

	log.Info("starting agent", "team", cfg.Client.Team, "host", cfg.Client.Host, "port", cfg.Client.Port)
	err = p.Run(ctx)
	if err != nil && ctx.Err() == nil {
		log.Info("agent stopped", "code", domain.ErrorCodeOf(err), "error", err)
	}
	return err
}

// logEvent mirrors lifecycle events into the log.
func logEvent(log *slog.Logger) domain.EventHandler {
	return func(ctx context.Context, e domain.Event) {
		level := slog.LevelInfo
		if e.Type == domain.EventConnectionState {
			level = slog.LevelDebug
		}
		log.Log(ctx, level, "event", "type", string(e.Type), "payload", string(e.Payload))
	}
}
