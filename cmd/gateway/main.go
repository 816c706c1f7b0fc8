// Command gateway runs the Channel Gateway process: inbound webhook
// termination/normalization for every registered channel adapter, the
// local durable retry buffer, and the outbound delivery worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memoh-platform/convoy/internal/buildinfo"
	"github.com/memoh-platform/convoy/internal/channel"
	"github.com/memoh-platform/convoy/internal/channel/adapters/instagram"
	"github.com/memoh-platform/convoy/internal/channel/adapters/telegram"
	"github.com/memoh-platform/convoy/internal/channel/adapters/web"
	"github.com/memoh-platform/convoy/internal/channel/adapters/whatsapp"
	"github.com/memoh-platform/convoy/internal/config"
	"github.com/memoh-platform/convoy/internal/dbx"
	"github.com/memoh-platform/convoy/internal/logging"
	"github.com/memoh-platform/convoy/internal/metrics"
	"github.com/memoh-platform/convoy/internal/server"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "gateway",
		Short: "Run the Channel Gateway process",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("convoy-gateway %s\n", buildinfo.Version)
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBPool,
			provideStore,
			provideMetrics,
			provideRegistry,
			fx.Annotate(provideRetryBuffer, fx.ResultTags(`name:"retry_buffer"`)),
			fx.Annotate(provideOutboundStream, fx.ResultTags(`name:"outbound_stream"`)),
			provideOrchestratorClient,
			provideGateway,
			provideOutboundWorker,
			provideMetricsHandler,
			provideServer,
		),
		fx.Invoke(
			startGatewayRetryBuffer,
			startOutboundWorker,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logging.Init(cfg.Log.Level, cfg.Log.Format)
	return logging.L
}

func provideDBPool(lc fx.Lifecycle, log *slog.Logger, cfg config.Config) (*dbx.Pool, error) {
	pool, err := dbx.Connect(context.Background(), log, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error {
		pool.Close()
		return nil
	}})
	return pool, nil
}

func provideStore(pool *dbx.Pool) *store.Store {
	return store.New(pool)
}

func provideMetrics() *metrics.Recorder {
	return metrics.New()
}

// provideRegistry registers one adapter per closed channel_type (spec §9
// plugin surfaces). No adapter is seeded from cfg: Telegram, Meta, and web
// adapters all authenticate per-channel from stored credentials.
func provideRegistry(cfg config.Config) *channel.Registry {
	reg := channel.NewRegistry()
	reg.Register(instagram.New())
	reg.Register(whatsapp.New())
	reg.Register(telegram.New())
	reg.Register(web.New())
	return reg
}

func provideRetryBuffer(lc fx.Lifecycle, cfg config.Config) (*streams.Stream, error) {
	s, err := streams.Open(context.Background(), cfg.Gateway.RetryBufferURL, "inbound-retry", "gateway-retry")
	if err != nil {
		return nil, fmt.Errorf("open inbound retry buffer: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideOutboundStream(lc fx.Lifecycle, cfg config.Config) (*streams.Stream, error) {
	s, err := streams.Open(context.Background(), cfg.Redis.OutboundStreamURL, "outbound", "outbound-workers")
	if err != nil {
		return nil, fmt.Errorf("open outbound stream: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideOrchestratorClient(cfg config.Config) *channel.HTTPOrchestratorClient {
	return channel.NewHTTPOrchestratorClient(cfg.Gateway.OrchestratorURL, cfg.RequestDeadline())
}

type gatewayParams struct {
	fx.In

	Registry     *channel.Registry
	Store        *store.Store
	Orchestrator *channel.HTTPOrchestratorClient
	Config       config.Config
	Buffer       *streams.Stream `name:"retry_buffer"`
	Log          *slog.Logger
}

func provideGateway(p gatewayParams) *channel.Gateway {
	return channel.NewGateway(
		p.Registry,
		p.Store.Channels,
		p.Orchestrator,
		p.Config.WebhookAuth.Secrets,
		p.Buffer,
		p.Log,
		uint64(p.Config.Gateway.RetryMaxAttempts),
	)
}

type outboundWorkerParams struct {
	fx.In

	Stream   *streams.Stream `name:"outbound_stream"`
	Registry *channel.Registry
	Store    *store.Store
	Config   config.Config
	Log      *slog.Logger
}

func provideOutboundWorker(p outboundWorkerParams) *channel.OutboundWorker {
	return channel.NewOutboundWorker(
		p.Stream,
		p.Registry,
		p.Store.Channels,
		p.Store.Audit,
		p.Log,
		p.Config.Pipeline.OutboundMaxAttempts,
		p.Config.RequestDeadline(),
	)
}

func provideMetricsHandler(rec *metrics.Recorder) *server.OpsHandler {
	return server.NewOpsHandler(rec.Handler())
}

func provideServer(log *slog.Logger, cfg config.Config, gw *channel.Gateway, ops *server.OpsHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Admin.JWTSecret, gw, ops)
}

func startGatewayRetryBuffer(lc fx.Lifecycle, gw *channel.Gateway) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go gw.RunRetryBuffer(ctx, "gateway-retry-consumer")
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

func startOutboundWorker(lc fx.Lifecycle, w *channel.OutboundWorker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go w.Run(ctx, "gateway-outbound-consumer")
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Convoy Channel Gateway %s\n", buildinfo.Version)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Stop(ctx)
		},
	})
}
