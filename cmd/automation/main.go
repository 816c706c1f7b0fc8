// Command automation runs the Automation Worker process: it evaluates
// automation rules against platform events and conversation triggers and
// dispatches the matching actions to their connectors.
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

	"github.com/memoh-platform/convoy/internal/automation"
	"github.com/memoh-platform/convoy/internal/automation/connectors"
	"github.com/memoh-platform/convoy/internal/buildinfo"
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
		Use:   "automation",
		Short: "Run the Automation Worker process",
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
			fmt.Printf("convoy-automation %s\n", buildinfo.Version)
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
			provideEventBus,
			provideCRM,
			provideEmail,
			provideWebhook,
			provideDispatcher,
			provideWorker,
			provideOpsHandler,
			provideServer,
		),
		fx.Invoke(
			startWorker,
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

func provideEventBus(lc fx.Lifecycle, cfg config.Config) (*streams.Stream, error) {
	s, err := streams.Open(context.Background(), cfg.Redis.EventBusURL, "events", "automation-workers")
	if err != nil {
		return nil, fmt.Errorf("open event bus: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideCRM() *connectors.CRM {
	return connectors.NewCRM()
}

func provideEmail(cfg config.Config) *connectors.Email {
	return connectors.NewEmail(cfg.Email)
}

func provideWebhook() *connectors.Webhook {
	return connectors.NewWebhook()
}

func provideDispatcher(st *store.Store, rec *metrics.Recorder, log *slog.Logger, crm *connectors.CRM, email *connectors.Email, webhook *connectors.Webhook) *automation.Dispatcher {
	return automation.NewDispatcher(st, rec, log, crm, email, webhook)
}

func provideWorker(st *store.Store, dispatcher *automation.Dispatcher, eventBus *streams.Stream, log *slog.Logger, cfg config.Config) *automation.Worker {
	return automation.NewWorker(st.AutomationRules, dispatcher, eventBus, log, cfg.Pipeline.AutomationMaxConcurrency)
}

func provideOpsHandler(rec *metrics.Recorder) *server.OpsHandler {
	return server.NewOpsHandler(rec.Handler())
}

func provideServer(log *slog.Logger, cfg config.Config, ops *server.OpsHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Admin.JWTSecret, ops)
}

func startWorker(lc fx.Lifecycle, w *automation.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go w.Run(ctx, "automation-consumer")
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Convoy Automation Worker %s\n", buildinfo.Version)
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
