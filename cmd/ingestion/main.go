// Command ingestion runs the Ingestion Worker process: it drains the
// ingest queue, converts and chunks knowledge assets, embeds them, and
// writes the resulting vectors to the retrieval store.
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

	"github.com/memoh-platform/convoy/internal/breaker"
	"github.com/memoh-platform/convoy/internal/buildinfo"
	"github.com/memoh-platform/convoy/internal/config"
	"github.com/memoh-platform/convoy/internal/dbx"
	"github.com/memoh-platform/convoy/internal/embeddings"
	"github.com/memoh-platform/convoy/internal/ingestion"
	"github.com/memoh-platform/convoy/internal/logging"
	"github.com/memoh-platform/convoy/internal/metrics"
	"github.com/memoh-platform/convoy/internal/objectstore"
	"github.com/memoh-platform/convoy/internal/retrieval"
	"github.com/memoh-platform/convoy/internal/server"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "ingestion",
		Short: "Run the Ingestion Worker process",
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
			fmt.Printf("convoy-ingestion %s\n", buildinfo.Version)
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
			provideBreakers,
			provideIngestStream,
			provideObjectStore,
			provideVectorStore,
			provideEmbeddingsResolver,
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

func provideBreakers() *breaker.Registry {
	return breaker.NewRegistry()
}

func provideIngestStream(lc fx.Lifecycle, cfg config.Config) (*streams.Stream, error) {
	s, err := streams.Open(context.Background(), cfg.Redis.IngestQueueURL, "ingest", "ingestion-workers")
	if err != nil {
		return nil, fmt.Errorf("open ingest queue: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideObjectStore(cfg config.Config) (*objectstore.Store, error) {
	st, err := objectstore.New(context.Background(), cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return st, nil
}

func provideVectorStore(cfg config.Config) (*retrieval.VectorStore, error) {
	v, err := retrieval.NewVectorStore(context.Background(), cfg.Qdrant)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return v, nil
}

func provideEmbeddingsResolver(log *slog.Logger, cfg config.Config, breakers *breaker.Registry) *embeddings.Resolver {
	return embeddings.NewResolver(log, cfg.Embeddings, breakers)
}

func provideWorker(queue *streams.Stream, st *store.Store, objects *objectstore.Store, embedder *embeddings.Resolver, vectors *retrieval.VectorStore, rec *metrics.Recorder, log *slog.Logger, cfg config.Config) *ingestion.Worker {
	return ingestion.NewWorker(queue, st, objects, embedder, vectors, rec, log, cfg.Pipeline.IngestMaxAttempts)
}

func provideOpsHandler(rec *metrics.Recorder) *server.OpsHandler {
	return server.NewOpsHandler(rec.Handler())
}

func provideServer(log *slog.Logger, cfg config.Config, ops *server.OpsHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Admin.JWTSecret, ops)
}

func startWorker(lc fx.Lifecycle, w *ingestion.Worker) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go w.Run(ctx, "ingestion-consumer")
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancel()
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Convoy Ingestion Worker %s\n", buildinfo.Version)
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
