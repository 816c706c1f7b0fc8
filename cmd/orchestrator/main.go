// Command orchestrator runs the Orchestrator process: the synchronous
// inbound pipeline the Channel Gateway calls, the admin management surface,
// and the outbound delivery stream publisher.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/memoh-platform/convoy/internal/breaker"
	"github.com/memoh-platform/convoy/internal/buildinfo"
	"github.com/memoh-platform/convoy/internal/config"
	"github.com/memoh-platform/convoy/internal/dbx"
	"github.com/memoh-platform/convoy/internal/embeddings"
	"github.com/memoh-platform/convoy/internal/guardrails"
	"github.com/memoh-platform/convoy/internal/llm"
	"github.com/memoh-platform/convoy/internal/logging"
	"github.com/memoh-platform/convoy/internal/metrics"
	"github.com/memoh-platform/convoy/internal/objectstore"
	"github.com/memoh-platform/convoy/internal/orchestrator"
	"github.com/memoh-platform/convoy/internal/policy"
	"github.com/memoh-platform/convoy/internal/retrieval"
	"github.com/memoh-platform/convoy/internal/server"
	"github.com/memoh-platform/convoy/internal/store"
	"github.com/memoh-platform/convoy/internal/streams"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Run the Orchestrator process",
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.toml")

	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := provideConfig()
			if err != nil {
				return err
			}
			logging.Init(cfg.Log.Level, cfg.Log.Format)
			if err := dbx.Migrate(cfg.Postgres.DSN()); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			logging.L.Info("migrations applied")
			return nil
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("convoy-orchestrator %s\n", buildinfo.Version)
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
			fx.Annotate(provideOutboundStream, fx.ResultTags(`name:"outbound_stream"`)),
			fx.Annotate(provideIngestStream, fx.ResultTags(`name:"ingest_stream"`)),
			provideDedupRedis,
			provideDedup,
			providePolicyCache,
			provideVectorStore,
			provideBudgetSelector,
			provideEmbeddingsResolver,
			provideAnthropicClient,
			provideBedrockClient,
			provideLLMClient,
			provideGuardrails,
			provideObjectStore,
			providePipeline,
			provideAdminHandler,
			provideOrchestratorHandler,
			provideMetricsHandler,
			provideServer,
		),
		fx.Invoke(startServer),
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

func provideOutboundStream(lc fx.Lifecycle, cfg config.Config) (*streams.Stream, error) {
	s, err := streams.Open(context.Background(), cfg.Redis.OutboundStreamURL, "outbound", "outbound-workers")
	if err != nil {
		return nil, fmt.Errorf("open outbound stream: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideIngestStream(lc fx.Lifecycle, cfg config.Config) (*streams.Stream, error) {
	s, err := streams.Open(context.Background(), cfg.Redis.IngestQueueURL, "ingest", "ingestion-workers")
	if err != nil {
		return nil, fmt.Errorf("open ingest queue: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return s.Close() }})
	return s, nil
}

func provideDedupRedis(lc fx.Lifecycle, cfg config.Config) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: cfg.Redis.DedupStoreURL})
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { return client.Close() }})
	return client
}

func provideDedup(client *redis.Client) *orchestrator.Dedup {
	return orchestrator.NewDedup(client)
}

func providePolicyCache(st *store.Store) *policy.Cache {
	return policy.NewCache(st.Policies)
}

func provideVectorStore(cfg config.Config) (*retrieval.VectorStore, error) {
	v, err := retrieval.NewVectorStore(context.Background(), cfg.Qdrant)
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	return v, nil
}

func provideBudgetSelector() (*retrieval.BudgetSelector, error) {
	return retrieval.NewBudgetSelector()
}

func provideEmbeddingsResolver(log *slog.Logger, cfg config.Config, breakers *breaker.Registry) *embeddings.Resolver {
	return embeddings.NewResolver(log, cfg.Embeddings, breakers)
}

func provideAnthropicClient(cfg config.Config) *llm.AnthropicClient {
	return llm.NewAnthropicClient(cfg.LLM.APIKey, cfg.LLM.Model)
}

func provideBedrockClient(cfg config.Config) (*llm.BedrockClient, error) {
	region := cfg.ObjectStore.Region
	if region == "" {
		region = "us-east-1"
	}
	return llm.NewBedrockClient(context.Background(), region, cfg.LLM.FallbackModel)
}

func provideLLMClient(primary *llm.AnthropicClient, fallback *llm.BedrockClient, breakers *breaker.Registry, log *slog.Logger) *llm.FallbackClient {
	return llm.NewFallbackClient(primary, fallback, breakers, log)
}

func provideGuardrails() *guardrails.Evaluator {
	return guardrails.NewEvaluator()
}

func provideObjectStore(cfg config.Config) (*objectstore.Store, error) {
	st, err := objectstore.New(context.Background(), cfg.ObjectStore)
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}
	return st, nil
}

type pipelineParams struct {
	fx.In

	Store      *store.Store
	Policies   *policy.Cache
	Vectors    *retrieval.VectorStore
	Budget     *retrieval.BudgetSelector
	Embeddings *embeddings.Resolver
	LLM        *llm.FallbackClient
	Guardrails *guardrails.Evaluator
	Outbound   *streams.Stream `name:"outbound_stream"`
	Dedup      *orchestrator.Dedup
	Metrics    *metrics.Recorder
	Config     config.Config
	Log        *slog.Logger
}

func providePipeline(p pipelineParams) *orchestrator.Pipeline {
	return orchestrator.NewPipeline(orchestrator.Deps{
		Store:      p.Store,
		Policies:   p.Policies,
		Vectors:    p.Vectors,
		Budget:     p.Budget,
		Embeddings: p.Embeddings,
		LLM:        p.LLM,
		Guardrails: p.Guardrails,
		Outbound:   p.Outbound,
		Dedup:      p.Dedup,
		Metrics:    p.Metrics,
		Config:     p.Config,
		Log:        p.Log,
	})
}

type adminHandlerParams struct {
	fx.In

	Store     *store.Store
	Objects   *objectstore.Store
	IngestQ   *streams.Stream `name:"ingest_stream"`
	Policies  *policy.Cache
}

func provideAdminHandler(p adminHandlerParams) *orchestrator.AdminHandler {
	return orchestrator.NewAdminHandler(p.Store, p.Objects, p.IngestQ, p.Policies)
}

func provideOrchestratorHandler(pipeline *orchestrator.Pipeline, admin *orchestrator.AdminHandler) *orchestrator.Handler {
	return orchestrator.NewHandler(pipeline, admin)
}

func provideMetricsHandler(rec *metrics.Recorder) *server.MetricsHandler {
	return server.NewMetricsHandler(rec.Handler())
}

func provideServer(log *slog.Logger, cfg config.Config, h *orchestrator.Handler, m *server.MetricsHandler) *server.Server {
	return server.NewServer(log, cfg.Server.Addr, cfg.Admin.JWTSecret, h, m)
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	fmt.Printf("Starting Convoy Orchestrator %s\n", buildinfo.Version)
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
