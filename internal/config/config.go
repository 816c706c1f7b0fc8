// Package config loads and validates process configuration from a TOML file,
// falling back to documented defaults and environment overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath          = "config.toml"
	DefaultHTTPAddr            = ":8080"
	DefaultMetricsAddr         = ":9090"
	DefaultPGHost              = "127.0.0.1"
	DefaultPGPort              = 5432
	DefaultPGUser              = "postgres"
	DefaultPGDatabase          = "convoy"
	DefaultPGSSLMode           = "disable"
	DefaultPGPoolSize          = 10
	DefaultRedisAddr           = "127.0.0.1:6379"
	DefaultQdrantURL           = "http://127.0.0.1:6334"
	DefaultQdrantCollection    = "knowledge"
	DefaultRequestDeadlineMs   = 30000
	DefaultOutboundMaxAttempts = 5
	DefaultIngestMaxAttempts   = 5
	DefaultAutomationConc      = 4
	DefaultJWTExpiresIn        = "24h"
	DefaultDrainDeadline       = 30 * time.Second
)

var channelTypes = []string{"instagram", "whatsapp", "telegram", "web"}

// Config is the root configuration document, loaded once at process start.
type Config struct {
	Log         LogConfig         `toml:"log"`
	Server      ServerConfig      `toml:"server"`
	Admin       AdminConfig       `toml:"admin" validate:"required"`
	Postgres    PostgresConfig    `toml:"postgres"`
	Redis       RedisConfig       `toml:"redis"`
	ObjectStore ObjectStoreConfig `toml:"object_store" validate:"required"`
	Qdrant      QdrantConfig      `toml:"qdrant"`
	LLM         LLMConfig         `toml:"llm"`
	Embeddings  EmbeddingsConfig  `toml:"embeddings"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	WebhookAuth WebhookAuthConfig `toml:"webhook_auth"`
	Email       EmailConfig       `toml:"email"`
	Telegram    TelegramConfig    `toml:"telegram"`
	Gateway     GatewayConfig     `toml:"gateway"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr        string `toml:"addr"`
	MetricsAddr string `toml:"metrics_addr"`
}

// AdminConfig carries the admin JWT signing material used to mint and verify
// `platform_admin`/`tenant_operator` scoped tokens for the /admin/* surface.
type AdminConfig struct {
	JWTSecret    string `toml:"jwt_secret" validate:"required"`
	JWTIssuer    string `toml:"jwt_issuer"`
	JWTAudience  string `toml:"jwt_audience"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	URL      string `toml:"url"`
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
	PoolSize int    `toml:"pool_size"`
}

// DSN returns the connection string, preferring an explicit DB_URL.
func (p PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisConfig names the Redis endpoints: the three streams used through
// internal/streams — outbound delivery, ingestion jobs, and the
// cross-component event bus — plus the key/value store behind the
// Orchestrator's event_id dedup. They may point at the same instance or
// distinct ones depending on deployment topology.
type RedisConfig struct {
	OutboundStreamURL string `toml:"outbound_stream_url"`
	IngestQueueURL    string `toml:"ingest_queue_url"`
	EventBusURL       string `toml:"event_bus_url"`
	DedupStoreURL     string `toml:"dedup_store_url"`
}

type ObjectStoreConfig struct {
	Endpoint  string `toml:"endpoint"`
	Bucket    string `toml:"bucket" validate:"required"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Region    string `toml:"region"`
}

type QdrantConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	Collection     string `toml:"collection"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type LLMConfig struct {
	ProviderURL   string `toml:"provider_url"`
	APIKey        string `toml:"api_key"`
	Model         string `toml:"model"`
	FallbackModel string `toml:"fallback_model"`
}

type EmbeddingsConfig struct {
	Provider string `toml:"provider" validate:"omitempty,oneof=primary fallback"`
	APIKey   string `toml:"api_key"`
}

// PipelineConfig holds the cross-component tunables named in the external
// interfaces section: request deadlines, pool sizing, and retry ceilings.
type PipelineConfig struct {
	RequestDeadlineMs        int `toml:"request_deadline_ms"`
	DBPoolSize               int `toml:"db_pool_size"`
	OutboundMaxAttempts      int `toml:"outbound_max_attempts"`
	IngestMaxAttempts        int `toml:"ingest_max_attempts"`
	AutomationMaxConcurrency int `toml:"automation_max_concurrency_per_tenant"`
}

// WebhookAuthConfig carries the rotation-aware secret set per channel type.
// Each list is ordered newest-first; verification accepts any secret in the
// list so a secret can be added and the old one removed after its grace
// window without a verification gap.
type WebhookAuthConfig struct {
	Secrets map[string][]string `toml:"secrets"`
}

type EmailConfig struct {
	MailgunDomain string `toml:"mailgun_domain"`
	MailgunAPIKey string `toml:"mailgun_api_key"`
	FromAddress   string `toml:"from_address"`
}

type TelegramConfig struct {
	BotToken string `toml:"bot_token"`
}

// GatewayConfig is read only by cmd/gateway: where to forward normalized
// inbound messages, and which Redis-backed stream to use for the local
// durable retry buffer when that forward fails transiently (spec §4.1).
type GatewayConfig struct {
	OrchestratorURL  string `toml:"orchestrator_url"`
	RetryBufferURL   string `toml:"retry_buffer_url"`
	RetryMaxAttempts int    `toml:"retry_max_attempts"`
}

// RequestDeadline returns the configured per-request deadline.
func (c Config) RequestDeadline() time.Duration {
	ms := c.Pipeline.RequestDeadlineMs
	if ms <= 0 {
		ms = DefaultRequestDeadlineMs
	}
	return time.Duration(ms) * time.Millisecond
}

// JWTExpiry parses the admin JWT lifetime, falling back to DefaultJWTExpiresIn.
func (c Config) JWTExpiry() time.Duration {
	raw := c.Admin.JWTExpiresIn
	if raw == "" {
		raw = DefaultJWTExpiresIn
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		d, _ = time.ParseDuration(DefaultJWTExpiresIn)
	}
	return d
}

func defaults() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr:        DefaultHTTPAddr,
			MetricsAddr: DefaultMetricsAddr,
		},
		Admin: AdminConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
			PoolSize: DefaultPGPoolSize,
		},
		Redis: RedisConfig{
			OutboundStreamURL: DefaultRedisAddr,
			IngestQueueURL:    DefaultRedisAddr,
			EventBusURL:       DefaultRedisAddr,
			DedupStoreURL:     DefaultRedisAddr,
		},
		Qdrant: QdrantConfig{
			URL:            DefaultQdrantURL,
			Collection:     DefaultQdrantCollection,
			TimeoutSeconds: 10,
		},
		Embeddings: EmbeddingsConfig{Provider: "primary"},
		Pipeline: PipelineConfig{
			RequestDeadlineMs:        DefaultRequestDeadlineMs,
			DBPoolSize:               DefaultPGPoolSize,
			OutboundMaxAttempts:      DefaultOutboundMaxAttempts,
			IngestMaxAttempts:        DefaultIngestMaxAttempts,
			AutomationMaxConcurrency: DefaultAutomationConc,
		},
		WebhookAuth: WebhookAuthConfig{Secrets: map[string][]string{}},
		Gateway: GatewayConfig{
			RetryBufferURL:   DefaultRedisAddr,
			RetryMaxAttempts: int(DefaultOutboundMaxAttempts),
		},
	}
}

// Load reads the TOML file at path (or DefaultConfigPath if empty), applies
// defaults for unset fields, then environment overrides, then validates the
// result. A missing file is not an error; defaults and env vars still apply.
func Load(path string) (Config, error) {
	cfg := defaults()

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); err == nil {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("parse config %s: unknown keys %v", path, undecoded)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	str("DB_URL", &cfg.Postgres.URL)
	str("OUTBOUND_STREAM_URL", &cfg.Redis.OutboundStreamURL)
	str("INGEST_QUEUE_URL", &cfg.Redis.IngestQueueURL)
	str("EVENT_BUS_URL", &cfg.Redis.EventBusURL)
	str("DEDUP_STORE_URL", &cfg.Redis.DedupStoreURL)
	str("OBJECT_STORE_ENDPOINT", &cfg.ObjectStore.Endpoint)
	str("OBJECT_STORE_BUCKET", &cfg.ObjectStore.Bucket)
	str("OBJECT_STORE_ACCESS_KEY", &cfg.ObjectStore.AccessKey)
	str("OBJECT_STORE_SECRET_KEY", &cfg.ObjectStore.SecretKey)
	str("OBJECT_STORE_REGION", &cfg.ObjectStore.Region)
	str("VECTOR_STORE_URL", &cfg.Qdrant.URL)
	str("VECTOR_STORE_API_KEY", &cfg.Qdrant.APIKey)
	str("LLM_PROVIDER_URL", &cfg.LLM.ProviderURL)
	str("LLM_API_KEY", &cfg.LLM.APIKey)
	str("LLM_MODEL", &cfg.LLM.Model)
	str("LLM_FALLBACK_MODEL", &cfg.LLM.FallbackModel)
	str("EMBEDDING_PROVIDER", &cfg.Embeddings.Provider)
	str("EMBEDDING_API_KEY", &cfg.Embeddings.APIKey)
	str("ADMIN_JWT_SECRET", &cfg.Admin.JWTSecret)
	str("ADMIN_JWT_ISSUER", &cfg.Admin.JWTIssuer)
	str("ADMIN_JWT_AUDIENCE", &cfg.Admin.JWTAudience)
	str("MAILGUN_DOMAIN", &cfg.Email.MailgunDomain)
	str("MAILGUN_API_KEY", &cfg.Email.MailgunAPIKey)
	str("TELEGRAM_BOT_TOKEN", &cfg.Telegram.BotToken)
	str("ORCHESTRATOR_URL", &cfg.Gateway.OrchestratorURL)
	str("GATEWAY_RETRY_BUFFER_URL", &cfg.Gateway.RetryBufferURL)

	if cfg.WebhookAuth.Secrets == nil {
		cfg.WebhookAuth.Secrets = map[string][]string{}
	}
	for _, channel := range channelTypes {
		key := "WEBHOOK_SECRET_" + strings.ToUpper(channel)
		if v := os.Getenv(key); v != "" {
			cfg.WebhookAuth.Secrets[channel] = append([]string{v}, cfg.WebhookAuth.Secrets[channel]...)
		}
	}
}
