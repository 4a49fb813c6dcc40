package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/adhocore/gronx"
	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "DAISI_WEBHOOK"

// ServerConfig holds server-related configurations.
// Note: Fields should be exported (start with uppercase) to be unmarshalled by Viper.
type ServerConfig struct {
	HTTPPort int    `mapstructure:"http_port"`
	PodID    string `mapstructure:"pod_id"` // expected from ENV (e.g., POD_IP via Downward API)
}

// NATSConfig holds NATS JetStream settings for the job queue.
type NATSConfig struct {
	URL                    string `mapstructure:"url"`
	StreamName             string `mapstructure:"stream_name"`
	EventsConsumer         string `mapstructure:"events_consumer"`
	BackfillConsumer       string `mapstructure:"backfill_consumer"`
	FailedConsumer         string `mapstructure:"failed_consumer"`
	StreamMaxAgeHours      int    `mapstructure:"stream_max_age_hours"`
	DuplicateWindowSeconds int    `mapstructure:"duplicate_window_seconds"`
}

// RedisConfig holds Redis-related configurations.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"` // Optional
	DB       int    `mapstructure:"db"`       // Optional
}

// PostgresConfig holds the relational store settings.
type PostgresConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxOpenConns           int    `mapstructure:"max_open_conns"`
	MaxIdleConns           int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `mapstructure:"conn_max_lifetime_seconds"`
	RunMigrations          bool   `mapstructure:"run_migrations"`
}

// LogConfig holds logging-related configurations.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// AuthConfig holds secrets. Both values should come from ENV.
type AuthConfig struct {
	AdminAPIKey string `mapstructure:"admin_api_key"` // guards the /admin endpoints
	TokenAESKey string `mapstructure:"token_aes_key"` // hex AES-256 key for stored access tokens
}

// AppConfig holds application-specific configurations.
type AppConfig struct {
	ServiceName            string `mapstructure:"service_name"`
	Version                string `mapstructure:"version"`
	ShutdownTimeoutSeconds int    `mapstructure:"shutdown_timeout_seconds"`
	WriteTimeoutSeconds    int    `mapstructure:"write_timeout_seconds"`
}

// WorkerConfig sizes the worker pools and the queue-level retry policy.
type WorkerConfig struct {
	WebhookConcurrency  int `mapstructure:"webhook_concurrency"`
	BackfillConcurrency int `mapstructure:"backfill_concurrency"`
	MaxDeliver          int `mapstructure:"max_deliver"`
	RetryBaseDelayMs    int `mapstructure:"retry_base_delay_ms"`
	AckWaitSeconds      int `mapstructure:"ack_wait_seconds"`
	FetchWaitSeconds    int `mapstructure:"fetch_wait_seconds"`
	MaxAckPending       int `mapstructure:"max_ack_pending"`
}

// DedupConfig holds the duplicate-suppression windows.
type DedupConfig struct {
	WindowSeconds       int `mapstructure:"window_seconds"`
	ProcessedTTLSeconds int `mapstructure:"processed_ttl_seconds"`
}

// RateLimitConfig holds the per-account upstream call budget.
type RateLimitConfig struct {
	CallsPerWindow   int `mapstructure:"calls_per_window"`
	WindowSeconds    int `mapstructure:"window_seconds"`
	KeyBufferSeconds int `mapstructure:"key_buffer_seconds"`
}

// AutoReplyConfig holds auto-reply dispatch settings.
type AutoReplyConfig struct {
	ReplyTimeoutSeconds int `mapstructure:"reply_timeout_seconds"`
}

// GatewayConfig holds the upstream Graph API client settings.
type GatewayConfig struct {
	BaseURL             string `mapstructure:"base_url"`
	TimeoutSeconds      int    `mapstructure:"timeout_seconds"`
	LocalCallsPerWindow int    `mapstructure:"local_calls_per_window"`
	LocalWindowSeconds  int    `mapstructure:"local_window_seconds"`
	PageSize            int    `mapstructure:"page_size"`
}

// BackfillConfig holds the bulk resync settings.
type BackfillConfig struct {
	Cron           string `mapstructure:"cron"` // empty disables the scheduler
	MaxPages       int    `mapstructure:"max_pages"`
	MaxAttempts    int    `mapstructure:"max_attempts"`
	MaxWaitSeconds int    `mapstructure:"max_wait_seconds"`
}

// AnalyticsConfig holds the analytics counter retention.
type AnalyticsConfig struct {
	RetentionDays int `mapstructure:"retention_days"`
}

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	NATS      NATSConfig      `mapstructure:"nats"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Log       LogConfig       `mapstructure:"log"`
	Auth      AuthConfig      `mapstructure:"auth"`
	App       AppConfig       `mapstructure:"app"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Dedup     DedupConfig     `mapstructure:"dedup"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	AutoReply AutoReplyConfig `mapstructure:"autoreply"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Backfill  BackfillConfig  `mapstructure:"backfill"`
	Analytics AnalyticsConfig `mapstructure:"analytics"`
}

// Provider defines an interface for accessing application configuration.
// This allows for easy mocking in tests and decouples the app from Viper.
type Provider interface {
	Get() *Config
}

var defaults = map[string]any{
	"server.http_port":                   8080,
	"nats.url":                           "nats://localhost:4222",
	"nats.stream_name":                   "WEBHOOK_EVENTS",
	"nats.events_consumer":               "webhook-events-worker",
	"nats.backfill_consumer":             "webhook-backfill-worker",
	"nats.failed_consumer":               "webhook-failed-replayer",
	"nats.stream_max_age_hours":          168,
	"nats.duplicate_window_seconds":      120,
	"redis.address":                      "localhost:6379",
	"postgres.max_open_conns":            20,
	"postgres.max_idle_conns":            5,
	"postgres.conn_max_lifetime_seconds": 1800,
	"postgres.run_migrations":            true,
	"log.level":                          "info",
	"app.service_name":                   "daisi-webhook-worker",
	"app.shutdown_timeout_seconds":       30,
	"app.write_timeout_seconds":          10,
	"worker.webhook_concurrency":         5,
	"worker.backfill_concurrency":        1,
	"worker.max_deliver":                 3,
	"worker.retry_base_delay_ms":         2000,
	"worker.ack_wait_seconds":            60,
	"worker.fetch_wait_seconds":          5,
	"worker.max_ack_pending":             100,
	"dedup.window_seconds":               300,
	"dedup.processed_ttl_seconds":        600,
	"ratelimit.calls_per_window":         200,
	"ratelimit.window_seconds":           3600,
	"ratelimit.key_buffer_seconds":       60,
	"autoreply.reply_timeout_seconds":    10,
	"gateway.base_url":                   "https://graph.facebook.com/v21.0",
	"gateway.timeout_seconds":            15,
	"gateway.local_calls_per_window":     10,
	"gateway.local_window_seconds":       60,
	"gateway.page_size":                  25,
	"backfill.max_pages":                 20,
	"backfill.max_attempts":              3,
	"backfill.max_wait_seconds":          300,
	"analytics.retention_days":           7,
}

// viperProvider implements the Provider interface using Viper.
type viperProvider struct {
	config atomic.Pointer[Config]
	logger *zap.Logger // zap.Logger directly, not domain.Logger, to avoid circular deps
}

// NewViperProvider creates and initializes a new configuration provider using Viper.
// It loads .env, the YAML file and environment variables, and sets up hot-reloading.
// appCtx is the application lifecycle context used for graceful shutdown of background tasks.
func NewViperProvider(appCtx context.Context, logger *zap.Logger) (Provider, error) {
	if err := godotenv.Load(".env"); err == nil {
		logger.Info("Loaded environment overrides from .env")
	}

	v := newViper()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.Warn("Config file not found; relying on defaults and environment variables", zap.Error(err))
		} else {
			logger.Error("Failed to read config file", zap.Error(err))
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg, err := unmarshal(v)
	if err != nil {
		logger.Error("Failed to load config", zap.Error(err))
		return nil, err
	}

	p := &viperProvider{logger: logger}
	p.config.Store(cfg)

	// SIGHUP triggers a reload.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGHUP)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("Panic recovered in SIGHUP handler goroutine",
					zap.String("goroutine_name", "SIGHUPConfigReloader"),
					zap.Any("panic_info", r),
					zap.String("stacktrace", string(debug.Stack())),
				)
			}
		}()
		for {
			select {
			case sig := <-sigChan:
				p.logger.Info("SIGHUP received, attempting to reload configuration...", zap.String("signal", sig.String()))
				if err := v.ReadInConfig(); err != nil {
					p.logger.Error("Failed to re-read config file on SIGHUP", zap.Error(err))
					continue
				}
				p.reload(v, "SIGHUP")
			case <-appCtx.Done():
				signal.Stop(sigChan)
				return
			}
		}
	}()

	if v.ConfigFileUsed() != "" {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("Panic recovered in OnConfigChange callback",
						zap.String("event_name", e.Name),
						zap.Any("panic_info", r),
						zap.String("stacktrace", string(debug.Stack())),
					)
				}
			}()
			p.logger.Info("Config file changed", zap.String("name", e.Name), zap.String("op", e.Op.String()))
			p.reload(v, "file_change")
		})
	}

	p.logger.Info("Configuration loaded successfully", zap.String("config_file_used", v.ConfigFileUsed()))
	return p, nil
}

func (p *viperProvider) reload(v *viper.Viper, source string) {
	newCfg, err := unmarshal(v)
	if err != nil {
		p.logger.Error("Rejected reloaded configuration", zap.String("source", source), zap.Error(err))
		return
	}
	p.config.Store(newCfg)
	p.logger.Info("Configuration reloaded successfully", zap.String("source", source))
}

// Get returns the current configuration.
func (p *viperProvider) Get() *Config {
	return p.config.Load()
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetConfigName(getEnv("VIPER_CONFIG_NAME", "config"))
	v.SetConfigType("yaml")
	v.AddConfigPath(getEnv("VIPER_CONFIG_PATH", "/app/config"))
	v.AddConfigPath(".")

	// server.http_port becomes DAISI_WEBHOOK_SERVER_HTTP_PORT
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the workers cannot run with.
func (c *Config) Validate() error {
	if c.Worker.WebhookConcurrency <= 0 || c.Worker.BackfillConcurrency <= 0 {
		return fmt.Errorf("worker concurrency must be positive (webhook=%d, backfill=%d)", c.Worker.WebhookConcurrency, c.Worker.BackfillConcurrency)
	}
	if c.RateLimit.CallsPerWindow <= 0 || c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("ratelimit.calls_per_window and ratelimit.window_seconds must be positive")
	}
	if c.Dedup.WindowSeconds <= 0 || c.Dedup.ProcessedTTLSeconds <= 0 {
		return fmt.Errorf("dedup windows must be positive")
	}
	if c.Backfill.Cron != "" && !gronx.IsValid(c.Backfill.Cron) {
		return fmt.Errorf("backfill.cron %q is not a valid cron expression", c.Backfill.Cron)
	}
	return nil
}

// Default returns a configuration populated with the built-in defaults only.
func Default() *Config {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	cfg := &Config{}
	// Defaults always decode.
	_ = v.Unmarshal(cfg)
	return cfg
}

// StaticProvider serves a fixed configuration. Used by tests and tooling.
type StaticProvider struct {
	Config *Config
}

// NewStaticProvider wraps cfg, falling back to Default when cfg is nil.
func NewStaticProvider(cfg *Config) *StaticProvider {
	if cfg == nil {
		cfg = Default()
	}
	return &StaticProvider{Config: cfg}
}

func (s *StaticProvider) Get() *Config { return s.Config }

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
