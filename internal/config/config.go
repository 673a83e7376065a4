package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Authorization AuthorizationConfig
	Cache         CacheConfig
	Graph         GraphConfig
	Identity      IdentityConfig
	Model         ModelConfig
	Observe       ObserveConfig
	Retry         RetryConfig
	Server        ServerConfig
	Users         UsersConfig
}

type ServerConfig struct {
	Port                   int `env:"SERVER_PORT, default=8080"`
	ShutdownTimeoutSeconds int `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHTTPMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHTTPMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`

	// AllowedOrigins lists the origins permitted by CORS. Empty disables CORS headers.
	AllowedOrigins []string `env:"SERVER_ALLOWED_ORIGINS"`
}

// CacheConfig specifies where cached credentials are stored.
type CacheConfig struct {
	// Type selects the cache implementation: "memory" (default) or "redis"
	Type string `env:"CACHE_TYPE, default=memory"`

	// Redis holds distributed cache settings.
	Redis RedisConfig

	// Encryption seals values written to Redis.
	Encryption CacheEncryptionConfig
}

// CacheEncryptionConfig names a Tink cleartext JSON keyset used to encrypt
// distributed cache values. The file is re-read periodically to pick up key
// rotation.
type CacheEncryptionConfig struct {
	KeysetFile      string        `env:"CACHE_ENCRYPTION_KEYSET_FILE"`
	RefreshInterval time.Duration `env:"CACHE_ENCRYPTION_REFRESH_INTERVAL, default=15m"`
}

// Enabled reports whether cache values should be encrypted.
func (c CacheEncryptionConfig) Enabled() bool {
	return c.KeysetFile != ""
}

// RedisConfig specifies distributed cache configuration.
type RedisConfig struct {
	// Address is the Redis server address (host:port).
	Address string `env:"REDIS_ADDRESS"`

	// TLS enables TLS connection to Redis. Defaults to true so the secure option
	// is the default.
	TLS bool `env:"REDIS_TLS, default=true"`

	Username string `env:"REDIS_USERNAME"`
	Password string `env:"REDIS_PASSWORD"`
}

type AuthorizationConfig struct {
	SigningKey string        `env:"JWT_SIGNING_KEY, required"`
	Issuer     string        `env:"JWT_ISSUER, default=wayfarer"`
	Audience   string        `env:"JWT_AUDIENCE, default=wayfarer-api"`
	TokenTTL   time.Duration `env:"JWT_TOKEN_TTL, default=30m"`
}

type UsersConfig struct {
	// DSN selects the user store: sqlite://<path> or postgres://...
	DSN      string `env:"USERS_DSN, default=sqlite://wayfarer.db"`
	SeedFile string `env:"USERS_SEED_FILE"`
}

// IdentityConfig holds the client credentials used to exchange tokens with
// the identity provider.
type IdentityConfig struct {
	TenantID     string `env:"AZURE_TENANT_ID"`
	ClientID     string `env:"AZURE_CLIENT_ID"`
	ClientSecret string `env:"AZURE_CLIENT_SECRET"`

	SafetyMargin    time.Duration `env:"CREDENTIAL_SAFETY_MARGIN, default=5m"`
	ExchangeTimeout time.Duration `env:"CREDENTIAL_EXCHANGE_TIMEOUT, default=30s"`
}

// Configured reports whether the full credential triple is present.
func (c IdentityConfig) Configured() bool {
	return c.TenantID != "" && c.ClientID != "" && c.ClientSecret != ""
}

type ModelConfig struct {
	// Provider is "http" (raw endpoint) or "gemini" (Gemini SDK).
	Provider string `env:"MODEL_PROVIDER, default=http"`
	Endpoint string `env:"MODEL_ENDPOINT"`
	// Envelope selects the HTTP request/response shape: "gemini" or "flat".
	Envelope     string `env:"MODEL_ENVELOPE, default=gemini"`
	APIKey       string `env:"MODEL_API_KEY"`
	APIKeyHeader string `env:"MODEL_API_KEY_HEADER"`
	// Scope, when set, causes a bearer token for this scope to be attached to
	// every model call.
	Scope string `env:"MODEL_SCOPE"`
	Name  string `env:"MODEL_NAME, default=gemini-2.0-flash"`

	Temperature     float32 `env:"MODEL_TEMPERATURE, default=0.7"`
	TopP            float32 `env:"MODEL_TOP_P, default=0.9"`
	MaxOutputTokens int32   `env:"MODEL_MAX_OUTPUT_TOKENS, default=1000"`

	// RateLimit is the maximum requests per second; zero is unlimited.
	RateLimit float64 `env:"MODEL_RATE_LIMIT, default=0"`
	RateBurst int     `env:"MODEL_RATE_BURST, default=1"`
}

type RetryConfig struct {
	MaxRetries     int           `env:"RETRY_MAX_RETRIES, default=3"`
	BaseDelay      time.Duration `env:"RETRY_BASE_DELAY, default=1s"`
	MaxDelay       time.Duration `env:"RETRY_MAX_DELAY, default=30s"`
	AttemptTimeout time.Duration `env:"RETRY_ATTEMPT_TIMEOUT, default=30s"`
}

type GraphConfig struct {
	Enabled      bool   `env:"GRAPH_ENABLED, default=false"`
	APIURL       string `env:"GRAPH_API_URL, default=https://graph.microsoft.com/v1.0"`
	Scope        string `env:"GRAPH_SCOPE, default=https://graph.microsoft.com/.default"`
	SiteHostname string `env:"GRAPH_SITE_HOSTNAME"`
}

type ObserveConfig struct {
	SDKLogLevel                string `env:"OBSERVE_OTEL_LOG_LEVEL, default=info"`
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=wayfarer"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=20"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HTTPTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HTTPConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (Config, error) {
	return load(ctx, nil) // load from OS environment
}

func load(ctx context.Context, lookup envconfig.Lookuper) (Config, error) {
	var cfg Config
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup, // nil defaults to OS environment
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}

	if err := cfg.Model.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid model configuration: %w", err)
	}

	if err := cfg.Retry.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid retry configuration: %w", err)
	}

	if (cfg.Model.Scope != "" || cfg.Graph.Enabled) && !cfg.Identity.Configured() {
		return cfg, errors.New("AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET are required when MODEL_SCOPE or GRAPH_ENABLED is set")
	}

	if cfg.Observe.Type != "grpc" && cfg.Observe.Type != "stdout" {
		return cfg, fmt.Errorf("invalid OBSERVE_TYPE %q: must be either \"grpc\" or \"stdout\"", cfg.Observe.Type)
	}

	if !strings.HasPrefix(cfg.Users.DSN, "sqlite://") &&
		!strings.HasPrefix(cfg.Users.DSN, "postgres://") &&
		!strings.HasPrefix(cfg.Users.DSN, "postgresql://") {
		return cfg, fmt.Errorf("invalid USERS_DSN: scheme must be sqlite:// or postgres://")
	}

	return cfg, nil
}

// ClientConfig is the subset of Config needed to call the model outside the
// server process.
type ClientConfig struct {
	Cache    CacheConfig
	Identity IdentityConfig
	Model    ModelConfig
	Retry    RetryConfig
}

// Config returns a server configuration carrying only the client settings.
func (c ClientConfig) Config() Config {
	return Config{
		Cache:    c.Cache,
		Identity: c.Identity,
		Model:    c.Model,
		Retry:    c.Retry,
	}
}

func LoadClient(ctx context.Context) (ClientConfig, error) {
	return loadClient(ctx, nil)
}

func loadClient(ctx context.Context, lookup envconfig.Lookuper) (ClientConfig, error) {
	var cfg ClientConfig
	err := envconfig.ProcessWith(ctx, &envconfig.Config{
		Target:   &cfg,
		Lookuper: lookup,
	})
	if err != nil {
		return cfg, err
	}

	if err := cfg.Cache.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid cache configuration: %w", err)
	}
	if err := cfg.Model.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid model configuration: %w", err)
	}
	if err := cfg.Retry.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid retry configuration: %w", err)
	}
	if cfg.Model.Scope != "" && !cfg.Identity.Configured() {
		return cfg, errors.New("AZURE_TENANT_ID, AZURE_CLIENT_ID and AZURE_CLIENT_SECRET are required when MODEL_SCOPE is set")
	}

	return cfg, nil
}

// Validate checks that the cache configuration is valid.
func (c *CacheConfig) Validate() error {
	switch c.Type {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("REDIS_ADDRESS required when CACHE_TYPE=redis")
		}
	default:
		return fmt.Errorf("invalid CACHE_TYPE %q: must be either \"memory\" or \"redis\"", c.Type)
	}

	if c.Encryption.Enabled() {
		if c.Type != "redis" {
			return errors.New("CACHE_ENCRYPTION_KEYSET_FILE is only supported when CACHE_TYPE=redis")
		}
		if c.Encryption.RefreshInterval <= 0 {
			return errors.New("CACHE_ENCRYPTION_REFRESH_INTERVAL must be positive")
		}
	}

	return nil
}

// Validate checks the provider selection and its required settings.
func (c *ModelConfig) Validate() error {
	switch c.Provider {
	case "http":
		if c.Endpoint == "" {
			return errors.New("MODEL_ENDPOINT required when MODEL_PROVIDER=http")
		}
		if c.Envelope != "gemini" && c.Envelope != "flat" {
			return fmt.Errorf("invalid MODEL_ENVELOPE %q: must be either \"gemini\" or \"flat\"", c.Envelope)
		}
	case "gemini":
		if c.APIKey == "" {
			return errors.New("MODEL_API_KEY required when MODEL_PROVIDER=gemini")
		}
	default:
		return fmt.Errorf("invalid MODEL_PROVIDER %q: must be either \"http\" or \"gemini\"", c.Provider)
	}

	if c.RateLimit < 0 {
		return errors.New("MODEL_RATE_LIMIT must not be negative")
	}

	return nil
}

func (c *RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("RETRY_MAX_RETRIES must not be negative")
	}
	if c.BaseDelay <= 0 {
		return errors.New("RETRY_BASE_DELAY must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.New("RETRY_MAX_DELAY must not be less than RETRY_BASE_DELAY")
	}
	return nil
}
