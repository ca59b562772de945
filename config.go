package serviceclient

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the environment-driven configuration surface. Every field maps
// to a SERVICE_CLIENT_* variable, matching the deployment convention used
// across ThinkReality services.
type Config struct {
	GatewayURL     string        `envconfig:"GATEWAY_URL" required:"true"`
	ServiceName    string        `envconfig:"SERVICE_NAME" required:"true"`
	ServiceToken   string        `envconfig:"SERVICE_TOKEN" required:"true"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"30s"`

	MaxAttempts int           `envconfig:"MAX_ATTEMPTS" default:"3"`
	BaseDelay   time.Duration `envconfig:"BASE_DELAY" default:"100ms"`
	MaxDelay    time.Duration `envconfig:"MAX_DELAY" default:"10s"`

	FailureThresholdRatio float64       `envconfig:"FAILURE_THRESHOLD_RATIO" default:"0.5"`
	RollingWindowSize     int           `envconfig:"ROLLING_WINDOW_SIZE" default:"10"`
	MinimumSamples        int           `envconfig:"MINIMUM_SAMPLES" default:"5"`
	CoolDownDuration      time.Duration `envconfig:"COOL_DOWN_DURATION" default:"30s"`
	CountFatalFailures    bool          `envconfig:"COUNT_FATAL_FAILURES" default:"false"`

	CacheEnabled         bool          `envconfig:"CACHE_ENABLED" default:"true"`
	DefaultCacheTTL      time.Duration `envconfig:"DEFAULT_CACHE_TTL" default:"60s"`
	CacheEligibleMethods []string      `envconfig:"CACHE_ELIGIBLE_METHODS" default:"GET,HEAD"`

	RetryableStatusCodes []int `envconfig:"RETRYABLE_STATUS_CODES" default:"502,503,504"`

	RateLimitPerSecond float64 `envconfig:"RATE_LIMIT_PER_SECOND" default:"0"`
	RateLimitBurst     int     `envconfig:"RATE_LIMIT_BURST" default:"1"`
}

// ConfigFromEnv loads configuration from SERVICE_CLIENT_* environment
// variables.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("service_client", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Options expands the configuration into client options. Append further
// options to override individual settings in code.
func (cfg *Config) Options() []Option {
	options := []Option{
		WithGateway(cfg.GatewayURL, cfg.ServiceName, cfg.ServiceToken),
		WithTimeout(cfg.GatewayTimeout),
		WithMaxAttempts(cfg.MaxAttempts),
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay),
		WithCircuitBreaker(BreakerConfig{
			FailureThresholdRatio: cfg.FailureThresholdRatio,
			RollingWindowSize:     cfg.RollingWindowSize,
			MinimumSamples:        cfg.MinimumSamples,
			CoolDown:              cfg.CoolDownDuration,
			CountFatalFailures:    cfg.CountFatalFailures,
		}),
		WithRetryableStatusCodes(cfg.RetryableStatusCodes...),
	}
	if cfg.CacheEnabled {
		options = append(options,
			WithCache(cfg.DefaultCacheTTL),
			WithCacheEligibleMethods(cfg.CacheEligibleMethods...),
		)
	}
	if cfg.RateLimitPerSecond > 0 {
		options = append(options, WithRateLimiter(cfg.RateLimitPerSecond, cfg.RateLimitBurst))
	}
	return options
}

// NewFromEnv constructs a Client from environment configuration plus any
// extra options.
func NewFromEnv(extra ...Option) (*Client, error) {
	cfg, err := ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	client := New(append(cfg.Options(), extra...)...)
	if err := client.ValidationError(); err != nil {
		return nil, err
	}
	return client, nil
}
