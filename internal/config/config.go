package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

type Config struct {
	Database    *DBConfig
	Service     *ServiceConfig
	Gateway     *GatewayConfig
	Poll        *PollConfig
	HealthCheck *HealthCheckConfig
	Auth        *AuthConfig
}

type DBConfig struct {
	Type     string `envconfig:"DB_TYPE" default:"sqlite"`
	Hostname string `envconfig:"DB_HOST" default:"localhost"`
	Port     string `envconfig:"DB_PORT" default:"5432"`
	Name     string `envconfig:"DB_NAME" default:"instance-manager"`
	User     string `envconfig:"DB_USER"`
	Password string `envconfig:"DB_PASS"`
}

type ServiceConfig struct {
	Address       string `envconfig:"SVC_ADDRESS" default:":8080"`
	LogLevel      string `envconfig:"SVC_LOG_LEVEL" default:"info"`
	LogFormat     string `envconfig:"SVC_LOG_FORMAT" default:"json"`
	PublicBaseURL string `envconfig:"SVC_PUBLIC_BASE_URL"`
}

// GatewayConfig holds the default automation webhook URLs. Owners may
// override any of them, see store.User.
type GatewayConfig struct {
	CreateURL      string        `envconfig:"GATEWAY_CREATE_URL"`
	VerifyURL      string        `envconfig:"GATEWAY_VERIFY_URL"`
	ConnectURL     string        `envconfig:"GATEWAY_CONNECT_URL"`
	DisconnectURL  string        `envconfig:"GATEWAY_DISCONNECT_URL"`
	DeleteURL      string        `envconfig:"GATEWAY_DELETE_URL"`
	SendURL        string        `envconfig:"GATEWAY_SEND_URL"`
	VerifyMethod   string        `envconfig:"GATEWAY_VERIFY_METHOD" default:"POST"`
	ConnectTimeout time.Duration `envconfig:"GATEWAY_CONNECT_TIMEOUT" default:"10s"`
	VerifyTimeout  time.Duration `envconfig:"GATEWAY_VERIFY_TIMEOUT" default:"5s"`
	SendTimeout    time.Duration `envconfig:"GATEWAY_SEND_TIMEOUT" default:"30s"`
	RateLimit      float64       `envconfig:"GATEWAY_RATE_LIMIT" default:"10"`
	RateBurst      int           `envconfig:"GATEWAY_RATE_BURST" default:"5"`
	RestartDelay   time.Duration `envconfig:"GATEWAY_RESTART_DELAY" default:"1s"`
}

type PollConfig struct {
	Interval time.Duration `envconfig:"POLL_INTERVAL" default:"2s"`
	Timeout  time.Duration `envconfig:"POLL_TIMEOUT" default:"30s"`
}

type HealthCheckConfig struct {
	Enabled                bool          `envconfig:"HEALTHCHECK_ENABLED" default:"true"`
	Interval               time.Duration `envconfig:"HEALTHCHECK_INTERVAL" default:"1m"`
	MaxConsecutiveFailures int           `envconfig:"HEALTHCHECK_MAX_CONSECUTIVE_FAILURES" default:"3"`
	BaseBackoffInterval    time.Duration `envconfig:"HEALTHCHECK_BASE_BACKOFF" default:"1m"`
	MaxBackoffInterval     time.Duration `envconfig:"HEALTHCHECK_MAX_BACKOFF" default:"15m"`
	Workers                int           `envconfig:"HEALTHCHECK_WORKERS" default:"8"`
}

type AuthConfig struct {
	JWTSecret     string `envconfig:"AUTH_JWT_SECRET"`
	WebhookSecret string `envconfig:"AUTH_WEBHOOK_SECRET"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	if cfg.Database.Type != "pgsql" && cfg.Database.Type != "sqlite" {
		log.Warn().Str("db_type", cfg.Database.Type).Msg("invalid DB_TYPE, defaulting to sqlite")
		cfg.Database.Type = "sqlite"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations envconfig cannot express with tags.
func (c *Config) Validate() error {
	if c.Auth == nil || c.Auth.JWTSecret == "" {
		return errors.New("AUTH_JWT_SECRET must be set")
	}
	if c.Poll.Interval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.Poll.Interval)
	}
	if c.Poll.Interval >= c.Poll.Timeout {
		return fmt.Errorf("POLL_INTERVAL (%s) must be smaller than POLL_TIMEOUT (%s)", c.Poll.Interval, c.Poll.Timeout)
	}
	method := strings.ToUpper(c.Gateway.VerifyMethod)
	if method != "GET" && method != "POST" {
		return fmt.Errorf("GATEWAY_VERIFY_METHOD must be GET or POST, got %q", c.Gateway.VerifyMethod)
	}
	c.Gateway.VerifyMethod = method
	if c.HealthCheck.Workers <= 0 {
		c.HealthCheck.Workers = 1
	}
	return nil
}
