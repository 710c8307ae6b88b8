// Package config loads the gateway's environment-sourced configuration,
// modeled on the teacher's caarlos0/env + godotenv pattern
// (ws/config.go): struct tags for defaults, a Validate step, and a
// LogConfig method for startup diagnostics.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// GatewayConfig is the root configuration for cmd/gateway: ingress/egress
// wiring, the bus connection, rate limits, and ambient logging.
type GatewayConfig struct {
	Env    string `env:"GREENTIC_ENV" envDefault:"development"`
	Tenant string `env:"TENANT" envDefault:""`
	Team   string `env:"TEAM" envDefault:"default"`

	NATSURL             string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	NATSMaxReconnects   int           `env:"NATS_MAX_RECONNECTS" envDefault:"-1"`
	NATSReconnectWait   time.Duration `env:"NATS_RECONNECT_WAIT" envDefault:"2s"`
	NATSReconnectJitter time.Duration `env:"NATS_RECONNECT_JITTER" envDefault:"1s"`

	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"greentic.msg"`

	TenantRateLimitsJSON string `env:"TENANT_RATE_LIMITS" envDefault:""`
	BackpressureKVBucket string `env:"JS_KV_NAMESPACE_BACKPRESSURE" envDefault:"rate-limits"`

	IdempotencyBucket string        `env:"IDEMPOTENCY_KV_BUCKET" envDefault:"idempotency"`
	IdempotencyTTL    time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	DLQSubjectFmt    string `env:"DLQ_SUBJECT_FMT" envDefault:"dlq.{tenant}.{stage}.{platform}"`
	ReplaySubjectFmt string `env:"REPLAY_SUBJECT_FMT" envDefault:"replay.{tenant}.{stage}"`

	SlackSigningSecret string `env:"SLACK_SIGNING_SECRET" envDefault:""`
	SlackAPIBase       string `env:"SLACK_API_BASE" envDefault:"https://slack.com/api"`
	MSGraphAuthBase    string `env:"MS_GRAPH_AUTH_BASE" envDefault:"https://login.microsoftonline.com"`
	MSGraphAPIBase     string `env:"MS_GRAPH_API_BASE" envDefault:"https://graph.microsoft.com"`
	WebexAPIBase       string `env:"WEBEX_API_BASE" envDefault:"https://webexapis.com"`
	WebexBotPersonID   string `env:"WEBEX_BOT_PERSON_ID" envDefault:""`
	TelegramAPIBase    string `env:"TELEGRAM_API_BASE" envDefault:"https://api.telegram.org"`
	WhatsAppAPIBase    string `env:"WHATSAPP_API_BASE" envDefault:"https://graph.facebook.com/v19.0"`

	SecretsKVBucket string `env:"SECRETS_KV_BUCKET" envDefault:"platform-secrets"`

	RegistryRoot      string   `env:"REGISTRY_ROOT" envDefault:"."`
	RegistryPackPaths []string `env:"REGISTRY_PACK_PATHS" envSeparator:"," envDefault:""`

	WorkerTransport   string        `env:"WORKER_TRANSPORT" envDefault:"nats"`
	WorkerNATSSubject string        `env:"WORKER_NATS_SUBJECT" envDefault:"greentic.worker.forward"`
	WorkerHTTPURL     string        `env:"WORKER_HTTP_URL" envDefault:""`
	WorkerTimeout     time.Duration `env:"WORKER_TIMEOUT" envDefault:"10s"`
	WorkerMaxRetries  int           `env:"WORKER_MAX_RETRIES" envDefault:"2"`

	HTTPAddr string `env:"GATEWAY_HTTP_ADDR" envDefault:":8080"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// WebChatConfig is the root configuration for cmd/webchat: the Direct
// Line-compatible standalone server.
type WebChatConfig struct {
	Env  string `env:"GREENTIC_ENV" envDefault:"development"`
	Team string `env:"TEAM" envDefault:"default"`

	HTTPAddr          string        `env:"WEBCHAT_HTTP_ADDR" envDefault:":8090"`
	DirectLineBaseURL string        `env:"WEBCHAT_DIRECT_LINE_BASE_URL" envDefault:"http://localhost:8090"`
	JWTSigningKey     string        `env:"WEBCHAT_JWT_SIGNING_KEY" envDefault:""`
	TokenTTL          time.Duration `env:"WEBCHAT_TOKEN_TTL" envDefault:"30m"`

	OAuthBaseURL      string `env:"OAUTH_BASE_URL" envDefault:""`
	OAuthClientID     string `env:"OAUTH_CLIENT_ID" envDefault:""`
	OAuthClientSecret string `env:"OAUTH_CLIENT_SECRET" envDefault:""`
	LinkJWTSecret     string `env:"LINK_JWT_SECRET" envDefault:""`

	NATSURL       string `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	SubjectPrefix string `env:"SUBJECT_PREFIX" envDefault:"greentic.msg"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// LoadGatewayConfig reads .env (optional) then environment variables into a
// GatewayConfig, validating before returning.
func LoadGatewayConfig(logger *zerolog.Logger) (*GatewayConfig, error) {
	loadDotenv(logger)
	cfg := &GatewayConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse gateway config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gateway config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadWebChatConfig reads .env (optional) then environment variables into a
// WebChatConfig, validating before returning.
func LoadWebChatConfig(logger *zerolog.Logger) (*WebChatConfig, error) {
	loadDotenv(logger)
	cfg := &WebChatConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse webchat config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("webchat config validation failed: %w", err)
	}
	return cfg, nil
}

func loadDotenv(logger *zerolog.Logger) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
		return
	}
	if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}
}

// Validate checks GatewayConfig for startup-fatal misconfiguration.
func (c *GatewayConfig) Validate() error {
	if c.NATSURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("SUBJECT_PREFIX is required")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.LogLevel)
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json,text,pretty (got %q)", c.LogFormat)
	}
	return nil
}

// Validate checks WebChatConfig for startup-fatal misconfiguration.
func (c *WebChatConfig) Validate() error {
	if c.JWTSigningKey == "" {
		return fmt.Errorf("WEBCHAT_JWT_SIGNING_KEY is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("WEBCHAT_TOKEN_TTL must be positive")
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of debug,info,warn,error (got %q)", c.LogLevel)
	}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of json,text,pretty (got %q)", c.LogFormat)
	}
	return nil
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
var validLogFormats = map[string]bool{"json": true, "text": true, "pretty": true}

// LogConfig emits the non-secret fields of GatewayConfig via zerolog,
// matching the teacher's LogConfig convention (secrets never logged).
func (c *GatewayConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("env", c.Env).
		Str("nats_url", c.NATSURL).
		Str("subject_prefix", c.SubjectPrefix).
		Str("dlq_subject_fmt", c.DLQSubjectFmt).
		Str("replay_subject_fmt", c.ReplaySubjectFmt).
		Str("http_addr", c.HTTPAddr).
		Str("worker_transport", c.WorkerTransport).
		Str("registry_root", c.RegistryRoot).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("gateway configuration loaded")
}

// LogConfig emits the non-secret fields of WebChatConfig via zerolog.
func (c *WebChatConfig) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("env", c.Env).
		Str("http_addr", c.HTTPAddr).
		Str("direct_line_base_url", c.DirectLineBaseURL).
		Dur("token_ttl", c.TokenTTL).
		Str("nats_url", c.NATSURL).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("webchat configuration loaded")
}
