package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Log       LogConfig       `mapstructure:"log"`
	Security  SecurityConfig  `mapstructure:"security"`
	Gmail     GmailConfig     `mapstructure:"gmail"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Outreach  OutreachConfig  `mapstructure:"outreach"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Name           string `mapstructure:"name"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	SSLMode        string `mapstructure:"ssl_mode"`
	MaxConnections int    `mapstructure:"max_connections"`
}

// DSN returns the PostgreSQL connection string
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as golang-migrate expects it
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SecurityConfig holds API authentication and throttling configuration
type SecurityConfig struct {
	Tokens       TokenConfig        `mapstructure:"tokens"`
	Webhook      WebhookConfig      `mapstructure:"webhook"`
	RateLimiting RateLimitingConfig `mapstructure:"rate_limiting"`
}

// TokenConfig holds the shared secret used to verify API bearer tokens.
// Tokens are minted by the account frontend; this service only validates them.
type TokenConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	Audience string        `mapstructure:"audience"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// WebhookConfig holds the secret shared with the payment processor. Credit
// top-ups are only accepted on requests signed with it.
type WebhookConfig struct {
	Secret    string        `mapstructure:"secret"`
	Tolerance time.Duration `mapstructure:"tolerance"`
}

// RateLimitingConfig holds rate limiting configuration
type RateLimitingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	DraftLimit int           `mapstructure:"draft_limit"`
	SendLimit  int           `mapstructure:"send_limit"`
	Window     time.Duration `mapstructure:"window"`
}

// GmailConfig holds the OAuth client used to act on behalf of account mailboxes
type GmailConfig struct {
	ClientID          string  `mapstructure:"client_id"`
	ClientSecret      string  `mapstructure:"client_secret"`
	TokenURL          string  `mapstructure:"token_url"`
	Endpoint          string  `mapstructure:"endpoint"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// GeneratorConfig selects and configures the content generators
type GeneratorConfig struct {
	// Default is the generator used when a caller does not pick one: "template" or "llm"
	Default  string         `mapstructure:"default"`
	Profile  ProfileConfig  `mapstructure:"profile"`
	Template TemplateConfig `mapstructure:"template"`
	LLM      LLMConfig      `mapstructure:"llm"`
}

// ProfileConfig describes the sender; every field is exposed to templates and prompts
type ProfileConfig struct {
	Name      string `mapstructure:"name"`
	Headline  string `mapstructure:"headline"`
	Summary   string `mapstructure:"summary"`
	Signature string `mapstructure:"signature"`
}

// TemplateConfig holds the text/template sources. The first rendered line
// must start with "Subject:".
type TemplateConfig struct {
	Body           string `mapstructure:"body"`
	AttachmentNote string `mapstructure:"attachment_note"`
}

// LLMConfig holds settings for an OpenAI-compatible chat completion endpoint
type LLMConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	APIKey    string        `mapstructure:"api_key"`
	Model     string        `mapstructure:"model"`
	MaxTokens int64         `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// OutreachConfig holds lifecycle engine tuning
type OutreachConfig struct {
	InitialCredits      int           `mapstructure:"initial_credits"`
	DefaultBatchDelay   time.Duration `mapstructure:"default_batch_delay"`
	MaxBatchDelay       time.Duration `mapstructure:"max_batch_delay"`
	HistoryDefaultLimit int           `mapstructure:"history_default_limit"`
	HistoryMaxLimit     int           `mapstructure:"history_max_limit"`
	LockTTL             time.Duration `mapstructure:"lock_ttl"`
	MaxAttachmentBytes  int64         `mapstructure:"max_attachment_bytes"`
}

// Load reads configuration from .env, the config file and environment variables
func Load() (*Config, error) {
	// .env is optional; real environment variables always win
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/outreach")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("OUTREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout", "30s")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "outreach")
	v.SetDefault("database.user", "outreach")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_connections", 25)

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("security.tokens.secret", "")
	v.SetDefault("security.tokens.issuer", "outreach")
	v.SetDefault("security.tokens.audience", "outreach-api")
	v.SetDefault("security.tokens.ttl", "24h")

	v.SetDefault("security.webhook.secret", "")
	v.SetDefault("security.webhook.tolerance", "5m")

	v.SetDefault("security.rate_limiting.enabled", true)
	v.SetDefault("security.rate_limiting.draft_limit", 20)
	v.SetDefault("security.rate_limiting.send_limit", 20)
	v.SetDefault("security.rate_limiting.window", "1m")

	v.SetDefault("gmail.client_id", "")
	v.SetDefault("gmail.client_secret", "")
	v.SetDefault("gmail.token_url", "")
	v.SetDefault("gmail.endpoint", "")
	v.SetDefault("gmail.requests_per_second", 5.0)
	v.SetDefault("gmail.burst", 5)

	v.SetDefault("generator.default", "template")
	v.SetDefault("generator.profile.name", "")
	v.SetDefault("generator.profile.headline", "")
	v.SetDefault("generator.profile.summary", "")
	v.SetDefault("generator.profile.signature", "")
	v.SetDefault("generator.template.body", "")
	v.SetDefault("generator.template.attachment_note", "I've attached my resume for your reference.")
	v.SetDefault("generator.llm.base_url", "https://api.openai.com/v1/")
	v.SetDefault("generator.llm.api_key", "")
	v.SetDefault("generator.llm.model", "gpt-4o-mini")
	v.SetDefault("generator.llm.max_tokens", 400)
	v.SetDefault("generator.llm.timeout", "30s")

	v.SetDefault("outreach.initial_credits", 10)
	v.SetDefault("outreach.default_batch_delay", "30s")
	v.SetDefault("outreach.max_batch_delay", "1h")
	v.SetDefault("outreach.history_default_limit", 50)
	v.SetDefault("outreach.history_max_limit", 500)
	v.SetDefault("outreach.lock_ttl", "10m")
	v.SetDefault("outreach.max_attachment_bytes", 10<<20)
}
