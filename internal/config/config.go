package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance from the default search paths
func New() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("/etc/workauth-assistant/")
	v.AddConfigPath("$HOME/.workauth-assistant")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	setDefaults(v)
	BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// No config file, defaults and environment only
	}

	return &Config{v: v}, nil
}

// NewFromFile creates a configuration instance from an explicit file path
func NewFromFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	setDefaults(v)
	BindEnv(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	return &Config{v: v}, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// BindEnv lets WORKAUTH_* environment variables override settings
func BindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	v.SetEnvPrefix("WORKAUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Mailbox defaults
	v.SetDefault("imap.host", "")
	v.SetDefault("imap.port", 993)
	v.SetDefault("imap.username", "")
	v.SetDefault("imap.password", "")
	v.SetDefault("imap.use_tls", true)
	v.SetDefault("imap.inbox", "INBOX")
	v.SetDefault("imap.processed_folder", "Processed")
	v.SetDefault("imap.failed_folder", "FailedProcessing")

	// Pipeline defaults
	v.SetDefault("pipeline.poll_interval", "30s")
	v.SetDefault("pipeline.timezone", "America/Chicago")
	v.SetDefault("pipeline.stop_timeout", "60s")
	v.SetDefault("pipeline.http_timeout", "30s")
	v.SetDefault("pipeline.sender_domains", []string{})

	// Geocoding defaults
	v.SetDefault("geocode.enabled", true)
	v.SetDefault("geocode.url", "https://nominatim.openstreetmap.org/search")
	v.SetDefault("geocode.user_agent", "WorkAuthAssistant/0.1 (ops@workauth.local)")
	v.SetDefault("geocode.retry_attempts", 2)
	v.SetDefault("geocode.retry_delay", "3s")
	v.SetDefault("geocode.min_interval", "1s")

	// Cache defaults
	v.SetDefault("cache.type", "sqlite")
	v.SetDefault("cache.ttl", "0s")
	v.SetDefault("cache.cleanup_frequency", "1h")
	v.SetDefault("cache.mysql_dsn", "user:password@tcp(localhost:3306)/workauth")

	// Store defaults
	v.SetDefault("store.sqlite_path", "/app/data/assistant.db")

	// Billing defaults
	v.SetDefault("billing.rates_path", "/app/config/client_billing_rates.json")

	// Invoice defaults
	v.SetDefault("invoice.base_url", "")
	v.SetDefault("invoice.api_token", "")
	v.SetDefault("invoice.retry_attempts", 3)
	v.SetDefault("invoice.retry_delay", "2s")
	v.SetDefault("invoice.default_service_cost", 100.0)
	v.SetDefault("invoice.default_mileage_rate", 0.5)

	// Calendar defaults
	v.SetDefault("calendar.client_id", "")
	v.SetDefault("calendar.client_secret", "")
	v.SetDefault("calendar.refresh_token", "")
	v.SetDefault("calendar.calendar_id", "primary")
	v.SetDefault("calendar.event_duration", "1h")
	v.SetDefault("calendar.token_url", "")
	v.SetDefault("calendar.endpoint", "")

	// Notification defaults
	v.SetDefault("notify.type", "webhook")
	v.SetDefault("notify.webhook_url", "")
	v.SetDefault("notify.retry_attempts", 3)
	v.SetDefault("notify.retry_delay", "5s")
	v.SetDefault("notify.smtp.address", "")
	v.SetDefault("notify.smtp.username", "")
	v.SetDefault("notify.smtp.password", "")
	v.SetDefault("notify.smtp.from", "")
	v.SetDefault("notify.smtp.to", []string{})

	// LLM defaults
	v.SetDefault("llm.enabled", false)
	v.SetDefault("llm.provider", "bedrock")
	v.SetDefault("llm.max_body_size", 4096)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.model_family", "anthropic")
	v.SetDefault("bedrock.max_tokens", 500)
	v.SetDefault("bedrock.temperature", 0.0)
	v.SetDefault("bedrock.top_p", 0.9)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 500)
	v.SetDefault("gemini.temperature", 0.0)
	v.SetDefault("gemini.top_p", 0.9)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.0)
	v.SetDefault("openai.top_p", 0.9)

	// Control server defaults
	v.SetDefault("server.listen_address", "0.0.0.0:8000")
	v.SetDefault("server.auto_start", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	d, err := time.ParseDuration(c.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
