package config

import (
	"fmt"
	"time"
)

// IMAPConfig represents the mailbox connection settings
type IMAPConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	UseTLS          bool
	Inbox           string
	ProcessedFolder string
	FailedFolder    string
}

// Configured reports whether a mail server has been set up
func (c IMAPConfig) Configured() bool {
	return c.Host != ""
}

// PipelineConfig represents the poll loop settings
type PipelineConfig struct {
	PollInterval  time.Duration
	Timezone      string
	StopTimeout   time.Duration
	HTTPTimeout   time.Duration
	SenderDomains []string
}

// Location resolves the canonical time zone
func (c PipelineConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("failed to load time zone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GeocodeConfig represents the geocoding API settings
type GeocodeConfig struct {
	Enabled       bool
	URL           string
	UserAgent     string
	RetryAttempts int
	RetryDelay    time.Duration
	MinInterval   time.Duration
}

// CacheConfig represents the geocode cache backend settings
type CacheConfig struct {
	Type             string
	TTL              time.Duration
	CleanupFrequency time.Duration
	MySQLDSN         string
}

// StoreConfig represents the durable store settings
type StoreConfig struct {
	SQLitePath string
}

// BillingConfig represents where per-client rates are loaded from
type BillingConfig struct {
	RatesPath string
}

// InvoiceConfig represents the invoicing API settings
type InvoiceConfig struct {
	BaseURL            string
	APIToken           string
	RetryAttempts      int
	RetryDelay         time.Duration
	DefaultServiceCost float64
	DefaultMileageRate float64
}

// CalendarConfig represents the calendar provider settings
type CalendarConfig struct {
	ClientID      string
	ClientSecret  string
	RefreshToken  string
	CalendarID    string
	EventDuration time.Duration
	TokenURL      string
	Endpoint      string
}

// Configured reports whether OAuth2 credentials are present
func (c CalendarConfig) Configured() bool {
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != ""
}

// SMTPConfig represents the outbound mail settings for notifications
type SMTPConfig struct {
	Address  string
	Username string
	Password string
	From     string
	To       []string
}

// NotifyConfig represents the notification channel settings
type NotifyConfig struct {
	Type          string
	WebhookURL    string
	RetryAttempts int
	RetryDelay    time.Duration
	SMTP          SMTPConfig
}

// LLMConfig represents the configuration for the LLM provider
type LLMConfig struct {
	Enabled     bool
	Provider    string
	MaxBodySize int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	ModelFamily string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
}

// ServerConfig represents the control server settings
type ServerConfig struct {
	ListenAddress string
	AutoStart     bool
}

// LoggingConfig represents the logger settings
type LoggingConfig struct {
	Level  string
	Format string
}

// GetIMAP returns the mailbox configuration
func (c *Config) GetIMAP() IMAPConfig {
	return IMAPConfig{
		Host:            c.GetString("imap.host"),
		Port:            c.GetInt("imap.port"),
		Username:        c.GetString("imap.username"),
		Password:        c.GetString("imap.password"),
		UseTLS:          c.GetBool("imap.use_tls"),
		Inbox:           c.GetString("imap.inbox"),
		ProcessedFolder: c.GetString("imap.processed_folder"),
		FailedFolder:    c.GetString("imap.failed_folder"),
	}
}

// GetPipeline returns the poll loop configuration
func (c *Config) GetPipeline() PipelineConfig {
	return PipelineConfig{
		PollInterval:  c.v.GetDuration("pipeline.poll_interval"),
		Timezone:      c.GetString("pipeline.timezone"),
		StopTimeout:   c.v.GetDuration("pipeline.stop_timeout"),
		HTTPTimeout:   c.v.GetDuration("pipeline.http_timeout"),
		SenderDomains: c.GetStringSlice("pipeline.sender_domains"),
	}
}

// GetGeocode returns the geocoding configuration
func (c *Config) GetGeocode() GeocodeConfig {
	return GeocodeConfig{
		Enabled:       c.GetBool("geocode.enabled"),
		URL:           c.GetString("geocode.url"),
		UserAgent:     c.GetString("geocode.user_agent"),
		RetryAttempts: c.GetInt("geocode.retry_attempts"),
		RetryDelay:    c.v.GetDuration("geocode.retry_delay"),
		MinInterval:   c.v.GetDuration("geocode.min_interval"),
	}
}

// GetCache returns the geocode cache configuration
func (c *Config) GetCache() CacheConfig {
	return CacheConfig{
		Type:             c.GetString("cache.type"),
		TTL:              c.v.GetDuration("cache.ttl"),
		CleanupFrequency: c.v.GetDuration("cache.cleanup_frequency"),
		MySQLDSN:         c.GetString("cache.mysql_dsn"),
	}
}

// GetStore returns the durable store configuration
func (c *Config) GetStore() StoreConfig {
	return StoreConfig{
		SQLitePath: c.GetString("store.sqlite_path"),
	}
}

// GetBilling returns the billing rate source configuration
func (c *Config) GetBilling() BillingConfig {
	return BillingConfig{
		RatesPath: c.GetString("billing.rates_path"),
	}
}

// GetInvoice returns the invoicing API configuration
func (c *Config) GetInvoice() InvoiceConfig {
	return InvoiceConfig{
		BaseURL:            c.GetString("invoice.base_url"),
		APIToken:           c.GetString("invoice.api_token"),
		RetryAttempts:      c.GetInt("invoice.retry_attempts"),
		RetryDelay:         c.v.GetDuration("invoice.retry_delay"),
		DefaultServiceCost: c.GetFloat64("invoice.default_service_cost"),
		DefaultMileageRate: c.GetFloat64("invoice.default_mileage_rate"),
	}
}

// GetCalendar returns the calendar provider configuration
func (c *Config) GetCalendar() CalendarConfig {
	return CalendarConfig{
		ClientID:      c.GetString("calendar.client_id"),
		ClientSecret:  c.GetString("calendar.client_secret"),
		RefreshToken:  c.GetString("calendar.refresh_token"),
		CalendarID:    c.GetString("calendar.calendar_id"),
		EventDuration: c.v.GetDuration("calendar.event_duration"),
		TokenURL:      c.GetString("calendar.token_url"),
		Endpoint:      c.GetString("calendar.endpoint"),
	}
}

// GetNotify returns the notification configuration
func (c *Config) GetNotify() NotifyConfig {
	return NotifyConfig{
		Type:          c.GetString("notify.type"),
		WebhookURL:    c.GetString("notify.webhook_url"),
		RetryAttempts: c.GetInt("notify.retry_attempts"),
		RetryDelay:    c.v.GetDuration("notify.retry_delay"),
		SMTP: SMTPConfig{
			Address:  c.GetString("notify.smtp.address"),
			Username: c.GetString("notify.smtp.username"),
			Password: c.GetString("notify.smtp.password"),
			From:     c.GetString("notify.smtp.from"),
			To:       c.GetStringSlice("notify.smtp.to"),
		},
	}
}

// GetLLM returns the LLM configuration
func (c *Config) GetLLM() LLMConfig {
	return LLMConfig{
		Enabled:     c.GetBool("llm.enabled"),
		Provider:    c.GetString("llm.provider"),
		MaxBodySize: c.GetInt("llm.max_body_size"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		ModelFamily: c.GetString("bedrock.model_family"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
	}
}

// GetServer returns the control server configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		ListenAddress: c.GetString("server.listen_address"),
		AutoStart:     c.GetBool("server.auto_start"),
	}
}

// GetLogging returns the logger configuration
func (c *Config) GetLogging() LoggingConfig {
	return LoggingConfig{
		Level:  c.GetString("logging.level"),
		Format: c.GetString("logging.format"),
	}
}
