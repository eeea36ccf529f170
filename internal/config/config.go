// Package config loads the webhook server configuration from defaults, an
// optional YAML file and environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "WEBHOOKS_"

// ErrInvalidConfig is returned when the loaded configuration is inconsistent.
var ErrInvalidConfig = errors.New("invalid configuration")

// SMTP TLS modes.
const (
	TLSModeNone     = "none"
	TLSModeSSL      = "ssl"
	TLSModeStartTLS = "starttls"
)

// Secret is a string that is redacted when logged.
type Secret string

// LogValue implements slog.LogValuer.
func (s Secret) LogValue() slog.Value {
	if s == "" {
		return slog.StringValue("")
	}
	return slog.StringValue("[REDACTED]")
}

// String returns the secret value.
func (s Secret) String() string {
	return string(s)
}

// Config holds the complete application configuration.
type Config struct {
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOG_"`
	HTTP    HTTPConfig    `yaml:"http" envPrefix:"HTTP_"`
	Email   EmailConfig   `yaml:"email" envPrefix:"EMAIL_"`
	Google  GoogleConfig  `yaml:"google" envPrefix:"GOOGLE_"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
}

// HTTPConfig holds the webhook listener configuration.
type HTTPConfig struct {
	Listen      string    `yaml:"listen" env:"LISTEN"`
	PrivateOnly bool      `yaml:"private_only" env:"PRIVATE_ONLY"`
	TLS         TLSConfig `yaml:"tls" envPrefix:"TLS_"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file" env:"CERT_FILE"`
	KeyFile  string `yaml:"key_file" env:"KEY_FILE"`
}

// EmailConfig holds the email pipeline and transport configuration.
type EmailConfig struct {
	// From is the default sender used when a request does not name one.
	From         string        `yaml:"from" env:"FROM"`
	TemplatePath string        `yaml:"template_path" env:"TEMPLATE_PATH"`
	// Use selects the transport; empty disables email.
	Use     string        `yaml:"use" env:"USE"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`

	SMTP     SMTPConfig     `yaml:"smtp" envPrefix:"SMTP_"`
	Mailgun  MailgunConfig  `yaml:"mailgun" envPrefix:"MAILGUN_"`
	SES      SESConfig      `yaml:"ses" envPrefix:"SES_"`
	Graph    GraphConfig    `yaml:"graph" envPrefix:"GRAPH_"`
	Postmark PostmarkConfig `yaml:"postmark" envPrefix:"POSTMARK_"`
}

// SMTPConfig holds the outbound SMTP relay configuration.
type SMTPConfig struct {
	Server             string `yaml:"server" env:"SERVER"`
	Port               int    `yaml:"port" env:"PORT"`
	TLS                string `yaml:"tls" env:"TLS"`
	Username           string `yaml:"username" env:"USERNAME"`
	Password           Secret `yaml:"password" env:"PASSWORD"`
	CAFile             string `yaml:"ca_file" env:"CA_FILE"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify" env:"INSECURE_SKIP_VERIFY"`
}

// MailgunConfig holds Mailgun API configuration.
type MailgunConfig struct {
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Domain  string `yaml:"domain" env:"DOMAIN"`
	APIKey  Secret `yaml:"api_key" env:"API_KEY"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region" env:"REGION"`
	AccessKeyID     string `yaml:"access_key_id" env:"ACCESS_KEY_ID"`
	SecretAccessKey Secret `yaml:"secret_access_key" env:"SECRET_ACCESS_KEY"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id" env:"TENANT_ID"`
	ClientID     string `yaml:"client_id" env:"CLIENT_ID"`
	ClientSecret Secret `yaml:"client_secret" env:"CLIENT_SECRET"`
	Sender       string `yaml:"sender" env:"SENDER"`
}

// PostmarkConfig holds Postmark API configuration.
type PostmarkConfig struct {
	ServerToken   Secret `yaml:"server_token" env:"SERVER_TOKEN"`
	AccountToken  Secret `yaml:"account_token" env:"ACCOUNT_TOKEN"`
	MessageStream string `yaml:"message_stream" env:"MESSAGE_STREAM"`
}

// GoogleConfig holds Google API configuration.
type GoogleConfig struct {
	ServiceAccountFile string       `yaml:"service_account_file" env:"SERVICE_ACCOUNT_FILE"`
	SheetsHooks        []SheetsHook `yaml:"sheets_hooks"`
}

// SheetsHook maps a webhook ID to a spreadsheet range. Each value is a
// template expression rendered against the request body.
type SheetsHook struct {
	ID      string   `yaml:"id"`
	SheetID string   `yaml:"sheet_id"`
	Range   string   `yaml:"range"`
	Values  []string `yaml:"values"`
}

// Load builds the configuration. Defaults are applied first, then the YAML
// file at path when path is not empty, then a .env file in the working
// directory if present, then environment variables.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	// Environment variables always override YAML values
	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	c.HTTP.Listen = ":8002"
	c.Email.TemplatePath = "templates/email"
	c.Email.Timeout = 30 * time.Second
	c.Email.SMTP.Port = 587
	c.Email.SMTP.TLS = TLSModeStartTLS
	c.Email.Mailgun.BaseURL = "https://api.mailgun.net"
}

func (c *Config) normalize() {
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	c.Email.Use = strings.ToLower(strings.TrimSpace(c.Email.Use))
	c.Email.SMTP.TLS = strings.ToLower(strings.TrimSpace(c.Email.SMTP.TLS))
	c.Email.Mailgun.BaseURL = strings.TrimRight(c.Email.Mailgun.BaseURL, "/")
}

// Validate checks the configuration for values that cannot work.
func (c *Config) Validate() error {
	var errs []error

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not one of json, text", c.Logging.Format))
	}

	switch c.Email.SMTP.TLS {
	case TLSModeNone, TLSModeSSL, TLSModeStartTLS:
	default:
		errs = append(errs, fmt.Errorf("email.smtp.tls %q is not one of none, ssl, starttls", c.Email.SMTP.TLS))
	}

	if (c.HTTP.TLS.CertFile == "") != (c.HTTP.TLS.KeyFile == "") {
		errs = append(errs, errors.New("http.tls requires both cert_file and key_file"))
	}

	seen := make(map[string]bool, len(c.Google.SheetsHooks))
	for i, hook := range c.Google.SheetsHooks {
		switch {
		case hook.ID == "":
			errs = append(errs, fmt.Errorf("google.sheets_hooks[%d] is missing id", i))
		case seen[hook.ID]:
			errs = append(errs, fmt.Errorf("google.sheets_hooks[%d] duplicates id %q", i, hook.ID))
		}
		seen[hook.ID] = true
		if hook.SheetID == "" || hook.Range == "" {
			errs = append(errs, fmt.Errorf("google.sheets_hooks[%d] requires sheet_id and range", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// EmailEnabled reports whether an email transport has been selected.
func (c *Config) EmailEnabled() bool {
	return c.Email.Use != ""
}

// SheetsEnabled reports whether Google Sheets hooks can be served.
func (c *Config) SheetsEnabled() bool {
	return c.Google.ServiceAccountFile != "" && len(c.Google.SheetsHooks) > 0
}

// HTTPSEnabled reports whether the listener serves TLS.
func (c *Config) HTTPSEnabled() bool {
	return c.HTTP.TLS.CertFile != "" && c.HTTP.TLS.KeyFile != ""
}

// SMTPConfigured returns true if an SMTP relay host is set.
func (c *EmailConfig) SMTPConfigured() bool {
	return c.SMTP.Server != ""
}

// MailgunConfigured returns true if the Mailgun domain and API key are set.
func (c *EmailConfig) MailgunConfigured() bool {
	return c.Mailgun.Domain != "" && c.Mailgun.APIKey != ""
}

// SESConfigured returns true if an SES region is set.
func (c *EmailConfig) SESConfigured() bool {
	return c.SES.Region != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *EmailConfig) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// PostmarkConfigured returns true if a Postmark server token is set.
func (c *EmailConfig) PostmarkConfigured() bool {
	return c.Postmark.ServerToken != ""
}
