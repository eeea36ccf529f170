package config

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.Equal(t, ":8002", cfg.HTTP.Listen)
	assert.False(t, cfg.HTTP.PrivateOnly)
	assert.Equal(t, "templates/email", cfg.Email.TemplatePath)
	assert.Equal(t, 30*time.Second, cfg.Email.Timeout)
	assert.Equal(t, 587, cfg.Email.SMTP.Port)
	assert.Equal(t, TLSModeStartTLS, cfg.Email.SMTP.TLS)
	assert.Equal(t, "https://api.mailgun.net", cfg.Email.Mailgun.BaseURL)
	assert.False(t, cfg.EmailEnabled())
	assert.False(t, cfg.SheetsEnabled())
	assert.False(t, cfg.HTTPSEnabled())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: DEBUG
http:
  listen: "127.0.0.1:9000"
  private_only: true
email:
  from: "Events <events@example.com>"
  template_path: /srv/templates
  use: SMTP
  timeout: 5s
  smtp:
    server: smtp.example.com
    port: 465
    tls: ssl
    username: mailer
    password: hunter2
  mailgun:
    base_url: https://api.eu.mailgun.net/
    domain: mg.example.com
    api_key: key-123
google:
  service_account_file: /secrets/sa.json
  sheets_hooks:
    - id: signup
      sheet_id: abc
      range: Sheet1!A1
      values: ["{{ name }}", "{{ email }}"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Listen)
	assert.True(t, cfg.HTTP.PrivateOnly)
	assert.Equal(t, "Events <events@example.com>", cfg.Email.From)
	assert.Equal(t, "/srv/templates", cfg.Email.TemplatePath)
	assert.Equal(t, "smtp", cfg.Email.Use)
	assert.Equal(t, 5*time.Second, cfg.Email.Timeout)
	assert.Equal(t, "smtp.example.com", cfg.Email.SMTP.Server)
	assert.Equal(t, 465, cfg.Email.SMTP.Port)
	assert.Equal(t, TLSModeSSL, cfg.Email.SMTP.TLS)
	assert.Equal(t, Secret("hunter2"), cfg.Email.SMTP.Password)
	assert.Equal(t, "https://api.eu.mailgun.net", cfg.Email.Mailgun.BaseURL)
	assert.True(t, cfg.EmailEnabled())
	assert.True(t, cfg.Email.SMTPConfigured())
	assert.True(t, cfg.Email.MailgunConfigured())
	assert.True(t, cfg.SheetsEnabled())

	require.Len(t, cfg.Google.SheetsHooks, 1)
	hook := cfg.Google.SheetsHooks[0]
	assert.Equal(t, "signup", hook.ID)
	assert.Equal(t, "abc", hook.SheetID)
	assert.Equal(t, []string{"{{ name }}", "{{ email }}"}, hook.Values)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
email:
  use: mock
  smtp:
    server: smtp.example.com
`)

	t.Setenv("WEBHOOKS_EMAIL_USE", "smtp")
	t.Setenv("WEBHOOKS_EMAIL_SMTP_SERVER", "relay.internal")
	t.Setenv("WEBHOOKS_EMAIL_SMTP_PORT", "2525")
	t.Setenv("WEBHOOKS_EMAIL_GRAPH_CLIENT_SECRET", "s3cret")
	t.Setenv("WEBHOOKS_HTTP_PRIVATE_ONLY", "true")
	t.Setenv("WEBHOOKS_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "smtp", cfg.Email.Use)
	assert.Equal(t, "relay.internal", cfg.Email.SMTP.Server)
	assert.Equal(t, 2525, cfg.Email.SMTP.Port)
	assert.Equal(t, Secret("s3cret"), cfg.Email.Graph.ClientSecret)
	assert.True(t, cfg.HTTP.PrivateOnly)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadInvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "email: [unterminated"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{name: "bad log level", modify: func(c *Config) { c.Logging.Level = "trace" }},
		{name: "bad log format", modify: func(c *Config) { c.Logging.Format = "xml" }},
		{name: "bad smtp tls", modify: func(c *Config) { c.Email.SMTP.TLS = "maybe" }},
		{name: "cert without key", modify: func(c *Config) { c.HTTP.TLS.CertFile = "cert.pem" }},
		{
			name: "hook without id",
			modify: func(c *Config) {
				c.Google.SheetsHooks = []SheetsHook{{SheetID: "a", Range: "A1"}}
			},
		},
		{
			name: "duplicate hook",
			modify: func(c *Config) {
				c.Google.SheetsHooks = []SheetsHook{
					{ID: "x", SheetID: "a", Range: "A1"},
					{ID: "x", SheetID: "b", Range: "A1"},
				}
			},
		},
		{
			name: "hook without range",
			modify: func(c *Config) {
				c.Google.SheetsHooks = []SheetsHook{{ID: "x", SheetID: "a"}}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := &Config{}
			cfg.applyDefaults()
			tt.modify(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}

func TestConfiguredHelpers(t *testing.T) {
	t.Parallel()

	var c EmailConfig
	assert.False(t, c.SMTPConfigured())
	assert.False(t, c.MailgunConfigured())
	assert.False(t, c.SESConfigured())
	assert.False(t, c.GraphConfigured())
	assert.False(t, c.PostmarkConfigured())

	c.Mailgun.Domain = "mg.example.com"
	assert.False(t, c.MailgunConfigured())
	c.Mailgun.APIKey = "key"
	assert.True(t, c.MailgunConfigured())

	c.Graph = GraphConfig{TenantID: "t", ClientID: "c", ClientSecret: "s"}
	assert.False(t, c.GraphConfigured())
	c.Graph.Sender = "noreply@example.com"
	assert.True(t, c.GraphConfigured())

	c.SES.Region = "eu-west-1"
	assert.True(t, c.SESConfigured())

	c.Postmark.ServerToken = "pm"
	assert.True(t, c.PostmarkConfigured())
}

func TestSecretIsRedacted(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	log.Info("config", "password", Secret("hunter2"), "empty", Secret(""))

	assert.NotContains(t, buf.String(), "hunter2")
	assert.Contains(t, buf.String(), "password=[REDACTED]")
	assert.Equal(t, "hunter2", Secret("hunter2").String())
}
