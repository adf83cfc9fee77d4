package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Mail providers understood by the dispatcher.
const (
	ProviderSMTP    = "smtp"
	ProviderMailgun = "mailgun"
)

const (
	defaultAddr        = ":8080"
	defaultAllowOrigin = "*"
	defaultSMTPHost    = "smtp.gmail.com"
	defaultSMTPPort    = 587
	defaultOwnerName   = "Birochan Mainali"
	defaultSendTimeout = 30 * time.Second
)

// Config represents the runtime configuration for the contact relay.
type Config struct {
	Server    Server    `json:"server"`
	Mail      Mail      `json:"mail"`
	Telemetry Telemetry `json:"telemetry"`

	loadedAt time.Time
	source   string
}

// Server holds listener and CORS settings.
type Server struct {
	Addr        string `json:"addr" env:"ADDR"`
	AllowOrigin string `json:"allow_origin" env:"CORS_ALLOW_ORIGIN"`
}

// Mail describes how contact submissions are relayed. Account and Password are
// the two secrets the relay needs; absence of either disables delivery.
type Mail struct {
	Provider    string   `json:"provider" env:"MAIL_PROVIDER"`
	Account     string   `json:"account" env:"GMAIL_USER"`
	Password    string   `json:"password" env:"GMAIL_APP_PASSWORD"`
	OwnerName   string   `json:"owner_name" env:"CONTACT_OWNER_NAME"`
	SendTimeout Duration `json:"send_timeout" env:"CONTACT_SEND_TIMEOUT"`
	SMTP        SMTP     `json:"smtp"`
	Mailgun     Mailgun  `json:"mailgun"`
}

// SMTP holds the relay endpoint for the smtp provider.
type SMTP struct {
	Host string `json:"host" env:"SMTP_HOST"`
	Port int    `json:"port" env:"SMTP_PORT"`
}

// Mailgun holds settings for the mailgun provider. The API key is Mail.Password.
type Mailgun struct {
	Domain  string `json:"domain" env:"MAILGUN_DOMAIN"`
	APIBase string `json:"api_base" env:"MAILGUN_API_BASE"`
}

// Telemetry controls OpenTelemetry trace export.
type Telemetry struct {
	Endpoint string `json:"endpoint" env:"OTEL_ENDPOINT"`
	Disabled bool   `json:"disabled" env:"OTEL_DISABLED"`
}

// Duration is a time.Duration that decodes from strings such as "30s" in both
// JSON and the environment.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Configured reports whether both relay secrets are present.
func (m Mail) Configured() bool {
	return m.Account != "" && m.Password != ""
}

// SMTPAddr returns the host:port pair for the smtp provider.
func (m Mail) SMTPAddr() string {
	return m.SMTP.Host + ":" + strconv.Itoa(m.SMTP.Port)
}

// MailgunDomain returns the configured sending domain, falling back to the
// domain part of the account address.
func (m Mail) MailgunDomain() string {
	if m.Mailgun.Domain != "" {
		return m.Mailgun.Domain
	}
	if at := strings.LastIndexByte(m.Account, '@'); at >= 0 {
		return m.Account[at+1:]
	}
	return ""
}

func (m *Mail) normalize() {
	m.Provider = strings.ToLower(strings.TrimSpace(m.Provider))
	m.Account = strings.TrimSpace(m.Account)
	m.Password = strings.TrimSpace(m.Password)
	m.OwnerName = strings.TrimSpace(m.OwnerName)
	m.SMTP.Host = strings.TrimSpace(m.SMTP.Host)
	m.Mailgun.Domain = strings.TrimSpace(m.Mailgun.Domain)
	m.Mailgun.APIBase = strings.TrimRight(strings.TrimSpace(m.Mailgun.APIBase), "/")

	if m.Provider == "" {
		m.Provider = ProviderSMTP
	}
	if m.OwnerName == "" {
		m.OwnerName = defaultOwnerName
	}
	if m.SendTimeout <= 0 {
		m.SendTimeout = Duration(defaultSendTimeout)
	}
	if m.SMTP.Host == "" {
		m.SMTP.Host = defaultSMTPHost
	}
	if m.SMTP.Port == 0 {
		m.SMTP.Port = defaultSMTPPort
	}
}

// LoadDotEnv loads KEY=VALUE pairs from the given files (".env" when none are
// given) into the process environment. Missing files are ignored and variables
// that are already set are left untouched.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// Load builds a Config from an optional JSON file followed by environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if cfg, err = Parse(data); err != nil {
			return nil, err
		}
		cfg.source = path
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if cfg.source == "" {
		cfg.source = "environment"
	}
	cfg.loadedAt = time.Now().UTC()

	return cfg, nil
}

// Parse constructs a Config from raw JSON bytes.
func Parse(data []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()

	return &cfg, nil
}

// ApplyEnv overlays environment variables onto the configuration. Variables
// that are unset leave the current value in place.
func (c *Config) ApplyEnv() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := env.Parse(c); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	c.normalize()
	return nil
}

func (c *Config) normalize() {
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Server.AllowOrigin = strings.TrimSpace(c.Server.AllowOrigin)
	if c.Server.Addr == "" {
		c.Server.Addr = defaultAddr
	}
	if c.Server.AllowOrigin == "" {
		c.Server.AllowOrigin = defaultAllowOrigin
	}
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	c.Mail.normalize()
}

// Validate ensures the configuration is internally consistent. Missing relay
// secrets are not an error here: the endpoint reports them per request.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}

	switch c.Mail.Provider {
	case ProviderSMTP, ProviderMailgun:
	default:
		return fmt.Errorf("mail.provider %q is not supported", c.Mail.Provider)
	}

	if c.Mail.Account != "" && !strings.Contains(c.Mail.Account, "@") {
		return errors.New("mail.account must be a valid email address")
	}

	if c.Mail.SMTP.Port <= 0 || c.Mail.SMTP.Port > 65535 {
		return fmt.Errorf("mail.smtp.port %d is out of range", c.Mail.SMTP.Port)
	}

	if c.Mail.Provider == ProviderMailgun {
		if strings.Contains(c.Mail.Mailgun.Domain, "://") {
			return errors.New("mail.mailgun.domain must not include a URL scheme")
		}
		if c.Mail.Configured() && c.Mail.MailgunDomain() == "" {
			return errors.New("mail.mailgun.domain is required")
		}
	}

	return nil
}

// LoadedAt returns the time the config was assembled.
func (c *Config) LoadedAt() time.Time {
	return c.loadedAt
}

// Source returns the backing config path, or "environment".
func (c *Config) Source() string {
	return c.source
}

// WithSource sets the configuration source identifier for diagnostics.
func (c *Config) WithSource(src string) {
	if c != nil {
		c.source = src
	}
}
