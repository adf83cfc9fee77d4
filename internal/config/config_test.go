package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearMailEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"ADDR", "CORS_ALLOW_ORIGIN", "MAIL_PROVIDER", "GMAIL_USER", "GMAIL_APP_PASSWORD",
		"CONTACT_OWNER_NAME", "CONTACT_SEND_TIMEOUT", "SMTP_HOST", "SMTP_PORT",
		"MAILGUN_DOMAIN", "MAILGUN_API_BASE", "OTEL_ENDPOINT", "OTEL_DISABLED",
	} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	clearMailEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":8080" || cfg.Server.AllowOrigin != "*" {
		t.Fatalf("unexpected server defaults: %+v", cfg.Server)
	}
	if cfg.Mail.Provider != ProviderSMTP {
		t.Fatalf("expected smtp provider, got %q", cfg.Mail.Provider)
	}
	if cfg.Mail.SMTPAddr() != "smtp.gmail.com:587" {
		t.Fatalf("unexpected smtp addr: %s", cfg.Mail.SMTPAddr())
	}
	if cfg.Mail.SendTimeout.Std() != 30*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.Mail.SendTimeout.Std())
	}
	if cfg.Mail.Configured() {
		t.Fatal("mail must not be configured without secrets")
	}
	if cfg.Source() != "environment" {
		t.Fatalf("unexpected source: %s", cfg.Source())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearMailEnv(t)

	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
  "server": {"addr": ":9000"},
  "mail": {"provider": "mailgun", "account": "owner@file.example", "owner_name": "File Owner", "send_timeout": "5s",
           "mailgun": {"domain": "mg.file.example"}}
}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("GMAIL_APP_PASSWORD", "  secret  ")
	t.Setenv("CONTACT_SEND_TIMEOUT", "12s")
	t.Setenv("SMTP_PORT", "2525")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Addr != ":9000" {
		t.Fatalf("file value lost: %s", cfg.Server.Addr)
	}
	if cfg.Mail.Account != "owner@file.example" || cfg.Mail.Password != "secret" {
		t.Fatalf("unexpected secrets: %+v", cfg.Mail)
	}
	if !cfg.Mail.Configured() {
		t.Fatal("expected mail to be configured")
	}
	if cfg.Mail.SendTimeout.Std() != 12*time.Second {
		t.Fatalf("env timeout not applied: %s", cfg.Mail.SendTimeout.Std())
	}
	if cfg.Mail.SMTP.Port != 2525 {
		t.Fatalf("env port not applied: %d", cfg.Mail.SMTP.Port)
	}
	if cfg.Mail.OwnerName != "File Owner" {
		t.Fatalf("unexpected owner name: %s", cfg.Mail.OwnerName)
	}
	if cfg.Source() != path {
		t.Fatalf("unexpected source: %s", cfg.Source())
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := Parse([]byte(`{"mail": {"user": "x"}}`))
	if err == nil || !strings.Contains(err.Error(), "decode config") {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestConfiguredRequiresBothSecrets(t *testing.T) {
	cases := []struct {
		name string
		mail Mail
		want bool
	}{
		{name: "both", mail: Mail{Account: "a@b.c", Password: "p"}, want: true},
		{name: "account only", mail: Mail{Account: "a@b.c"}, want: false},
		{name: "password only", mail: Mail{Password: "p"}, want: false},
		{name: "neither", mail: Mail{}, want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.mail.Configured(); got != tc.want {
				t.Fatalf("Configured() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMailgunDomainFallback(t *testing.T) {
	m := Mail{Account: "me@mg.example.com"}
	if got := m.MailgunDomain(); got != "mg.example.com" {
		t.Fatalf("unexpected fallback domain: %s", got)
	}

	m.Mailgun.Domain = "mail.example.org"
	if got := m.MailgunDomain(); got != "mail.example.org" {
		t.Fatalf("explicit domain ignored: %s", got)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		mail Mail
		want string
	}{
		{name: "provider", mail: Mail{Provider: "pigeon"}, want: "not supported"},
		{name: "account", mail: Mail{Account: "owner"}, want: "valid email"},
		{name: "port", mail: Mail{SMTP: SMTP{Port: 70000}}, want: "out of range"},
		{name: "scheme", mail: Mail{Provider: ProviderMailgun, Mailgun: Mailgun{Domain: "https://mg.example.com"}}, want: "URL scheme"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Mail: tc.mail}
			cfg.normalize()
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	clearMailEnv(t)

	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("GMAIL_USER=dot@example.com\nGMAIL_APP_PASSWORD=dotsecret\n"), 0o644); err != nil {
		t.Fatalf("write env: %v", err)
	}

	if err := LoadDotEnv(path, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("load dotenv: %v", err)
	}
	t.Cleanup(func() {
		os.Unsetenv("GMAIL_USER")
		os.Unsetenv("GMAIL_APP_PASSWORD")
	})

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Mail.Account != "dot@example.com" || !cfg.Mail.Configured() {
		t.Fatalf("dotenv values not applied: %+v", cfg.Mail)
	}
}
