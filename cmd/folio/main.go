package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mbirochan/portfolio-site/internal/config"
	"github.com/mbirochan/portfolio-site/internal/contact"
	"github.com/mbirochan/portfolio-site/internal/log"
	"github.com/mbirochan/portfolio-site/internal/server"
	"github.com/mbirochan/portfolio-site/internal/telemetry"
)

const serviceName = "portfolio-contact"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	rc := parseFlags()

	logger := log.New(rc.logLevel, rc.logFormat)

	conf, err := config.Load(rc.configPath)
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}
	applyRuntimeOverrides(conf, rc)

	if err := conf.Validate(); err != nil {
		logger.Error("validate config", "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "source", conf.Source(), "provider", conf.Mail.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, conf.Telemetry)
	if err != nil {
		logger.Error("initialise tracing", "error", err)
		os.Exit(1)
	}
	if telemetry.Enabled(conf.Telemetry) {
		logger.Info("tracing enabled", "endpoint", conf.Telemetry.Endpoint)
	}

	dispatcher, err := contact.NewDispatcher(conf.Mail, nil)
	if err != nil {
		logger.Error("initialise mail transport", "error", err)
		os.Exit(1)
	}
	if !dispatcher.Configured() {
		logger.Warn("mail relay not configured, submissions will be rejected", "missing", missingSecrets(conf.Mail))
	}

	srv, err := server.New(conf, dispatcher, logger)
	if err != nil {
		logger.Error("initialise server", "error", err)
		os.Exit(1)
	}

	httpSrv := &http.Server{
		Addr:              conf.Server.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      conf.Mail.SendTimeout.Std() + 15*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		}
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}

		close(done)
	}()

	logger.Info("server starting", "addr", conf.Server.Addr, "mail_configured", dispatcher.Configured())

	err = httpSrv.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	<-done
	logger.Info("server stopped")
}

type runtimeConfig struct {
	configPath string
	addr       stringFlag
	logLevel   string
	logFormat  string
}

type stringFlag struct {
	value string
	set   bool
}

func (s *stringFlag) String() string { return s.value }

func (s *stringFlag) Set(v string) error {
	s.value = strings.TrimSpace(v)
	s.set = true
	return nil
}

func parseFlags() *runtimeConfig {
	rc := &runtimeConfig{}

	flag.StringVar(&rc.configPath, "config", envOrDefault("CONFIG", ""), "optional path to a JSON configuration file")
	flag.Var(&rc.addr, "addr", "address to listen on (host:port); overrides ADDR and PORT")
	flag.StringVar(&rc.logLevel, "log-level", envOrDefault("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	flag.StringVar(&rc.logFormat, "log-format", envOrDefault("LOG_FORMAT", "text"), "log format (text, json)")

	flag.Parse()

	return rc
}

// applyRuntimeOverrides lets -addr win over the config, and PORT stand in
// when ADDR is not set, as platform hosts only provide the latter.
func applyRuntimeOverrides(cfg *config.Config, rc *runtimeConfig) {
	if cfg == nil || rc == nil {
		return
	}

	if rc.addr.set && rc.addr.value != "" {
		cfg.Server.Addr = rc.addr.value
		return
	}

	if strings.TrimSpace(os.Getenv("ADDR")) != "" {
		return
	}
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if strings.HasPrefix(port, ":") {
			cfg.Server.Addr = port
		} else {
			cfg.Server.Addr = ":" + port
		}
	}
}

func missingSecrets(m config.Mail) []string {
	var missing []string
	if m.Account == "" {
		missing = append(missing, "GMAIL_USER")
	}
	if m.Password == "" {
		missing = append(missing, "GMAIL_APP_PASSWORD")
	}
	return missing
}

func envOrDefault(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}
