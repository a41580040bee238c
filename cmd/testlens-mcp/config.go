package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"

	"github.com/testlens-dev/testlens-mcp/internal/logctx"
	"github.com/testlens-dev/testlens-mcp/mcpfacade"
	"github.com/testlens-dev/testlens-mcp/resources"
	"github.com/testlens-dev/testlens-mcp/sessions"
	"github.com/testlens-dev/testlens-mcp/sessions/memorystore"
	"github.com/testlens-dev/testlens-mcp/sessions/redisstore"
	"github.com/testlens-dev/testlens-mcp/upstream"
)

// Config is populated from the environment; flags override individual
// fields after decoding.
type Config struct {
	// APIBaseURL is the TestLens platform API root. ENV: TESTLENS_API_URL
	APIBaseURL string `env:"TESTLENS_API_URL,default=https://api.testlens.example"`
	// APIToken is the credential used in stdio mode. ENV: TESTLENS_API_TOKEN
	APIToken string `env:"TESTLENS_API_TOKEN"`
	// Listen is the HTTP listen address. ENV: TESTLENS_LISTEN
	Listen string `env:"TESTLENS_LISTEN,default=127.0.0.1:8712"`
	// SessionStore selects "local" or "redis". ENV: TESTLENS_SESSION_STORE
	SessionStore string `env:"TESTLENS_SESSION_STORE,default=local"`
	// SessionIdleExpiry evicts idle local sessions; 0 disables expiry.
	// ENV: TESTLENS_SESSION_IDLE_EXPIRY
	SessionIdleExpiry time.Duration `env:"TESTLENS_SESSION_IDLE_EXPIRY,default=1h"`
	// ReconcileInterval paces the staleness sweep. ENV: TESTLENS_RECONCILE_INTERVAL
	ReconcileInterval time.Duration `env:"TESTLENS_RECONCILE_INTERVAL,default=30s"`
	// LogLevel is one of debug, info, warn, error. ENV: TESTLENS_LOG_LEVEL
	LogLevel string `env:"TESTLENS_LOG_LEVEL,default=info"`
}

func loadConfig() (Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return cfg, fmt.Errorf("decode environment: %w", err)
	}
	return cfg, nil
}

func newLogger(level string) (*slog.Logger, error) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info", "":
		lvl = slog.LevelInfo
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", level)
	}
	h := logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})}
	return slog.New(h), nil
}

func newStore(cfg Config) (sessions.Store, func(), error) {
	switch cfg.SessionStore {
	case "local":
		s := memorystore.New(memorystore.Config{IdleWindow: cfg.SessionIdleExpiry})
		return s, func() { _ = s.Close() }, nil
	case "redis":
		s, err := redisstore.NewFromEnv()
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown session store %q (want local or redis)", cfg.SessionStore)
	}
}

type app struct {
	cfg       Config
	log       *slog.Logger
	store     sessions.Store
	api       *upstream.Client
	refresher *resources.Refresher
	facade    *mcpfacade.Facade
	close     func()
}

func buildApp(cfg Config) (*app, error) {
	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	store, closeStore, err := newStore(cfg)
	if err != nil {
		return nil, err
	}
	api := upstream.New(cfg.APIBaseURL, &http.Client{Timeout: 30 * time.Second})
	refresher := resources.NewRefresher(store, api, log)
	return &app{
		cfg:       cfg,
		log:       log,
		store:     store,
		api:       api,
		refresher: refresher,
		facade:    mcpfacade.New(store, api, refresher, version, log),
		close:     closeStore,
	}, nil
}
