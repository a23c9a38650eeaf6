package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"booking-inbox/client/internal/api"
	"booking-inbox/client/internal/inbox"
	"booking-inbox/client/internal/thread"
	"booking-inbox/client/pkg/apiclient"
	"booking-inbox/client/pkg/cache"
	"booking-inbox/client/pkg/config"
	"booking-inbox/client/pkg/health"
	"booking-inbox/client/pkg/logger"
	"booking-inbox/client/pkg/resilience"
	"booking-inbox/client/pkg/secrets"
	"booking-inbox/client/pkg/session"
	"booking-inbox/client/shared/redis"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Container holds all the dependencies for the application
type Container struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry
	Secrets  secrets.Manager
	Redis    *redis.Client
	Session  *session.Store
	Breaker  *resilience.CircuitBreaker
	API      *apiclient.Client
	Inbox    *inbox.Aggregator
	Views    *api.Views
	Health   *health.Checker
}

// Config holds the configuration for the container
type Config struct {
	LoggerConfig logger.Config

	// HTTPClient overrides the API transport
	HTTPClient *http.Client

	// Registry receives the client metrics; a fresh one is created when nil
	Registry *prometheus.Registry

	// HealthPeriod is how often the health checks run
	HealthPeriod time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		LoggerConfig: logger.DefaultConfig(),
		HealthPeriod: 30 * time.Second,
	}
}

// New creates a new dependency injection container
func New(ctx context.Context, appCfg *config.Config, cfg *Config) (*Container, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.HealthPeriod <= 0 {
		cfg.HealthPeriod = 30 * time.Second
	}

	log := logger.New(cfg.LoggerConfig)

	registry := cfg.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	secretManager, err := secrets.NewManager(appCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create secrets manager: %w", err)
	}

	c := &Container{
		Config:   appCfg,
		Logger:   log,
		Registry: registry,
		Secrets:  secretManager,
	}

	persister, err := c.persister(ctx)
	if err != nil {
		return nil, err
	}
	c.Session = session.NewStore(persister, log)

	c.Breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
		Name:             "booking-api",
		FailureThreshold: appCfg.Sync.BreakerThreshold,
		SuccessThreshold: appCfg.Sync.BreakerSuccessProbe,
		CoolDown:         appCfg.Sync.BreakerCoolDown,
	}, log)

	opts := apiclient.OptionsFromConfig(appCfg)
	opts.HTTPClient = cfg.HTTPClient
	opts.Breaker = c.Breaker
	opts.Metrics = apiclient.NewMetrics(registry)
	opts.Logger = log
	c.API, err = apiclient.New(opts, c.Session)
	if err != nil {
		return nil, fmt.Errorf("failed to create api client: %w", err)
	}

	c.Inbox = inbox.New(c.API, c.Session, inbox.Options{
		Concurrency: appCfg.Sync.UnreadConcurrency,
		Greeting:    appCfg.API.Greeting,
		Logger:      log,
	})
	c.Views = api.NewViews(c.Inbox, c.API, c.Session, thread.Options{
		BaseURL: c.API.BaseURL(),
		Logger:  log,
	}, cache.OptionsFromConfig(appCfg))

	c.Health = health.NewChecker(log, cfg.HealthPeriod)
	c.registerChecks()

	return c, nil
}

// persister picks the session backend named in the configuration
func (c *Container) persister(ctx context.Context) (session.Persister, error) {
	switch c.Config.Session.Backend {
	case "memory":
		return session.NewMemoryPersister(), nil
	case "redis":
		password := c.Secrets.GetSecretWithDefault(ctx, secrets.KeyRedisPassword, c.Config.Redis.Password)
		c.Redis = redis.NewClient(redis.Options{
			Addr:     c.Config.Redis.Addr,
			Password: password,
			DB:       c.Config.Redis.DB,
		})
		return session.NewRedisPersister(c.Redis, c.Config.Session.RedisKey), nil
	case "file", "":
		return session.NewFilePersister(c.Config.Session.FilePath), nil
	}
	return nil, fmt.Errorf("unknown session backend %q", c.Config.Session.Backend)
}

func (c *Container) registerChecks() {
	c.Health.RegisterPingCheck("api", true, c.API.Ping)

	c.Health.RegisterCheck("api-circuit", false, func(context.Context) health.Result {
		details := c.Breaker.GetMetrics()
		switch c.Breaker.GetState() {
		case resilience.StateOpen:
			return health.Result{Status: health.StatusDegraded, Description: "Calls to the API fail fast", Details: details}
		case resilience.StateHalfOpen:
			return health.Result{Status: health.StatusDegraded, Description: "Probing the API", Details: details}
		}
		return health.Result{Status: health.StatusUp, Description: "Circuit closed", Details: details}
	})

	if c.Redis != nil {
		c.Health.RegisterPingCheck("session-store", false, c.Redis.Ping)
	}
}

// Bootstrap restores the persisted session, or signs in with the
// bootstrap token when one is configured
func (c *Container) Bootstrap(ctx context.Context) error {
	restored, err := c.Session.Restore(ctx)
	if err != nil {
		c.Logger.LogWarn(err, "Failed to restore persisted session")
	}
	if restored {
		return nil
	}

	token, err := c.Secrets.GetSecret(ctx, secrets.KeyBootstrapToken)
	if errors.Is(err, secrets.ErrSecretNotFound) {
		c.Logger.Info("No session; waiting for a login")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read bootstrap token: %w", err)
	}

	if _, err := c.Session.Login(ctx, token, session.Profile{}); err != nil {
		return fmt.Errorf("bootstrap login failed: %w", err)
	}
	return nil
}

// Close releases what the container opened
func (c *Container) Close() error {
	c.Views.Shutdown()
	if c.Redis != nil {
		return c.Redis.Close()
	}
	return nil
}
