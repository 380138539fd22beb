// Command sark-gateway is SARK's composition root: it loads configuration,
// wires every package-level component, and serves the HTTP gateway until
// signaled to shut down. Grounded on the teacher's own cmd/gomind-*/main.go
// wiring pattern (load config -> construct logger -> construct
// collaborators -> serve -> graceful shutdown on signal).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/sark/gateway/internal/config"
	"github.com/sark/gateway/internal/httpapi"
	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/internal/storage"
	"github.com/sark/gateway/internal/telemetry"
	"github.com/sark/gateway/pkg/adapter"
	"github.com/sark/gateway/pkg/adapter/grpcadapter"
	"github.com/sark/gateway/pkg/adapter/httpadapter"
	"github.com/sark/gateway/pkg/adapter/mcpadapter"
	"github.com/sark/gateway/pkg/audit"
	"github.com/sark/gateway/pkg/budget"
	"github.com/sark/gateway/pkg/cache"
	"github.com/sark/gateway/pkg/filter"
	"github.com/sark/gateway/pkg/gateway"
	"github.com/sark/gateway/pkg/health"
	"github.com/sark/gateway/pkg/orchestrator"
	"github.com/sark/gateway/pkg/policy"
	"github.com/sark/gateway/pkg/principal"
	"github.com/sark/gateway/pkg/ratelimit"
	"github.com/sark/gateway/pkg/registry"
	"github.com/sark/gateway/pkg/siem"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	migrate := flag.Bool("migrate", false, "apply pending database migrations and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format}, cfg.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "construct logger:", err)
		os.Exit(1)
	}

	if *migrate {
		if err := storage.Migrate(cfg.Postgres.DSN); err != nil {
			logger.Error("migration failed", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		logger.Info("migrations applied", nil)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger logging.ComponentAwareLogger) error {
	promRegistry := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(promRegistry)

	pgPool, err := storage.NewPool(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pgPool.Close()

	redisOpts := redisOptionsFromURL(cfg.Redis.URL)
	redisClient := redis.NewClient(&redisOpts)
	defer redisClient.Close()

	outbox := storage.NewOutbox(cfg.SIEM.OutboxPath)
	defer outbox.Close()

	apiKeys := storage.NewAPIKeyStore(pgPool)

	auditRecorder := audit.New(pgPool, 90*24*time.Hour, audit.WithLogger(logger))

	budgetController := budget.New(pgPool, outbox, cfg.Budget.PeriodBoundaryUTCHour,
		budget.WithLogger(logger), budget.WithMetrics(metrics))

	decisionCache := cache.New(redisClient, cache.TTLPolicy{
		Low: cfg.Cache.TTLLow, Medium: cfg.Cache.TTLMedium, High: cfg.Cache.TTLHigh, Critical: cfg.Cache.TTLCritical,
	}, cache.WithLogger(logger), cache.WithMetrics(metrics))
	sweeper := cache.NewSweeper(redisClient, cfg.Cache.SweepInterval, logger, metrics)
	go sweeper.Run(ctx)

	limiter := ratelimit.New(redisClient, ratelimit.WithLogger(logger), ratelimit.WithMetrics(metrics))

	plugins := policy.NewPluginRegistry()
	policyEngine := policy.NewEngine(cfg.Policy.BundlePath, plugins, policy.WithLogger(logger), policy.WithMetrics(metrics))
	if err := policyEngine.ReloadBundle(ctx); err != nil {
		logger.Warn("initial policy bundle load failed", map[string]interface{}{"error": err.Error()})
	}

	sinks := make([]siem.Sink, 0, len(cfg.SIEM.Sinks))
	for _, sc := range cfg.SIEM.Sinks {
		switch sc.Kind {
		case "splunk":
			sinks = append(sinks, siem.NewSplunkSink(sc.URL, sc.Token))
		case "datadog":
			sinks = append(sinks, siem.NewDatadogSink(sc.URL, sc.Token))
		case "slack":
			sinks = append(sinks, siem.NewSlackSink(sc.URL))
		}
	}
	forwarder := siem.New(sinks, siem.WithLogger(logger), siem.WithMetrics(metrics), siem.WithOutbox(outbox))
	go forwarder.Run(ctx)
	defer forwarder.Stop()

	reg := registry.New()
	wireAdapters(reg, cfg.Adapters.Enabled)

	authenticator := principal.New(principal.JWTConfig{
		Issuer: cfg.JWT.Issuer, Audience: cfg.JWT.Audience, Algorithm: cfg.JWT.Algorithm, Secret: []byte(cfg.JWT.Secret),
	}, apiKeys)

	resolver := newCatalogResolver(pgPool)

	healthMonitor := health.NewMonitor(resolver, reg, cfg.Health.PollInterval, logger, metrics)
	go healthMonitor.Run(ctx)
	defer healthMonitor.Stop()

	authz := orchestrator.NewAuthorizationOrchestrator(orchestrator.Config{
		Authenticator: authenticator,
		Limiter:       limiter,
		RateLimit:     orchestrator.RateLimitConfig{Limit: cfg.RateLimit.PerPrincipal, Window: time.Duration(cfg.RateLimit.WindowSeconds) * time.Second},
		Resolver:      resolver,
		Cache:         decisionCache,
		Policy:        policyEngine,
		Budget:        budgetController,
		Filter:        filter.New(),
		Audit:         auditRecorder,
		SIEM:          forwarder,
		Logger:        logger,
		Metrics:       metrics,
	})

	inv := orchestrator.NewInvocationOrchestrator(orchestrator.InvocationConfig{
		Registry: reg,
		Budget:   budgetController,
		Audit:    auditRecorder,
		SIEM:     forwarder,
		Logger:   logger,
		Metrics:  metrics,
	})

	router := httpapi.NewRouter(httpapi.Config{
		Authorization: authz,
		Invocation:    inv,
		Logger:        logger,
		Gatherer:      promRegistry,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", map[string]interface{}{"addr": cfg.HTTPAddr})
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func wireAdapters(reg *registry.Registry, enabled []string) {
	for _, name := range enabled {
		switch name {
		case "http":
			a, err := httpadapter.New(adapter.AuthConfig{Kind: adapter.AuthNone})
			if err == nil {
				_ = reg.Register(a)
			}
		case "grpc":
			_ = reg.Register(grpcadapter.New(adapter.AuthConfig{Kind: adapter.AuthNone}))
		case "mcp":
			_ = reg.Register(mcpadapter.New(adapter.AuthConfig{Kind: adapter.AuthNone}))
		}
	}
}

func redisOptionsFromURL(url string) redis.Options {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return redis.Options{Addr: "localhost:6379"}
	}
	return *opts
}

// catalogResolver resolves resources/capabilities from the resource catalog
// table SARK's control plane manages; the control-plane CRUD surface itself
// is out of scope for the request-path gateway.
type catalogResolver struct {
	db storage.DB
}

func newCatalogResolver(db storage.DB) *catalogResolver {
	return &catalogResolver{db: db}
}

func (c *catalogResolver) Resource(ctx context.Context, resourceID string) (gateway.Resource, error) {
	row := c.db.QueryRow(ctx, `SELECT id, name, protocol, endpoint, sensitivity, status FROM resources WHERE id = $1`, resourceID)
	var r gateway.Resource
	var protocol, sensitivity, status string
	if err := row.Scan(&r.ID, &r.Name, &protocol, &r.Endpoint, &sensitivity, &status); err != nil {
		return gateway.Resource{}, err
	}
	r.Protocol = gateway.Protocol(protocol)
	r.Sensitivity = gateway.Sensitivity(sensitivity)
	r.Status = gateway.LifecycleStatus(status)
	return r, nil
}

func (c *catalogResolver) Capability(ctx context.Context, capabilityID string) (gateway.Capability, error) {
	row := c.db.QueryRow(ctx, `SELECT id, resource_id, name, sensitivity, requires_approval FROM capabilities WHERE id = $1`, capabilityID)
	var cap gateway.Capability
	var sensitivity string
	if err := row.Scan(&cap.ID, &cap.ResourceID, &cap.Name, &sensitivity, &cap.RequiresApproval); err != nil {
		return gateway.Capability{}, err
	}
	cap.Sensitivity = gateway.Sensitivity(sensitivity)
	return cap, nil
}

// ActiveResources and SetResourceStatus implement health.Store, letting
// the health.Monitor drive the same resources table's status column that
// Resource reads from.
func (c *catalogResolver) ActiveResources(ctx context.Context) ([]gateway.Resource, error) {
	rows, err := c.db.Query(ctx, `SELECT id, name, protocol, endpoint, sensitivity, status FROM resources WHERE status IN ('active', 'unhealthy')`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.Resource
	for rows.Next() {
		var r gateway.Resource
		var protocol, sensitivity, status string
		if err := rows.Scan(&r.ID, &r.Name, &protocol, &r.Endpoint, &sensitivity, &status); err != nil {
			return nil, err
		}
		r.Protocol = gateway.Protocol(protocol)
		r.Sensitivity = gateway.Sensitivity(sensitivity)
		r.Status = gateway.LifecycleStatus(status)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (c *catalogResolver) SetResourceStatus(ctx context.Context, resourceID string, status gateway.LifecycleStatus) error {
	_, err := c.db.Exec(ctx, `UPDATE resources SET status = $1 WHERE id = $2`, string(status), resourceID)
	return err
}
