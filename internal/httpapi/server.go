package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sark/gateway/internal/logging"
	"github.com/sark/gateway/pkg/orchestrator"
)

// maxRequestBodyBytes bounds the size of any single request body SARK will
// decode, guarding the authorize/invoke handlers against unbounded reads.
const maxRequestBodyBytes = 1 << 20 // 1 MiB

// Config wires the collaborators NewRouter needs.
type Config struct {
	Authorization  *orchestrator.AuthorizationOrchestrator
	Invocation     *orchestrator.InvocationOrchestrator
	Logger         logging.ComponentAwareLogger
	AllowedOrigins []string
	Gatherer       prometheus.Gatherer
}

// NewRouter builds SARK's HTTP surface: a chi router with CORS, security
// headers, request id, panic recovery, request logging, and body-size
// limiting applied to every route, with CSRF double-submit protection and
// authentication scoped to the authenticated /v1 route group, mirroring the
// teacher's own gateway router layering.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = logging.NoOp()
	}
	logger := cfg.Logger.WithComponent("httpapi")

	s := &Server{authz: cfg.Authorization, inv: cfg.Invocation}

	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "X-API-Key", "X-CSRF-Token", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(securityHeaders)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	r.Use(maxBodyBytes(maxRequestBodyBytes))

	r.Get("/healthz", s.handleHealth)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(csrfProtection)
		r.Post("/authorize", s.handleAuthorize)
		r.Post("/invoke", s.handleInvoke)
	})

	return r
}

// shutdownTimeout bounds graceful shutdown, mirroring the teacher's own
// http.Server lifecycle management.
const shutdownTimeout = 15 * time.Second
