package http

import (
	"net/http"

	"github.com/go-chi/chi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gatehouse-io/gatehouse"
	"github.com/gatehouse-io/gatehouse/jsonweb"
	kithttp "github.com/gatehouse-io/gatehouse/kit/transport/http"
	"github.com/gatehouse-io/gatehouse/tenant"
)

// Route binds a handler to a method, path and pipeline policy.
type Route struct {
	Method  string
	Path    string
	Policy  gatehouse.RoutePolicy
	Handler http.Handler
}

// Server mounts routes behind the full pipeline. The global interceptors
// run in fixed order — exception boundary, request logging, metrics,
// authentication, tenant resolution — before each route's own chain.
type Server struct {
	router   chi.Router
	pipeline *Pipeline
	logger   *zap.Logger
}

// NewServer assembles the global middleware chain. parser may be nil for
// deployments without token authentication; reg may be nil to disable
// metrics.
func NewServer(
	log *zap.Logger,
	pipeline *Pipeline,
	parser *jsonweb.TokenParser,
	resolver *tenant.Resolver,
	reg *prometheus.Registry,
	health map[string]HealthCheck,
) *Server {
	if log == nil {
		log = zap.NewNop()
	}

	router := chi.NewRouter()
	router.Use(PanicMW(log))
	router.Use(kithttp.LoggingMW(log))

	if reg != nil {
		reqMetric := prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatehouse",
			Subsystem: "http",
			Name:      "api_requests_total",
			Help:      "Number of http requests received.",
		}, []string{"handler", "method", "path", "status"})
		durMetric := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatehouse",
			Subsystem: "http",
			Name:      "api_request_duration_seconds",
			Help:      "Time taken to respond to a request.",
		}, []string{"handler", "method", "path", "status"})
		reg.MustRegister(reqMetric, durMetric)

		router.Use(kithttp.Metrics("gatehouse", reqMetric, durMetric))
		router.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	if parser != nil {
		router.Use(AuthenticationMW(parser, log))
	}
	router.Use(tenant.Middleware(resolver, log))
	router.Use(LocaleMW())

	if health != nil {
		router.Method(http.MethodGet, "/health", NewHealthHandler(health))
	}

	return &Server{
		router:   router,
		pipeline: pipeline,
		logger:   log,
	}
}

// Register mounts routes behind the pipeline, validating their policies.
func (s *Server) Register(routes ...Route) error {
	for _, rt := range routes {
		if err := rt.Policy.Validate(); err != nil {
			return err
		}
		s.router.Method(rt.Method, rt.Path, s.pipeline.Wrap(rt.Policy, rt.Handler))
		s.logger.Debug("route registered",
			zap.String("method", rt.Method),
			zap.String("path", rt.Path),
			zap.String("controller", rt.Policy.Controller),
			zap.String("action", rt.Policy.Action),
		)
	}
	return nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
