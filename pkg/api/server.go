package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/shiftbill/pkg/httputil"
	"github.com/platinummonkey/shiftbill/pkg/observability"
)

// DefaultMaxBodyBytes caps request bodies when Deps.MaxBodyBytes is unset
const DefaultMaxBodyBytes = 1 << 20

// Deps are the collaborators a Server is built from. Only Service is required.
type Deps struct {
	Service      BillingService
	Provider     SubscriptionLookup
	Logger       logrus.FieldLogger
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	Health       *observability.HealthChecker
	MaxBodyBytes int64
	Tracing      bool
}

// Server represents the API server
type Server struct {
	router  *mux.Router
	handler http.Handler
	billing *BillingHandlers
	orgs    *OrgHandlers
}

// NewServer creates a new API server with all routes and middleware attached
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	maxBytes := deps.MaxBodyBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	s := &Server{
		router:  mux.NewRouter(),
		billing: NewBillingHandlers(deps.Service, deps.Provider),
		orgs:    NewOrgHandlers(deps.Service),
	}

	s.router.Use(httputil.RequestIDMiddleware(logger))
	s.router.Use(httputil.LoggingMiddleware)
	s.router.Use(httputil.RecoveryMiddleware)
	s.router.Use(httputil.MaxBytesMiddleware(maxBytes))
	if deps.Metrics != nil {
		s.router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	s.setupRoutes(deps)

	s.handler = s.router
	if deps.Tracing {
		s.handler = otelhttp.NewHandler(s.router, "shiftbill")
	}
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes(deps Deps) {
	if deps.Health != nil {
		s.router.HandleFunc("/healthz", deps.Health.Liveness).Methods("GET")
		s.router.HandleFunc("/readyz", deps.Health.Readiness).Methods("GET")
	}
	if deps.Gatherer != nil {
		s.router.Handle("/metrics", observability.MetricsHandler(deps.Gatherer)).Methods("GET")
	}

	s.billing.RegisterRoutes(s.router)
	s.orgs.RegisterRoutes(s.router)
}

// ServeHTTP implements the http.Handler interface
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
