// Package api exposes the assistant pipeline via REST/JSON for the CRM
// frontend and internal services.
package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hearcrm/assistant-svc/internal/middleware"
	"github.com/hearcrm/assistant-svc/internal/planner"
	"github.com/hearcrm/assistant-svc/internal/refiner"
	"github.com/hearcrm/assistant-svc/internal/registry"
	"github.com/hearcrm/assistant-svc/internal/session"
	"github.com/hearcrm/assistant-svc/internal/tenancy"
)

// Server wires the two pipeline stages behind HTTP. All collaborators are
// injected; the server owns only the listener.
type Server struct {
	refiner  *refiner.Refiner
	planner  *planner.Planner
	registry *registry.Registry
	sessions session.Store
	tenants  *tenancy.Manager
	limiter  *middleware.RateLimiter
	gatherer prometheus.Gatherer
	useModel bool
	logger   *log.Logger

	httpServer *http.Server
}

// NewServer assembles the HTTP surface.
func NewServer(
	rf *refiner.Refiner,
	pl *planner.Planner,
	reg *registry.Registry,
	sessions session.Store,
	tenants *tenancy.Manager,
	limiter *middleware.RateLimiter,
	gatherer prometheus.Gatherer,
	useModel bool,
) *Server {
	return &Server{
		refiner:  rf,
		planner:  pl,
		registry: reg,
		sessions: sessions,
		tenants:  tenants,
		limiter:  limiter,
		gatherer: gatherer,
		useModel: useModel,
		logger:   log.New(log.Writer(), "[API] ", log.LstdFlags),
	}
}

// Router builds the route table. Exposed separately so tests can drive the
// handlers without a listener.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	// CORS for the CRM frontend.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Tenant-ID, X-User-ID")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	// Unauthenticated surface.
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// Tenant-scoped surface.
	api := r.PathPrefix("/api/v1").Subrouter()
	protect := func(h http.Handler) http.Handler {
		if s.limiter != nil {
			h = s.limiter.Middleware(h)
		}
		return middleware.Tenant(s.tenants, h)
	}
	api.Handle("/assist/classify", protect(http.HandlerFunc(s.handleClassify))).Methods("POST")
	api.Handle("/assist/plan", protect(http.HandlerFunc(s.handlePlan))).Methods("POST")
	api.Handle("/assist/plans/verify", protect(http.HandlerFunc(s.handleVerifyPlan))).Methods("POST")
	api.Handle("/tools", protect(http.HandlerFunc(s.handleListTools))).Methods("GET")

	return r
}

// Start blocks serving HTTP until Shutdown or listener failure.
func (s *Server) Start(port string) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%s", port),
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	s.logger.Printf("🚀 Assistant API listening on :%s", port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
