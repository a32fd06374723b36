// Package http exposes the ledger and the scheduled jobs over a JSON API.
package http

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "costrologer/internal/log"
	"costrologer/internal/metrics"
	"costrologer/internal/ratelimit"
	"costrologer/internal/services"
)

// UserHeader carries the caller's user id, set by the upstream gateway.
const UserHeader = "X-User-ID"

// JobRunner runs a named job once.
type JobRunner interface {
	RunNow(ctx context.Context, name string) (int, error)
}

// Pinger reports whether the store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Ledger   *services.Ledger
	Jobs     JobRunner
	Store    Pinger
	Limiter  *ratelimit.KeyedLimiter
	Logger   *applog.Logger
	Location *time.Location
	Now      services.Clock
	// AdminToken is the bearer token for POST /api/jobs/{name}. The route
	// answers 403 while it is empty.
	AdminToken string
}

type Server struct {
	http.Server
	deps         Deps
	shutdownOnce sync.Once

	// jobsCtx outlives requests and is cancelled on Shutdown.
	jobsCtx    context.Context
	cancelJobs context.CancelFunc
}

// NewServer configures routes and returns a ready-to-run server.
func NewServer(addr string, deps Deps) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	s := &Server{deps: deps}
	s.jobsCtx, s.cancelJobs = context.WithCancel(context.Background())
	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(applog.RequestLogger(s.deps.Logger))
	r.Use(countRequests)
	r.Use(securityHeaders)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(60 * time.Second))
			r.Post("/users", s.handleRegisterUser)

			r.Group(func(r chi.Router) {
				r.Use(requireUser)
				if s.deps.Limiter != nil {
					r.Use(s.deps.Limiter.Middleware(userID))
				}

				r.Get("/accounts", s.handleListAccounts)
				r.Post("/accounts", s.handleCreateAccount)
				r.Get("/accounts/{id}", s.handleGetAccount)
				r.Put("/accounts/{id}/default", s.handleSetDefaultAccount)

				r.Post("/transactions", s.handleCreateTransaction)
				r.Post("/transactions/bulk-delete", s.handleBulkDelete)

				r.Get("/budget", s.handleGetBudget)
				r.Put("/budget", s.handleUpsertBudget)
			})
		})

		// Jobs can run for longer than a request timeout.
		r.With(s.requireAdmin).Post("/jobs/{name}", s.handleRunJob)
	})

	return r
}

// Shutdown gracefully shuts down the server, cancels on-demand jobs still
// running once ctx expires and stops the limiter cleanup.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		if s.deps.Limiter != nil {
			s.deps.Limiter.Stop()
		}
		err = s.Server.Shutdown(ctx)
		s.cancelJobs()
	})
	return err
}

func userID(r *http.Request) string {
	return r.Header.Get(UserHeader)
}

func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if userID(r) == "" {
			writeError(w, http.StatusUnauthorized, "missing "+UserHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requireAdmin admits requests carrying the configured bearer token.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.deps.AdminToken == "" {
			writeError(w, http.StatusForbidden, "job endpoint disabled")
			return
		}
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.deps.AdminToken)) != 1 {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Rejected job request",
				applog.FieldClientIP, clientIP(r),
				applog.FieldPath, r.URL.Path)
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// countRequests records each request against its route pattern so that ids
// in paths do not create new series.
func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.HTTPRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Store.Ping(ctx); err != nil {
			applog.FromContext(r.Context()).WarnContext(r.Context(), "Health check failed", applog.FieldError, err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
