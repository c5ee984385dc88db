// Package api wires the HTTP surface of the service: technician
// authentication, the OAuth callback, requester relay endpoints, and the
// audit trail.
package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/directory"
	"github.com/deskrelay/deskrelay/pkg/httputil"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
	"github.com/deskrelay/deskrelay/pkg/requester"
	"github.com/deskrelay/deskrelay/pkg/session"
)

// SessionHeader carries the session token on authenticated requests
const SessionHeader = "X-Session-Id"

// AuditLog reads back recorded audit entries. Satisfied by audit.DBRecorder.
type AuditLog interface {
	Search(ctx context.Context, filter audit.Filter) ([]*audit.Entry, error)
}

// Server is the HTTP API server
type Server struct {
	router *mux.Router
	logger *observability.Logger

	authenticator directory.Authenticator
	sessions      session.Store
	pending       *session.PendingAuthorizations
	tokens        *oauth.Manager
	gateway       *requester.Gateway
	recorder      audit.Recorder
	auditLog      AuditLog
	metrics       *observability.Metrics

	frontendURL string
}

// Options carries the server's collaborators
type Options struct {
	Logger        *observability.Logger
	Authenticator directory.Authenticator
	Sessions      session.Store
	Pending       *session.PendingAuthorizations
	Tokens        *oauth.Manager
	Gateway       *requester.Gateway
	Recorder      audit.Recorder
	AuditLog      AuditLog
	Metrics       *observability.Metrics
	Registry      *prometheus.Registry
	FrontendURL   string
}

// NewServer creates the API server and registers all routes
func NewServer(opts Options) *Server {
	s := &Server{
		router:        mux.NewRouter(),
		logger:        opts.Logger,
		authenticator: opts.Authenticator,
		sessions:      opts.Sessions,
		pending:       opts.Pending,
		tokens:        opts.Tokens,
		gateway:       opts.Gateway,
		recorder:      opts.Recorder,
		auditLog:      opts.AuditLog,
		metrics:       opts.Metrics,
		frontendURL:   opts.FrontendURL,
	}
	s.routes(opts.Registry)
	return s
}

func (s *Server) routes(registry *prometheus.Registry) {
	s.router.Use(
		func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				next.ServeHTTP(w, r.WithContext(observability.WithLogger(r.Context(), s.logger)))
			})
		},
		httputil.RequestIDMiddleware,
		httputil.RecoveryMiddleware(s.logger),
		httputil.LoggingMiddleware(s.logger, s.metrics),
		httputil.CORSMiddleware([]string{"*"}),
	)

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if registry != nil {
		s.router.Handle("/metrics", observability.Handler(registry)).Methods(http.MethodGet)
	}

	s.router.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	s.router.HandleFunc("/redirect_uri", s.handleOAuthCallback).Methods(http.MethodGet)

	authed := s.router.NewRoute().Subrouter()
	authed.Use(s.requireSession)
	authed.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	authed.HandleFunc("/requesters", s.handleSearchRequesters).Methods(http.MethodGet)
	authed.HandleFunc("/requesters", s.handleCreateRequester).Methods(http.MethodPost)
	authed.HandleFunc("/requesters/{id}", s.handleUpdateRequester).Methods(http.MethodPut)
	authed.HandleFunc("/audit_logs", s.handleAuditLogs).Methods(http.MethodGet)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
