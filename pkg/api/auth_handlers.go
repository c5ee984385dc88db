package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/directory"
	"github.com/deskrelay/deskrelay/pkg/httputil"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Message          string    `json:"message"`
	Username         string    `json:"username"`
	SessionID        string    `json:"session_id"`
	ExpiresAt        time.Time `json:"expires_at"`
	AuthorizationURL string    `json:"authorization_url"`
}

// handleLogin verifies technician credentials against the directory,
// opens a session, and hands back the provider consent URL for the
// OAuth authorization leg.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Username, "username") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Password, "password") {
		return
	}

	logger := observability.FromContext(r.Context()).WithField("username", req.Username)

	if err := s.authenticator.Authenticate(r.Context(), req.Username, req.Password); err != nil {
		if errors.Is(err, directory.ErrInvalidCredentials) {
			s.metrics.DirectoryBindsTotal.WithLabelValues("rejected").Inc()
			s.recorder.Record(r.Context(), audit.Entry{
				Username: req.Username,
				Module:   audit.ModuleAuthentication,
				Action:   audit.ActionLoginFailed,
				NewValue: "directory rejected credentials",
			})
			httputil.WriteUnauthorized(w, "invalid credentials")
			return
		}
		s.metrics.DirectoryBindsTotal.WithLabelValues("error").Inc()
		logger.WithError(err).Error("directory unreachable")
		httputil.WriteBadGateway(w, "directory unavailable")
		return
	}
	s.metrics.DirectoryBindsTotal.WithLabelValues("success").Inc()

	sess, err := s.sessions.Create(r.Context(), req.Username)
	if err != nil {
		logger.WithError(err).Error("session creation failed")
		httputil.WriteInternalError(w, err)
		return
	}
	s.metrics.SessionsCreatedTotal.Inc()
	s.metrics.SessionsActive.Inc()

	state, err := s.pending.Begin(sess.Token)
	if err != nil {
		logger.WithError(err).Error("pending authorization setup failed")
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), audit.Entry{
		Username: req.Username,
		Module:   audit.ModuleAuthentication,
		Action:   audit.ActionLogin,
		NewValue: "logged in",
	})

	httputil.WriteSuccess(w, loginResponse{
		Message:          "login successful",
		Username:         sess.Username,
		SessionID:        sess.Token,
		ExpiresAt:        sess.ExpiresAt,
		AuthorizationURL: s.tokens.AuthorizationURL(state),
	})
}

// handleLogout destroys the caller's session. Destroying an already
// destroyed session still succeeds.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	username := observability.GetTechnician(r.Context())

	if err := s.sessions.Destroy(r.Context(), sessionToken(r.Context())); err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("session destroy failed")
		httputil.WriteInternalError(w, err)
		return
	}
	s.metrics.SessionsActive.Dec()

	s.recorder.Record(r.Context(), audit.Entry{
		Username: username,
		Module:   audit.ModuleAuthentication,
		Action:   audit.ActionLogout,
		NewValue: "logged out",
	})

	httputil.WriteSuccess(w, map[string]string{"message": "logged out"})
}

// handleOAuthCallback completes the authorization-code leg. The state
// ties the callback to a login-initiated authorization and is consumed
// on first sight, valid or not.
func (s *Server) handleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	code := httputil.ParseQueryString(r, "code", "")
	state := httputil.ParseQueryString(r, "state", "")
	if code == "" || state == "" {
		httputil.WriteBadRequest(w, "code and state are required")
		return
	}

	sessionTok, ok := s.pending.Consume(state)
	if !ok {
		httputil.WriteBadRequest(w, "unknown or expired state")
		return
	}

	username := ""
	if sess, err := s.sessions.Validate(r.Context(), sessionTok); err == nil {
		username = sess.Username
	}

	logger := observability.FromContext(r.Context()).WithField("username", username)

	if _, err := s.tokens.Exchange(r.Context(), code); err != nil {
		s.metrics.TokenExchangesTotal.WithLabelValues("failure").Inc()
		s.recorder.Record(r.Context(), audit.Entry{
			Username: username,
			Module:   audit.ModuleOAuth,
			Action:   audit.ActionTokenExchangeFailed,
			NewValue: "authorization code exchange failed",
		})
		if errors.Is(err, oauth.ErrExchangeFailed) {
			logger.WithError(err).Warn("token exchange rejected")
			httputil.WriteBadGateway(w, "token exchange failed")
			return
		}
		logger.WithError(err).Error("token exchange errored")
		httputil.WriteInternalError(w, err)
		return
	}
	s.metrics.TokenExchangesTotal.WithLabelValues("success").Inc()

	s.recorder.Record(r.Context(), audit.Entry{
		Username: username,
		Module:   audit.ModuleOAuth,
		Action:   audit.ActionTokenExchanged,
		NewValue: "access token stored",
	})

	if s.frontendURL != "" {
		http.Redirect(w, r, s.frontendURL, http.StatusFound)
		return
	}
	httputil.WriteSuccess(w, map[string]string{"message": "authorization complete"})
}
