package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/deskrelay/deskrelay/pkg/httputil"
	"github.com/deskrelay/deskrelay/pkg/observability"
	"github.com/deskrelay/deskrelay/pkg/session"
)

type sessionTokenKey struct{}

// sessionToken returns the validated token of the current request
func sessionToken(ctx context.Context) string {
	if token, ok := ctx.Value(sessionTokenKey{}).(string); ok {
		return token
	}
	return ""
}

// requireSession rejects requests without a live session. Unknown and
// expired tokens get the same response so a caller cannot tell which
// token values once existed.
func (s *Server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(SessionHeader)
		if token == "" {
			s.metrics.SessionsRejectedTotal.Inc()
			httputil.WriteUnauthorized(w, "missing session")
			return
		}

		sess, err := s.sessions.Validate(r.Context(), token)
		if err != nil {
			if errors.Is(err, session.ErrInvalid) {
				s.metrics.SessionsRejectedTotal.Inc()
				httputil.WriteUnauthorized(w, "session expired or invalid")
				return
			}
			observability.FromContext(r.Context()).WithError(err).Error("session validation failed")
			httputil.WriteInternalError(w, err)
			return
		}

		ctx := observability.WithTechnician(r.Context(), sess.Username)
		ctx = context.WithValue(ctx, sessionTokenKey{}, token)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
