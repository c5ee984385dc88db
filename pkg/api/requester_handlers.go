package api

import (
	"errors"
	"net/http"

	"github.com/deskrelay/deskrelay/pkg/httputil"
	"github.com/deskrelay/deskrelay/pkg/oauth"
	"github.com/deskrelay/deskrelay/pkg/observability"
	"github.com/deskrelay/deskrelay/pkg/requester"
)

// handleSearchRequesters relays a search to the external provider and
// flags hits that already exist in the local cache.
func (s *Server) handleSearchRequesters(w http.ResponseWriter, r *http.Request) {
	term := httputil.ParseQueryString(r, "search", "")
	if !httputil.RequireNonEmpty(w, term, "search") {
		return
	}

	username := observability.GetTechnician(r.Context())
	results, err := s.gateway.Search(r.Context(), username, term)
	if err != nil {
		s.writeRequesterError(w, r, err, "requester search failed")
		return
	}
	httputil.WriteSuccess(w, map[string]any{"requesters": results})
}

// handleCreateRequester pushes a new requester to the ticketing API
func (s *Server) handleCreateRequester(w http.ResponseWriter, r *http.Request) {
	var input requester.Input
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}
	if !httputil.RequireNonEmpty(w, input.EmailID, "email_id") {
		return
	}

	username := observability.GetTechnician(r.Context())
	created, err := s.gateway.Create(r.Context(), username, input)
	if err != nil {
		s.writeRequesterError(w, r, err, "requester create failed")
		return
	}
	httputil.WriteCreated(w, map[string]any{"requester": created})
}

// handleUpdateRequester rewrites an existing requester on the ticketing API
func (s *Server) handleUpdateRequester(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	var input requester.Input
	if !httputil.ParseJSONOrError(w, r, &input) {
		return
	}

	username := observability.GetTechnician(r.Context())
	updated, err := s.gateway.Update(r.Context(), username, id, input)
	if err != nil {
		s.writeRequesterError(w, r, err, "requester update failed")
		return
	}
	httputil.WriteSuccess(w, map[string]any{"requester": updated})
}

// writeRequesterError maps gateway failures onto HTTP responses. A
// missing or expired provider credential means the technician must run
// the authorization leg again before pushing records.
func (s *Server) writeRequesterError(w http.ResponseWriter, r *http.Request, err error, message string) {
	logger := observability.FromContext(r.Context()).WithError(err)

	if errors.Is(err, oauth.ErrTokenAbsent) {
		httputil.WriteUnauthorized(w, "no valid provider token, complete authorization first")
		return
	}
	if ue, ok := requester.AsUpstream(err); ok {
		if ue.Status == http.StatusNotFound {
			httputil.WriteNotFoundError(w, "requester not found upstream")
			return
		}
		logger.Warn(message)
		httputil.WriteBadGateway(w, ue.Summary)
		return
	}
	logger.Error(message)
	httputil.WriteInternalError(w, err)
}
