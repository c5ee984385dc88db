package api

import (
	"net/http"
	"strconv"

	"github.com/deskrelay/deskrelay/pkg/audit"
	"github.com/deskrelay/deskrelay/pkg/httputil"
	"github.com/deskrelay/deskrelay/pkg/observability"
)

// handleAuditLogs returns recent audit entries, newest first. Reading
// the trail is itself recorded.
func (s *Server) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		Username: httputil.ParseQueryString(r, "username", ""),
		Module:   audit.Module(httputil.ParseQueryString(r, "module", "")),
	}
	if raw := httputil.ParseQueryString(r, "limit", ""); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			httputil.WriteBadRequest(w, "limit must be a positive integer")
			return
		}
		filter.Limit = limit
	}
	if filter.Module != "" && !filter.Module.Valid() {
		httputil.WriteBadRequest(w, "unknown module")
		return
	}

	entries, err := s.auditLog.Search(r.Context(), filter)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).Error("audit search failed")
		httputil.WriteInternalError(w, err)
		return
	}

	s.recorder.Record(r.Context(), audit.Entry{
		Username: observability.GetTechnician(r.Context()),
		Module:   audit.ModuleAudit,
		Action:   audit.ActionViewLogs,
		NewValue: "viewed audit logs",
	})

	httputil.WriteSuccess(w, map[string]any{"audit_logs": entries})
}
