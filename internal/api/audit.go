package api

import (
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/nerrad567/gray-logic-beacon/internal/audit"
)

// handleListAuditLogs serves GET /audit.
//
// Query parameters: action, source, slot, since (RFC 3339), limit
// (default 50, max 200) and offset.
func (s *Server) handleListAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.auditRepo == nil {
		writeUnavailable(w, "audit logging not configured")
		return
	}

	filter, msg := auditFilter(r.URL.Query())
	if msg != "" {
		writeBadRequest(w, msg)
		return
	}

	result, err := s.auditRepo.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit entries", "error", err, "request_id", requestID(r.Context()))
		writeInternalError(w, "failed to list audit logs")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// auditFilter parses the query string. A non-empty message describes the
// first invalid parameter. Malformed limit and offset fall back to defaults.
func auditFilter(q url.Values) (audit.Filter, string) {
	f := audit.Filter{Action: q.Get("action"), Source: q.Get("source")}

	if v := q.Get("slot"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, "slot must be an integer"
		}
		f.Slot = &n
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, "since must be an RFC 3339 timestamp"
		}
		f.Since = t
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))   //nolint:errcheck // zero selects the default
	f.Offset, _ = strconv.Atoi(q.Get("offset")) //nolint:errcheck // zero is the first page
	return f, ""
}
