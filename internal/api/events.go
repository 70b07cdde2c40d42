package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/devmgr/internal/audit"
	"github.com/nerrad567/devmgr/internal/device"
)

// handleListEvents returns the caller's event history, newest first.
//
// Query parameters:
//   - action: create, update, remove, configure or template.update
//   - entity_type: device or template
//   - entity_id: a device id or template id
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		Tenant:     tenantFrom(r.Context()),
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
	}

	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list events", "error", err)
		writeInternalError(w, "failed to list events")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleImport replaces the caller's templates and devices with the payload.
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var payload device.ImportPayload
	if err := decodeJSON(r, &payload); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.importer.Import(r.Context(), tenantFrom(r.Context()), payload)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
