package api

import (
	"net/http"

	"github.com/nerrad567/devmgr/internal/device"
)

// attrFormat reads the attr_format query parameter (both, split or single).
func attrFormat(r *http.Request) string {
	if f := r.URL.Query().Get("attr_format"); f != "" {
		return f
	}
	return device.AttrFormatBoth
}

// handleListTemplates returns one page of the tenant's templates.
//
// Query parameters match the device listing (label, attr, attr_type,
// sortBy, page_num, page_size) plus attr_format.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	filter, err := templateFilter(r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.templates.List(r.Context(), tenantFrom(r.Context()), filter)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	format := attrFormat(r)
	views := make([]device.TemplateView, 0, len(list.Templates))
	for i := range list.Templates {
		views = append(views, device.ViewTemplate(&list.Templates[i], format))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"templates":  views,
		"pagination": list.Pagination,
	})
}

// handleGetTemplate returns a single template by ID.
func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := templateIDParam(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	tmpl, err := s.templates.Get(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, device.ViewTemplate(tmpl, attrFormat(r)))
}

// handleCreateTemplate creates a template with its attributes.
func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var in device.TemplateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	tmpl, err := s.templates.Create(r.Context(), tenantFrom(r.Context()), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":   "ok",
		"template": device.ViewTemplate(tmpl, device.AttrFormatBoth),
	})
}

// handleUpdateTemplate replaces a template's label and attribute tree.
// Devices using the template are notified.
func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := templateIDParam(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	var in device.TemplateInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	tmpl, err := s.templates.Update(r.Context(), tenantFrom(r.Context()), id, in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  "ok",
		"updated": device.ViewTemplate(tmpl, device.AttrFormatBoth),
	})
}

// handleDeleteTemplate removes a template no device uses.
func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := templateIDParam(r, "id")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	tmpl, err := s.templates.Delete(r.Context(), tenantFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  "ok",
		"removed": device.ViewTemplate(tmpl, device.AttrFormatBoth),
	})
}

// handleDeleteAllTemplates removes every template of the tenant. It fails
// while any template is still used by a device.
func (s *Server) handleDeleteAllTemplates(w http.ResponseWriter, r *http.Request) {
	removed, err := s.templates.DeleteAll(r.Context(), tenantFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	views := make([]device.TemplateView, 0, len(removed))
	for i := range removed {
		views = append(views, device.ViewTemplate(&removed[i], device.AttrFormatBoth))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  "ok",
		"removed": views,
	})
}
