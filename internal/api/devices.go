package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devmgr/internal/device"
)

// handleListDevices returns one page of the tenant's devices.
//
// Query parameters:
//   - label: substring match on the device label
//   - template: only devices using this template id
//   - attr: label=value on the effective static value (repeatable)
//   - attr_type: value type of any attribute (repeatable)
//   - sortBy: [asc:|desc:]id|label|created|updated
//   - page_num, page_size: pagination (defaults 1 and the configured size)
//   - idsOnly: return every matching id instead of a page of devices
//
// The sensitive variant decrypts pre-shared keys.
func (s *Server) handleListDevices(sensitive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		filter, err := deviceFilter(q)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		idsOnly, err := queryBool(q, "idsOnly")
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}

		if idsOnly {
			ids, err := s.devices.ListDeviceIDs(r.Context(), tenantFrom(r.Context()), filter)
			if err != nil {
				s.writeServiceError(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, ids)
			return
		}

		list, err := s.devices.ListDevices(r.Context(), tenantFrom(r.Context()), filter, sensitive)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, list)
	}
}

// handleGetDevice returns a single device by ID.
func (s *Server) handleGetDevice(sensitive bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.devices.GetDevice(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), sensitive)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

// handleCreateDevices creates one device, or count devices from the same body.
func (s *Server) handleCreateDevices(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	count, err := queryInt(q, "count", 1)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	verbose, err := queryBool(q, "verbose")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var in device.DeviceInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	res, err := s.devices.CreateDevices(r.Context(), tenantFrom(r.Context()), in, count, verbose)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleUpdateDevice replaces a device's label, templates and overrides.
func (s *Server) handleUpdateDevice(w http.ResponseWriter, r *http.Request) {
	var in device.DeviceInput
	if err := decodeJSON(r, &in); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	view, err := s.devices.UpdateDevice(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), in)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "device updated",
		"device":  view,
	})
}

// handleDeleteDevice removes a device and returns what was removed.
func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	view, err := s.devices.DeleteDevice(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":       "device removed",
		"removedDevice": view,
	})
}

// handleDeleteAllDevices removes every device of the tenant.
func (s *Server) handleDeleteAllDevices(w http.ResponseWriter, r *http.Request) {
	removed, err := s.devices.DeleteAllDevices(r.Context(), tenantFrom(r.Context()))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":        "all devices removed",
		"removedDevices": removed,
	})
}

// handleDevicesByTemplate lists the devices using a template.
func (s *Server) handleDevicesByTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := templateIDParam(r, "templateId")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	page, err := queryPage(r.URL.Query())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	list, err := s.devices.DevicesByTemplate(r.Context(), tenantFrom(r.Context()), templateID, page)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// actuateRequest is the body of PUT /device/{id}/actuate.
type actuateRequest struct {
	Attrs map[string]any `json:"attrs" validate:"required,min=1"`
}

// handleActuate forwards a configuration request to the device. Nothing is
// stored; the request is published for the device's agent.
func (s *Server) handleActuate(w http.ResponseWriter, r *http.Request) {
	var req actuateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := s.devices.ConfigureDevice(r.Context(), tenantFrom(r.Context()), id, req.Attrs); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "configuration sent to device",
		"id":      id,
	})
}

// handleAddTemplate attaches a template to a device.
func (s *Server) handleAddTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := templateIDParam(r, "templateId")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	view, err := s.devices.AddTemplate(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), templateID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleRemoveTemplate detaches a template from a device.
func (s *Server) handleRemoveTemplate(w http.ResponseWriter, r *http.Request) {
	templateID, err := templateIDParam(r, "templateId")
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	view, err := s.devices.RemoveTemplate(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), templateID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}
