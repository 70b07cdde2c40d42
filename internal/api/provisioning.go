package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/devmgr/internal/device"
)

// handleCreateBatch creates prefix-numbered devices in one unit of work.
// Devices that break a rule are reported as failures; the rest are created.
// quantity and initialSuffixNumber default to 1 when absent.
func (s *Server) handleCreateBatch(w http.ResponseWriter, r *http.Request) {
	req := device.BatchRequest{Quantity: 1, InitialSuffix: 1}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeServiceError(w, r, invalidPayload("invalid JSON body"))
		return
	}

	res, err := s.devices.CreateDevicesInBatch(r.Context(), tenantFrom(r.Context()), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleGenPSK generates pre-shared keys for a device.
//
// Query parameters:
//   - key_length: key size in bytes (required)
//   - attrs: comma separated psk attribute labels (optional, default all)
//
// A device without psk attributes yields 204.
func (s *Server) handleGenPSK(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if !q.Has("key_length") {
		s.writeServiceError(w, r, invalidPayload("key_length is required"))
		return
	}
	keyLength, err := queryInt(q, "key_length", 0)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var targets []string
	if q.Has("attrs") {
		if targets = queryList(q, "attrs"); len(targets) == 0 {
			s.writeServiceError(w, r, &device.ValidationError{
				Reason:  device.ErrInvalidPSKTargets.Reason,
				Message: "attrs must name at least one attribute",
			})
			return
		}
	}

	keys, err := s.devices.GenPSK(r.Context(), tenantFrom(r.Context()), chi.URLParam(r, "id"), keyLength, targets)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, keys)
}

// handleCopyPSK copies the key of from_dev_id/from_attr_label onto the
// addressed device attribute.
func (s *Server) handleCopyPSK(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	fromDevice, fromAttr := q.Get("from_dev_id"), q.Get("from_attr_label")
	if fromDevice == "" || fromAttr == "" {
		s.writeServiceError(w, r, invalidPayload("from_dev_id and from_attr_label are required"))
		return
	}

	err := s.devices.CopyPSK(r.Context(), tenantFrom(r.Context()),
		fromDevice, fromAttr,
		chi.URLParam(r, "id"), chi.URLParam(r, "label"),
	)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
