package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devmgr/internal/device"
)

// Error is the body of every non-2xx response. Reason is the registry's
// reason code for domain failures and Details names the offending items when
// a rule rejects several at once.
type Error struct {
	Status  int      `json:"status"`
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Reason  string   `json:"reason,omitempty"`
	Details []string `json:"details,omitempty"`
}

// Values of Error.Code.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeUnauthorized   = "unauthorised"
	ErrCodeForbidden      = "forbidden"
	ErrCodeConflict       = "conflict"
	ErrCodeInternal       = "internal_error"
	ErrCodeValidation     = "validation_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// conflicts are the business reasons that describe a clash with stored state.
var conflicts = []error{
	device.ErrDeviceIDInUse,
	device.ErrLabelInUse,
	device.ErrTemplateInUse,
}

// classify maps a registry error to its HTTP status and error code.
// Unknown errors are internal.
func classify(err error) (int, string) {
	switch {
	case device.IsValidation(err):
		return http.StatusBadRequest, ErrCodeValidation
	case device.IsNotFound(err):
		return http.StatusNotFound, ErrCodeNotFound
	case errors.Is(err, device.ErrNotActuator):
		return http.StatusForbidden, ErrCodeForbidden
	case device.IsBusiness(err):
		for _, c := range conflicts {
			if errors.Is(err, c) {
				return http.StatusConflict, ErrCodeConflict
			}
		}
		return http.StatusBadRequest, ErrCodeBadRequest
	default:
		return http.StatusInternalServerError, ErrCodeInternal
	}
}

// writeServiceError renders an error returned by the registry services.
//
// ErrNoPSKAttributes is an empty result and becomes 204. Internal errors are
// logged and their text is never sent to the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, device.ErrNoPSKAttributes) {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	status, code := classify(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestIDFrom(r.Context()),
			"error", err,
		)
		writeInternalError(w, "internal server error")
		return
	}

	resp := Error{Status: status, Code: code, Message: err.Error(), Reason: device.Reason(err)}
	var biz *device.BusinessError
	if errors.As(err, &biz) {
		resp.Details = biz.Details
	}
	writeJSON(w, status, resp)
}
