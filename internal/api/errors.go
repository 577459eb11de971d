package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/driver"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest     = "bad_request"
	ErrCodeNotFound       = "not_found"
	ErrCodeConflict       = "conflict"
	ErrCodeGone           = "gone"
	ErrCodeWouldBlock     = "would_block"
	ErrCodeTimedOut       = "timed_out"
	ErrCodeInterrupted    = "interrupted"
	ErrCodeCancelled      = "cancelled"
	ErrCodeOutOfRange     = "out_of_range"
	ErrCodeRequestFailed  = "request_failed"
	ErrCodeUnavailable    = "service_unavailable"
	ErrCodeInternal       = "internal_error"
	ErrCodeMethodNotAllow = "method_not_allowed"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeNotFound writes a 404 error response.
func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

// writeServiceUnavailable writes a 503 error response.
func writeServiceUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeDeviceError maps an error from the device layer to a response.
func writeDeviceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrInvalidArgument), errors.Is(err, device.ErrUnsupported):
		writeBadRequest(w, err.Error())
	case errors.Is(err, device.ErrDeviceClosed):
		writeError(w, http.StatusGone, ErrCodeGone, "device closed")
	case errors.Is(err, device.ErrWouldBlock):
		writeError(w, http.StatusConflict, ErrCodeWouldBlock, "operation would block")
	case errors.Is(err, device.ErrTimedOut):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimedOut, "operation timed out")
	case errors.Is(err, device.ErrInterrupted):
		writeError(w, http.StatusServiceUnavailable, ErrCodeInterrupted, "operation interrupted")
	case errors.Is(err, device.ErrRequestCancelled):
		writeError(w, http.StatusConflict, ErrCodeCancelled, "request cancelled")
	case errors.Is(err, driver.ErrOutOfRange):
		writeError(w, http.StatusRequestedRangeNotSatisfiable, ErrCodeOutOfRange, err.Error())
	case errors.Is(err, device.ErrRequestFailed):
		writeError(w, http.StatusBadGateway, ErrCodeRequestFailed, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
