package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
)

// Error is the body of every non-2xx response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeForbidden    = "forbidden"
	ErrCodeInternal     = "internal_error"
	ErrCodeValidation   = "validation_error"
	ErrCodeLocked       = "locked"
	ErrCodeUnavailable  = "unavailable"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{Status: status, Code: code, Message: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

func writeNotFound(w http.ResponseWriter, message string) {
	writeError(w, http.StatusNotFound, ErrCodeNotFound, message)
}

func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

func writeForbidden(w http.ResponseWriter, message string) {
	writeError(w, http.StatusForbidden, ErrCodeForbidden, message)
}

func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

func writeUnavailable(w http.ResponseWriter, message string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, message)
}

// beaconErrors maps configurator errors to responses. An empty
// message reports the error text itself.
var beaconErrors = []struct {
	err     error
	status  int
	code    string
	message string
}{
	{beacon.ErrLocked, http.StatusLocked, ErrCodeLocked, "beacon is locked"},
	{beacon.ErrUnlockFailed, http.StatusForbidden, ErrCodeForbidden, "unlock key does not match"},
	{beacon.ErrWriteNotPermitted, http.StatusForbidden, ErrCodeForbidden, "write not permitted"},
	{beacon.ErrInvalidLength, http.StatusBadRequest, ErrCodeValidation, ""},
	{beacon.ErrInvalidValue, http.StatusBadRequest, ErrCodeValidation, ""},
	{beacon.ErrSlotEmpty, http.StatusNotFound, ErrCodeNotFound, "slot is empty"},
}

// writeBeaconError maps a configuration write error onto a response.
// Unrecognised errors are logged and reported as 500.
func (s *Server) writeBeaconError(w http.ResponseWriter, err error) {
	for _, e := range beaconErrors {
		if !errors.Is(err, e.err) {
			continue
		}
		msg := e.message
		if msg == "" {
			msg = err.Error()
		}
		writeError(w, e.status, e.code, msg)
		return
	}
	s.logger.Error("beacon configuration failed", "error", err)
	writeInternalError(w, "beacon configuration failed")
}
