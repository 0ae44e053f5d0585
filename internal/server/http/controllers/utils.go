package controllers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rzbill/tether/internal/errs"
)

// writeError writes an error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSONStatus(w, status, map[string]string{"error": message})
}

// writeJSON writes a 200 JSON response with the given data.
func writeJSON(w http.ResponseWriter, data any) {
	writeJSONStatus(w, http.StatusOK, data)
}

func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeNoContent writes a 204 No Content response.
func writeNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// statusFor maps an error kind to the HTTP status the relay answers with.
func statusFor(err error) int {
	switch {
	case errs.Is(err, errs.ErrInvalid):
		return http.StatusBadRequest
	case errs.Is(err, errs.ErrStorage):
		return http.StatusInsufficientStorage
	case errs.Is(err, errs.ErrNetworkUnavailable):
		return http.StatusServiceUnavailable
	case errs.Is(err, errs.ErrServerError), errs.Is(err, errs.ErrReplayFailure):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseLimit parses a limit string and returns a valid limit value.
//
// Returns 0 for empty strings or invalid values.
func parseLimit(limitStr string) int {
	if limitStr == "" {
		return 0
	}
	if limit, err := strconv.Atoi(limitStr); err == nil && limit > 0 {
		return limit
	}
	return 0
}
