// Package handlers provides the localhost REST API the register UI talks to.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mwren/tillpoint/internal/errors"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// writeError maps an engine error to an HTTP status and a JSON error body.
func writeError(w http.ResponseWriter, err error) {
	code := errors.CodeOf(err)

	status := http.StatusInternalServerError
	switch code {
	case errors.ErrNotFound:
		status = http.StatusNotFound
	case errors.ErrInvalid, errors.ErrValidation, errors.ErrCartEmpty:
		status = http.StatusBadRequest
	case errors.ErrSyncInProgress:
		status = http.StatusConflict
	}

	writeJSON(w, status, map[string]interface{}{
		"error": map[string]interface{}{
			"code":    string(code),
			"message": err.Error(),
		},
	})
}
