package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ekaya-inc/ekaya-datachat/pkg/apperrors"
)

// ErrorResponse writes a JSON error response and returns any encoding error.
func ErrorResponse(w http.ResponseWriter, statusCode int, errorCode, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	return json.NewEncoder(w).Encode(map[string]string{
		"error":   errorCode,
		"message": message,
	})
}

// WriteJSON writes a JSON response and returns any encoding error.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) error {
	w.Header().Set("Content-Type", "application/json")
	if statusCode != http.StatusOK {
		w.WriteHeader(statusCode)
	}
	return json.NewEncoder(w).Encode(data)
}

// uploadErrorStatus maps an upload failure to its HTTP status and error code.
func uploadErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperrors.ErrUnsupportedFile):
		return http.StatusBadRequest, "invalid_extension"
	case errors.Is(err, apperrors.ErrFileTooLarge):
		return http.StatusRequestEntityTooLarge, "file_too_large"
	case errors.Is(err, apperrors.ErrInvalidInput), errors.Is(err, apperrors.ErrNoTables):
		return http.StatusBadRequest, "invalid_file"
	default:
		return http.StatusInternalServerError, "processing_failed"
	}
}
