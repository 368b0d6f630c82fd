package handlers

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/logging"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
)

// multipartOverhead allows for boundaries and part headers on top of the file.
const multipartOverhead = 1 << 20

const uploadField = "file"

// UploadHandler accepts DuckDB file uploads.
type UploadHandler struct {
	uploads services.UploadService
	logger  *zap.Logger
}

// NewUploadHandler creates an upload handler.
func NewUploadHandler(uploads services.UploadService, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{uploads: uploads, logger: logger}
}

// RegisterRoutes registers the upload handler's routes on the given mux.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/upload-duckdb", h.Upload)
}

// Upload handles POST /api/upload-duckdb with a multipart "file" field.
// The part is streamed straight to disk.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes()+multipartOverhead)

	reader, err := r.MultipartReader()
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Expected a multipart/form-data upload")
		return
	}

	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				h.writeError(w, http.StatusRequestEntityTooLarge, "file_too_large", "File exceeds the upload limit")
				return
			}
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed multipart body")
			return
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			part.Close()
			continue
		}

		result, err := h.uploads.Process(r.Context(), part.FileName(), part)
		part.Close()
		if err != nil {
			status, code := uploadErrorStatus(err)
			h.logger.Warn("Upload rejected",
				zap.String("code", code),
				zap.String("error", logging.SanitizeError(err)))
			h.writeError(w, status, code, err.Error())
			return
		}

		if err := WriteJSON(w, http.StatusOK, result); err != nil {
			h.logger.Error("Failed to encode upload response", zap.Error(err))
		}
		return
	}

	h.writeError(w, http.StatusBadRequest, "missing_file", "No file provided in field \"file\"")
}

func (h *UploadHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
