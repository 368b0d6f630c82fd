package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/cache"
	"github.com/ekaya-inc/ekaya-datachat/pkg/files"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
)

// FileListResponse is the body of GET /api/files.
type FileListResponse struct {
	Files []files.Entry `json:"files"`
	Count int           `json:"count"`
}

// SessionResponse is the body of GET /api/sessions/{id}.
type SessionResponse struct {
	duckdb.SessionInfo
	History []duckdb.QueryRecord `json:"history"`
}

// CacheStatsResponse is the body of GET /api/cache/stats.
type CacheStatsResponse struct {
	Cache    cache.Stats         `json:"cache"`
	Sessions duckdb.ManagerStats `json:"sessions"`
	Files    int                 `json:"files"`
}

// AdminHandler exposes the in-memory registries for inspection and cleanup.
type AdminHandler struct {
	files    *files.Registry
	sessions *duckdb.Manager
	answers  *services.AnswerCache
	logger   *zap.Logger
}

// NewAdminHandler creates an admin handler.
func NewAdminHandler(registry *files.Registry, sessions *duckdb.Manager, answers *services.AnswerCache, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{files: registry, sessions: sessions, answers: answers, logger: logger}
}

// RegisterRoutes registers the admin handler's routes on the given mux.
func (h *AdminHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/files", h.ListFiles)
	mux.HandleFunc("DELETE /api/files/{id}", h.DeleteFile)
	mux.HandleFunc("GET /api/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("GET /api/cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /api/cache", h.ClearCache)
}

// ListFiles handles GET /api/files.
func (h *AdminHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	entries := h.files.List()
	h.writeJSON(w, FileListResponse{Files: entries, Count: len(entries)})
}

// DeleteFile handles DELETE /api/files/{id}; the id may also be a filename.
func (h *AdminHandler) DeleteFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.files.Remove(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "file not found")
		return
	}
	h.logger.Info("Removed file via API", zap.String("file", id))
	h.writeJSON(w, map[string]any{"success": true, "file_id": id})
}

// GetSession handles GET /api/sessions/{id}.
func (h *AdminHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	session := h.sessions.GetSession(r.PathValue("id"))
	if session == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	history := session.QueryHistory()
	if history == nil {
		history = []duckdb.QueryRecord{}
	}
	h.writeJSON(w, SessionResponse{SessionInfo: session.Info(), History: history})
}

// DeleteSession handles DELETE /api/sessions/{id}.
func (h *AdminHandler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.sessions.RemoveSession(id) {
		h.writeError(w, http.StatusNotFound, "not_found", "session not found")
		return
	}
	h.writeJSON(w, map[string]any{"success": true, "session_id": id})
}

// CacheStats handles GET /api/cache/stats.
func (h *AdminHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, CacheStatsResponse{
		Cache:    h.answers.Stats(),
		Sessions: h.sessions.Stats(),
		Files:    h.files.Len(),
	})
}

// ClearCache handles DELETE /api/cache.
func (h *AdminHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	cleared := h.answers.Len()
	h.answers.Clear()
	h.logger.Info("Cleared answer cache", zap.Int("entries", cleared))
	h.writeJSON(w, map[string]any{"success": true, "cleared": cleared})
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, data any) {
	if err := WriteJSON(w, http.StatusOK, data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *AdminHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	if err := ErrorResponse(w, status, code, message); err != nil {
		h.logger.Error("Failed to write error response", zap.Error(err))
	}
}
