package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/chat"
)

// ChatStreamer runs one chat turn into a data-stream writer.
type ChatStreamer interface {
	Stream(ctx context.Context, messages []chat.ClientMessage, w *chat.Writer) error
}

// ChatRequest is the body of POST /api/chat.
type ChatRequest struct {
	Messages []chat.ClientMessage `json:"messages"`
}

// ChatHandler streams chat turns.
type ChatHandler struct {
	chat   ChatStreamer
	logger *zap.Logger
}

// NewChatHandler creates a chat handler.
func NewChatHandler(streamer ChatStreamer, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{chat: streamer, logger: logger}
}

// RegisterRoutes registers the chat handler's routes on the given mux.
func (h *ChatHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/chat", h.Chat)
}

// Chat handles POST /api/chat. The response is a data stream; errors after
// the headers are sent are reported inside the stream.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Invalid request body"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	if len(req.Messages) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "messages is required"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	chat.PrepareHeaders(w.Header())
	w.WriteHeader(http.StatusOK)

	if err := h.chat.Stream(r.Context(), req.Messages, chat.NewWriter(w)); err != nil {
		h.logger.Warn("Chat turn ended with error",
			zap.Int("messages", len(req.Messages)),
			zap.Error(err))
	}
}
