package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ekaya-inc/ekaya-datachat/pkg/chat"
)

func TestChatHandler_StreamsDataRecords(t *testing.T) {
	streamer := &mockChatStreamer{text: "Hi there"}
	handler := NewChatHandler(streamer, zaptest.NewLogger(t))

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	body := `{"messages":[{"role":"user","content":"hello"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get(chat.DataStreamHeader))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.True(t, strings.HasPrefix(rec.Body.String(), `0:"Hi there"`+"\n"))
	assert.Contains(t, rec.Body.String(), `e:{"finishReason":"stop"`)

	require.Len(t, streamer.messages, 1)
	assert.Equal(t, "user", streamer.messages[0].Role)
	assert.Equal(t, "hello", streamer.messages[0].Content)
}

func TestChatHandler_RejectsBadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"messages":`},
		{"no messages", `{"messages":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			streamer := &mockChatStreamer{}
			handler := NewChatHandler(streamer, zaptest.NewLogger(t))

			req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			handler.Chat(rec, req)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Contains(t, rec.Body.String(), "invalid_request")
			assert.Nil(t, streamer.messages)
		})
	}
}

func TestChatHandler_StreamErrorKeepsStatus(t *testing.T) {
	streamer := &mockChatStreamer{err: errors.New("client went away")}
	handler := NewChatHandler(streamer, zaptest.NewLogger(t))

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"messages":[{"role":"user","content":"x"}]}`))
	rec := httptest.NewRecorder()
	handler.Chat(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "v1", rec.Header().Get(chat.DataStreamHeader))
}
