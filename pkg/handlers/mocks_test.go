package handlers

import (
	"context"
	"io"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/chat"
	"github.com/ekaya-inc/ekaya-datachat/pkg/services"
)

// mockAnalyticsService is a configurable mock for handler tests.
type mockAnalyticsService struct {
	answer   *services.DetailedAnswer
	err      error
	requests []services.AnalyzeRequest
}

func (m *mockAnalyticsService) Analyze(ctx context.Context, req services.AnalyzeRequest) (*services.Answer, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return &services.Answer{Answer: m.answer.Answer, SessionID: m.answer.SessionID}, nil
}

func (m *mockAnalyticsService) AnalyzeDetailed(ctx context.Context, req services.AnalyzeRequest) (*services.DetailedAnswer, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.answer, nil
}

func (m *mockAnalyticsService) ResolveDatabase(ref string) (string, error) {
	return ref, m.err
}

func (m *mockAnalyticsService) Schema(ctx context.Context, ref, sessionID string) (*duckdb.SchemaInfo, string, error) {
	if m.err != nil {
		return nil, "", m.err
	}
	return duckdb.EmptySchema(), sessionID, nil
}

// mockUploadService records what the handler streamed into it.
type mockUploadService struct {
	maxBytes int64
	result   *services.UploadResult
	err      error

	filename string
	body     []byte
	calls    int
}

func (m *mockUploadService) Process(ctx context.Context, filename string, body io.Reader) (*services.UploadResult, error) {
	m.calls++
	m.filename = filename
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	m.body = data
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

func (m *mockUploadService) MaxBytes() int64 {
	return m.maxBytes
}

// mockChatStreamer writes canned text into the stream.
type mockChatStreamer struct {
	text     string
	err      error
	messages []chat.ClientMessage
}

func (m *mockChatStreamer) Stream(ctx context.Context, messages []chat.ClientMessage, w *chat.Writer) error {
	m.messages = messages
	if m.err != nil {
		return m.err
	}
	if err := w.Text(m.text); err != nil {
		return err
	}
	return w.Finish(chat.FinishStop)
}
