package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-datachat/pkg/adapters/duckdb"
	"github.com/ekaya-inc/ekaya-datachat/pkg/config"
)

func TestHealthHandler_Health_WithoutSessionManager(t *testing.T) {
	cfg := &config.Config{
		Version: "test-version",
		Env:     "test",
	}
	handler := NewHealthHandler(cfg, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got '%s'", response.Status)
	}
	if response.Sessions != nil {
		t.Error("expected nil sessions when session manager not provided")
	}
}

func TestHealthHandler_Health_WithSessionManager(t *testing.T) {
	cfg := &config.Config{
		Version: "test-version",
		Env:     "test",
	}

	manager := duckdb.NewManager(duckdb.ManagerConfig{
		MaxSessions:     7,
		TTL:             10 * time.Minute,
		CleanupInterval: -1,
	}, zap.NewNop())
	defer manager.Close()

	handler := NewHealthHandler(cfg, manager, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	handler.Health(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Sessions == nil {
		t.Fatal("expected non-nil sessions when session manager provided")
	}
	if response.Sessions.TotalSessions != 0 {
		t.Errorf("expected 0 sessions, got %d", response.Sessions.TotalSessions)
	}
	if response.Sessions.MaxSessions != 7 {
		t.Errorf("expected max 7 sessions, got %d", response.Sessions.MaxSessions)
	}
	if response.Sessions.TTLSeconds != 600 {
		t.Errorf("expected TTL 600 seconds, got %d", response.Sessions.TTLSeconds)
	}
}

func TestHealthHandler_Ping(t *testing.T) {
	cfg := &config.Config{
		Version: "1.2.3",
		Env:     "test",
	}
	handler := NewHealthHandler(cfg, nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()

	handler.Ping(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, rec.Code)
	}

	var response PingResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}

	if response.Version != "1.2.3" {
		t.Errorf("expected version '1.2.3', got '%s'", response.Version)
	}
	if response.Service != "ekaya-datachat" {
		t.Errorf("expected service 'ekaya-datachat', got '%s'", response.Service)
	}
	if response.Environment != "test" {
		t.Errorf("expected environment 'test', got '%s'", response.Environment)
	}
	if response.GoVersion == "" {
		t.Error("expected non-empty go_version")
	}
}

func TestHealthHandler_RegisterRoutes(t *testing.T) {
	handler := NewHealthHandler(&config.Config{}, nil, zap.NewNop())

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	for _, path := range []string{"/health", "/ping"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusOK, rec.Code)
		}
	}
}
