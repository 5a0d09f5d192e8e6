package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nazlab/assistant-server/internal/chat"
	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/domain"
	"github.com/nazlab/assistant-server/internal/identity"
)

type fakeStore struct {
	history map[string][]domain.Turn
}

func (s *fakeStore) LoadHistory(_ context.Context, userKey string) ([]domain.Turn, error) {
	return s.history[userKey], nil
}

func (s *fakeStore) Append(_ context.Context, userKey string, turn domain.Turn) error {
	s.history[userKey] = append(s.history[userKey], turn)
	return nil
}

func (s *fakeStore) DeleteAll(_ context.Context, userKey string) error {
	delete(s.history, userKey)
	return nil
}

func (s *fakeStore) Ping(context.Context) error { return nil }
func (s *fakeStore) Close() error               { return nil }

type fakeClient struct {
	reply string
	err   error
}

func (c *fakeClient) GenerateResponse(context.Context, []domain.Turn) (string, error) {
	return c.reply, c.err
}

func testConfig() *config.Config {
	return &config.Config{
		Port:   "8080",
		DBPath: "unused",
		Completion: config.CompletionConfig{
			Model:   "llama-3.1-8b-instant",
			Timeout: time.Minute,
		},
		Chat: config.ChatConfig{
			SystemPrompt:  config.DefaultSystemPrompt,
			ContextWindow: 6,
		},
		RateLimit: config.RateLimitConfig{
			RequestsPerWindow: 100,
			WindowDuration:    time.Minute,
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, client *fakeClient) http.Handler {
	t.Helper()

	store := &fakeStore{history: make(map[string][]domain.Turn)}
	sessions := chat.NewManager(store, client, cfg.Chat, nil)
	limiter := NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	handler := NewHandler(sessions, limiter, cfg)
	health := NewHealthHandler(store, cfg)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	health.RegisterHealth(r)
	handler.RegisterRoutes(r)
	return r
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(identity.UserHeaderName, "teacher@example.com")
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandleSendReturnsConversationState(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, testConfig(), &fakeClient{reply: "Hi there"})
	rec := doRequest(t, router, http.MethodPost, "/api/chat/send", `{"message":"Hello"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var state chat.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if len(state.Turns) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(state.Turns))
	}
	if state.Turns[2].Text != "Hi there" {
		t.Errorf("expected assistant reply, got %q", state.Turns[2].Text)
	}
	if state.Sending {
		t.Error("expected sending false after exchange")
	}
}

func TestHandleSendRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, testConfig(), &fakeClient{reply: "unused"})

	for _, body := range []string{`{"message":""}`, `{"message":"   "}`, `{}`} {
		rec := doRequest(t, router, http.MethodPost, "/api/chat/send", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %s: expected 400, got %d", body, rec.Code)
		}
	}
}

func TestHandleSendRejectsInvalidBody(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, testConfig(), &fakeClient{reply: "unused"})
	rec := doRequest(t, router, http.MethodPost, "/api/chat/send", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid body, got %d", rec.Code)
	}
}

func TestHandleSendRateLimited(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.RateLimit.RequestsPerWindow = 1
	router := newTestRouter(t, cfg, &fakeClient{reply: "ok"})

	rec := doRequest(t, router, http.MethodPost, "/api/chat/send", `{"message":"one"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: expected 200, got %d", rec.Code)
	}

	rec = doRequest(t, router, http.MethodPost, "/api/chat/send", `{"message":"two"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request: expected 429, got %d", rec.Code)
	}
}

func TestHandleClearResetsTranscript(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, testConfig(), &fakeClient{reply: "Hi"})

	if rec := doRequest(t, router, http.MethodPost, "/api/chat/send", `{"message":"Hello"}`); rec.Code != http.StatusOK {
		t.Fatalf("send failed: %d", rec.Code)
	}

	rec := doRequest(t, router, http.MethodPost, "/api/chat/clear", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var state chat.State
	if err := json.NewDecoder(rec.Body).Decode(&state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if len(state.Turns) != 1 || state.Turns[0].Role != domain.RoleSystem {
		t.Fatalf("expected single system turn after clear, got %d turns", len(state.Turns))
	}
}

func TestHandleHistoryReturnsTurns(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, testConfig(), &fakeClient{reply: "Hi"})

	if rec := doRequest(t, router, http.MethodPost, "/api/chat/send", `{"message":"Hello"}`); rec.Code != http.StatusOK {
		t.Fatalf("send failed: %d", rec.Code)
	}

	rec := doRequest(t, router, http.MethodGet, "/api/chat/history", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload struct {
		Turns []domain.Turn `json:"turns"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode history: %v", err)
	}
	if len(payload.Turns) != 3 {
		t.Errorf("expected 3 turns, got %d", len(payload.Turns))
	}
}

func TestHealthReportsModelAndWindow(t *testing.T) {
	t.Parallel()

	router := newTestRouter(t, testConfig(), &fakeClient{})
	rec := doRequest(t, router, http.MethodGet, "/api/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var payload map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("failed to decode health payload: %v", err)
	}
	if payload["model"] != "llama-3.1-8b-instant" {
		t.Errorf("unexpected model in health payload: %v", payload["model"])
	}
}
