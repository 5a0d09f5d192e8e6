package completion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/domain"
)

func testCompletionConfig(baseURL string) config.CompletionConfig {
	return config.CompletionConfig{
		APIKey:      "test-key",
		BaseURL:     baseURL,
		Model:       "llama-3.1-8b-instant",
		Temperature: 0.7,
		Timeout:     5 * time.Second,
	}
}

type capturedRequest struct {
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	Stream      bool    `json:"stream"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func TestGenerateResponseSuccess(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"Hi there"}}]}`))
	}))
	defer srv.Close()

	client := NewGroqClient(testCompletionConfig(srv.URL))
	turns := []domain.Turn{
		domain.NewTurn(domain.RoleSystem, "Be helpful."),
		domain.NewTurn(domain.RoleUser, "Hello"),
	}

	got, err := client.GenerateResponse(context.Background(), turns)
	if err != nil {
		t.Fatalf("GenerateResponse failed: %v", err)
	}
	if got != "Hi there" {
		t.Errorf("expected %q, got %q", "Hi there", got)
	}

	if captured.Model != "llama-3.1-8b-instant" {
		t.Errorf("expected model llama-3.1-8b-instant, got %q", captured.Model)
	}
	if captured.Stream {
		t.Error("expected non-streaming request")
	}
	if len(captured.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(captured.Messages))
	}
	if captured.Messages[0].Role != "system" || captured.Messages[1].Role != "user" {
		t.Errorf("expected role order [system user], got [%s %s]",
			captured.Messages[0].Role, captured.Messages[1].Role)
	}
	if captured.Messages[1].Content != "Hello" {
		t.Errorf("expected user content %q, got %q", "Hello", captured.Messages[1].Content)
	}
}

func TestGenerateResponseFiltersEmptyTurns(t *testing.T) {
	t.Parallel()

	var captured capturedRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&captured)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`))
	}))
	defer srv.Close()

	client := NewGroqClient(testCompletionConfig(srv.URL))
	turns := []domain.Turn{
		domain.NewTurn(domain.RoleUser, "   "),
		domain.NewTurn(domain.RoleUser, "real message"),
		domain.NewTurn(domain.RoleAssistant, "\t\n"),
	}

	if _, err := client.GenerateResponse(context.Background(), turns); err != nil {
		t.Fatalf("GenerateResponse failed: %v", err)
	}
	if len(captured.Messages) != 1 {
		t.Fatalf("expected empty turns filtered out, got %d messages", len(captured.Messages))
	}
	if captured.Messages[0].Content != "real message" {
		t.Errorf("unexpected message content %q", captured.Messages[0].Content)
	}
}

func TestGenerateResponseAllTurnsEmptyIsInvalidRequest(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network attempt expected for an empty message set")
	}))
	defer srv.Close()

	client := NewGroqClient(testCompletionConfig(srv.URL))
	turns := []domain.Turn{domain.NewTurn(domain.RoleUser, "   ")}

	_, err := client.GenerateResponse(context.Background(), turns)
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestGenerateResponseMissingCredential(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no network attempt expected without a credential")
	}))
	defer srv.Close()

	cfg := testCompletionConfig(srv.URL)
	cfg.APIKey = ""
	client := NewGroqClient(cfg)

	_, err := client.GenerateResponse(context.Background(), []domain.Turn{
		domain.NewTurn(domain.RoleUser, "hello"),
	})
	if !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
}

func TestGenerateResponseServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()

	client := NewGroqClient(testCompletionConfig(srv.URL))
	_, err := client.GenerateResponse(context.Background(), []domain.Turn{
		domain.NewTurn(domain.RoleUser, "hello"),
	})

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Status != http.StatusInternalServerError {
		t.Errorf("expected status 500, got %d", serverErr.Status)
	}
	if serverErr.Body != "boom" {
		t.Errorf("expected body %q, got %q", "boom", serverErr.Body)
	}
}

func TestGenerateResponseNonJSONErrorBodyIsServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	client := NewGroqClient(testCompletionConfig(srv.URL))
	_, err := client.GenerateResponse(context.Background(), []domain.Turn{
		domain.NewTurn(domain.RoleUser, "hello"),
	})

	var serverErr *ServerError
	if !errors.As(err, &serverErr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serverErr.Status != http.StatusBadGateway {
		t.Errorf("expected status 502, got %d", serverErr.Status)
	}
}

func TestGenerateResponseZeroChoicesIsDecodeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	client := NewGroqClient(testCompletionConfig(srv.URL))
	_, err := client.GenerateResponse(context.Background(), []domain.Turn{
		domain.NewTurn(domain.RoleUser, "hello"),
	})

	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for zero choices, got %v", err)
	}
}

func TestGenerateResponseTransportFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // unreachable endpoint

	client := NewGroqClient(testCompletionConfig(srv.URL))
	_, err := client.GenerateResponse(context.Background(), []domain.Turn{
		domain.NewTurn(domain.RoleUser, "hello"),
	})

	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
