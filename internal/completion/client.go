// Package completion translates a bounded conversation context into a single
// remote chat-completion call against an OpenAI-compatible endpoint.
package completion

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/nazlab/assistant-server/internal/config"
	"github.com/nazlab/assistant-server/internal/domain"
)

// Client generates an assistant response for a bounded sequence of turns.
type Client interface {
	GenerateResponse(ctx context.Context, turns []domain.Turn) (string, error)
}

// GroqClient implements Client against Groq's OpenAI-compatible chat API.
type GroqClient struct {
	api *openai.Client
	cfg config.CompletionConfig
}

// NewGroqClient creates a completion client from configuration.
// An empty API key is allowed here; it fails at call time with
// ErrMissingCredential so the server can start without a credential.
func NewGroqClient(cfg config.CompletionConfig) *GroqClient {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	return &GroqClient{
		api: openai.NewClientWithConfig(clientConfig),
		cfg: cfg,
	}
}

// GenerateResponse sends the given turns as a single non-streaming completion
// request and returns the first choice's content. Turns with empty trimmed
// text are dropped before the call; no retries are performed here.
func (c *GroqClient) GenerateResponse(ctx context.Context, turns []domain.Turn) (string, error) {
	if c.cfg.APIKey == "" {
		return "", ErrMissingCredential
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, turn := range turns {
		text := strings.TrimSpace(turn.Text)
		if text == "" {
			continue
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    string(turn.Role),
			Content: text,
		})
	}
	if len(messages) == 0 {
		return "", ErrInvalidRequest
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: float32(c.cfg.Temperature),
		Stream:      false,
	})
	if err != nil {
		return "", translateError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &DecodeError{Reason: "response contained no choices"}
	}

	return resp.Choices[0].Message.Content, nil
}

// translateError maps go-openai and transport errors onto the typed taxonomy.
func translateError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServerError{Status: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		// Non-2xx response whose error body did not parse.
		body := ""
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &ServerError{Status: reqErr.HTTPStatusCode, Body: body}
	}

	if isDecodeError(err) {
		return &DecodeError{Reason: "malformed response body", Err: err}
	}

	return &TransportError{Err: err}
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) ||
		errors.As(err, &typeErr) ||
		errors.Is(err, io.ErrUnexpectedEOF)
}
