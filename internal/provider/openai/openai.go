package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"eduhub-gateway/internal/provider"
)

const (
	ProviderID = "openai"

	credentialEnvVar = "OPENAI_API_KEY"
	defaultBaseURL   = "https://api.openai.com"
	defaultModel     = "gpt-4o-mini"
)

// Request shape sent upstream (chat-completions style).
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int         `json:"index"`
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Chunk shape for streaming responses (each SSE "data:" event).
type streamChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
}

type Config struct {
	BaseURL string
	Model   string

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter is a plain chat-completion back-end: Bearer authentication and a
// messages array body. It has no schema enforcement; structured output is
// validated after the fact one layer up.
type Adapter struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = provider.NewHTTPClient(cfg.Timeout)
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: httpClient,
		logger:     logger.Named("openai"),
	}
}

func (a *Adapter) ID() string { return ProviderID }

func (a *Adapter) CredentialEnvVar() string { return credentialEnvVar }

func (a *Adapter) CredentialPresent() bool {
	return os.Getenv(credentialEnvVar) != ""
}

func (a *Adapter) Generate(ctx context.Context, req *provider.GenerationRequest) (json.RawMessage, error) {
	apiKey := os.Getenv(credentialEnvVar)
	if apiKey == "" {
		return nil, &provider.CredentialMissingError{Provider: ProviderID, EnvVar: credentialEnvVar}
	}
	if req.HasInlineData() {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "inline data parts are not supported on the chat-completions path"}
	}

	body, err := json.Marshal(a.buildRequest(req, false))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "marshal request", Err: err}
	}

	start := time.Now()
	httpReq, err := a.newRequest(ctx, apiKey, body)
	if err != nil {
		return nil, err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "read response body", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, a.statusError(resp.StatusCode, raw)
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "malformed response body", Err: err}
	}

	a.logger.Debug("chat completion finished",
		zap.String("model", parsed.Model),
		zap.Int("choices", len(parsed.Choices)),
		zap.Duration("duration", time.Since(start)),
	)
	return raw, nil
}

func (a *Adapter) buildRequest(req *provider.GenerationRequest, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	return chatRequest{
		Model: model,
		Messages: []chatMessage{
			{Role: "user", Content: req.TextParts()},
		},
		Stream: stream,
	}
}

func (a *Adapter) newRequest(ctx context.Context, apiKey string, body []byte) (*http.Request, error) {
	url := a.cfg.BaseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "build HTTP request", Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+apiKey)
	httpReq.Header.Set("Content-Type", "application/json")
	return httpReq, nil
}

func (a *Adapter) statusError(status int, body []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &provider.RequestError{
			Provider:   ProviderID,
			StatusCode: status,
			Message:    fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Type),
		}
	}
	return &provider.RequestError{
		Provider:   ProviderID,
		StatusCode: status,
		Message:    truncate(string(body), 200),
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
