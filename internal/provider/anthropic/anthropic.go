package anthropic

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
	ProviderID = "anthropic"

	credentialEnvVar = "ANTHROPIC_API_KEY"
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-3-5-haiku-latest"
	apiVersion       = "2023-06-01"

	defaultMaxTokens = 4096
)

// Wire types for the messages endpoint.

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"` // "base64"
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type messagesResponse struct {
	ID      string         `json:"id"`
	Model   string         `json:"model"`
	Content []contentBlock `json:"content"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type Config struct {
	BaseURL   string
	Model     string
	MaxTokens int

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter is a plain chat-completion back-end speaking the messages API:
// x-api-key plus anthropic-version headers and content-block bodies. It does
// not stream; simulated re-chunking covers it one layer up.
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
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
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
		logger:     logger.Named("anthropic"),
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

	body, err := json.Marshal(a.buildRequest(req))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "marshal request", Err: err}
	}

	url := a.cfg.BaseURL + "/v1/messages"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "build HTTP request", Err: err}
	}
	httpReq.Header.Set("x-api-key", apiKey)
	httpReq.Header.Set("anthropic-version", apiVersion)
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
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

	var parsed messagesResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "malformed response body", Err: err}
	}

	a.logger.Debug("messages request finished",
		zap.String("model", parsed.Model),
		zap.Int("content_blocks", len(parsed.Content)),
		zap.Duration("duration", time.Since(start)),
	)
	return raw, nil
}

func (a *Adapter) buildRequest(req *provider.GenerationRequest) messagesRequest {
	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}

	var blocks []contentBlock
	if len(req.Parts) == 0 {
		blocks = []contentBlock{{Type: "text", Text: req.Prompt}}
	} else {
		for _, p := range req.Parts {
			if p.InlineData != nil {
				blocks = append(blocks, contentBlock{
					Type: "image",
					Source: &imageSource{
						Type:      "base64",
						MediaType: p.InlineData.MIMEType,
						Data:      p.InlineData.Data,
					},
				})
				continue
			}
			blocks = append(blocks, contentBlock{Type: "text", Text: p.Text})
		}
	}

	return messagesRequest{
		Model:     model,
		MaxTokens: a.cfg.MaxTokens,
		Messages:  []message{{Role: "user", Content: blocks}},
	}
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
