package gemini

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
	ProviderID = "gemini"

	credentialEnvVar = "GEMINI_API_KEY"
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "gemini-2.0-flash"
)

type Config struct {
	BaseURL string
	Model   string // default model when the request carries none

	Timeout    time.Duration
	HTTPClient *http.Client
}

// Adapter is the primary structured-generation back-end. It owns the
// generateContent wire format: flat contents/parts bodies, x-goog-api-key
// authentication, and schema enforcement via generationConfig.
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
		logger:     logger.Named("gemini"),
	}
}

func (a *Adapter) ID() string { return ProviderID }

func (a *Adapter) CredentialEnvVar() string { return credentialEnvVar }

// CredentialPresent re-reads the environment on purpose: absent keys are a
// dispatch-time condition, not a startup error.
func (a *Adapter) CredentialPresent() bool {
	return os.Getenv(credentialEnvVar) != ""
}

func (a *Adapter) Generate(ctx context.Context, req *provider.GenerationRequest) (json.RawMessage, error) {
	apiKey := os.Getenv(credentialEnvVar)
	if apiKey == "" {
		return nil, &provider.CredentialMissingError{Provider: ProviderID, EnvVar: credentialEnvVar}
	}

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	url := fmt.Sprintf("%s/models/%s:generateContent", a.cfg.BaseURL, model)

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "marshal request", Err: err}
	}

	start := time.Now()
	raw, err := a.post(ctx, apiKey, url, body)
	if err != nil {
		return nil, err
	}

	// Decode once to reject malformed bodies; the raw bytes are returned
	// untouched for the normalizer.
	var parsed generateContentResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "malformed response body", Err: err}
	}

	a.logger.Debug("generateContent completed",
		zap.String("model", model),
		zap.Int("candidates", len(parsed.Candidates)),
		zap.Duration("duration", time.Since(start)),
	)
	return raw, nil
}

func (a *Adapter) post(ctx context.Context, apiKey, url string, body []byte) (json.RawMessage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "build HTTP request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

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
	return raw, nil
}

func (a *Adapter) statusError(status int, body []byte) error {
	var apiErr apiErrorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
		return &provider.RequestError{
			Provider:   ProviderID,
			StatusCode: status,
			Message:    fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Status),
		}
	}
	return &provider.RequestError{
		Provider:   ProviderID,
		StatusCode: status,
		Message:    truncate(string(body), 200),
	}
}

// buildRequest maps the canonical request onto the Gemini body shape. A
// response schema switches the generation config to JSON output; declared
// tools map to the built-in grounding tools.
func buildRequest(req *provider.GenerationRequest) generateContentRequest {
	out := generateContentRequest{
		Contents: []content{{Role: "user", Parts: buildParts(req)}},
	}

	if req.ResponseSchema != nil {
		out.GenerationConfig = &generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   req.ResponseSchema.JSON(),
		}
	}

	for _, t := range req.Tools {
		switch t.Name {
		case provider.ToolWebSearch:
			out.Tools = append(out.Tools, tool{GoogleSearch: &struct{}{}})
		case provider.ToolMapsGrounding:
			out.Tools = append(out.Tools, tool{GoogleMaps: &struct{}{}})
		}
	}
	return out
}

func buildParts(req *provider.GenerationRequest) []part {
	if len(req.Parts) == 0 {
		return []part{{Text: req.Prompt}}
	}
	parts := make([]part, 0, len(req.Parts))
	for _, p := range req.Parts {
		if p.InlineData != nil {
			parts = append(parts, part{InlineData: &inlineData{
				MimeType: p.InlineData.MIMEType,
				Data:     p.InlineData.Data,
			}})
			continue
		}
		parts = append(parts, part{Text: p.Text})
	}
	return parts
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
