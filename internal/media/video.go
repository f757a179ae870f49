// Package media implements asynchronous video generation. The protocol shape
// differs from text generation: a job is submitted, then polled until done.
// This path is single-provider on purpose; alternate back-ends for this
// modality are not assumed equivalent, so there is no fallback chain.
package media

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

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eduhub-gateway/internal/metrics"
	"eduhub-gateway/internal/provider"
)

const (
	credentialEnvVar = "GEMINI_API_KEY"
	defaultBaseURL   = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel     = "veo-3.0-generate-001"

	// DefaultMaxPolls bounds the poll loop. The wall-clock budget belongs to
	// the caller, but naive infinite polling is a resource leak, so the
	// gateway enforces a hard attempt cap as well.
	DefaultMaxPolls = 60
)

// Operation is the opaque handle for an in-progress video generation job.
// Submit returns it pending; PollStatus returns the same shape, possibly
// done with a result URI or a failure message.
type Operation struct {
	ID       string `json:"id"`
	Name     string `json:"-"` // upstream operation name, never exposed to clients
	Done     bool   `json:"done"`
	VideoURI string `json:"videoUri,omitempty"`
	Failure  string `json:"failure,omitempty"`
	Polls    int    `json:"-"`
}

// Wire types for the predictLongRunning protocol.

type submitRequest struct {
	Instances []submitInstance `json:"instances"`
}

type submitInstance struct {
	Prompt string `json:"prompt"`
}

type operationResponse struct {
	Name  string `json:"name"`
	Done  bool   `json:"done"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
	Response *struct {
		GenerateVideoResponse struct {
			GeneratedSamples []struct {
				Video struct {
					URI string `json:"uri"`
				} `json:"video"`
			} `json:"generatedSamples"`
		} `json:"generateVideoResponse"`
	} `json:"response,omitempty"`
}

type apiErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

type Config struct {
	BaseURL string
	Model   string

	Timeout    time.Duration
	HTTPClient *http.Client
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = provider.NewHTTPClient(cfg.Timeout)
	}

	return &Client{cfg: cfg, httpClient: httpClient, logger: logger.Named("media")}
}

// Submit starts a video generation job and returns its pending handle.
func (c *Client) Submit(ctx context.Context, prompt, model string) (Operation, error) {
	apiKey := os.Getenv(credentialEnvVar)
	if apiKey == "" {
		return Operation{}, &provider.CredentialMissingError{Provider: "video", EnvVar: credentialEnvVar}
	}
	if strings.TrimSpace(prompt) == "" {
		return Operation{}, fmt.Errorf("media: prompt is required")
	}
	if model == "" {
		model = c.cfg.Model
	}

	body, err := json.Marshal(submitRequest{Instances: []submitInstance{{Prompt: prompt}}})
	if err != nil {
		return Operation{}, fmt.Errorf("media: marshal submit request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:predictLongRunning", c.cfg.BaseURL, model)
	var resp operationResponse
	if err := c.do(ctx, http.MethodPost, url, apiKey, body, &resp); err != nil {
		return Operation{}, err
	}
	if resp.Name == "" {
		return Operation{}, &provider.RequestError{Provider: "video", Message: "submit returned no operation name"}
	}

	op := Operation{
		ID:   uuid.NewString(),
		Name: resp.Name,
		Done: resp.Done,
	}
	c.logger.Info("video generation submitted",
		zap.String("operation_id", op.ID),
		zap.String("model", model),
	)
	return op, nil
}

// PollStatus fetches the current state of the operation and returns the same
// handle shape, now possibly done. The caller owns the loop and its backoff;
// each handle tracks its poll count so the cap in PollUntilDone (and the HTTP
// layer) can be enforced.
func (c *Client) PollStatus(ctx context.Context, op Operation) (Operation, error) {
	apiKey := os.Getenv(credentialEnvVar)
	if apiKey == "" {
		return op, &provider.CredentialMissingError{Provider: "video", EnvVar: credentialEnvVar}
	}
	if op.Name == "" {
		return op, fmt.Errorf("media: operation has no name")
	}

	metrics.VideoPollsTotal.Inc()

	url := c.cfg.BaseURL + "/" + strings.TrimPrefix(op.Name, "/")
	var resp operationResponse
	if err := c.do(ctx, http.MethodGet, url, apiKey, nil, &resp); err != nil {
		return op, err
	}

	next := op
	next.Polls = op.Polls + 1
	next.Done = resp.Done

	if resp.Error != nil && resp.Error.Message != "" {
		next.Done = true
		next.Failure = resp.Error.Message
		return next, nil
	}
	if resp.Done && resp.Response != nil {
		samples := resp.Response.GenerateVideoResponse.GeneratedSamples
		if len(samples) > 0 {
			next.VideoURI = samples[0].Video.URI
		}
	}
	return next, nil
}

// PollUntilDone loops PollStatus with a fixed interval until the operation
// completes, the context expires, or maxPolls is reached. It exists for
// in-process callers; the HTTP layer polls one step per client request.
func (c *Client) PollUntilDone(ctx context.Context, op Operation, interval time.Duration, maxPolls int) (Operation, error) {
	if maxPolls <= 0 {
		maxPolls = DefaultMaxPolls
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for i := 0; i < maxPolls; i++ {
		next, err := c.PollStatus(ctx, op)
		if err != nil {
			return op, err
		}
		op = next
		if op.Done {
			return op, nil
		}

		select {
		case <-ctx.Done():
			return op, ctx.Err()
		case <-time.After(interval):
		}
	}
	return op, fmt.Errorf("media: operation not done after %d polls", maxPolls)
}

func (c *Client) do(ctx context.Context, method, url, apiKey string, body []byte, out *operationResponse) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return &provider.RequestError{Provider: "video", Message: "build HTTP request", Err: err}
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &provider.RequestError{Provider: "video", Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &provider.RequestError{Provider: "video", Message: "read response body", Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiErrorResponse
		if jsonErr := json.Unmarshal(raw, &apiErr); jsonErr == nil && apiErr.Error.Message != "" {
			return &provider.RequestError{
				Provider:   "video",
				StatusCode: resp.StatusCode,
				Message:    fmt.Sprintf("%s (%s)", apiErr.Error.Message, apiErr.Error.Status),
			}
		}
		msg := string(raw)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return &provider.RequestError{Provider: "video", StatusCode: resp.StatusCode, Message: msg}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &provider.RequestError{Provider: "video", Message: "malformed response body", Err: err}
	}
	return nil
}
