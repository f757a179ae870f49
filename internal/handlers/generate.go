package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"eduhub-gateway/internal/cache"
	"eduhub-gateway/internal/dispatch"
	"eduhub-gateway/internal/provider"
	"eduhub-gateway/internal/structured"
	"eduhub-gateway/pkg/logging"
)

// Generator is the dispatch surface the handlers depend on; satisfied by
// *dispatch.Dispatcher and mocked in tests.
type Generator interface {
	Generate(ctx context.Context, req *provider.GenerationRequest, opts dispatch.Options) (provider.GenerationResult, error)
	Stream(ctx context.Context, req *provider.GenerationRequest, opts dispatch.Options) (<-chan provider.StreamFragment, error)
}

// GenerateRequest is the wire shape accepted by /v1/generate and
// /v1/generate/stream.
type GenerateRequest struct {
	Feature  string              `json:"feature,omitempty"`
	Prompt   string              `json:"prompt,omitempty"`
	Parts    []provider.Part     `json:"parts,omitempty"`
	Model    string              `json:"model,omitempty"`
	Schema   *provider.Schema    `json:"schema,omitempty"`
	Tools    []provider.ToolSpec `json:"tools,omitempty"`
	Language string              `json:"language,omitempty"`
	Order    []string            `json:"order,omitempty"`
}

func (r *GenerateRequest) toGeneration() *provider.GenerationRequest {
	return &provider.GenerationRequest{
		Prompt:         r.Prompt,
		Parts:          r.Parts,
		Model:          r.Model,
		ResponseSchema: r.Schema,
		Tools:          r.Tools,
		Language:       r.Language,
	}
}

// GenerateResponse is the normalized result plus, when a schema was declared,
// the decoded structured payload (null when it could not be produced).
type GenerateResponse struct {
	Text       string          `json:"text"`
	ProviderID string          `json:"providerId"`
	Raw        json.RawMessage `json:"raw,omitempty"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Short, non-technical messages for the terminal failure case. Provider
// identities and raw errors never reach the client.
var unavailableMessages = map[string]string{
	"en": "The tutor is temporarily unavailable. Please try again in a moment.",
	"es": "El tutor no está disponible temporalmente. Inténtalo de nuevo en un momento.",
	"pt": "O tutor está temporariamente indisponível. Tente novamente em instantes.",
	"de": "Der Tutor ist vorübergehend nicht verfügbar. Bitte versuche es gleich noch einmal.",
}

func unavailableMessage(language string) string {
	if msg, ok := unavailableMessages[language]; ok {
		return msg
	}
	return unavailableMessages["en"]
}

// GenerateHandler serves the synchronous generation entrypoint with a
// best-effort result cache in front of the dispatcher.
type GenerateHandler struct {
	Cache      cache.ResultCache
	CacheTTL   time.Duration
	VersionID  string
	Dispatcher Generator
}

func NewGenerateHandler(c cache.ResultCache, ttl time.Duration, versionID string, d Generator) *GenerateHandler {
	return &GenerateHandler{
		Cache:      c,
		CacheTTL:   ttl,
		VersionID:  versionID,
		Dispatcher: d,
	}
}

// Generate handles POST /v1/generate.
func (h *GenerateHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}

	genReq := req.toGeneration()
	if err := genReq.Validate(); err != nil {
		logger.Warn("invalid generation request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	feature := req.Feature
	if feature == "" {
		feature = "chat"
	}

	key, err := cache.BuildResultCacheKey(feature, genReq, h.VersionID)
	if err != nil {
		// Cache is best-effort; fall through to a live dispatch.
		logger.Warn("key_builder_error", zap.Error(err))
		h.dispatchAndRespond(w, r, genReq, req, feature, "", start)
		return
	}

	cacheKey := key.String()
	cachedBytes, hit, cacheErr := h.Cache.Get(ctx, cacheKey)
	if cacheErr != nil {
		logger.Warn("result_cache_get_error", zap.Error(cacheErr))
	}

	if hit {
		var cached GenerateResponse
		if err := json.Unmarshal(cachedBytes, &cached); err != nil {
			logger.Warn("result_cache_unmarshal_error", zap.Error(err))
		} else {
			logger.Info("generate served from cache",
				zap.String("feature", feature),
				zap.String("provider", cached.ProviderID),
				zap.Duration("total_latency_ms", time.Since(start)),
			)
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	h.dispatchAndRespond(w, r, genReq, req, feature, cacheKey, start)
}

func (h *GenerateHandler) dispatchAndRespond(
	w http.ResponseWriter,
	r *http.Request,
	genReq *provider.GenerationRequest,
	req GenerateRequest,
	feature, cacheKey string,
	start time.Time,
) {
	ctx := r.Context()
	logger := logging.L(ctx)

	result, err := h.Dispatcher.Generate(ctx, genReq, dispatch.Options{Order: req.Order})
	if err != nil {
		var allFailed *provider.AllProvidersFailedError
		if errors.As(err, &allFailed) {
			logger.Error("generate failed, all providers down",
				zap.String("feature", feature),
				zap.Any("reasons", allFailed.Reasons()),
				zap.Bool("only_missing_credentials", allFailed.OnlyMissingCredentials()),
			)
			writeError(w, http.StatusServiceUnavailable, "service_unavailable", unavailableMessage(req.Language))
			return
		}
		logger.Warn("generate rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	resp := GenerateResponse{
		Text:       result.Text,
		ProviderID: result.ProviderID,
		Raw:        result.Raw,
	}
	if req.Schema != nil {
		resp.Data = structured.DecodeValidated(ctx, req.Schema, result.Text)
	}

	if cacheKey != "" {
		if respBytes, err := json.Marshal(resp); err != nil {
			logger.Warn("marshal_response_error", zap.Error(err))
		} else if err := h.Cache.Set(ctx, cacheKey, respBytes, h.CacheTTL); err != nil {
			logger.Warn("result_cache_set_error", zap.Error(err))
		}
	}

	logger.Info("generate completed",
		zap.String("feature", feature),
		zap.String("provider", result.ProviderID),
		zap.Bool("structured", req.Schema != nil),
		zap.Duration("total_latency_ms", time.Since(start)),
	)
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON is a small helper to send JSON responses consistently.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]string{
		"error":   code,
		"message": message,
	})
}
