package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"eduhub-gateway/internal/dispatch"
	"eduhub-gateway/pkg/logging"
)

// StreamHandler serves the incremental generation entrypoint as SSE.
// Streamed responses are not cached: fragments are pass-through.
type StreamHandler struct {
	Dispatcher Generator
}

func NewStreamHandler(d Generator) *StreamHandler {
	return &StreamHandler{Dispatcher: d}
}

// Generate handles POST /v1/generate/stream. Each fragment is one
// `data: {"text":...}` event; the stream always terminates with
// `data: [DONE]`. A stream that ends with zero fragments is the degraded
// case and is the client's to interpret.
func (h *StreamHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

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

	fragments, err := h.Dispatcher.Stream(ctx, genReq, dispatch.Options{Order: req.Order})
	if err != nil {
		logger.Warn("stream rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		logger.Error("response writer does not support flushing")
		writeError(w, http.StatusInternalServerError, "streaming_unsupported", "streaming is not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	count := 0
	for fragment := range fragments {
		payload, err := json.Marshal(fragment)
		if err != nil {
			logger.Warn("marshal fragment", zap.Error(err))
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			logger.Info("client disconnected mid-stream", zap.Int("fragments", count))
			return
		}
		flusher.Flush()
		count++
	}

	_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()

	logger.Info("stream completed", zap.Int("fragments", count))
}
