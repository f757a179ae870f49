package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"eduhub-gateway/internal/media"
	"eduhub-gateway/internal/provider"
	"eduhub-gateway/pkg/logging"
)

// VideoSubmitter is the media surface the handler depends on; satisfied by
// *media.Client and mocked in tests.
type VideoSubmitter interface {
	Submit(ctx context.Context, prompt, model string) (media.Operation, error)
	PollStatus(ctx context.Context, op media.Operation) (media.Operation, error)
}

type videoSubmitRequest struct {
	Prompt   string `json:"prompt"`
	Model    string `json:"model,omitempty"`
	Language string `json:"language,omitempty"`
}

// VideoHandler exposes the asynchronous video path: one submit, then one
// poll step per client request. Handles live in memory for the lifetime of
// the process; a handle that exceeds the poll cap is closed out as failed so
// a client retry loop can never poll forever.
type VideoHandler struct {
	Client   VideoSubmitter
	MaxPolls int

	mu  sync.Mutex
	ops map[string]media.Operation
}

func NewVideoHandler(client VideoSubmitter, maxPolls int) *VideoHandler {
	if maxPolls <= 0 {
		maxPolls = media.DefaultMaxPolls
	}
	return &VideoHandler{
		Client:   client,
		MaxPolls: maxPolls,
		ops:      make(map[string]media.Operation),
	}
}

// Submit handles POST /v1/media/video.
func (h *VideoHandler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	var req videoSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	if req.Prompt == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
		return
	}

	op, err := h.Client.Submit(ctx, req.Prompt, req.Model)
	if err != nil {
		if provider.IsCredentialMissing(err) {
			logger.Error("video submit failed, no credential", zap.Error(err))
		} else {
			logger.Error("video submit failed", zap.Error(err))
		}
		writeError(w, http.StatusServiceUnavailable, "service_unavailable", unavailableMessage(req.Language))
		return
	}

	h.mu.Lock()
	h.ops[op.ID] = op
	h.mu.Unlock()

	logger.Info("video operation created", zap.String("operation_id", op.ID))
	writeJSON(w, http.StatusAccepted, op)
}

// Poll handles GET /v1/media/video/{id}. Each call performs exactly one
// upstream status check; the client owns the retry loop and its backoff.
func (h *VideoHandler) Poll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)

	id := chi.URLParam(r, "id")

	h.mu.Lock()
	op, ok := h.ops[id]
	h.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "unknown operation")
		return
	}

	if op.Done {
		writeJSON(w, http.StatusOK, op)
		return
	}

	if op.Polls >= h.MaxPolls {
		op.Done = true
		op.Failure = "generation timed out"
		h.mu.Lock()
		h.ops[id] = op
		h.mu.Unlock()
		logger.Warn("video operation exceeded poll cap",
			zap.String("operation_id", id),
			zap.Int("polls", op.Polls),
		)
		writeJSON(w, http.StatusOK, op)
		return
	}

	next, err := h.Client.PollStatus(ctx, op)
	if err != nil {
		logger.Error("video poll failed", zap.String("operation_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, "poll_failed", "could not fetch operation status")
		return
	}

	h.mu.Lock()
	h.ops[id] = next
	h.mu.Unlock()

	if next.Done {
		logger.Info("video operation finished",
			zap.String("operation_id", id),
			zap.Bool("failed", next.Failure != ""),
			zap.Int("polls", next.Polls),
		)
	}
	writeJSON(w, http.StatusOK, next)
}
