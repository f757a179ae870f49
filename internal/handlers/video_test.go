package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduhub-gateway/internal/media"
	"eduhub-gateway/internal/provider"
)

// mockVideoClient scripts the submit/poll protocol for handler tests.
type mockVideoClient struct {
	submitOp  media.Operation
	submitErr error

	pollOps []media.Operation
	pollErr error

	pollCalls int
}

func (m *mockVideoClient) Submit(ctx context.Context, prompt, model string) (media.Operation, error) {
	if m.submitErr != nil {
		return media.Operation{}, m.submitErr
	}
	return m.submitOp, nil
}

func (m *mockVideoClient) PollStatus(ctx context.Context, op media.Operation) (media.Operation, error) {
	if m.pollErr != nil {
		return op, m.pollErr
	}
	next := m.pollOps[m.pollCalls]
	m.pollCalls++
	next.Polls = op.Polls + 1
	return next, nil
}

func newVideoRouter(h *VideoHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/v1/media/video", h.Submit)
	r.Get("/v1/media/video/{id}", h.Poll)
	return r
}

func TestVideoSubmit(t *testing.T) {
	client := &mockVideoClient{submitOp: media.Operation{ID: "op-1", Name: "operations/abc"}}
	router := newVideoRouter(NewVideoHandler(client, 0))

	req := httptest.NewRequest(http.MethodPost, "/v1/media/video", strings.NewReader(`{"prompt":"a cat explaining fractions"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var op media.Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.Equal(t, "op-1", op.ID)
	assert.False(t, op.Done)
	assert.NotContains(t, rec.Body.String(), "operations/abc", "upstream operation name stays internal")
}

func TestVideoSubmitRequiresPrompt(t *testing.T) {
	router := newVideoRouter(NewVideoHandler(&mockVideoClient{}, 0))

	req := httptest.NewRequest(http.MethodPost, "/v1/media/video", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVideoSubmitUpstreamFailure(t *testing.T) {
	client := &mockVideoClient{submitErr: &provider.CredentialMissingError{Provider: "video", EnvVar: "GEMINI_API_KEY"}}
	router := newVideoRouter(NewVideoHandler(client, 0))

	req := httptest.NewRequest(http.MethodPost, "/v1/media/video", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotContains(t, rec.Body.String(), "GEMINI_API_KEY", "credential details never reach the client")
}

func TestVideoPollProgression(t *testing.T) {
	client := &mockVideoClient{
		submitOp: media.Operation{ID: "op-1", Name: "operations/abc"},
		pollOps: []media.Operation{
			{ID: "op-1", Name: "operations/abc", Done: false},
			{ID: "op-1", Name: "operations/abc", Done: true, VideoURI: "https://videos.example/clip.mp4"},
		},
	}
	router := newVideoRouter(NewVideoHandler(client, 0))

	submit := httptest.NewRequest(http.MethodPost, "/v1/media/video", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, submit)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// First poll: still pending.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media/video/op-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var op media.Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.False(t, op.Done)

	// Second poll: done with a result.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media/video/op-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &op))
	assert.True(t, op.Done)
	assert.Equal(t, "https://videos.example/clip.mp4", op.VideoURI)

	// Further polls return the terminal state without touching upstream.
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media/video/op-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, client.pollCalls)
}

func TestVideoPollUnknownOperation(t *testing.T) {
	router := newVideoRouter(NewVideoHandler(&mockVideoClient{}, 0))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media/video/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestVideoPollUpstreamError(t *testing.T) {
	client := &mockVideoClient{
		submitOp: media.Operation{ID: "op-1", Name: "operations/abc"},
		pollErr:  errors.New("upstream unreachable"),
	}
	router := newVideoRouter(NewVideoHandler(client, 0))

	submit := httptest.NewRequest(http.MethodPost, "/v1/media/video", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, submit)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media/video/op-1", nil))
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestVideoPollCapClosesOperation(t *testing.T) {
	client := &mockVideoClient{submitOp: media.Operation{ID: "op-1", Name: "operations/abc"}}
	h := NewVideoHandler(client, 2)
	router := newVideoRouter(h)

	submit := httptest.NewRequest(http.MethodPost, "/v1/media/video", strings.NewReader(`{"prompt":"hi"}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, submit)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Simulate an operation that has exhausted its poll budget.
	h.mu.Lock()
	op := h.ops["op-1"]
	op.Polls = 2
	h.ops["op-1"] = op
	h.mu.Unlock()

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/media/video/op-1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var got media.Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Done)
	assert.Equal(t, "generation timed out", got.Failure)
	assert.Zero(t, client.pollCalls, "capped operations are closed without another upstream call")
}
