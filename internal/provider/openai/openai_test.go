package openai

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap/zaptest"

	"eduhub-gateway/internal/provider"
)

func newTestAdapter(t *testing.T, baseURL string) *Adapter {
	t.Helper()
	return New(Config{BaseURL: baseURL}, zaptest.NewLogger(t))
}

func TestGenerate(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	var gotPath, gotAuth string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"id":"cmpl-1","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":"Paris."}}]}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	raw, err := a.Generate(context.Background(), &provider.GenerationRequest{Prompt: "capital of France?"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/chat/completions", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)

	body := string(gotBody)
	assert.Equal(t, "gpt-4o-mini", gjson.Get(body, "model").String())
	assert.Equal(t, "user", gjson.Get(body, "messages.0.role").String())
	assert.Equal(t, "capital of France?", gjson.Get(body, "messages.0.content").String())
	assert.False(t, gjson.Get(body, "stream").Bool())

	result := provider.Normalize(ProviderID, raw)
	assert.Equal(t, "Paris.", result.Text)
}

func TestGenerateJoinsTextParts(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"choices":[]}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{
		Parts: []provider.Part{{Text: "context"}, {Text: "question"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "context\nquestion", gjson.Get(string(gotBody), "messages.0.content").String())
}

func TestGenerateRejectsInlineData(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	a := newTestAdapter(t, "http://127.0.0.1:0")

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{
		Parts: []provider.Part{
			{InlineData: &provider.InlineData{MIMEType: "image/png", Data: "aGVsbG8="}},
		},
	})
	require.Error(t, err)

	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Contains(t, reqErr.Message, "inline data")
}

func TestGenerateMissingCredential(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")

	a := newTestAdapter(t, "http://127.0.0.1:0")
	assert.False(t, a.CredentialPresent())

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, provider.IsCredentialMissing(err))
}

func TestGenerateUpstreamError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error":{"message":"invalid api key","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{Prompt: "hi"})
	require.Error(t, err)

	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusUnauthorized, reqErr.StatusCode)
	assert.Contains(t, reqErr.Message, "invalid api key")
}

func TestGenerateStream(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.True(t, gjson.GetBytes(body, "stream").Bool(), "streaming request must set stream=true")

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, delta := range []string{"Par", "is."} {
			fmt.Fprintf(w, "data: {\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", delta)
			flusher.Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	results, err := a.GenerateStream(context.Background(), &provider.GenerationRequest{Prompt: "hi"})
	require.NoError(t, err)

	var fragments []string
	for res := range results {
		require.NoError(t, res.Err)
		fragments = append(fragments, res.Fragment.Text)
	}
	assert.Equal(t, []string{"Par", "is."}, fragments)
}

func TestGenerateStreamUpstreamError(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":{"message":"overloaded","type":"server_error"}}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	_, err := a.GenerateStream(context.Background(), &provider.GenerationRequest{Prompt: "hi"})
	require.Error(t, err)

	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusServiceUnavailable, reqErr.StatusCode)
}
