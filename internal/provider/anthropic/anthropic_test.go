package anthropic

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
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	var gotPath, gotKey, gotVersion string
	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("x-api-key")
		gotVersion = r.Header.Get("anthropic-version")
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"id":"msg-1","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"Paris."}]}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	raw, err := a.Generate(context.Background(), &provider.GenerationRequest{Prompt: "capital of France?"})
	require.NoError(t, err)

	assert.Equal(t, "/v1/messages", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "2023-06-01", gotVersion)

	body := string(gotBody)
	assert.Equal(t, "claude-3-5-haiku-latest", gjson.Get(body, "model").String())
	assert.EqualValues(t, 4096, gjson.Get(body, "max_tokens").Int())
	assert.Equal(t, "user", gjson.Get(body, "messages.0.role").String())
	assert.Equal(t, "text", gjson.Get(body, "messages.0.content.0.type").String())
	assert.Equal(t, "capital of France?", gjson.Get(body, "messages.0.content.0.text").String())

	result := provider.Normalize(ProviderID, raw)
	assert.Equal(t, "Paris.", result.Text)
}

func TestGenerateSendsImageBlocks(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	var gotBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"content":[]}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{
		Parts: []provider.Part{
			{Text: "what is in this picture?"},
			{InlineData: &provider.InlineData{MIMEType: "image/jpeg", Data: "aGVsbG8="}},
		},
	})
	require.NoError(t, err)

	body := string(gotBody)
	assert.Equal(t, "text", gjson.Get(body, "messages.0.content.0.type").String())
	assert.Equal(t, "image", gjson.Get(body, "messages.0.content.1.type").String())
	assert.Equal(t, "base64", gjson.Get(body, "messages.0.content.1.source.type").String())
	assert.Equal(t, "image/jpeg", gjson.Get(body, "messages.0.content.1.source.media_type").String())
	assert.Equal(t, "aGVsbG8=", gjson.Get(body, "messages.0.content.1.source.data").String())
}

func TestGenerateMissingCredential(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")

	a := newTestAdapter(t, "http://127.0.0.1:0")
	assert.False(t, a.CredentialPresent())

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{Prompt: "hi"})
	require.Error(t, err)
	assert.True(t, provider.IsCredentialMissing(err))
}

func TestGenerateUpstreamError(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"type":"rate_limit_error","message":"rate limited"}}`)
	}))
	defer server.Close()

	a := newTestAdapter(t, server.URL)

	_, err := a.Generate(context.Background(), &provider.GenerationRequest{Prompt: "hi"})
	require.Error(t, err)

	var reqErr *provider.RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, http.StatusTooManyRequests, reqErr.StatusCode)
	assert.Contains(t, reqErr.Message, "rate limited")
}
