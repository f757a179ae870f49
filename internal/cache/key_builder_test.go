package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduhub-gateway/internal/provider"
)

func TestBuildResultCacheKeyDeterministic(t *testing.T) {
	req := &provider.GenerationRequest{
		Prompt:   "explain fractions",
		Model:    "gemini-2.0-flash",
		Language: "es",
	}

	first, err := BuildResultCacheKey("quiz", req, "v1")
	require.NoError(t, err)
	second, err := BuildResultCacheKey("quiz", req, "v1")
	require.NoError(t, err)

	assert.Equal(t, first, second, "identical requests must map to the same key")
	assert.Equal(t, "quiz", first.Feature)
	assert.Equal(t, "es", first.Language)
	assert.Equal(t, "v1", first.VersionID)
	assert.Len(t, first.Hash, 64)
}

func TestBuildResultCacheKeyVariesWithRequest(t *testing.T) {
	base := &provider.GenerationRequest{Prompt: "explain fractions", Model: "gemini-2.0-flash"}
	other := &provider.GenerationRequest{Prompt: "explain decimals", Model: "gemini-2.0-flash"}

	a, err := BuildResultCacheKey("quiz", base, "v1")
	require.NoError(t, err)
	b, err := BuildResultCacheKey("quiz", other, "v1")
	require.NoError(t, err)

	assert.NotEqual(t, a.Hash, b.Hash)
}

func TestBuildResultCacheKeyDefaultsLanguage(t *testing.T) {
	key, err := BuildResultCacheKey("chat", &provider.GenerationRequest{Prompt: "hi"}, "v1")
	require.NoError(t, err)
	assert.Equal(t, "en", key.Language)
}

func TestResultCacheKeyString(t *testing.T) {
	key := ResultCacheKey{Feature: "chat", Language: "en", VersionID: "v1", Hash: "abc"}
	s := key.String()

	assert.Equal(t, "result:chat:en:v1:abc", s)
	assert.Len(t, strings.Split(s, ":"), 5, "key shape is relied on by log field extraction")
}
