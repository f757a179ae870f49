package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eduhub-gateway/internal/provider"
)

func collect(t *testing.T, ch <-chan provider.StreamFragment) []string {
	t.Helper()
	var out []string
	for fragment := range ch {
		out = append(out, fragment.Text)
	}
	return out
}

func TestChunkTextReconstruction(t *testing.T) {
	cases := []struct {
		name string
		text string
		size int
	}{
		{"short", "Paris", 56},
		{"exact multiple", strings.Repeat("a", 112), 56},
		{"off by one", strings.Repeat("b", 113), 56},
		{"unicode", strings.Repeat("héllo wörld ", 20), 7},
		{"single rune chunks", "abc", 1},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks := ChunkText(tc.text, tc.size)

			runes := len([]rune(tc.text))
			wantChunks := (runes + tc.size - 1) / tc.size
			assert.Len(t, chunks, wantChunks)

			assert.Equal(t, tc.text, strings.Join(chunks, ""))
			for _, chunk := range chunks {
				assert.NotEmpty(t, chunk)
				assert.LessOrEqual(t, len([]rune(chunk)), tc.size)
			}
		})
	}
}

func TestChunkTextEmptyInput(t *testing.T) {
	assert.Nil(t, ChunkText("", 56))
}

func TestStreamSimulatedReconstruction(t *testing.T) {
	text := strings.Repeat("the capital of France is Paris. ", 10)
	a := &fakeAdapter{id: "openai", credential: true, raw: openaiShapedRaw(text)}

	d := newTestDispatcher(t, a)

	ch, err := d.Stream(context.Background(), &provider.GenerationRequest{Prompt: "hi"}, Options{})
	require.NoError(t, err)

	fragments := collect(t, ch)
	assert.Equal(t, text, strings.Join(fragments, ""))
	assert.Greater(t, len(fragments), 1, "long text must be re-chunked")
	for _, f := range fragments {
		assert.NotEmpty(t, f, "empty fragments must never be emitted")
	}
}

func TestStreamTrueStreamingPassthrough(t *testing.T) {
	a := &fakeStreamingAdapter{
		fakeAdapter: fakeAdapter{id: "gemini", credential: true},
		fragments:   []string{"Par", "is"},
	}

	d := newTestDispatcher(t, a)

	ch, err := d.Stream(context.Background(), &provider.GenerationRequest{Prompt: "hi"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, []string{"Par", "is"}, collect(t, ch))
	assert.Equal(t, 1, a.streamCalls)
	assert.Zero(t, a.generateCalls, "streaming adapter must not fall back to single-shot")
}

func TestStreamFallsThroughToNextProvider(t *testing.T) {
	a := &fakeStreamingAdapter{
		fakeAdapter: fakeAdapter{id: "gemini", credential: true},
		streamErr:   errors.New("stream connect failed"),
	}
	b := &fakeAdapter{id: "openai", credential: true, raw: openaiShapedRaw("Paris")}

	d := newTestDispatcher(t, a, b)

	ch, err := d.Stream(context.Background(), &provider.GenerationRequest{Prompt: "hi"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "Paris", strings.Join(collect(t, ch), ""))
}

func TestStreamSkipsProvidersWithoutCredential(t *testing.T) {
	a := &fakeAdapter{id: "alpha", credential: false}
	b := &fakeAdapter{id: "openai", credential: true, raw: openaiShapedRaw("ok")}

	d := newTestDispatcher(t, a, b)

	ch, err := d.Stream(context.Background(), &provider.GenerationRequest{Prompt: "hi"}, Options{})
	require.NoError(t, err)

	assert.Equal(t, "ok", strings.Join(collect(t, ch), ""))
	assert.Zero(t, a.generateCalls)
}

func TestStreamAllFailYieldsNothing(t *testing.T) {
	a := &fakeAdapter{id: "alpha", credential: true, err: errors.New("down")}
	b := &fakeAdapter{id: "bravo", credential: false}

	d := newTestDispatcher(t, a, b)

	ch, err := d.Stream(context.Background(), &provider.GenerationRequest{Prompt: "hi"}, Options{})
	require.NoError(t, err)

	// Zero fragments and a closed channel: completion is the only signal.
	assert.Empty(t, collect(t, ch))
}

func TestStreamDoesNotFallBackMidStream(t *testing.T) {
	a := &fakeStreamingAdapter{
		fakeAdapter: fakeAdapter{id: "gemini", credential: true},
	}
	b := &fakeAdapter{id: "openai", credential: true, raw: openaiShapedRaw("backup text")}

	// One good fragment, then a mid-stream error.
	a.fragments = nil
	results := make(chan provider.StreamResult, 2)
	results <- provider.StreamResult{Fragment: &provider.StreamFragment{Text: "partial"}}
	results <- provider.StreamResult{Err: errors.New("connection reset")}
	close(results)
	a.scripted = results

	d := newTestDispatcher(t, a, b)

	ch, err := d.Stream(context.Background(), &provider.GenerationRequest{Prompt: "hi"}, Options{})
	require.NoError(t, err)

	fragments := collect(t, ch)
	assert.Equal(t, []string{"partial"}, fragments, "delivered fragments end the sequence; no duplicate text from a fallback")
	assert.Zero(t, b.generateCalls)
}
