package provider

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
)

// Normalize converts a provider-native response body into the canonical
// GenerationResult. Extraction is provider-specific; text that cannot be
// extracted yields an empty string, not an error, since some providers
// legitimately return empty completions. Normalize is pure: the same inputs
// always produce the same result.
func Normalize(providerID string, raw json.RawMessage) GenerationResult {
	return GenerationResult{
		Text:       extractText(providerID, raw),
		ProviderID: providerID,
		Raw:        raw,
	}
}

func extractText(providerID string, raw json.RawMessage) string {
	body := string(raw)
	switch providerID {
	case "gemini":
		return extractGeminiText(body)
	case "openai":
		return joinResults(gjson.Get(body, "choices.#.message.content"))
	case "anthropic":
		return joinResults(gjson.Get(body, `content.#(type=="text")#.text`))
	default:
		// Unknown provider: probe the common shapes in order.
		for _, path := range []string{
			"choices.#.message.content",
			"content.#.text",
			"candidates.#.content.parts.#.text",
		} {
			if v := gjson.Get(body, path); v.Exists() {
				if text := joinResults(v); text != "" {
					return text
				}
			}
		}
		return ""
	}
}

// extractGeminiText concatenates the text parts within each candidate and
// joins candidates with newlines.
func extractGeminiText(body string) string {
	var candidates []string
	gjson.Get(body, "candidates").ForEach(func(_, cand gjson.Result) bool {
		var parts []string
		cand.Get("content.parts.#.text").ForEach(func(_, part gjson.Result) bool {
			if part.String() != "" {
				parts = append(parts, part.String())
			}
			return true
		})
		if len(parts) > 0 {
			candidates = append(candidates, strings.Join(parts, ""))
		}
		return true
	})
	return strings.Join(candidates, "\n")
}

// joinResults flattens a (possibly nested) gjson array result into a single
// newline-joined string, skipping empty entries.
func joinResults(v gjson.Result) string {
	if !v.Exists() {
		return ""
	}
	if !v.IsArray() {
		return v.String()
	}
	var out []string
	v.ForEach(func(_, item gjson.Result) bool {
		if item.IsArray() {
			if joined := joinResults(item); joined != "" {
				out = append(out, joined)
			}
			return true
		}
		if item.String() != "" {
			out = append(out, item.String())
		}
		return true
	})
	return strings.Join(out, "\n")
}
