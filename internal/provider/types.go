package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Built-in tool declarations a request may carry. Providers that do not
// support a declared tool ignore it.
const (
	ToolWebSearch     = "web_search"
	ToolMapsGrounding = "maps_grounding"
)

// InlineData is base64-encoded binary content (images for now) embedded
// directly in a prompt part.
type InlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

// Part is one element of a structured prompt. Exactly one of Text or
// InlineData is set. Part order is significant: providers concatenate
// parts contextually.
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// Schema describes the expected JSON shape of a structured response.
// It is a contract hint: providers that support schema enforcement receive
// it on the wire, the rest ignore it and validation happens after the fact.
// The field set is the shared subset of Gemini's responseSchema and JSON
// Schema, so the same value serves both.
type Schema struct {
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Items       *Schema            `json:"items,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// JSON marshals the schema for use in a provider request body or a
// validator. A nil schema yields nil.
func (s *Schema) JSON() json.RawMessage {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	return b
}

// ToolSpec declares a provider-side tool the model may use while generating.
type ToolSpec struct {
	Name string `json:"name"`
}

// GenerationRequest is the canonical request shape handed to the dispatcher.
// It is constructed fresh per call and must not be mutated after dispatch.
// Prompt and Parts are alternatives: Parts wins when non-empty.
type GenerationRequest struct {
	Prompt         string     `json:"prompt,omitempty"`
	Parts          []Part     `json:"parts,omitempty"`
	Model          string     `json:"model,omitempty"`
	ResponseSchema *Schema    `json:"schema,omitempty"`
	Tools          []ToolSpec `json:"tools,omitempty"`
	Language       string     `json:"language,omitempty"`
}

func (r *GenerationRequest) Validate() error {
	if r.Prompt == "" && len(r.Parts) == 0 {
		return errors.New("prompt or parts is required")
	}
	for i, p := range r.Parts {
		hasText := p.Text != ""
		hasData := p.InlineData != nil
		if hasText == hasData {
			return fmt.Errorf("parts[%d] must set exactly one of text or inlineData", i)
		}
		if hasData && (p.InlineData.MIMEType == "" || p.InlineData.Data == "") {
			return fmt.Errorf("parts[%d] inlineData requires mimeType and data", i)
		}
	}
	for i, t := range r.Tools {
		if t.Name != ToolWebSearch && t.Name != ToolMapsGrounding {
			return fmt.Errorf("unknown tool %q in tools[%d]", t.Name, i)
		}
	}
	return nil
}

// TextParts joins the text parts of the request in order, falling back to
// Prompt when no parts are set. Inline data parts are skipped.
func (r *GenerationRequest) TextParts() string {
	if len(r.Parts) == 0 {
		return r.Prompt
	}
	var out string
	for _, p := range r.Parts {
		if p.Text == "" {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// HasInlineData reports whether any part carries binary content.
func (r *GenerationRequest) HasInlineData() bool {
	for _, p := range r.Parts {
		if p.InlineData != nil {
			return true
		}
	}
	return false
}

// GenerationResult is the canonical normalized response. Text is the only
// field callers may rely on for content; Raw is the untouched provider body
// for advanced callers (citations, grounding metadata).
type GenerationResult struct {
	Text       string          `json:"text"`
	ProviderID string          `json:"providerId"`
	Raw        json.RawMessage `json:"raw,omitempty"`
}

// StreamFragment is one incremental slice of generated text. Fragments are
// never empty; concatenating them in yield order reconstructs the full text.
type StreamFragment struct {
	Text string `json:"text"`
}

// StreamResult is one item on an adapter stream channel: a fragment or a
// terminal error, never both.
type StreamResult struct {
	Fragment *StreamFragment
	Err      error
}

// Adapter translates the canonical request into one back-end's wire format
// and back. Each adapter owns exactly one back-end's endpoint, auth header
// convention and body shape; those are deliberately not shared.
type Adapter interface {
	// ID is the stable provider identifier used in ordering, results and
	// error maps.
	ID() string

	// CredentialEnvVar names the configuration slot this adapter resolves
	// its credential from.
	CredentialEnvVar() string

	// CredentialPresent reports whether the adapter's credential is
	// currently configured. Resolved lazily so a key added to the
	// environment mid-process is picked up.
	CredentialPresent() bool

	// Generate performs one synchronous completion and returns the
	// provider-native response body untouched. It returns a typed error on
	// missing credential (before any network I/O), non-2xx status, or a
	// malformed reply body.
	Generate(ctx context.Context, req *GenerationRequest) (json.RawMessage, error)
}

// StreamingAdapter is implemented by adapters whose back-end supports true
// incremental streaming. Callers detect support via type assertion; adapters
// without it are served by simulated re-chunking one layer up.
type StreamingAdapter interface {
	Adapter

	// GenerateStream yields fragments as the provider emits them. Pre-stream
	// failures are returned as an error; mid-stream failures arrive on the
	// channel. The channel is closed when the stream ends.
	GenerateStream(ctx context.Context, req *GenerationRequest) (<-chan StreamResult, error)
}
