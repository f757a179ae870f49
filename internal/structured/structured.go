// Package structured enforces the structured-output contract: when a caller
// declares an expected JSON schema, the returned text must deserialize
// safely or degrade to "no data". Malformed structured output is common with
// LLMs, so parse failures are normalized to nil and logged instead of
// propagated.
package structured

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"eduhub-gateway/internal/provider"
	"eduhub-gateway/pkg/logging"
)

// Decode strips Markdown fences from text, trims whitespace and parses the
// remainder as JSON. On parse failure of object- or array-shaped text it runs
// one jsonrepair pass and retries; anything else, or a failed repair, returns
// nil with a log. It never returns an error by policy.
//
// The cleanup is deliberately bounded: fence stripping, whitespace trimming
// and a single repair pass. Nested fences or prose interleaved with the JSON
// body are not recovered.
func Decode(ctx context.Context, text string) json.RawMessage {
	cleaned := StripFences(text)
	if cleaned == "" {
		return nil
	}

	if json.Valid([]byte(cleaned)) {
		return json.RawMessage(cleaned)
	}

	// Repair only text that is at least shaped like a JSON document. Run on
	// prose, jsonrepair coerces it into a quoted string, and "no data" must
	// stay nil.
	if cleaned[0] != '{' && cleaned[0] != '[' {
		logging.L(ctx).Warn("structured output is not JSON", zap.String("snippet", snippet(cleaned)))
		return nil
	}

	repaired, err := jsonrepair.JSONRepair(cleaned)
	if err != nil || !json.Valid([]byte(repaired)) {
		logging.L(ctx).Warn("structured output did not parse",
			zap.String("snippet", snippet(cleaned)),
			zap.Error(err),
		)
		return nil
	}

	logging.L(ctx).Debug("structured output repaired", zap.String("snippet", snippet(cleaned)))
	return json.RawMessage(repaired)
}

// DecodeValidated decodes text and, when a schema is given, validates the
// result against it. Schema drift degrades to nil with a log for the same
// reason parse failures do: providers without schema enforcement routinely
// return close-but-nonconforming shapes.
func DecodeValidated(ctx context.Context, schema *provider.Schema, text string) json.RawMessage {
	data := Decode(ctx, text)
	if data == nil || schema == nil {
		return data
	}
	if err := Validate(schema, data); err != nil {
		logging.L(ctx).Warn("structured output failed schema validation", zap.Error(err))
		return nil
	}
	return data
}

// Validate checks data against the declared schema using JSON Schema
// semantics. The provider.Schema field set is a shared subset of JSON Schema,
// so it compiles directly.
func Validate(schema *provider.Schema, data json.RawMessage) error {
	schemaJSON := schema.JSON()
	if schemaJSON == nil {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("response.json", bytes.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile("response.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return fmt.Errorf("decode value: %w", err)
	}
	return compiled.Validate(value)
}

// StripFences removes a leading ```json (or bare ```) fence line and the
// matching trailing fence, then trims surrounding whitespace. Text without
// fences is returned trimmed.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}

	// Drop the opening fence line, including any language tag.
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[idx+1:]
	} else {
		// A fence with no newline carries no body.
		return ""
	}

	// Drop everything from the closing fence on.
	if idx := strings.LastIndex(s, "```"); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}

func snippet(s string) string {
	if len(s) > 120 {
		return s[:120] + "..."
	}
	return s
}
