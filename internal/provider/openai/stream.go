package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"eduhub-gateway/internal/provider"
)

// GenerateStream implements provider.StreamingAdapter over the SSE variant of
// the chat-completions endpoint. Each "data:" event is a delta chunk; the
// stream ends on the [DONE] sentinel or EOF.
func (a *Adapter) GenerateStream(ctx context.Context, req *provider.GenerationRequest) (<-chan provider.StreamResult, error) {
	apiKey := os.Getenv(credentialEnvVar)
	if apiKey == "" {
		return nil, &provider.CredentialMissingError{Provider: ProviderID, EnvVar: credentialEnvVar}
	}
	if req.HasInlineData() {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "inline data parts are not supported on the chat-completions path"}
	}

	body, err := json.Marshal(a.buildRequest(req, true))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "marshal stream request", Err: err}
	}

	httpReq, err := a.newRequest(ctx, apiKey, body)
	if err != nil {
		return nil, err
	}

	// No whole-request timeout on the streaming path; the caller's context
	// is the bound.
	streamClient := &http.Client{Transport: a.httpClient.Transport}

	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, a.statusError(resp.StatusCode, raw)
	}

	results := make(chan provider.StreamResult, 16)

	go func() {
		defer close(results)
		defer resp.Body.Close()

		reader := bufio.NewReader(resp.Body)
		chunkCount := 0

		for {
			select {
			case <-ctx.Done():
				a.logger.Info("stream cancelled", zap.Int("chunks", chunkCount), zap.Error(ctx.Err()))
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					a.logger.Debug("stream completed (EOF)", zap.Int("chunks", chunkCount))
					return
				}
				results <- provider.StreamResult{Err: &provider.RequestError{
					Provider: ProviderID, Message: "read stream line", Err: err,
				}}
				return
			}

			line = bytes.TrimSpace(line)
			const prefix = "data: "
			if !bytes.HasPrefix(line, []byte(prefix)) {
				continue
			}
			payload := bytes.TrimSpace(line[len(prefix):])

			if bytes.Equal(payload, []byte("[DONE]")) {
				a.logger.Debug("stream received [DONE]", zap.Int("chunks", chunkCount))
				return
			}

			var chunk streamChunk
			if err := json.Unmarshal(payload, &chunk); err != nil {
				results <- provider.StreamResult{Err: &provider.RequestError{
					Provider: ProviderID, Message: "unmarshal stream chunk", Err: err,
				}}
				return
			}

			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				chunkCount++
				select {
				case <-ctx.Done():
					return
				case results <- provider.StreamResult{Fragment: &provider.StreamFragment{Text: choice.Delta.Content}}:
				}
			}
		}
	}()

	return results, nil
}
