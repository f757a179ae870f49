package gemini

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"eduhub-gateway/internal/provider"
)

// GenerateStream implements provider.StreamingAdapter using the
// streamGenerateContent endpoint with alt=sse.
//
// Gemini SSE events each carry a full generateContentResponse snapshot, not a
// delta. To produce fragments we track the cumulative text length across
// events and emit only the new suffix.
func (a *Adapter) GenerateStream(ctx context.Context, req *provider.GenerationRequest) (<-chan provider.StreamResult, error) {
	apiKey := os.Getenv(credentialEnvVar)
	if apiKey == "" {
		return nil, &provider.CredentialMissingError{Provider: ProviderID, EnvVar: credentialEnvVar}
	}

	model := req.Model
	if model == "" {
		model = a.cfg.Model
	}
	url := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", a.cfg.BaseURL, model)

	body, err := json.Marshal(buildRequest(req))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "marshal stream request", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &provider.RequestError{Provider: ProviderID, Message: "build HTTP stream request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", apiKey)

	// The shared client carries a whole-request timeout which would cut a
	// long stream short, so streaming uses its own unbounded client.
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
		emitted := 0
		start := time.Now()

		for {
			select {
			case <-ctx.Done():
				a.logger.Info("stream cancelled", zap.String("model", model), zap.Error(ctx.Err()))
				return
			default:
			}

			line, err := reader.ReadBytes('\n')
			if err != nil {
				if err == io.EOF {
					a.logger.Debug("stream completed",
						zap.String("model", model),
						zap.Int("emitted_chars", emitted),
						zap.Duration("duration", time.Since(start)),
					)
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

			var snapshot generateContentResponse
			if err := json.Unmarshal(payload, &snapshot); err != nil {
				results <- provider.StreamResult{Err: &provider.RequestError{
					Provider: ProviderID, Message: "unmarshal stream event", Err: err,
				}}
				return
			}

			total := snapshotText(&snapshot)
			if len(total) <= emitted {
				continue
			}
			delta := total[emitted:]
			emitted = len(total)

			select {
			case <-ctx.Done():
				return
			case results <- provider.StreamResult{Fragment: &provider.StreamFragment{Text: delta}}:
			}
		}
	}()

	return results, nil
}

// snapshotText concatenates the text parts of the first candidate.
func snapshotText(resp *generateContentResponse) string {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}
