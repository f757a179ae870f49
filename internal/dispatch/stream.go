package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"

	"eduhub-gateway/internal/metrics"
	"eduhub-gateway/internal/provider"
)

// Stream exposes a uniform incremental-text sequence regardless of provider
// capability. Providers are attempted strictly in order; the first one to
// produce a fragment wins. Adapters implementing provider.StreamingAdapter
// pass fragments through; the rest are served by a single-shot call re-chunked
// into fixed-size fragments with a short pacing delay.
//
// The returned channel is lazy, finite and non-restartable. Fragments are
// never empty. If every provider fails the channel closes having produced
// nothing: completion of iteration is the only signal, and callers who need
// failure visibility treat "produced nothing" as the degraded case.
func (d *Dispatcher) Stream(ctx context.Context, req *provider.GenerationRequest, opts Options) (<-chan provider.StreamFragment, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	adapters, err := d.resolveOrder(opts)
	if err != nil {
		return nil, err
	}

	out := make(chan provider.StreamFragment, 16)

	go func() {
		defer close(out)

		for i, adapter := range adapters {
			id := adapter.ID()

			if !adapter.CredentialPresent() {
				metrics.ProviderAttemptsTotal.WithLabelValues(id, metrics.OutcomeNoCredential).Inc()
				d.logger.Debug("stream provider skipped, credential missing", zap.String("provider", id))
				continue
			}

			var (
				delivered bool
				err       error
			)
			if streamer, ok := adapter.(provider.StreamingAdapter); ok {
				delivered, err = d.passthrough(ctx, streamer, req, out)
			} else {
				delivered, err = d.simulate(ctx, adapter, req, out)
			}

			if err == nil {
				metrics.ProviderAttemptsTotal.WithLabelValues(id, metrics.OutcomeSuccess).Inc()
				if i > 0 {
					metrics.DispatchFallbacksTotal.Inc()
				}
				return
			}

			metrics.ProviderAttemptsTotal.WithLabelValues(id, metrics.OutcomeError).Inc()
			d.logger.Warn("stream provider failed",
				zap.String("provider", id),
				zap.Bool("fragments_delivered", delivered),
				zap.Error(err),
			)

			// Once fragments have reached the consumer the sequence cannot
			// fall over to another provider without duplicating text; end it.
			if delivered || ctx.Err() != nil {
				return
			}
		}

		d.logger.Error("stream produced no fragments, all providers failed")
	}()

	return out, nil
}

// passthrough relays true streaming fragments. It reports whether any
// fragment reached the consumer so the caller knows if fallback is still
// safe.
func (d *Dispatcher) passthrough(ctx context.Context, adapter provider.StreamingAdapter, req *provider.GenerationRequest, out chan<- provider.StreamFragment) (bool, error) {
	results, err := adapter.GenerateStream(ctx, req)
	if err != nil {
		return false, err
	}

	delivered := false
	for res := range results {
		if res.Err != nil {
			return delivered, res.Err
		}
		if res.Fragment == nil || res.Fragment.Text == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case out <- *res.Fragment:
			delivered = true
		}
	}
	return delivered, nil
}

// simulate performs a single-shot call, then re-chunks the normalized text so
// callers written against the streaming interface work uniformly against
// non-streaming providers.
func (d *Dispatcher) simulate(ctx context.Context, adapter provider.Adapter, req *provider.GenerationRequest, out chan<- provider.StreamFragment) (bool, error) {
	raw, err := adapter.Generate(ctx, req)
	if err != nil {
		return false, err
	}

	result := provider.Normalize(adapter.ID(), raw)
	delivered := false
	for _, chunk := range ChunkText(result.Text, d.cfg.ChunkSize) {
		select {
		case <-ctx.Done():
			return delivered, ctx.Err()
		case out <- provider.StreamFragment{Text: chunk}:
			delivered = true
		}

		if d.cfg.FragmentDelay > 0 {
			select {
			case <-ctx.Done():
				return delivered, ctx.Err()
			case <-time.After(d.cfg.FragmentDelay):
			}
		}
	}
	return delivered, nil
}

// ChunkText slices s into rune-safe chunks of at most size runes, preserving
// order. Concatenating the chunks reproduces s exactly; a text of rune length
// L yields ceil(L/size) chunks. Empty input yields no chunks.
func ChunkText(s string, size int) []string {
	if s == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	runes := []rune(s)
	chunks := make([]string, 0, (len(runes)+size-1)/size)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}
