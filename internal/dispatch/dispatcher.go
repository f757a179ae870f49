package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"eduhub-gateway/internal/metrics"
	"eduhub-gateway/internal/provider"
)

const (
	// DefaultChunkSize is the fragment size (in runes) for simulated
	// streaming over providers without a streaming endpoint.
	DefaultChunkSize = 56

	// DefaultFragmentDelay paces simulated fragments for UX only; it has no
	// correctness role.
	DefaultFragmentDelay = 30 * time.Millisecond
)

type Config struct {
	ChunkSize int

	// FragmentDelay paces simulated fragments. Zero selects the default;
	// a negative value disables pacing.
	FragmentDelay time.Duration
}

// Options overrides dispatch behaviour for a single call.
type Options struct {
	// Order restricts and reorders the providers to attempt, by id. Empty
	// means the dispatcher's configured order.
	Order []string
}

// Dispatcher walks an ordered provider list, trying each adapter in turn
// until one succeeds. The configured order is immutable after construction;
// per-call overrides go through Options.
type Dispatcher struct {
	order  []provider.Adapter
	byID   map[string]provider.Adapter
	cfg    Config
	logger *zap.Logger
}

func New(adapters []provider.Adapter, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.FragmentDelay == 0 {
		cfg.FragmentDelay = DefaultFragmentDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	byID := make(map[string]provider.Adapter, len(adapters))
	order := make([]provider.Adapter, 0, len(adapters))
	for _, a := range adapters {
		if _, dup := byID[a.ID()]; dup {
			continue
		}
		byID[a.ID()] = a
		order = append(order, a)
	}

	return &Dispatcher{
		order:  order,
		byID:   byID,
		cfg:    cfg,
		logger: logger.Named("dispatch"),
	}
}

// ProviderIDs returns the configured attempt order.
func (d *Dispatcher) ProviderIDs() []string {
	ids := make([]string, len(d.order))
	for i, a := range d.order {
		ids[i] = a.ID()
	}
	return ids
}

// Generate tries each provider strictly in order and returns the normalized
// result of the first one that succeeds. Failures are recorded per provider
// and skipped; when every provider fails the aggregate is returned as an
// *provider.AllProvidersFailedError. No state is retained between attempts.
func (d *Dispatcher) Generate(ctx context.Context, req *provider.GenerationRequest, opts Options) (provider.GenerationResult, error) {
	if err := req.Validate(); err != nil {
		return provider.GenerationResult{}, fmt.Errorf("dispatch: invalid request: %w", err)
	}

	adapters, err := d.resolveOrder(opts)
	if err != nil {
		return provider.GenerationResult{}, err
	}

	causes := make(map[string]error, len(adapters))

	for i, adapter := range adapters {
		id := adapter.ID()

		// Fail fast before any network call when the credential is absent.
		if !adapter.CredentialPresent() {
			causes[id] = &provider.CredentialMissingError{Provider: id, EnvVar: adapter.CredentialEnvVar()}
			metrics.ProviderAttemptsTotal.WithLabelValues(id, metrics.OutcomeNoCredential).Inc()
			d.logger.Debug("provider skipped, credential missing", zap.String("provider", id))
			continue
		}

		start := time.Now()
		raw, err := adapter.Generate(ctx, req)
		if err != nil {
			causes[id] = err
			outcome := metrics.OutcomeError
			if provider.IsCredentialMissing(err) {
				outcome = metrics.OutcomeNoCredential
			}
			metrics.ProviderAttemptsTotal.WithLabelValues(id, outcome).Inc()
			d.logger.Warn("provider failed, falling through",
				zap.String("provider", id),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
			continue
		}

		metrics.ProviderAttemptsTotal.WithLabelValues(id, metrics.OutcomeSuccess).Inc()
		if i > 0 {
			metrics.DispatchFallbacksTotal.Inc()
		}
		d.logger.Info("provider succeeded",
			zap.String("provider", id),
			zap.Int("attempt", i+1),
			zap.Duration("duration", time.Since(start)),
		)
		return provider.Normalize(id, raw), nil
	}

	allFailed := &provider.AllProvidersFailedError{Causes: causes}
	d.logger.Error("all providers failed",
		zap.Int("attempted", len(causes)),
		zap.Bool("only_missing_credentials", allFailed.OnlyMissingCredentials()),
	)
	return provider.GenerationResult{}, allFailed
}

// resolveOrder maps a per-call order override onto adapters, keeping the
// configured order when no override is given. Unknown ids are an error: a
// typo in an override must not silently shrink the chain.
func (d *Dispatcher) resolveOrder(opts Options) ([]provider.Adapter, error) {
	if len(opts.Order) == 0 {
		return d.order, nil
	}
	adapters := make([]provider.Adapter, 0, len(opts.Order))
	for _, id := range opts.Order {
		a, ok := d.byID[id]
		if !ok {
			return nil, fmt.Errorf("dispatch: unknown provider %q in order override", id)
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}
