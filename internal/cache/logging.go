package cache

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"eduhub-gateway/internal/metrics"
	"eduhub-gateway/pkg/logging"
)

// LoggingResultCache wraps a ResultCache with logging + metrics.
type LoggingResultCache struct {
	inner ResultCache
}

// NewLoggingResultCache returns a cache that logs and records metrics.
func NewLoggingResultCache(inner ResultCache) ResultCache {
	return &LoggingResultCache{inner: inner}
}

func (c *LoggingResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	value, ok, err := c.inner.Get(ctx, key)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	result := "miss"
	if err != nil {
		result = "error"
	} else if ok {
		result = "hit"
		metrics.ResultCacheHitsTotal.Inc()
	}

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.String("cache_result", result), // hit | miss | error
		zap.Float64("latency_ms", latencyMs),
	}
	fields = appendKeyParts(fields, key)

	if err != nil {
		logger.Error("result_cache_get", append(fields, zap.Error(err))...)
	} else {
		logger.Info("result_cache_get", fields...)
	}

	return value, ok, err
}

func (c *LoggingResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := c.inner.Set(ctx, key, value, ttl)
	latencyMs := float64(time.Since(start).Microseconds()) / 1000.0

	logger := logging.L(ctx)

	fields := []zap.Field{
		zap.String("cache_key", key),
		zap.Float64("latency_ms", latencyMs),
	}
	fields = appendKeyParts(fields, key)

	if err != nil {
		logger.Error("result_cache_set", append(fields, zap.Error(err))...)
	} else {
		logger.Info("result_cache_set", fields...)
	}

	return err
}

// Expecting: result:<FEATURE>:<LANGUAGE>:<VERSION_ID>:<HASH>
func appendKeyParts(fields []zap.Field, key string) []zap.Field {
	parts := strings.Split(key, ":")
	if len(parts) != 5 || parts[0] != "result" {
		return fields
	}
	return append(fields,
		zap.String("feature", parts[1]),
		zap.String("language", parts[2]),
		zap.String("version_id", parts[3]),
		zap.String("hash", parts[4]),
	)
}
