package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"eduhub-gateway/internal/cache"
	"eduhub-gateway/internal/dispatch"
	"eduhub-gateway/internal/handlers"
	"eduhub-gateway/internal/httpserver"
	"eduhub-gateway/internal/media"
	"eduhub-gateway/internal/metrics"
	"eduhub-gateway/internal/provider"
	"eduhub-gateway/internal/provider/anthropic"
	"eduhub-gateway/internal/provider/gemini"
	"eduhub-gateway/internal/provider/openai"
	"eduhub-gateway/pkg/logging"
)

type Config struct {
	Port          string
	CacheBackend  string // "memory" or "redis"
	CacheTTL      time.Duration
	VersionID     string
	RedisAddr     string
	ProviderOrder []string
	VideoModel    string
	VideoMaxPolls int
}

// LoadConfig reads process configuration from the environment. Provider
// credentials are deliberately NOT read here: each adapter resolves its own
// key lazily at dispatch time, so a missing key is a skip condition rather
// than a startup error.
func LoadConfig() Config {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("PORT", "8080")
	v.SetDefault("CACHE_BACKEND", "memory")
	v.SetDefault("CACHE_TTL", "5m")
	v.SetDefault("GATEWAY_VERSION", "v1")
	v.SetDefault("REDIS_ADDR", "127.0.0.1:6379")
	v.SetDefault("PROVIDER_ORDER", "gemini,openai,anthropic")
	v.SetDefault("VIDEO_MODEL", "")
	v.SetDefault("VIDEO_MAX_POLLS", media.DefaultMaxPolls)

	var order []string
	for _, id := range strings.Split(v.GetString("PROVIDER_ORDER"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			order = append(order, id)
		}
	}

	return Config{
		Port:          v.GetString("PORT"),
		CacheBackend:  v.GetString("CACHE_BACKEND"),
		CacheTTL:      v.GetDuration("CACHE_TTL"),
		VersionID:     v.GetString("GATEWAY_VERSION"),
		RedisAddr:     v.GetString("REDIS_ADDR"),
		ProviderOrder: order,
		VideoModel:    v.GetString("VIDEO_MODEL"),
		VideoMaxPolls: v.GetInt("VIDEO_MAX_POLLS"),
	}
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("gateway exited with error: %v", err)
	}
}

func run() error {
	// .env is a dev convenience; absence is fine.
	_ = godotenv.Load()

	// ----- Logger -----
	logger := logging.DefaultLogger()
	defer logger.Sync()

	// ----- Metrics -----
	metrics.Register()

	// ----- Config -----
	cfg := LoadConfig()

	logger.Info("loaded config",
		zap.String("port", cfg.Port),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("version_id", cfg.VersionID),
		zap.Strings("provider_order", cfg.ProviderOrder),
	)

	// ----- Redis client (only if needed) -----
	var redisClient *redis.Client
	if cfg.CacheBackend == "redis" {
		redisClient = redis.NewClient(&redis.Options{
			Addr: cfg.RedisAddr,
		})

		// Fail fast if Redis is misconfigured
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Error("redis connection failed", zap.Error(err))
			return err
		}
		logger.Info("redis connection established",
			zap.String("addr", cfg.RedisAddr),
		)
	}

	// ----- Result cache -----
	cacheCfg := cache.Config{
		Backend: cfg.CacheBackend,
		TTL:     cfg.CacheTTL,
		Prefix:  "eduhub",
	}
	resultCache := cache.NewResultCache(cacheCfg, redisClient)
	resultCache = cache.NewLoggingResultCache(resultCache)

	// ----- Provider adapters + dispatcher -----
	adapters, err := buildAdapters(cfg.ProviderOrder, logger)
	if err != nil {
		return err
	}
	dispatcher := dispatch.New(adapters, dispatch.Config{}, logger)

	// ----- Video generation client -----
	videoClient := media.NewClient(media.Config{Model: cfg.VideoModel}, logger)

	// ----- Handlers -----
	generateHandler := handlers.NewGenerateHandler(resultCache, cacheCfg.TTL, cfg.VersionID, dispatcher)
	streamHandler := handlers.NewStreamHandler(dispatcher)
	videoHandler := handlers.NewVideoHandler(videoClient, cfg.VideoMaxPolls)

	// ----- Router + middleware -----
	r := chi.NewRouter()
	httpserver.SetupRouter(r, logger, generateHandler, streamHandler, videoHandler)

	// ----- HTTP server -----
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
		// No WriteTimeout: SSE streams outlive any fixed bound.
	}

	logger.Info("starting gateway",
		zap.String("addr", srv.Addr),
		zap.String("cache_backend", cfg.CacheBackend),
		zap.String("version_id", cfg.VersionID),
	)

	// Start server in background
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
		}
	}()

	// ----- Graceful shutdown -----
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
		return err
	}

	logger.Info("server shutdown complete")
	return nil
}

// buildAdapters instantiates one adapter per configured provider id, in
// order. Unknown ids are a configuration error.
func buildAdapters(order []string, logger *zap.Logger) ([]provider.Adapter, error) {
	adapters := make([]provider.Adapter, 0, len(order))
	for _, id := range order {
		switch id {
		case gemini.ProviderID:
			adapters = append(adapters, gemini.New(gemini.Config{}, logger))
		case openai.ProviderID:
			adapters = append(adapters, openai.New(openai.Config{}, logger))
		case anthropic.ProviderID:
			adapters = append(adapters, anthropic.New(anthropic.Config{}, logger))
		default:
			return nil, fmt.Errorf("unknown provider %q in PROVIDER_ORDER", id)
		}
	}
	if len(adapters) == 0 {
		return nil, fmt.Errorf("PROVIDER_ORDER configured no providers")
	}
	return adapters, nil
}
