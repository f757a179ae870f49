package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"eduhub-gateway/internal/handlers"
	"eduhub-gateway/internal/metrics"
	"eduhub-gateway/internal/middleware"
)

func SetupRouter(
	r *chi.Mux,
	baseLogger *zap.Logger,
	generateHandler *handlers.GenerateHandler,
	streamHandler *handlers.StreamHandler,
	videoHandler *handlers.VideoHandler,
) {
	r.Use(metrics.Middleware)

	// base middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)

	r.Use(middleware.LoggingContext(baseLogger))
	r.Use(middleware.Recoverer())             // panic recovery
	r.Use(middleware.MaxBodySize(8*1024*1024)) // inline images ride in request bodies

	// routes
	r.Route("/v1", func(r chi.Router) {
		r.With(middleware.Timeout(90 * time.Second)).Post("/generate", generateHandler.Generate)

		// No timeout middleware on the stream route: the emitter owns its
		// lifetime and the middleware would race the SSE writer.
		r.Post("/generate/stream", streamHandler.Generate)

		r.With(middleware.Timeout(30*time.Second)).Route("/media/video", func(r chi.Router) {
			r.Post("/", videoHandler.Submit)
			r.Get("/{id}", videoHandler.Poll)
		})
	})

	// health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", metrics.Handler())
}
