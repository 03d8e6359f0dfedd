package http

import (
	"context"
	"net/http"
	"time"

	"OminisNode/internal/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

type Options struct {
	// CORSOrigins defaults to any origin.
	CORSOrigins []string
	// Stream serves /api/stream when set.
	Stream http.HandlerFunc
	// Ping reports database health for /health.
	Ping func(ctx context.Context) error
	Log  *logger.Logger
}

type Server struct {
	Router *chi.Mux
}

func NewServer(handler *Handler, opts Options) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(opts.Log))
	r.Use(corsHandler(opts.CORSOrigins).Handler)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"service": "Ominis Indexer API", "status": "running"})
	})
	r.Get("/health", health(opts))

	r.Route("/api", func(r chi.Router) {
		r.Get("/orders", handler.ListOrders)
		r.Get("/orders/open", handler.ListOpenOrders)
		r.Get("/orders/by-issuer/{address}", handler.ListByIssuer)
		r.Get("/orders/by-solver/{address}", handler.ListBySolver)
		r.Get("/orders/{orderId}", handler.GetOrder)
		r.Get("/solutions/{orderId}", handler.GetSolution)
		r.Get("/challenges/{orderId}", handler.GetChallenge)
		r.Get("/stats", handler.Stats)
		r.Get("/sync-status", handler.SyncStatus)
		if opts.Stream != nil {
			r.Get("/stream", opts.Stream)
		}
	})

	return &Server{Router: r}
}

func corsHandler(origins []string) *cors.Cors {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"*"},
	})
}

func health(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "healthy", "database": true}
		if opts.Ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Ping(ctx); err != nil {
				resp["status"] = "degraded"
				resp["database"] = false
				writeJSON(w, http.StatusServiceUnavailable, resp)
				return
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func requestLogger(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			log.Debug("request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}
