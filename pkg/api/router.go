// Package api provides the ops HTTP server: liveness and readiness
// probes, Prometheus metrics, and a JSON status view of the database.
// It is an observability surface, not a data plane; records are only
// reachable through the library API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/s3db-io/s3db/internal/logger"
	"github.com/s3db-io/s3db/pkg/metrics"
)

// StatusProvider is the view of the database the ops endpoints expose.
// Implemented by the database root.
type StatusProvider interface {
	// Ready reports whether the manifest is loaded and the blob store
	// reachable.
	Ready(ctx context.Context) bool

	// Status returns the JSON-serializable status document: leader
	// flags, queue stats, request costs.
	Status(ctx context.Context) (any, error)
}

// NewRouter builds the chi router for the ops endpoints.
//
// Routes:
//   - GET /health       liveness probe
//   - GET /health/ready readiness probe
//   - GET /metrics      Prometheus exposition (404 when metrics disabled)
//   - GET /status       database status document
func NewRouter(provider StatusProvider) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Route("/health", func(r chi.Router) {
		r.Get("/", liveness)
		r.Get("/ready", readiness(provider))
	})

	if reg := metrics.GetRegistry(); reg != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}

	r.Get("/status", status(provider))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/health", http.StatusTemporaryRedirect)
	})

	return r
}

func liveness(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, HealthyResponse(nil))
}

func readiness(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil || !provider.Ready(r.Context()) {
			JSON(w, http.StatusServiceUnavailable, UnhealthyResponse("database not ready"))
			return
		}
		JSON(w, http.StatusOK, HealthyResponse(nil))
	}
}

func status(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if provider == nil {
			JSON(w, http.StatusServiceUnavailable, ErrorResponse("no database attached"))
			return
		}
		doc, err := provider.Status(r.Context())
		if err != nil {
			JSON(w, http.StatusInternalServerError, ErrorResponse(err.Error()))
			return
		}
		JSON(w, http.StatusOK, OKResponse(doc))
	}
}

// requestLogger logs request start at DEBUG and completion at INFO.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		logger.Debug("ops request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Info("ops request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}
