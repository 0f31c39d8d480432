package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxRequestBody = 1 << 20

// HealthCheck reports whether the service's dependencies are reachable.
type HealthCheck func(ctx context.Context) error

type RouterConfig struct {
	Gatherer       prometheus.Gatherer
	Health         HealthCheck
	AllowedOrigins []string
	// CreateLimiter guards recording creation. Nil means unlimited.
	CreateLimiter *RateLimiter
}

func (h *Handler) Routes(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /recordings", cfg.CreateLimiter.Middleware(http.HandlerFunc(h.CreateRecording)))
	mux.HandleFunc("GET /recordings/latest", h.StreamLatest)
	mux.HandleFunc("GET /recordings/{id}", h.GetRecording)
	mux.HandleFunc("DELETE /recordings/{id}", h.DeleteRecording)
	mux.HandleFunc("GET /healthz", healthz(cfg.Health))
	if cfg.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	var handler http.Handler = mux
	handler = RequestSizeLimitMiddleware(maxRequestBody)(handler)
	handler = CORSMiddleware(cfg.AllowedOrigins)(handler)
	handler = SecurityHeadersMiddleware(handler)
	handler = LoggingMiddleware(h.logger)(handler)
	return handler
}

func healthz(check HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
