package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/traffic"
)

// RouterConfig holds middleware settings for the weather routes.
type RouterConfig struct {
	RequestTimeout time.Duration
	// RateLimiter is nil when rate limiting is disabled.
	RateLimiter *rate.Limiter
	Tracker     *traffic.Tracker
}

// NewRouter wires the control API. /health and /metrics bypass rate limiting.
// Weather routes sit on the root router with their middleware applied per
// route, so a method mismatch answers 405 rather than a subrouter's 404.
func NewRouter(h *Handler, cfg RouterConfig, logger *zap.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	weatherMiddleware := []mux.MiddlewareFunc{RateLimitMiddleware(cfg.RateLimiter, cfg.Tracker)}
	if cfg.RequestTimeout > 0 {
		weatherMiddleware = append(weatherMiddleware, TimeoutMiddleware(cfg.RequestTimeout))
	}
	weather := func(fn http.HandlerFunc) http.Handler {
		var handler http.Handler = fn
		for i := len(weatherMiddleware) - 1; i >= 0; i-- {
			handler = weatherMiddleware[i](handler)
		}
		return handler
	}
	router.Handle("/weather/state", weather(h.GetState)).Methods(http.MethodGet)
	router.Handle("/weather/cities/{city}", weather(h.PostCity)).Methods(http.MethodPost)
	router.Handle("/weather/cache", weather(h.DeleteCache)).Methods(http.MethodDelete)
	router.Handle("/weather/cache/{city}", weather(h.DeleteCache)).Methods(http.MethodDelete)

	return router
}
