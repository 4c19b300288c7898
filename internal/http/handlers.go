package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/city-weather/internal/consumer"
	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/topics"
	"github.com/kjstillabower/city-weather/internal/traffic"
	"github.com/kjstillabower/city-weather/internal/validation"
)

// CitySelector is the consumer side of the control API.
type CitySelector interface {
	SelectCity(city string) error
	Snapshot() consumer.WeatherState
}

// CacheInvalidator drops cached weather for one city, or all when city is blank.
type CacheInvalidator interface {
	InvalidateCache(ctx context.Context, city string) error
}

// HealthConfig holds the inputs for GET /health.
type HealthConfig struct {
	Tracker          *traffic.Tracker
	DegradedWindow   time.Duration
	DegradedErrorPct float64
	// OverloadDenials is the rate-limit denial count in DegradedWindow above
	// which the service reports overloaded. Zero disables the check.
	OverloadDenials int
	// CachePing, when set, is called to check cache reachability.
	CachePing func() error
	// BreakerState, when set, reports the relay circuit breaker state ("closed", "open", "half-open").
	BreakerState func() string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	selector     CitySelector
	invalidator  CacheInvalidator
	healthConfig *HealthConfig
	logger       *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(selector CitySelector, invalidator CacheInvalidator, healthConfig *HealthConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		selector:     selector,
		invalidator:  invalidator,
		healthConfig: healthConfig,
		logger:       logger,
	}
}

// SetShuttingDown flips /health to shutting-down so load balancers drain traffic.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// PostCity handles POST /weather/cities/{city}. The fetch runs asynchronously;
// poll GET /weather/state for the outcome.
func (h *Handler) PostCity(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	if err := h.selector.SelectCity(city); err != nil {
		if validation.IsValidationError(err) {
			writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "INTERNAL", "Unable to select city")
		loggerFrom(r, h.logger).Error("select city failed", zap.Error(err))
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"city": strings.TrimSpace(city)})
}

// GetState handles GET /weather/state. ?unit=fahrenheit switches the temperature display.
func (h *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	unit := models.ParseTemperatureUnit(r.URL.Query().Get("unit"))
	writeJSON(w, http.StatusOK, newStateView(h.selector.Snapshot(), unit))
}

// DeleteCache handles DELETE /weather/cache and DELETE /weather/cache/{city}.
func (h *Handler) DeleteCache(w http.ResponseWriter, r *http.Request) {
	city := mux.Vars(r)["city"]
	if err := h.invalidator.InvalidateCache(r.Context(), city); err != nil {
		loggerFrom(r, h.logger).Warn("cache invalidation failed", zap.String("city", city), zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "CACHE_UNAVAILABLE", "Unable to invalidate cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type stateView struct {
	City     string          `json:"city"`
	Loading  bool            `json:"loading"`
	Current  *currentView    `json:"current,omitempty"`
	Forecast *forecastView   `json:"forecast,omitempty"`
	Error    *stateErrorView `json:"error,omitempty"`
}

type currentView struct {
	Name        string  `json:"name"`
	Temperature string  `json:"temperature"`
	FeelsLike   string  `json:"feelsLike"`
	Description string  `json:"description,omitempty"`
	Humidity    int     `json:"humidity"`
	WindSpeed   float64 `json:"windSpeed"`
	ObservedAt  string  `json:"observedAt,omitempty"`
}

type forecastView struct {
	City  string             `json:"city"`
	Count int                `json:"count"`
	Items []forecastItemView `json:"items"`
}

type forecastItemView struct {
	Time        string  `json:"time"`
	Temperature string  `json:"temperature"`
	Description string  `json:"description,omitempty"`
	Pop         float64 `json:"pop"`
}

type stateErrorView struct {
	Message  string `json:"message"`
	Category string `json:"category,omitempty"`
}

func newStateView(s consumer.WeatherState, unit models.TemperatureUnit) stateView {
	v := stateView{City: s.City, Loading: s.Loading}
	if cw := s.Current; cw != nil {
		v.Current = &currentView{
			Name:        cw.Name,
			Temperature: models.FormatTemperature(cw.Main.Temp, unit),
			FeelsLike:   models.FormatTemperature(cw.Main.FeelsLike, unit),
			Description: describe(cw.Weather),
			Humidity:    cw.Main.Humidity,
			WindSpeed:   cw.Wind.Speed,
		}
		if cw.Dt > 0 {
			v.Current.ObservedAt = time.Unix(cw.Dt, 0).UTC().Format(time.RFC3339)
		}
	}
	if fc := s.Forecast; fc != nil {
		fv := &forecastView{City: fc.City.Name, Count: len(fc.List), Items: make([]forecastItemView, 0, len(fc.List))}
		for _, item := range fc.List {
			fv.Items = append(fv.Items, forecastItemView{
				Time:        time.Unix(item.Dt, 0).UTC().Format(time.RFC3339),
				Temperature: models.FormatTemperature(item.Main.Temp, unit),
				Description: describe(item.Weather),
				Pop:         item.Pop,
			})
		}
		v.Forecast = fv
	}
	if s.Err != nil {
		ev := &stateErrorView{Message: s.Err.Error()}
		var payload topics.ErrorPayload
		if errors.As(s.Err, &payload) {
			ev.Category = payload.Category
		}
		v.Error = ev
	}
	return v
}

func describe(conds []models.Condition) string {
	if len(conds) == 0 {
		return ""
	}
	return conds[0].Description
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"relay": "healthy"}
	if result.reason == "error_rate_breach" {
		checks["relay"] = "unhealthy"
	}
	if h.healthConfig != nil {
		if h.healthConfig.CachePing != nil {
			if h.healthConfig.CachePing() == nil {
				checks["cache"] = "healthy"
			} else {
				checks["cache"] = "unhealthy"
			}
		}
		if h.healthConfig.BreakerState != nil {
			checks["circuitBreaker"] = h.healthConfig.BreakerState()
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "city-weather",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates conditions in priority order:
// shutting-down > overloaded > degraded > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	cfg := h.healthConfig
	if cfg == nil || cfg.Tracker == nil || cfg.DegradedWindow <= 0 {
		return healthResult{"healthy", http.StatusOK, ""}
	}
	if cfg.OverloadDenials > 0 && cfg.Tracker.DenialCount(cfg.DegradedWindow) > cfg.OverloadDenials {
		return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
	}
	if cfg.Tracker.Degraded(cfg.DegradedWindow, cfg.DegradedErrorPct) {
		return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code, message,
// and requestId (correlation ID) when one is in the request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}
