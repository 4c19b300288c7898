package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/city-weather/internal/models"
	"github.com/kjstillabower/city-weather/internal/observability"
	"github.com/kjstillabower/city-weather/internal/validation"
)

const (
	EndpointCurrent  = "current"
	EndpointForecast = "forecast"

	currentPath  = "/weather/current-city"
	forecastPath = "/weather/forecast"

	maxErrorBody = 4 << 10
)

// RelayClient fetches weather records from the backend relay.
type RelayClient interface {
	CurrentWeather(ctx context.Context, city string) (models.CurrentWeather, error)
	Forecast(ctx context.Context, city string) (models.Forecast, error)
}

// HTTPRelayClient calls the relay over HTTP. Every call goes through the
// Retrier; the circuit breaker and outbound limiter are optional.
type HTTPRelayClient struct {
	baseURL *url.URL
	http    *http.Client
	retrier *Retrier
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option configures an HTTPRelayClient.
type Option func(*HTTPRelayClient)

func WithCircuitBreaker(cb *gobreaker.CircuitBreaker) Option {
	return func(c *HTTPRelayClient) { c.breaker = cb }
}

// WithRateLimiter makes each attempt wait for a token before hitting the relay.
func WithRateLimiter(l *rate.Limiter) Option {
	return func(c *HTTPRelayClient) { c.limiter = l }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPRelayClient) { c.http = hc }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *HTTPRelayClient) { c.logger = l }
}

// NewHTTPRelayClient creates a client for the relay at baseURL (e.g.
// "http://localhost:9000/api"). timeout bounds each attempt, not the whole call.
func NewHTTPRelayClient(baseURL string, timeout time.Duration, retrier *Retrier, opts ...Option) (*HTTPRelayClient, error) {
	if baseURL == "" {
		return nil, errors.New("relay base URL is required")
	}
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid relay base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid relay base URL %q: scheme must be http or https", baseURL)
	}
	if retrier == nil {
		retrier = NewRetrier(DefaultMaxAttempts, DefaultBaseDelay, nil)
	}
	c := &HTTPRelayClient{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		retrier: retrier,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// NewCircuitBreaker builds a breaker that opens after failureThreshold
// consecutive failures and probes again after timeout. 4xx responses do not
// count as failures: the relay is healthy, the city is just unknown.
func NewCircuitBreaker(name string, failureThreshold uint32, timeout time.Duration, logger *zap.Logger) *gobreaker.CircuitBreaker {
	if failureThreshold == 0 {
		failureThreshold = 5
	}
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failureThreshold
		},
		IsSuccessful: func(err error) bool {
			var upErr *UpstreamError
			return err == nil || (errors.As(err, &upErr) && upErr.ClientError())
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if logger != nil {
				logger.Warn("circuit breaker state change",
					zap.String("breaker", name),
					zap.String("from", from.String()),
					zap.String("to", to.String()),
				)
			}
		},
	})
}

func (c *HTTPRelayClient) CurrentWeather(ctx context.Context, city string) (models.CurrentWeather, error) {
	var out models.CurrentWeather
	err := c.get(ctx, EndpointCurrent, currentPath, city, func(body []byte) error {
		return decodeCurrent(body, &out)
	})
	return out, err
}

func (c *HTTPRelayClient) Forecast(ctx context.Context, city string) (models.Forecast, error) {
	var out models.Forecast
	err := c.get(ctx, EndpointForecast, forecastPath, city, func(body []byte) error {
		return decodeForecast(body, &out)
	})
	return out, err
}

func (c *HTTPRelayClient) get(ctx context.Context, endpoint, path, city string, decode func([]byte) error) error {
	if strings.TrimSpace(city) == "" {
		return &validation.Error{City: city, Err: validation.ErrCityEmpty}
	}
	u := *c.baseURL
	u.Path = c.baseURL.Path + path
	u.RawQuery = url.Values{"city": []string{city}}.Encode()
	target := u.String()

	attempt := 0
	err := c.retrier.Do(ctx, func(ctx context.Context) error {
		if attempt > 0 {
			observability.RelayRetriesTotal.WithLabelValues(endpoint).Inc()
		}
		attempt++
		return c.attempt(ctx, endpoint, target, decode)
	})
	if err != nil {
		c.logger.Warn("relay call failed",
			zap.String("endpoint", endpoint),
			zap.String("city", city),
			zap.Int("attempts", attempt),
			zap.String("category", string(CategorizeError(err))),
			zap.String("correlation_id", observability.CorrelationID(ctx)),
			zap.Error(err),
		)
	}
	return err
}

func (c *HTTPRelayClient) attempt(ctx context.Context, endpoint, target string, decode func([]byte) error) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("relay rate limit wait: %w", err)
		}
	}
	if c.breaker == nil {
		return c.do(ctx, endpoint, target, decode)
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.do(ctx, endpoint, target, decode)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	return err
}

func (c *HTTPRelayClient) do(ctx context.Context, endpoint, target string, decode func([]byte) error) error {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if id := observability.CorrelationID(ctx); id != "" {
		req.Header.Set(observability.CorrelationHeader, id)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		record(endpoint, "error", start)
		return &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()
	record(endpoint, statusLabel(resp.StatusCode), start)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &UpstreamError{Endpoint: endpoint, StatusCode: resp.StatusCode, Message: relayMessage(body)}
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("read response body: %w", err)}
	}
	if err := decode(body); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrDecode, endpoint, err)
	}
	return nil
}

// envelope is the relay's {data, status} wrapper.
type envelope struct {
	Data    json.RawMessage `json:"data"`
	Status  int             `json:"status"`
	Message string          `json:"message"`
}

// decodeCurrent accepts either the enveloped record or the bare record.
func decodeCurrent(body []byte, out *models.CurrentWeather) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if hasData(env.Data) {
		return json.Unmarshal(env.Data, out)
	}
	return json.Unmarshal(body, out)
}

func decodeForecast(body []byte, out *models.Forecast) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if !hasData(env.Data) {
		return errors.New("forecast response has no data")
	}
	return json.Unmarshal(env.Data, out)
}

func hasData(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && !bytes.Equal(raw, []byte("null"))
}

// relayMessage extracts the relay's {"message": ...} error text, if any.
func relayMessage(body []byte) string {
	var env envelope
	if json.Unmarshal(body, &env) == nil && env.Message != "" {
		return env.Message
	}
	return strings.TrimSpace(string(body))
}

func record(endpoint, status string, start time.Time) {
	observability.RelayCallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.RelayDuration.WithLabelValues(endpoint, status).Observe(time.Since(start).Seconds())
}

func statusLabel(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return "success"
	case statusCode == http.StatusTooManyRequests:
		return "rate_limited"
	case statusCode >= 400 && statusCode < 500:
		return "client_error"
	case statusCode >= 500:
		return "server_error"
	}
	return "error"
}
