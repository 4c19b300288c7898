// Package testhelpers provides a fake weather relay and canned records for tests.
package testhelpers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/gorilla/mux"

	"github.com/kjstillabower/city-weather/internal/models"
)

// Relay is an httptest server speaking the relay's current-city and forecast
// endpoints under /api. Cities are matched case-insensitively; unknown
// cities get a 404 with the relay's {message, status} body.
type Relay struct {
	server *httptest.Server

	mu             sync.Mutex
	current        map[string]models.CurrentWeather
	forecast       map[string]models.Forecast
	failStatus     int
	failRemaining  int // -1 fails forever
	bareCurrent    bool
	calls          map[string]int
	correlationIDs []string
}

func NewRelay() *Relay {
	r := &Relay{
		current:  make(map[string]models.CurrentWeather),
		forecast: make(map[string]models.Forecast),
		calls:    make(map[string]int),
	}
	router := mux.NewRouter()
	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/weather/current-city", r.handleCurrent).Methods(http.MethodGet)
	api.HandleFunc("/weather/forecast", r.handleForecast).Methods(http.MethodGet)
	r.server = httptest.NewServer(router)
	return r
}

// URL returns the base URL to hand to the relay client.
func (r *Relay) URL() string { return r.server.URL + "/api" }

func (r *Relay) Close() { r.server.Close() }

// SetCity registers both records for city.
func (r *Relay) SetCity(city string, cw models.CurrentWeather, fc models.Forecast) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(strings.TrimSpace(city))
	r.current[key] = cw
	r.forecast[key] = fc
}

// FailWith makes the next n requests (any endpoint) answer with status.
// n < 0 fails every request until Recover.
func (r *Relay) FailWith(status, n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failStatus = status
	r.failRemaining = n
}

func (r *Relay) Recover() { r.FailWith(0, 0) }

// ServeBareCurrent makes current-city answer without the {data, status} envelope.
func (r *Relay) ServeBareCurrent(bare bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bareCurrent = bare
}

// Calls returns how many requests hit the endpoint ("current" or "forecast").
func (r *Relay) Calls(endpoint string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[endpoint]
}

// TotalCalls returns the number of requests across both endpoints.
func (r *Relay) TotalCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		n += c
	}
	return n
}

// CorrelationIDs returns the X-Correlation-ID headers received, in order.
func (r *Relay) CorrelationIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.correlationIDs...)
}

// begin records the call and reports an injected failure status, if any.
func (r *Relay) begin(endpoint string, req *http.Request) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[endpoint]++
	if id := req.Header.Get("X-Correlation-ID"); id != "" {
		r.correlationIDs = append(r.correlationIDs, id)
	}
	if r.failStatus == 0 || r.failRemaining == 0 {
		return 0
	}
	if r.failRemaining > 0 {
		r.failRemaining--
	}
	return r.failStatus
}

func (r *Relay) handleCurrent(w http.ResponseWriter, req *http.Request) {
	if status := r.begin("current", req); status != 0 {
		writeError(w, status, "Weather API error")
		return
	}
	city := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("city")))
	if city == "" {
		writeError(w, http.StatusBadRequest, "City parameter is required")
		return
	}
	r.mu.Lock()
	cw, ok := r.current[city]
	bare := r.bareCurrent
	r.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "City not found")
		return
	}
	if bare {
		writeJSON(w, http.StatusOK, cw)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": cw, "status": http.StatusOK})
}

func (r *Relay) handleForecast(w http.ResponseWriter, req *http.Request) {
	if status := r.begin("forecast", req); status != 0 {
		writeError(w, status, "Weather API error")
		return
	}
	city := strings.ToLower(strings.TrimSpace(req.URL.Query().Get("city")))
	if city == "" {
		writeError(w, http.StatusBadRequest, "City parameter is required")
		return
	}
	r.mu.Lock()
	fc, ok := r.forecast[city]
	r.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "City not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"data": fc, "status": http.StatusOK})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"message": msg, "status": status})
}

// NairobiCurrent returns a current-weather record at 299.15 K (26°C).
func NairobiCurrent() models.CurrentWeather {
	return models.CurrentWeather{
		Name: "Nairobi",
		Main: models.MainReadings{
			Temp:      299.15,
			FeelsLike: 299.0,
			TempMin:   297.6,
			TempMax:   300.2,
			Pressure:  1017,
			Humidity:  41,
		},
		Weather:    []models.Condition{{ID: 802, Main: "Clouds", Description: "scattered clouds", Icon: "03d"}},
		Wind:       models.Wind{Speed: 5.14, Deg: 60},
		Clouds:     models.Clouds{All: 40},
		Sys:        models.Sys{Country: "KE", Sunrise: 1710128524, Sunset: 1710172131},
		Dt:         1710150000,
		Visibility: 10000,
	}
}

// NairobiForecast returns a forecast of items three-hour slots.
func NairobiForecast(items int) models.Forecast {
	list := make([]models.ForecastItem, items)
	base := int64(1710158400)
	for i := range list {
		dt := base + int64(i)*3*3600
		list[i] = models.ForecastItem{
			Dt:         dt,
			Main:       models.MainReadings{Temp: 295.15 + float64(i%8), Humidity: 50},
			Weather:    []models.Condition{{ID: 500, Main: "Rain", Description: "light rain", Icon: "10d"}},
			Clouds:     models.Clouds{All: 75},
			Wind:       models.Wind{Speed: 3.1, Deg: 90},
			Visibility: 10000,
			Pop:        0.4,
			Sys:        models.Sys{Pod: "d"},
			DtTxt:      fmt.Sprintf("slot-%02d", i),
		}
	}
	return models.Forecast{
		Cod:  "200",
		Cnt:  items,
		List: list,
		City: models.City{
			ID:      184745,
			Name:    "Nairobi",
			Coord:   models.Coord{Lat: -1.2833, Lon: 36.8167},
			Country: "KE",
		},
	}
}
