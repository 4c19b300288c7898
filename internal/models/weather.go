package models

// Condition is one entry of the relay's "weather" array.
type Condition struct {
	ID          int    `json:"id"`
	Main        string `json:"main"`
	Description string `json:"description"`
	Icon        string `json:"icon"`
}

// MainReadings holds the numeric readings block. Temperatures are Kelvin.
type MainReadings struct {
	Temp      float64  `json:"temp"`
	FeelsLike float64  `json:"feels_like"`
	TempMin   float64  `json:"temp_min"`
	TempMax   float64  `json:"temp_max"`
	Pressure  int      `json:"pressure"`
	SeaLevel  int      `json:"sea_level,omitempty"`
	GrndLevel int      `json:"grnd_level,omitempty"`
	Humidity  int      `json:"humidity"`
	TempKf    *float64 `json:"temp_kf,omitempty"`
}

type Clouds struct {
	All int `json:"all"`
}

type Wind struct {
	Speed float64 `json:"speed"`
	Deg   int     `json:"deg"`
	Gust  float64 `json:"gust,omitempty"`
}

// Rain carries the rainfall volume for the last three hours, when reported.
type Rain struct {
	ThreeHours *float64 `json:"3h,omitempty"`
}

type Sys struct {
	Pod     string `json:"pod,omitempty"`
	Country string `json:"country,omitempty"`
	Sunrise int64  `json:"sunrise,omitempty"`
	Sunset  int64  `json:"sunset,omitempty"`
}

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type City struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Coord      Coord  `json:"coord"`
	Country    string `json:"country"`
	Population int    `json:"population"`
	Timezone   int    `json:"timezone"`
	Sunrise    int64  `json:"sunrise"`
	Sunset     int64  `json:"sunset"`
}

// CurrentWeather is the record returned by the relay's current-city endpoint.
type CurrentWeather struct {
	Name       string       `json:"name"`
	Main       MainReadings `json:"main"`
	Weather    []Condition  `json:"weather"`
	Wind       Wind         `json:"wind"`
	Clouds     Clouds       `json:"clouds"`
	Rain       *Rain        `json:"rain,omitempty"`
	Sys        Sys          `json:"sys"`
	Dt         int64        `json:"dt"`
	Visibility int          `json:"visibility"`
}

// ForecastItem is one three-hour slot of a forecast.
type ForecastItem struct {
	Dt         int64        `json:"dt"`
	Main       MainReadings `json:"main"`
	Weather    []Condition  `json:"weather"`
	Clouds     Clouds       `json:"clouds"`
	Wind       Wind         `json:"wind"`
	Visibility int          `json:"visibility"`
	Pop        float64      `json:"pop"`
	Rain       *Rain        `json:"rain,omitempty"`
	Sys        Sys          `json:"sys"`
	DtTxt      string       `json:"dt_txt"`
}

// Forecast is the multi-day forecast record carried in the relay's data envelope.
type Forecast struct {
	Cod     string         `json:"cod"`
	Message int            `json:"message"`
	Cnt     int            `json:"cnt"`
	List    []ForecastItem `json:"list"`
	City    City           `json:"city"`
}
