package sensors

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/oszuidwest/zwfm-voiceagent/internal/util"
)

// DefaultWeatherURL is the open-meteo API base URL.
const DefaultWeatherURL = "https://api.open-meteo.com"

// Weather holds the current conditions at the field.
type Weather struct {
	Temperature float64 // °C
	Humidity    float64 // % relative humidity
}

// WeatherClient fetches current conditions from open-meteo.
type WeatherClient struct {
	BaseURL   string
	Latitude  float64
	Longitude float64
	HTTP      *http.Client
}

type forecastResponse struct {
	Current *struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
	} `json:"current"`
}

// Fetch returns the current temperature and humidity.
func (c *WeatherClient) Fetch(ctx context.Context) (Weather, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(c.Latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(c.Longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m,relative_humidity_2m")
	q.Set("timezone", "auto")

	var body forecastResponse
	if err := getJSON(ctx, c.HTTP, c.BaseURL+"/v1/forecast?"+q.Encode(), &body); err != nil {
		return Weather{}, err
	}
	if body.Current == nil {
		return Weather{}, fmt.Errorf("forecast response has no current conditions")
	}
	return Weather{
		Temperature: body.Current.Temperature,
		Humidity:    body.Current.Humidity,
	}, nil
}

// getJSON performs a GET request and decodes a JSON response into v.
func getJSON(ctx context.Context, client *http.Client, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return util.WrapError("create request", err)
	}
	req.Header.Set("Accept", "application/json")

	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return util.WrapError("send request", err)
	}
	defer util.SafeCloseFunc(resp.Body, "sensor response body")()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return util.WrapError("decode response", err)
	}
	return nil
}
