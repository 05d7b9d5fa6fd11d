// Package weather fetches the current outdoor temperature from
// OpenWeatherMap. Lookups are best effort; callers treat failures as "no
// external temperature this time".
package weather

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const defaultBaseURL = "http://api.openweathermap.org/data/2.5/weather"

// kelvinOffset converts the API's Kelvin readings to Celsius.
const kelvinOffset = 273.15

type Client struct {
	BaseURL string
	APIKey  string
	HTTP    *http.Client
}

func New(apiKey string) *Client {
	return &Client{
		BaseURL: defaultBaseURL,
		APIKey:  apiKey,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CurrentTemperature returns the outdoor temperature in °C at the location.
func (c *Client) CurrentTemperature(latitude, longitude float64) (float64, error) {
	url := fmt.Sprintf("%s?lat=%f&lon=%f&mode=json&APPID=%s", c.BaseURL, latitude, longitude, c.APIKey)
	resp, err := c.HTTP.Get(url)
	if err != nil {
		return 0, fmt.Errorf("weather request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("weather request returned status %d", resp.StatusCode)
	}

	var payload struct {
		Main struct {
			Temp *float64 `json:"temp"`
		} `json:"main"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode weather response: %w", err)
	}
	if payload.Main.Temp == nil {
		return 0, fmt.Errorf("weather response has no temperature")
	}
	return *payload.Main.Temp - kelvinOffset, nil
}
