package tools

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// WeatherClient reads forecasts from the Open-Meteo API.
type WeatherClient struct {
	baseURL string
	api     apiClient
}

// NewWeatherClient creates a client for the forecast endpoint at baseURL.
func NewWeatherClient(baseURL string, timeout time.Duration, logger *zap.Logger) *WeatherClient {
	return &WeatherClient{
		baseURL: baseURL,
		api:     newAPIClient("weather", timeout, logger),
	}
}

// Current returns the raw forecast document for a coordinate: current and
// hourly temperature plus daily sunrise and sunset in the local timezone.
func (c *WeatherClient) Current(ctx context.Context, latitude, longitude float64) (map[string]any, error) {
	if latitude < -90 || latitude > 90 || longitude < -180 || longitude > 180 {
		return nil, fmt.Errorf("coordinates out of range: %v, %v", latitude, longitude)
	}

	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid weather URL: %w", err)
	}
	q := u.Query()
	q.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	q.Set("current", "temperature_2m")
	q.Set("hourly", "temperature_2m")
	q.Set("daily", "sunrise,sunset")
	q.Set("timezone", "auto")
	u.RawQuery = q.Encode()

	c.api.logger.Debug("Fetching forecast",
		zap.Float64("latitude", latitude),
		zap.Float64("longitude", longitude))

	var forecast map[string]any
	if err := c.api.get(ctx, u.String(), &forecast); err != nil {
		return nil, err
	}
	return forecast, nil
}
