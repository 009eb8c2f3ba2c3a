// Package weather appends historical weather conditions for the
// activity's start location to the description, using the Open-Meteo
// archive API. Activities without GPS data are skipped.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/fitrelay/server/pkg/enricher/providers"
	"github.com/fitrelay/server/pkg/types"
)

const defaultBaseURL = "https://archive-api.open-meteo.com/v1/archive"

type WeatherProvider struct {
	// HTTPClient and BaseURL are overridable for tests.
	HTTPClient *http.Client
	BaseURL    string
}

func New() *WeatherProvider {
	return &WeatherProvider{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		BaseURL:    defaultBaseURL,
	}
}

func (p *WeatherProvider) Name() string {
	return "weather"
}

func (p *WeatherProvider) ProviderType() string {
	return providers.TypeWeather
}

func (p *WeatherProvider) Enrich(ctx context.Context, logger *slog.Logger, activity *types.StandardizedActivity, user *types.UserRecord, inputs map[string]string, forceFinal bool) providers.Outcome {
	latitude, longitude, hasGPS := activity.StartLocation()
	if !hasGPS {
		logger.Info("No GPS data found for weather enricher, skipping")
		return providers.OK(&providers.Patch{
			Metadata: map[string]string{
				"weather_status": "skipped",
				"status_detail":  "No GPS data found",
			},
		})
	}

	dateStr := activity.StartTime.Format("2006-01-02")
	url := fmt.Sprintf(
		"%s?latitude=%.6f&longitude=%.6f&start_date=%s&end_date=%s&hourly=temperature_2m,weathercode,windspeed_10m,winddirection_10m",
		p.BaseURL, latitude, longitude, dateStr, dateStr,
	)

	logger.Info("Fetching weather data",
		"latitude", latitude,
		"longitude", longitude,
		"date", dateStr,
	)

	weatherResp, outcome := p.fetch(ctx, logger, url, forceFinal)
	if weatherResp == nil {
		return outcome
	}

	closestIdx := findClosestHourIndex(weatherResp.Hourly.Time, activity.StartTime)
	if closestIdx == -1 || closestIdx >= len(weatherResp.Hourly.Temperature) {
		logger.Warn("No weather data found for activity time")
		return providers.OK(&providers.Patch{
			Metadata: map[string]string{
				"weather_status": "skipped",
				"status_detail":  "No weather data for activity time",
			},
		})
	}

	temperature := weatherResp.Hourly.Temperature[closestIdx]
	weatherCode := weatherResp.Hourly.WeatherCode[closestIdx]
	windSpeed := weatherResp.Hourly.WindSpeed[closestIdx]
	windCardinal := mapWindDirection(weatherResp.Hourly.WindDirection[closestIdx])
	weatherDesc := mapWeatherCode(weatherCode)

	includeWind := inputs["include_wind"] != "false" // default true

	var summaryText string
	if includeWind {
		summaryText = fmt.Sprintf("\n\nWeather: %.0f°C, %s • Wind: %.0f km/h %s",
			temperature, weatherDesc, windSpeed, windCardinal)
	} else {
		summaryText = fmt.Sprintf("\n\nWeather: %.0f°C, %s", temperature, weatherDesc)
	}

	logger.Info("Weather summary generated",
		"temperature", temperature,
		"weather_code", weatherCode,
		"weather_desc", weatherDesc,
	)

	return providers.OK(&providers.Patch{
		Description: activity.Description + summaryText,
		Metadata: map[string]string{
			"weather_status":      "success",
			"temperature":         fmt.Sprintf("%.0f", temperature),
			"weather_code":        fmt.Sprintf("%d", weatherCode),
			"weather_description": weatherDesc,
			"wind_speed":          fmt.Sprintf("%.0f", windSpeed),
			"wind_direction":      windCardinal,
		},
	})
}

// fetch returns the decoded response, or a terminal outcome when it
// could not be obtained. Transient failures ask for a retry unless
// retries are exhausted, in which case the provider degrades to a skip.
func (p *WeatherProvider) fetch(ctx context.Context, logger *slog.Logger, url string, forceFinal bool) (*openMeteoResponse, providers.Outcome) {
	unavailable := func(detail string, err error) providers.Outcome {
		if forceFinal {
			logger.Warn("Weather unavailable, finalizing without it", "detail", detail, "error", err)
			return providers.OK(&providers.Patch{
				Metadata: map[string]string{
					"weather_status": "skipped",
					"status_detail":  detail,
				},
			})
		}
		return providers.Retry(10*time.Minute, detail)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, providers.Fatal(fmt.Errorf("weather request: %w", err))
	}

	resp, err := p.HTTPClient.Do(req)
	if err != nil {
		logger.Error("Failed to fetch weather data", "error", err)
		return nil, unavailable("weather API request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		logger.Error("Weather API returned non-200 status", "status", resp.StatusCode, "body", string(body))
		return nil, unavailable(fmt.Sprintf("weather API returned status %d", resp.StatusCode), nil)
	}

	var weatherResp openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&weatherResp); err != nil {
		logger.Error("Failed to decode weather response", "error", err)
		return nil, providers.OK(&providers.Patch{
			Metadata: map[string]string{
				"weather_status": "skipped",
				"status_detail":  "Failed to parse weather response",
			},
		})
	}
	return &weatherResp, providers.Outcome{}
}

type openMeteoResponse struct {
	Hourly struct {
		Time          []string  `json:"time"`
		Temperature   []float64 `json:"temperature_2m"`
		WeatherCode   []int     `json:"weathercode"`
		WindSpeed     []float64 `json:"windspeed_10m"`
		WindDirection []float64 `json:"winddirection_10m"`
	} `json:"hourly"`
}

// findClosestHourIndex finds the hourly slot closest to the target time.
func findClosestHourIndex(times []string, target time.Time) int {
	minDiff := time.Duration(math.MaxInt64)
	closestIdx := -1

	for i, timeStr := range times {
		t, err := time.Parse("2006-01-02T15:04", timeStr)
		if err != nil {
			continue
		}
		diff := target.Sub(t)
		if diff < 0 {
			diff = -diff
		}
		if diff < minDiff {
			minDiff = diff
			closestIdx = i
		}
	}

	return closestIdx
}

// mapWeatherCode maps WMO weather codes to human-readable descriptions.
func mapWeatherCode(code int) string {
	switch {
	case code == 0:
		return "Clear"
	case code >= 1 && code <= 3:
		return "Partly Cloudy"
	case code >= 45 && code <= 48:
		return "Fog"
	case code >= 51 && code <= 67:
		return "Rain"
	case code >= 71 && code <= 77:
		return "Snow"
	case code >= 95 && code <= 99:
		return "Thunderstorm"
	default:
		return "Unknown"
	}
}

// mapWindDirection converts degrees to an 8-point cardinal direction.
func mapWindDirection(degrees float64) string {
	degrees = math.Mod(degrees, 360)
	if degrees < 0 {
		degrees += 360
	}
	directions := []string{"N", "NE", "E", "SE", "S", "SW", "W", "NW"}
	index := int(math.Round(degrees/45.0)) % 8
	return directions[index]
}
