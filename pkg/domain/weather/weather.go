// Package weather implements current-conditions and forecast tasks over the
// wttr.in JSON API.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/opencli/daemon/pkg/domain"
)

// Domain handles weather_* task types.
type Domain struct {
	baseURL string
	client  *http.Client
}

// New returns the weather domain backed by wttr.in.
func New() *Domain {
	return &Domain{
		baseURL: "https://wttr.in",
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// NewWithBaseURL overrides the API endpoint; used by tests.
func NewWithBaseURL(baseURL string) *Domain {
	d := New()
	d.baseURL = strings.TrimRight(baseURL, "/")
	return d
}

func (d *Domain) ID() string          { return "weather" }
func (d *Domain) Name() string        { return "Weather" }
func (d *Domain) Description() string { return "Check current weather and forecast (uses wttr.in)" }

func (d *Domain) TaskTypes() []string {
	return []string{"weather_current", "weather_forecast"}
}

func (d *Domain) DisplayConfigs() map[string]domain.DisplayConfig {
	return map[string]domain.DisplayConfig{
		"weather_current": {
			CardType: "weather", TitleTemplate: "Weather",
			Icon: "cloud", Color: "#03A9F4",
		},
		"weather_forecast": {
			CardType: "weather", TitleTemplate: "Forecast",
			Icon: "wb_sunny", Color: "#03A9F4",
		},
	}
}

func (d *Domain) Execute(ctx context.Context, taskType string, data map[string]any) domain.Result {
	switch taskType {
	case "weather_current":
		return d.current(ctx, data)
	case "weather_forecast":
		return d.forecast(ctx, data)
	}
	return domain.Failf("Unknown weather task: %s", taskType)
}

// wttr.in wraps most scalar values in one-element {"value": ...} arrays.
type wttrValue struct {
	Value string `json:"value"`
}

type wttrReport struct {
	CurrentCondition []struct {
		TempC          string      `json:"temp_C"`
		TempF          string      `json:"temp_F"`
		FeelsLikeC     string      `json:"FeelsLikeC"`
		Humidity       string      `json:"humidity"`
		WindspeedMiles string      `json:"windspeedMiles"`
		Winddir16Point string      `json:"winddir16Point"`
		WeatherDesc    []wttrValue `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName []wttrValue `json:"areaName"`
		Country  []wttrValue `json:"country"`
	} `json:"nearest_area"`
	Weather []struct {
		Date     string `json:"date"`
		MaxTempC string `json:"maxtempC"`
		MinTempC string `json:"mintempC"`
		MaxTempF string `json:"maxtempF"`
		MinTempF string `json:"mintempF"`
		Hourly   []struct {
			WeatherDesc []wttrValue `json:"weatherDesc"`
		} `json:"hourly"`
	} `json:"weather"`
}

func (d *Domain) fetch(ctx context.Context, location string) (*wttrReport, error) {
	reqURL := fmt.Sprintf("%s/%s?format=j1", d.baseURL, url.PathEscape(location))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("wttr.in returned %d", resp.StatusCode)
	}
	var report wttrReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return nil, err
	}
	return &report, nil
}

func firstValue(vals []wttrValue) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0].Value
}

func (d *Domain) current(ctx context.Context, data map[string]any) domain.Result {
	location, _ := data["location"].(string)
	report, err := d.fetch(ctx, location)
	if err != nil {
		return domain.Result{"success": false, "error": "Failed to fetch weather data", "domain": "weather"}
	}
	if len(report.CurrentCondition) == 0 {
		return domain.Result{"success": false, "error": "No weather data available", "domain": "weather"}
	}
	current := report.CurrentCondition[0]

	locStr := location
	if len(report.NearestArea) > 0 {
		area := report.NearestArea[0]
		city := firstValue(area.AreaName)
		if city == "" {
			city = location
		}
		locStr = strings.Trim(strings.TrimSpace(city+", "+firstValue(area.Country)), ",")
		locStr = strings.TrimSpace(locStr)
	}

	return domain.Ok(map[string]any{
		"location":      locStr,
		"temperature_c": current.TempC,
		"temperature_f": current.TempF,
		"feels_like_c":  current.FeelsLikeC,
		"condition":     firstValue(current.WeatherDesc),
		"humidity":      current.Humidity,
		"wind_mph":      current.WindspeedMiles,
		"wind_dir":      current.Winddir16Point,
		"domain":        "weather",
		"card_type":     "weather",
	})
}

func (d *Domain) forecast(ctx context.Context, data map[string]any) domain.Result {
	location, _ := data["location"].(string)
	report, err := d.fetch(ctx, location)
	if err != nil {
		return domain.Result{"success": false, "error": "Failed to fetch forecast", "domain": "weather"}
	}
	if len(report.Weather) == 0 {
		return domain.Result{"success": false, "error": "No forecast data available", "domain": "weather"}
	}

	city := location
	if len(report.NearestArea) > 0 {
		if v := firstValue(report.NearestArea[0].AreaName); v != "" {
			city = v
		}
	}

	days := make([]any, 0, len(report.Weather))
	for _, day := range report.Weather {
		condition := ""
		// Midday entry is representative of the day.
		if len(day.Hourly) > 4 {
			condition = firstValue(day.Hourly[4].WeatherDesc)
		}
		days = append(days, map[string]any{
			"date":      day.Date,
			"max_c":     day.MaxTempC,
			"min_c":     day.MinTempC,
			"max_f":     day.MaxTempF,
			"min_f":     day.MinTempF,
			"condition": condition,
		})
	}

	return domain.Ok(map[string]any{
		"location":  city,
		"days":      days,
		"domain":    "weather",
		"card_type": "weather",
	})
}
