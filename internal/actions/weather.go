// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_actions

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	wttrBaseURL        = "https://wttr.in"
	openWeatherBaseURL = "https://api.openweathermap.org/data/2.5/weather"
)

// WeatherData is the normalized weather reading shown on the idle screen.
type WeatherData struct {
	Temperature int
	Condition   string
	Location    string
	Humidity    int
	WindSpeed   float64
}

// WeatherAction answers weather queries. wttr.in is the primary source (no
// API key); OpenWeatherMap is the fallback when a key is configured; mock
// data keeps the idle screen alive when both fail.
type WeatherAction struct {
	logger          commons.Logger
	http            *resty.Client
	apiKey          string
	defaultLocation string

	wttrURL        string
	openWeatherURL string
}

func NewWeatherAction(logger commons.Logger, apiKey, defaultLocation string) *WeatherAction {
	return &WeatherAction{
		logger: logger,
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetHeader("User-Agent", "MagicMirrorPro/1.0 (contact: weather@example.com)"),
		apiKey:          apiKey,
		defaultLocation: defaultLocation,
		wttrURL:         wttrBaseURL,
		openWeatherURL:  openWeatherBaseURL,
	}
}

func (a *WeatherAction) Name() string { return "weather" }

func (a *WeatherAction) Execute(params map[string]interface{}) *Result {
	location := a.defaultLocation
	if v, ok := params["location"].(string); ok && v != "" {
		location = v
	}

	data := a.Fetch(location)
	reply := fmt.Sprintf("It is %s in %s, %d degrees.",
		strings.ToLower(data.Condition), data.Location, data.Temperature)

	return &Result{
		ReplyText: reply,
		Data: map[string]interface{}{
			"temperature": data.Temperature,
			"condition":   data.Condition,
			"location":    data.Location,
			"humidity":    data.Humidity,
			"wind_speed":  data.WindSpeed,
		},
		Success: true,
	}
}

// Fetch returns the current weather, falling through wttr.in →
// OpenWeatherMap → mock data. Called once at startup for the idle UI and
// again per weather query.
func (a *WeatherAction) Fetch(location string) *WeatherData {
	if location == "" {
		location = a.defaultLocation
	}

	if data, err := a.fetchWttr(location); err == nil {
		return data
	} else {
		a.logger.Warnf("wttr.in lookup failed: %v", err)
	}

	if a.apiKey != "" {
		if data, err := a.fetchOpenWeather(location); err == nil {
			return data
		} else {
			a.logger.Warnf("openweathermap lookup failed: %v", err)
		}
	}

	a.logger.Warn("using mock weather data")
	return &WeatherData{
		Temperature: 22,
		Condition:   "Sunny",
		Location:    location,
		Humidity:    65,
		WindSpeed:   10,
	}
}

type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		Humidity    string `json:"humidity"`
		WindspeedKm string `json:"windspeedKmph"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
	NearestArea []struct {
		AreaName []struct {
			Value string `json:"value"`
		} `json:"areaName"`
	} `json:"nearest_area"`
}

func (a *WeatherAction) fetchWttr(location string) (*WeatherData, error) {
	city := strings.TrimSpace(strings.Split(location, ",")[0])

	var out wttrResponse
	resp, err := a.http.R().
		SetQueryParam("format", "j1").
		SetResult(&out).
		Get(a.wttrURL + "/" + city)
	if err != nil {
		return nil, fmt.Errorf("wttr request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("wttr request failed: status %d", resp.StatusCode())
	}
	if len(out.CurrentCondition) == 0 {
		return nil, fmt.Errorf("wttr response missing current conditions")
	}

	current := out.CurrentCondition[0]
	temp, _ := strconv.Atoi(current.TempC)
	humidity, _ := strconv.Atoi(current.Humidity)
	windKmh, _ := strconv.ParseFloat(current.WindspeedKm, 64)

	condition := "Unknown"
	if len(current.WeatherDesc) > 0 {
		condition = current.WeatherDesc[0].Value
	}
	area := city
	if len(out.NearestArea) > 0 && len(out.NearestArea[0].AreaName) > 0 {
		area = out.NearestArea[0].AreaName[0].Value
	}

	return &WeatherData{
		Temperature: temp,
		Condition:   condition,
		Location:    area,
		Humidity:    humidity,
		WindSpeed:   roundTenth(windKmh / 3.6),
	}, nil
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Main struct {
		Temp     float64 `json:"temp"`
		Humidity int     `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

func (a *WeatherAction) fetchOpenWeather(location string) (*WeatherData, error) {
	var out openWeatherResponse
	resp, err := a.http.R().
		SetQueryParams(map[string]string{
			"q":     location,
			"appid": a.apiKey,
			"units": "metric",
			"lang":  "en",
		}).
		SetResult(&out).
		Get(a.openWeatherURL)
	if err != nil {
		return nil, fmt.Errorf("openweathermap request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("openweathermap request failed: status %d", resp.StatusCode())
	}

	condition := "Unknown"
	if len(out.Weather) > 0 {
		condition = out.Weather[0].Description
	}

	return &WeatherData{
		Temperature: int(out.Main.Temp),
		Condition:   condition,
		Location:    out.Name,
		Humidity:    out.Main.Humidity,
		WindSpeed:   out.Wind.Speed,
	}, nil
}

func roundTenth(v float64) float64 {
	return float64(int(v*10+0.5)) / 10
}
