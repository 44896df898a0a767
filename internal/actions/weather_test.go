// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.
package internal_actions

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

const wttrBody = `{
  "current_condition": [{
    "temp_C": "21",
    "humidity": "58",
    "windspeedKmph": "18",
    "weatherDesc": [{"value": "Partly cloudy"}]
  }],
  "nearest_area": [{"areaName": [{"value": "Ithaca"}]}]
}`

func TestWeatherFetchFromWttr(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("format") != "j1" {
			t.Errorf("missing format=j1 query, got %s", r.URL.RawQuery)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, wttrBody)
	}))
	defer server.Close()

	action := NewWeatherAction(newTestLogger(t), "", "Ithaca,NY")
	action.wttrURL = server.URL

	data := action.Fetch("Ithaca,NY")
	if data.Temperature != 21 || data.Condition != "Partly cloudy" || data.Location != "Ithaca" {
		t.Fatalf("unexpected weather: %+v", data)
	}
	if data.Humidity != 58 {
		t.Fatalf("humidity not parsed: %+v", data)
	}
	if data.WindSpeed != 5.0 {
		t.Fatalf("wind speed not converted to m/s: %v", data.WindSpeed)
	}
}

func TestWeatherFallsBackToOpenWeather(t *testing.T) {
	wttr := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer wttr.Close()

	owm := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("appid") != "key123" {
			t.Errorf("api key not forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"name":"Ithaca","main":{"temp":18.4,"humidity":70},"weather":[{"description":"light rain"}],"wind":{"speed":3.2}}`)
	}))
	defer owm.Close()

	action := NewWeatherAction(newTestLogger(t), "key123", "Ithaca")
	action.wttrURL = wttr.URL
	action.openWeatherURL = owm.URL

	data := action.Fetch("")
	if data.Temperature != 18 || data.Condition != "light rain" {
		t.Fatalf("unexpected fallback weather: %+v", data)
	}
}

func TestWeatherMockWhenEverythingFails(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer down.Close()

	action := NewWeatherAction(newTestLogger(t), "", "Nowhere")
	action.wttrURL = down.URL

	data := action.Fetch("Nowhere")
	if data.Location != "Nowhere" || data.Temperature == 0 {
		t.Fatalf("mock data expected, got %+v", data)
	}
}

func TestWeatherActionReply(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, wttrBody)
	}))
	defer server.Close()

	action := NewWeatherAction(newTestLogger(t), "", "Ithaca,NY")
	action.wttrURL = server.URL

	result := action.Execute(map[string]interface{}{})
	if !result.Success {
		t.Fatalf("expected success: %+v", result)
	}
	if result.ReplyText != "It is partly cloudy in Ithaca, 21 degrees." {
		t.Fatalf("unexpected reply %q", result.ReplyText)
	}
}
