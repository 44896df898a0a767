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

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-actions"), commons.Level("error"))
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

func rssFeed(count int) string {
	items := ""
	for i := 1; i <= count; i++ {
		items += fmt.Sprintf("<item><title>Headline %d &amp; more</title></item>", i)
	}
	return `<?xml version="1.0"?><rss version="2.0"><channel>` + items + `</channel></rss>`
}

func TestNewsActionFetchesTenTitles(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/xml")
		fmt.Fprint(w, rssFeed(15))
	}))
	defer server.Close()

	action := NewNewsActionWithFeed(newTestLogger(t), server.URL)
	result := action.Execute(nil)

	if !result.Success {
		t.Fatalf("expected success, got %+v", result)
	}
	titles, ok := result.Data["titles"].([]string)
	if !ok {
		t.Fatalf("titles missing from data: %+v", result.Data)
	}
	if len(titles) != NewsHeadlineCount {
		t.Fatalf("expected %d titles, got %d", NewsHeadlineCount, len(titles))
	}
	if titles[0] != "Headline 1 & more" {
		t.Fatalf("entities not unescaped: %q", titles[0])
	}
	if result.ReplyText != "I found 10 news headlines for you." {
		t.Fatalf("unexpected reply %q", result.ReplyText)
	}
}

func TestNewsActionKeepsOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rssFeed(10))
	}))
	defer server.Close()

	action := NewNewsActionWithFeed(newTestLogger(t), server.URL)
	titles := action.Execute(nil).Data["titles"].([]string)
	for i, title := range titles {
		want := fmt.Sprintf("Headline %d & more", i+1)
		if title != want {
			t.Fatalf("title %d: got %q, want %q", i, title, want)
		}
	}
}

func TestNewsActionFailureIsCanned(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	action := NewNewsActionWithFeed(newTestLogger(t), server.URL)
	result := action.Execute(nil)

	if result.Success {
		t.Fatal("expected failure")
	}
	if result.ReplyText != "Sorry, I couldn't fetch the news at the moment. Please try again later." {
		t.Fatalf("unexpected reply %q", result.ReplyText)
	}
}

func TestRegistryLookupAndOrder(t *testing.T) {
	registry := NewRegistry(newTestLogger(t))
	registry.Register(NewNewsActionWithFeed(newTestLogger(t), "http://unused"))

	if registry.Get("news") == nil {
		t.Fatal("news action must resolve")
	}
	if registry.Get("bogus") != nil {
		t.Fatal("unknown action must be nil")
	}
	if names := registry.List(); len(names) != 1 || names[0] != "news" {
		t.Fatalf("unexpected registration order: %v", names)
	}
}
