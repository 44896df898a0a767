// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_actions

import (
	"encoding/xml"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	// NewsHeadlineCount is fixed: the streamer always plays 10 headlines.
	NewsHeadlineCount = 10

	defaultFeedURL = "https://feeds.bbci.co.uk/news/rss.xml"
)

// rssDocument models just enough of the RSS 2.0 shape to pull item titles.
type rssDocument struct {
	Channel struct {
		Items []struct {
			Title string `xml:"title"`
		} `xml:"item"`
	} `xml:"channel"`
}

// NewsAction fetches headline titles from the BBC RSS feed.
type NewsAction struct {
	logger  commons.Logger
	http    *resty.Client
	feedURL string
}

func NewNewsAction(logger commons.Logger) *NewsAction {
	return &NewsAction{
		logger:  logger,
		http:    resty.New().SetTimeout(10 * time.Second),
		feedURL: defaultFeedURL,
	}
}

// NewNewsActionWithFeed is used by tests to point at a local feed.
func NewNewsActionWithFeed(logger commons.Logger, feedURL string) *NewsAction {
	action := NewNewsAction(logger)
	action.feedURL = feedURL
	return action
}

func (a *NewsAction) Name() string { return "news" }

// Execute fetches the fixed 10 headline titles. data.titles carries the
// ordered list the news streamer plays.
func (a *NewsAction) Execute(params map[string]interface{}) *Result {
	titles, err := a.fetchTitles(NewsHeadlineCount)
	if err != nil || len(titles) == 0 {
		a.logger.Errorf("news fetch failed: %v", err)
		return &Result{
			ReplyText: "Sorry, I couldn't fetch the news at the moment. Please try again later.",
			Data:      map[string]interface{}{"titles": []string{}},
			Success:   false,
		}
	}

	return &Result{
		ReplyText: fmt.Sprintf("I found %d news headlines for you.", len(titles)),
		Data:      map[string]interface{}{"titles": titles},
		Success:   true,
	}
}

func (a *NewsAction) fetchTitles(count int) ([]string, error) {
	resp, err := a.http.R().Get(a.feedURL)
	if err != nil {
		return nil, fmt.Errorf("rss request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rss request failed: status %d", resp.StatusCode())
	}

	var doc rssDocument
	if err := xml.Unmarshal(resp.Body(), &doc); err != nil {
		return nil, fmt.Errorf("rss parse failed: %w", err)
	}

	titles := make([]string, 0, count)
	for _, item := range doc.Channel.Items {
		title := strings.TrimSpace(html.UnescapeString(item.Title))
		if title == "" {
			continue
		}
		titles = append(titles, title)
		if len(titles) == count {
			break
		}
	}

	a.logger.Infow("fetched news headlines", "count", len(titles))
	return titles, nil
}
