// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.
package internal_nlu

import (
	"context"
	"fmt"
	"testing"
)

type fakeChat struct {
	reply string
	err   error
	asked []string
}

func (f *fakeChat) Ask(_ context.Context, prompt, _ string) (*LLMResponse, error) {
	f.asked = append(f.asked, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &LLMResponse{Text: f.reply, Model: "fake"}, nil
}

func TestRoutePredefinedSkipsChat(t *testing.T) {
	chat := &fakeChat{reply: "unused"}
	router := NewRouter(newTestLogger(t), NewPatternNLU(newTestLogger(t)), chat)

	intent := router.Route(context.Background(), "show me the news")
	if intent.Kind != IntentPredefined || intent.ActionName != "news" {
		t.Fatalf("expected predefined news intent, got %+v", intent)
	}
	if len(chat.asked) != 0 {
		t.Fatal("chat client must not be called for predefined actions")
	}
}

func TestRouteChatFallthrough(t *testing.T) {
	chat := &fakeChat{reply: "The Mirror sees all."}
	router := NewRouter(newTestLogger(t), NewPatternNLU(newTestLogger(t)), chat)

	intent := router.Route(context.Background(), "who are you")
	if intent.Kind != IntentChat {
		t.Fatalf("expected chat intent, got %+v", intent)
	}
	if intent.ReplyText != "The Mirror sees all." {
		t.Fatalf("unexpected reply %q", intent.ReplyText)
	}
	if intent.Confidence != 0.5 {
		t.Fatalf("expected confidence 0.5, got %v", intent.Confidence)
	}
}

func TestRouteChatFailureUsesFallback(t *testing.T) {
	chat := &fakeChat{err: fmt.Errorf("status 500")}
	router := NewRouter(newTestLogger(t), NewPatternNLU(newTestLogger(t)), chat)

	intent := router.Route(context.Background(), "tell me something strange")
	if intent.Kind != IntentChat {
		t.Fatalf("expected chat intent, got %+v", intent)
	}
	if intent.ReplyText != FallbackReply {
		t.Fatalf("expected fallback reply, got %q", intent.ReplyText)
	}
}
