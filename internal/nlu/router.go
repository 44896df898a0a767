// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_nlu

import (
	"context"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// ChatClient is the chat completion contract the router falls back to when
// no predefined pattern matches.
type ChatClient interface {
	Ask(ctx context.Context, prompt, systemPrompt string) (*LLMResponse, error)
}

// Router turns a final transcript into an Intent: predefined action when a
// pattern matches, otherwise a chat reply. A chat client failure degrades to
// the canned fallback reply; routing never fails.
type Router struct {
	logger  commons.Logger
	pattern *PatternNLU
	chat    ChatClient
}

func NewRouter(logger commons.Logger, pattern *PatternNLU, chat ChatClient) *Router {
	return &Router{logger: logger, pattern: pattern, chat: chat}
}

func (r *Router) Route(ctx context.Context, text string) *Intent {
	if intent := r.pattern.Recognize(text); intent != nil {
		return intent
	}

	r.logger.Infow("no action pattern matched, asking chat model", "text", text)
	reply, err := r.chat.Ask(ctx, text, "")
	if err != nil {
		r.logger.Errorf("chat completion failed: %v", err)
		return &Intent{
			Kind:       IntentChat,
			ReplyText:  FallbackReply,
			Confidence: 0.5,
		}
	}

	return &Intent{
		Kind:       IntentChat,
		ReplyText:  reply.Text,
		Confidence: 0.5,
	}
}
