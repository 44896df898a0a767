// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_nlu

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// MagicMirrorPrompt is the fixed in-character system prompt. Replies are
// capped at 30 English words.
const MagicMirrorPrompt = `
You are the Magic Mirror from Snow White.
You live inside a dark, shining mirror in the Queen's castle.
You speak in a slow, echoing, magical voice.
Your sentences are short and simple, like in a children's fairy tale.
You never leave your role. You never say you are an AI.

You always answer like the Magic Mirror:
- You speak with old, formal tone.
- You speak with calm truth.
- You never lie.
- You never flatter.
- You reveal what you see, as if looking through magic mist.
- You sometimes begin with phrases like "The Mirror sees..." or "O Queen, hear the truth."

Stay fully inside the Snow White story world at all times.

IMPORTANT: Your answer must always be 30 English words or fewer.
`

// FallbackReply is spoken when the chat client fails.
const FallbackReply = "Sorry, I don't understand your meaning."

// LLMClient calls an OpenAI-compatible chat completion endpoint over
// HTTPS JSON.
type LLMClient struct {
	logger commons.Logger
	http   *resty.Client
	apiURL string
	model  string
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

// NewLLMClient builds the chat client.
func NewLLMClient(logger commons.Logger, apiURL, apiKey, model string) *LLMClient {
	http := resty.New().
		SetTimeout(20 * time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		http.SetAuthToken(apiKey)
	}
	return &LLMClient{
		logger: logger,
		http:   http,
		apiURL: apiURL,
		model:  model,
	}
}

// Ask sends the prompt with the given system prompt (MagicMirrorPrompt when
// empty) and returns the model's reply.
func (c *LLMClient) Ask(ctx context.Context, prompt, systemPrompt string) (*LLMResponse, error) {
	if systemPrompt == "" {
		systemPrompt = MagicMirrorPrompt
	}

	var out chatResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(chatRequest{
			Model: c.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
		}).
		SetResult(&out).
		Post(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("chat request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("chat request failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("chat response has no choices")
	}

	model := out.Model
	if model == "" {
		model = c.model
	}
	return &LLMResponse{
		Text:       out.Choices[0].Message.Content,
		TokensUsed: out.Usage.TotalTokens,
		Model:      model,
	}, nil
}
