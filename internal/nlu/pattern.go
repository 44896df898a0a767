// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_nlu

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// actionPatterns pairs an action with its ordered match patterns. Actions
// are tried in registration order; within an action, patterns left to right;
// the first match wins.
type actionPatterns struct {
	name     string
	patterns []*regexp.Regexp
	reply    string
}

// PatternNLU routes utterances to predefined actions by regular-expression
// matching over the lowercased text.
type PatternNLU struct {
	logger  commons.Logger
	actions []actionPatterns
}

var countPattern = regexp.MustCompile(`(\d+)\s*(news|headlines?)`)

// musicQueryPattern captures the song/query portion of a play request.
var musicQueryPattern = regexp.MustCompile(`play\s+(?:me\s+)?(?:some\s+)?(.+?)(?:\s+for\s+me)?$`)

// NewPatternNLU builds the default action pattern table.
func NewPatternNLU(logger commons.Logger) *PatternNLU {
	compile := func(patterns ...string) []*regexp.Regexp {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, p := range patterns {
			out = append(out, regexp.MustCompile(p))
		}
		return out
	}

	return &PatternNLU{
		logger: logger,
		actions: []actionPatterns{
			{
				name: "news",
				patterns: compile(
					`\bnews\b`,
					`\bnewspaper\b`,
					`\bheadlines\b`,
					`\bheadline\b`,
					`show\s+me\s+(the\s+)?news`,
					`what'?s?\s+(the\s+)?news`,
					`tell\s+me\s+(the\s+)?news`,
					`get\s+(me\s+)?(the\s+)?news`,
					`fetch\s+(me\s+)?(the\s+)?news`,
					`read\s+(me\s+)?(the\s+)?news`,
					`latest\s+news`,
					`current\s+news`,
					`today'?s?\s+news`,
					`news\s+of\s+the\s+day`,
					`what'?s?\s+happening`,
					`what'?s?\s+going\s+on`,
				),
				reply: "Here are the latest news headlines.",
			},
			{
				name: "music",
				patterns: compile(
					`play\s+.*\bmusic\b`,
					`play\s+(me\s+)?(a\s+)?song`,
					`\bplay\s+something\b`,
					`put\s+on\s+.*\bmusic\b`,
					`play\s+\S+`,
				),
				reply: "Let me find that for you.",
			},
			{
				name: "weather",
				patterns: compile(
					`\bweather\b`,
					`\bforecast\b`,
					`how\s+(hot|cold|warm)\s+is\s+it`,
					`is\s+it\s+(raining|snowing|sunny)`,
					`\btemperature\b`,
				),
				reply: "Let me look outside for you.",
			},
		},
	}
}

// Recognize matches the text against the pattern table. Returns nil when no
// predefined action matches; the caller falls back to the chat path.
func (n *PatternNLU) Recognize(text string) *Intent {
	if text == "" {
		return nil
	}
	normalized := strings.ToLower(strings.TrimSpace(text))

	for _, action := range n.actions {
		for _, pattern := range action.patterns {
			if pattern.MatchString(normalized) {
				n.logger.Infow("pattern matched", "pattern", pattern.String(), "action", action.name)
				return &Intent{
					Kind:         IntentPredefined,
					ActionName:   action.name,
					ActionParams: n.extractParams(action.name, normalized),
					ReplyText:    action.reply,
					Confidence:   0.9,
				}
			}
		}
	}
	return nil
}

// extractParams pulls action-specific parameters out of the utterance.
// Missing parameters are left absent; actions apply their own defaults.
func (n *PatternNLU) extractParams(actionName, text string) map[string]interface{} {
	params := map[string]interface{}{}

	switch actionName {
	case "news":
		if m := countPattern.FindStringSubmatch(text); m != nil {
			if count, err := strconv.Atoi(m[1]); err == nil {
				params["count"] = count
			}
		}
	case "music":
		query := text
		if m := musicQueryPattern.FindStringSubmatch(text); m != nil {
			query = m[1]
		}
		query = strings.TrimSpace(strings.TrimSuffix(query, "please"))
		params["query"] = strings.TrimSpace(query)
	case "weather":
		// Location extraction is intentionally coarse: "weather in X".
		if idx := strings.Index(text, " in "); idx >= 0 {
			params["location"] = strings.TrimSpace(text[idx+4:])
		}
	}

	return params
}
