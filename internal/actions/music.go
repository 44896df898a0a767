// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_actions

import (
	"fmt"

	internal_music "github.com/SunstanYu/MagicMirrorPro/internal/music"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// MusicAction resolves a play request through the music player. The player
// spawns its own background task; the action itself returns promptly.
type MusicAction struct {
	logger commons.Logger
	player *internal_music.Player
}

func NewMusicAction(logger commons.Logger, player *internal_music.Player) *MusicAction {
	return &MusicAction{logger: logger, player: player}
}

func (a *MusicAction) Name() string { return "music" }

func (a *MusicAction) Execute(params map[string]interface{}) *Result {
	query, _ := params["query"].(string)
	if query == "" {
		return &Result{
			ReplyText: "Please tell me which song you want to play.",
			Data:      map[string]interface{}{},
			Success:   false,
		}
	}

	track, err := a.player.PlayQuery(query)
	if err != nil {
		a.logger.Errorf("music action failed: %v", err)
		return &Result{
			ReplyText: fmt.Sprintf("Sorry, I couldn't find any songs matching '%s'. Please try another song.", query),
			Data:      map[string]interface{}{},
			Success:   false,
		}
	}

	return &Result{
		ReplyText: fmt.Sprintf("Playing '%s' by %s.", track.Name, track.Artist),
		Data: map[string]interface{}{
			"track_name": track.Name,
			"artist":     track.Artist,
			"album":      track.Album,
			"duration":   track.DurationSeconds,
		},
		Success: true,
	}
}
