// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_news

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	internal_audio_sink "github.com/SunstanYu/MagicMirrorPro/internal/audio/sink"
	internal_tts "github.com/SunstanYu/MagicMirrorPro/internal/tts"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	slotFile0 = "news_tts_0.wav"
	slotFile1 = "news_tts_1.wav"
)

// Streamer plays an ordered list of headlines using a two-slot file double
// buffer: each headline is synthesized into the slot the previous headline
// was not played from, so the player never has a file open that is being
// rewritten. Synthesis of a headline starts only once the previous headline
// has finished playing; synthesis and playback take turns and do not overlap.
//
// The streamer is driven from the orchestrator tick; Tick never blocks —
// synthesis and playback run as background tasks that report back through
// the mutex-guarded state.
type Streamer struct {
	logger  commons.Logger
	sink    internal_audio_sink.Sink
	synth   internal_tts.Synthesizer
	slotDir string

	// OnTitle is invoked from the tick thread whenever the current headline
	// changes; the UI surface renders it.
	OnTitle func(index int, title string)

	mu             sync.Mutex
	active         bool
	headlines      []string
	playingIndex   int
	writingIndex   int
	ttsInProgress  bool
	playInProgress bool
	readyPath      string
	lastShown      int
}

// NewStreamer builds the headline streamer. slotDir is the temp audio
// directory holding the two buffer files.
func NewStreamer(logger commons.Logger, sink internal_audio_sink.Sink, synth internal_tts.Synthesizer, slotDir string) *Streamer {
	return &Streamer{
		logger:  logger,
		sink:    sink,
		synth:   synth,
		slotDir: slotDir,
	}
}

// Begin arms the streamer with a fresh headline list.
func (s *Streamer) Begin(headlines []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
	s.headlines = headlines
	s.playingIndex = 0
	s.writingIndex = 0
	s.ttsInProgress = false
	s.playInProgress = false
	s.readyPath = ""
	s.lastShown = -1
}

// Tick advances the double-buffer loop by at most one scheduling decision.
// Returns true when every headline has been played (or the list was empty)
// and the orchestrator should transition back to idle.
func (s *Streamer) Tick(ctx context.Context) bool {
	s.mu.Lock()

	if !s.active {
		s.mu.Unlock()
		return true
	}

	// All headlines played.
	if s.playingIndex >= len(s.headlines) {
		s.active = false
		s.mu.Unlock()
		return true
	}

	// Surface the current headline once per index change.
	var (
		showIndex = -1
		showTitle string
	)
	if s.playingIndex != s.lastShown {
		s.lastShown = s.playingIndex
		showIndex = s.playingIndex
		showTitle = s.headlines[s.playingIndex]
	}

	switch {
	case s.playInProgress || s.sink.IsPlaying():
		// Let the current headline finish.

	case s.readyPath != "":
		path := s.readyPath
		index := s.playingIndex
		s.playInProgress = true
		go s.playTask(path, index)

	case !s.ttsInProgress:
		index := s.playingIndex
		// Synthesize into the alternate slot so the playing file is never
		// rewritten underneath the sink.
		slot := 1 - s.writingIndex
		s.ttsInProgress = true
		go s.synthesizeTask(ctx, index, slot)
	}
	s.mu.Unlock()

	if showIndex >= 0 && s.OnTitle != nil {
		s.OnTitle(showIndex, showTitle)
	}
	return false
}

// playTask plays one synthesized headline at native rate (headlines are the
// one output that is not pitched down) and advances the index.
func (s *Streamer) playTask(path string, index int) {
	err := s.sink.PlayAtRate(path, true, internal_audio_sink.NativeRateScale)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.playInProgress = false
	if !s.active {
		return
	}
	if err != nil {
		s.logger.Errorf("headline %d playback failed, skipping: %v", index, err)
	}
	s.readyPath = ""
	s.playingIndex = index + 1
}

// synthesizeTask renders one headline into the given slot, then publishes it
// as ready. Synthesis goes to a scratch file first and is renamed into the
// slot, so a half-written file is never published.
func (s *Streamer) synthesizeTask(ctx context.Context, index, slot int) {
	s.mu.Lock()
	if !s.active || index >= len(s.headlines) {
		s.ttsInProgress = false
		s.mu.Unlock()
		return
	}
	text := s.headlines[index]
	s.mu.Unlock()

	slotPath := s.SlotPath(slot)
	scratch := slotPath + ".part"

	_, err := s.synth.Synthesize(ctx, text, scratch)
	if err == nil {
		err = os.Rename(scratch, slotPath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.ttsInProgress = false
	if !s.active {
		os.Remove(scratch)
		return
	}
	if err != nil {
		s.logger.Errorf("headline %d synthesis failed, skipping: %v", index, err)
		// Skip the unplayable headline so the loop keeps moving.
		if index == s.playingIndex {
			s.playingIndex++
		}
		return
	}
	s.writingIndex = slot
	s.readyPath = slotPath
}

// Stop preempts the stream: halts playback, clears the ready handle and all
// progress flags. In-flight tasks observe active=false and discard their
// results.
func (s *Streamer) Stop() {
	s.mu.Lock()
	s.active = false
	s.readyPath = ""
	s.ttsInProgress = false
	s.playInProgress = false
	s.headlines = nil
	s.mu.Unlock()

	s.sink.Stop()
}

// Active reports whether a stream is in progress.
func (s *Streamer) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// PlayingIndex exposes the current position for status displays.
func (s *Streamer) PlayingIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playingIndex
}

// SlotPath returns the file path of buffer slot 0 or 1.
func (s *Streamer) SlotPath(slot int) string {
	if slot == 0 {
		return filepath.Join(s.slotDir, slotFile0)
	}
	return filepath.Join(s.slotDir, slotFile1)
}

// ReadyPath exposes the pending synthesized file, empty when none.
func (s *Streamer) ReadyPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readyPath
}

// String describes the streamer state for logs.
func (s *Streamer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fmt.Sprintf("news[%d/%d slot=%d tts=%v ready=%v]",
		s.playingIndex, len(s.headlines), s.writingIndex, s.ttsInProgress, s.readyPath != "")
}
