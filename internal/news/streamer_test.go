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
	"sync"
	"testing"
	"time"

	internal_tts "github.com/SunstanYu/MagicMirrorPro/internal/tts"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-news"), commons.Level("error"))
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

// autoSink completes every blocking play after a short delay.
type autoSink struct {
	mu      sync.Mutex
	playing bool
	plays   []string
	rates   []float64
	stopped int
}

func (s *autoSink) Play(path string, blocking bool) error {
	return s.PlayAtRate(path, blocking, 0.8)
}

func (s *autoSink) PlayAtRate(path string, blocking bool, rate float64) error {
	s.mu.Lock()
	s.playing = true
	s.plays = append(s.plays, path)
	s.rates = append(s.rates, rate)
	s.mu.Unlock()

	if blocking {
		time.Sleep(2 * time.Millisecond)
	}
	s.mu.Lock()
	s.playing = false
	s.mu.Unlock()
	return nil
}

func (s *autoSink) Stop() {
	s.mu.Lock()
	s.playing = false
	s.stopped++
	s.mu.Unlock()
}

func (s *autoSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func (s *autoSink) playedFiles() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.plays...)
}

// fileSynth writes a marker file per synthesis request.
type fileSynth struct {
	mu    sync.Mutex
	count int
	texts []string
}

func (f *fileSynth) Synthesize(_ context.Context, text, outPath string) (*internal_tts.Result, error) {
	f.mu.Lock()
	f.count++
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if err := os.WriteFile(outPath, []byte("RIFF"+text), 0o644); err != nil {
		return nil, err
	}
	return &internal_tts.Result{AudioPath: outPath, Format: "wav", SampleRate: 16000}, nil
}

func (f *fileSynth) synthCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

func newTestStreamer(t *testing.T) (*Streamer, *autoSink, *fileSynth) {
	t.Helper()
	sink := &autoSink{}
	synth := &fileSynth{}
	return NewStreamer(newTestLogger(t), sink, synth, t.TempDir()), sink, synth
}

// drive pumps Tick until the streamer reports done or the timeout passes.
func drive(t *testing.T, s *Streamer, timeout time.Duration) {
	t.Helper()
	ctx := context.Background()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.Tick(ctx) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("streamer did not finish: %s", s)
}

func headlines(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("Headline %d", i+1)
	}
	return out
}

func TestZeroHeadlinesFinishImmediately(t *testing.T) {
	s, sink, synth := newTestStreamer(t)
	s.Begin(nil)

	if !s.Tick(context.Background()) {
		t.Fatal("expected immediate done for zero headlines")
	}
	if synth.synthCount() != 0 || len(sink.playedFiles()) != 0 {
		t.Fatal("nothing may be synthesized or played")
	}
}

func TestSingleHeadlinePlaysOnceNoSecondTTS(t *testing.T) {
	s, sink, synth := newTestStreamer(t)
	s.Begin(headlines(1))
	drive(t, s, 5*time.Second)

	if synth.synthCount() != 1 {
		t.Fatalf("expected exactly one synthesis, got %d", synth.synthCount())
	}
	if got := len(sink.playedFiles()); got != 1 {
		t.Fatalf("expected one playback, got %d", got)
	}
	if s.PlayingIndex() != 1 {
		t.Fatalf("expected playing index 1, got %d", s.PlayingIndex())
	}
}

func TestAllHeadlinesPlayInOrderAtNativeRate(t *testing.T) {
	s, sink, synth := newTestStreamer(t)
	s.Begin(headlines(10))
	drive(t, s, 10*time.Second)

	if synth.synthCount() != 10 {
		t.Fatalf("expected 10 syntheses, got %d", synth.synthCount())
	}
	played := sink.playedFiles()
	if len(played) != 10 {
		t.Fatalf("expected 10 plays, got %d", len(played))
	}
	if s.PlayingIndex() != 10 {
		t.Fatalf("expected playing index 10, got %d", s.PlayingIndex())
	}
	if s.ReadyPath() != "" {
		t.Fatal("ready handle must be clear at the end")
	}

	// Headlines play at native rate, not the pitched-down speech rate.
	sink.mu.Lock()
	for i, rate := range sink.rates {
		if rate != 1.0 {
			t.Fatalf("play %d at rate %v, want 1.0", i, rate)
		}
	}
	sink.mu.Unlock()

	// Order is the fetch order.
	synth.mu.Lock()
	for i, text := range synth.texts {
		if text != fmt.Sprintf("Headline %d", i+1) {
			t.Fatalf("synthesis %d out of order: %q", i, text)
		}
	}
	synth.mu.Unlock()

	// Consecutive plays alternate between the two slot files, so the
	// playing slot is never the slot being written.
	for i := 1; i < len(played); i++ {
		if played[i] == played[i-1] {
			t.Fatalf("plays %d and %d used the same slot: %s", i-1, i, played[i])
		}
	}

	// Both slot files exist afterwards.
	for slot := 0; slot <= 1; slot++ {
		if _, err := os.Stat(s.SlotPath(slot)); err != nil {
			t.Fatalf("slot %d missing: %v", slot, err)
		}
	}
}

func TestStopPreemptsAndClears(t *testing.T) {
	s, sink, _ := newTestStreamer(t)
	s.Begin(headlines(10))

	ctx := context.Background()
	deadline := time.Now().Add(2 * time.Second)
	for len(sink.playedFiles()) == 0 && time.Now().Before(deadline) {
		s.Tick(ctx)
		time.Sleep(time.Millisecond)
	}

	s.Stop()
	if s.Active() {
		t.Fatal("streamer must be inactive after stop")
	}
	if s.ReadyPath() != "" {
		t.Fatal("ready handle must be cleared")
	}
	if !s.Tick(ctx) {
		t.Fatal("a stopped streamer must report done")
	}

	sink.mu.Lock()
	stopped := sink.stopped
	sink.mu.Unlock()
	if stopped == 0 {
		t.Fatal("sink must be stopped on preemption")
	}
}

func TestBeginResetsState(t *testing.T) {
	s, _, _ := newTestStreamer(t)
	s.Begin(headlines(2))
	drive(t, s, 5*time.Second)

	s.Begin(headlines(1))
	if s.PlayingIndex() != 0 {
		t.Fatal("Begin must reset the playing index")
	}
	drive(t, s, 5*time.Second)
	if s.PlayingIndex() != 1 {
		t.Fatalf("expected index 1 after replay, got %d", s.PlayingIndex())
	}
}
