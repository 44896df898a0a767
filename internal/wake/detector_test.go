// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.
package internal_wake

import (
	"context"
	"testing"
	"time"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-wake"), commons.Level("error"))
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

// scriptedRecognizer replays canned results per frame.
type scriptedRecognizer struct {
	finals   []string
	partials []string
	calls    int
	resets   int
}

func (r *scriptedRecognizer) AcceptWaveform([]byte) (string, bool) {
	i := r.calls
	r.calls++
	if i < len(r.finals) && r.finals[i] != "" {
		return r.finals[i], true
	}
	return "", false
}

func (r *scriptedRecognizer) Partial() string {
	i := r.calls - 1
	if i >= 0 && i < len(r.partials) {
		return r.partials[i]
	}
	return ""
}

func (r *scriptedRecognizer) Reset() { r.resets++ }

func feedFrames(count int) chan []byte {
	frames := make(chan []byte, count)
	for i := 0; i < count; i++ {
		frames <- make([]byte, 320)
	}
	return frames
}

func TestDetectsWakeWordInFinal(t *testing.T) {
	rec := &scriptedRecognizer{finals: []string{"", "", "hello mirror"}}
	fired := false
	d := NewDetector(newTestLogger(t), "hello", rec, nil)
	d.OnDetected = func() { fired = true }

	if err := d.WaitForWake(context.Background(), feedFrames(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !fired {
		t.Fatal("OnDetected must fire synchronously")
	}
	if rec.resets != 1 {
		t.Fatalf("recognizer must be reset once per arm, got %d", rec.resets)
	}
}

func TestDetectsWakeWordInPartial(t *testing.T) {
	rec := &scriptedRecognizer{partials: []string{"", "hel", "oh hello there"}}
	d := NewDetector(newTestLogger(t), "hello", rec, nil)

	if err := d.WaitForWake(context.Background(), feedFrames(3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDetectionIsCaseInsensitive(t *testing.T) {
	rec := &scriptedRecognizer{finals: []string{"HELLO WORLD"}}
	d := NewDetector(newTestLogger(t), "Hello", rec, nil)

	if err := d.WaitForWake(context.Background(), feedFrames(1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCancelUnblocks(t *testing.T) {
	rec := &scriptedRecognizer{}
	d := NewDetector(newTestLogger(t), "hello", rec, nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- d.WaitForWake(ctx, make(chan []byte))
	}()
	cancel()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForWake did not return after cancel")
	}
}

func TestEnergyRecognizerFiresAfterSpeechThenSilence(t *testing.T) {
	rec := NewEnergyKeywordRecognizer("hello")

	loud := internal_audio.Int16ToBytes(constSamples(8000, 5000))
	quiet := internal_audio.Int16ToBytes(constSamples(8000, 0))

	if _, ok := rec.AcceptWaveform(loud); ok {
		t.Fatal("must not fire on first voiced frame")
	}
	if _, ok := rec.AcceptWaveform(loud); ok {
		t.Fatal("must not fire while speech continues")
	}
	text, ok := rec.AcceptWaveform(quiet)
	if !ok || text != "hello" {
		t.Fatalf("expected phrase after silence, got %q ok=%v", text, ok)
	}

	// After reset, silence alone must not fire.
	rec.Reset()
	if _, ok := rec.AcceptWaveform(quiet); ok {
		t.Fatal("must not fire without prior speech")
	}
}

func constSamples(n int, v int16) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = v
	}
	return out
}
