// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_wake

import (
	"context"
	"strings"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// Detector watches the capture stream for the wake phrase. A detector is
// armed once per wake cycle; the recognizer is reset on every arm so text
// from previous utterances cannot trigger a stale match.
type Detector struct {
	logger   commons.Logger
	wakeWord string
	rec      Recognizer
	gate     VoiceGate

	// OnDetected fires synchronously on the detector goroutine the moment
	// the phrase is spotted, before WaitForWake returns.
	OnDetected func()
}

// NewDetector builds a wake detector for the given phrase.
func NewDetector(logger commons.Logger, wakeWord string, rec Recognizer, gate VoiceGate) *Detector {
	if gate == nil {
		gate = NewPassthroughGate()
	}
	return &Detector{
		logger:   logger,
		wakeWord: strings.ToLower(strings.TrimSpace(wakeWord)),
		rec:      rec,
		gate:     gate,
	}
}

// WaitForWake consumes frames until the wake phrase appears in either a
// committed or an in-progress recognizer result (case-insensitive substring).
// Returns nil on detection, the context error on cancellation.
func (d *Detector) WaitForWake(ctx context.Context, frames <-chan []byte) error {
	d.rec.Reset()
	d.gate.Reset()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame, ok := <-frames:
			if !ok {
				return context.Canceled
			}
			if !d.gate.IsVoice(frame) {
				continue
			}
			if d.matches(frame) {
				d.logger.Infow("wake word detected", "wakeWord", d.wakeWord)
				if d.OnDetected != nil {
					d.OnDetected()
				}
				return nil
			}
		}
	}
}

func (d *Detector) matches(frame []byte) bool {
	if text, ok := d.rec.AcceptWaveform(frame); ok {
		if d.contains(text) {
			return true
		}
	}
	return d.contains(d.rec.Partial())
}

func (d *Detector) contains(text string) bool {
	if text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), d.wakeWord)
}
