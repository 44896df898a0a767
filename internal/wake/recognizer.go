// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_wake

import (
	"math"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
)

// Recognizer is the local keyword-spotter contract. Implementations consume
// 16kHz mono LINEAR16 audio and report committed and in-progress text.
type Recognizer interface {
	// AcceptWaveform feeds one frame. When an utterance completed, the
	// committed text is returned with ok=true.
	AcceptWaveform(data []byte) (text string, ok bool)
	// Partial returns the in-progress hypothesis for the current utterance.
	Partial() string
	// Reset discards all recognizer state, purging previous utterances.
	Reset()
}

// energyKeywordRecognizer is a development recognizer: it reports the
// configured phrase once it has heard sustained voiced audio followed by
// silence. It lets the full pipeline run on machines without a keyword
// model installed.
type energyKeywordRecognizer struct {
	phrase string

	rmsThreshold float64
	voicedNeeded int

	voicedRun  int
	sawSpeech  bool
	silenceRun int
}

// NewEnergyKeywordRecognizer builds the stub recognizer for the given phrase.
func NewEnergyKeywordRecognizer(phrase string) Recognizer {
	return &energyKeywordRecognizer{
		phrase:       phrase,
		rmsThreshold: 700,
		voicedNeeded: 2,
	}
}

func (r *energyKeywordRecognizer) AcceptWaveform(data []byte) (string, bool) {
	if rms(internal_audio.BytesToInt16(data)) >= r.rmsThreshold {
		r.voicedRun++
		r.silenceRun = 0
		if r.voicedRun >= r.voicedNeeded {
			r.sawSpeech = true
		}
		return "", false
	}

	r.voicedRun = 0
	if r.sawSpeech {
		r.silenceRun++
		if r.silenceRun >= 1 {
			r.sawSpeech = false
			r.silenceRun = 0
			return r.phrase, true
		}
	}
	return "", false
}

func (r *energyKeywordRecognizer) Partial() string {
	if r.sawSpeech {
		return r.phrase
	}
	return ""
}

func (r *energyKeywordRecognizer) Reset() {
	r.voicedRun = 0
	r.silenceRun = 0
	r.sawSpeech = false
}

func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
