// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_wake

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// VoiceGate filters capture frames before they reach the keyword
// recognizer, so the spotter does not chew on silence.
type VoiceGate interface {
	IsVoice(frame []byte) bool
	Reset()
	Close()
}

// sileroGate runs the Silero VAD model over each frame.
type sileroGate struct {
	logger   commons.Logger
	detector *speech.Detector
}

// NewSileroGate loads the Silero VAD model for 16kHz mono input.
func NewSileroGate(logger commons.Logger, modelPath string, sampleRate int) (VoiceGate, error) {
	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            modelPath,
		SampleRate:           sampleRate,
		Threshold:            0.5,
		MinSilenceDurationMs: 100,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load VAD model %s: %w", modelPath, err)
	}
	return &sileroGate{logger: logger, detector: detector}, nil
}

func (g *sileroGate) IsVoice(frame []byte) bool {
	samples := internal_audio.BytesToInt16(frame)
	pcm := make([]float32, len(samples))
	for i, s := range samples {
		pcm[i] = float32(s) / 32768
	}
	segments, err := g.detector.Detect(pcm)
	if err != nil {
		// A VAD hiccup must never eat audio; pass the frame through.
		g.logger.Debugf("vad detect failed, passing frame through: %v", err)
		return true
	}
	return len(segments) > 0
}

func (g *sileroGate) Reset() {
	if err := g.detector.Reset(); err != nil {
		g.logger.Debugf("vad reset failed: %v", err)
	}
}

func (g *sileroGate) Close() {
	if err := g.detector.Destroy(); err != nil {
		g.logger.Debugf("vad destroy failed: %v", err)
	}
}

// passthroughGate admits every frame; used when no VAD model is configured.
type passthroughGate struct{}

func NewPassthroughGate() VoiceGate { return passthroughGate{} }

func (passthroughGate) IsVoice([]byte) bool { return true }
func (passthroughGate) Reset()              {}
func (passthroughGate) Close()              {}
