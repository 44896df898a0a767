// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	DefaultLanguageCode = "en-US"
	DefaultVoice        = "en-US-Chirp-HD-F"
	DefaultSampleRate   = 16000

	wavHeaderBytes = 44
)

// Result describes one synthesized audio file.
type Result struct {
	AudioPath  string
	Duration   float64 // seconds; 0 when unknown
	Format     string
	SampleRate int
}

// Synthesizer converts reply text to a local WAV file. Callable off the
// orchestrator tick thread.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outPath string) (*Result, error)
}

type googleSynthesizer struct {
	logger     commons.Logger
	client     *texttospeech.Client
	voice      string
	sampleRate int
}

// NewGoogleSynthesizer connects the Google Text-to-Speech client.
func NewGoogleSynthesizer(ctx context.Context, logger commons.Logger, credentialsPath string) (Synthesizer, error) {
	opts := make([]option.ClientOption, 0, 1)
	if credentialsPath != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsPath))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tts client: %w", err)
	}
	return &googleSynthesizer{
		logger:     logger,
		client:     client,
		voice:      DefaultVoice,
		sampleRate: DefaultSampleRate,
	}, nil
}

// Synthesize renders text to LINEAR16 WAV at outPath, overwriting any
// previous invocation's file at that path.
func (g *googleSynthesizer) Synthesize(ctx context.Context, text, outPath string) (*Result, error) {
	if text == "" {
		return nil, fmt.Errorf("tts: empty text")
	}

	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: DefaultLanguageCode,
			Name:         g.voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_LINEAR16,
			SampleRateHertz: int32(g.sampleRate),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("tts synthesis failed: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create tts output dir: %w", err)
	}
	if err := os.WriteFile(outPath, resp.GetAudioContent(), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write tts output: %w", err)
	}

	// LINEAR16 responses arrive in a WAV container; the payload past the
	// header is raw PCM.
	pcmBytes := len(resp.GetAudioContent()) - wavHeaderBytes
	duration := 0.0
	if pcmBytes > 0 {
		cfg := &internal_audio.Config{SampleRate: g.sampleRate, Channels: 1}
		duration = float64(pcmBytes) / float64(cfg.BytesPerSecond())
	}

	g.logger.Infow("tts synthesized", "chars", len(text), "path", filepath.Base(outPath), "duration", duration)

	return &Result{
		AudioPath:  outPath,
		Duration:   duration,
		Format:     "wav",
		SampleRate: g.sampleRate,
	}, nil
}
