// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	internal_actions "github.com/SunstanYu/MagicMirrorPro/internal/actions"
	internal_asr "github.com/SunstanYu/MagicMirrorPro/internal/asr"
	internal_audio_resampler "github.com/SunstanYu/MagicMirrorPro/internal/audio/resampler"
	internal_audio_sink "github.com/SunstanYu/MagicMirrorPro/internal/audio/sink"
	internal_audio_source "github.com/SunstanYu/MagicMirrorPro/internal/audio/source"
	internal_call "github.com/SunstanYu/MagicMirrorPro/internal/call"
	internal_config "github.com/SunstanYu/MagicMirrorPro/internal/config"
	internal_music "github.com/SunstanYu/MagicMirrorPro/internal/music"
	internal_news "github.com/SunstanYu/MagicMirrorPro/internal/news"
	internal_nlu "github.com/SunstanYu/MagicMirrorPro/internal/nlu"
	internal_orchestrator "github.com/SunstanYu/MagicMirrorPro/internal/orchestrator"
	internal_state "github.com/SunstanYu/MagicMirrorPro/internal/state"
	internal_tts "github.com/SunstanYu/MagicMirrorPro/internal/tts"
	internal_ui "github.com/SunstanYu/MagicMirrorPro/internal/ui"
	internal_wake "github.com/SunstanYu/MagicMirrorPro/internal/wake"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const sinkSampleRate = 48000

func main() {
	if err := run(); err != nil {
		log.Fatalf("magic mirror failed: %v", err)
	}
}

func run() error {
	viperCfg, err := internal_config.InitConfig()
	if err != nil {
		return err
	}
	cfg, err := internal_config.GetApplicationConfig(viperCfg)
	if err != nil {
		return err
	}

	logger, err := commons.NewApplicationLogger(
		commons.Name(cfg.Name),
		commons.Path(cfg.LogPath),
		commons.Level(cfg.LogLevel),
	)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("starting magic mirror assistant")

	if err := os.MkdirAll(cfg.TempAudioDir(), 0o755); err != nil {
		return fmt.Errorf("failed to create temp audio dir: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	resampler, err := internal_audio_resampler.GetResampler(logger)
	if err != nil {
		return err
	}

	source, err := internal_audio_source.New(logger, resampler, internal_audio_source.Config{
		TargetSampleRate: cfg.SampleRate,
		BlockSize:        cfg.BlockSize,
		Gain:             cfg.VolumeGain,
		DeviceIndex:      cfg.DeviceIndex,
	})
	if err != nil {
		return err
	}
	// Microphone failure at startup is fatal; there is no assistant
	// without audio input.
	if err := source.Start(); err != nil {
		return err
	}
	defer source.Stop()

	sink, err := internal_audio_sink.NewSpeakerSink(logger, sinkSampleRate)
	if err != nil {
		return err
	}

	var gate internal_wake.VoiceGate
	if cfg.VADModelPath != "" {
		gate, err = internal_wake.NewSileroGate(logger, cfg.VADModelPath, cfg.SampleRate)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no VAD model configured, wake detection runs ungated")
		gate = internal_wake.NewPassthroughGate()
	}
	defer gate.Close()

	detector := internal_wake.NewDetector(logger, cfg.WakeWord,
		internal_wake.NewEnergyKeywordRecognizer(cfg.WakeWord), gate)

	asrOptions, err := internal_asr.NewGoogleOption(logger, cfg.GoogleCredPath, cfg.GoogleProjectID, cfg.SampleRate)
	if err != nil {
		return err
	}
	recognizer, err := internal_asr.NewStreamingRecognizer(ctx, logger, asrOptions, cfg.ASRResultFile)
	if err != nil {
		return err
	}
	defer recognizer.Close()

	synth, err := internal_tts.NewGoogleSynthesizer(ctx, logger, cfg.GoogleCredPath)
	if err != nil {
		return err
	}

	pattern := internal_nlu.NewPatternNLU(logger)
	llm := internal_nlu.NewLLMClient(logger, cfg.LLMAPIURL, cfg.LLMAPIKey, cfg.LLMModel)
	router := internal_nlu.NewRouter(logger, pattern, llm)

	musicPlayer := internal_music.NewPlayer(logger, sink, cfg.MusicAPIKey, cfg.PresetMusicDir())
	weatherAction := internal_actions.NewWeatherAction(logger, cfg.WeatherAPIKey, cfg.WeatherLocation)

	registry := internal_actions.NewRegistry(logger)
	registry.Register(internal_actions.NewNewsAction(logger))
	registry.Register(internal_actions.NewMusicAction(logger, musicPlayer))
	registry.Register(weatherAction)

	newsStreamer := internal_news.NewStreamer(logger, sink, synth, cfg.TempAudioDir())

	uiManager := internal_ui.NewManager(logger, func(mode string, data map[string]interface{}) {
		logger.Debugw("render", "mode", mode)
	})
	newsStreamer.OnTitle = func(index int, title string) {
		uiManager.UpdateData(map[string]interface{}{
			"headline_index": index,
			"headline":       title,
		})
	}

	states := internal_state.NewStore()
	orchestrator := internal_orchestrator.New(
		logger,
		internal_orchestrator.Config{
			WakeWord:     cfg.WakeWord,
			TempAudioDir: cfg.TempAudioDir(),
			ResourceDir:  cfg.ResourceDir,
		},
		states, source, sink, detector, recognizer, router, registry,
		synth, musicPlayer, newsStreamer, uiManager,
	)
	detector.OnDetected = orchestrator.NotifyWake

	// Weather is fetched once at startup for the idle screen.
	weather := weatherAction.Fetch(cfg.WeatherLocation)
	orchestrator.SetIdleData(map[string]interface{}{
		"weather": map[string]interface{}{
			"temperature": weather.Temperature,
			"condition":   weather.Condition,
			"location":    weather.Location,
		},
	})

	gateway := internal_call.NewGateway(logger, internal_call.Config{
		Host:     cfg.SignalingHost,
		Port:     cfg.SignalingPort,
		CertFile: cfg.TLSCertFile,
		KeyFile:  cfg.TLSKeyFile,
	}, source, resampler)
	gateway.OnCallStart = orchestrator.PreemptForCall
	gateway.OnCallEnd = orchestrator.EndCall

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return gateway.Start(groupCtx)
	})
	group.Go(func() error {
		defer stop()
		err := orchestrator.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	logger.Info("magic mirror stopped")
	return nil
}
