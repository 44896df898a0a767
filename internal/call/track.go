// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_call

import (
	"context"
	"fmt"
	"time"

	pionwebrtc "github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	opus "gopkg.in/hraban/opus.v2"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
	internal_audio_resampler "github.com/SunstanYu/MagicMirrorPro/internal/audio/resampler"
	internal_audio_source "github.com/SunstanYu/MagicMirrorPro/internal/audio/source"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	opusSampleRate    = 48000
	opusFrameDuration = 20 * time.Millisecond
	opusFrameSamples  = opusSampleRate / 1000 * 20 // 960 samples per 20ms
	opusMaxPacket     = 1275
)

// micTrack feeds the microphone into a WebRTC audio track: the audio
// source's call tap delivers 20ms native-rate chunks, which are resampled
// to 48kHz, Opus-encoded and written as paced samples.
type micTrack struct {
	logger    commons.Logger
	source    internal_audio_source.Source
	resampler internal_audio_resampler.Resampler
	track     *pionwebrtc.TrackLocalStaticSample
	encoder   *opus.Encoder

	cancel context.CancelFunc
	done   chan struct{}
}

func newMicTrack(logger commons.Logger, source internal_audio_source.Source, resampler internal_audio_resampler.Resampler) (*micTrack, error) {
	track, err := pionwebrtc.NewTrackLocalStaticSample(
		pionwebrtc.RTPCodecCapability{
			MimeType:  pionwebrtc.MimeTypeOpus,
			ClockRate: opusSampleRate,
			Channels:  2,
		},
		"audio",
		"mirror-mic",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create mic track: %w", err)
	}

	encoder, err := opus.NewEncoder(opusSampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}

	return &micTrack{
		logger:    logger,
		source:    source,
		resampler: resampler,
		track:     track,
		encoder:   encoder,
	}, nil
}

// start switches the source into tap mode and begins pumping frames.
func (t *micTrack) start(ctx context.Context) error {
	if err := t.source.StartTap(); err != nil {
		return fmt.Errorf("failed to hand microphone to call: %w", err)
	}

	pumpCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.done = make(chan struct{})
	go t.pump(pumpCtx)
	return nil
}

func (t *micTrack) pump(ctx context.Context) {
	defer close(t.done)

	nativeCfg := &internal_audio.Config{SampleRate: t.source.NativeSampleRate(), Channels: 1}
	opusCfg := &internal_audio.Config{SampleRate: opusSampleRate, Channels: 1}
	packet := make([]byte, opusMaxPacket)
	var pending []int16

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-t.source.Tap():
			if !ok {
				return
			}
			data := chunk
			if nativeCfg.SampleRate != opusSampleRate {
				resampled, err := t.resampler.Resample(chunk, nativeCfg, opusCfg)
				if err != nil {
					t.logger.Debugf("call audio resample failed: %v", err)
					continue
				}
				data = resampled
			}
			pending = append(pending, internal_audio.BytesToInt16(data)...)

			for len(pending) >= opusFrameSamples {
				frame := pending[:opusFrameSamples]
				pending = pending[opusFrameSamples:]

				n, err := t.encoder.Encode(frame, packet)
				if err != nil {
					t.logger.Debugf("opus encode failed: %v", err)
					continue
				}
				if err := t.track.WriteSample(media.Sample{
					Data:     append([]byte(nil), packet[:n]...),
					Duration: opusFrameDuration,
				}); err != nil {
					t.logger.Debugf("track write failed: %v", err)
				}
			}
		}
	}
}

// stop ends the pump and releases the tap. The caller waits for the OS to
// release the device before reinitializing normal capture.
func (t *micTrack) stop() {
	if t.cancel != nil {
		t.cancel()
		<-t.done
	}
	t.source.StopTap()
}
