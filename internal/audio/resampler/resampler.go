// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_audio_resampler

import (
	"fmt"
	"math"

	"github.com/gopxl/beep/v2"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// Resampler converts LINEAR16 PCM between sample rates. Integer downsampling
// ratios use stride decimation; everything else goes through a polyphase
// resampler.
type Resampler interface {
	Resample(pcm []byte, from, to *internal_audio.Config) ([]byte, error)
}

type pcmResampler struct {
	logger  commons.Logger
	quality int
}

// GetResampler returns the default PCM resampler.
func GetResampler(logger commons.Logger) (Resampler, error) {
	if logger == nil {
		return nil, fmt.Errorf("resampler requires a logger")
	}
	return &pcmResampler{logger: logger, quality: 4}, nil
}

func (r *pcmResampler) Resample(pcm []byte, from, to *internal_audio.Config) ([]byte, error) {
	if from == nil || to == nil {
		return nil, fmt.Errorf("resample requires source and target configs")
	}
	if from.SampleRate == to.SampleRate {
		return pcm, nil
	}
	if len(pcm) < 2 {
		return pcm, nil
	}

	samples := internal_audio.BytesToInt16(pcm)
	samples = internal_audio.DownmixInt16(samples, from.Channels)

	ratio := float64(from.SampleRate) / float64(to.SampleRate)
	if math.Abs(ratio-math.Round(ratio)) < 0.001 && ratio >= 1 {
		return internal_audio.Int16ToBytes(decimate(samples, int(math.Round(ratio)))), nil
	}

	out, err := r.polyphase(samples, from.SampleRate, to.SampleRate)
	if err != nil {
		r.logger.Warnf("resampler: polyphase %d->%dHz failed, passing through: %v",
			from.SampleRate, to.SampleRate, err)
		return pcm, nil
	}
	return internal_audio.Int16ToBytes(out), nil
}

func decimate(samples []int16, step int) []int16 {
	out := make([]int16, 0, len(samples)/step+1)
	for i := 0; i < len(samples); i += step {
		out = append(out, samples[i])
	}
	return out
}

// polyphase streams the samples through beep's resampler.
func (r *pcmResampler) polyphase(samples []int16, fromRate, toRate int) ([]int16, error) {
	src := &int16Streamer{samples: samples}
	rs := beep.Resample(r.quality, beep.SampleRate(fromRate), beep.SampleRate(toRate), src)

	expected := int(float64(len(samples)) * float64(toRate) / float64(fromRate))
	out := make([]int16, 0, expected+16)
	buf := make([][2]float64, 512)
	for {
		n, ok := rs.Stream(buf)
		for i := 0; i < n; i++ {
			v := buf[i][0] * 32767
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			out = append(out, int16(v))
		}
		if !ok {
			break
		}
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// int16Streamer adapts a mono PCM slice to beep.Streamer.
type int16Streamer struct {
	samples []int16
	pos     int
}

func (s *int16Streamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.samples) {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < len(s.samples) {
		v := float64(s.samples[s.pos]) / 32768
		samples[n][0] = v
		samples[n][1] = v
		n++
		s.pos++
	}
	return n, true
}

func (s *int16Streamer) Err() error { return nil }
