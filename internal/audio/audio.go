// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

const (
	AudioBytesPerSample = 2  // LINEAR16 → 2 bytes per sample
	AudioBitsPerSample  = 16 // LINEAR16 → 16 bits per sample
	AudioPCMFormat      = 1  // WAV PCM format tag
)

// Config describes a raw PCM stream: LINEAR16, little-endian.
type Config struct {
	SampleRate int
	Channels   int
}

// MIRROR_INTERNAL_AUDIO_CONFIG is the canonical internal format: everything
// between capture and the cloud ASR/TTS runs at 16kHz mono.
var MIRROR_INTERNAL_AUDIO_CONFIG = &Config{SampleRate: 16000, Channels: 1}

// WEBRTC_AUDIO_CONFIG is the Opus-side format used on call media tracks.
var WEBRTC_AUDIO_CONFIG = &Config{SampleRate: 48000, Channels: 1}

// NewLinear16khzMonoConfig returns the internal ASR/TTS format.
func NewLinear16khzMonoConfig() *Config {
	return &Config{SampleRate: 16000, Channels: 1}
}

// NewLinear48khzMonoConfig returns the WebRTC capture format.
func NewLinear48khzMonoConfig() *Config {
	return &Config{SampleRate: 48000, Channels: 1}
}

// BytesPerSecond returns the PCM byte rate for this config.
func (c *Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * AudioBytesPerSample
}

// BytesToInt16 reinterprets little-endian LINEAR16 bytes as samples.
// A trailing odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// Int16ToBytes renders samples back to little-endian LINEAR16 bytes.
func Int16ToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// DownmixInt16 averages interleaved multi-channel samples into mono.
// Mono input is returned unchanged.
func DownmixInt16(samples []int16, channels int) []int16 {
	if channels <= 1 {
		return samples
	}
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		sum := 0
		for ch := 0; ch < channels; ch++ {
			sum += int(samples[i*channels+ch])
		}
		mono[i] = int16(sum / channels)
	}
	return mono
}

// ApplyGain multiplies samples by gain in floating point and clips to the
// int16 range, in place.
func ApplyGain(samples []int16, gain float64) {
	if gain == 1.0 {
		return
	}
	for i, s := range samples {
		v := float64(s) * gain
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		samples[i] = int16(v)
	}
}

// CreateWAVFile wraps raw PCM in a RIFF/WAVE container.
func CreateWAVFile(pcmData []byte, cfg *Config) ([]byte, error) {
	if cfg == nil || cfg.SampleRate <= 0 || cfg.Channels <= 0 {
		return nil, fmt.Errorf("invalid audio config for WAV encode")
	}
	var buf bytes.Buffer
	bps := cfg.BytesPerSecond()

	buf.Write([]byte("RIFF"))
	binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcmData)))
	buf.Write([]byte("WAVE"))

	buf.Write([]byte("fmt "))
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioPCMFormat))
	binary.Write(&buf, binary.LittleEndian, uint16(cfg.Channels))
	binary.Write(&buf, binary.LittleEndian, uint32(cfg.SampleRate))
	binary.Write(&buf, binary.LittleEndian, uint32(bps))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBytesPerSample*cfg.Channels))
	binary.Write(&buf, binary.LittleEndian, uint16(AudioBitsPerSample))

	buf.Write([]byte("data"))
	binary.Write(&buf, binary.LittleEndian, uint32(len(pcmData)))
	buf.Write(pcmData)

	return buf.Bytes(), nil
}
