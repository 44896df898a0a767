// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_audio_source

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	internal_audio "github.com/SunstanYu/MagicMirrorPro/internal/audio"
	internal_audio_resampler "github.com/SunstanYu/MagicMirrorPro/internal/audio/resampler"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	// frameQueueSize bounds the capture queue; pushes drop the oldest frame
	// under pressure so the pipeline never blocks the device callback.
	frameQueueSize = 16

	// tapFrameMillis is the chunk duration delivered on the call tap.
	tapFrameMillis = 20

	// Error-rate thresholds for stream reinitialization.
	errorRatePerSecond = 10
	errorRateWindow    = 2 * time.Second
)

// Config parameterizes the capture source.
type Config struct {
	// TargetSampleRate is the rate frames are delivered at (ASR rate).
	TargetSampleRate int
	// BlockSize is the number of samples per delivered frame, at the
	// target rate.
	BlockSize int
	// Gain is the floating-point multiplier applied to every sample.
	Gain float64
	// DeviceIndex selects the capture device; negative means default.
	DeviceIndex int
}

// Source owns the single microphone stream. It captures at the device's
// native rate, downmixes to mono, applies gain, resamples to the target
// rate and pushes fixed-size LINEAR16 frames into a bounded queue.
//
// During a call the source is switched into tap mode: the same device feeds
// 20ms chunks to the Tap channel instead of the frame queue, so the WebRTC
// media track owns the microphone for the duration of the call.
type Source interface {
	Start() error
	Stop()
	Reinitialize() error
	ClearBuffer()
	// Frames is the capture queue: LINEAR16 mono frames at the target rate.
	Frames() <-chan []byte
	// NativeSampleRate reports the device rate discovered at init.
	NativeSampleRate() int

	// StartTap switches the source into call-tap mode.
	StartTap() error
	// StopTap leaves call-tap mode; Reinitialize must follow before normal
	// capture resumes (the device may have been claimed by the call stack).
	StopTap()
	// Tap delivers 20ms native-rate chunks while tap mode is active.
	Tap() <-chan []byte
}

type captureSource struct {
	logger    commons.Logger
	config    Config
	resampler internal_audio_resampler.Resampler

	mu         sync.Mutex
	malgoCtx   *malgo.AllocatedContext
	device     *malgo.Device
	running    bool
	tapMode    bool
	nativeRate int
	channels   int

	frames chan []byte
	tap    chan []byte

	// accumulates native-rate mono samples until a full block is ready
	pending []int16

	// transient-error accounting for the reinit policy
	errMu       sync.Mutex
	errTimes    []time.Time
	errBurstAge time.Time
}

// New creates a capture source. Opening the device is deferred to Start so
// construction never touches the hardware.
func New(logger commons.Logger, resampler internal_audio_resampler.Resampler, config Config) (Source, error) {
	if config.TargetSampleRate <= 0 || config.BlockSize <= 0 {
		return nil, fmt.Errorf("audio source: invalid target rate or block size")
	}
	if config.Gain <= 0 {
		config.Gain = 1.0
	}
	return &captureSource{
		logger:    logger,
		config:    config,
		resampler: resampler,
		frames:    make(chan []byte, frameQueueSize),
		tap:       make(chan []byte, frameQueueSize),
	}, nil
}

func (s *captureSource) Frames() <-chan []byte { return s.frames }
func (s *captureSource) Tap() <-chan []byte    { return s.tap }

func (s *captureSource) NativeSampleRate() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nativeRate
}

// Start opens the capture device. Device-open failure is fatal to the
// caller: there is no assistant without a microphone.
func (s *captureSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if err := s.openDeviceLocked(); err != nil {
		return fmt.Errorf("failed to open capture device: %w", err)
	}
	s.running = true
	return nil
}

func (s *captureSource) openDeviceLocked() error {
	malgoCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		s.onBackendMessage(message)
	})
	if err != nil {
		return fmt.Errorf("miniaudio context init: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 0 // device native, downmixed below
	deviceConfig.SampleRate = 0       // device native, resampled below
	deviceConfig.Alsa.NoMMap = 1

	if s.config.DeviceIndex >= 0 {
		infos, err := malgoCtx.Devices(malgo.Capture)
		if err == nil && s.config.DeviceIndex < len(infos) {
			id := infos[s.config.DeviceIndex].ID
			deviceConfig.Capture.DeviceID = id.Pointer()
			s.logger.Infow("using configured capture device",
				"index", s.config.DeviceIndex, "name", infos[s.config.DeviceIndex].Name())
		} else {
			s.logger.Warnf("capture device %d unavailable, using default", s.config.DeviceIndex)
		}
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frameCount uint32) {
			s.onCapture(input, frameCount)
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("capture device init: %w", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		malgoCtx.Free()
		return fmt.Errorf("capture device start: %w", err)
	}

	s.malgoCtx = malgoCtx
	s.device = device
	s.nativeRate = int(device.SampleRate())
	s.channels = int(device.CaptureChannels())
	if s.channels <= 0 {
		s.channels = 1
	}
	s.pending = s.pending[:0]

	s.logger.Infow("capture device opened",
		"nativeRate", s.nativeRate,
		"channels", s.channels,
		"targetRate", s.config.TargetSampleRate)
	return nil
}

// onCapture runs on the miniaudio thread; it must never block.
func (s *captureSource) onCapture(input []byte, frameCount uint32) {
	if len(input) == 0 {
		return
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	channels := s.channels
	nativeRate := s.nativeRate
	tapMode := s.tapMode
	s.mu.Unlock()

	samples := internal_audio.BytesToInt16(input)
	samples = internal_audio.DownmixInt16(samples, channels)
	internal_audio.ApplyGain(samples, s.config.Gain)

	if tapMode {
		s.pushTap(samples, nativeRate)
		return
	}

	s.mu.Lock()
	s.pending = append(s.pending, samples...)
	// A full block at the target rate corresponds to blockNative samples
	// at the native rate.
	blockNative := s.config.BlockSize * nativeRate / s.config.TargetSampleRate
	var ready [][]int16
	for len(s.pending) >= blockNative {
		block := make([]int16, blockNative)
		copy(block, s.pending[:blockNative])
		s.pending = s.pending[blockNative:]
		ready = append(ready, block)
	}
	s.mu.Unlock()

	for _, block := range ready {
		frame := internal_audio.Int16ToBytes(block)
		if nativeRate != s.config.TargetSampleRate {
			resampled, err := s.resampler.Resample(frame,
				&internal_audio.Config{SampleRate: nativeRate, Channels: 1},
				&internal_audio.Config{SampleRate: s.config.TargetSampleRate, Channels: 1})
			if err != nil {
				s.noteTransientError(err)
				continue
			}
			frame = resampled
		}
		s.pushFrame(frame)
	}
}

// pushFrame enqueues with drop-oldest backpressure.
func (s *captureSource) pushFrame(frame []byte) {
	for {
		select {
		case s.frames <- frame:
			return
		default:
			select {
			case <-s.frames:
				s.logger.Debugw("capture queue full, dropping oldest frame")
			default:
			}
		}
	}
}

// pushTap slices native samples into 20ms chunks for the call track.
func (s *captureSource) pushTap(samples []int16, nativeRate int) {
	chunkSamples := nativeRate * tapFrameMillis / 1000
	if chunkSamples <= 0 {
		return
	}
	s.mu.Lock()
	s.pending = append(s.pending, samples...)
	var chunks [][]int16
	for len(s.pending) >= chunkSamples {
		chunk := make([]int16, chunkSamples)
		copy(chunk, s.pending[:chunkSamples])
		s.pending = s.pending[chunkSamples:]
		chunks = append(chunks, chunk)
	}
	s.mu.Unlock()

	for _, chunk := range chunks {
		data := internal_audio.Int16ToBytes(chunk)
		select {
		case s.tap <- data:
		default:
			select {
			case <-s.tap:
			default:
			}
		}
	}
}

// Stop halts capture and releases the device. The device teardown happens
// outside the mutex: Uninit joins the audio thread, and the data callback
// takes the same mutex.
func (s *captureSource) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.tapMode = false
	device := s.device
	malgoCtx := s.malgoCtx
	s.device = nil
	s.malgoCtx = nil
	s.pending = s.pending[:0]
	s.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if malgoCtx != nil {
		malgoCtx.Uninit()
		malgoCtx.Free()
	}
	s.logger.Info("capture device stopped")
}

// Reinitialize tears the device down and opens it again. Used after a call
// ends (the call media stack may have claimed the device) and when the
// transient-error rate trips.
func (s *captureSource) Reinitialize() error {
	s.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openDeviceLocked(); err != nil {
		return fmt.Errorf("failed to reinitialize capture device: %w", err)
	}
	s.running = true
	s.drainLocked()
	return nil
}

// ClearBuffer drops all queued frames and any partial block.
func (s *captureSource) ClearBuffer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.drainLocked()
}

func (s *captureSource) drainLocked() {
	s.pending = s.pending[:0]
	drainChan(s.frames)
	drainChan(s.tap)
}

func drainChan(ch chan []byte) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}

// StartTap diverts capture into 20ms call-track chunks.
func (s *captureSource) StartTap() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		if err := s.openDeviceLocked(); err != nil {
			return fmt.Errorf("failed to open capture device for call: %w", err)
		}
		s.running = true
	}
	s.tapMode = true
	s.pending = s.pending[:0]
	return nil
}

func (s *captureSource) StopTap() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tapMode = false
	s.pending = s.pending[:0]
}

// onBackendMessage receives miniaudio log lines; error lines feed the
// transient-error accounting.
func (s *captureSource) onBackendMessage(message string) {
	if strings.Contains(strings.ToLower(message), "error") {
		s.noteTransientError(fmt.Errorf("miniaudio: %s", strings.TrimSpace(message)))
		return
	}
	s.logger.Debugf("miniaudio: %s", strings.TrimSpace(message))
}

// noteTransientError logs the error and reinitializes the stream when more
// than errorRatePerSecond errors per second are sustained for errorRateWindow.
func (s *captureSource) noteTransientError(err error) {
	s.logger.Warnf("capture error (continuing): %v", err)

	now := time.Now()
	reinit := false

	s.errMu.Lock()
	s.errTimes = append(s.errTimes, now)
	cutoff := now.Add(-time.Second)
	trimmed := s.errTimes[:0]
	for _, t := range s.errTimes {
		if t.After(cutoff) {
			trimmed = append(trimmed, t)
		}
	}
	s.errTimes = trimmed

	if len(s.errTimes) > errorRatePerSecond {
		if s.errBurstAge.IsZero() {
			s.errBurstAge = now
		} else if now.Sub(s.errBurstAge) >= errorRateWindow {
			reinit = true
			s.errBurstAge = time.Time{}
			s.errTimes = s.errTimes[:0]
		}
	} else {
		s.errBurstAge = time.Time{}
	}
	s.errMu.Unlock()

	if reinit {
		s.logger.Warn("sustained capture errors, reinitializing stream")
		// The reinit runs off-thread: this path can be reached from the
		// miniaudio callback, which must not re-enter the device teardown.
		go func() {
			if rErr := s.Reinitialize(); rErr != nil {
				s.logger.Errorf("stream reinitialization failed: %v", rErr)
			}
		}()
	}
}
