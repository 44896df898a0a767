// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_audio_sink

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/mp3"
	"github.com/gopxl/beep/v2/speaker"
	"github.com/gopxl/beep/v2/wav"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	// SpeechRateScale pitches synthesized replies and music down to 0.8x of
	// the native sample rate. News headline playback stays at native rate.
	SpeechRateScale = 0.8

	// NativeRateScale plays at the file's own rate.
	NativeRateScale = 1.0

	resampleQuality = 4
)

// Sink plays audio files through the default output device. At most one
// stream plays at a time; Stop is immediate.
type Sink interface {
	// Play decodes and plays a WAV/MP3 file at SpeechRateScale. When
	// blocking is true the call returns after playback completes or Stop
	// is called.
	Play(path string, blocking bool) error
	// PlayAtRate plays with an explicit rate scale (news uses 1.0).
	PlayAtRate(path string, blocking bool, rateScale float64) error
	Stop()
	IsPlaying() bool
}

type playSession struct {
	done   chan struct{}
	closer beep.StreamSeekCloser
	once   sync.Once
}

// release is safe to call from both natural completion and Stop.
func (p *playSession) release() {
	p.once.Do(func() {
		close(p.done)
		p.closer.Close()
	})
}

type speakerSink struct {
	logger   commons.Logger
	sinkRate beep.SampleRate

	mu      sync.Mutex
	playing bool
	session *playSession
}

// NewSpeakerSink initializes the output device at the given rate. The
// speaker is initialized exactly once for the process; every stream is
// resampled into it.
func NewSpeakerSink(logger commons.Logger, sampleRate int) (Sink, error) {
	rate := beep.SampleRate(sampleRate)
	if err := speaker.Init(rate, rate.N(100*time.Millisecond)); err != nil {
		return nil, fmt.Errorf("failed to open output device: %w", err)
	}
	return &speakerSink{logger: logger, sinkRate: rate}, nil
}

func (s *speakerSink) Play(path string, blocking bool) error {
	return s.PlayAtRate(path, blocking, SpeechRateScale)
}

func (s *speakerSink) PlayAtRate(path string, blocking bool, rateScale float64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file %s: %w", path, err)
	}

	streamer, format, err := decode(path, f)
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to decode audio file %s: %w", path, err)
	}

	// Pitch-down by pretending the source rate is rateScale times the
	// file's native rate.
	ratio := float64(format.SampleRate) * rateScale / float64(s.sinkRate)
	resampled := beep.ResampleRatio(resampleQuality, ratio, streamer)

	session := &playSession{
		done:   make(chan struct{}),
		closer: streamer,
	}

	s.mu.Lock()
	if s.playing {
		s.mu.Unlock()
		s.Stop()
		s.mu.Lock()
	}
	s.playing = true
	s.session = session
	s.mu.Unlock()

	s.logger.Infow("playback started", "path", filepath.Base(path), "rateScale", rateScale)

	speaker.Play(beep.Seq(resampled, beep.Callback(func() {
		s.finish(session)
	})))

	if blocking {
		<-session.done
	}
	return nil
}

// finish marks the session complete. Runs from the speaker goroutine on
// natural completion and from Stop on preemption; whichever comes first wins.
func (s *speakerSink) finish(session *playSession) {
	s.mu.Lock()
	if s.session == session {
		s.playing = false
		s.session = nil
	}
	s.mu.Unlock()

	session.release()
}

// Stop halts playback immediately and unblocks any blocking Play call.
func (s *speakerSink) Stop() {
	s.mu.Lock()
	session := s.session
	s.playing = false
	s.session = nil
	s.mu.Unlock()

	speaker.Clear()
	if session != nil {
		session.release()
	}
}

func (s *speakerSink) IsPlaying() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

func decode(path string, f *os.File) (beep.StreamSeekCloser, beep.Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return mp3.Decode(f)
	case ".wav":
		return wav.Decode(f)
	default:
		// WAV is the house format; try it for unknown extensions.
		return wav.Decode(f)
	}
}
