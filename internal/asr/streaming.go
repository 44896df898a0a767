// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	speech "cloud.google.com/go/speech/apiv2"
	"cloud.google.com/go/speech/apiv2/speechpb"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	// InitialWaitDuration is how long the recognizer waits for the first
	// non-empty interim transcript before giving up with an empty result.
	InitialWaitDuration = 5 * time.Second

	// TrailingSilenceDuration ends the stream once interim content has been
	// observed but no new transcript arrives for this long.
	TrailingSilenceDuration = 3 * time.Second

	// audioPollTimeout paces the outbound audio pump.
	audioPollTimeout = 100 * time.Millisecond

	watchdogTick = 50 * time.Millisecond
)

// Result is a finished recognition: Text is empty when no utterance was
// captured within the timing windows.
type Result struct {
	Text         string
	Confidence   float64
	LanguageCode string
	Alternatives []string
}

// recognizeStream is the slice of the bidirectional gRPC stream the engine
// uses; production code passes the Google stream, tests pass a fake.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

// StreamingRecognizer drives one recognition cycle at a time against the
// remote streaming ASR, enforcing the initial-wait and trailing-silence
// timeouts and stopping early on the first committed transcript.
type StreamingRecognizer struct {
	logger     commons.Logger
	options    *googleOption
	resultFile string

	client *speech.Client

	// openStream is swappable for tests.
	openStream func(ctx context.Context) (recognizeStream, error)

	initialWait     time.Duration
	trailingSilence time.Duration

	mu     sync.Mutex
	active bool
}

// NewStreamingRecognizer connects the Google Speech client.
func NewStreamingRecognizer(ctx context.Context, logger commons.Logger, options *googleOption, resultFile string) (*StreamingRecognizer, error) {
	client, err := speech.NewClient(ctx, options.GetClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}

	r := &StreamingRecognizer{
		logger:          logger,
		options:         options,
		resultFile:      resultFile,
		client:          client,
		initialWait:     InitialWaitDuration,
		trailingSilence: TrailingSilenceDuration,
	}
	r.openStream = func(ctx context.Context) (recognizeStream, error) {
		return client.StreamingRecognize(ctx)
	}
	return r, nil
}

// Close releases the underlying client.
func (r *StreamingRecognizer) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Stop terminates the in-flight recognition cycle. The next queue poll in
// the pump observes the flag and the cycle returns with whatever final it
// already holds.
func (r *StreamingRecognizer) Stop() {
	r.mu.Lock()
	r.active = false
	r.mu.Unlock()
}

func (r *StreamingRecognizer) isActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Recognize runs one recognition cycle over the live frame stream and
// returns at most one final result. An empty Result.Text means no utterance
// was captured.
func (r *StreamingRecognizer) Recognize(ctx context.Context, frames <-chan []byte) (*Result, error) {
	cycleCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := r.openStream(cycleCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to open recognition stream: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		Recognizer: r.options.GetRecognizer(),
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: r.options.SpeechToTextOptions(),
		},
	}); err != nil {
		return nil, fmt.Errorf("failed to send recognition config: %w", err)
	}

	r.mu.Lock()
	r.active = true
	r.mu.Unlock()
	defer r.Stop()

	cycle := &recognitionCycle{
		started:         time.Now(),
		initialWait:     r.initialWait,
		trailingSilence: r.trailingSilence,
	}

	responsesDone := make(chan struct{})
	go r.consumeResponses(stream, cycle, cancel, responsesDone)
	go r.pumpAudio(cycleCtx, stream, frames)

	ticker := time.NewTicker(watchdogTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.Stop()
			cancel()
			<-responsesDone
			return cycle.result(), ctx.Err()

		case <-responsesDone:
			return r.finish(cycle), nil

		case <-ticker.C:
			if !r.isActive() {
				cancel()
				<-responsesDone
				return r.finish(cycle), nil
			}
			if cycle.timedOut(time.Now()) {
				r.Stop()
				cancel()
				<-responsesDone
				return r.finish(cycle), nil
			}
		}
	}
}

// pumpAudio forwards capture frames to the remote stream, polling the
// queue at the pacing interval so Stop is honored promptly.
func (r *StreamingRecognizer) pumpAudio(ctx context.Context, stream recognizeStream, frames <-chan []byte) {
	timer := time.NewTimer(audioPollTimeout)
	defer timer.Stop()

	for r.isActive() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(audioPollTimeout)

		select {
		case <-ctx.Done():
			stream.CloseSend()
			return
		case <-timer.C:
			continue
		case frame, ok := <-frames:
			if !ok {
				stream.CloseSend()
				return
			}
			if err := stream.Send(&speechpb.StreamingRecognizeRequest{
				StreamingRequest: &speechpb.StreamingRecognizeRequest_Audio{
					Audio: frame,
				},
			}); err != nil {
				// The response side reports the stream failure; stop pumping.
				r.logger.Debugf("audio send failed, stopping pump: %v", err)
				return
			}
		}
	}
	stream.CloseSend()
}

// consumeResponses applies interim and final transcripts to the cycle.
// The first committed non-empty transcript ends the stream immediately.
func (r *StreamingRecognizer) consumeResponses(stream recognizeStream, cycle *recognitionCycle, cancel context.CancelFunc, done chan<- struct{}) {
	defer close(done)

	for {
		resp, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				r.logger.Warnf("recognition stream closed: %v", err)
			}
			// The remote side closed; return whatever final we hold.
			return
		}

		if len(resp.GetResults()) == 0 {
			continue
		}
		result := resp.GetResults()[0]
		if len(result.GetAlternatives()) == 0 {
			continue
		}
		transcript := strings.TrimSpace(result.GetAlternatives()[0].GetTranscript())
		if transcript == "" {
			continue
		}

		if result.GetIsFinal() {
			final := &Result{
				Text:         transcript,
				Confidence:   float64(result.GetAlternatives()[0].GetConfidence()),
				LanguageCode: DefaultLanguageCode,
			}
			for _, alt := range result.GetAlternatives()[1:] {
				final.Alternatives = append(final.Alternatives, alt.GetTranscript())
			}
			cycle.commit(final)
			r.logger.Infow("final transcript", "text", transcript)
			// Early-stop: do not wait for trailing silence.
			r.Stop()
			cancel()
			return
		}

		cycle.interim()
	}
}

// finish persists a non-empty result and returns it.
func (r *StreamingRecognizer) finish(cycle *recognitionCycle) *Result {
	result := cycle.result()
	if result.Text != "" {
		r.persist(result)
	}
	return result
}

// persist writes the transcript to the well-known single-line file so other
// processes can read the last utterance.
func (r *StreamingRecognizer) persist(result *Result) {
	if r.resultFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(r.resultFile), 0o755); err != nil {
		r.logger.Warnf("failed to create transcript dir: %v", err)
		return
	}
	if err := os.WriteFile(r.resultFile, []byte(result.Text+"\n"), 0o644); err != nil {
		r.logger.Warnf("failed to persist transcript: %v", err)
	}
}

// recognitionCycle tracks per-cycle transcript activity under one mutex.
type recognitionCycle struct {
	mu              sync.Mutex
	started         time.Time
	initialWait     time.Duration
	trailingSilence time.Duration
	sawContent      bool
	lastActivity    time.Time
	final           *Result
}

func (c *recognitionCycle) interim() {
	c.mu.Lock()
	c.sawContent = true
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *recognitionCycle) commit(result *Result) {
	c.mu.Lock()
	c.sawContent = true
	c.lastActivity = time.Now()
	c.final = result
	c.mu.Unlock()
}

// timedOut applies the two timing rules: initial wait before any content,
// trailing silence after it.
func (c *recognitionCycle) timedOut(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.sawContent {
		return now.Sub(c.started) >= c.initialWait
	}
	return now.Sub(c.lastActivity) >= c.trailingSilence
}

func (c *recognitionCycle) result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final != nil {
		return c.final
	}
	return &Result{LanguageCode: DefaultLanguageCode}
}
