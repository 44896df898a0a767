// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.
package internal_asr

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv2/speechpb"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-asr"), commons.Level("error"))
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

// scriptedStream feeds canned responses with delays and swallows sends.
type scriptedResponse struct {
	delay      time.Duration
	transcript string
	confidence float32
	isFinal    bool
}

type scriptedStream struct {
	mu        sync.Mutex
	responses []scriptedResponse
	closed    chan struct{}
	closeOnce sync.Once
	sent      int
}

func newScriptedStream(responses ...scriptedResponse) *scriptedStream {
	return &scriptedStream{responses: responses, closed: make(chan struct{})}
}

func (s *scriptedStream) Send(*speechpb.StreamingRecognizeRequest) error {
	s.mu.Lock()
	s.sent++
	s.mu.Unlock()
	return nil
}

func (s *scriptedStream) CloseSend() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *scriptedStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	s.mu.Lock()
	if len(s.responses) == 0 {
		s.mu.Unlock()
		<-s.closed
		return nil, io.EOF
	}
	next := s.responses[0]
	s.responses = s.responses[1:]
	s.mu.Unlock()

	select {
	case <-time.After(next.delay):
	case <-s.closed:
		return nil, io.EOF
	}

	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{
			{
				IsFinal: next.isFinal,
				Alternatives: []*speechpb.SpeechRecognitionAlternative{
					{Transcript: next.transcript, Confidence: next.confidence},
				},
			},
		},
	}, nil
}

func newTestRecognizer(t *testing.T, stream *scriptedStream, resultFile string) *StreamingRecognizer {
	t.Helper()
	options, err := NewGoogleOption(newTestLogger(t), "", "test-project", 16000)
	if err != nil {
		t.Fatalf("failed to build options: %v", err)
	}
	return &StreamingRecognizer{
		logger:          newTestLogger(t),
		options:         options,
		resultFile:      resultFile,
		initialWait:     300 * time.Millisecond,
		trailingSilence: 200 * time.Millisecond,
		openStream: func(context.Context) (recognizeStream, error) {
			return stream, nil
		},
	}
}

func frameSource() chan []byte {
	frames := make(chan []byte, 64)
	go func() {
		for i := 0; i < 64; i++ {
			frames <- make([]byte, 320)
			time.Sleep(10 * time.Millisecond)
		}
	}()
	return frames
}

func TestInitialWaitTimesOutEmpty(t *testing.T) {
	stream := newScriptedStream() // never produces a transcript
	rec := newTestRecognizer(t, stream, "")

	start := time.Now()
	result, err := rec.Recognize(context.Background(), frameSource())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty result, got %q", result.Text)
	}
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Fatalf("returned before the initial wait: %v", elapsed)
	}
}

func TestEarlyStopOnFinal(t *testing.T) {
	stream := newScriptedStream(
		scriptedResponse{delay: 20 * time.Millisecond, transcript: "show me", isFinal: false},
		scriptedResponse{delay: 20 * time.Millisecond, transcript: "show me the news", confidence: 0.93, isFinal: true},
	)
	rec := newTestRecognizer(t, stream, "")

	start := time.Now()
	result, err := rec.Recognize(context.Background(), frameSource())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "show me the news" {
		t.Fatalf("unexpected text %q", result.Text)
	}
	if result.Confidence < 0.9 {
		t.Fatalf("confidence not carried: %v", result.Confidence)
	}
	// Early stop must not wait for the trailing-silence window on top of
	// the response delays.
	if elapsed := time.Since(start); elapsed > 150*time.Millisecond {
		t.Fatalf("early stop took too long: %v", elapsed)
	}
}

func TestTrailingSilenceEndsWithEmptyFinal(t *testing.T) {
	// One interim, then silence: terminates after the silence window with
	// an empty result because nothing was committed.
	stream := newScriptedStream(
		scriptedResponse{delay: 10 * time.Millisecond, transcript: "uh", isFinal: false},
	)
	rec := newTestRecognizer(t, stream, "")

	result, err := rec.Recognize(context.Background(), frameSource())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "" {
		t.Fatalf("expected empty result, got %q", result.Text)
	}
}

func TestStopTerminatesCycle(t *testing.T) {
	stream := newScriptedStream()
	rec := newTestRecognizer(t, stream, "")
	rec.initialWait = 10 * time.Second

	done := make(chan *Result, 1)
	go func() {
		result, _ := rec.Recognize(context.Background(), frameSource())
		done <- result
	}()

	time.Sleep(50 * time.Millisecond)
	rec.Stop()

	select {
	case result := <-done:
		if result.Text != "" {
			t.Fatalf("expected empty result, got %q", result.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Recognize did not return after Stop")
	}
}

func TestFinalTranscriptPersisted(t *testing.T) {
	resultFile := filepath.Join(t.TempDir(), "asr_result.txt")
	stream := newScriptedStream(
		scriptedResponse{delay: 10 * time.Millisecond, transcript: "who are you", confidence: 0.8, isFinal: true},
	)
	rec := newTestRecognizer(t, stream, resultFile)

	result, err := rec.Recognize(context.Background(), frameSource())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Text != "who are you" {
		t.Fatalf("unexpected text %q", result.Text)
	}

	data, err := os.ReadFile(resultFile)
	if err != nil {
		t.Fatalf("transcript file not written: %v", err)
	}
	if strings.TrimSpace(string(data)) != "who are you" {
		t.Fatalf("unexpected file contents %q", data)
	}
}
