// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.
package internal_music

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

func newTestLogger(t *testing.T) commons.Logger {
	t.Helper()
	logger, err := commons.NewApplicationLogger(commons.Name("test-music"), commons.Level("error"))
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}

// fakeSink records playback without touching a device. Playback stays
// "active" until Stop or Finish.
type fakeSink struct {
	mu      sync.Mutex
	playing bool
	plays   []string
	rates   []float64
}

func (f *fakeSink) Play(path string, blocking bool) error {
	return f.PlayAtRate(path, blocking, 0.8)
}

func (f *fakeSink) PlayAtRate(path string, blocking bool, rate float64) error {
	f.mu.Lock()
	f.playing = true
	f.plays = append(f.plays, path)
	f.rates = append(f.rates, rate)
	f.mu.Unlock()
	if blocking {
		for f.IsPlaying() {
			time.Sleep(5 * time.Millisecond)
		}
	}
	return nil
}

func (f *fakeSink) Stop() {
	f.mu.Lock()
	f.playing = false
	f.mu.Unlock()
}

func (f *fakeSink) Finish() { f.Stop() }

func (f *fakeSink) IsPlaying() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.playing
}

func newTestPlayer(t *testing.T) (*Player, *fakeSink, string) {
	t.Helper()
	presetDir := t.TempDir()
	for _, name := range []string{"Happy.wav", "Rocky.wav", "Merry-Go-Round of Life.wav"} {
		if err := os.WriteFile(filepath.Join(presetDir, name), []byte("RIFF"), 0o644); err != nil {
			t.Fatalf("failed to seed preset: %v", err)
		}
	}
	sink := &fakeSink{}
	return NewPlayer(newTestLogger(t), sink, "test-key", presetDir), sink, presetDir
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPresetMatching(t *testing.T) {
	player, _, _ := newTestPlayer(t)

	cases := map[string]string{
		"happy":          "happy",
		"happy music":    "happy",
		"workout music":  "workout",
		"relax":          "relaxing",
		"relaxing music": "relaxing",
		"bohemian":       "",
	}
	for query, want := range cases {
		if got := player.matchPreset(query); got != want {
			t.Errorf("%q: got %q, want %q", query, got, want)
		}
	}
}

func TestPlayPresetStartsBackgroundTask(t *testing.T) {
	player, sink, presetDir := newTestPlayer(t)

	track, err := player.PlayQuery("play happy music")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if track.Name != "Happy" || track.Artist != "Preset Music" {
		t.Fatalf("unexpected track: %+v", track)
	}

	waitFor(t, time.Second, func() bool { return len(sinkPlays(sink)) == 1 })
	if got := sinkPlays(sink)[0]; got != filepath.Join(presetDir, "Happy.wav") {
		t.Fatalf("unexpected file: %s", got)
	}
	if !player.IsPlaying() {
		t.Fatal("player must report playing")
	}

	// Natural end of song: the sink finishes, the loop exits.
	sink.Finish()
	waitFor(t, time.Second, func() bool { return !player.IsPlaying() })
}

func TestStopLatencyWithinPollInterval(t *testing.T) {
	player, sink, _ := newTestPlayer(t)

	if _, err := player.PlayQuery("workout"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return sink.IsPlaying() })

	start := time.Now()
	player.Stop()
	elapsed := time.Since(start)

	if player.IsPlaying() {
		t.Fatal("player must be stopped")
	}
	if sink.IsPlaying() {
		t.Fatal("sink must be silent after stop")
	}
	// Stop joins the playback task; one poll period plus slack.
	if elapsed > 500*time.Millisecond {
		t.Fatalf("stop took %v", elapsed)
	}
}

func TestRemoteSearchAndDownload(t *testing.T) {
	trackServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 32*1024))
	}))
	defer trackServer.Close()

	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("client_id") != "test-key" {
			t.Errorf("client_id not forwarded")
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"headers": {"status": "success"},
			"results": [{
				"name": "Test Song", "artist_name": "Tester",
				"album_name": "Album", "duration": 180,
				"audio": %q
			}]
		}`, trackServer.URL)
	}))
	defer apiServer.Close()

	player, sink, _ := newTestPlayer(t)
	player.SetSearchURL(apiServer.URL)

	track, err := player.PlayQuery("some obscure song")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if track.Name != "Test Song" || track.DurationSeconds != 180 {
		t.Fatalf("unexpected track: %+v", track)
	}

	// The downloaded temp file eventually reaches the sink.
	waitFor(t, 2*time.Second, func() bool { return len(sinkPlays(sink)) == 1 })
	player.Stop()
}

func TestSearchFailureReturnsError(t *testing.T) {
	apiServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"headers": {"status": "failed", "error_message": "bad key"}, "results": []}`)
	}))
	defer apiServer.Close()

	player, _, _ := newTestPlayer(t)
	player.SetSearchURL(apiServer.URL)

	if _, err := player.PlayQuery("anything"); err == nil {
		t.Fatal("expected an error from a failed search")
	}
}

func TestNewPlaybackStopsPrevious(t *testing.T) {
	player, sink, _ := newTestPlayer(t)

	if _, err := player.PlayQuery("happy"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sinkPlays(sink)) == 1 })

	if _, err := player.PlayQuery("relaxing"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, time.Second, func() bool { return len(sinkPlays(sink)) == 2 })

	player.Stop()
	waitFor(t, time.Second, func() bool { return !player.IsPlaying() })
}

func sinkPlays(f *fakeSink) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.plays...)
	return out
}
