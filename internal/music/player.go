// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_music

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	internal_audio_sink "github.com/SunstanYu/MagicMirrorPro/internal/audio/sink"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	jamendoTracksURL = "https://api.jamendo.com/v3.0/tracks/"

	// pollInterval is the stop-check period of the playback loop. The
	// device's own wait is non-preemptible; polling bounds stop latency to
	// one period.
	pollInterval = 100 * time.Millisecond

	// downloadChunkSize is how much is written between stop-flag checks
	// while streaming a remote track to disk.
	downloadChunkSize = 8 * 1024

	// joinTimeout bounds how long a new playback waits for the previous
	// task to exit before abandoning it to daemon cleanup.
	joinTimeout = 2 * time.Second
)

// TrackInfo describes the track being played.
type TrackInfo struct {
	Name            string
	Artist          string
	Album           string
	DurationSeconds int
	AudioURL        string
	LocalPath       string
}

type preset struct {
	file   string
	name   string
	artist string
	album  string
}

// Player streams one track at a time: either a local preset or a Jamendo
// search result downloaded to a temp file. Playback runs in a background
// task with a stop-respecting loop.
type Player struct {
	logger    commons.Logger
	sink      internal_audio_sink.Sink
	http      *resty.Client
	apiKey    string
	presets   map[string]preset
	searchURL string

	mu      sync.Mutex
	playing bool
	current *TrackInfo
	done    chan struct{}
}

// NewPlayer builds the music player. presetDir is the bgm resource
// directory holding the three preset WAV files.
func NewPlayer(logger commons.Logger, sink internal_audio_sink.Sink, apiKey, presetDir string) *Player {
	return &Player{
		logger:    logger,
		sink:      sink,
		http:      resty.New().SetTimeout(30 * time.Second),
		apiKey:    apiKey,
		searchURL: jamendoTracksURL,
		presets: map[string]preset{
			"happy": {
				file:   filepath.Join(presetDir, "Happy.wav"),
				name:   "Happy",
				artist: "Preset Music",
				album:  "Background Music",
			},
			"workout": {
				file:   filepath.Join(presetDir, "Rocky.wav"),
				name:   "Rocky",
				artist: "Preset Music",
				album:  "Background Music",
			},
			"relaxing": {
				file:   filepath.Join(presetDir, "Merry-Go-Round of Life.wav"),
				name:   "Merry-Go-Round of Life",
				artist: "Preset Music",
				album:  "Background Music",
			},
		},
	}
}

// SetSearchURL points the player at a different track API; used by tests.
func (p *Player) SetSearchURL(url string) { p.searchURL = url }

// PlayQuery resolves the query (preset match first, then remote search) and
// starts playback in a background task. Any previous playback is stopped and
// joined first.
func (p *Player) PlayQuery(query string) (*TrackInfo, error) {
	query = strings.TrimSpace(strings.ToLower(query))
	if query == "" {
		return nil, fmt.Errorf("empty music query")
	}

	p.prepareNewPlayback()

	if name := p.matchPreset(query); name != "" {
		return p.playPreset(name)
	}

	tracks, err := p.searchTracks(query, 5)
	if err != nil {
		return nil, fmt.Errorf("music search failed: %w", err)
	}
	if len(tracks) == 0 {
		return nil, fmt.Errorf("no tracks matching %q", query)
	}

	track := tracks[0]
	p.startPlayback(track, func(stop func() bool) {
		p.playRemoteTrack(track, stop)
	})
	return track, nil
}

// matchPreset maps happy/workout/relaxing phrasings onto preset names.
func (p *Player) matchPreset(query string) string {
	switch {
	case strings.Contains(query, "happy"):
		return "happy"
	case strings.Contains(query, "workout"):
		return "workout"
	case strings.Contains(query, "relax"):
		return "relaxing"
	}
	return ""
}

func (p *Player) playPreset(name string) (*TrackInfo, error) {
	preset, ok := p.presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	if _, err := os.Stat(preset.file); err != nil {
		return nil, fmt.Errorf("preset file missing: %w", err)
	}

	track := &TrackInfo{
		Name:      preset.name,
		Artist:    preset.artist,
		Album:     preset.album,
		LocalPath: preset.file,
	}
	p.startPlayback(track, func(stop func() bool) {
		p.playLocalFile(preset.file, stop)
	})
	return track, nil
}

// startPlayback records the new task and launches it. At most one playback
// task exists at a time (prepareNewPlayback already joined the previous one).
func (p *Player) startPlayback(track *TrackInfo, run func(stop func() bool)) {
	done := make(chan struct{})

	p.mu.Lock()
	p.playing = true
	p.current = track
	p.done = done
	p.mu.Unlock()

	stop := func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return !p.playing
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Errorf("music playback panicked: %v", r)
			}
			p.mu.Lock()
			p.playing = false
			p.current = nil
			p.mu.Unlock()
			close(done)
		}()
		run(stop)
	}()
}

// playLocalFile plays a file through the sink at the speech rate scale and
// polls the stop flag every pollInterval instead of blocking on the device.
func (p *Player) playLocalFile(path string, stopped func() bool) {
	if err := p.sink.Play(path, false); err != nil {
		p.logger.Errorf("music playback failed: %v", err)
		return
	}

	for {
		if stopped() {
			p.sink.Stop()
			return
		}
		if !p.sink.IsPlaying() {
			return
		}
		time.Sleep(pollInterval)
	}
}

// playRemoteTrack downloads the track to a temp file in small chunks,
// checking the stop flag between chunks, then plays it like a local file.
// A stop mid-download deletes the partial file.
func (p *Player) playRemoteTrack(track *TrackInfo, stopped func() bool) {
	tmpPath, err := p.download(track.AudioURL, stopped)
	if err != nil {
		p.logger.Errorf("track download failed: %v", err)
		return
	}
	if tmpPath == "" {
		// Stopped during download; partial file already removed.
		return
	}
	defer os.Remove(tmpPath)

	track.LocalPath = tmpPath
	p.playLocalFile(tmpPath, stopped)
}

func (p *Player) download(url string, stopped func() bool) (string, error) {
	if url == "" {
		return "", fmt.Errorf("track has no audio url")
	}

	resp, err := p.http.R().SetDoNotParseResponse(true).Get(url)
	if err != nil {
		return "", fmt.Errorf("download request failed: %w", err)
	}
	body := resp.RawBody()
	defer body.Close()
	if resp.IsError() {
		return "", fmt.Errorf("download request failed: status %d", resp.StatusCode())
	}

	tmpFile, err := os.CreateTemp("", "mirror-track-*.mp3")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}

	buf := make([]byte, downloadChunkSize)
	for {
		if stopped() {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			p.logger.Info("download interrupted, partial file deleted")
			return "", nil
		}
		n, readErr := body.Read(buf)
		if n > 0 {
			if _, writeErr := tmpFile.Write(buf[:n]); writeErr != nil {
				tmpFile.Close()
				os.Remove(tmpFile.Name())
				return "", fmt.Errorf("failed to write track: %w", writeErr)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			tmpFile.Close()
			os.Remove(tmpFile.Name())
			return "", fmt.Errorf("failed to read track: %w", readErr)
		}
	}

	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return "", fmt.Errorf("failed to close track file: %w", err)
	}
	return tmpFile.Name(), nil
}

type jamendoResponse struct {
	Headers struct {
		Status       string `json:"status"`
		ErrorMessage string `json:"error_message"`
	} `json:"headers"`
	Results []struct {
		Name          string `json:"name"`
		ArtistName    string `json:"artist_name"`
		AlbumName     string `json:"album_name"`
		Duration      int    `json:"duration"`
		Audio         string `json:"audio"`
		AudioDownload string `json:"audiodownload"`
	} `json:"results"`
}

func (p *Player) searchTracks(query string, limit int) ([]*TrackInfo, error) {
	var out jamendoResponse
	resp, err := p.http.R().
		SetQueryParams(map[string]string{
			"client_id":   p.apiKey,
			"format":      "json",
			"search":      query,
			"limit":       fmt.Sprintf("%d", limit),
			"audioformat": "mp32",
			"order":       "popularity_total",
		}).
		SetResult(&out).
		Get(p.searchURL)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("search request failed: status %d", resp.StatusCode())
	}
	if out.Headers.Status != "success" {
		return nil, fmt.Errorf("search api error: %s", out.Headers.ErrorMessage)
	}

	tracks := make([]*TrackInfo, 0, len(out.Results))
	for _, r := range out.Results {
		audioURL := r.Audio
		if audioURL == "" {
			audioURL = r.AudioDownload
		}
		tracks = append(tracks, &TrackInfo{
			Name:            r.Name,
			Artist:          r.ArtistName,
			Album:           r.AlbumName,
			DurationSeconds: r.Duration,
			AudioURL:        audioURL,
		})
	}
	p.logger.Infow("music search finished", "query", query, "tracks", len(tracks))
	return tracks, nil
}

// prepareNewPlayback stops the current task and waits up to joinTimeout for
// it to exit so two tasks never touch the output device at once.
func (p *Player) prepareNewPlayback() {
	p.mu.Lock()
	wasPlaying := p.playing
	p.playing = false
	done := p.done
	p.mu.Unlock()

	if !wasPlaying || done == nil {
		return
	}
	p.sink.Stop()
	select {
	case <-done:
	case <-time.After(joinTimeout):
		p.logger.Warn("previous playback task did not exit in time")
	}
}

// Stop halts playback; stop latency is bounded by one poll interval.
func (p *Player) Stop() {
	p.mu.Lock()
	if !p.playing {
		p.mu.Unlock()
		return
	}
	p.playing = false
	done := p.done
	p.mu.Unlock()

	p.sink.Stop()
	if done != nil {
		select {
		case <-done:
		case <-time.After(joinTimeout):
			p.logger.Warn("playback task did not exit in time")
		}
	}
}

// IsPlaying reports whether a playback task is active.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// CurrentTrack returns the in-flight track, nil when idle.
func (p *Player) CurrentTrack() *TrackInfo {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}
