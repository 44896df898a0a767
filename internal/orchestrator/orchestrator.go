// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_orchestrator

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	internal_actions "github.com/SunstanYu/MagicMirrorPro/internal/actions"
	internal_asr "github.com/SunstanYu/MagicMirrorPro/internal/asr"
	internal_audio_sink "github.com/SunstanYu/MagicMirrorPro/internal/audio/sink"
	internal_nlu "github.com/SunstanYu/MagicMirrorPro/internal/nlu"
	internal_state "github.com/SunstanYu/MagicMirrorPro/internal/state"
	internal_tts "github.com/SunstanYu/MagicMirrorPro/internal/tts"
	internal_ui "github.com/SunstanYu/MagicMirrorPro/internal/ui"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

const (
	// tickInterval paces the render/tick loop at 60Hz.
	tickInterval = time.Second / 60

	// listeningTimeout is the orchestrator-level no-speech watchdog; the
	// recognizer enforces its own initial-wait as well.
	listeningTimeout = 5 * time.Second

	// callTaskExitWait bounds how long call preemption waits for the
	// recognition task to exit, polling every callTaskExitPoll.
	callTaskExitWait = time.Second
	callTaskExitPoll = 100 * time.Millisecond

	// wakeRetryDelay is the backoff after a wake-loop failure.
	wakeRetryDelay = 500 * time.Millisecond

	replyFileName       = "reply_tts.wav"
	newsIntroFileName   = "news_headlines.wav"
	accomplishedWavName = "mission_accomplished.wav"
)

// AudioSource is the slice of the capture source the orchestrator drives.
type AudioSource interface {
	Start() error
	Stop()
	Reinitialize() error
	ClearBuffer()
	Frames() <-chan []byte
}

// WakeWaiter blocks until the wake phrase is heard.
type WakeWaiter interface {
	WaitForWake(ctx context.Context, frames <-chan []byte) error
}

// SpeechRecognizer runs one streaming recognition cycle.
type SpeechRecognizer interface {
	Recognize(ctx context.Context, frames <-chan []byte) (*internal_asr.Result, error)
	Stop()
}

// IntentRouter classifies a final transcript.
type IntentRouter interface {
	Route(ctx context.Context, text string) *internal_nlu.Intent
}

// MusicPlayer is the slice of the music subsystem the tick loop polls.
type MusicPlayer interface {
	Stop()
	IsPlaying() bool
}

// NewsStreamer is the tick-driven headline playback loop.
type NewsStreamer interface {
	Begin(headlines []string)
	Tick(ctx context.Context) bool
	Stop()
}

// Config carries the orchestrator's filesystem and phrase settings.
type Config struct {
	WakeWord     string
	TempAudioDir string
	ResourceDir  string
}

// Orchestrator owns the state machine. It drives a 60Hz tick loop, holds at
// most one background task per kind (wake+recognize, think, act/synthesize,
// speak) and mediates every resource hand-off between capture, speech
// playback, music, news and calls.
type Orchestrator struct {
	logger commons.Logger
	config Config

	states     *internal_state.Store
	source     AudioSource
	sink       internal_audio_sink.Sink
	wake       WakeWaiter
	recognizer SpeechRecognizer
	router     IntentRouter
	registry   *internal_actions.Registry
	synth      internal_tts.Synthesizer
	music      MusicPlayer
	news       NewsStreamer
	ui         *internal_ui.Manager
	keys       *keyReader

	wakeSlot  taskSlot
	thinkSlot taskSlot
	actSlot   taskSlot
	speakSlot taskSlot

	wakeFired atomic.Bool
	quit      chan struct{}
	quitOnce  sync.Once

	mu          sync.Mutex
	transcript  string
	intent      *internal_nlu.Intent
	pendingWAV  string
	pendingNews []string
	listenStart time.Time
	idleData    map[string]interface{}
}

// New wires the orchestrator. The wake detector's detection callback must be
// pointed at NotifyWake by the caller.
func New(
	logger commons.Logger,
	config Config,
	states *internal_state.Store,
	source AudioSource,
	sink internal_audio_sink.Sink,
	wake WakeWaiter,
	recognizer SpeechRecognizer,
	router IntentRouter,
	registry *internal_actions.Registry,
	synth internal_tts.Synthesizer,
	music MusicPlayer,
	news NewsStreamer,
	ui *internal_ui.Manager,
) *Orchestrator {
	return &Orchestrator{
		logger:     logger,
		config:     config,
		states:     states,
		source:     source,
		sink:       sink,
		wake:       wake,
		recognizer: recognizer,
		router:     router,
		registry:   registry,
		synth:      synth,
		music:      music,
		news:       news,
		ui:         ui,
		keys:       newKeyReader(logger),
		quit:       make(chan struct{}),
	}
}

// SetIdleData supplies the clock/weather payload for the idle screen.
func (o *Orchestrator) SetIdleData(data map[string]interface{}) {
	o.mu.Lock()
	o.idleData = data
	o.mu.Unlock()
}

// NotifyWake is the wake detector's synchronous detection callback. The tick
// loop promotes Idle to Listening on the next tick; promotion is gated on
// state inspection so a stale callback cannot double-enter.
func (o *Orchestrator) NotifyWake() {
	o.wakeFired.Store(true)
}

// Quit initiates graceful shutdown.
func (o *Orchestrator) Quit() {
	o.quitOnce.Do(func() { close(o.quit) })
}

// Run drives the tick loop until quit or context cancellation.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.keys.Start(ctx)
	defer o.keys.Close()

	o.setIdleUI()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return ctx.Err()
		case <-o.quit:
			o.logger.Info("shutdown requested")
			o.shutdown()
			return nil
		case key := <-o.keys.Keys():
			o.handleKey(key)
		case <-ticker.C:
			o.tick(ctx)
		}
	}
}

func (o *Orchestrator) handleKey(key Key) {
	switch key {
	case KeyQuit:
		o.Quit()
	case KeyEnter:
		switch o.states.Get() {
		case internal_state.Music:
			o.logger.Info("music cancelled by key press")
			o.music.Stop()
			o.clearTransient()
			if err := o.source.Reinitialize(); err != nil {
				o.logger.Errorf("failed to restore capture after music: %v", err)
			}
			o.states.Set(internal_state.Idle)
			o.setIdleUI()
		case internal_state.News:
			o.logger.Info("news cancelled by key press")
			o.news.Stop()
			o.clearTransient()
			o.source.ClearBuffer()
			o.states.Set(internal_state.Idle)
			o.setIdleUI()
		}
	}
}

// tick runs one state-machine step. Handlers are non-blocking: anything
// slow is scheduled onto a background task slot.
func (o *Orchestrator) tick(ctx context.Context) {
	switch o.states.Get() {
	case internal_state.Idle:
		o.handleIdle(ctx)
	case internal_state.Listening:
		o.handleListening()
	case internal_state.Thinking:
		o.handleThinking(ctx)
	case internal_state.Acting:
		o.handleActing(ctx)
	case internal_state.Chatting:
		o.handleChatting(ctx)
	case internal_state.Speaking:
		o.handleSpeaking(ctx)
	case internal_state.Music:
		o.handleMusic()
	case internal_state.News:
		o.handleNews(ctx)
	case internal_state.Calling:
		// Everything is suspended; the call gateway owns the device.
	}

	o.ui.Update()
}

// ============================================================================
// Per-state handlers
// ============================================================================

func (o *Orchestrator) handleIdle(ctx context.Context) {
	if o.wakeFired.CompareAndSwap(true, false) {
		if o.states.Transition(internal_state.Idle, internal_state.Listening) {
			o.logger.Info("wake word detected, listening")
			o.mu.Lock()
			o.listenStart = time.Now()
			o.mu.Unlock()
			o.ui.SetMode(internal_ui.ModeListening, nil)
		}
		return
	}

	if o.wakeSlot.Running() {
		return
	}
	o.wakeSlot.Spawn(ctx, o.wakeAndRecognizeLoop)
}

func (o *Orchestrator) handleListening() {
	o.mu.Lock()
	started := o.listenStart
	o.mu.Unlock()

	if started.IsZero() || time.Since(started) < listeningTimeout {
		return
	}

	o.logger.Warnf("no speech within %s, returning to idle", listeningTimeout)
	o.recognizer.Stop()
	if o.states.Transition(internal_state.Listening, internal_state.Idle) {
		o.mu.Lock()
		o.listenStart = time.Time{}
		o.mu.Unlock()
		o.setIdleUI()
	}
}

func (o *Orchestrator) handleThinking(ctx context.Context) {
	if o.thinkSlot.Running() {
		return
	}
	o.thinkSlot.Spawn(ctx, func(taskCtx context.Context) {
		defer o.recoverTask("think")

		o.mu.Lock()
		text := o.transcript
		o.mu.Unlock()

		intent := o.router.Route(taskCtx, text)

		o.mu.Lock()
		o.intent = intent
		o.mu.Unlock()

		if intent.Kind == internal_nlu.IntentPredefined {
			o.states.Transition(internal_state.Thinking, internal_state.Acting)
		} else {
			o.states.Transition(internal_state.Thinking, internal_state.Chatting)
		}
	})
	o.ui.SetMode(internal_ui.ModeThinking, map[string]interface{}{
		"transcript": o.currentTranscript(),
	})
}

func (o *Orchestrator) handleActing(ctx context.Context) {
	if o.actSlot.Running() {
		return
	}
	o.actSlot.Spawn(ctx, func(taskCtx context.Context) {
		defer o.recoverTask("act")

		o.mu.Lock()
		intent := o.intent
		o.mu.Unlock()
		if intent == nil {
			o.logger.Error("acting with no intent, returning to idle")
			o.forceIdle()
			return
		}

		action := o.registry.Get(intent.ActionName)
		if action == nil {
			o.speakReply(taskCtx, "Sorry, I don't understand this action",
				internal_state.Acting)
			return
		}

		o.logger.Infow("executing action", "action", intent.ActionName)
		result := action.Execute(intent.ActionParams)

		switch intent.ActionName {
		case "news":
			o.finishNewsAction(taskCtx, result)
		case "music":
			o.finishMusicAction(taskCtx, result)
		default:
			if result.Data == nil {
				result.Data = map[string]interface{}{}
			}
			result.Data["action_name"] = intent.ActionName
			o.ui.SetMode(internal_ui.ModeAction, result.Data)
			o.speakReply(taskCtx, result.ReplyText, internal_state.Acting)
		}
	})
}

// finishNewsAction hands the headline list to the news streamer after the
// pre-recorded intro is spoken.
func (o *Orchestrator) finishNewsAction(ctx context.Context, result *internal_actions.Result) {
	if !result.Success {
		o.speakReply(ctx, result.ReplyText, internal_state.Acting)
		return
	}

	titles := toStringSlice(result.Data["titles"])
	o.mu.Lock()
	o.pendingNews = titles
	o.pendingWAV = filepath.Join(o.config.ResourceDir, newsIntroFileName)
	o.mu.Unlock()

	o.ui.SetMode(internal_ui.ModeNews, result.Data)
	o.states.Transition(internal_state.Acting, internal_state.Speaking)
}

// finishMusicAction releases the microphone and enters Music; the player's
// own background task already owns the speaker.
func (o *Orchestrator) finishMusicAction(ctx context.Context, result *internal_actions.Result) {
	if !result.Success {
		o.speakReply(ctx, result.ReplyText, internal_state.Acting)
		return
	}

	// Music gets the output device exclusively and the microphone is
	// released entirely: no wake detection runs while music plays.
	o.recognizer.Stop()
	o.wakeSlot.CancelAndJoin(callTaskExitWait)
	o.source.Stop()

	o.ui.SetMode(internal_ui.ModeMusic, result.Data)
	o.states.Transition(internal_state.Acting, internal_state.Music)
}

func (o *Orchestrator) handleChatting(ctx context.Context) {
	if o.actSlot.Running() {
		return
	}
	o.ui.SetMode(internal_ui.ModeTalking, nil)
	o.actSlot.Spawn(ctx, func(taskCtx context.Context) {
		defer o.recoverTask("chat-synthesize")

		o.mu.Lock()
		intent := o.intent
		o.mu.Unlock()
		if intent == nil {
			o.logger.Error("chatting with no intent, returning to idle")
			o.forceIdle()
			return
		}
		o.speakReply(taskCtx, intent.ReplyText, internal_state.Chatting)
	})
}

// speakReply synthesizes the reply and moves from the given state to
// Speaking. TTS failure falls back to the pre-recorded acknowledgement.
func (o *Orchestrator) speakReply(ctx context.Context, text string, from internal_state.State) {
	outPath := filepath.Join(o.config.TempAudioDir, replyFileName)

	wavPath := outPath
	if text == "" {
		wavPath = filepath.Join(o.config.ResourceDir, accomplishedWavName)
	} else if _, err := o.synth.Synthesize(ctx, text, outPath); err != nil {
		o.logger.Errorf("reply synthesis failed, using canned audio: %v", err)
		wavPath = filepath.Join(o.config.ResourceDir, accomplishedWavName)
	}

	o.mu.Lock()
	o.pendingWAV = wavPath
	o.mu.Unlock()
	o.states.Transition(from, internal_state.Speaking)
}

func (o *Orchestrator) handleSpeaking(ctx context.Context) {
	if o.speakSlot.Running() {
		return
	}

	o.mu.Lock()
	path := o.pendingWAV
	o.mu.Unlock()
	if path == "" {
		o.logger.Warn("speaking with no audio prepared, returning to idle")
		o.forceIdle()
		return
	}

	o.speakSlot.Spawn(ctx, func(taskCtx context.Context) {
		defer o.recoverTask("speak")

		if err := o.sink.Play(path, true); err != nil {
			o.logger.Errorf("reply playback failed: %v", err)
		}

		o.mu.Lock()
		news := o.pendingNews
		o.pendingNews = nil
		o.pendingWAV = ""
		o.mu.Unlock()

		if len(news) > 0 && o.states.Transition(internal_state.Speaking, internal_state.News) {
			o.news.Begin(news)
			return
		}
		if o.states.Transition(internal_state.Speaking, internal_state.Idle) {
			o.clearTransient()
			o.setIdleUI()
		}
	})
}

func (o *Orchestrator) handleMusic() {
	if o.music.IsPlaying() {
		return
	}
	o.logger.Info("music finished, returning to idle")
	o.clearTransient()
	if err := o.source.Reinitialize(); err != nil {
		o.logger.Errorf("failed to restore capture after music: %v", err)
	}
	o.states.Set(internal_state.Idle)
	o.setIdleUI()
}

func (o *Orchestrator) handleNews(ctx context.Context) {
	if done := o.news.Tick(ctx); done {
		o.logger.Info("news stream finished, returning to idle")
		o.clearTransient()
		o.states.Set(internal_state.Idle)
		o.setIdleUI()
	}
}

// ============================================================================
// Wake + recognition background task
// ============================================================================

// wakeAndRecognizeLoop is the single wake+recognize task. It loops while the
// assistant rests in Idle/Listening, waits for the wake phrase, then runs one
// streaming recognition cycle. A non-empty final transcript moves the machine
// to Thinking and the task exits; otherwise it re-arms.
func (o *Orchestrator) wakeAndRecognizeLoop(ctx context.Context) {
	defer o.recoverTask("wake-recognize")

	for ctx.Err() == nil {
		if !o.states.Is(internal_state.Idle, internal_state.Listening) {
			return
		}

		if err := o.wake.WaitForWake(ctx, o.source.Frames()); err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Errorf("wake detection failed, retrying: %v", err)
			time.Sleep(wakeRetryDelay)
			continue
		}
		// NotifyWake already fired synchronously; the tick loop promotes
		// Idle → Listening. Streaming recognition starts immediately.

		result, err := o.recognizer.Recognize(ctx, o.source.Frames())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			o.logger.Errorf("recognition cycle failed: %v", err)
			time.Sleep(wakeRetryDelay)
		}

		if result != nil && result.Text != "" {
			o.logger.Infow("final transcript accepted", "text", result.Text)
			// Leaving Listening always clears the partial-recognition
			// buffer so stale audio cannot leak into the next wake cycle.
			o.source.ClearBuffer()
			o.mu.Lock()
			o.transcript = result.Text
			o.listenStart = time.Time{}
			o.mu.Unlock()

			if o.states.Transition(internal_state.Listening, internal_state.Thinking) ||
				o.states.Transition(internal_state.Idle, internal_state.Thinking) {
				return
			}
			// Preempted mid-cycle (call, quit); drop the transcript.
			return
		}

		// Nothing captured: clear the partial-recognition buffer before the
		// next wake cycle and fall back to Idle when still Listening.
		o.source.ClearBuffer()
		o.mu.Lock()
		o.listenStart = time.Time{}
		o.mu.Unlock()
		if o.states.Transition(internal_state.Listening, internal_state.Idle) {
			o.logger.Info("no speech captured, re-arming wake detection")
			o.setIdleUI()
		}
		if !o.states.Is(internal_state.Idle) {
			return
		}
	}
}

// ============================================================================
// Call preemption
// ============================================================================

// PreemptForCall is the call gateway's OnCallStart hook: Calling is set
// first so background loops observe it and exit, then every subsystem is
// stopped and the recognition task is given a bounded window to exit.
func (o *Orchestrator) PreemptForCall() {
	o.logger.Info("incoming call, preempting all state")
	o.states.Set(internal_state.Calling)

	o.recognizer.Stop()
	handle := o.wakeSlot.Current()
	if handle != nil {
		handle.Cancel()
	}

	o.sink.Stop()
	o.music.Stop()
	o.news.Stop()
	o.source.Stop()

	deadline := time.Now().Add(callTaskExitWait)
	for o.wakeSlot.Running() && time.Now().Before(deadline) {
		time.Sleep(callTaskExitPoll)
	}
	if o.wakeSlot.Running() {
		o.logger.Warn("recognition task did not exit before call attach")
	}

	o.thinkSlot.CancelAndJoin(callTaskExitPoll)
	o.actSlot.CancelAndJoin(callTaskExitPoll)
	o.speakSlot.CancelAndJoin(callTaskExitPoll)

	o.clearTransient()
	o.ui.SetMode(internal_ui.ModeCall, nil)
}

// EndCall is the gateway's OnCallEnd hook: restore capture and rest.
func (o *Orchestrator) EndCall() {
	o.logger.Info("call ended, restoring capture")
	if err := o.source.Reinitialize(); err != nil {
		o.logger.Errorf("failed to reinitialize capture after call: %v", err)
	}
	o.states.Set(internal_state.Idle)
	o.setIdleUI()
}

// ============================================================================
// Helpers
// ============================================================================

// recoverTask is the catch-all for background tasks: log, clear, force idle.
func (o *Orchestrator) recoverTask(name string) {
	if r := recover(); r != nil {
		o.logger.Errorw("background task panicked", "task", name, "panic", r)
		o.forceIdle()
	}
}

// forceIdle is the failure path: whatever was in flight, return to a
// consistent resting state with capture restored.
func (o *Orchestrator) forceIdle() {
	o.clearTransient()
	if err := o.source.Reinitialize(); err != nil {
		o.logger.Errorf("failed to reinitialize capture: %v", err)
	}
	o.states.Set(internal_state.Idle)
	o.setIdleUI()
}

func (o *Orchestrator) clearTransient() {
	o.mu.Lock()
	o.transcript = ""
	o.intent = nil
	o.pendingWAV = ""
	o.pendingNews = nil
	o.listenStart = time.Time{}
	o.mu.Unlock()
}

func (o *Orchestrator) currentTranscript() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.transcript
}

func (o *Orchestrator) setIdleUI() {
	o.mu.Lock()
	data := o.idleData
	o.mu.Unlock()
	o.ui.SetMode(internal_ui.ModeIdle, data)
}

func (o *Orchestrator) shutdown() {
	o.recognizer.Stop()
	o.wakeSlot.CancelAndJoin(time.Second)
	o.thinkSlot.CancelAndJoin(time.Second)
	o.actSlot.CancelAndJoin(time.Second)
	o.speakSlot.CancelAndJoin(time.Second)
	o.music.Stop()
	o.news.Stop()
	o.sink.Stop()
	o.source.Stop()
	o.logger.Info("orchestrator stopped")
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
