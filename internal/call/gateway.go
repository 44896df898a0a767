// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_call

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	pionwebrtc "github.com/pion/webrtc/v4"

	internal_audio_resampler "github.com/SunstanYu/MagicMirrorPro/internal/audio/resampler"
	internal_audio_source "github.com/SunstanYu/MagicMirrorPro/internal/audio/source"
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// deviceReleaseDelay gives the OS audio stack time to release the device
// after the call track stops, before normal capture is reinitialized.
const deviceReleaseDelay = 500 * time.Millisecond

// signalMessage is the wire format of the WebSocket signaling channel.
type signalMessage struct {
	Type          string `json:"type"`
	SDP           string `json:"sdp,omitempty"`
	Candidate     string `json:"candidate,omitempty"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex *int   `json:"sdpMLineIndex,omitempty"`
}

// Config parameterizes the signaling endpoint.
type Config struct {
	Host     string
	Port     int
	CertFile string
	KeyFile  string
}

// Gateway exposes the WebRTC signaling endpoint. An incoming offer preempts
// whatever the assistant is doing: the OnCallStart hook runs first (setting
// state to Calling and quiescing the recognition pipeline), then the
// microphone is handed to the call media track. Hang-up restores everything
// through OnCallEnd.
type Gateway struct {
	logger    commons.Logger
	config    Config
	source    internal_audio_source.Source
	resampler internal_audio_resampler.Resampler

	// OnCallStart must set Calling state and stop the audio source before
	// returning; the gateway then attaches the media track.
	OnCallStart func()
	// OnCallEnd runs after the device is released: reinitialize the source
	// and return to Idle.
	OnCallEnd func()

	upgrader websocket.Upgrader
	server   *http.Server

	mu     sync.Mutex
	pc     *pionwebrtc.PeerConnection
	inCall bool
}

func NewGateway(logger commons.Logger, config Config, source internal_audio_source.Source, resampler internal_audio_resampler.Resampler) *Gateway {
	return &Gateway{
		logger:    logger,
		config:    config,
		source:    source,
		resampler: resampler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// Start runs the signaling server until the context is cancelled.
func (g *Gateway) Start(ctx context.Context) error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), cors.Default())
	router.GET("/ws", func(c *gin.Context) {
		g.handleWebSocket(ctx, c.Writer, c.Request)
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	addr := fmt.Sprintf("%s:%d", g.config.Host, g.config.Port)
	g.server = &http.Server{Addr: addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if g.config.CertFile != "" && g.config.KeyFile != "" {
			g.logger.Infow("signaling server listening", "addr", addr, "tls", true)
			err = g.server.ListenAndServeTLS(g.config.CertFile, g.config.KeyFile)
		} else {
			g.logger.Infow("signaling server listening", "addr", addr, "tls", false)
			err = g.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		g.server.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return fmt.Errorf("signaling server failed: %w", err)
	}
}

func (g *Gateway) handleWebSocket(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Errorf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()
	g.logger.Info("signaling connection opened")

	var (
		pc    *pionwebrtc.PeerConnection
		track *micTrack
		// writes to the socket come from ICE callbacks too
		writeMu sync.Mutex
	)

	send := func(msg *signalMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			g.logger.Debugf("signaling write failed: %v", err)
		}
	}

	defer func() {
		g.teardownCall(pc, track)
	}()

	for {
		var msg signalMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				g.logger.Debugf("signaling read ended: %v", err)
			}
			return
		}

		switch msg.Type {
		case "offer":
			pc, track, err = g.handleOffer(ctx, &msg, send)
			if err != nil {
				g.logger.Errorf("offer handling failed: %v", err)
				return
			}

		case "ice-candidate":
			if pc == nil {
				g.logger.Warn("ice candidate before offer, ignoring")
				continue
			}
			init := pionwebrtc.ICECandidateInit{Candidate: msg.Candidate}
			if msg.SDPMid != "" {
				mid := msg.SDPMid
				init.SDPMid = &mid
			}
			if msg.SDPMLineIndex != nil {
				idx := uint16(*msg.SDPMLineIndex)
				init.SDPMLineIndex = &idx
			}
			if err := pc.AddICECandidate(init); err != nil {
				g.logger.Warnf("failed to add ice candidate: %v", err)
			}

		case "bye":
			g.logger.Info("hang-up received")
			return

		default:
			g.logger.Warnw("unknown signaling message", "type", msg.Type)
		}
	}
}

// handleOffer preempts the assistant, hands the microphone to a media track
// and answers the offer.
func (g *Gateway) handleOffer(ctx context.Context, msg *signalMessage, send func(*signalMessage)) (*pionwebrtc.PeerConnection, *micTrack, error) {
	g.mu.Lock()
	if g.inCall {
		g.mu.Unlock()
		return nil, nil, fmt.Errorf("already in a call")
	}
	g.inCall = true
	g.mu.Unlock()

	// State first: the wake/recognition loop observes Calling and exits;
	// OnCallStart stops the audio source and waits for task exit.
	if g.OnCallStart != nil {
		g.OnCallStart()
	}

	pc, err := pionwebrtc.NewPeerConnection(pionwebrtc.Configuration{
		ICEServers: []pionwebrtc.ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	})
	if err != nil {
		g.failCall()
		return nil, nil, fmt.Errorf("failed to create peer connection: %w", err)
	}

	track, err := newMicTrack(g.logger, g.source, g.resampler)
	if err != nil {
		pc.Close()
		g.failCall()
		return nil, nil, err
	}
	if err := track.start(ctx); err != nil {
		pc.Close()
		g.failCall()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(track.track); err != nil {
		track.stop()
		pc.Close()
		g.failCall()
		return nil, nil, fmt.Errorf("failed to add mic track: %w", err)
	}

	pc.OnICECandidate(func(c *pionwebrtc.ICECandidate) {
		if c == nil {
			return
		}
		cJSON := c.ToJSON()
		out := &signalMessage{Type: "ice-candidate", Candidate: cJSON.Candidate}
		if cJSON.SDPMid != nil {
			out.SDPMid = *cJSON.SDPMid
		}
		if cJSON.SDPMLineIndex != nil {
			idx := int(*cJSON.SDPMLineIndex)
			out.SDPMLineIndex = &idx
		}
		send(out)
	})
	pc.OnConnectionStateChange(func(state pionwebrtc.PeerConnectionState) {
		g.logger.Infow("call connection state", "state", state.String())
	})

	if err := pc.SetRemoteDescription(pionwebrtc.SessionDescription{
		Type: pionwebrtc.SDPTypeOffer,
		SDP:  msg.SDP,
	}); err != nil {
		track.stop()
		pc.Close()
		g.failCall()
		return nil, nil, fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		track.stop()
		pc.Close()
		g.failCall()
		return nil, nil, fmt.Errorf("failed to create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		track.stop()
		pc.Close()
		g.failCall()
		return nil, nil, fmt.Errorf("failed to set local description: %w", err)
	}

	send(&signalMessage{Type: "answer", SDP: answer.SDP})
	g.logger.Info("call established, microphone handed to media track")

	g.mu.Lock()
	g.pc = pc
	g.mu.Unlock()
	return pc, track, nil
}

// failCall reverses the preemption when the offer could not be answered.
func (g *Gateway) failCall() {
	g.mu.Lock()
	g.inCall = false
	g.mu.Unlock()
	if g.OnCallEnd != nil {
		g.OnCallEnd()
	}
}

// teardownCall runs the hang-up sequence: stop the media track, wait for
// the OS to release the device, close the peer connection, then let the
// orchestrator reinitialize capture and return to idle.
func (g *Gateway) teardownCall(pc *pionwebrtc.PeerConnection, track *micTrack) {
	g.mu.Lock()
	wasInCall := g.inCall
	g.inCall = false
	g.pc = nil
	g.mu.Unlock()

	if !wasInCall {
		return
	}

	if track != nil {
		track.stop()
	}
	time.Sleep(deviceReleaseDelay)

	if pc != nil {
		pc.Close()
	}
	g.logger.Info("call torn down")

	if g.OnCallEnd != nil {
		g.OnCallEnd()
	}
}

// InCall reports whether a call is active.
func (g *Gateway) InCall() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inCall
}
