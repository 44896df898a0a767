// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_ui

import (
	"sync"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// Modes the render surface can show.
const (
	ModeIdle      = "idle"
	ModeListening = "listening"
	ModeThinking  = "thinking"
	ModeTalking   = "talking"
	ModeAction    = "action"
	ModeMusic     = "music"
	ModeNews      = "news"
	ModeCall      = "call"
)

// RenderFunc receives mode changes and data updates. The renderer itself
// (screen drawing) lives outside the conversational core.
type RenderFunc func(mode string, data map[string]interface{})

// Manager is the render-callback sink: components publish mode and data,
// the tick loop flushes dirty state to the renderer.
type Manager struct {
	logger commons.Logger
	render RenderFunc

	mu    sync.Mutex
	mode  string
	data  map[string]interface{}
	dirty bool
}

func NewManager(logger commons.Logger, render RenderFunc) *Manager {
	if render == nil {
		render = func(string, map[string]interface{}) {}
	}
	return &Manager{
		logger: logger,
		render: render,
		mode:   ModeIdle,
	}
}

// SetMode switches the surface mode, replacing the mode data.
func (m *Manager) SetMode(mode string, data map[string]interface{}) {
	m.mu.Lock()
	m.mode = mode
	m.data = data
	m.dirty = true
	m.mu.Unlock()
	m.logger.Debugw("ui mode set", "mode", mode)
}

// UpdateData merges values into the current mode's data without switching.
func (m *Manager) UpdateData(values map[string]interface{}) {
	m.mu.Lock()
	if m.data == nil {
		m.data = map[string]interface{}{}
	}
	for k, v := range values {
		m.data[k] = v
	}
	m.dirty = true
	m.mu.Unlock()
}

// Mode returns the current surface mode.
func (m *Manager) Mode() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Update flushes pending changes to the renderer; called once per tick on
// the tick thread.
func (m *Manager) Update() {
	m.mu.Lock()
	if !m.dirty {
		m.mu.Unlock()
		return
	}
	mode := m.mode
	data := m.data
	m.dirty = false
	m.mu.Unlock()

	m.render(mode, data)
}
