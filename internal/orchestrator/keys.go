// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_orchestrator

import (
	"context"
	"os"

	"golang.org/x/term"

	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// Key is a runtime control key.
type Key int

const (
	KeyNone Key = iota
	// KeyQuit initiates graceful shutdown (Q or Esc).
	KeyQuit
	// KeyEnter cancels music or news playback.
	KeyEnter
)

// keyReader turns raw terminal input into control-key events. When stdin is
// not a terminal (tests, service mode) the reader is inert.
type keyReader struct {
	logger  commons.Logger
	keys    chan Key
	restore func()
}

func newKeyReader(logger commons.Logger) *keyReader {
	return &keyReader{
		logger: logger,
		keys:   make(chan Key, 8),
	}
}

func (r *keyReader) Keys() <-chan Key { return r.keys }

// Start switches the terminal to raw mode and reads single keystrokes until
// the context ends.
func (r *keyReader) Start(ctx context.Context) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		r.logger.Info("stdin is not a terminal, control keys disabled")
		return
	}

	oldState, err := term.MakeRaw(fd)
	if err != nil {
		r.logger.Warnf("failed to enter raw mode, control keys disabled: %v", err)
		return
	}
	r.restore = func() { term.Restore(fd, oldState) }

	go func() {
		defer r.Close()
		buf := make([]byte, 1)
		for {
			if ctx.Err() != nil {
				return
			}
			n, err := os.Stdin.Read(buf)
			if err != nil || n == 0 {
				return
			}
			var key Key
			switch buf[0] {
			case 'q', 'Q', 27: // Esc
				key = KeyQuit
			case '\r', '\n':
				key = KeyEnter
			default:
				continue
			}
			select {
			case r.keys <- key:
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Close restores the terminal state.
func (r *keyReader) Close() {
	if r.restore != nil {
		r.restore()
		r.restore = nil
	}
}
