// Copyright (c) 2024-2026 SunstanYu
// Author: Sunstan Yu <yu.sunstan@gmail.com>
//
// Licensed under GPL-2.0.
// See LICENSE.md for details.

package internal_actions

import (
	"github.com/SunstanYu/MagicMirrorPro/pkg/commons"
)

// Result is what every action returns: a spoken reply, typed data for the
// UI, and a success flag.
type Result struct {
	ReplyText string
	Data      map[string]interface{}
	Success   bool
}

// Action is a named, parameterized, side-effectful capability. Execute runs
// on the orchestrator's worker task and must not block it for more than a
// couple of seconds; long-running work belongs to the music and news
// subsystems.
type Action interface {
	Name() string
	Execute(params map[string]interface{}) *Result
}

// Registry is the name-keyed action catalog established at startup.
type Registry struct {
	logger  commons.Logger
	actions map[string]Action
	order   []string
}

func NewRegistry(logger commons.Logger) *Registry {
	return &Registry{
		logger:  logger,
		actions: make(map[string]Action),
	}
}

// Register adds an action; a later registration with the same name wins.
func (r *Registry) Register(action Action) {
	if _, exists := r.actions[action.Name()]; !exists {
		r.order = append(r.order, action.Name())
	}
	r.actions[action.Name()] = action
	r.logger.Infow("action registered", "action", action.Name())
}

// Get returns the named action, nil when unknown.
func (r *Registry) Get(name string) Action {
	action, ok := r.actions[name]
	if !ok {
		r.logger.Warnw("unknown action requested", "action", name)
		return nil
	}
	return action
}

// List returns action names in registration order.
func (r *Registry) List() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
