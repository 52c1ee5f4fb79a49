// Copyright 2025 NorthPeak Malaysia Sdn Bhd
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package hooks provides named, priority-ordered async extension points.
//
// Handlers run sequentially in ascending priority, each under a hard
// per-call timeout. Handler errors and timeouts are counted and logged but
// never abort the sequence; a handler returning a non-nil context replaces
// the context passed to the next handler.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	// MaxHandlersPerEvent bounds registrations per event name.
	MaxHandlersPerEvent = 20

	// HandlerTimeout is the hard per-call timeout.
	HandlerTimeout = 5 * time.Second
)

// Context is the value threaded through a hook chain.
type Context map[string]any

// clone returns a shallow copy so handlers never share a mutable map.
func (c Context) clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Handler processes a hook event. Returning a non-nil Context replaces the
// input for the next handler in the chain.
type Handler func(ctx context.Context, hc Context) (Context, error)

type registration struct {
	name     string
	priority int
	handler  Handler
}

// Registry holds hook handlers grouped by event name.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	errors   map[string]int
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string][]registration),
		errors:   make(map[string]int),
	}
}

// Register adds a handler for an event. A handler with the same name
// replaces the previous one; beyond MaxHandlersPerEvent new registrations
// are refused.
func (r *Registry) Register(event, name string, priority int, h Handler) error {
	if event == "" || name == "" {
		return fmt.Errorf("event and name are required")
	}
	if h == nil {
		return fmt.Errorf("handler is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[event]
	for i, reg := range regs {
		if reg.name == name {
			regs[i] = registration{name: name, priority: priority, handler: h}
			r.sortLocked(event)
			return nil
		}
	}

	if len(regs) >= MaxHandlersPerEvent {
		slog.Warn("Hook handler limit reached, registration refused",
			"event", event, "name", name, "limit", MaxHandlersPerEvent)
		return fmt.Errorf("event %q already has %d handlers", event, MaxHandlersPerEvent)
	}

	r.handlers[event] = append(regs, registration{name: name, priority: priority, handler: h})
	r.sortLocked(event)
	return nil
}

func (r *Registry) sortLocked(event string) {
	regs := r.handlers[event]
	sort.SliceStable(regs, func(i, j int) bool {
		return regs[i].priority < regs[j].priority
	})
}

// Unregister removes a named handler from an event.
func (r *Registry) Unregister(event, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.handlers[event]
	for i, reg := range regs {
		if reg.name == name {
			r.handlers[event] = append(regs[:i], regs[i+1:]...)
			return
		}
	}
}

// Emit runs all handlers for an event in priority order and returns the
// final context. Handler failures are swallowed.
func (r *Registry) Emit(ctx context.Context, event string, hc Context) Context {
	r.mu.RLock()
	regs := make([]registration, len(r.handlers[event]))
	copy(regs, r.handlers[event])
	r.mu.RUnlock()

	if hc == nil {
		hc = Context{}
	}
	current := hc

	for _, reg := range regs {
		next, err := r.runOne(ctx, reg, current.clone())
		if err != nil {
			r.recordError(event)
			slog.Warn("Hook handler failed", "event", event, "handler", reg.name, "error", err)
			continue
		}
		if next != nil {
			current = next
		}
	}
	return current
}

// EmitAsync runs Emit in a goroutine and never propagates panics.
func (r *Registry) EmitAsync(event string, hc Context) {
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				r.recordError(event)
				slog.Error("Hook emit panicked", "event", event, "panic", rec)
			}
		}()
		r.Emit(context.Background(), event, hc)
	}()
}

// runOne executes a single handler under the hard timeout. A timed-out
// handler keeps running in its goroutine but its result is discarded.
func (r *Registry) runOne(ctx context.Context, reg registration, hc Context) (Context, error) {
	callCtx, cancel := context.WithTimeout(ctx, HandlerTimeout)
	defer cancel()

	type outcome struct {
		hc  Context
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("handler panicked: %v", rec)}
			}
		}()
		next, err := reg.handler(callCtx, hc)
		done <- outcome{hc: next, err: err}
	}()

	select {
	case out := <-done:
		return out.hc, out.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("handler timed out after %s", HandlerTimeout)
	}
}

func (r *Registry) recordError(event string) {
	r.mu.Lock()
	r.errors[event]++
	r.mu.Unlock()
}

// ErrorCount returns the number of swallowed handler failures for an event.
func (r *Registry) ErrorCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.errors[event]
}

// HandlerCount returns how many handlers an event has.
func (r *Registry) HandlerCount(event string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers[event])
}
