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

// Package heartbeat runs liveness checks for agents that opt in: a short
// reasoning cycle on a per-agent timer, a miss counter, and escalation to
// the master contact when misses accumulate.
package heartbeat

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/notify"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
)

// DefaultInterval between heartbeat ticks.
const DefaultInterval = 5 * time.Minute

// DefaultEscalateAfterMisses before a critical_error notification.
const DefaultEscalateAfterMisses = 3

// Heartbeat runs cap per-tick budgets so a check stays cheap.
const (
	TickMaxIterations = 2
	TickMaxToolCalls  = 2
)

type agentState struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Monitor schedules per-agent heartbeat timers. Ticks never overlap for
// the same agent; distinct agents tick independently.
type Monitor struct {
	profiles *hierarchy.Service
	runner   *runtime.Runner
	notifier *notify.Service

	mu      sync.Mutex
	agents  map[string]*agentState
	misses  map[string]int
	lastOK  map[string]time.Time
	baseCtx context.Context
}

// NewMonitor creates the heartbeat monitor.
func NewMonitor(profiles *hierarchy.Service, runner *runtime.Runner, notifier *notify.Service) *Monitor {
	return &Monitor{
		profiles: profiles,
		runner:   runner,
		notifier: notifier,
		agents:   map[string]*agentState{},
		misses:   map[string]int{},
		lastOK:   map[string]time.Time{},
	}
}

// Start reads every active agent's heartbeat config and schedules timers
// for those enabled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	m.baseCtx = ctx
	m.mu.Unlock()

	agents, err := m.profiles.ListByStatus(ctx, hierarchy.StatusActive)
	if err != nil {
		return fmt.Errorf("failed to list agents for heartbeat: %w", err)
	}
	started := 0
	for _, agent := range agents {
		if agent.Heartbeat.Enabled {
			m.Watch(agent.ID, agent.Heartbeat)
			started++
		}
	}
	slog.Info("Heartbeat monitor started", "agents", started)
	return nil
}

// Watch starts (or restarts) the timer for one agent.
func (m *Monitor) Watch(agentID string, cfg hierarchy.HeartbeatConfig) {
	interval := time.Duration(cfg.IntervalMS) * time.Millisecond
	if interval <= 0 {
		interval = DefaultInterval
	}
	escalateAfter := cfg.EscalateAfterMisses
	if escalateAfter <= 0 {
		escalateAfter = DefaultEscalateAfterMisses
	}

	m.mu.Lock()
	if prev, ok := m.agents[agentID]; ok {
		prev.cancel()
	}
	base := m.baseCtx
	if base == nil {
		base = context.Background()
	}
	tickCtx, cancel := context.WithCancel(base)
	state := &agentState{cancel: cancel, done: make(chan struct{})}
	m.agents[agentID] = state
	m.mu.Unlock()

	go func() {
		defer close(state.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-tickCtx.Done():
				return
			case <-ticker.C:
				m.tick(tickCtx, agentID, escalateAfter)
			}
		}
	}()
}

// Unwatch stops the timer for one agent and waits for any in-flight tick.
func (m *Monitor) Unwatch(agentID string) {
	m.mu.Lock()
	state, ok := m.agents[agentID]
	delete(m.agents, agentID)
	m.mu.Unlock()
	if ok {
		state.cancel()
		<-state.done
	}
}

// Stop halts all timers.
func (m *Monitor) Stop() {
	m.mu.Lock()
	states := make([]*agentState, 0, len(m.agents))
	for id, s := range m.agents {
		states = append(states, s)
		delete(m.agents, id)
	}
	m.mu.Unlock()
	for _, s := range states {
		s.cancel()
		<-s.done
	}
	slog.Info("Heartbeat monitor stopped")
}

func (m *Monitor) tick(ctx context.Context, agentID string, escalateAfter int) {
	run, err := m.runner.Run(ctx, runtime.Request{
		AgentID: agentID,
		Trigger: runtime.TriggerHeartbeat,
		TriggerContext: map[string]any{
			runtime.CtxMaxIterations: TickMaxIterations,
			runtime.CtxMaxToolCalls:  TickMaxToolCalls,
		},
	})

	ok := err == nil && run != nil && run.Status == runtime.StatusCompleted && (run.HeartbeatOK || run.Silent)
	if ok {
		m.mu.Lock()
		m.misses[agentID] = 0
		m.lastOK[agentID] = time.Now().UTC()
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	m.misses[agentID]++
	misses := m.misses[agentID]
	m.mu.Unlock()

	reason := "no terminal heartbeat acknowledgment"
	if err != nil {
		reason = err.Error()
	} else if run != nil && run.Error != "" {
		reason = run.Error
	}
	slog.Warn("Heartbeat missed", "agent", agentID, "misses", misses, "reason", reason)

	if misses == escalateAfter {
		m.escalate(ctx, agentID, misses, reason)
	}
}

func (m *Monitor) escalate(ctx context.Context, agentID string, misses int, reason string) {
	slog.Error("Heartbeat escalation", "agent", agentID, "misses", misses)
	if m.notifier == nil {
		return
	}
	agent, err := m.profiles.Get(ctx, agentID)
	userID := ""
	if err == nil {
		userID = agent.UserID
	}
	intent := &notify.Intent{
		AgentID:  agentID,
		UserID:   userID,
		Kind:     notify.KindCriticalError,
		Priority: notify.PriorityHigh,
		Subject:  fmt.Sprintf("Agent %s missed %d heartbeats", agentID, misses),
		Body:     fmt.Sprintf("Last failure: %s", reason),
		Metadata: map[string]any{"misses": misses},
	}
	if err := m.notifier.Send(ctx, intent); err != nil {
		slog.Warn("Heartbeat escalation notification failed", "agent", agentID, "error", err)
	}
}

// Misses returns the current miss count for an agent.
func (m *Monitor) Misses(agentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.misses[agentID]
}

// LastOK returns when the agent last acknowledged a heartbeat.
func (m *Monitor) LastOK(agentID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.lastOK[agentID]
	return t, ok
}
