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

package trigger

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/northpeakmalaysia/swarmai/pkg/guard"
	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// TickInterval is the scan period.
const TickInterval = time.Minute

// ExecClock bounds one autonomous prompt execution.
const ExecClock = 3 * time.Minute

// Per-trigger cooldown windows. A trigger that fired for an agent stays
// quiet for its window.
var cooldowns = map[string]time.Duration{
	TypeIdle:         30 * time.Minute,
	TypeGoalCheck:    time.Hour,
	TypeReflection:   time.Hour,
	TypeContext:      30 * time.Minute,
	TypeHealth:       time.Hour,
	TypeFollowUp:     time.Hour,
	TypeProactive:    23 * time.Hour,
	TypeTaskReminder: 6 * time.Hour,
}

// SignalSource supplies per-agent observable state for evaluation.
// External stores (message inbox, task tracker, execution history)
// compose one at wiring time.
type SignalSource interface {
	Signals(ctx context.Context, agentID string) (*Signals, error)
}

// SignalSourceFunc adapts a function to SignalSource.
type SignalSourceFunc func(ctx context.Context, agentID string) (*Signals, error)

func (f SignalSourceFunc) Signals(ctx context.Context, agentID string) (*Signals, error) {
	return f(ctx, agentID)
}

// Engine is the self-prompting scanner.
type Engine struct {
	store    *Store
	profiles *hierarchy.Service
	runner   *runtime.Runner
	guard    *guard.Guard
	signals  SignalSource

	mu        sync.Mutex
	lastFired map[string]time.Time
	deferred  int64
	cancel    context.CancelFunc
	done      chan struct{}
	now       func() time.Time
}

// NewEngine creates the trigger engine.
func NewEngine(store *Store, profiles *hierarchy.Service, runner *runtime.Runner, g *guard.Guard, signals SignalSource) *Engine {
	return &Engine{
		store:     store,
		profiles:  profiles,
		runner:    runner,
		guard:     g,
		signals:   signals,
		lastFired: map[string]time.Time{},
		now:       time.Now,
	}
}

// Start launches the scan loop. Idempotent while running.
func (e *Engine) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.done = make(chan struct{})
	go e.loop(loopCtx)
	slog.Info("Trigger engine started", "interval", TickInterval)
}

// Stop halts the scan loop and waits for the current tick.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	slog.Info("Trigger engine stopped")
}

func (e *Engine) loop(ctx context.Context) {
	defer close(e.done)
	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// Tick scans all eligible agents once.
func (e *Engine) Tick(ctx context.Context) {
	agents, err := e.profiles.ListByStatus(ctx, hierarchy.StatusActive)
	if err != nil {
		slog.Warn("Trigger scan failed to list agents", "error", err)
		return
	}
	for _, agent := range agents {
		if agent.Autonomy() < permission.AutonomySemiAutonomous {
			continue
		}
		if err := e.scanAgent(ctx, agent); err != nil {
			slog.Warn("Trigger scan failed", "agent", agent.ID, "error", err)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (e *Engine) scanAgent(ctx context.Context, agent *hierarchy.Profile) error {
	cfg, err := e.store.GetConfig(ctx, agent.ID)
	if err != nil {
		return err
	}

	var sig *Signals
	if e.signals != nil {
		if sig, err = e.signals.Signals(ctx, agent.ID); err != nil {
			return err
		}
	}
	if sig == nil {
		sig = &Signals{}
	}
	if sig.LastActiveAt.IsZero() {
		sig.LastActiveAt = agent.LastActiveAt
	}

	now := e.now().UTC()
	firings := evaluate(cfg, sig, now, func(expr string) bool { return e.cronDue(expr, now) })

	for _, f := range firings {
		if !e.cooldownReady(agent.ID, f.TriggerType, now) {
			continue
		}
		// Rate limiting before the cooldown is consumed: a throttled cycle
		// leaves the trigger eligible for the next tick.
		recent, err := e.store.CountRecent(ctx, agent.ID, time.Hour)
		if err != nil {
			return err
		}
		if recent >= cfg.MaxPromptsPerHour {
			slog.Debug("Prompt rate limit reached", "agent", agent.ID)
			return nil
		}
		if err := e.firePrompt(ctx, agent, cfg, f, now); err != nil {
			return err
		}
		e.markFired(agent.ID, f.TriggerType, now)
	}
	return nil
}

// cronDue matches the schedule against a 5-minute tolerance around now.
func (e *Engine) cronDue(expr string, now time.Time) bool {
	next, err := gronx.NextTickAfter(expr, now.Add(-5*time.Minute), true)
	if err != nil {
		slog.Warn("Invalid proactive schedule", "expr", expr, "error", err)
		return false
	}
	return !next.After(now.Add(5 * time.Minute))
}

func (e *Engine) cooldownReady(agentID, triggerType string, now time.Time) bool {
	window, ok := cooldowns[triggerType]
	if !ok {
		window = time.Hour
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	last, fired := e.lastFired[agentID+":"+triggerType]
	return !fired || now.Sub(last) >= window
}

func (e *Engine) markFired(agentID, triggerType string, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastFired[agentID+":"+triggerType] = now
}

func (e *Engine) firePrompt(ctx context.Context, agent *hierarchy.Profile, cfg *AgentConfig, f Firing, now time.Time) error {
	approvalRequired := f.Confidence < cfg.AutoApproveThreshold || requiresApproval(agent, f.SuggestedAction)

	prompt := &Prompt{
		AgentID:          agent.ID,
		UserID:           agent.UserID,
		TriggerType:      f.TriggerType,
		TriggerContext:   f.Context,
		SuggestedAction:  f.SuggestedAction,
		Confidence:       f.Confidence,
		Status:           PromptApproved,
		ApprovalRequired: approvalRequired,
		CreatedAt:        now,
	}
	if approvalRequired {
		prompt.Status = PromptPending
	}
	if err := e.store.CreatePrompt(ctx, prompt); err != nil {
		return err
	}
	slog.Info("Self prompt created",
		"agent", agent.ID,
		"trigger", f.TriggerType,
		"action", f.SuggestedAction,
		"confidence", f.Confidence,
		"status", prompt.Status)

	if prompt.Status == PromptApproved && agent.Autonomy() >= permission.AutonomyAutonomous {
		e.execute(ctx, agent, prompt)
	}
	return nil
}

// execute runs an approved prompt for an autonomous agent. At guard
// capacity the prompt is skipped and stays approved for a later tick.
func (e *Engine) execute(ctx context.Context, agent *hierarchy.Profile, prompt *Prompt) {
	release := e.guard.TryAcquire()
	if release == nil {
		e.mu.Lock()
		e.deferred++
		e.mu.Unlock()
		slog.Debug("Prompt execution deferred at capacity", "agent", agent.ID, "prompt", prompt.ID)
		return
	}
	defer release()

	if err := e.store.UpdateStatus(ctx, prompt.ID, PromptApproved, PromptExecuting, ""); err != nil {
		slog.Warn("Prompt already taken", "prompt", prompt.ID, "error", err)
		return
	}

	runCtx, cancel := context.WithTimeout(ctx, ExecClock)
	defer cancel()

	triggerCtx := map[string]any{
		"self_prompt_id":   prompt.ID,
		"trigger_type":     prompt.TriggerType,
		"suggested_action": prompt.SuggestedAction,
	}
	for k, v := range prompt.TriggerContext {
		triggerCtx[k] = v
	}

	run, err := e.runner.Run(runCtx, runtime.Request{
		AgentID:        agent.ID,
		Trigger:        runtime.TriggerPeriodicThink,
		TriggerContext: triggerCtx,
		SkipGuard:      true,
	})

	result := ""
	if err != nil {
		result = err.Error()
	} else if run != nil {
		if data, merr := json.Marshal(map[string]any{
			"status":     run.Status,
			"iterations": run.Iterations,
			"tokens":     run.TokensUsed,
		}); merr == nil {
			result = string(data)
		}
	}
	if uerr := e.store.UpdateStatus(ctx, prompt.ID, PromptExecuting, PromptExecuted, result); uerr != nil {
		slog.Warn("Failed to record prompt result", "prompt", prompt.ID, "error", uerr)
	}
}

// GetConfig returns an agent's trigger configuration.
func (e *Engine) GetConfig(ctx context.Context, agentID string) (*AgentConfig, error) {
	return e.store.GetConfig(ctx, agentID)
}

// UpdateConfig replaces an agent's trigger configuration.
func (e *Engine) UpdateConfig(ctx context.Context, agentID string, cfg *AgentConfig) error {
	return e.store.SetConfig(ctx, agentID, cfg)
}

// GetPendingPrompts lists an agent's actionable pending prompts.
func (e *Engine) GetPendingPrompts(ctx context.Context, agentID string) ([]*Prompt, error) {
	return e.store.ListPending(ctx, agentID)
}

// ApprovePrompt approves a pending prompt. Autonomous agents pick it up
// on execution; others hold it for external dispatch.
func (e *Engine) ApprovePrompt(ctx context.Context, id string) error {
	prompt, err := e.store.GetPrompt(ctx, id)
	if err != nil {
		return err
	}
	if err := e.store.UpdateStatus(ctx, id, PromptPending, PromptApproved, ""); err != nil {
		return err
	}
	agent, err := e.profiles.Get(ctx, prompt.AgentID)
	if err == nil && agent.Autonomy() >= permission.AutonomyAutonomous {
		prompt.Status = PromptApproved
		e.execute(ctx, agent, prompt)
	}
	return nil
}

// RejectPrompt rejects a pending prompt.
func (e *Engine) RejectPrompt(ctx context.Context, id string) error {
	return e.store.UpdateStatus(ctx, id, PromptPending, PromptRejected, "")
}

// Deferred reports how many executions were skipped at guard capacity.
func (e *Engine) Deferred() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.deferred
}

func requiresApproval(agent *hierarchy.Profile, action string) bool {
	category := categoryFor(action)
	if category == "" {
		return false
	}
	return agent.RequiresApproval(category)
}

// categoryFor maps a suggested action to the tool category used by the
// agent's require_approval_for list.
func categoryFor(action string) tool.Category {
	switch action {
	case ActionCheckMessages:
		return tool.CategoryObservation
	case ActionReviewGoals, ActionSelfReflect, ActionHealthCheck:
		return tool.CategorySelfManagement
	case ActionFollowUp, ActionProactive:
		return tool.CategoryCommunicationOut
	}
	return ""
}
