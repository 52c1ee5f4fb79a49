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

// Package trigger scans eligible agents once a minute and synthesizes
// self-prompts: idle detection, goal checks, reflection, context changes,
// health, follow-ups, proactive contact and task reminders. Approved
// prompts for autonomous agents execute immediately through the runtime.
package trigger

import (
	"fmt"
	"math"
	"time"
)

// Trigger type identifiers.
const (
	TypeIdle         = "idle_detection"
	TypeGoalCheck    = "goal_check"
	TypeReflection   = "reflection_schedule"
	TypeContext      = "context_change"
	TypeHealth       = "health_check"
	TypeFollowUp     = "follow_up"
	TypeProactive    = "proactive_contact"
	TypeTaskReminder = "pending_task_reminder"
)

// Suggested actions carried by prompts.
const (
	ActionCheckMessages = "check_messages"
	ActionReviewGoals   = "review_goals"
	ActionSelfReflect   = "self_reflect"
	ActionHealthCheck   = "health_check"
	ActionFollowUp      = "follow_up_check_in"
	ActionProactive     = "proactive_outreach"
)

// Prompt lifecycle.
type PromptStatus string

const (
	PromptPending   PromptStatus = "pending"
	PromptApproved  PromptStatus = "approved"
	PromptExecuting PromptStatus = "executing"
	PromptExecuted  PromptStatus = "executed"
	PromptRejected  PromptStatus = "rejected"
	PromptExpired   PromptStatus = "expired"
)

// PromptTTL is how long a pending prompt stays actionable.
const PromptTTL = 24 * time.Hour

// Prompt is one synthesized self-prompt.
type Prompt struct {
	ID               string         `json:"id"`
	AgentID          string         `json:"agent_id"`
	UserID           string         `json:"user_id"`
	TriggerType      string         `json:"trigger_type"`
	TriggerContext   map[string]any `json:"trigger_context,omitempty"`
	SuggestedAction  string         `json:"suggested_action"`
	Confidence       float64        `json:"confidence"`
	Status           PromptStatus   `json:"status"`
	ApprovalRequired bool           `json:"approval_required"`
	Result           string         `json:"result,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	ExpiresAt        time.Time      `json:"expires_at"`
	ExecutedAt       *time.Time     `json:"executed_at,omitempty"`
}

// AgentConfig holds per-agent trigger settings.
type AgentConfig struct {
	Disabled             []string      `json:"disabled,omitempty" yaml:"disabled"`
	IdleThreshold        time.Duration `json:"idle_threshold" yaml:"idle_threshold"`
	ReflectionInterval   time.Duration `json:"reflection_interval" yaml:"reflection_interval"`
	FollowUpDelayMinutes int           `json:"follow_up_delay_minutes" yaml:"follow_up_delay_minutes"`
	ProactiveSchedule    string        `json:"proactive_schedule,omitempty" yaml:"proactive_schedule"`
	ReminderHours        int           `json:"reminder_hours" yaml:"reminder_hours"`
	MaxPromptsPerHour    int           `json:"max_prompts_per_hour" yaml:"max_prompts_per_hour"`
	AutoApproveThreshold float64       `json:"auto_approve_threshold" yaml:"auto_approve_threshold"`
}

// SetDefaults applies default values.
func (c *AgentConfig) SetDefaults() {
	if c.IdleThreshold == 0 {
		c.IdleThreshold = 30 * time.Minute
	}
	if c.ReflectionInterval == 0 {
		c.ReflectionInterval = 24 * time.Hour
	}
	if c.FollowUpDelayMinutes == 0 {
		c.FollowUpDelayMinutes = 60
	}
	if c.ReminderHours == 0 {
		c.ReminderHours = 24
	}
	if c.MaxPromptsPerHour == 0 {
		c.MaxPromptsPerHour = 10
	}
	if c.AutoApproveThreshold == 0 {
		c.AutoApproveThreshold = 0.9
	}
}

// Enabled reports whether a trigger type is active for this agent.
func (c *AgentConfig) Enabled(triggerType string) bool {
	for _, d := range c.Disabled {
		if d == triggerType {
			return false
		}
	}
	return true
}

// Goal is the slice of goal state the evaluators need.
type Goal struct {
	Title    string     `json:"title"`
	Progress float64    `json:"progress"`
	Deadline *time.Time `json:"deadline,omitempty"`
}

// Signals is the observable agent state the evaluators consume. Sources
// outside the core (message stores, task trackers) fill it per tick.
type Signals struct {
	LastActiveAt     time.Time
	LastReflectionAt time.Time
	Goals            []Goal
	UnreadMessages   int
	OverdueTasks     int
	StaleTasks       int
	LastOutgoingAt   time.Time
	LastInboundAt    time.Time
	Executions24h    int
	ErrorRate24h     float64
	TrendDegrading   bool
}

// Firing is an evaluator's positive verdict.
type Firing struct {
	TriggerType     string
	SuggestedAction string
	Confidence      float64
	Context         map[string]any
}

// evaluate runs all enabled evaluators against the signals and returns
// the firings, in stable trigger order.
func evaluate(cfg *AgentConfig, sig *Signals, now time.Time, cronDue func(string) bool) []Firing {
	var firings []Firing
	add := func(f *Firing) {
		if f != nil && cfg.Enabled(f.TriggerType) {
			firings = append(firings, *f)
		}
	}
	add(evalIdle(cfg, sig, now))
	add(evalGoals(sig, now))
	add(evalReflection(cfg, sig, now))
	add(evalContext(sig))
	add(evalHealth(sig))
	add(evalFollowUp(cfg, sig, now))
	add(evalProactive(cfg, cronDue))
	add(evalTaskReminder(sig))
	return firings
}

func evalIdle(cfg *AgentConfig, sig *Signals, now time.Time) *Firing {
	if sig.LastActiveAt.IsZero() || now.Sub(sig.LastActiveAt) < cfg.IdleThreshold {
		return nil
	}
	return &Firing{
		TriggerType:     TypeIdle,
		SuggestedAction: ActionCheckMessages,
		Confidence:      0.8,
		Context: map[string]any{
			"idle_minutes": int(now.Sub(sig.LastActiveAt).Minutes()),
		},
	}
}

// evalGoals fires for goals with a near deadline and low progress, or
// stalled goals with no deadline. Confidence scales with urgency.
func evalGoals(sig *Signals, now time.Time) *Firing {
	confidence := 0.0
	var worst string
	for _, g := range sig.Goals {
		switch {
		case g.Deadline != nil:
			remaining := g.Deadline.Sub(now)
			if remaining <= 72*time.Hour && g.Progress < 0.8 {
				// Closer deadline and lower progress raise confidence.
				urgency := 0.75 + 0.2*(1-math.Max(remaining.Hours(), 0)/72)
				if urgency > confidence {
					confidence = math.Min(urgency, 0.95)
					worst = g.Title
				}
			}
		case g.Progress < 0.2:
			if confidence < 0.75 {
				confidence = 0.75
				worst = g.Title
			}
		}
	}
	if confidence == 0 {
		return nil
	}
	return &Firing{
		TriggerType:     TypeGoalCheck,
		SuggestedAction: ActionReviewGoals,
		Confidence:      confidence,
		Context:         map[string]any{"goal": worst},
	}
}

func evalReflection(cfg *AgentConfig, sig *Signals, now time.Time) *Firing {
	if sig.LastReflectionAt.IsZero() || now.Sub(sig.LastReflectionAt) < cfg.ReflectionInterval {
		return nil
	}
	return &Firing{
		TriggerType:     TypeReflection,
		SuggestedAction: ActionSelfReflect,
		Confidence:      0.85,
	}
}

func evalContext(sig *Signals) *Firing {
	switch {
	case sig.UnreadMessages >= 5:
		confidence := 0.7 + math.Min(float64(sig.UnreadMessages-5)*0.02, 0.2)
		return &Firing{
			TriggerType:     TypeContext,
			SuggestedAction: ActionCheckMessages,
			Confidence:      confidence,
			Context:         map[string]any{"unread_messages": sig.UnreadMessages},
		}
	case sig.OverdueTasks > 0:
		return &Firing{
			TriggerType:     TypeContext,
			SuggestedAction: ActionReviewGoals,
			Confidence:      0.8,
			Context:         map[string]any{"overdue_tasks": sig.OverdueTasks},
		}
	}
	return nil
}

func evalHealth(sig *Signals) *Firing {
	if sig.Executions24h < 5 {
		return nil
	}
	if sig.ErrorRate24h <= 0.2 && !sig.TrendDegrading {
		return nil
	}
	confidence := 0.8 + math.Min(sig.ErrorRate24h*0.2, 0.15)
	return &Firing{
		TriggerType:     TypeHealth,
		SuggestedAction: ActionHealthCheck,
		Confidence:      math.Min(confidence, 0.95),
		Context: map[string]any{
			"error_rate": fmt.Sprintf("%.0f%%", sig.ErrorRate24h*100),
			"degrading":  sig.TrendDegrading,
		},
	}
}

// evalFollowUp fires when the master has been silent for the configured
// delay after the agent's last outgoing response.
func evalFollowUp(cfg *AgentConfig, sig *Signals, now time.Time) *Firing {
	if sig.LastOutgoingAt.IsZero() {
		return nil
	}
	if !sig.LastInboundAt.IsZero() && sig.LastInboundAt.After(sig.LastOutgoingAt) {
		return nil
	}
	delay := time.Duration(cfg.FollowUpDelayMinutes) * time.Minute
	silence := now.Sub(sig.LastOutgoingAt)
	if silence < delay-10*time.Minute || silence > delay+10*time.Minute {
		return nil
	}
	return &Firing{
		TriggerType:     TypeFollowUp,
		SuggestedAction: ActionFollowUp,
		Confidence:      0.85,
		Context:         map[string]any{"silence_minutes": int(silence.Minutes())},
	}
}

func evalProactive(cfg *AgentConfig, cronDue func(string) bool) *Firing {
	if cfg.ProactiveSchedule == "" || cronDue == nil || !cronDue(cfg.ProactiveSchedule) {
		return nil
	}
	return &Firing{
		TriggerType:     TypeProactive,
		SuggestedAction: ActionProactive,
		Confidence:      0.9,
	}
}

func evalTaskReminder(sig *Signals) *Firing {
	if sig.StaleTasks == 0 {
		return nil
	}
	return &Firing{
		TriggerType:     TypeTaskReminder,
		SuggestedAction: ActionFollowUp,
		Confidence:      0.8,
		Context:         map[string]any{"stale_tasks": sig.StaleTasks},
	}
}
