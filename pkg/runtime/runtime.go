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

// Package runtime hosts the reasoning loop: one bounded plan-act-observe
// run per invocation, with permission gating, idempotent recovery-wrapped
// tool calls, per-iteration checkpoints and cooperative cancellation. A run
// always returns a RunResult, even on failure.
package runtime

import (
	"context"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/memory"
	"github.com/northpeakmalaysia/swarmai/pkg/model"
)

// Trigger kinds accepted by Run.
const (
	TriggerEvent            = "event"
	TriggerWakeUp           = "wake_up"
	TriggerHeartbeat        = "heartbeat"
	TriggerPlanStep         = "plan_step"
	TriggerPeriodicThink    = "periodic_think"
	TriggerOrchestratedTask = "orchestrated_task"
	TriggerManual           = "manual"
)

// Trigger-context keys recognized by the runtime.
const (
	CtxOrchestrationDepth = "_orchestrationDepth"
	CtxMaxIterations      = "_maxIterations"
	CtxMaxToolCalls       = "_maxToolCalls"
	CtxSituation          = "situation"
	CtxPriorFindings      = "prior_findings"
	CtxOverallGoal        = "overall_goal"
)

// Tools stripped from sub-agent runs.
const (
	ToolOrchestrate      = "orchestrate"
	ToolCreateSpecialist = "createSpecialist"
)

// Config bounds a run.
type Config struct {
	MaxIterations  int           `yaml:"max_iterations" mapstructure:"max_iterations"`
	MaxToolCalls   int           `yaml:"max_tool_calls" mapstructure:"max_tool_calls"`
	Deadline       time.Duration `yaml:"deadline" mapstructure:"deadline"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout" mapstructure:"acquire_timeout"`
	MemoryLimit    int           `yaml:"memory_limit" mapstructure:"memory_limit"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxIterations == 0 {
		c.MaxIterations = 10
	}
	if c.MaxToolCalls == 0 {
		c.MaxToolCalls = 10
	}
	if c.Deadline == 0 {
		c.Deadline = 4 * time.Minute
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = 60 * time.Second
	}
	if c.MemoryLimit == 0 {
		c.MemoryLimit = 5
	}
}

// Request initiates one run.
type Request struct {
	AgentID        string         `json:"agent_id"`
	Trigger        string         `json:"trigger"`
	TriggerContext map[string]any `json:"trigger_context,omitempty"`

	// SkipGuard bypasses the concurrency guard when the caller already
	// holds a slot (trigger engine autonomous execution).
	SkipGuard bool `json:"-"`
}

// Status of a finished run.
type Status string

const (
	StatusCompleted    Status = "completed"
	StatusMaxIter      Status = "max_iterations"
	StatusMaxToolCalls Status = "max_tool_calls"
	StatusDeadline     Status = "deadline"
	StatusCancelled    Status = "cancelled"
	StatusDeferred     Status = "deferred"
	StatusRejected     Status = "rejected"
	StatusFailed       Status = "failed"
)

// Result is what every run returns, success or not.
type Result struct {
	AgentID      string               `json:"agent_id"`
	Trigger      string               `json:"trigger"`
	Status       Status               `json:"status"`
	Actions      []model.ActionRecord `json:"actions"`
	Iterations   int                  `json:"iterations"`
	TokensUsed   int                  `json:"tokens_used"`
	FinalThought string               `json:"final_thought,omitempty"`
	Message      string               `json:"message,omitempty"`
	Silent       bool                 `json:"silent,omitempty"`
	HeartbeatOK  bool                 `json:"heartbeat_ok,omitempty"`
	Error        string               `json:"error,omitempty"`
	DurationMS   int64                `json:"duration_ms"`
}

// ExecutionRecord is one tool execution fact for the self-healing history.
type ExecutionRecord struct {
	AgentID    string        `json:"agent_id"`
	ToolID     string        `json:"tool_id"`
	Success    bool          `json:"success"`
	ErrorMsg   string        `json:"error,omitempty"`
	Strategy   string        `json:"strategy,omitempty"`
	Attempts   int           `json:"attempts"`
	Duration   time.Duration `json:"-"`
	ExecutedAt time.Time     `json:"executed_at"`
}

// ExecutionRecorder receives execution facts. Implemented by the
// self-healing engine's history store; best-effort, never blocks a run.
type ExecutionRecorder interface {
	RecordExecution(ctx context.Context, rec ExecutionRecord)
}

// MemorySearcher retrieves memories for prompt assembly.
type MemorySearcher interface {
	Search(ctx context.Context, userID, agentID, query string, opts memory.SearchOptions) ([]memory.SearchResult, error)
}
