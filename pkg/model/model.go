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

// Package model defines the protocol between the runtime and the external
// model router. The core never talks to an LLM backend directly; it submits
// a Request describing the agent's situation and available tools and receives
// a single Decision back.
package model

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a run's conversation transcript.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	Tool    string `json:"tool,omitempty"`
}

// ToolDescriptor describes one tool offered to the router.
type ToolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Category    string          `json:"category"`
	SideEffect  bool            `json:"side_effect"`
	Schema      json.RawMessage `json:"schema,omitempty"`
}

// ActionType is the kind of action the router decided on.
type ActionType string

const (
	// ActionDone ends the run with a final thought.
	ActionDone ActionType = "done"
	// ActionRespond ends the run and responds to the user.
	ActionRespond ActionType = "respond"
	// ActionSilent ends the run without output.
	ActionSilent ActionType = "silent"
	// ActionHeartbeatOK ends a heartbeat cycle reporting liveness.
	ActionHeartbeatOK ActionType = "heartbeat_ok"
	// ActionTool requests a tool invocation; the run continues.
	ActionTool ActionType = "tool"
)

// Terminal reports whether the action ends the reasoning loop.
func (t ActionType) Terminal() bool {
	return t != ActionTool
}

// Action is the single action a Decision carries.
type Action struct {
	Type ActionType `json:"type"`

	// Summary is set for done actions.
	Summary string `json:"summary,omitempty"`

	// Message is set for respond actions.
	Message string `json:"message,omitempty"`

	// Tool and Params are set for tool actions.
	Tool   string         `json:"tool,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Usage reports token consumption of one router call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int { return u.PromptTokens + u.CompletionTokens }

// Decision is the router's answer to one reasoning step.
type Decision struct {
	Action  Action `json:"action"`
	Thought string `json:"thought,omitempty"`
	Usage   Usage  `json:"usage"`
}

// Request describes one reasoning step submitted to the router.
type Request struct {
	AgentID      string           `json:"agent_id"`
	SystemPrompt string           `json:"system_prompt"`
	Messages     []Message        `json:"messages"`
	Tools        []ToolDescriptor `json:"tools,omitempty"`
	Provider     string           `json:"provider,omitempty"`
	Model        string           `json:"model,omitempty"`
	Temperature  float64          `json:"temperature,omitempty"`
	MaxTokens    int              `json:"max_tokens,omitempty"`
}

// CompletionRequest asks the router for free-form text (plan revision,
// reflection) rather than a structured action.
type CompletionRequest struct {
	AgentID     string  `json:"agent_id"`
	Prompt      string  `json:"prompt"`
	Provider    string  `json:"provider,omitempty"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Completion is the router's free-form answer.
type Completion struct {
	Text  string `json:"text"`
	Usage Usage  `json:"usage"`
}

// Router is the external model backend the core consumes.
//
// Implementations are expected to be safe for concurrent use and to honor
// context cancellation; every call site composes a deadline into ctx.
type Router interface {
	// Decide returns the next action for a reasoning step.
	Decide(ctx context.Context, req *Request) (*Decision, error)

	// Complete returns free-form text for a prompt.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}

// ActionRecord is the durable record of one executed (or attempted) tool
// call within a run. It is persisted in checkpoints and returned in run
// results, carrying the full recovery trail of the call.
type ActionRecord struct {
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params,omitempty"`
	Success    bool           `json:"success"`
	Result     string         `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
	Cached     bool           `json:"cached,omitempty"`
	Strategy   string         `json:"strategy,omitempty"`
	Attempts   int            `json:"attempts,omitempty"`
	Approval   bool           `json:"approval,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	At         time.Time      `json:"at"`
}
