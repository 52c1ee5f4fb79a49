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

package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/northpeakmalaysia/swarmai/pkg/approval"
	"github.com/northpeakmalaysia/swarmai/pkg/audit"
	"github.com/northpeakmalaysia/swarmai/pkg/checkpoint"
	"github.com/northpeakmalaysia/swarmai/pkg/guard"
	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/hooks"
	"github.com/northpeakmalaysia/swarmai/pkg/memory"
	"github.com/northpeakmalaysia/swarmai/pkg/model"
	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/recovery"
	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// Runner executes reasoning runs. Construct once and share.
type Runner struct {
	cfg         Config
	profiles    *hierarchy.Service
	router      model.Router
	catalogue   *tool.Catalogue
	permissions *permission.Checker
	executor    *recovery.Executor
	checkpoints checkpoint.Service
	guard       *guard.Guard
	audit       *audit.Log
	approvals   approval.Store
	hooks       *hooks.Registry
	memories    MemorySearcher
	recorder    ExecutionRecorder

	encoder *tiktoken.Tiktoken
}

// Options carries the optional collaborators of a Runner.
type Options struct {
	Audit     *audit.Log
	Approvals approval.Store
	Hooks     *hooks.Registry
	Memories  MemorySearcher
	Recorder  ExecutionRecorder
}

// NewRunner wires a runner. profiles, router, catalogue, permissions,
// executor, checkpoints and g are required.
func NewRunner(cfg Config, profiles *hierarchy.Service, router model.Router, catalogue *tool.Catalogue,
	permissions *permission.Checker, executor *recovery.Executor, checkpoints checkpoint.Service,
	g *guard.Guard, opts Options) (*Runner, error) {

	if profiles == nil || router == nil || catalogue == nil || permissions == nil || executor == nil || checkpoints == nil || g == nil {
		return nil, fmt.Errorf("runner requires profiles, router, catalogue, permissions, executor, checkpoints and guard")
	}
	cfg.SetDefaults()

	// Token estimation fallback when the router reports no usage.
	encoder, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		slog.Warn("Token encoder unavailable, falling back to length estimate", "error", err)
	}

	return &Runner{
		cfg:         cfg,
		profiles:    profiles,
		router:      router,
		catalogue:   catalogue,
		permissions: permissions,
		executor:    executor,
		checkpoints: checkpoints,
		guard:       g,
		audit:       opts.Audit,
		approvals:   opts.Approvals,
		hooks:       opts.Hooks,
		memories:    opts.Memories,
		recorder:    opts.Recorder,
		encoder:     encoder,
	}, nil
}

// Run executes one reasoning run. It always returns a non-nil Result; the
// error mirrors Result.Error for callers that branch on it.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	result := &Result{AgentID: req.AgentID, Trigger: req.Trigger, Actions: []model.ActionRecord{}}
	defer func() { result.DurationMS = time.Since(start).Milliseconds() }()

	if !req.SkipGuard {
		release, err := r.guard.Acquire(ctx, r.cfg.AcquireTimeout)
		if err != nil {
			result.Status = StatusDeferred
			result.Error = err.Error()
			return result, err
		}
		defer release()
	}

	profile, err := r.profiles.Get(ctx, req.AgentID)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result, err
	}
	if profile.Status == hierarchy.StatusDeleted || profile.Status == hierarchy.StatusPaused {
		err := swarmerrors.New(swarmerrors.KindPolicyViolation, "runtime", "run", "agent is "+string(profile.Status))
		result.Status = StatusRejected
		result.Error = err.Error()
		return result, err
	}

	if r.hooks != nil {
		r.hooks.EmitAsync("run:start", hooks.Context{"agent_id": req.AgentID, "trigger": req.Trigger})
	}
	if r.audit != nil {
		r.audit.Record(ctx, profile.ID, profile.UserID, audit.CatReasoningStart, audit.DirInternal,
			map[string]any{"trigger": req.Trigger})
	}

	runCtx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	r.loop(runCtx, profile, req, result)

	switch result.Status {
	case StatusCompleted, StatusMaxIter, StatusMaxToolCalls:
		if err := r.checkpoints.Complete(ctx, profile.ID); err != nil {
			slog.Debug("Failed to complete checkpoint", "agent", profile.ID, "error", err)
		}
	default:
		if err := r.checkpoints.Fail(ctx, profile.ID); err != nil {
			slog.Debug("Failed to fail checkpoint", "agent", profile.ID, "error", err)
		}
	}

	if err := r.profiles.TouchLastActive(ctx, profile.ID); err != nil {
		slog.Debug("Failed to touch last_active", "agent", profile.ID, "error", err)
	}
	if r.hooks != nil {
		r.hooks.EmitAsync("run:end", hooks.Context{"agent_id": req.AgentID, "status": string(result.Status)})
	}

	if result.Error != "" {
		return result, errors.New(result.Error)
	}
	return result, nil
}

func (r *Runner) loop(ctx context.Context, profile *hierarchy.Profile, req Request, result *Result) {
	maxIterations := ctxInt(req.TriggerContext, CtxMaxIterations, r.cfg.MaxIterations)
	maxToolCalls := ctxInt(req.TriggerContext, CtxMaxToolCalls, r.cfg.MaxToolCalls)
	depth := ctxInt(req.TriggerContext, CtxOrchestrationDepth, 0)

	state := &checkpoint.State{
		AgentID:        profile.ID,
		Trigger:        req.Trigger,
		TriggerContext: req.TriggerContext,
		Actions:        []model.ActionRecord{},
	}
	toolCalls := 0

	// Resume from the last fully-executed action when a live checkpoint
	// exists.
	if prev, err := r.checkpoints.Load(ctx, profile.ID); err == nil && prev != nil && prev.Trigger == req.Trigger {
		state = prev
		toolCalls = len(prev.Actions)
		result.TokensUsed = prev.TokensUsed
		slog.Info("Resuming from checkpoint", "agent", profile.ID, "iteration", prev.Iteration)
	}

	tools := r.buildToolList(ctx, profile, depth)

	if len(state.Messages) == 0 {
		state.Messages = r.seedMessages(ctx, profile, req)
	}

	for {
		if ctx.Err() != nil {
			r.finishCancelled(ctx, result)
			return
		}
		if state.Iteration >= maxIterations {
			result.Status = StatusMaxIter
			return
		}
		if toolCalls >= maxToolCalls {
			result.Status = StatusMaxToolCalls
			return
		}

		decision, err := r.decide(ctx, profile, state, tools)
		if err != nil {
			if ctx.Err() != nil {
				r.finishCancelled(ctx, result)
				return
			}
			result.Status = StatusFailed
			result.Error = err.Error()
			return
		}
		result.TokensUsed += r.usageTokens(decision, state)
		state.TokensUsed = result.TokensUsed
		state.Iteration++
		result.Iterations = state.Iteration

		if decision.Thought != "" {
			state.Messages = append(state.Messages, model.Message{Role: model.RoleAssistant, Content: decision.Thought})
		}

		if decision.Action.Type.Terminal() {
			r.finishTerminal(ctx, profile, decision.Action, result)
			return
		}

		// Cancellation check between tool dispatch and execution.
		if ctx.Err() != nil {
			r.finishCancelled(ctx, result)
			return
		}

		record := r.executeTool(ctx, profile, req.TriggerContext, decision.Action)
		toolCalls++
		state.Actions = append(state.Actions, record)
		result.Actions = append(result.Actions, record)
		state.Messages = append(state.Messages, model.Message{
			Role:    model.RoleTool,
			Tool:    record.Tool,
			Content: observation(record),
		})

		if err := r.checkpoints.Save(ctx, state); err != nil {
			// Best-effort: a failed checkpoint never stops the run.
			slog.Debug("Failed to save checkpoint", "agent", profile.ID, "error", err)
		}
	}
}

func (r *Runner) decide(ctx context.Context, profile *hierarchy.Profile, state *checkpoint.State, tools []model.ToolDescriptor) (*model.Decision, error) {
	mreq := &model.Request{
		AgentID:      profile.ID,
		SystemPrompt: profile.Routing.SystemPrompt,
		Messages:     state.Messages,
		Tools:        tools,
		Provider:     profile.Routing.Provider,
		Model:        profile.Routing.Model,
		Temperature:  profile.Routing.Temperature,
		MaxTokens:    profile.Routing.MaxTokens,
	}
	if r.audit != nil {
		r.audit.Record(ctx, profile.ID, profile.UserID, audit.CatAIRequest, audit.DirInternal,
			map[string]any{"iteration": state.Iteration, "messages": len(state.Messages)})
	}
	decision, err := r.router.Decide(ctx, mreq)
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindToolError, "runtime", "decide", "model router failed", err)
	}
	if r.audit != nil {
		r.audit.Record(ctx, profile.ID, profile.UserID, audit.CatAIResponse, audit.DirInternal,
			map[string]any{"action": string(decision.Action.Type), "tool": decision.Action.Tool})
	}
	return decision, nil
}

func (r *Runner) executeTool(ctx context.Context, profile *hierarchy.Profile, triggerCtx map[string]any, action model.Action) model.ActionRecord {
	record := model.ActionRecord{Tool: action.Tool, Params: action.Params, At: time.Now().UTC()}
	start := time.Now()

	decision := r.permissions.CanExecute(ctx, profile.ID, action.Tool, profile.Autonomy())
	requireApproval := decision.Verdict == permission.VerdictApproval || profile.RequiresApproval(decision.Category)

	switch {
	case decision.Verdict == permission.VerdictDeny:
		record.Success = false
		record.Error = "permission denied: " + decision.Reason
		record.DurationMS = time.Since(start).Milliseconds()
		return record

	case requireApproval:
		record.Approval = true
		record.Success = false
		if r.approvals != nil {
			id, err := r.approvals.Create(ctx, &approval.Request{
				AgentID:     profile.ID,
				UserID:      profile.UserID,
				Kind:        "tool_call",
				Description: fmt.Sprintf("Agent %s requests %s", profile.Name, action.Tool),
				Payload:     map[string]any{"tool": action.Tool, "params": action.Params},
			})
			if err != nil {
				record.Error = "failed to enqueue approval: " + err.Error()
			} else {
				record.Result = "approval pending: " + id
			}
		} else {
			record.Result = "approval required"
		}
		record.DurationMS = time.Since(start).Milliseconds()
		return record
	}

	if r.audit != nil {
		r.audit.Record(ctx, profile.ID, profile.UserID, audit.CatToolCall, audit.DirInternal,
			map[string]any{"tool": action.Tool})
	}

	// Handlers see the run's trigger context; orchestration tools read the
	// depth from it to refuse nested delegation.
	tctx := tool.WithContext(ctx, tool.Context{AgentID: profile.ID, UserID: profile.UserID, TriggerContext: triggerCtx})
	outcome := r.executor.Execute(tctx, profile.ID, action.Tool, action.Params)

	record.Tool = outcome.Tool
	record.Success = outcome.Result.Success
	record.Result = outcome.Result.Content
	record.Error = outcome.Result.Error
	record.Cached = outcome.Cached
	record.Strategy = string(outcome.Strategy)
	record.Attempts = outcome.Attempts
	record.DurationMS = time.Since(start).Milliseconds()

	if r.audit != nil {
		r.audit.Record(ctx, profile.ID, profile.UserID, audit.CatToolResult, audit.DirInternal,
			map[string]any{"tool": record.Tool, "success": record.Success, "cached": record.Cached})
	}
	if r.recorder != nil && !outcome.Cached {
		r.recorder.RecordExecution(ctx, ExecutionRecord{
			AgentID:    profile.ID,
			ToolID:     record.Tool,
			Success:    record.Success,
			ErrorMsg:   record.Error,
			Strategy:   record.Strategy,
			Attempts:   record.Attempts,
			Duration:   time.Since(start),
			ExecutedAt: time.Now().UTC(),
		})
	}
	return record
}

func (r *Runner) finishTerminal(ctx context.Context, profile *hierarchy.Profile, action model.Action, result *Result) {
	switch action.Type {
	case model.ActionDone:
		result.Status = StatusCompleted
		result.FinalThought = action.Summary
	case model.ActionRespond:
		result.Status = StatusCompleted
		result.Message = action.Message
		if r.audit != nil {
			r.audit.Record(ctx, profile.ID, profile.UserID, audit.CatOutgoing, audit.DirOutbound,
				map[string]any{"length": len(action.Message)})
		}
	case model.ActionSilent:
		result.Status = StatusCompleted
		result.Silent = true
	case model.ActionHeartbeatOK:
		result.Status = StatusCompleted
		result.HeartbeatOK = true
	default:
		result.Status = StatusCompleted
	}
}

func (r *Runner) finishCancelled(ctx context.Context, result *Result) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		result.Status = StatusDeadline
		result.Error = "run deadline exceeded"
		return
	}
	result.Status = StatusCancelled
	result.Error = "run cancelled"
}

// buildToolList filters the catalogue by permission and strips orchestration
// tools from sub-agent runs.
func (r *Runner) buildToolList(ctx context.Context, profile *hierarchy.Profile, depth int) []model.ToolDescriptor {
	entries := r.catalogue.List()
	out := make([]model.ToolDescriptor, 0, len(entries))
	for _, e := range entries {
		if depth >= 1 && (e.ID == ToolOrchestrate || e.ID == ToolCreateSpecialist) {
			continue
		}
		if r.permissions.CanExecute(ctx, profile.ID, e.ID, profile.Autonomy()).Verdict == permission.VerdictDeny {
			continue
		}
		out = append(out, model.ToolDescriptor{
			Name:        e.ID,
			Description: e.Description,
			Category:    string(e.Category),
			SideEffect:  e.SideEffect,
			Schema:      e.Schema,
		})
	}
	return out
}

// seedMessages assembles the opening transcript: persona, hierarchy
// context for sub-agents, retrieved memories and the triggering situation.
func (r *Runner) seedMessages(ctx context.Context, profile *hierarchy.Profile, req Request) []model.Message {
	var messages []model.Message

	if profile.Role != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: "You are " + profile.Name + ", " + profile.Role + "."})
	}
	if profile.AgentType == hierarchy.TypeSub {
		var sb strings.Builder
		sb.WriteString("You are a specialist sub-agent.")
		if goal, ok := req.TriggerContext[CtxOverallGoal].(string); ok && goal != "" {
			sb.WriteString(" Overall goal: " + goal)
		}
		if prior, ok := req.TriggerContext[CtxPriorFindings].(string); ok && prior != "" {
			sb.WriteString("\nPrior findings:\n" + prior)
		}
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: sb.String()})
	}

	situation := req.Trigger
	if s, ok := req.TriggerContext[CtxSituation].(string); ok && s != "" {
		situation = s
	}

	if r.memories != nil && situation != "" {
		results, err := r.memories.Search(ctx, profile.UserID, profile.ID, situation, memory.SearchOptions{
			Mode:  memory.ModeHybrid,
			Limit: r.cfg.MemoryLimit,
		})
		if err != nil {
			slog.Debug("Memory retrieval failed", "agent", profile.ID, "error", err)
		} else if len(results) > 0 {
			var sb strings.Builder
			sb.WriteString("Relevant memories:\n")
			for _, res := range results {
				sb.WriteString("- " + res.Entry.Content + "\n")
			}
			messages = append(messages, model.Message{Role: model.RoleSystem, Content: sb.String()})
		}
	}

	messages = append(messages, model.Message{Role: model.RoleUser, Content: situation})
	return messages
}

// usageTokens prefers router-reported usage and falls back to a local
// estimate of the last exchange.
func (r *Runner) usageTokens(decision *model.Decision, state *checkpoint.State) int {
	if total := decision.Usage.Total(); total > 0 {
		return total
	}
	text := decision.Thought + decision.Action.Summary + decision.Action.Message
	if len(state.Messages) > 0 {
		text += state.Messages[len(state.Messages)-1].Content
	}
	return r.estimateTokens(text)
}

func (r *Runner) estimateTokens(text string) int {
	if r.encoder != nil {
		return len(r.encoder.Encode(text, nil, nil))
	}
	return len(text) / 4
}

func observation(record model.ActionRecord) string {
	if record.Success {
		if record.Result != "" {
			return record.Result
		}
		return "ok"
	}
	if record.Approval {
		return record.Result
	}
	return "error: " + record.Error
}

func ctxInt(m map[string]any, key string, fallback int) int {
	if m == nil {
		return fallback
	}
	switch v := m[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}
