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

package plan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/model"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

// DefaultDeadline bounds a whole plan execution. It must stay strictly
// below the runtime deadline so a plan step never outlives its run.
const DefaultDeadline = 3 * time.Minute

// DeadlineEnv overrides the plan deadline in milliseconds.
const DeadlineEnv = "PLAN_DEADLINE_MS"

// Config tunes the executor.
type Config struct {
	Deadline time.Duration `yaml:"deadline" mapstructure:"deadline"`
}

// SetDefaults applies default values, honoring PLAN_DEADLINE_MS.
func (c *Config) SetDefaults() {
	if c.Deadline == 0 {
		c.Deadline = DefaultDeadline
		if v := os.Getenv(DeadlineEnv); v != "" {
			if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
				c.Deadline = time.Duration(ms) * time.Millisecond
			}
		}
	}
}

// Executor runs plans layer by layer through the agent runtime.
type Executor struct {
	cfg    Config
	runner *runtime.Runner
	router model.Router
}

// NewExecutor creates a plan executor. router powers failure-driven plan
// revision; a nil router disables revision.
func NewExecutor(cfg Config, runner *runtime.Runner, router model.Router) *Executor {
	cfg.SetDefaults()
	return &Executor{cfg: cfg, runner: runner, router: router}
}

// Execute runs the plan's parallel groups in order for the given agent.
// The trigger context is forwarded into each plan_step run. Abort is
// checked between groups; a nil abort never aborts.
func (e *Executor) Execute(ctx context.Context, agentID string, p *Plan, triggerCtx map[string]any, abort func() bool) (*Result, error) {
	if p == nil || len(p.Steps) == 0 {
		return nil, swarmerrors.New(swarmerrors.KindInvalidInput, "plan", "execute", "plan has no steps")
	}
	start := time.Now()
	p.Status = StatusInProgress

	planCtx, cancel := context.WithTimeout(ctx, e.cfg.Deadline)
	defer cancel()

	result := &Result{PlanID: p.ID}
	var summaries strings.Builder

	for gi, group := range p.ParallelGroups {
		if abort != nil && abort() {
			result.Aborted = true
			break
		}
		if planCtx.Err() != nil {
			break
		}

		steps := make([]*Step, 0, len(group))
		for _, id := range group {
			if s := p.Step(id); s != nil && s.Status != StepCompleted {
				steps = append(steps, s)
			}
		}
		if len(steps) == 0 {
			continue
		}

		if len(steps) == 1 {
			e.runStep(planCtx, agentID, p, steps[0], triggerCtx, summaries.String())
		} else {
			var wg sync.WaitGroup
			prior := summaries.String()
			for _, s := range steps {
				wg.Add(1)
				go func() {
					defer wg.Done()
					e.runStep(planCtx, agentID, p, s, triggerCtx, prior)
				}()
			}
			wg.Wait()
		}

		var failed []*Step
		for _, s := range steps {
			switch s.Status {
			case StepCompleted:
				result.CompletedSteps = append(result.CompletedSteps, s.ID)
				if s.Summary != "" {
					fmt.Fprintf(&summaries, "%s: %s\n", s.Title, s.Summary)
				}
			default:
				result.FailedSteps = append(result.FailedSteps, s.ID)
				failed = append(failed, s)
			}
		}

		if len(failed) > 0 && gi < len(p.ParallelGroups)-1 {
			if e.reviseDependents(planCtx, agentID, p, gi, failed) {
				result.Revisions++
			}
		}
	}

	for _, s := range p.Steps {
		if s.Status == StepPending || s.Status == StepRunning {
			s.Status = StepSkipped
		}
	}

	switch {
	case len(result.FailedSteps) == 0 && len(result.CompletedSteps) > 0 && !result.Aborted:
		p.Status = StatusCompleted
	case len(result.CompletedSteps) > 0:
		p.Status = StatusPartial
	default:
		p.Status = StatusFailed
	}
	result.Status = p.Status
	result.Duration = time.Since(start)
	result.DurationMS = result.Duration.Milliseconds()
	for _, s := range p.Steps {
		result.TokensUsed += s.TokensUsed
	}
	return result, nil
}

func (e *Executor) runStep(ctx context.Context, agentID string, p *Plan, s *Step, triggerCtx map[string]any, priorSummaries string) {
	s.Status = StepRunning
	iterations, toolCalls := StepBudgets(s)

	situation := s.Description
	if priorSummaries != "" {
		situation = fmt.Sprintf("%s\n\nResults from earlier steps:\n%s", s.Description, priorSummaries)
	}

	stepCtx := map[string]any{
		runtime.CtxMaxIterations: iterations,
		runtime.CtxMaxToolCalls:  toolCalls,
		runtime.CtxSituation:     situation,
		runtime.CtxOverallGoal:   p.Goal,
		"plan_id":                p.ID,
		"step_id":                s.ID,
	}
	for k, v := range triggerCtx {
		if _, taken := stepCtx[k]; !taken {
			stepCtx[k] = v
		}
	}

	run, err := e.runner.Run(ctx, runtime.Request{
		AgentID:        agentID,
		Trigger:        runtime.TriggerPlanStep,
		TriggerContext: stepCtx,
	})
	if run != nil {
		s.TokensUsed = run.TokensUsed
	}
	if err != nil {
		s.Status = StepFailed
		s.Error = err.Error()
		return
	}

	switch run.Status {
	case runtime.StatusCompleted, runtime.StatusMaxIter, runtime.StatusMaxToolCalls:
		s.Status = StepCompleted
		s.Summary = run.FinalThought
		if s.Summary == "" {
			s.Summary = run.Message
		}
	default:
		s.Status = StepFailed
		s.Error = string(run.Status)
		if run.Error != "" {
			s.Error = run.Error
		}
	}
}

// reviseDependents asks the router to rewrite later steps that depend on
// a failed step. Best-effort: a failed revision is logged and execution
// continues with the original steps.
func (e *Executor) reviseDependents(ctx context.Context, agentID string, p *Plan, groupIndex int, failed []*Step) bool {
	if e.router == nil {
		return false
	}

	failedIDs := map[string]*Step{}
	var reasons strings.Builder
	for _, s := range failed {
		failedIDs[s.ID] = s
		fmt.Fprintf(&reasons, "- %q failed: %s\n", s.Title, s.Error)
	}

	var dependents []*Step
	for _, group := range p.ParallelGroups[groupIndex+1:] {
		for _, id := range group {
			s := p.Step(id)
			if s == nil {
				continue
			}
			for _, dep := range s.DependsOn {
				if _, hit := failedIDs[dep]; hit {
					dependents = append(dependents, s)
					break
				}
			}
		}
	}
	if len(dependents) == 0 {
		return false
	}

	var current strings.Builder
	for _, s := range dependents {
		fmt.Fprintf(&current, "- id=%s title=%q description=%q\n", s.ID, s.Title, s.Description)
	}

	prompt := fmt.Sprintf(`Some plan steps failed:
%s
The following later steps depend on them:
%s
Rewrite each dependent step so it can still contribute to the goal %q
despite the failures. Respond with a JSON array of objects with fields
"id", "title" and "description". Keep the same ids.`, reasons.String(), current.String(), p.Goal)

	completion, err := e.router.Complete(ctx, &model.CompletionRequest{AgentID: agentID, Prompt: prompt})
	if err != nil {
		slog.Warn("Plan revision failed", "plan", p.ID, "error", err)
		return false
	}

	var rewrites []struct {
		ID          string `json:"id"`
		Title       string `json:"title"`
		Description string `json:"description"`
	}
	text := completion.Text
	if i := strings.Index(text, "["); i >= 0 {
		if j := strings.LastIndex(text, "]"); j > i {
			text = text[i : j+1]
		}
	}
	if err := json.Unmarshal([]byte(text), &rewrites); err != nil {
		slog.Warn("Plan revision unparseable", "plan", p.ID, "error", err)
		return false
	}

	applied := false
	for _, rw := range rewrites {
		s := p.Step(rw.ID)
		if s == nil {
			continue
		}
		if rw.Title != "" {
			s.Title = rw.Title
		}
		if rw.Description != "" {
			s.Description = rw.Description
		}
		applied = true
	}
	return applied
}
