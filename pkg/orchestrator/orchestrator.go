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

// Package orchestrator decomposes a manager agent's goal into sub-agent
// runs. Recursion is blocked three ways: a depth counter in the trigger
// context, orchestration tools stripped from sub-agent tool lists, and
// auto-created specialists that cannot create children of their own.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

// Config tunes orchestration.
type Config struct {
	MaxParallel    int           `yaml:"max_parallel" mapstructure:"max_parallel"`
	SubRunTimeout  time.Duration `yaml:"sub_run_timeout" mapstructure:"sub_run_timeout"`
	ReuseThreshold float64       `yaml:"reuse_threshold" mapstructure:"reuse_threshold"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.MaxParallel == 0 {
		c.MaxParallel = 5
	}
	if c.SubRunTimeout == 0 {
		c.SubRunTimeout = 120 * time.Second
	}
	if c.ReuseThreshold == 0 {
		c.ReuseThreshold = 20
	}
}

// Budgets for each sub-agent run.
const (
	SubRunMaxIterations = 3
	SubRunMaxToolCalls  = 3
)

// ErrRecursion is the message returned when a sub-agent tries to
// orchestrate.
const ErrRecursion = "Sub-agents cannot orchestrate further: orchestration depth limit reached"

// Mode selects how subtasks execute.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
)

// Subtask is one unit of delegated work.
type Subtask struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	RequiredSkills []string `json:"required_skills,omitempty"`
}

// Input is an orchestrate invocation.
type Input struct {
	Goal     string    `json:"goal"`
	Subtasks []Subtask `json:"subtasks"`
	Mode     Mode      `json:"mode,omitempty"`
}

// SubtaskStatus of one delegated run.
type SubtaskStatus string

const (
	SubtaskCompleted SubtaskStatus = "completed"
	SubtaskTimeout   SubtaskStatus = "timeout"
	SubtaskFailed    SubtaskStatus = "failed"
)

// SubtaskResult records one delegated run's outcome.
type SubtaskResult struct {
	Title      string        `json:"title"`
	AgentName  string        `json:"agent_name"`
	AgentID    string        `json:"agent_id"`
	Status     SubtaskStatus `json:"status"`
	Findings   string        `json:"findings,omitempty"`
	Error      string        `json:"error,omitempty"`
	Iterations int           `json:"iterations"`
	TokensUsed int           `json:"tokens_used"`
	Reused     bool          `json:"reused"`
}

// Result aggregates an orchestration.
type Result struct {
	Success   bool            `json:"success"`
	Goal      string          `json:"goal"`
	Results   []SubtaskResult `json:"results"`
	Completed int             `json:"completed"`
	Failed    int             `json:"failed"`
	Error     string          `json:"error,omitempty"`
}

// Orchestrator runs manager-to-specialist decomposition.
type Orchestrator struct {
	cfg      Config
	profiles *hierarchy.Service
	runner   *runtime.Runner
}

// New creates an orchestrator.
func New(cfg Config, profiles *hierarchy.Service, runner *runtime.Runner) *Orchestrator {
	cfg.SetDefaults()
	return &Orchestrator{cfg: cfg, profiles: profiles, runner: runner}
}

// Orchestrate delegates the input's subtasks to sub-agents of managerID.
// triggerCtx is the manager run's trigger context; its orchestration depth
// gates recursion.
func (o *Orchestrator) Orchestrate(ctx context.Context, managerID string, triggerCtx map[string]any, in Input) (*Result, error) {
	result := &Result{Goal: in.Goal}

	if depth := ctxDepth(triggerCtx); depth >= 1 {
		result.Error = ErrRecursion
		return result, swarmerrors.New(swarmerrors.KindPolicyViolation, "orchestrator", "orchestrate", ErrRecursion)
	}
	if in.Goal == "" || len(in.Subtasks) == 0 {
		result.Error = "goal and at least one subtask are required"
		return result, swarmerrors.New(swarmerrors.KindInvalidInput, "orchestrator", "orchestrate", result.Error)
	}
	if in.Mode == "" {
		in.Mode = ModeParallel
	}

	manager, err := o.profiles.Get(ctx, managerID)
	if err != nil {
		result.Error = err.Error()
		return result, err
	}

	assignments := make([]assignment, 0, len(in.Subtasks))
	for _, st := range in.Subtasks {
		agent, reused, err := o.resolveSpecialist(ctx, manager, st)
		if err != nil {
			result.Results = append(result.Results, SubtaskResult{
				Title:  st.Title,
				Status: SubtaskFailed,
				Error:  err.Error(),
			})
			result.Failed++
			continue
		}
		assignments = append(assignments, assignment{subtask: st, agent: agent, reused: reused})
	}

	var results []SubtaskResult
	switch in.Mode {
	case ModeSequential:
		results = o.runSequential(ctx, in.Goal, assignments)
	default:
		results = o.runParallel(ctx, in.Goal, assignments)
	}

	for _, r := range results {
		result.Results = append(result.Results, r)
		if r.Status == SubtaskCompleted {
			result.Completed++
		} else {
			result.Failed++
		}
	}
	result.Success = result.Failed == 0 && result.Completed > 0
	return result, nil
}

type assignment struct {
	subtask Subtask
	agent   *hierarchy.Profile
	reused  bool
}

// resolveSpecialist reuses the best-matching existing sub-agent or creates
// a new specialist under the manager's child policy.
func (o *Orchestrator) resolveSpecialist(ctx context.Context, manager *hierarchy.Profile, st Subtask) (*hierarchy.Profile, bool, error) {
	children, err := o.profiles.ListChildren(ctx, manager.ID)
	if err != nil {
		return nil, false, err
	}

	var best *hierarchy.Profile
	bestScore := 0.0
	for _, child := range children {
		if score := ReuseScore(child, st); score > bestScore {
			best = child
			bestScore = score
		}
	}
	if best != nil && bestScore > o.cfg.ReuseThreshold {
		return best, true, nil
	}

	specialist, err := o.profiles.CreateSubAgent(ctx, manager.UserID, manager.ID, &hierarchy.Profile{
		Name:               st.Title + " Specialist",
		Role:               st.Title,
		Description:        st.Description,
		CreatedByType:      hierarchy.CreatedByAgentic,
		CreatedByAgenticID: manager.ID,
		AutonomyLevel:      manager.ChildPolicy.ChildrenAutonomyCap,
		Inherit:            hierarchy.Inheritance{Team: true, Knowledge: true, Routing: true},
		ChildPolicy:        hierarchy.ChildPolicy{CanCreateChildren: false, MaxChildren: 1, MaxHierarchyDepth: manager.ChildPolicy.MaxHierarchyDepth},
		Skills:             skillsFrom(st.RequiredSkills),
	})
	if err != nil {
		return nil, false, err
	}
	return specialist, false, nil
}

// ReuseScore rates an existing sub-agent against a subtask: weighted
// keyword match over name, role and description plus a skill-level bonus.
func ReuseScore(p *hierarchy.Profile, st Subtask) float64 {
	tokens := map[string]struct{}{}
	for _, tok := range strings.Fields(strings.ToLower(st.Title + " " + st.Description)) {
		if len(tok) > 2 {
			tokens[tok] = struct{}{}
		}
	}

	name := strings.ToLower(p.Name)
	role := strings.ToLower(p.Role)
	description := strings.ToLower(p.Description)

	score := 0.0
	for tok := range tokens {
		if strings.Contains(name, tok) {
			score += 10
		}
		if strings.Contains(role, tok) {
			score += 8
		}
		if strings.Contains(description, tok) {
			score += 4
		}
	}
	for _, required := range st.RequiredSkills {
		for _, skill := range p.Skills {
			if strings.EqualFold(skill.Name, required) {
				score += float64(skill.Level) * 3
			}
		}
	}
	return score
}

func (o *Orchestrator) runParallel(ctx context.Context, goal string, assignments []assignment) []SubtaskResult {
	results := make([]SubtaskResult, len(assignments))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.MaxParallel)
	for i, a := range assignments {
		g.Go(func() error {
			r := o.runOne(gctx, goal, a, "")
			mu.Lock()
			results[i] = r
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (o *Orchestrator) runSequential(ctx context.Context, goal string, assignments []assignment) []SubtaskResult {
	results := make([]SubtaskResult, 0, len(assignments))
	var findings strings.Builder
	for _, a := range assignments {
		r := o.runOne(ctx, goal, a, findings.String())
		results = append(results, r)
		if r.Status == SubtaskCompleted && r.Findings != "" {
			fmt.Fprintf(&findings, "%s: %s\n", r.Title, r.Findings)
		}
	}
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, goal string, a assignment, priorFindings string) SubtaskResult {
	result := SubtaskResult{
		Title:     a.subtask.Title,
		AgentName: a.agent.Name,
		AgentID:   a.agent.ID,
		Reused:    a.reused,
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.SubRunTimeout)
	defer cancel()

	triggerCtx := map[string]any{
		runtime.CtxOrchestrationDepth: 1,
		runtime.CtxMaxIterations:      SubRunMaxIterations,
		runtime.CtxMaxToolCalls:       SubRunMaxToolCalls,
		runtime.CtxSituation:          a.subtask.Description,
		runtime.CtxOverallGoal:        goal,
	}
	if priorFindings != "" {
		triggerCtx[runtime.CtxPriorFindings] = priorFindings
	}

	run, err := o.runner.Run(runCtx, runtime.Request{
		AgentID:        a.agent.ID,
		Trigger:        runtime.TriggerOrchestratedTask,
		TriggerContext: triggerCtx,
	})
	if run != nil {
		result.Iterations = run.Iterations
		result.TokensUsed = run.TokensUsed
	}

	switch {
	case runCtx.Err() != nil && ctx.Err() == nil:
		result.Status = SubtaskTimeout
		result.Error = "sub-agent run timed out"
	case err != nil:
		result.Status = SubtaskFailed
		result.Error = err.Error()
	default:
		result.Status = SubtaskCompleted
		result.Findings = run.FinalThought
		if result.Findings == "" {
			result.Findings = run.Message
		}
	}
	return result
}

func skillsFrom(names []string) []hierarchy.Skill {
	skills := make([]hierarchy.Skill, 0, len(names))
	for _, n := range names {
		skills = append(skills, hierarchy.Skill{Name: n, Level: 3})
	}
	return skills
}

func ctxDepth(m map[string]any) int {
	if m == nil {
		return 0
	}
	switch v := m[runtime.CtxOrchestrationDepth].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
