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

// Package plan executes decomposed multi-step plans as layered runtime
// runs. Decomposition happens upstream; the executor consumes steps,
// a dependency graph and a parallel-layer schedule.
package plan

import "time"

// Step status values.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// Step is one unit of a plan.
type Step struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	DependsOn           []string   `json:"depends_on,omitempty"`
	EstimatedIterations int        `json:"estimated_iterations"`
	Status              StepStatus `json:"status"`
	Summary             string     `json:"summary,omitempty"`
	Error               string     `json:"error,omitempty"`
	TokensUsed          int        `json:"tokens_used,omitempty"`
}

// Plan status values.
type Status string

const (
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusPartial    Status = "partial"
	StatusFailed     Status = "failed"
)

// Plan is a decomposed goal with a layered execution schedule. Each
// parallel group is a set of step IDs whose dependencies are satisfied
// by earlier groups.
type Plan struct {
	ID              string              `json:"id"`
	Goal            string              `json:"goal"`
	Steps           []*Step             `json:"steps"`
	DependencyGraph map[string][]string `json:"dependency_graph,omitempty"`
	ParallelGroups  [][]string          `json:"parallel_groups"`
	Status          Status              `json:"status"`
	CreatedAt       time.Time           `json:"created_at"`
}

// Step returns the step with the given id, or nil.
func (p *Plan) Step(id string) *Step {
	for _, s := range p.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// Result summarizes one plan execution.
type Result struct {
	PlanID         string        `json:"plan_id"`
	Status         Status        `json:"status"`
	CompletedSteps []string      `json:"completed_steps"`
	FailedSteps    []string      `json:"failed_steps"`
	TokensUsed     int           `json:"tokens_used"`
	Duration       time.Duration `json:"-"`
	DurationMS     int64         `json:"duration_ms"`
	Revisions      int           `json:"revisions"`
	Aborted        bool          `json:"aborted,omitempty"`
}

// StepBudgets returns the iteration and tool-call budgets for a step.
func StepBudgets(s *Step) (iterations, toolCalls int) {
	iterations = s.EstimatedIterations
	if iterations < 3 {
		iterations = 3
	}
	toolCalls = s.EstimatedIterations + 2
	if toolCalls < 5 {
		toolCalls = 5
	}
	return iterations, toolCalls
}
