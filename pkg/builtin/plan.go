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

package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/plan"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

type planStepParams struct {
	ID                  string   `json:"id" jsonschema:"description=Unique step id"`
	Title               string   `json:"title"`
	Description         string   `json:"description" jsonschema:"description=What this step should accomplish"`
	DependsOn           []string `json:"depends_on,omitempty" jsonschema:"description=Ids of steps that must finish first"`
	EstimatedIterations int      `json:"estimated_iterations,omitempty"`
}

type executePlanParams struct {
	Goal  string           `json:"goal" jsonschema:"description=The overall goal"`
	Steps []planStepParams `json:"steps" jsonschema:"description=Decomposed plan steps"`
}

// RegisterPlanTool adds the executePlan tool, which runs a decomposed
// multi-step plan for the invoking agent.
func RegisterPlanTool(catalogue *tool.Catalogue, executor *plan.Executor) error {
	return catalogue.Register(tool.Entry{
		ID:          "executePlan",
		Description: "Execute a decomposed multi-step plan; independent steps run in parallel",
		Category:    tool.CategorySelfManagement,
		Schema:      tool.SchemaFor[executePlanParams](),
		SideEffect:  true,
		Handler:     &executePlanHandler{executor: executor},
	})
}

type executePlanHandler struct {
	executor *plan.Executor
}

func (h *executePlanHandler) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	tc, ok := tool.FromContext(ctx)
	if !ok || tc.AgentID == "" {
		return tool.Result{Success: false, Error: "no invoking agent in context"}, nil
	}

	var in executePlanParams
	if err := decodeParams(params, &in); err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("invalid plan input: %v", err)}, nil
	}
	if in.Goal == "" || len(in.Steps) == 0 {
		return tool.Result{Success: false, Error: "goal and at least one step are required"}, nil
	}

	p := &plan.Plan{
		ID:        uuid.NewString(),
		Goal:      in.Goal,
		CreatedAt: time.Now().UTC(),
	}
	graph := map[string][]string{}
	for i, s := range in.Steps {
		id := s.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i+1)
		}
		p.Steps = append(p.Steps, &plan.Step{
			ID:                  id,
			Title:               s.Title,
			Description:         s.Description,
			DependsOn:           s.DependsOn,
			EstimatedIterations: s.EstimatedIterations,
			Status:              plan.StepPending,
		})
		if len(s.DependsOn) > 0 {
			graph[id] = s.DependsOn
		}
	}
	p.DependencyGraph = graph

	groups, err := layerSteps(p.Steps)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, nil
	}
	p.ParallelGroups = groups

	result, err := h.executor.Execute(ctx, tc.AgentID, p, tc.TriggerContext, nil)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, nil
	}

	summary := fmt.Sprintf("Plan %s: %d steps completed, %d failed.",
		result.Status, len(result.CompletedSteps), len(result.FailedSteps))
	data := map[string]any{}
	if raw, err := json.Marshal(result); err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	return tool.Result{Success: result.Status == plan.StatusCompleted, Content: summary, Data: data}, nil
}

// layerSteps schedules steps into parallel groups: each group holds the
// steps whose dependencies are all satisfied by earlier groups.
func layerSteps(steps []*plan.Step) ([][]string, error) {
	placed := map[string]bool{}
	var groups [][]string
	for len(placed) < len(steps) {
		var group []string
		for _, s := range steps {
			if placed[s.ID] {
				continue
			}
			ready := true
			for _, dep := range s.DependsOn {
				if !placed[dep] {
					ready = false
					break
				}
			}
			if ready {
				group = append(group, s.ID)
			}
		}
		if len(group) == 0 {
			return nil, fmt.Errorf("plan has a dependency cycle or a missing step id")
		}
		for _, id := range group {
			placed[id] = true
		}
		groups = append(groups, group)
	}
	return groups, nil
}
