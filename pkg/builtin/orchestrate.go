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

	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/orchestrator"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

type orchestrateParams struct {
	Goal     string `json:"goal" jsonschema:"description=The overall goal"`
	Subtasks []struct {
		Title          string   `json:"title"`
		Description    string   `json:"description"`
		RequiredSkills []string `json:"required_skills,omitempty"`
	} `json:"subtasks" jsonschema:"description=Units of work to delegate"`
	Mode string `json:"mode,omitempty" jsonschema:"description=parallel or sequential,default=parallel"`
}

type createSpecialistParams struct {
	Name        string   `json:"name" jsonschema:"description=Specialist name"`
	Role        string   `json:"role" jsonschema:"description=What the specialist does"`
	Description string   `json:"description,omitempty"`
	Skills      []string `json:"skills,omitempty"`
}

// RegisterOrchestration adds the orchestrate and createSpecialist tools.
// The runtime strips both from sub-agent runs.
func RegisterOrchestration(catalogue *tool.Catalogue, orch *orchestrator.Orchestrator, profiles *hierarchy.Service) error {
	if err := catalogue.Register(tool.Entry{
		ID:          runtime.ToolOrchestrate,
		Description: "Decompose a goal into subtasks and delegate them to specialist sub-agents",
		Category:    tool.CategorySubagentManage,
		Schema:      tool.SchemaFor[orchestrateParams](),
		SideEffect:  true,
		Handler:     &orchestrateHandler{orch: orch},
	}); err != nil {
		return err
	}
	return catalogue.Register(tool.Entry{
		ID:          runtime.ToolCreateSpecialist,
		Description: "Create a specialist sub-agent under this agent",
		Category:    tool.CategorySubagentManage,
		Schema:      tool.SchemaFor[createSpecialistParams](),
		SideEffect:  true,
		Handler:     &createSpecialistHandler{profiles: profiles},
	})
}

type orchestrateHandler struct {
	orch *orchestrator.Orchestrator
}

func (h *orchestrateHandler) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	tc, ok := tool.FromContext(ctx)
	if !ok || tc.AgentID == "" {
		return tool.Result{Success: false, Error: "no invoking agent in context"}, nil
	}

	var in orchestrator.Input
	if err := decodeParams(params, &in); err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("invalid orchestrate input: %v", err)}, nil
	}

	result, err := h.orch.Orchestrate(ctx, tc.AgentID, tc.TriggerContext, in)
	if err != nil {
		msg := err.Error()
		if result != nil && result.Error != "" {
			msg = result.Error
		}
		return tool.Result{Success: false, Error: msg}, nil
	}

	summary := fmt.Sprintf("Orchestration finished: %d completed, %d failed.", result.Completed, result.Failed)
	data := map[string]any{}
	if raw, err := json.Marshal(result); err == nil {
		_ = json.Unmarshal(raw, &data)
	}
	return tool.Result{Success: result.Success, Content: summary, Data: data}, nil
}

type createSpecialistHandler struct {
	profiles *hierarchy.Service
}

func (h *createSpecialistHandler) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	tc, ok := tool.FromContext(ctx)
	if !ok || tc.AgentID == "" {
		return tool.Result{Success: false, Error: "no invoking agent in context"}, nil
	}

	var in createSpecialistParams
	if err := decodeParams(params, &in); err != nil {
		return tool.Result{Success: false, Error: fmt.Sprintf("invalid specialist input: %v", err)}, nil
	}
	if in.Name == "" || in.Role == "" {
		return tool.Result{Success: false, Error: "name and role are required"}, nil
	}

	skills := make([]hierarchy.Skill, 0, len(in.Skills))
	for _, s := range in.Skills {
		skills = append(skills, hierarchy.Skill{Name: s, Level: 3})
	}

	specialist, err := h.profiles.CreateSubAgent(ctx, tc.UserID, tc.AgentID, &hierarchy.Profile{
		Name:               in.Name,
		Role:               in.Role,
		Description:        in.Description,
		CreatedByType:      hierarchy.CreatedByAgentic,
		CreatedByAgenticID: tc.AgentID,
		Skills:             skills,
		ChildPolicy:        hierarchy.ChildPolicy{CanCreateChildren: false},
	})
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, nil
	}
	return tool.Result{
		Success: true,
		Content: fmt.Sprintf("Specialist %q created.", specialist.Name),
		Data:    map[string]any{"agent_id": specialist.ID},
	}, nil
}

// decodeParams round-trips loosely typed tool params into a struct.
func decodeParams(params map[string]any, out any) error {
	raw, err := json.Marshal(params)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}
