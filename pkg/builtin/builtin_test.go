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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/memory"
	"github.com/northpeakmalaysia/swarmai/pkg/orchestrator"
	"github.com/northpeakmalaysia/swarmai/pkg/plan"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

func TestLayerSteps(t *testing.T) {
	tests := []struct {
		name    string
		steps   []*plan.Step
		want    [][]string
		wantErr string
	}{
		{
			name:  "independent steps share one group",
			steps: []*plan.Step{{ID: "a"}, {ID: "b"}},
			want:  [][]string{{"a", "b"}},
		},
		{
			name: "linear chain",
			steps: []*plan.Step{
				{ID: "a"},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"b"}},
			},
			want: [][]string{{"a"}, {"b"}, {"c"}},
		},
		{
			name: "diamond",
			steps: []*plan.Step{
				{ID: "a"},
				{ID: "b", DependsOn: []string{"a"}},
				{ID: "c", DependsOn: []string{"a"}},
				{ID: "d", DependsOn: []string{"b", "c"}},
			},
			want: [][]string{{"a"}, {"b", "c"}, {"d"}},
		},
		{
			name: "cycle",
			steps: []*plan.Step{
				{ID: "a", DependsOn: []string{"b"}},
				{ID: "b", DependsOn: []string{"a"}},
			},
			wantErr: "dependency cycle or a missing step id",
		},
		{
			name: "missing dependency",
			steps: []*plan.Step{
				{ID: "a", DependsOn: []string{"ghost"}},
			},
			wantErr: "dependency cycle or a missing step id",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			groups, err := layerSteps(tt.steps)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, groups)
		})
	}
}

func TestEchoTool(t *testing.T) {
	catalogue := tool.NewCatalogue()
	require.NoError(t, RegisterEcho(catalogue))

	entry, ok := catalogue.Get("echo")
	require.True(t, ok)
	assert.Equal(t, tool.CategoryObservation, entry.Category)
	assert.False(t, entry.SideEffect)

	result, err := entry.Handler.Execute(context.Background(), map[string]any{"text": "hello"})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "hello", result.Content)
}

func TestOrchestrateToolRefusesNestedDelegation(t *testing.T) {
	h := &orchestrateHandler{orch: orchestrator.New(orchestrator.Config{}, nil, nil)}

	// A sub-agent run carries the orchestration depth in its tool context.
	ctx := tool.WithContext(context.Background(), tool.Context{
		AgentID: "sub-1",
		UserID:  "u1",
		TriggerContext: map[string]any{
			runtime.CtxOrchestrationDepth: 1,
		},
	})
	result, err := h.Execute(ctx, map[string]any{
		"goal":     "nested goal",
		"subtasks": []any{map[string]any{"title": "x"}},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, orchestrator.ErrRecursion, result.Error)
}

func testMemoryService(t *testing.T) *memory.Service {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := memory.NewService(db, nil, nil)
	require.NoError(t, err)
	return svc
}

func TestMemoryTools(t *testing.T) {
	catalogue := tool.NewCatalogue()
	require.NoError(t, RegisterMemoryTools(catalogue, testMemoryService(t)))

	ctx := tool.WithContext(context.Background(), tool.Context{AgentID: "a1", UserID: "u1"})

	storeEntry, ok := catalogue.Get("storeMemory")
	require.True(t, ok)
	assert.Equal(t, tool.CategoryMemoryWrite, storeEntry.Category)

	stored, err := storeEntry.Handler.Execute(ctx, map[string]any{
		"content":    "the user prefers morning meetings",
		"title":      "meeting preference",
		"importance": 0.8,
	})
	require.NoError(t, err)
	require.True(t, stored.Success, stored.Error)
	assert.NotEmpty(t, stored.Data["id"])

	searchEntry, ok := catalogue.Get("searchMemory")
	require.True(t, ok)
	assert.Equal(t, tool.CategoryMemoryRead, searchEntry.Category)

	found, err := searchEntry.Handler.Execute(ctx, map[string]any{"query": "meetings"})
	require.NoError(t, err)
	require.True(t, found.Success, found.Error)
	assert.Contains(t, found.Content, "morning meetings")

	// Another agent's memories stay invisible.
	otherCtx := tool.WithContext(context.Background(), tool.Context{AgentID: "a2", UserID: "u1"})
	empty, err := searchEntry.Handler.Execute(otherCtx, map[string]any{"query": "meetings"})
	require.NoError(t, err)
	assert.True(t, empty.Success)
	assert.Equal(t, "No matching memories found.", empty.Content)
}

func TestMemoryToolsValidateInput(t *testing.T) {
	catalogue := tool.NewCatalogue()
	require.NoError(t, RegisterMemoryTools(catalogue, testMemoryService(t)))
	ctx := tool.WithContext(context.Background(), tool.Context{AgentID: "a1", UserID: "u1"})

	storeEntry, _ := catalogue.Get("storeMemory")
	result, err := storeEntry.Handler.Execute(ctx, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "content is required")

	searchEntry, _ := catalogue.Get("searchMemory")
	result, err = searchEntry.Handler.Execute(ctx, map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "query is required")
}

func TestPlanToolRequiresAgentContext(t *testing.T) {
	catalogue := tool.NewCatalogue()
	require.NoError(t, RegisterPlanTool(catalogue, plan.NewExecutor(plan.Config{}, nil, nil)))

	entry, ok := catalogue.Get("executePlan")
	require.True(t, ok)
	assert.True(t, entry.SideEffect)

	result, err := entry.Handler.Execute(context.Background(), map[string]any{"goal": "x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no invoking agent in context")
}

func TestPlanToolValidatesInput(t *testing.T) {
	catalogue := tool.NewCatalogue()
	require.NoError(t, RegisterPlanTool(catalogue, plan.NewExecutor(plan.Config{}, nil, nil)))
	ctx := tool.WithContext(context.Background(), tool.Context{AgentID: "a1", UserID: "u1"})

	entry, _ := catalogue.Get("executePlan")

	result, err := entry.Handler.Execute(ctx, map[string]any{"goal": "no steps"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "goal and at least one step are required")

	result, err = entry.Handler.Execute(ctx, map[string]any{
		"goal": "cyclic",
		"steps": []any{
			map[string]any{"id": "a", "title": "A", "depends_on": []any{"b"}},
			map[string]any{"id": "b", "title": "B", "depends_on": []any{"a"}},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "dependency cycle")
}

func TestDecodeParams(t *testing.T) {
	var out executePlanParams
	err := decodeParams(map[string]any{
		"goal": "g",
		"steps": []any{
			map[string]any{"id": "s1", "title": "T", "estimated_iterations": float64(4)},
		},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "g", out.Goal)
	require.Len(t, out.Steps, 1)
	assert.Equal(t, 4, out.Steps[0].EstimatedIterations)
}
