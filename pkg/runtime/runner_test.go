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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/checkpoint"
	"github.com/northpeakmalaysia/swarmai/pkg/guard"
	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/idempotency"
	"github.com/northpeakmalaysia/swarmai/pkg/model"
	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/recovery"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// scriptedRouter replays a fixed decision sequence, repeating the last one.
type scriptedRouter struct {
	mu        sync.Mutex
	decisions []*model.Decision
	calls     int
}

func (r *scriptedRouter) Decide(ctx context.Context, _ *model.Request) (*model.Decision, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.calls
	if i >= len(r.decisions) {
		i = len(r.decisions) - 1
	}
	r.calls++
	return r.decisions[i], nil
}

func (r *scriptedRouter) Complete(ctx context.Context, _ *model.CompletionRequest) (*model.Completion, error) {
	return &model.Completion{}, ctx.Err()
}

type recordedExecutions struct {
	mu   sync.Mutex
	recs []ExecutionRecord
}

func (r *recordedExecutions) RecordExecution(_ context.Context, rec ExecutionRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.recs = append(r.recs, rec)
}

type testRig struct {
	runner    *Runner
	profiles  *hierarchy.Service
	catalogue *tool.Catalogue
	recorder  *recordedExecutions
	agent     *hierarchy.Profile
}

func newTestRig(t *testing.T, cfg Config, router model.Router) *testRig {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	profiles, err := hierarchy.NewService(db)
	require.NoError(t, err)
	checkpoints, err := checkpoint.NewSQLService(db)
	require.NoError(t, err)

	catalogue := tool.NewCatalogue()
	require.NoError(t, catalogue.Register(tool.Entry{
		ID:          "echo",
		Description: "echo the message back",
		Handler: tool.HandlerFunc(func(_ context.Context, params map[string]any) (tool.Result, error) {
			msg, _ := params["message"].(string)
			return tool.Result{Success: true, Content: msg}, nil
		}),
	}))

	checker := permission.NewChecker(nil, catalogue, nil)
	executor := recovery.NewExecutor(catalogue, idempotency.NewCache(idempotency.NewMemoryStore()))
	recorder := &recordedExecutions{}

	runner, err := NewRunner(cfg, profiles, router, catalogue, checker, executor, checkpoints, guard.New(2), Options{
		Recorder: recorder,
	})
	require.NoError(t, err)

	agent, err := profiles.CreateProfile(context.Background(), &hierarchy.Profile{
		UserID:        "u1",
		Name:          "Assistant",
		Role:          "personal assistant",
		AutonomyLevel: "autonomous",
	})
	require.NoError(t, err)

	return &testRig{runner: runner, profiles: profiles, catalogue: catalogue, recorder: recorder, agent: agent}
}

func TestRunSilentCompletion(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionSilent}, Thought: "nothing to do"},
	}}
	rig := newTestRig(t, Config{}, router)

	result, err := rig.runner.Run(context.Background(), Request{AgentID: rig.agent.ID, Trigger: "idle_detection"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.Silent)
	assert.Equal(t, 1, result.Iterations)
	assert.Empty(t, result.Actions)
	assert.Greater(t, result.TokensUsed, 0)
}

func TestRunToolThenDone(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionTool, Tool: "echo", Params: map[string]any{"message": "hi"}}},
		{Action: model.Action{Type: model.ActionDone, Summary: "echoed the greeting"}},
	}}
	rig := newTestRig(t, Config{}, router)
	ctx := context.Background()

	result, err := rig.runner.Run(ctx, Request{AgentID: rig.agent.ID, Trigger: "cron"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "echoed the greeting", result.FinalThought)
	assert.Equal(t, 2, result.Iterations)
	require.Len(t, result.Actions, 1)
	assert.Equal(t, "echo", result.Actions[0].Tool)
	assert.True(t, result.Actions[0].Success)
	assert.Equal(t, "hi", result.Actions[0].Result)

	// The execution reached the self-healing history feed.
	require.Len(t, rig.recorder.recs, 1)
	assert.Equal(t, "echo", rig.recorder.recs[0].ToolID)

	// Activity touched for idle detection.
	got, err := rig.profiles.Get(ctx, rig.agent.ID)
	require.NoError(t, err)
	assert.False(t, got.LastActiveAt.IsZero())
}

func TestRunStopsAtMaxIterations(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionTool, Tool: "echo", Params: map[string]any{"message": "again"}}},
	}}
	rig := newTestRig(t, Config{MaxIterations: 2, MaxToolCalls: 10}, router)

	result, err := rig.runner.Run(context.Background(), Request{AgentID: rig.agent.ID, Trigger: "cron"})
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIter, result.Status)
	assert.Equal(t, 2, result.Iterations)
	assert.Len(t, result.Actions, 2)
}

func TestRunStopsAtMaxToolCalls(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionTool, Tool: "echo", Params: map[string]any{"message": "again"}}},
	}}
	rig := newTestRig(t, Config{MaxIterations: 10, MaxToolCalls: 3}, router)

	result, err := rig.runner.Run(context.Background(), Request{AgentID: rig.agent.ID, Trigger: "cron"})
	require.NoError(t, err)
	assert.Equal(t, StatusMaxToolCalls, result.Status)
	assert.Len(t, result.Actions, 3)
}

func TestRunBudgetOverridesFromTriggerContext(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionTool, Tool: "echo", Params: map[string]any{"message": "x"}}},
	}}
	rig := newTestRig(t, Config{}, router)

	result, err := rig.runner.Run(context.Background(), Request{
		AgentID: rig.agent.ID,
		Trigger: "orchestrated_task",
		TriggerContext: map[string]any{
			CtxMaxIterations: 1,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, StatusMaxIter, result.Status)
	assert.Equal(t, 1, result.Iterations)
}

func TestRunThreadsTriggerContextIntoTools(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionTool, Tool: "inspect"}},
		{Action: model.Action{Type: model.ActionDone, Summary: "done"}},
	}}
	rig := newTestRig(t, Config{}, router)

	var seen tool.Context
	require.NoError(t, rig.catalogue.Register(tool.Entry{
		ID: "inspect",
		Handler: tool.HandlerFunc(func(ctx context.Context, _ map[string]any) (tool.Result, error) {
			tc, ok := tool.FromContext(ctx)
			require.True(t, ok)
			seen = tc
			return tool.Result{Success: true}, nil
		}),
	}))

	_, err := rig.runner.Run(context.Background(), Request{
		AgentID: rig.agent.ID,
		Trigger: "orchestrated_task",
		TriggerContext: map[string]any{
			CtxOrchestrationDepth: 1,
			CtxOverallGoal:        "research competitors",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, rig.agent.ID, seen.AgentID)
	assert.Equal(t, 1, seen.TriggerContext[CtxOrchestrationDepth])
	assert.Equal(t, "research competitors", seen.TriggerContext[CtxOverallGoal])
}

func TestRunRejectsPausedAgent(t *testing.T) {
	router := model.NewStaticRouter()
	rig := newTestRig(t, Config{}, router)
	ctx := context.Background()

	rig.agent.Status = hierarchy.StatusPaused
	require.NoError(t, rig.profiles.UpdateProfile(ctx, rig.agent))

	result, err := rig.runner.Run(ctx, Request{AgentID: rig.agent.ID, Trigger: "cron"})
	require.Error(t, err)
	assert.Equal(t, StatusRejected, result.Status)
	assert.Contains(t, result.Error, "paused")
}

func TestRunFailsOnUnknownAgent(t *testing.T) {
	rig := newTestRig(t, Config{}, model.NewStaticRouter())

	result, err := rig.runner.Run(context.Background(), Request{AgentID: "ghost", Trigger: "cron"})
	require.Error(t, err)
	assert.Equal(t, StatusFailed, result.Status)
}

func TestRunStaticRouterGoesSilent(t *testing.T) {
	rig := newTestRig(t, Config{}, model.NewStaticRouter())

	result, err := rig.runner.Run(context.Background(), Request{AgentID: rig.agent.ID, Trigger: "cron"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.True(t, result.Silent)
}

func TestRunRecordsDeniedToolCall(t *testing.T) {
	router := &scriptedRouter{decisions: []*model.Decision{
		{Action: model.Action{Type: model.ActionTool, Tool: "wipeDisk", Params: nil}},
		{Action: model.Action{Type: model.ActionDone, Summary: "gave up"}},
	}}
	rig := newTestRig(t, Config{}, router)

	// wipeDisk is unregistered: the catalogue treats unknown tools as
	// observation, so the call passes permission and fails in execution.
	result, err := rig.runner.Run(context.Background(), Request{AgentID: rig.agent.ID, Trigger: "cron"})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, result.Actions, 1)
	assert.False(t, result.Actions[0].Success)
	assert.NotEmpty(t, result.Actions[0].Error)
}

func TestConfigSetDefaults(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()

	assert.Equal(t, 10, cfg.MaxIterations)
	assert.Equal(t, 10, cfg.MaxToolCalls)
	assert.NotZero(t, cfg.Deadline)
	assert.NotZero(t, cfg.AcquireTimeout)
	assert.Equal(t, 5, cfg.MemoryLimit)
}
