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

package checkpoint

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/model"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

func testService(t *testing.T) *SQLService {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc, err := NewSQLService(db)
	require.NoError(t, err)
	return svc
}

func TestSaveAndLoad(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	state := &State{
		AgentID:        "a1",
		Trigger:        "cron",
		TriggerContext: map[string]any{"schedule": "morning"},
		Iteration:      3,
		Messages: []model.Message{
			{Role: model.RoleSystem, Content: "you are an assistant"},
			{Role: model.RoleUser, Content: "check my calendar"},
		},
		Actions: []model.ActionRecord{
			{Tool: "lookCalendar"},
		},
		TokensUsed: 420,
	}
	require.NoError(t, svc.Save(ctx, state))
	assert.NotEmpty(t, state.ID)
	assert.Equal(t, StatusActive, state.Status)
	assert.Equal(t, state.CreatedAt.Add(TTL), state.ExpiresAt)

	got, err := svc.Load(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, state.ID, got.ID)
	assert.Equal(t, 3, got.Iteration)
	assert.Equal(t, 420, got.TokensUsed)
	assert.Equal(t, "morning", got.TriggerContext["schedule"])
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "check my calendar", got.Messages[1].Content)
	require.Len(t, got.Actions, 1)
	assert.Equal(t, "lookCalendar", got.Actions[0].Tool)
}

func TestLoadMissesReturnNil(t *testing.T) {
	svc := testService(t)

	got, err := svc.Load(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSaveReplacesActiveCheckpoint(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	first := &State{AgentID: "a1", Trigger: "cron", Iteration: 1}
	require.NoError(t, svc.Save(ctx, first))
	second := &State{AgentID: "a1", Trigger: "cron", Iteration: 2}
	require.NoError(t, svc.Save(ctx, second))

	got, err := svc.Load(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 2, got.Iteration)

	// Only one active row may survive.
	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Active)
}

func TestSaveIsPerAgent(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, &State{AgentID: "a1", Trigger: "cron"}))
	require.NoError(t, svc.Save(ctx, &State{AgentID: "a2", Trigger: "idle"}))

	got, err := svc.Load(ctx, "a1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "cron", got.Trigger)
}

func TestCompleteAndFail(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	require.NoError(t, svc.Save(ctx, &State{AgentID: "a1", Trigger: "cron"}))
	require.NoError(t, svc.Complete(ctx, "a1"))

	got, err := svc.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got, "completed checkpoints must not load")

	require.NoError(t, svc.Save(ctx, &State{AgentID: "a1", Trigger: "cron"}))
	require.NoError(t, svc.Fail(ctx, "a1"))

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)
}

func TestExpiredCheckpointsDoNotLoad(t *testing.T) {
	svc := testService(t)
	ctx := context.Background()

	state := &State{
		AgentID:   "a1",
		Trigger:   "cron",
		CreatedAt: time.Now().UTC().Add(-2 * TTL), // expiry derives from creation
	}
	require.NoError(t, svc.Save(ctx, state))

	got, err := svc.Load(ctx, "a1")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := svc.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestSaveValidation(t *testing.T) {
	svc := testService(t)

	require.Error(t, svc.Save(context.Background(), nil))
	require.Error(t, svc.Save(context.Background(), &State{}))
}
