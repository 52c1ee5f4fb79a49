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

package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

type engineRig struct {
	engine *Engine
	store  *Store
	agent  *hierarchy.Profile
}

// newEngineRig wires an engine over sqlite with a signal source reporting
// a long-idle agent, so each scan yields exactly one idle firing. Idle
// confidence sits below the auto-approve threshold, so prompts stay
// pending and never reach the runner.
func newEngineRig(t *testing.T) *engineRig {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(db)
	require.NoError(t, err)
	profiles, err := hierarchy.NewService(db)
	require.NoError(t, err)

	agent, err := profiles.CreateProfile(context.Background(), &hierarchy.Profile{
		UserID:        "u1",
		Name:          "Assistant",
		AutonomyLevel: "semi-autonomous",
	})
	require.NoError(t, err)

	signals := SignalSourceFunc(func(context.Context, string) (*Signals, error) {
		return &Signals{LastActiveAt: time.Now().UTC().Add(-2 * time.Hour)}, nil
	})
	return &engineRig{
		engine: NewEngine(s, profiles, nil, nil, signals),
		store:  s,
		agent:  agent,
	}
}

func TestTickCreatesIdlePrompt(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	rig.engine.Tick(ctx)

	prompts, err := rig.store.ListPending(ctx, rig.agent.ID)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, TypeIdle, prompts[0].TriggerType)
	assert.Equal(t, ActionCheckMessages, prompts[0].SuggestedAction)
}

func TestTickHonorsCooldownAfterFire(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	rig.engine.Tick(ctx)
	rig.engine.Tick(ctx)

	prompts, err := rig.store.ListPending(ctx, rig.agent.ID)
	require.NoError(t, err)
	assert.Len(t, prompts, 1, "the idle cooldown must suppress the second firing")
}

func TestTickRateLimitPreservesCooldown(t *testing.T) {
	rig := newEngineRig(t)
	ctx := context.Background()

	require.NoError(t, rig.store.SetConfig(ctx, rig.agent.ID, &AgentConfig{MaxPromptsPerHour: 1}))
	require.NoError(t, rig.store.CreatePrompt(ctx, &Prompt{
		AgentID:         rig.agent.ID,
		UserID:          "u1",
		TriggerType:     TypeIdle,
		SuggestedAction: ActionCheckMessages,
		Status:          PromptExecuted,
	}))

	// At the cap nothing fires, and the cooldown stays unconsumed.
	rig.engine.Tick(ctx)
	prompts, err := rig.store.ListPending(ctx, rig.agent.ID)
	require.NoError(t, err)
	assert.Empty(t, prompts)
	rig.engine.mu.Lock()
	assert.Empty(t, rig.engine.lastFired, "a throttled cycle must not burn the cooldown")
	rig.engine.mu.Unlock()

	// Once the cap lifts, the very next tick still fires the trigger.
	require.NoError(t, rig.store.SetConfig(ctx, rig.agent.ID, &AgentConfig{MaxPromptsPerHour: 5}))
	rig.engine.Tick(ctx)
	prompts, err = rig.store.ListPending(ctx, rig.agent.ID)
	require.NoError(t, err)
	require.Len(t, prompts, 1)
	assert.Equal(t, TypeIdle, prompts[0].TriggerType)
}
