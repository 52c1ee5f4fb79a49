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

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := NewStore(db)
	require.NoError(t, err)
	return s
}

func TestCreateAndGetPrompt(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := &Prompt{
		AgentID:         "a1",
		UserID:          "u1",
		TriggerType:     TypeIdle,
		TriggerContext:  map[string]any{"idle_minutes": 45},
		SuggestedAction: ActionCheckMessages,
		Confidence:      0.8,
		Status:          PromptPending,
	}
	require.NoError(t, s.CreatePrompt(ctx, p))
	assert.NotEmpty(t, p.ID)
	assert.Equal(t, p.CreatedAt.Add(PromptTTL), p.ExpiresAt)

	got, err := s.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, TypeIdle, got.TriggerType)
	assert.Equal(t, float64(45), got.TriggerContext["idle_minutes"])
	assert.Equal(t, PromptPending, got.Status)

	_, err = s.GetPrompt(ctx, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGetPromptReportsExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := &Prompt{
		AgentID:         "a1",
		UserID:          "u1",
		TriggerType:     TypeIdle,
		SuggestedAction: ActionCheckMessages,
		Status:          PromptPending,
		CreatedAt:       time.Now().UTC().Add(-2 * PromptTTL),
	}
	require.NoError(t, s.CreatePrompt(ctx, p))

	got, err := s.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, PromptExpired, got.Status)
}

func TestListPendingSkipsExpired(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	live := &Prompt{AgentID: "a1", UserID: "u1", TriggerType: TypeIdle, SuggestedAction: ActionCheckMessages, Status: PromptPending}
	require.NoError(t, s.CreatePrompt(ctx, live))
	stale := &Prompt{
		AgentID: "a1", UserID: "u1", TriggerType: TypeReflection, SuggestedAction: ActionSelfReflect,
		Status: PromptPending, CreatedAt: time.Now().UTC().Add(-2 * PromptTTL),
	}
	require.NoError(t, s.CreatePrompt(ctx, stale))
	executed := &Prompt{AgentID: "a1", UserID: "u1", TriggerType: TypeHealth, SuggestedAction: ActionHealthCheck, Status: PromptExecuted}
	require.NoError(t, s.CreatePrompt(ctx, executed))

	pending, err := s.ListPending(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, live.ID, pending[0].ID)
}

func TestUpdateStatusGuardsCurrentState(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	p := &Prompt{AgentID: "a1", UserID: "u1", TriggerType: TypeIdle, SuggestedAction: ActionCheckMessages, Status: PromptPending}
	require.NoError(t, s.CreatePrompt(ctx, p))

	require.NoError(t, s.UpdateStatus(ctx, p.ID, PromptPending, PromptExecuted, "checked inbox"))

	got, err := s.GetPrompt(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, PromptExecuted, got.Status)
	assert.Equal(t, "checked inbox", got.Result)
	assert.NotNil(t, got.ExecutedAt)

	// Re-running the same transition must fail: the state moved on.
	err = s.UpdateStatus(ctx, p.ID, PromptPending, PromptExecuted, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not pending")
}

func TestCountRecentAndExpirePending(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreatePrompt(ctx, &Prompt{
			AgentID: "a1", UserID: "u1", TriggerType: TypeIdle, SuggestedAction: ActionCheckMessages, Status: PromptPending,
		}))
	}
	old := &Prompt{
		AgentID: "a1", UserID: "u1", TriggerType: TypeIdle, SuggestedAction: ActionCheckMessages,
		Status: PromptPending, CreatedAt: time.Now().UTC().Add(-3 * time.Hour),
	}
	require.NoError(t, s.CreatePrompt(ctx, old))

	n, err := s.CountRecent(ctx, "a1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	expired, err := s.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), expired, "nothing past its TTL yet")
}

func TestConfigRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	// Absent config yields defaults.
	cfg, err := s.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 30*time.Minute, cfg.IdleThreshold)

	cfg.IdleThreshold = 2 * time.Hour
	cfg.Disabled = []string{TypeProactive}
	require.NoError(t, s.SetConfig(ctx, "a1", cfg))

	got, err := s.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 2*time.Hour, got.IdleThreshold)
	assert.False(t, got.Enabled(TypeProactive))

	// Upsert replaces.
	cfg.IdleThreshold = time.Hour
	require.NoError(t, s.SetConfig(ctx, "a1", cfg))
	got, err = s.GetConfig(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, got.IdleThreshold)
}
