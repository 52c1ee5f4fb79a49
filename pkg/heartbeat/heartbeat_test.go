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

package heartbeat

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
	"github.com/northpeakmalaysia/swarmai/pkg/notify"
	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/recovery"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

type capturedIntents struct {
	mu      sync.Mutex
	intents []*notify.Intent
}

func (c *capturedIntents) Notify(_ context.Context, intent *notify.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.intents = append(c.intents, intent)
	return nil
}

func (c *capturedIntents) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.intents)
}

func newTestMonitor(t *testing.T) (*Monitor, *hierarchy.Profile, *capturedIntents) {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	profiles, err := hierarchy.NewService(db)
	require.NoError(t, err)
	checkpoints, err := checkpoint.NewSQLService(db)
	require.NoError(t, err)

	catalogue := tool.NewCatalogue()
	checker := permission.NewChecker(nil, catalogue, nil)
	executor := recovery.NewExecutor(catalogue, idempotency.NewCache(idempotency.NewMemoryStore()))

	// The static router goes silent, which counts as a healthy heartbeat.
	runner, err := runtime.NewRunner(runtime.Config{}, profiles, model.NewStaticRouter(),
		catalogue, checker, executor, checkpoints, guard.New(2), runtime.Options{})
	require.NoError(t, err)

	agent, err := profiles.CreateProfile(context.Background(), &hierarchy.Profile{
		UserID: "u1",
		Name:   "Watched",
	})
	require.NoError(t, err)

	captured := &capturedIntents{}
	monitor := NewMonitor(profiles, runner, notify.NewService(captured, 10))
	return monitor, agent, captured
}

func TestTickResetsMissesOnHealthyRun(t *testing.T) {
	m, agent, captured := newTestMonitor(t)
	m.misses[agent.ID] = 2

	m.tick(context.Background(), agent.ID, 3)

	assert.Equal(t, 0, m.Misses(agent.ID))
	last, ok := m.LastOK(agent.ID)
	assert.True(t, ok)
	assert.False(t, last.IsZero())
	assert.Equal(t, 0, captured.count())
}

func TestTickCountsMissesAndEscalatesOnce(t *testing.T) {
	m, _, captured := newTestMonitor(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		m.tick(ctx, "ghost", 3)
	}

	assert.Equal(t, 4, m.Misses("ghost"))
	_, ok := m.LastOK("ghost")
	assert.False(t, ok)

	// Escalation fires exactly when the threshold is hit, not on every
	// later miss.
	require.Equal(t, 1, captured.count())
	intent := captured.intents[0]
	assert.Equal(t, notify.KindCriticalError, intent.Kind)
	assert.Equal(t, notify.PriorityHigh, intent.Priority)
	assert.Contains(t, intent.Subject, "missed 3 heartbeats")
}

func TestTickRecoversAfterMisses(t *testing.T) {
	m, agent, captured := newTestMonitor(t)
	ctx := context.Background()

	m.tick(ctx, "ghost", 5)
	m.tick(ctx, agent.ID, 5)

	assert.Equal(t, 1, m.Misses("ghost"))
	assert.Equal(t, 0, m.Misses(agent.ID))
	assert.Equal(t, 0, captured.count())
}

func TestWatchUnwatchLifecycle(t *testing.T) {
	m, agent, _ := newTestMonitor(t)

	// Long interval so no tick fires during the test.
	cfg := hierarchy.HeartbeatConfig{Enabled: true, IntervalMS: 3_600_000}
	m.Watch(agent.ID, cfg)
	m.Watch(agent.ID, cfg) // rewatch replaces the previous timer
	m.Unwatch(agent.ID)
	m.Unwatch(agent.ID) // unwatching twice is a no-op

	m.Watch(agent.ID, cfg)
	m.Stop()
	m.Stop()
}

func TestStartSchedulesEnabledAgents(t *testing.T) {
	m, agent, _ := newTestMonitor(t)
	ctx := context.Background()

	agent.Heartbeat = hierarchy.HeartbeatConfig{Enabled: true, IntervalMS: 3_600_000}
	require.NoError(t, m.profiles.UpdateProfile(ctx, agent))

	// A second agent without heartbeats stays unwatched.
	_, err := m.profiles.CreateProfile(ctx, &hierarchy.Profile{UserID: "u1", Name: "Quiet"})
	require.NoError(t, err)

	require.NoError(t, m.Start(ctx))
	t.Cleanup(m.Stop)

	m.mu.Lock()
	watched := len(m.agents)
	m.mu.Unlock()
	assert.Equal(t, 1, watched)
}
