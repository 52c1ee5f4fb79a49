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

package audit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

func testLog(t *testing.T) (*Log, *store.DB) {
	t.Helper()
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	l, err := NewLog(db)
	require.NoError(t, err)
	return l, db
}

func TestRecordAndRecent(t *testing.T) {
	l, _ := testLog(t)
	ctx := context.Background()

	l.Record(ctx, "a1", "u1", CatIncoming, DirInbound, map[string]any{"channel": "whatsapp"})
	l.Record(ctx, "a1", "u1", CatToolCall, DirInternal, map[string]any{"tool": "lookCalendar"})
	l.Record(ctx, "a2", "u1", CatOutgoing, DirOutbound, nil)

	events, err := l.Recent(ctx, "a1", 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	// Newest first.
	assert.Equal(t, "audit:tool_call", events[0].ActivityType)
	assert.Equal(t, "Tool invoked", events[0].Description)
	assert.Equal(t, DirInternal, events[0].Direction)
	assert.Equal(t, "lookCalendar", events[0].Metadata["tool"])

	assert.Equal(t, "audit:incoming", events[1].ActivityType)
	assert.Equal(t, "whatsapp", events[1].Metadata["channel"])
}

func TestRecentDefaultLimit(t *testing.T) {
	l, _ := testLog(t)
	ctx := context.Background()

	for i := 0; i < 60; i++ {
		l.Record(ctx, "a1", "u1", CatReasoningThink, DirInternal, nil)
	}

	events, err := l.Recent(ctx, "a1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 50)
}

func TestRecordNeverFailsTheCaller(t *testing.T) {
	l, db := testLog(t)
	require.NoError(t, db.Close())

	// Write against a closed database must not panic or surface an error.
	l.Record(context.Background(), "a1", "u1", CatError, DirInternal, nil)
}

func TestPurgeExpired(t *testing.T) {
	l, db := testLog(t)
	ctx := context.Background()

	l.Record(ctx, "a1", "u1", CatIncoming, DirInbound, nil)

	// Backdate rows past the TTL, including one non-audit activity row that
	// the purge must leave alone.
	old := time.Now().UTC().Add(-TTL - time.Hour)
	_, err := db.ExecContext(ctx, `UPDATE activities SET created_at = ?`, old)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		`INSERT INTO activities (id, agent_id, user_id, activity_type, description, direction, metadata, created_at)
		 VALUES (?, 'a1', 'u1', 'message', 'inbound message', 'INBOUND', '', ?)`,
		uuid.NewString(), old)
	require.NoError(t, err)

	n, err := l.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var remaining int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activities`).Scan(&remaining))
	assert.Equal(t, 1, remaining)
}

func TestTTLCleanupStartStop(t *testing.T) {
	l, _ := testLog(t)
	ctx := context.Background()

	l.StartTTLCleanup(ctx)
	l.StartTTLCleanup(ctx) // second start is a no-op
	l.StopTTLCleanup()
	l.StopTTLCleanup() // second stop is a no-op
}
