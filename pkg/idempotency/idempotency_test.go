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

package idempotency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

func TestKeyIsStableAcrossKeyOrder(t *testing.T) {
	a := Key("a1", "sendEmail", map[string]any{
		"to":   "ops@example.com",
		"body": "hi",
		"meta": map[string]any{"x": 1, "y": 2},
	})
	b := Key("a1", "sendEmail", map[string]any{
		"meta": map[string]any{"y": 2, "x": 1},
		"body": "hi",
		"to":   "ops@example.com",
	})
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestKeySeparatesCallers(t *testing.T) {
	params := map[string]any{"to": "ops@example.com"}
	base := Key("a1", "sendEmail", params)

	assert.NotEqual(t, base, Key("a2", "sendEmail", params))
	assert.NotEqual(t, base, Key("a1", "sendWhatsApp", params))
	assert.NotEqual(t, base, Key("a1", "sendEmail", map[string]any{"to": "other@example.com"}))
}

func TestCanonicalJSON(t *testing.T) {
	got := CanonicalJSON(map[string]any{
		"b":    2,
		"a":    1,
		"list": []any{map[string]any{"z": 1, "a": 2}},
	})
	assert.Equal(t, `{"a":1,"b":2,"list":[{"a":2,"z":1}]}`, got)
}

func TestCacheLifecycle(t *testing.T) {
	cache := NewCache(NewMemoryStore())
	ctx := context.Background()
	params := map[string]any{"to": "ops@example.com"}

	rec, err := cache.CheckDuplicate(ctx, "a1", "sendEmail", params)
	require.NoError(t, err)
	assert.Nil(t, rec)

	key, err := cache.RecordPending(ctx, "a1", "sendEmail", params)
	require.NoError(t, err)

	rec, err = cache.CheckDuplicate(ctx, "a1", "sendEmail", params)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusPending, rec.Status)

	require.NoError(t, cache.RecordComplete(ctx, key, `{"success":true}`))
	rec, err = cache.CheckDuplicate(ctx, "a1", "sendEmail", params)
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, StatusCompleted, rec.Status)
	assert.Equal(t, `{"success":true}`, rec.Result)
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	expired := &Record{
		Key:       "k-expired",
		Status:    StatusPending,
		CreatedAt: time.Now().UTC().Add(-2 * TTL),
		ExpiresAt: time.Now().UTC().Add(-TTL),
	}
	require.NoError(t, store.PutPending(ctx, expired))
	live := &Record{
		Key:       "k-live",
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(TTL),
	}
	require.NoError(t, store.PutPending(ctx, live))

	rec, err := store.Get(ctx, "k-expired")
	require.NoError(t, err)
	assert.Nil(t, rec, "expired records must read as absent")

	n, err := store.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	rec, err = store.Get(ctx, "k-live")
	require.NoError(t, err)
	assert.NotNil(t, rec)
}

func TestMemoryStorePutPendingRefusesLiveDuplicate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	pending := func() *Record {
		return &Record{Key: "k", AgentID: "a1", ToolID: "sendEmail", Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(TTL)}
	}
	require.NoError(t, s.PutPending(ctx, pending()))
	require.ErrorIs(t, s.PutPending(ctx, pending()), ErrDuplicate)

	// A live completed record is protected the same way.
	require.NoError(t, s.Complete(ctx, "k", `{"success":true}`))
	require.ErrorIs(t, s.PutPending(ctx, pending()), ErrDuplicate)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status, "losing writer must not clobber the live record")
}

func TestMemoryStorePutPendingReplacesExpired(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutPending(ctx, &Record{
		Key: "k", Status: StatusPending, CreatedAt: now.Add(-2 * TTL), ExpiresAt: now.Add(-TTL),
	}))
	require.NoError(t, s.PutPending(ctx, &Record{
		Key: "k", Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(TTL),
	}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
}

func TestSQLStorePutPendingRefusesLiveDuplicate(t *testing.T) {
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLStore(db)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	pending := func() *Record {
		return &Record{Key: "k", AgentID: "a1", ToolID: "sendEmail", Status: StatusPending, CreatedAt: now, ExpiresAt: now.Add(TTL)}
	}
	require.NoError(t, s.PutPending(ctx, pending()))
	require.ErrorIs(t, s.PutPending(ctx, pending()), ErrDuplicate)

	require.NoError(t, s.Complete(ctx, "k", `{"success":true}`))
	require.ErrorIs(t, s.PutPending(ctx, pending()), ErrDuplicate)

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, `{"success":true}`, got.Result)
}

func TestSQLStorePutPendingReplacesExpired(t *testing.T) {
	db, err := store.Open(&store.Config{Driver: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	s, err := NewSQLStore(db)
	require.NoError(t, err)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.PutPending(ctx, &Record{
		Key: "k", AgentID: "a1", ToolID: "sendEmail", Status: StatusPending,
		CreatedAt: now.Add(-2 * TTL), ExpiresAt: now.Add(-TTL),
	}))
	require.NoError(t, s.PutPending(ctx, &Record{
		Key: "k", AgentID: "a1", ToolID: "sendEmail", Status: StatusPending,
		CreatedAt: now, ExpiresAt: now.Add(TTL),
	}))

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	rec := &Record{Key: "k", Status: StatusPending, ExpiresAt: time.Now().UTC().Add(TTL)}
	require.NoError(t, store.PutPending(ctx, rec))
	rec.Status = StatusCompleted // caller mutation must not leak into the store

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StatusPending, got.Status)
}
