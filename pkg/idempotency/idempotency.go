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

// Package idempotency deduplicates side-effect tool calls. Keys are derived
// from (agent, tool, canonical params); a completed entry within the TTL
// short-circuits re-execution, a pending entry yields an in-progress stub
// instead of a replay.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TTL is how long a record suppresses duplicate execution.
const TTL = 5 * time.Minute

// ErrDuplicate reports that PutPending found a live record for the key:
// an identical call is already pending or completed, and the caller must
// not execute the side effect again.
var ErrDuplicate = errors.New("idempotency record already live")

// Status of an idempotency record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
)

// Record is one cached side-effect execution.
type Record struct {
	Key       string    `json:"key"`
	AgentID   string    `json:"agent_id"`
	ToolID    string    `json:"tool_id"`
	Status    Status    `json:"status"`
	Result    string    `json:"result,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists idempotency records.
type Store interface {
	// Get returns the unexpired record for key, or nil.
	Get(ctx context.Context, key string) (*Record, error)

	// PutPending inserts a pending record, replacing any expired one.
	// A live record under the same key yields ErrDuplicate.
	PutPending(ctx context.Context, rec *Record) error

	// Complete marks a record completed with its serialized result.
	Complete(ctx context.Context, key, result string) error

	// DeleteExpired removes all expired records and reports the count.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Key derives the idempotency key: sha256 over agent id, tool id and the
// canonical (sorted-key) JSON encoding of params, truncated to 32 hex chars.
// Canonicalization keeps key-order-unstable callers from splitting
// otherwise-identical calls.
func Key(agentID, toolID string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(agentID))
	h.Write([]byte{0})
	h.Write([]byte(toolID))
	h.Write([]byte{0})
	h.Write([]byte(CanonicalJSON(params)))
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// CanonicalJSON encodes v with object keys sorted at every nesting level.
func CanonicalJSON(v any) string {
	var b strings.Builder
	writeCanonical(&b, v)
	return b.String()
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			kj, _ := json.Marshal(k)
			b.Write(kj)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		data, err := json.Marshal(val)
		if err != nil {
			data = []byte(fmt.Sprintf("%q", fmt.Sprint(val)))
		}
		b.Write(data)
	}
}

// Cache is the idempotency service used by recovery.
type Cache struct {
	store Store
}

// NewCache creates a cache over the given store.
func NewCache(store Store) *Cache {
	return &Cache{store: store}
}

// CheckDuplicate returns the unexpired record for (agent, tool, params), or
// nil when the call is fresh.
func (c *Cache) CheckDuplicate(ctx context.Context, agentID, toolID string, params map[string]any) (*Record, error) {
	return c.store.Get(ctx, Key(agentID, toolID, params))
}

// RecordPending marks a side-effect call as in flight and returns its key.
// ErrDuplicate means a concurrent identical call already holds the key.
func (c *Cache) RecordPending(ctx context.Context, agentID, toolID string, params map[string]any) (string, error) {
	key := Key(agentID, toolID, params)
	now := time.Now().UTC()
	rec := &Record{
		Key:       key,
		AgentID:   agentID,
		ToolID:    toolID,
		Status:    StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}
	if err := c.store.PutPending(ctx, rec); err != nil {
		return key, err
	}
	return key, nil
}

// RecordComplete stores the serialized result for a completed call.
func (c *Cache) RecordComplete(ctx context.Context, key, result string) error {
	return c.store.Complete(ctx, key, result)
}

// CleanupExpired removes expired records.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	return c.store.DeleteExpired(ctx)
}
