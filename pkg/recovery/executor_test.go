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

package recovery

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/idempotency"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

func newTestExecutor(t *testing.T) (*Executor, *tool.Catalogue, *[]time.Duration) {
	t.Helper()
	catalogue := tool.NewCatalogue()
	exec := NewExecutor(catalogue, idempotency.NewCache(idempotency.NewMemoryStore()))

	var slept []time.Duration
	exec.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return exec, catalogue, &slept
}

func register(t *testing.T, c *tool.Catalogue, e tool.Entry) {
	t.Helper()
	require.NoError(t, c.Register(e))
}

func TestExecuteSucceedsFirstTry(t *testing.T) {
	exec, catalogue, slept := newTestExecutor(t)
	register(t, catalogue, tool.Entry{
		ID: "echo",
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			return tool.Result{Success: true, Content: "ok"}, nil
		}),
	})

	out := exec.Execute(context.Background(), "a1", "echo", nil)
	assert.True(t, out.Result.Success)
	assert.Equal(t, 1, out.Attempts)
	assert.Empty(t, out.Strategy)
	assert.Nil(t, out.Analysis)
	assert.Empty(t, *slept)
}

func TestExecuteRetriesTransientFailure(t *testing.T) {
	exec, catalogue, slept := newTestExecutor(t)
	calls := 0
	register(t, catalogue, tool.Entry{
		ID: "flaky",
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			calls++
			if calls == 1 {
				return tool.Result{Success: false, Error: "ECONNRESET"}, nil
			}
			return tool.Result{Success: true, Content: "recovered"}, nil
		}),
	})

	out := exec.Execute(context.Background(), "a1", "flaky", nil)
	assert.True(t, out.Result.Success)
	assert.Equal(t, 2, out.Attempts)
	assert.Equal(t, StrategyRetryBackoff, out.Strategy)
	require.NotNil(t, out.Analysis)
	assert.Equal(t, ErrNetwork, out.Analysis.Type)
	assert.Equal(t, []time.Duration{time.Second}, *slept)
	require.Len(t, out.Trail, 1)
	assert.Equal(t, "ECONNRESET", out.Trail[0].Error)
}

func TestExecuteAdjustsInvalidParams(t *testing.T) {
	exec, catalogue, _ := newTestExecutor(t)
	register(t, catalogue, tool.Entry{
		ID: "search",
		Handler: tool.HandlerFunc(func(_ context.Context, params map[string]any) (tool.Result, error) {
			q, _ := params["query"].(string)
			if len(q) > 15 {
				return tool.Result{Success: false, Error: "query too long, validation failed"}, nil
			}
			return tool.Result{Success: true, Content: q}, nil
		}),
	})

	out := exec.Execute(context.Background(), "a1", "search", map[string]any{
		"query": "one two three four five six",
	})
	assert.True(t, out.Result.Success)
	assert.Equal(t, StrategyAdjustParams, out.Strategy)
	assert.Equal(t, "one two three", out.Result.Content)
}

func TestExecuteFallsBackToAlternative(t *testing.T) {
	exec, catalogue, _ := newTestExecutor(t)
	register(t, catalogue, tool.Entry{
		ID:           "sendWhatsApp",
		Alternatives: []string{"sendEmail"},
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			return tool.Result{Success: false, Error: "contact not found on whatsapp"}, nil
		}),
	})
	var emailParams map[string]any
	register(t, catalogue, tool.Entry{
		ID: "sendEmail",
		Handler: tool.HandlerFunc(func(_ context.Context, params map[string]any) (tool.Result, error) {
			emailParams = params
			return tool.Result{Success: true, Content: "sent"}, nil
		}),
	})

	out := exec.Execute(context.Background(), "a1", "sendWhatsApp", map[string]any{"message": "hello"})
	assert.True(t, out.Result.Success)
	assert.Equal(t, "sendEmail", out.Tool)
	assert.Equal(t, StrategyTryAlternative, out.Strategy)
	assert.Equal(t, "hello", emailParams["body"])
	assert.Equal(t, "Message from your agent", emailParams["subject"])
}

func TestExecutePermissionFailureDoesNotRetry(t *testing.T) {
	exec, catalogue, slept := newTestExecutor(t)
	calls := 0
	register(t, catalogue, tool.Entry{
		ID: "locked",
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			calls++
			return tool.Result{Success: false, Error: "403 access denied"}, nil
		}),
	})

	out := exec.Execute(context.Background(), "a1", "locked", nil)
	assert.False(t, out.Result.Success)
	assert.Equal(t, 1, calls)
	assert.Equal(t, StrategyEscalate, out.Strategy)
	assert.Empty(t, *slept)
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	exec, catalogue, _ := newTestExecutor(t)
	calls := 0
	register(t, catalogue, tool.Entry{
		ID: "down",
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			calls++
			return tool.Result{Success: false, Error: "network unreachable"}, nil
		}),
	})

	out := exec.Execute(context.Background(), "a1", "down", nil)
	assert.False(t, out.Result.Success)
	assert.Equal(t, MaxAttempts, calls)
	assert.Equal(t, StrategyExhausted, out.Strategy)
	assert.Equal(t, "network unreachable", out.OriginalError)
	assert.Len(t, out.Trail, MaxAttempts)
}

func TestExecuteServesCachedSideEffect(t *testing.T) {
	exec, catalogue, _ := newTestExecutor(t)
	calls := 0
	register(t, catalogue, tool.Entry{
		ID:         "sendEmail",
		SideEffect: true,
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			calls++
			return tool.Result{Success: true, Content: "sent"}, nil
		}),
	})
	params := map[string]any{"to": "ops@example.com", "body": "hi"}

	first := exec.Execute(context.Background(), "a1", "sendEmail", params)
	require.True(t, first.Result.Success)
	assert.False(t, first.Cached)

	second := exec.Execute(context.Background(), "a1", "sendEmail", params)
	assert.True(t, second.Cached)
	assert.Equal(t, StrategyCached, second.Strategy)
	assert.Equal(t, "sent", second.Result.Content)
	assert.Equal(t, 1, calls, "duplicate call must not re-execute the side effect")
}

func TestExecuteReportsInProgressDuplicate(t *testing.T) {
	catalogue := tool.NewCatalogue()
	cache := idempotency.NewCache(idempotency.NewMemoryStore())
	exec := NewExecutor(catalogue, cache)
	register(t, catalogue, tool.Entry{
		ID:         "sendEmail",
		SideEffect: true,
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			return tool.Result{Success: true}, nil
		}),
	})
	params := map[string]any{"to": "ops@example.com"}

	_, err := cache.RecordPending(context.Background(), "a1", "sendEmail", params)
	require.NoError(t, err)

	out := exec.Execute(context.Background(), "a1", "sendEmail", params)
	assert.True(t, out.InProgress)
	assert.True(t, out.Cached)
	assert.Contains(t, out.Result.Content, "already in progress")
}

func TestExecuteConcurrentDuplicateRunsOnce(t *testing.T) {
	catalogue := tool.NewCatalogue()
	cache := idempotency.NewCache(idempotency.NewMemoryStore())
	exec := NewExecutor(catalogue, cache)

	entered := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	register(t, catalogue, tool.Entry{
		ID:         "sendEmail",
		SideEffect: true,
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			atomic.AddInt32(&calls, 1)
			close(entered)
			<-release
			return tool.Result{Success: true, Content: "sent"}, nil
		}),
	})
	params := map[string]any{"to": "ops@example.com", "body": "hi"}

	var first Outcome
	done := make(chan struct{})
	go func() {
		defer close(done)
		first = exec.Execute(context.Background(), "a1", "sendEmail", params)
	}()
	<-entered

	// The duplicate arrives while the first call still holds the pending
	// record.
	second := exec.Execute(context.Background(), "a1", "sendEmail", params)
	assert.True(t, second.InProgress)
	assert.True(t, second.Cached)
	assert.Contains(t, second.Result.Content, "already in progress")

	close(release)
	<-done
	assert.True(t, first.Result.Success)
	assert.False(t, first.Cached)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "duplicate must not re-execute the side effect")
}

// unseenStore hides records from reads, modelling a duplicate caller whose
// initial lookup raced ahead of the winner's pending write.
type unseenStore struct {
	idempotency.Store
}

func (s *unseenStore) Get(context.Context, string) (*idempotency.Record, error) { return nil, nil }

func TestExecuteDuplicateRaceStopsAtPendingWrite(t *testing.T) {
	catalogue := tool.NewCatalogue()
	inner := idempotency.NewMemoryStore()
	exec := NewExecutor(catalogue, idempotency.NewCache(&unseenStore{Store: inner}))

	calls := 0
	register(t, catalogue, tool.Entry{
		ID:         "sendEmail",
		SideEffect: true,
		Handler: tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) {
			calls++
			return tool.Result{Success: true, Content: "sent"}, nil
		}),
	})
	params := map[string]any{"to": "ops@example.com"}

	// The winner's pending record lands between this caller's lookup and
	// its own pending write.
	now := time.Now().UTC()
	require.NoError(t, inner.PutPending(context.Background(), &idempotency.Record{
		Key:       idempotency.Key("a1", "sendEmail", params),
		AgentID:   "a1",
		ToolID:    "sendEmail",
		Status:    idempotency.StatusPending,
		CreatedAt: now,
		ExpiresAt: now.Add(idempotency.TTL),
	}))

	out := exec.Execute(context.Background(), "a1", "sendEmail", params)
	assert.True(t, out.InProgress)
	assert.True(t, out.Cached)
	assert.Equal(t, 0, calls, "the losing caller must not execute the side effect")
}
