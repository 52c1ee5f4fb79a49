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

package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterValidation(t *testing.T) {
	r := NewRegistry()
	noop := func(_ context.Context, hc Context) (Context, error) { return hc, nil }

	require.Error(t, r.Register("", "name", 0, noop))
	require.Error(t, r.Register("run:start", "", 0, noop))
	require.Error(t, r.Register("run:start", "name", 0, nil))
	require.NoError(t, r.Register("run:start", "name", 0, noop))
}

func TestEmitPriorityOrder(t *testing.T) {
	r := NewRegistry()
	var order []string
	handler := func(name string) Handler {
		return func(_ context.Context, hc Context) (Context, error) {
			order = append(order, name)
			return hc, nil
		}
	}

	require.NoError(t, r.Register("run:start", "last", 50, handler("last")))
	require.NoError(t, r.Register("run:start", "first", 1, handler("first")))
	require.NoError(t, r.Register("run:start", "middle", 10, handler("middle")))

	r.Emit(context.Background(), "run:start", Context{})
	assert.Equal(t, []string{"first", "middle", "last"}, order)
}

func TestEmitThreadsContext(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("run:end", "annotate", 1, func(_ context.Context, hc Context) (Context, error) {
		hc["annotated"] = true
		return hc, nil
	}))
	// A nil return keeps the previous context.
	require.NoError(t, r.Register("run:end", "observer", 2, func(_ context.Context, hc Context) (Context, error) {
		return nil, nil
	}))

	out := r.Emit(context.Background(), "run:end", Context{"agent": "a1"})
	assert.Equal(t, true, out["annotated"])
	assert.Equal(t, "a1", out["agent"])
}

func TestEmitSwallowsFailures(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("run:start", "broken", 1, func(_ context.Context, _ Context) (Context, error) {
		return nil, errors.New("boom")
	}))
	require.NoError(t, r.Register("run:start", "panicky", 2, func(_ context.Context, _ Context) (Context, error) {
		panic("oh no")
	}))
	require.NoError(t, r.Register("run:start", "healthy", 3, func(_ context.Context, hc Context) (Context, error) {
		hc["survived"] = true
		return hc, nil
	}))

	out := r.Emit(context.Background(), "run:start", Context{})
	assert.Equal(t, true, out["survived"])
	assert.Equal(t, 2, r.ErrorCount("run:start"))
}

func TestSameNameReplaces(t *testing.T) {
	r := NewRegistry()
	calls := 0

	require.NoError(t, r.Register("tick", "h", 1, func(_ context.Context, hc Context) (Context, error) {
		calls += 10
		return hc, nil
	}))
	require.NoError(t, r.Register("tick", "h", 1, func(_ context.Context, hc Context) (Context, error) {
		calls++
		return hc, nil
	}))

	r.Emit(context.Background(), "tick", nil)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, r.HandlerCount("tick"))
}

func TestHandlerLimit(t *testing.T) {
	r := NewRegistry()
	noop := func(_ context.Context, hc Context) (Context, error) { return hc, nil }

	for i := 0; i < MaxHandlersPerEvent; i++ {
		require.NoError(t, r.Register("tick", fmt.Sprintf("h%d", i), i, noop))
	}
	err := r.Register("tick", "overflow", 99, noop)
	require.Error(t, err)
	assert.Equal(t, MaxHandlersPerEvent, r.HandlerCount("tick"))

	// Replacing an existing name still works at the limit.
	require.NoError(t, r.Register("tick", "h0", 0, noop))
}

func TestUnregister(t *testing.T) {
	r := NewRegistry()
	noop := func(_ context.Context, hc Context) (Context, error) { return hc, nil }

	require.NoError(t, r.Register("tick", "h", 1, noop))
	r.Unregister("tick", "h")
	assert.Equal(t, 0, r.HandlerCount("tick"))
	r.Unregister("tick", "missing") // no-op
}

func TestHandlersGetClonedContext(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Register("tick", "mutator", 1, func(_ context.Context, hc Context) (Context, error) {
		hc["mutated"] = true
		return nil, errors.New("discard my changes")
	}))

	in := Context{"agent": "a1"}
	out := r.Emit(context.Background(), "tick", in)
	_, mutated := out["mutated"]
	assert.False(t, mutated, "failed handler's mutation leaked into the chain")
	_, leaked := in["mutated"]
	assert.False(t, leaked, "handler mutated the caller's map")
}
