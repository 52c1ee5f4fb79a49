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

// Package guard bounds the number of simultaneous model-driven runs
// process-wide. Waiters are woken in arrival order; a waiter whose timeout
// fires leaves the queue even if a slot frees concurrently.
package guard

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

// DefaultCapacity is the default number of concurrent background runs,
// overridable via AI_MAX_CONCURRENT_BACKGROUND.
const DefaultCapacity = 3

// ReleaseFunc returns a slot to the guard. Calling it more than once is a
// no-op.
type ReleaseFunc func()

// Guard is the process-wide slot limiter.
type Guard struct {
	sem      *semaphore.Weighted
	capacity int64
	running  atomic.Int64
	deferred atomic.Int64
}

// New creates a Guard with the given capacity. Non-positive capacities fall
// back to DefaultCapacity.
func New(capacity int) *Guard {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Guard{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or timeout elapses. On success the
// returned ReleaseFunc must be called exactly once; on timeout the error
// carries swarmerrors.KindCapacityTimeout.
func (g *Guard) Acquire(ctx context.Context, timeout time.Duration) (ReleaseFunc, error) {
	acquireCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := g.sem.Acquire(acquireCtx, 1); err != nil {
		if ctx.Err() != nil {
			return nil, swarmerrors.Wrap(swarmerrors.KindCancelled, "guard", "acquire", "caller cancelled while waiting for slot", ctx.Err())
		}
		return nil, swarmerrors.Wrap(swarmerrors.KindCapacityTimeout, "guard", "acquire",
			fmt.Sprintf("no slot free within %s (capacity %d)", timeout, g.capacity), err)
	}

	g.running.Add(1)
	return g.releaseFunc(), nil
}

// TryAcquire returns a ReleaseFunc if a slot is immediately free, nil
// otherwise. A nil return increments the deferred counter.
func (g *Guard) TryAcquire() ReleaseFunc {
	if !g.sem.TryAcquire(1) {
		g.deferred.Add(1)
		return nil
	}
	g.running.Add(1)
	return g.releaseFunc()
}

func (g *Guard) releaseFunc() ReleaseFunc {
	var once sync.Once
	return func() {
		once.Do(func() {
			g.running.Add(-1)
			g.sem.Release(1)
		})
	}
}

// Capacity returns the configured slot count.
func (g *Guard) Capacity() int { return int(g.capacity) }

// Running returns the number of slots currently held.
func (g *Guard) Running() int { return int(g.running.Load()) }

// Deferred returns how many TryAcquire calls found the guard at capacity.
func (g *Guard) Deferred() int { return int(g.deferred.Load()) }
