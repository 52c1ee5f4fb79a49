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

package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTasksRunOnSchedule(t *testing.T) {
	var runs atomic.Int64
	s := New(Task{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int64(3))
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "task kept running after Stop")
}

func TestFailingTaskKeepsSchedule(t *testing.T) {
	var runs atomic.Int64
	s := New(Task{
		Name:     "flaky",
		Interval: 10 * time.Millisecond,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("sweep failed")
		},
	})

	s.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int64(2), "errors must not stop the schedule")
}

func TestMisconfiguredTasksAreSkipped(t *testing.T) {
	var runs atomic.Int64
	s := New(
		Task{Name: "no-interval", Run: func(context.Context) error { runs.Add(1); return nil }},
		Task{Name: "no-run", Interval: time.Millisecond},
	)

	s.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int64(0), runs.Load())
}

func TestStopIsIdempotent(t *testing.T) {
	s := New(Task{Name: "t", Interval: time.Hour, Run: func(context.Context) error { return nil }})
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
