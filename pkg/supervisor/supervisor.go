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

// Package supervisor runs the periodic maintenance sweeps as cooperative
// tasks with a single start/stop lifecycle.
package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Task is one periodic maintenance job. Run errors are logged, never
// fatal; the task keeps its schedule.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Supervisor schedules tasks on independent tickers.
type Supervisor struct {
	tasks []Task

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor over the given tasks.
func New(tasks ...Task) *Supervisor {
	return &Supervisor{tasks: tasks}
}

// Add registers a task. Must be called before Start.
func (s *Supervisor) Add(t Task) {
	s.tasks = append(s.tasks, t)
}

// Start launches one loop per task. Idempotent while running.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range s.tasks {
		if t.Interval <= 0 || t.Run == nil {
			slog.Warn("Skipping misconfigured maintenance task", "task", t.Name)
			continue
		}
		s.wg.Add(1)
		go s.loop(loopCtx, t)
	}
	slog.Info("Supervisor started", "tasks", len(s.tasks))
}

func (s *Supervisor) loop(ctx context.Context, t Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(t.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := t.Run(ctx); err != nil {
				slog.Warn("Maintenance task failed", "task", t.Name, "error", err)
				continue
			}
			slog.Debug("Maintenance task ran", "task", t.Name, "duration", time.Since(start))
		}
	}
}

// Stop halts all task loops and waits for in-flight runs.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	slog.Info("Supervisor stopped")
}
