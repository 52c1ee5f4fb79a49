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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/idempotency"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// MaxAttempts caps total executions per call: the original plus retries
// plus alternatives combined.
const MaxAttempts = 3

// Attempt records one execution within a recovery trail.
type Attempt struct {
	Tool       string   `json:"tool"`
	Strategy   Strategy `json:"strategy"`
	Error      string   `json:"error,omitempty"`
	DurationMS int64    `json:"duration_ms"`
}

// Outcome is the final result of a recovered tool call.
type Outcome struct {
	Result     tool.Result `json:"result"`
	Tool       string      `json:"tool"`
	Cached     bool        `json:"cached,omitempty"`
	InProgress bool        `json:"in_progress,omitempty"`
	Attempts   int         `json:"attempts"`
	Strategy   Strategy    `json:"strategy,omitempty"`
	Analysis   *Analysis   `json:"analysis,omitempty"`
	Trail      []Attempt   `json:"trail,omitempty"`

	// OriginalError is set when every attempt exhausted.
	OriginalError string `json:"original_error,omitempty"`
}

// Executor wraps tool execution with idempotency and recovery.
type Executor struct {
	catalogue *tool.Catalogue
	cache     *idempotency.Cache
	analyzer  *Analyzer

	// sleep is replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates a recovery executor over the catalogue and cache.
func NewExecutor(catalogue *tool.Catalogue, cache *idempotency.Cache) *Executor {
	return &Executor{
		catalogue: catalogue,
		cache:     cache,
		analyzer:  NewAnalyzer(catalogue.Alternatives),
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Execute runs a tool call for an agent, applying the recovery sequence:
// idempotency check, original execution, classification, retry/adjust/
// alternative fallback, exhaustion.
func (e *Executor) Execute(ctx context.Context, agentID, toolID string, params map[string]any) Outcome {
	sideEffect := e.catalogue.IsSideEffect(toolID)

	if sideEffect {
		if out, hit := e.checkCache(ctx, agentID, toolID, params); hit {
			return out
		}
	}

	var idemKey string
	if sideEffect {
		key, err := e.cache.RecordPending(ctx, agentID, toolID, params)
		if errors.Is(err, idempotency.ErrDuplicate) {
			// A concurrent identical call claimed the key first; serve its
			// record instead of executing the side effect twice.
			if out, hit := e.checkCache(ctx, agentID, toolID, params); hit {
				return out
			}
			return Outcome{
				Result:     tool.Result{Success: true, Content: fmt.Sprintf("%s is already in progress", toolID)},
				Tool:       toolID,
				Cached:     true,
				InProgress: true,
				Strategy:   StrategyCached,
			}
		}
		if err != nil {
			// Best-effort: a cache write failure never blocks the call.
			slog.Debug("Failed to record pending idempotency entry", "tool", toolID, "error", err)
		}
		idemKey = key
	}

	outcome := e.attemptLoop(ctx, agentID, toolID, params)

	if sideEffect && outcome.Result.Success && idemKey != "" {
		if data, err := json.Marshal(outcome.Result); err == nil {
			if err := e.cache.RecordComplete(ctx, idemKey, string(data)); err != nil {
				slog.Debug("Failed to record idempotency completion", "tool", toolID, "error", err)
			}
		}
	}
	return outcome
}

func (e *Executor) checkCache(ctx context.Context, agentID, toolID string, params map[string]any) (Outcome, bool) {
	rec, err := e.cache.CheckDuplicate(ctx, agentID, toolID, params)
	if err != nil {
		slog.Debug("Idempotency lookup failed", "tool", toolID, "error", err)
		return Outcome{}, false
	}
	if rec == nil {
		return Outcome{}, false
	}

	switch rec.Status {
	case idempotency.StatusCompleted:
		var res tool.Result
		if err := json.Unmarshal([]byte(rec.Result), &res); err != nil {
			res = tool.Result{Success: true, Content: rec.Result}
		}
		return Outcome{Result: res, Tool: toolID, Cached: true, Strategy: StrategyCached}, true
	case idempotency.StatusPending:
		return Outcome{
			Result:     tool.Result{Success: true, Content: fmt.Sprintf("%s is already in progress", toolID)},
			Tool:       toolID,
			Cached:     true,
			InProgress: true,
			Strategy:   StrategyCached,
		}, true
	}
	return Outcome{}, false
}

func (e *Executor) attemptLoop(ctx context.Context, agentID, toolID string, params map[string]any) Outcome {
	var (
		trail         []Attempt
		firstErr      error
		firstAnalysis *Analysis
	)

	currentTool := toolID
	currentParams := params
	adjusted := false
	altIndex := 0
	strategy := Strategy("")

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		start := time.Now()
		result, err := e.catalogue.Execute(ctx, currentTool, currentParams)
		duration := time.Since(start).Milliseconds()

		if err == nil && result.Success {
			out := Outcome{Result: result, Tool: currentTool, Attempts: attempt, Trail: trail}
			if attempt > 1 {
				out.Strategy = strategy
				out.Analysis = firstAnalysis
			}
			return out
		}

		if err == nil {
			err = fmt.Errorf("%s", result.Error)
		}
		if firstErr == nil {
			firstErr = err
		}

		analysis := e.analyzer.Analyze(currentTool, err, attempt)
		if firstAnalysis == nil {
			a := analysis
			firstAnalysis = &a
		}
		trail = append(trail, Attempt{Tool: currentTool, Strategy: analysis.Strategy, Error: err.Error(), DurationMS: duration})

		if ctx.Err() != nil {
			return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
		}

		if !analysis.Recoverable || attempt >= MaxAttempts {
			if attempt >= MaxAttempts {
				return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
			}
			return Outcome{
				Result:        tool.Result{Success: false, Error: err.Error()},
				Tool:          currentTool,
				Attempts:      attempt,
				Strategy:      analysis.Strategy,
				Analysis:      &analysis,
				Trail:         trail,
				OriginalError: firstErr.Error(),
			}
		}

		switch analysis.Strategy {
		case StrategyRetryBackoff, StrategyRetryDelay:
			if err := e.sleep(ctx, analysis.Retry.Delay(attempt)); err != nil {
				return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
			}
			strategy = analysis.Strategy

		case StrategyAdjustParams:
			next := AdjustParams(currentParams)
			if next == nil {
				if alt, ok := e.nextAlternative(toolID, &altIndex); ok {
					currentTool = alt
					currentParams = RemapParams(alt, params)
					strategy = StrategyTryAlternative
					continue
				}
				return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
			}
			if adjusted {
				return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
			}
			currentParams = next
			adjusted = true
			strategy = StrategyAdjustParams

		case StrategyTryAlternative:
			alt, ok := e.nextAlternative(toolID, &altIndex)
			if !ok {
				return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
			}
			currentTool = alt
			currentParams = RemapParams(alt, params)
			strategy = StrategyTryAlternative

		default:
			return e.exhausted(currentTool, attempt, trail, firstAnalysis, firstErr)
		}
	}

	return e.exhausted(currentTool, MaxAttempts, trail, firstAnalysis, firstErr)
}

func (e *Executor) nextAlternative(toolID string, index *int) (string, bool) {
	alts := e.catalogue.Alternatives(toolID)
	if *index >= len(alts) {
		return "", false
	}
	alt := alts[*index]
	*index++
	return alt, true
}

func (e *Executor) exhausted(toolID string, attempts int, trail []Attempt, analysis *Analysis, firstErr error) Outcome {
	msg := "tool execution failed"
	if firstErr != nil {
		msg = firstErr.Error()
	}
	return Outcome{
		Result:        tool.Result{Success: false, Error: msg},
		Tool:          toolID,
		Attempts:      attempts,
		Strategy:      StrategyExhausted,
		Analysis:      analysis,
		Trail:         trail,
		OriginalError: msg,
	}
}
