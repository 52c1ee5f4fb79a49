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

package selfheal

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/recovery"
)

// DiagnosisWindowHours examined by diagnoseSelf.
const DiagnosisWindowHours = 72

// PatternMinOccurrences before a (tool, error) pair counts as recurring.
const PatternMinOccurrences = 3

// Regression detection thresholds: recent 24 h vs 7 d baseline.
const (
	RegressionDropPoints = 0.15
	RegressionMinSamples = 5
)

// Trend of a recurring pattern across the halved window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDecreasing Trend = "decreasing"
)

// Severity of a diagnosis.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Pattern is a recurring (tool, error message) failure.
type Pattern struct {
	ToolID       string    `json:"tool_id"`
	ErrorMessage string    `json:"error_message"`
	Occurrences  int       `json:"occurrences"`
	Trend        Trend     `json:"trend"`
	FirstSeen    time.Time `json:"first_seen"`
	LastSeen     time.Time `json:"last_seen"`
}

// Regression compares recent success rate against a longer baseline.
type Regression struct {
	Degrading       bool    `json:"degrading"`
	RecentSuccess   float64 `json:"recent_success_rate"`
	BaselineSuccess float64 `json:"baseline_success_rate"`
	RecentSamples   int     `json:"recent_samples"`
}

// Diagnosis is the result of a self-examination.
type Diagnosis struct {
	AgentID         string         `json:"agent_id"`
	WindowHours     int            `json:"window_hours"`
	TotalExecutions int            `json:"total_executions"`
	TotalErrors     int            `json:"total_errors"`
	ErrorRate       float64        `json:"error_rate"`
	ErrorsByType    map[string]int `json:"errors_by_type"`
	ErrorsByTool    map[string]int `json:"errors_by_tool"`
	Patterns        []Pattern      `json:"patterns,omitempty"`
	Regression      Regression     `json:"regression"`
	Severity        Severity       `json:"severity"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// HealthReport is the compact health summary exposed to operators and
// the trigger engine's health evaluator.
type HealthReport struct {
	AgentID        string    `json:"agent_id"`
	Executions24h  int       `json:"executions_24h"`
	ErrorRate24h   float64   `json:"error_rate_24h"`
	TrendDegrading bool      `json:"trend_degrading"`
	Severity       Severity  `json:"severity"`
	GeneratedAt    time.Time `json:"generated_at"`
}

// DiagnoseSelf examines the last 72 hours of executions and derives
// error distributions, recurring patterns, regression and severity.
func (e *Engine) DiagnoseSelf(ctx context.Context, agentID string) (*Diagnosis, error) {
	now := time.Now().UTC()
	windowStart := now.Add(-DiagnosisWindowHours * time.Hour)

	executions, err := e.history.GetErrorHistory(ctx, agentID, HistoryFilter{Hours: DiagnosisWindowHours, Limit: 1000})
	if err != nil {
		return nil, fmt.Errorf("failed to load execution history: %w", err)
	}

	d := &Diagnosis{
		AgentID:      agentID,
		WindowHours:  DiagnosisWindowHours,
		ErrorsByType: map[string]int{},
		ErrorsByTool: map[string]int{},
		GeneratedAt:  now,
	}

	type patternKey struct{ tool, msg string }
	occurrences := map[patternKey][]*Execution{}
	for _, exec := range executions {
		d.TotalExecutions++
		if exec.Success {
			continue
		}
		d.TotalErrors++
		d.ErrorsByType[string(recovery.Classify(exec.ErrorMsg))]++
		d.ErrorsByTool[exec.ToolID]++
		key := patternKey{exec.ToolID, exec.ErrorMsg}
		occurrences[key] = append(occurrences[key], exec)
	}
	if d.TotalExecutions > 0 {
		d.ErrorRate = float64(d.TotalErrors) / float64(d.TotalExecutions)
	}

	// Pattern trend by halving the window: more hits in the recent half
	// than the older half means increasing.
	half := windowStart.Add(DiagnosisWindowHours * time.Hour / 2)
	for key, hits := range occurrences {
		if len(hits) < PatternMinOccurrences {
			continue
		}
		recent, older := 0, 0
		first, last := hits[0].ExecutedAt, hits[0].ExecutedAt
		for _, hit := range hits {
			if hit.ExecutedAt.After(half) {
				recent++
			} else {
				older++
			}
			if hit.ExecutedAt.Before(first) {
				first = hit.ExecutedAt
			}
			if hit.ExecutedAt.After(last) {
				last = hit.ExecutedAt
			}
		}
		trend := TrendStable
		if recent > older {
			trend = TrendIncreasing
		} else if recent < older {
			trend = TrendDecreasing
		}
		d.Patterns = append(d.Patterns, Pattern{
			ToolID:       key.tool,
			ErrorMessage: key.msg,
			Occurrences:  len(hits),
			Trend:        trend,
			FirstSeen:    first,
			LastSeen:     last,
		})
	}
	sort.Slice(d.Patterns, func(i, j int) bool {
		if d.Patterns[i].Occurrences != d.Patterns[j].Occurrences {
			return d.Patterns[i].Occurrences > d.Patterns[j].Occurrences
		}
		return d.Patterns[i].ToolID < d.Patterns[j].ToolID
	})

	if reg, err := e.detectRegression(ctx, agentID, now); err == nil {
		d.Regression = reg
	}

	d.Severity = severity(d)
	return d, nil
}

// detectRegression compares the last 24 h success rate against the 7 d
// baseline that precedes it.
func (e *Engine) detectRegression(ctx context.Context, agentID string, now time.Time) (Regression, error) {
	recent, err := e.history.stats(ctx, agentID, now.Add(-24*time.Hour), now)
	if err != nil {
		return Regression{}, err
	}
	baseline, err := e.history.stats(ctx, agentID, now.Add(-7*24*time.Hour), now.Add(-24*time.Hour))
	if err != nil {
		return Regression{}, err
	}
	reg := Regression{
		RecentSuccess:   recent.successRate(),
		BaselineSuccess: baseline.successRate(),
		RecentSamples:   recent.Total,
	}
	reg.Degrading = recent.Total >= RegressionMinSamples &&
		baseline.Total > 0 &&
		baseline.successRate()-recent.successRate() > RegressionDropPoints
	return reg, nil
}

func severity(d *Diagnosis) Severity {
	increasing := 0
	for _, p := range d.Patterns {
		if p.Trend == TrendIncreasing {
			increasing++
		}
	}
	switch {
	case d.ErrorRate >= 0.7:
		return SeverityCritical
	case d.ErrorRate >= 0.5 || increasing >= 3:
		return SeverityHigh
	case d.ErrorRate >= 0.3 || d.Regression.Degrading || increasing >= 1:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// GetHealthReport summarizes the agent's recent health.
func (e *Engine) GetHealthReport(ctx context.Context, agentID string) (*HealthReport, error) {
	now := time.Now().UTC()
	recent, err := e.history.stats(ctx, agentID, now.Add(-24*time.Hour), now)
	if err != nil {
		return nil, err
	}
	reg, err := e.detectRegression(ctx, agentID, now)
	if err != nil {
		return nil, err
	}
	diagnosis, err := e.DiagnoseSelf(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &HealthReport{
		AgentID:        agentID,
		Executions24h:  recent.Total,
		ErrorRate24h:   recent.errorRate(),
		TrendDegrading: reg.Degrading,
		Severity:       diagnosis.Severity,
		GeneratedAt:    now,
	}, nil
}
