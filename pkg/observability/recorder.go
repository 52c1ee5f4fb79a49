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

package observability

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	globalMetrics Metrics
	metricsMu     sync.RWMutex
)

// Metrics records the core's operational measurements.
type Metrics interface {
	RecordRun(ctx context.Context, trigger string, duration time.Duration, tokens int, err error)
	RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error)
	RecordSelfPrompt(ctx context.Context, triggerType string)
	RecordDeferred(ctx context.Context)
}

// PrometheusMetrics implements Metrics on otel instruments. The zero
// value is a no-op.
type PrometheusMetrics struct {
	runDuration   metric.Float64Histogram
	runsTotal     metric.Int64Counter
	runErrors     metric.Int64Counter
	runTokens     metric.Int64Counter
	toolDuration  metric.Float64Histogram
	toolCalls     metric.Int64Counter
	toolErrors    metric.Int64Counter
	promptsTotal  metric.Int64Counter
	deferredTotal metric.Int64Counter
}

func NewPrometheusMetrics(
	runDuration metric.Float64Histogram,
	runsTotal metric.Int64Counter,
	runErrors metric.Int64Counter,
	runTokens metric.Int64Counter,
	toolDuration metric.Float64Histogram,
	toolCalls metric.Int64Counter,
	toolErrors metric.Int64Counter,
	promptsTotal metric.Int64Counter,
	deferredTotal metric.Int64Counter,
) *PrometheusMetrics {
	return &PrometheusMetrics{
		runDuration:   runDuration,
		runsTotal:     runsTotal,
		runErrors:     runErrors,
		runTokens:     runTokens,
		toolDuration:  toolDuration,
		toolCalls:     toolCalls,
		toolErrors:    toolErrors,
		promptsTotal:  promptsTotal,
		deferredTotal: deferredTotal,
	}
}

func (m *PrometheusMetrics) RecordRun(ctx context.Context, trigger string, duration time.Duration, tokens int, err error) {
	if m == nil || m.runDuration == nil || m.runsTotal == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("trigger", trigger),
	}
	m.runDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.runsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	if tokens > 0 && m.runTokens != nil {
		m.runTokens.Add(ctx, int64(tokens), metric.WithAttributes(attrs...))
	}
	if err != nil && m.runErrors != nil {
		m.runErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordToolExecution(ctx context.Context, tool string, duration time.Duration, err error) {
	if m == nil || m.toolDuration == nil || m.toolCalls == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String("tool", tool),
	}
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
	m.toolCalls.Add(ctx, 1, metric.WithAttributes(attrs...))
	if err != nil && m.toolErrors != nil {
		m.toolErrors.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (m *PrometheusMetrics) RecordSelfPrompt(ctx context.Context, triggerType string) {
	if m == nil || m.promptsTotal == nil {
		return
	}
	m.promptsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("trigger_type", triggerType)))
}

func (m *PrometheusMetrics) RecordDeferred(ctx context.Context) {
	if m == nil || m.deferredTotal == nil {
		return
	}
	m.deferredTotal.Add(ctx, 1)
}

// SetGlobalMetrics installs the process-wide recorder.
func SetGlobalMetrics(m Metrics) {
	metricsMu.Lock()
	defer metricsMu.Unlock()
	globalMetrics = m
}

// GetGlobalMetrics returns the process-wide recorder, possibly nil.
func GetGlobalMetrics() Metrics {
	metricsMu.RLock()
	defer metricsMu.RUnlock()
	return globalMetrics
}
