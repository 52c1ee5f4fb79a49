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
	"fmt"

	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// MetricsConfig controls the Prometheus metric pipeline.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	Port    int  `yaml:"port" mapstructure:"port"`
}

// InitMetrics builds the meter provider and the core instruments.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (*PrometheusMetrics, error) {
	if !cfg.Enabled {
		return &PrometheusMetrics{}, nil
	}

	promExporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
	)

	meter := meterProvider.Meter("swarmai")

	runDuration, err := meter.Float64Histogram(
		"swarmai_run_duration_seconds",
		metric.WithDescription("Reasoning run duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run duration histogram: %w", err)
	}

	runsTotal, err := meter.Int64Counter(
		"swarmai_runs_total",
		metric.WithDescription("Total reasoning runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create runs counter: %w", err)
	}

	runErrors, err := meter.Int64Counter(
		"swarmai_run_errors_total",
		metric.WithDescription("Total failed reasoning runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run errors counter: %w", err)
	}

	runTokens, err := meter.Int64Counter(
		"swarmai_run_tokens_used_total",
		metric.WithDescription("Total tokens consumed by reasoning runs"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create run tokens counter: %w", err)
	}

	toolDuration, err := meter.Float64Histogram(
		"swarmai_tool_execution_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool duration histogram: %w", err)
	}

	toolCalls, err := meter.Int64Counter(
		"swarmai_tool_calls_total",
		metric.WithDescription("Total tool calls"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool calls counter: %w", err)
	}

	toolErrors, err := meter.Int64Counter(
		"swarmai_tool_errors_total",
		metric.WithDescription("Total tool errors"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool errors counter: %w", err)
	}

	promptsTotal, err := meter.Int64Counter(
		"swarmai_self_prompts_total",
		metric.WithDescription("Total self prompts synthesized"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create self prompts counter: %w", err)
	}

	deferredTotal, err := meter.Int64Counter(
		"swarmai_deferred_runs_total",
		metric.WithDescription("Total runs deferred at guard capacity"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create deferred runs counter: %w", err)
	}

	return NewPrometheusMetrics(
		runDuration,
		runsTotal,
		runErrors,
		runTokens,
		toolDuration,
		toolCalls,
		toolErrors,
		promptsTotal,
		deferredTotal,
	), nil
}
