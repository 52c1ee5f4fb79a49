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

// Package selfheal watches an agent's tool execution history, diagnoses
// recurring failures and applies (or proposes) configuration fixes with
// backup and rollback.
package selfheal

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

const historySchema = `
CREATE TABLE IF NOT EXISTS tool_executions (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    tool_id VARCHAR(128) NOT NULL,
    success BOOLEAN NOT NULL,
    error_message TEXT,
    strategy VARCHAR(32),
    attempts INTEGER NOT NULL DEFAULT 1,
    duration_ms BIGINT NOT NULL DEFAULT 0,
    executed_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_tool_executions_agent_time ON tool_executions(agent_id, executed_at);
CREATE INDEX IF NOT EXISTS idx_tool_executions_agent_tool ON tool_executions(agent_id, tool_id);
`

// Execution is one recorded tool execution.
type Execution struct {
	ID         string    `json:"id"`
	AgentID    string    `json:"agent_id"`
	ToolID     string    `json:"tool_id"`
	Success    bool      `json:"success"`
	ErrorMsg   string    `json:"error,omitempty"`
	Strategy   string    `json:"strategy,omitempty"`
	Attempts   int       `json:"attempts"`
	DurationMS int64     `json:"duration_ms"`
	ExecutedAt time.Time `json:"executed_at"`
}

// HistoryFilter narrows history queries.
type HistoryFilter struct {
	Hours      int
	Limit      int
	ToolID     string
	OnlyErrors bool
}

// History is the durable tool execution log feeding diagnosis. It also
// implements runtime.ExecutionRecorder.
type History struct {
	db *store.DB
}

// NewHistory creates the history store and its schema.
func NewHistory(db *store.DB) (*History, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, historySchema); err != nil {
		return nil, fmt.Errorf("failed to create execution history schema: %w", err)
	}
	return &History{db: db}, nil
}

// RecordExecution appends one execution fact. Best-effort: failures are
// logged and never surface into the run.
func (h *History) RecordExecution(ctx context.Context, rec runtime.ExecutionRecord) {
	executedAt := rec.ExecutedAt
	if executedAt.IsZero() {
		executedAt = time.Now().UTC()
	}
	attempts := rec.Attempts
	if attempts < 1 {
		attempts = 1
	}
	query := h.db.Rebind(`
INSERT INTO tool_executions (id, agent_id, tool_id, success, error_message, strategy, attempts, duration_ms, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := h.db.ExecContext(ctx, query,
		uuid.NewString(), rec.AgentID, rec.ToolID, rec.Success, rec.ErrorMsg,
		rec.Strategy, attempts, rec.Duration.Milliseconds(), executedAt,
	)
	if err != nil {
		slog.Debug("Failed to record tool execution", "agent", rec.AgentID, "tool", rec.ToolID, "error", err)
	}
}

// GetErrorHistory returns executions matching the filter, newest first.
func (h *History) GetErrorHistory(ctx context.Context, agentID string, f HistoryFilter) ([]*Execution, error) {
	if f.Hours <= 0 {
		f.Hours = 72
	}
	if f.Limit <= 0 {
		f.Limit = 100
	}
	query := `
SELECT id, agent_id, tool_id, success, COALESCE(error_message, ''), COALESCE(strategy, ''), attempts, duration_ms, executed_at
FROM tool_executions
WHERE agent_id = ? AND executed_at > ?`
	args := []any{agentID, time.Now().UTC().Add(-time.Duration(f.Hours) * time.Hour)}
	if f.ToolID != "" {
		query += ` AND tool_id = ?`
		args = append(args, f.ToolID)
	}
	if f.OnlyErrors {
		query += ` AND success = ?`
		args = append(args, false)
	}
	query += ` ORDER BY executed_at DESC LIMIT ` + fmt.Sprintf("%d", f.Limit)

	rows, err := h.db.QueryContext(ctx, h.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution history: %w", err)
	}
	defer rows.Close()

	var out []*Execution
	for rows.Next() {
		var e Execution
		if err := rows.Scan(
			&e.ID, &e.AgentID, &e.ToolID, &e.Success, &e.ErrorMsg,
			&e.Strategy, &e.Attempts, &e.DurationMS, &e.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// windowStats aggregates success/failure counts inside a window.
type windowStats struct {
	Total    int
	Failures int
}

func (w windowStats) errorRate() float64 {
	if w.Total == 0 {
		return 0
	}
	return float64(w.Failures) / float64(w.Total)
}

func (w windowStats) successRate() float64 {
	if w.Total == 0 {
		return 0
	}
	return 1 - w.errorRate()
}

// stats counts executions between from (exclusive) and to (inclusive).
func (h *History) stats(ctx context.Context, agentID string, from, to time.Time) (windowStats, error) {
	query := h.db.Rebind(`
SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0)
FROM tool_executions
WHERE agent_id = ? AND executed_at > ? AND executed_at <= ?`)
	var w windowStats
	if err := h.db.QueryRowContext(ctx, query, agentID, from, to).Scan(&w.Total, &w.Failures); err != nil {
		return w, fmt.Errorf("failed to aggregate executions: %w", err)
	}
	return w, nil
}
