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

// Package audit records append-only typed activity rows. Writes never fail
// the caller: persistence errors are logged at debug level and swallowed.
// Audit rows expire after 48 hours; an hourly sweeper deletes them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

// TTL is how long audit rows persist before the sweeper removes them.
const TTL = 48 * time.Hour

// SweepInterval is how often the TTL sweeper runs.
const SweepInterval = time.Hour

// Direction of an audited activity.
type Direction string

const (
	DirInbound  Direction = "INBOUND"
	DirInternal Direction = "INTERNAL"
	DirOutbound Direction = "OUTBOUND"
)

// Category of an audit event. Stored as activity_type = "audit:<category>".
type Category string

const (
	CatIncoming       Category = "incoming"
	CatClassification Category = "classification"
	CatReasoningStart Category = "reasoning_start"
	CatReasoningThink Category = "reasoning_think"
	CatToolCall       Category = "tool_call"
	CatToolResult     Category = "tool_result"
	CatAIRequest      Category = "ai_request"
	CatAIResponse     Category = "ai_response"
	CatLocalAgentIn   Category = "local_agent_in"
	CatLocalAgentOut  Category = "local_agent_out"
	CatOutgoing       Category = "outgoing"
	CatError          Category = "error"
)

var descriptions = map[Category]string{
	CatIncoming:       "Incoming stimulus received",
	CatClassification: "Stimulus classified and routed",
	CatReasoningStart: "Reasoning run started",
	CatReasoningThink: "Reasoning iteration",
	CatToolCall:       "Tool invoked",
	CatToolResult:     "Tool result observed",
	CatAIRequest:      "Model request sent",
	CatAIResponse:     "Model response received",
	CatLocalAgentIn:   "Sub-agent run received",
	CatLocalAgentOut:  "Sub-agent run returned",
	CatOutgoing:       "Outgoing message emitted",
	CatError:          "Error recorded",
}

// Event is one audit row.
type Event struct {
	ID           string         `json:"id"`
	AgentID      string         `json:"agent_id"`
	UserID       string         `json:"user_id"`
	ActivityType string         `json:"activity_type"`
	Description  string         `json:"description"`
	Direction    Direction      `json:"direction"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

const auditSchema = `
CREATE TABLE IF NOT EXISTS activities (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    activity_type VARCHAR(64) NOT NULL,
    description TEXT,
    direction VARCHAR(16) NOT NULL,
    metadata TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_activities_agent ON activities(agent_id, created_at);
CREATE INDEX IF NOT EXISTS idx_activities_type ON activities(activity_type, created_at);
`

// Log is the audit service.
type Log struct {
	db *store.DB

	mu      sync.Mutex
	stopped chan struct{}
	done    chan struct{}
}

// NewLog creates the audit log and its schema.
func NewLog(db *store.DB) (*Log, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, auditSchema); err != nil {
		return nil, fmt.Errorf("failed to create audit schema: %w", err)
	}
	return &Log{db: db}, nil
}

// Record writes one audit event. Never returns an error; failures are
// swallowed after a debug log.
func (l *Log) Record(ctx context.Context, agentID, userID string, category Category, direction Direction, metadata map[string]any) {
	meta := ""
	if metadata != nil {
		if data, err := json.Marshal(metadata); err == nil {
			meta = string(data)
		}
	}

	query := l.db.Rebind(`
INSERT INTO activities (id, agent_id, user_id, activity_type, description, direction, metadata, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := l.db.ExecContext(ctx, query,
		uuid.NewString(), agentID, userID, "audit:"+string(category),
		descriptions[category], direction, meta, time.Now().UTC(),
	)
	if err != nil {
		slog.Debug("Audit write failed", "category", category, "agent", agentID, "error", err)
	}
}

// Recent returns an agent's newest audit events, newest first.
func (l *Log) Recent(ctx context.Context, agentID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := l.db.Rebind(`
SELECT id, agent_id, user_id, activity_type, COALESCE(description, ''), direction, COALESCE(metadata, ''), created_at
FROM activities
WHERE agent_id = ?
ORDER BY created_at DESC
LIMIT ?`)
	rows, err := l.db.QueryContext(ctx, query, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var meta string
		if err := rows.Scan(&e.ID, &e.AgentID, &e.UserID, &e.ActivityType, &e.Description, &e.Direction, &meta, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		if meta != "" {
			_ = json.Unmarshal([]byte(meta), &e.Metadata)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PurgeExpired deletes audit rows older than the TTL. Non-audit activity
// rows are untouched.
func (l *Log) PurgeExpired(ctx context.Context) (int64, error) {
	query := l.db.Rebind(`DELETE FROM activities WHERE activity_type LIKE 'audit:%' AND created_at < ?`)
	res, err := l.db.ExecContext(ctx, query, time.Now().UTC().Add(-TTL))
	if err != nil {
		return 0, fmt.Errorf("failed to purge audit rows: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// StartTTLCleanup launches the hourly sweeper. Safe to call once.
func (l *Log) StartTTLCleanup(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped != nil {
		return
	}
	l.stopped = make(chan struct{})
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopped:
				return
			case <-ticker.C:
				if n, err := l.PurgeExpired(ctx); err != nil {
					slog.Debug("Audit sweep failed", "error", err)
				} else if n > 0 {
					slog.Debug("Audit sweep removed expired rows", "count", n)
				}
			}
		}
	}()
}

// StopTTLCleanup stops the sweeper and waits for it to exit.
func (l *Log) StopTTLCleanup() {
	l.mu.Lock()
	stopped, done := l.stopped, l.done
	l.stopped, l.done = nil, nil
	l.mu.Unlock()
	if stopped == nil {
		return
	}
	close(stopped)
	<-done
}
