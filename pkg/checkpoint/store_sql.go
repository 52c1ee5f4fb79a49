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

package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/model"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

const checkpointSchema = `
CREATE TABLE IF NOT EXISTS checkpoints (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(255) NOT NULL,
    trigger_kind VARCHAR(64) NOT NULL,
    trigger_context TEXT,
    iteration INTEGER NOT NULL,
    messages TEXT,
    actions TEXT,
    tokens_used INTEGER NOT NULL,
    tier VARCHAR(32),
    plan_id VARCHAR(64),
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_agent_status ON checkpoints(agent_id, status);
CREATE INDEX IF NOT EXISTS idx_checkpoints_expires ON checkpoints(expires_at);
`

// SQLService is the SQL-backed checkpoint Service.
type SQLService struct {
	db *store.DB
}

// NewSQLService creates the service and its schema.
func NewSQLService(db *store.DB) (*SQLService, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, checkpointSchema); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint schema: %w", err)
	}
	return &SQLService{db: db}, nil
}

func (s *SQLService) Save(ctx context.Context, state *State) error {
	if state == nil || state.AgentID == "" {
		return fmt.Errorf("checkpoint state with agent_id is required")
	}

	now := time.Now().UTC()
	if state.ID == "" {
		state.ID = uuid.NewString()
	}
	if state.CreatedAt.IsZero() {
		state.CreatedAt = now
	}
	state.UpdatedAt = now
	state.ExpiresAt = state.CreatedAt.Add(TTL)
	state.Status = StatusActive

	triggerCtx, err := json.Marshal(state.TriggerContext)
	if err != nil {
		return fmt.Errorf("failed to encode trigger context: %w", err)
	}
	messages, err := json.Marshal(state.Messages)
	if err != nil {
		return fmt.Errorf("failed to encode messages: %w", err)
	}
	actions, err := json.Marshal(state.Actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		del := s.db.Rebind(`DELETE FROM checkpoints WHERE agent_id = ? AND status = ?`)
		if _, err := tx.ExecContext(ctx, del, state.AgentID, StatusActive); err != nil {
			return fmt.Errorf("failed to delete previous active checkpoint: %w", err)
		}

		ins := s.db.Rebind(`
INSERT INTO checkpoints (id, agent_id, trigger_kind, trigger_context, iteration, messages, actions,
    tokens_used, tier, plan_id, status, created_at, updated_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, ins,
			state.ID, state.AgentID, state.Trigger, string(triggerCtx), state.Iteration,
			string(messages), string(actions), state.TokensUsed, state.Tier, state.PlanID,
			state.Status, state.CreatedAt, state.UpdatedAt, state.ExpiresAt,
		); err != nil {
			return fmt.Errorf("failed to insert checkpoint: %w", err)
		}
		return nil
	})
}

func (s *SQLService) Load(ctx context.Context, agentID string) (*State, error) {
	query := s.db.Rebind(`
SELECT id, agent_id, trigger_kind, trigger_context, iteration, messages, actions,
    tokens_used, COALESCE(tier, ''), COALESCE(plan_id, ''), status, created_at, updated_at, expires_at
FROM checkpoints
WHERE agent_id = ? AND status = ? AND expires_at > ?
ORDER BY updated_at DESC
LIMIT 1`)

	var (
		state      State
		triggerCtx string
		messages   string
		actions    string
	)
	err := s.db.QueryRowContext(ctx, query, agentID, StatusActive, time.Now().UTC()).Scan(
		&state.ID, &state.AgentID, &state.Trigger, &triggerCtx, &state.Iteration,
		&messages, &actions, &state.TokensUsed, &state.Tier, &state.PlanID,
		&state.Status, &state.CreatedAt, &state.UpdatedAt, &state.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	if triggerCtx != "" {
		if err := json.Unmarshal([]byte(triggerCtx), &state.TriggerContext); err != nil {
			return nil, fmt.Errorf("failed to decode trigger context: %w", err)
		}
	}
	if messages != "" {
		if err := json.Unmarshal([]byte(messages), &state.Messages); err != nil {
			return nil, fmt.Errorf("failed to decode messages: %w", err)
		}
	}
	if actions != "" {
		if err := json.Unmarshal([]byte(actions), &state.Actions); err != nil {
			return nil, fmt.Errorf("failed to decode actions: %w", err)
		}
	}
	if state.Actions == nil {
		state.Actions = []model.ActionRecord{}
	}
	return &state, nil
}

func (s *SQLService) Complete(ctx context.Context, agentID string) error {
	return s.mark(ctx, agentID, StatusCompleted)
}

func (s *SQLService) Fail(ctx context.Context, agentID string) error {
	return s.mark(ctx, agentID, StatusFailed)
}

func (s *SQLService) mark(ctx context.Context, agentID string, to Status) error {
	query := s.db.Rebind(`UPDATE checkpoints SET status = ?, updated_at = ? WHERE agent_id = ? AND status = ?`)
	if _, err := s.db.ExecContext(ctx, query, to, time.Now().UTC(), agentID, StatusActive); err != nil {
		return fmt.Errorf("failed to mark checkpoint %s: %w", to, err)
	}
	return nil
}

func (s *SQLService) CleanupExpired(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`DELETE FROM checkpoints WHERE expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired checkpoints: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *SQLService) GetStats(ctx context.Context) (*Stats, error) {
	query := s.db.Rebind(`SELECT status, COUNT(*) FROM checkpoints GROUP BY status`)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count checkpoints: %w", err)
	}
	defer rows.Close()

	stats := &Stats{}
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan checkpoint stats: %w", err)
		}
		switch status {
		case StatusActive:
			stats.Active = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
	}
	return stats, rows.Err()
}

var _ Service = (*SQLService)(nil)
