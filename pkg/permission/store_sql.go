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

package permission

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

const overrideSchema = `
CREATE TABLE IF NOT EXISTS tool_overrides (
    agent_id VARCHAR(255) NOT NULL,
    tool_id VARCHAR(255) NOT NULL,
    mode VARCHAR(32) NOT NULL,
    retry_config TEXT,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (agent_id, tool_id)
);
`

// SQLOverrideStore is the SQL-backed OverrideStore.
type SQLOverrideStore struct {
	db *store.DB
}

// NewSQLOverrideStore creates the store and its schema.
func NewSQLOverrideStore(db *store.DB) (*SQLOverrideStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, overrideSchema); err != nil {
		return nil, fmt.Errorf("failed to create tool override schema: %w", err)
	}
	return &SQLOverrideStore{db: db}, nil
}

func (s *SQLOverrideStore) Set(ctx context.Context, o Override) error {
	if o.AgentID == "" || o.ToolID == "" {
		return fmt.Errorf("agent_id and tool_id are required")
	}
	now := time.Now().UTC()
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		del := s.db.Rebind(`DELETE FROM tool_overrides WHERE agent_id = ? AND tool_id = ?`)
		if _, err := tx.ExecContext(ctx, del, o.AgentID, o.ToolID); err != nil {
			return fmt.Errorf("failed to clear tool override: %w", err)
		}
		ins := s.db.Rebind(`INSERT INTO tool_overrides (agent_id, tool_id, mode, retry_config, updated_at) VALUES (?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, ins, o.AgentID, o.ToolID, o.Mode, o.RetryConfig, now); err != nil {
			return fmt.Errorf("failed to insert tool override: %w", err)
		}
		return nil
	})
}

func (s *SQLOverrideStore) Remove(ctx context.Context, agentID, toolID string) error {
	query := s.db.Rebind(`DELETE FROM tool_overrides WHERE agent_id = ? AND tool_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, agentID, toolID); err != nil {
		return fmt.Errorf("failed to remove tool override: %w", err)
	}
	return nil
}

func (s *SQLOverrideStore) List(ctx context.Context, agentID string) ([]Override, error) {
	query := s.db.Rebind(`
SELECT agent_id, tool_id, mode, COALESCE(retry_config, ''), updated_at
FROM tool_overrides
WHERE agent_id = ?
ORDER BY tool_id`)
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tool overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.AgentID, &o.ToolID, &o.Mode, &o.RetryConfig, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan tool override: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *SQLOverrideStore) ReplaceAll(ctx context.Context, agentID string, overrides []Override) error {
	now := time.Now().UTC()
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		del := s.db.Rebind(`DELETE FROM tool_overrides WHERE agent_id = ?`)
		if _, err := tx.ExecContext(ctx, del, agentID); err != nil {
			return fmt.Errorf("failed to clear tool overrides: %w", err)
		}
		ins := s.db.Rebind(`INSERT INTO tool_overrides (agent_id, tool_id, mode, retry_config, updated_at) VALUES (?, ?, ?, ?, ?)`)
		for _, o := range overrides {
			if _, err := tx.ExecContext(ctx, ins, agentID, o.ToolID, o.Mode, o.RetryConfig, now); err != nil {
				return fmt.Errorf("failed to insert tool override: %w", err)
			}
		}
		return nil
	})
}

var _ OverrideStore = (*SQLOverrideStore)(nil)
