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

package trigger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

const promptSchema = `
CREATE TABLE IF NOT EXISTS self_prompts (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    trigger_type VARCHAR(32) NOT NULL,
    trigger_context TEXT,
    suggested_action VARCHAR(64) NOT NULL,
    confidence REAL NOT NULL,
    status VARCHAR(16) NOT NULL,
    approval_required BOOLEAN NOT NULL DEFAULT FALSE,
    result TEXT,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    executed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_self_prompts_agent_status ON self_prompts(agent_id, status);
CREATE INDEX IF NOT EXISTS idx_self_prompts_agent_created ON self_prompts(agent_id, created_at);

CREATE TABLE IF NOT EXISTS agent_trigger_configs (
    agent_id VARCHAR(64) PRIMARY KEY,
    config TEXT NOT NULL,
    updated_at TIMESTAMP NOT NULL
);
`

const promptColumns = `id, agent_id, user_id, trigger_type, COALESCE(trigger_context, ''), suggested_action, confidence, status, approval_required, COALESCE(result, ''), created_at, expires_at, executed_at`

// Store persists self-prompts and per-agent trigger configs.
type Store struct {
	db *store.DB
}

// NewStore creates the store and its schema.
func NewStore(db *store.DB) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, promptSchema); err != nil {
		return nil, fmt.Errorf("failed to create trigger schema: %w", err)
	}
	return &Store{db: db}, nil
}

// CreatePrompt inserts a prompt, filling id and timestamps.
func (s *Store) CreatePrompt(ctx context.Context, p *Prompt) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	if p.ExpiresAt.IsZero() {
		p.ExpiresAt = p.CreatedAt.Add(PromptTTL)
	}

	contextJSON := ""
	if p.TriggerContext != nil {
		if data, err := json.Marshal(p.TriggerContext); err == nil {
			contextJSON = string(data)
		}
	}

	query := s.db.Rebind(`
INSERT INTO self_prompts (id, agent_id, user_id, trigger_type, trigger_context, suggested_action, confidence, status, approval_required, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.AgentID, p.UserID, p.TriggerType, contextJSON, p.SuggestedAction,
		p.Confidence, p.Status, p.ApprovalRequired, p.CreatedAt, p.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert self prompt: %w", err)
	}
	return nil
}

// GetPrompt loads one prompt. Expired pending prompts report expired.
func (s *Store) GetPrompt(ctx context.Context, id string) (*Prompt, error) {
	query := s.db.Rebind(`SELECT ` + promptColumns + ` FROM self_prompts WHERE id = ?`)
	p, err := scanPrompt(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("self prompt not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load self prompt: %w", err)
	}
	if p.Status == PromptPending && time.Now().UTC().After(p.ExpiresAt) {
		p.Status = PromptExpired
	}
	return p, nil
}

// ListPending returns actionable pending prompts for an agent.
func (s *Store) ListPending(ctx context.Context, agentID string) ([]*Prompt, error) {
	query := s.db.Rebind(`
SELECT ` + promptColumns + ` FROM self_prompts
WHERE agent_id = ? AND status = ? AND expires_at > ?
ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, agentID, PromptPending, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending prompts: %w", err)
	}
	defer rows.Close()

	var out []*Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan self prompt: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateStatus transitions a prompt, guarding the expected current state.
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to PromptStatus, result string) error {
	var executedAt any
	if to == PromptExecuted || to == PromptExecuting {
		executedAt = time.Now().UTC()
	}
	query := s.db.Rebind(`UPDATE self_prompts SET status = ?, result = ?, executed_at = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query, to, result, executedAt, id, from)
	if err != nil {
		return fmt.Errorf("failed to update self prompt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("self prompt %s is not %s", id, from)
	}
	return nil
}

// CountRecent returns how many prompts the agent accrued in the window.
func (s *Store) CountRecent(ctx context.Context, agentID string, window time.Duration) (int, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM self_prompts WHERE agent_id = ? AND created_at > ?`)
	var n int
	err := s.db.QueryRowContext(ctx, query, agentID, time.Now().UTC().Add(-window)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count recent prompts: %w", err)
	}
	return n, nil
}

// ExpirePending marks pending prompts past their expiry. Returns the
// number expired.
func (s *Store) ExpirePending(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`UPDATE self_prompts SET status = ? WHERE status = ? AND expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, PromptExpired, PromptPending, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to expire prompts: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// GetConfig loads an agent's trigger config, defaults when absent.
func (s *Store) GetConfig(ctx context.Context, agentID string) (*AgentConfig, error) {
	query := s.db.Rebind(`SELECT config FROM agent_trigger_configs WHERE agent_id = ?`)
	var raw string
	err := s.db.QueryRowContext(ctx, query, agentID).Scan(&raw)
	cfg := &AgentConfig{}
	if err == nil {
		if uerr := json.Unmarshal([]byte(raw), cfg); uerr != nil {
			return nil, fmt.Errorf("failed to decode trigger config: %w", uerr)
		}
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to load trigger config: %w", err)
	}
	cfg.SetDefaults()
	return cfg, nil
}

// SetConfig upserts an agent's trigger config.
func (s *Store) SetConfig(ctx context.Context, agentID string, cfg *AgentConfig) error {
	cfg.SetDefaults()
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode trigger config: %w", err)
	}
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		del := s.db.Rebind(`DELETE FROM agent_trigger_configs WHERE agent_id = ?`)
		if _, err := tx.ExecContext(ctx, del, agentID); err != nil {
			return err
		}
		ins := s.db.Rebind(`INSERT INTO agent_trigger_configs (agent_id, config, updated_at) VALUES (?, ?, ?)`)
		_, err := tx.ExecContext(ctx, ins, agentID, string(data), time.Now().UTC())
		return err
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (*Prompt, error) {
	var (
		p           Prompt
		contextJSON string
		executedAt  sql.NullTime
	)
	if err := row.Scan(
		&p.ID, &p.AgentID, &p.UserID, &p.TriggerType, &contextJSON, &p.SuggestedAction,
		&p.Confidence, &p.Status, &p.ApprovalRequired, &p.Result, &p.CreatedAt, &p.ExpiresAt, &executedAt,
	); err != nil {
		return nil, err
	}
	if contextJSON != "" {
		_ = json.Unmarshal([]byte(contextJSON), &p.TriggerContext)
	}
	if executedAt.Valid {
		t := executedAt.Time
		p.ExecutedAt = &t
	}
	return &p, nil
}
