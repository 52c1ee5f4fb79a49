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

package approval

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

const approvalSchema = `
CREATE TABLE IF NOT EXISTS approvals (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    kind VARCHAR(32) NOT NULL,
    description TEXT,
    payload TEXT,
    status VARCHAR(16) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL,
    resolved_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_approvals_agent_status ON approvals(agent_id, status);
`

// SQLStore is the SQL-backed approval Store.
type SQLStore struct {
	db *store.DB
}

// NewSQLStore creates the store and its schema.
func NewSQLStore(db *store.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, approvalSchema); err != nil {
		return nil, fmt.Errorf("failed to create approval schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Create(ctx context.Context, req *Request) (string, error) {
	if req == nil || req.AgentID == "" {
		return "", fmt.Errorf("approval request with agent_id is required")
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	req.Status = StatusPending
	req.CreatedAt = now
	if req.ExpiresAt.IsZero() {
		req.ExpiresAt = now.Add(DefaultTTL)
	}

	payload := ""
	if req.Payload != nil {
		if data, err := json.Marshal(req.Payload); err == nil {
			payload = string(data)
		}
	}

	query := s.db.Rebind(`
INSERT INTO approvals (id, agent_id, user_id, kind, description, payload, status, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		req.ID, req.AgentID, req.UserID, req.Kind, req.Description, payload,
		req.Status, req.CreatedAt, req.ExpiresAt,
	)
	if err != nil {
		return "", fmt.Errorf("failed to insert approval request: %w", err)
	}
	return req.ID, nil
}

func (s *SQLStore) Get(ctx context.Context, id string) (*Request, error) {
	query := s.db.Rebind(`
SELECT id, agent_id, user_id, kind, COALESCE(description, ''), COALESCE(payload, ''), status, created_at, expires_at, resolved_at
FROM approvals WHERE id = ?`)

	var (
		req        Request
		payload    string
		resolvedAt sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&req.ID, &req.AgentID, &req.UserID, &req.Kind, &req.Description, &payload,
		&req.Status, &req.CreatedAt, &req.ExpiresAt, &resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("approval request not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}
	if payload != "" {
		_ = json.Unmarshal([]byte(payload), &req.Payload)
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time
		req.ResolvedAt = &t
	}
	if req.Status == StatusPending && time.Now().UTC().After(req.ExpiresAt) {
		req.Status = StatusExpired
	}
	return &req, nil
}

func (s *SQLStore) Resolve(ctx context.Context, id string, status Status) error {
	if status != StatusApproved && status != StatusRejected {
		return fmt.Errorf("invalid resolution status: %s", status)
	}
	query := s.db.Rebind(`UPDATE approvals SET status = ?, resolved_at = ? WHERE id = ? AND status = ?`)
	res, err := s.db.ExecContext(ctx, query, status, time.Now().UTC(), id, StatusPending)
	if err != nil {
		return fmt.Errorf("failed to resolve approval request: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("approval request not pending: %s", id)
	}
	return nil
}

func (s *SQLStore) ListPending(ctx context.Context, agentID string) ([]*Request, error) {
	query := s.db.Rebind(`
SELECT id, agent_id, user_id, kind, COALESCE(description, ''), COALESCE(payload, ''), status, created_at, expires_at, resolved_at
FROM approvals
WHERE agent_id = ? AND status = ? AND expires_at > ?
ORDER BY created_at`)
	rows, err := s.db.QueryContext(ctx, query, agentID, StatusPending, time.Now().UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", err)
	}
	defer rows.Close()

	var out []*Request
	for rows.Next() {
		var (
			req        Request
			payload    string
			resolvedAt sql.NullTime
		)
		if err := rows.Scan(
			&req.ID, &req.AgentID, &req.UserID, &req.Kind, &req.Description, &payload,
			&req.Status, &req.CreatedAt, &req.ExpiresAt, &resolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		if payload != "" {
			_ = json.Unmarshal([]byte(payload), &req.Payload)
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

var _ Store = (*SQLStore)(nil)
