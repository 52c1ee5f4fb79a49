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

package idempotency

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
)

const idempotencySchema = `
CREATE TABLE IF NOT EXISTS idempotency_records (
    idem_key VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(255) NOT NULL,
    tool_id VARCHAR(255) NOT NULL,
    status VARCHAR(16) NOT NULL,
    result TEXT,
    created_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_idempotency_expires ON idempotency_records(expires_at);
`

// SQLStore persists idempotency records in the shared SQL store.
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
	if _, err := db.ExecContext(ctx, idempotencySchema); err != nil {
		return nil, fmt.Errorf("failed to create idempotency schema: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func (s *SQLStore) Get(ctx context.Context, key string) (*Record, error) {
	query := s.db.Rebind(`
SELECT idem_key, agent_id, tool_id, status, COALESCE(result, ''), created_at, expires_at
FROM idempotency_records WHERE idem_key = ? AND expires_at > ?`)

	var rec Record
	err := s.db.QueryRowContext(ctx, query, key, time.Now().UTC()).Scan(
		&rec.Key, &rec.AgentID, &rec.ToolID, &rec.Status, &rec.Result,
		&rec.CreatedAt, &rec.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load idempotency record: %w", err)
	}
	return &rec, nil
}

func (s *SQLStore) PutPending(ctx context.Context, rec *Record) error {
	return s.db.InTx(ctx, func(tx *sql.Tx) error {
		now := time.Now().UTC()
		del := s.db.Rebind(`DELETE FROM idempotency_records WHERE idem_key = ? AND expires_at <= ?`)
		if _, err := tx.ExecContext(ctx, del, rec.Key, now); err != nil {
			return fmt.Errorf("failed to clear expired record: %w", err)
		}

		check := s.db.Rebind(`SELECT status FROM idempotency_records WHERE idem_key = ?`)
		var status string
		switch err := tx.QueryRowContext(ctx, check, rec.Key).Scan(&status); {
		case err == nil:
			return ErrDuplicate
		case !errors.Is(err, sql.ErrNoRows):
			return fmt.Errorf("failed to check idempotency record: %w", err)
		}

		ins := s.db.Rebind(`
INSERT INTO idempotency_records (idem_key, agent_id, tool_id, status, result, created_at, expires_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, ins,
			rec.Key, rec.AgentID, rec.ToolID, rec.Status, rec.Result,
			rec.CreatedAt, rec.ExpiresAt,
		); err != nil {
			// The primary key rejects the insert only when a concurrent
			// caller claimed the key between the check and here.
			return fmt.Errorf("%w: %v", ErrDuplicate, err)
		}
		return nil
	})
}

func (s *SQLStore) Complete(ctx context.Context, key, result string) error {
	query := s.db.Rebind(`UPDATE idempotency_records SET status = ?, result = ? WHERE idem_key = ?`)
	if _, err := s.db.ExecContext(ctx, query, StatusCompleted, result, key); err != nil {
		return fmt.Errorf("failed to complete idempotency record: %w", err)
	}
	return nil
}

func (s *SQLStore) DeleteExpired(ctx context.Context) (int64, error) {
	query := s.db.Rebind(`DELETE FROM idempotency_records WHERE expires_at <= ?`)
	res, err := s.db.ExecContext(ctx, query, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired idempotency records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var _ Store = (*SQLStore)(nil)
