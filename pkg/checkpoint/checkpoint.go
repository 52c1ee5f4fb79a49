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

// Package checkpoint persists mid-run reasoning state so a crashed or
// interrupted run can resume at the last fully-executed action. At most one
// active checkpoint exists per agent; saving replaces the previous active
// row atomically.
package checkpoint

import (
	"context"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/model"
)

// TTL is the lifetime of a checkpoint; expired rows are unusable.
const TTL = time.Hour

// Status of a checkpoint.
type Status string

const (
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// State is one reasoning run's resumable snapshot.
type State struct {
	ID             string               `json:"id"`
	AgentID        string               `json:"agent_id"`
	Trigger        string               `json:"trigger"`
	TriggerContext map[string]any       `json:"trigger_context,omitempty"`
	Iteration      int                  `json:"iteration"`
	Messages       []model.Message      `json:"messages"`
	Actions        []model.ActionRecord `json:"actions"`
	TokensUsed     int                  `json:"tokens_used"`
	Tier           string               `json:"tier,omitempty"`
	PlanID         string               `json:"plan_id,omitempty"`
	Status         Status               `json:"status"`
	CreatedAt      time.Time            `json:"created_at"`
	UpdatedAt      time.Time            `json:"updated_at"`
	ExpiresAt      time.Time            `json:"expires_at"`
}

// Stats summarizes checkpoint rows.
type Stats struct {
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Expired   int `json:"expired"`
}

// Service saves, loads and sweeps checkpoints.
type Service interface {
	// Save persists state as the agent's single active checkpoint,
	// deleting the previous active row in the same transaction.
	Save(ctx context.Context, state *State) error

	// Load returns the most recently updated unexpired active checkpoint
	// for an agent, or nil.
	Load(ctx context.Context, agentID string) (*State, error)

	// Complete marks the agent's active checkpoint completed.
	Complete(ctx context.Context, agentID string) error

	// Fail marks the agent's active checkpoint failed.
	Fail(ctx context.Context, agentID string) error

	// CleanupExpired removes all rows past their expiry.
	CleanupExpired(ctx context.Context) (int64, error)

	// GetStats reports row counts by status.
	GetStats(ctx context.Context) (*Stats, error)
}
