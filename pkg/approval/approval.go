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

// Package approval is the opaque approval store the core enqueues into.
// Resolution happens externally and is eventually consistent: callers poll
// status or check it on their next pass.
package approval

import (
	"context"
	"time"
)

// Status of an approval request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusExpired  Status = "expired"
)

// DefaultTTL is how long a pending request stays actionable.
const DefaultTTL = 24 * time.Hour

// Request is one approval record.
type Request struct {
	ID          string         `json:"id"`
	AgentID     string         `json:"agent_id"`
	UserID      string         `json:"user_id"`
	Kind        string         `json:"kind"` // tool_call, self_heal, self_prompt
	Description string         `json:"description"`
	Payload     map[string]any `json:"payload,omitempty"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	ResolvedAt  *time.Time     `json:"resolved_at,omitempty"`
}

// Store persists approval requests.
type Store interface {
	// Create enqueues a pending request and returns its id.
	Create(ctx context.Context, req *Request) (string, error)

	// Get returns a request; expired pending requests report StatusExpired.
	Get(ctx context.Context, id string) (*Request, error)

	// Resolve marks a pending request approved or rejected.
	Resolve(ctx context.Context, id string, status Status) error

	// ListPending lists an agent's unexpired pending requests.
	ListPending(ctx context.Context, agentID string) ([]*Request, error)
}
