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
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store, used in tests and single-node setups
// without a database.
type MemoryStore struct {
	mu       sync.Mutex
	requests map[string]*Request
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{requests: make(map[string]*Request)}
}

func (s *MemoryStore) Create(ctx context.Context, req *Request) (string, error) {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	s.requests[req.ID] = &cp
	return req.ID, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[id]
	if !ok {
		return nil, fmt.Errorf("approval request not found: %s", id)
	}
	cp := *req
	if cp.Status == StatusPending && time.Now().UTC().After(cp.ExpiresAt) {
		cp.Status = StatusExpired
	}
	return &cp, nil
}

func (s *MemoryStore) Resolve(ctx context.Context, id string, status Status) error {
	if status != StatusApproved && status != StatusRejected {
		return fmt.Errorf("invalid resolution status: %s", status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok || req.Status != StatusPending {
		return fmt.Errorf("approval request not pending: %s", id)
	}
	now := time.Now().UTC()
	req.Status = status
	req.ResolvedAt = &now
	return nil
}

func (s *MemoryStore) ListPending(ctx context.Context, agentID string) ([]*Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	var out []*Request
	for _, req := range s.requests {
		if req.AgentID != agentID || req.Status != StatusPending || !req.ExpiresAt.After(now) {
			continue
		}
		cp := *req
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
