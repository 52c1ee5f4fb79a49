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
	"sort"
	"sync"
	"time"
)

// MemoryOverrideStore is an in-process OverrideStore for tests and
// store-less deployments.
type MemoryOverrideStore struct {
	mu   sync.RWMutex
	data map[string]map[string]Override
}

func NewMemoryOverrideStore() *MemoryOverrideStore {
	return &MemoryOverrideStore{data: make(map[string]map[string]Override)}
}

func (s *MemoryOverrideStore) Set(_ context.Context, o Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[o.AgentID] == nil {
		s.data[o.AgentID] = make(map[string]Override)
	}
	o.UpdatedAt = time.Now().UTC()
	s.data[o.AgentID][o.ToolID] = o
	return nil
}

func (s *MemoryOverrideStore) Remove(_ context.Context, agentID, toolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[agentID], toolID)
	return nil
}

func (s *MemoryOverrideStore) List(_ context.Context, agentID string) ([]Override, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Override, 0, len(s.data[agentID]))
	for _, o := range s.data[agentID] {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ToolID < out[j].ToolID })
	return out, nil
}

func (s *MemoryOverrideStore) ReplaceAll(_ context.Context, agentID string, overrides []Override) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]Override, len(overrides))
	now := time.Now().UTC()
	for _, o := range overrides {
		o.AgentID = agentID
		o.UpdatedAt = now
		next[o.ToolID] = o
	}
	s.data[agentID] = next
	return nil
}

var _ OverrideStore = (*MemoryOverrideStore)(nil)
