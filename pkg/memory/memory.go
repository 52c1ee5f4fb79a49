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

// Package memory is the dual-index agent memory: structured rows for
// filters and lifecycle, vector points for semantic search, keyword match
// for exact recall. Hybrid search fuses the vector and keyword rankings
// with reciprocal rank fusion.
package memory

import (
	"context"
	"time"
)

// Type classifies a memory entry.
type Type string

const (
	TypeConversation Type = "conversation"
	TypeTransaction  Type = "transaction"
	TypeDecision     Type = "decision"
	TypeLearning     Type = "learning"
	TypeContext      Type = "context"
	TypePreference   Type = "preference"
	TypeRelationship Type = "relationship"
	TypeEvent        Type = "event"
	TypeReflection   Type = "reflection"
)

// SearchMode selects the index used for a search.
type SearchMode string

const (
	ModeVector  SearchMode = "vector"
	ModeKeyword SearchMode = "keyword"
	ModeHybrid  SearchMode = "hybrid"
)

// RRFK is the reciprocal rank fusion constant.
const RRFK = 60

// Consolidation tuning.
const (
	ConsolidateAfterDays = 30
	MinRecallsForKeep    = 2
	ArchiveImportance    = 0.2
	ArchiveGraceDays     = 7
)

// Entry is one memory row.
type Entry struct {
	ID             string     `json:"id"`
	AgentID        string     `json:"agent_id"`
	UserID         string     `json:"user_id"`
	Type           Type       `json:"memory_type"`
	Content        string     `json:"content"`
	Title          string     `json:"title,omitempty"`
	Summary        string     `json:"summary,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Importance     float64    `json:"importance_score"`
	RecallCount    int        `json:"recall_count"`
	LastRecalledAt *time.Time `json:"last_recalled_at,omitempty"`
	OccurredAt     time.Time  `json:"occurred_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`

	// Vector reference; non-empty VectorID implies a live point in the
	// vector store.
	VectorCollection string `json:"vector_collection,omitempty"`
	VectorID         string `json:"vector_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SearchResult pairs an entry with its fused score.
type SearchResult struct {
	Entry *Entry  `json:"entry"`
	Score float64 `json:"score"`
}

// SearchOptions tunes a search.
type SearchOptions struct {
	Mode          SearchMode `json:"mode,omitempty"`
	Limit         int        `json:"limit,omitempty"`
	MinScore      float64    `json:"min_score,omitempty"`
	Types         []Type     `json:"types,omitempty"`
	MinImportance float64    `json:"min_importance,omitempty"`
}

// ListFilter narrows a list query.
type ListFilter struct {
	Types         []Type  `json:"types,omitempty"`
	MinImportance float64 `json:"min_importance,omitempty"`
	Limit         int     `json:"limit,omitempty"`
	Offset        int     `json:"offset,omitempty"`
}

// Stats summarizes an agent's memory.
type Stats struct {
	Total         int          `json:"total"`
	ByType        map[Type]int `json:"by_type"`
	AvgImportance float64      `json:"avg_importance"`
	Expiring      int          `json:"expiring"`
}

// Embedder computes an embedding for a text. Provided externally.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbedderFunc adapts a function to Embedder.
type EmbedderFunc func(ctx context.Context, text string) ([]float32, error)

func (f EmbedderFunc) Embed(ctx context.Context, text string) ([]float32, error) {
	return f(ctx, text)
}
