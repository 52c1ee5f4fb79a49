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

package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
	"github.com/northpeakmalaysia/swarmai/pkg/vector"
)

const memorySchema = `
CREATE TABLE IF NOT EXISTS memories (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(255) NOT NULL,
    memory_type VARCHAR(32) NOT NULL,
    content TEXT NOT NULL,
    title VARCHAR(512),
    summary TEXT,
    tags TEXT,
    importance REAL NOT NULL,
    recall_count INTEGER NOT NULL,
    last_recalled_at TIMESTAMP,
    occurred_at TIMESTAMP NOT NULL,
    expires_at TIMESTAMP,
    vector_collection VARCHAR(128),
    vector_id VARCHAR(64),
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_expires ON memories(expires_at);
`

const memoryColumns = `id, agent_id, user_id, memory_type, content, title, summary, tags,
    importance, recall_count, last_recalled_at, occurred_at, expires_at,
    vector_collection, vector_id, created_at, updated_at`

// DefaultCollection is the vector collection memories live in.
const DefaultCollection = "agent_memories"

// Service is the memory service over the row store and a vector provider.
type Service struct {
	db       *store.DB
	vectors  vector.Provider
	embedder Embedder
}

// NewService creates the service and its schema. embedder may be nil, in
// which case vector indexing is skipped and searches are keyword-only.
func NewService(db *store.DB, vectors vector.Provider, embedder Embedder) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, memorySchema); err != nil {
		return nil, fmt.Errorf("failed to create memory schema: %w", err)
	}
	return &Service{db: db, vectors: vectors, embedder: embedder}, nil
}

// Create persists a memory entry and indexes its vector.
func (s *Service) Create(ctx context.Context, e *Entry) (*Entry, error) {
	if e == nil || e.AgentID == "" || e.Content == "" {
		return nil, swarmerrors.New(swarmerrors.KindInvalidInput, "memory", "create", "agent_id and content are required")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Type == "" {
		e.Type = TypeContext
	}
	now := time.Now().UTC()
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now
	}
	e.CreatedAt = now
	e.UpdatedAt = now

	if s.vectors != nil && s.embedder != nil {
		if err := s.indexVector(ctx, e); err != nil {
			// Row-only memories still work through keyword search.
			slog.Warn("Failed to index memory vector", "memory", e.ID, "error", err)
			e.VectorCollection = ""
			e.VectorID = ""
		}
	}

	if err := s.insert(ctx, e); err != nil {
		if e.VectorID != "" && s.vectors != nil {
			_ = s.vectors.Delete(ctx, e.VectorCollection, e.VectorID)
		}
		return nil, err
	}
	return e, nil
}

func (s *Service) indexVector(ctx context.Context, e *Entry) error {
	vec, err := s.embedder.Embed(ctx, e.Content)
	if err != nil {
		return err
	}
	e.VectorCollection = DefaultCollection
	e.VectorID = e.ID
	return s.vectors.Upsert(ctx, e.VectorCollection, e.VectorID, vec, map[string]any{
		"content":     e.Content,
		"agent_id":    e.AgentID,
		"memory_type": string(e.Type),
	})
}

// Get loads one entry scoped by owner.
func (s *Service) Get(ctx context.Context, userID, id string) (*Entry, error) {
	query := s.db.Rebind(`SELECT ` + memoryColumns + ` FROM memories WHERE id = ? AND user_id = ?`)
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarmerrors.New(swarmerrors.KindNotFound, "memory", "get", "memory not found: "+id)
	}
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "get", "failed to load memory", err)
	}
	return e, nil
}

// Update rewrites a memory's mutable fields and re-indexes its vector when
// the content changed.
func (s *Service) Update(ctx context.Context, e *Entry) error {
	if e == nil || e.ID == "" {
		return swarmerrors.New(swarmerrors.KindInvalidInput, "memory", "update", "memory id is required")
	}
	existing, err := s.Get(ctx, e.UserID, e.ID)
	if err != nil {
		return err
	}

	if existing.Content != e.Content && s.vectors != nil && s.embedder != nil {
		if err := s.indexVector(ctx, e); err != nil {
			slog.Warn("Failed to re-index memory vector", "memory", e.ID, "error", err)
			e.VectorCollection = existing.VectorCollection
			e.VectorID = existing.VectorID
		}
	} else {
		e.VectorCollection = existing.VectorCollection
		e.VectorID = existing.VectorID
	}

	tags, _ := json.Marshal(e.Tags)
	query := s.db.Rebind(`
UPDATE memories SET memory_type = ?, content = ?, title = ?, summary = ?, tags = ?,
    importance = ?, expires_at = ?, vector_collection = ?, vector_id = ?, updated_at = ?
WHERE id = ? AND user_id = ?`)
	_, err = s.db.ExecContext(ctx, query,
		e.Type, e.Content, e.Title, e.Summary, string(tags),
		e.Importance, e.ExpiresAt, e.VectorCollection, e.VectorID, time.Now().UTC(),
		e.ID, e.UserID,
	)
	if err != nil {
		return swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "update", "failed to update memory", err)
	}
	return nil
}

// Delete removes an entry from both indexes, vector point first so a
// failure can never leave a dangling point behind a deleted row.
func (s *Service) Delete(ctx context.Context, userID, id string) error {
	e, err := s.Get(ctx, userID, id)
	if err != nil {
		return err
	}
	if e.VectorID != "" && s.vectors != nil {
		if err := s.vectors.Delete(ctx, e.VectorCollection, e.VectorID); err != nil {
			return swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "delete", "failed to delete vector point", err)
		}
	}
	query := s.db.Rebind(`DELETE FROM memories WHERE id = ? AND user_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, id, userID); err != nil {
		return swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "delete", "failed to delete memory row", err)
	}
	return nil
}

// List returns an agent's entries under the filter, newest first.
func (s *Service) List(ctx context.Context, userID, agentID string, filter ListFilter) ([]*Entry, error) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ? AND agent_id = ?`)
	args := []any{userID, agentID}

	if len(filter.Types) > 0 {
		sb.WriteString(` AND memory_type IN (` + strings.TrimSuffix(strings.Repeat("?, ", len(filter.Types)), ", ") + `)`)
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if filter.MinImportance > 0 {
		sb.WriteString(` AND importance >= ?`)
		args = append(args, filter.MinImportance)
	}
	sb.WriteString(` ORDER BY occurred_at DESC`)
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	sb.WriteString(` LIMIT ? OFFSET ?`)
	args = append(args, limit, filter.Offset)

	return s.queryEntries(ctx, s.db.Rebind(sb.String()), args...)
}

// Search runs a vector, keyword or hybrid search and records the recall on
// every hit.
func (s *Service) Search(ctx context.Context, userID, agentID, query string, opts SearchOptions) ([]SearchResult, error) {
	if opts.Mode == "" {
		opts.Mode = ModeHybrid
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	var results []SearchResult
	var err error

	switch opts.Mode {
	case ModeVector:
		results, err = s.vectorSearch(ctx, agentID, query, limit, opts)
	case ModeKeyword:
		results, err = s.keywordSearch(ctx, userID, agentID, query, limit, opts)
	case ModeHybrid:
		results, err = s.hybridSearch(ctx, userID, agentID, query, limit, opts)
	default:
		return nil, swarmerrors.New(swarmerrors.KindInvalidInput, "memory", "search", "unknown search mode: "+string(opts.Mode))
	}
	if err != nil {
		return nil, err
	}

	if opts.MinScore > 0 {
		filtered := results[:0]
		for _, r := range results {
			if r.Score >= opts.MinScore {
				filtered = append(filtered, r)
			}
		}
		results = filtered
	}

	for _, r := range results {
		s.recordRecall(ctx, r.Entry.ID)
	}
	return results, nil
}

func (s *Service) vectorSearch(ctx context.Context, agentID, query string, limit int, opts SearchOptions) ([]SearchResult, error) {
	if s.vectors == nil || s.embedder == nil {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindToolError, "memory", "vector_search", "failed to embed query", err)
	}
	hits, err := s.vectors.SearchWithFilter(ctx, DefaultCollection, vec, limit, map[string]any{"agent_id": agentID})
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindToolError, "memory", "vector_search", "vector search failed", err)
	}

	out := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		e, err := s.byID(ctx, hit.ID)
		if err != nil || e == nil {
			continue
		}
		if !matchesOpts(e, opts) {
			continue
		}
		out = append(out, SearchResult{Entry: e, Score: float64(hit.Score)})
	}
	return out, nil
}

func (s *Service) keywordSearch(ctx context.Context, userID, agentID, query string, limit int, opts SearchOptions) ([]SearchResult, error) {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + memoryColumns + ` FROM memories WHERE user_id = ? AND agent_id = ? AND (`)
	args := []any{userID, agentID}
	for i, tok := range tokens {
		if i > 0 {
			sb.WriteString(` OR `)
		}
		sb.WriteString(`LOWER(content) LIKE ? OR LOWER(title) LIKE ?`)
		pattern := "%" + tok + "%"
		args = append(args, pattern, pattern)
	}
	sb.WriteString(`)`)

	candidates, err := s.queryEntries(ctx, s.db.Rebind(sb.String()), args...)
	if err != nil {
		return nil, err
	}

	scored := make([]SearchResult, 0, len(candidates))
	for _, e := range candidates {
		if !matchesOpts(e, opts) {
			continue
		}
		score := keywordScore(e, tokens)
		if score > 0 {
			scored = append(scored, SearchResult{Entry: e, Score: score})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entry.ID < scored[j].Entry.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// hybridSearch fetches both rankings at twice the requested limit and fuses
// them with reciprocal rank fusion.
func (s *Service) hybridSearch(ctx context.Context, userID, agentID, query string, limit int, opts SearchOptions) ([]SearchResult, error) {
	vres, verr := s.vectorSearch(ctx, agentID, query, limit*2, opts)
	kres, kerr := s.keywordSearch(ctx, userID, agentID, query, limit*2, opts)

	if verr != nil && kerr != nil {
		return nil, verr
	}
	if verr != nil || len(vres) == 0 {
		if len(kres) > limit {
			kres = kres[:limit]
		}
		return kres, nil
	}
	if kerr != nil || len(kres) == 0 {
		if len(vres) > limit {
			vres = vres[:limit]
		}
		return vres, nil
	}

	fused := FuseRankings(limit, vres, kres)
	return fused, nil
}

// FuseRankings merges ranked lists with reciprocal rank fusion, k = RRFK.
func FuseRankings(limit int, lists ...[]SearchResult) []SearchResult {
	type fusion struct {
		entry *Entry
		score float64
	}
	byID := make(map[string]*fusion)
	order := make([]string, 0)

	for _, list := range lists {
		for rank, r := range list {
			f, ok := byID[r.Entry.ID]
			if !ok {
				f = &fusion{entry: r.Entry}
				byID[r.Entry.ID] = f
				order = append(order, r.Entry.ID)
			}
			f.score += 1.0 / float64(RRFK+rank+1)
		}
	}

	out := make([]SearchResult, 0, len(byID))
	for _, id := range order {
		f := byID[id]
		out = append(out, SearchResult{Entry: f.entry, Score: f.score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Consolidate adjusts importance on aging entries and schedules archival
// for the unimportant ones.
func (s *Service) Consolidate(ctx context.Context, agentID string) (int, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -ConsolidateAfterDays)
	query := s.db.Rebind(`SELECT ` + memoryColumns + ` FROM memories WHERE agent_id = ? AND created_at < ?`)
	entries, err := s.queryEntries(ctx, query, agentID, cutoff)
	if err != nil {
		return 0, err
	}

	adjusted := 0
	for _, e := range entries {
		importance := e.Importance
		if e.RecallCount >= 2*MinRecallsForKeep {
			importance = min(1.0, importance+0.1)
		} else if e.RecallCount < MinRecallsForKeep {
			importance = max(0.0, importance-0.1)
		}

		var expires *time.Time
		if importance < ArchiveImportance && e.RecallCount < MinRecallsForKeep {
			t := time.Now().UTC().AddDate(0, 0, ArchiveGraceDays)
			expires = &t
		} else {
			expires = e.ExpiresAt
		}

		if importance == e.Importance && expires == e.ExpiresAt {
			continue
		}
		upd := s.db.Rebind(`UPDATE memories SET importance = ?, expires_at = ?, updated_at = ? WHERE id = ?`)
		if _, err := s.db.ExecContext(ctx, upd, importance, expires, time.Now().UTC(), e.ID); err != nil {
			return adjusted, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "consolidate", "failed to adjust memory", err)
		}
		adjusted++
	}
	return adjusted, nil
}

// CleanupExpired removes expired entries from both indexes. agentID may be
// empty to sweep all agents.
func (s *Service) CleanupExpired(ctx context.Context, agentID string) (int, error) {
	var query string
	var args []any
	now := time.Now().UTC()
	if agentID != "" {
		query = s.db.Rebind(`SELECT ` + memoryColumns + ` FROM memories WHERE agent_id = ? AND expires_at IS NOT NULL AND expires_at < ?`)
		args = []any{agentID, now}
	} else {
		query = s.db.Rebind(`SELECT ` + memoryColumns + ` FROM memories WHERE expires_at IS NOT NULL AND expires_at < ?`)
		args = []any{now}
	}
	expired, err := s.queryEntries(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range expired {
		if e.VectorID != "" && s.vectors != nil {
			if err := s.vectors.Delete(ctx, e.VectorCollection, e.VectorID); err != nil {
				slog.Warn("Failed to delete expired memory vector", "memory", e.ID, "error", err)
				continue
			}
		}
		del := s.db.Rebind(`DELETE FROM memories WHERE id = ?`)
		if _, err := s.db.ExecContext(ctx, del, e.ID); err != nil {
			return removed, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "cleanup", "failed to delete expired memory", err)
		}
		removed++
	}
	return removed, nil
}

// GetStats reports counts, type distribution and average importance.
func (s *Service) GetStats(ctx context.Context, agentID string) (*Stats, error) {
	stats := &Stats{ByType: make(map[Type]int)}

	query := s.db.Rebind(`SELECT memory_type, COUNT(*), AVG(importance) FROM memories WHERE agent_id = ? GROUP BY memory_type`)
	rows, err := s.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "stats", "failed to query memory stats", err)
	}
	defer rows.Close()

	var weighted float64
	for rows.Next() {
		var t Type
		var count int
		var avg float64
		if err := rows.Scan(&t, &count, &avg); err != nil {
			return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "stats", "failed to scan memory stats", err)
		}
		stats.ByType[t] = count
		stats.Total += count
		weighted += avg * float64(count)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if stats.Total > 0 {
		stats.AvgImportance = weighted / float64(stats.Total)
	}

	expQuery := s.db.Rebind(`SELECT COUNT(*) FROM memories WHERE agent_id = ? AND expires_at IS NOT NULL`)
	if err := s.db.QueryRowContext(ctx, expQuery, agentID).Scan(&stats.Expiring); err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "stats", "failed to count expiring memories", err)
	}
	return stats, nil
}

func (s *Service) recordRecall(ctx context.Context, id string) {
	query := s.db.Rebind(`UPDATE memories SET recall_count = recall_count + 1, last_recalled_at = ? WHERE id = ?`)
	if _, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id); err != nil {
		slog.Debug("Failed to record memory recall", "memory", id, "error", err)
	}
}

func (s *Service) byID(ctx context.Context, id string) (*Entry, error) {
	query := s.db.Rebind(`SELECT ` + memoryColumns + ` FROM memories WHERE id = ?`)
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (s *Service) insert(ctx context.Context, e *Entry) error {
	tags, _ := json.Marshal(e.Tags)
	query := s.db.Rebind(`
INSERT INTO memories (` + memoryColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		e.ID, e.AgentID, e.UserID, e.Type, e.Content, e.Title, e.Summary, string(tags),
		e.Importance, e.RecallCount, e.LastRecalledAt, e.OccurredAt, e.ExpiresAt,
		e.VectorCollection, e.VectorID, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "insert", "failed to insert memory", err)
	}
	return nil
}

func (s *Service) queryEntries(ctx context.Context, query string, args ...any) ([]*Entry, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "query", "failed to query memories", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "memory", "query", "failed to scan memory", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		e            Entry
		title        sql.NullString
		summary      sql.NullString
		tags         sql.NullString
		lastRecalled sql.NullTime
		expiresAt    sql.NullTime
		vecCol       sql.NullString
		vecID        sql.NullString
	)
	err := row.Scan(
		&e.ID, &e.AgentID, &e.UserID, &e.Type, &e.Content, &title, &summary, &tags,
		&e.Importance, &e.RecallCount, &lastRecalled, &e.OccurredAt, &expiresAt,
		&vecCol, &vecID, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Title = title.String
	e.Summary = summary.String
	e.VectorCollection = vecCol.String
	e.VectorID = vecID.String
	if lastRecalled.Valid {
		t := lastRecalled.Time
		e.LastRecalledAt = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time
		e.ExpiresAt = &t
	}
	if tags.String != "" {
		_ = json.Unmarshal([]byte(tags.String), &e.Tags)
	}
	return &e, nil
}

func matchesOpts(e *Entry, opts SearchOptions) bool {
	if opts.MinImportance > 0 && e.Importance < opts.MinImportance {
		return false
	}
	if len(opts.Types) > 0 {
		found := false
		for _, t := range opts.Types {
			if e.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func keywordScore(e *Entry, tokens []string) float64 {
	content := strings.ToLower(e.Content)
	title := strings.ToLower(e.Title)
	score := 0.0
	for _, tok := range tokens {
		score += float64(strings.Count(content, tok))
		score += 2 * float64(strings.Count(title, tok))
	}
	return score
}
