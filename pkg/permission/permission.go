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

// Package permission gates tool access by autonomy level. Decisions follow
// override > matrix > default-permit: a per-agent override wins outright,
// then the category matrix, and a tool in no category is treated as
// observation and allowed.
package permission

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// Autonomy is the numeric permission tier of an agent.
type Autonomy int

const (
	AutonomySupervised     Autonomy = 1
	AutonomyLow            Autonomy = 2
	AutonomySemiAutonomous Autonomy = 3
	AutonomyHigh           Autonomy = 4
	AutonomyAutonomous     Autonomy = 5
)

// ParseAutonomy maps an autonomy label to its numeric tier. Unknown labels
// fall back to supervised.
func ParseAutonomy(level string) Autonomy {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "supervised":
		return AutonomySupervised
	case "low":
		return AutonomyLow
	case "semi-autonomous", "semi_autonomous":
		return AutonomySemiAutonomous
	case "high":
		return AutonomyHigh
	case "autonomous", "full":
		return AutonomyAutonomous
	default:
		return AutonomySupervised
	}
}

// OverrideMode is a per-agent, per-tool permission override.
type OverrideMode string

const (
	OverrideEnable          OverrideMode = "enable"
	OverrideDisable         OverrideMode = "disable"
	OverrideRequireApproval OverrideMode = "require_approval"
)

// Override is one per-agent tool override row.
type Override struct {
	AgentID string       `json:"agent_id"`
	ToolID  string       `json:"tool_id"`
	Mode    OverrideMode `json:"mode"`

	// RetryConfig is an optional per-tool retry override written by the
	// self-healing engine, JSON-encoded.
	RetryConfig string `json:"retry_config,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// MatrixEntry gates one tool category.
type MatrixEntry struct {
	MinLevel Autonomy `json:"min_level"`

	// ApprovalLevel, when non-zero, allows agents at or above it (but below
	// MinLevel) to execute with an approval record.
	ApprovalLevel Autonomy `json:"approval_level,omitempty"`
}

// Matrix maps tool categories to their autonomy gates.
type Matrix map[tool.Category]MatrixEntry

// DefaultMatrix returns the standard category gates.
func DefaultMatrix() Matrix {
	return Matrix{
		tool.CategoryObservation:          {MinLevel: AutonomySupervised},
		tool.CategoryMemoryRead:           {MinLevel: AutonomySupervised},
		tool.CategoryKnowledgeRead:        {MinLevel: AutonomySupervised},
		tool.CategoryMemoryWrite:          {MinLevel: AutonomyLow},
		tool.CategoryCommunicationRespond: {MinLevel: AutonomyLow, ApprovalLevel: AutonomySupervised},
		tool.CategoryMemoryDelete:         {MinLevel: AutonomySemiAutonomous, ApprovalLevel: AutonomyLow},
		tool.CategoryKnowledgeIngest:      {MinLevel: AutonomySemiAutonomous},
		tool.CategorySelfManagement:       {MinLevel: AutonomySemiAutonomous},
		tool.CategoryCommunicationOut:     {MinLevel: AutonomyHigh, ApprovalLevel: AutonomySemiAutonomous},
		tool.CategorySubagentManage:       {MinLevel: AutonomyHigh, ApprovalLevel: AutonomySemiAutonomous},
		tool.CategorySelfImprovement:      {MinLevel: AutonomyHigh},
		tool.CategorySelfModification:     {MinLevel: AutonomyAutonomous, ApprovalLevel: AutonomyHigh},
	}
}

// Verdict of a permission check.
type Verdict string

const (
	VerdictAllow    Verdict = "allow"
	VerdictApproval Verdict = "approval"
	VerdictDeny     Verdict = "deny"
)

// Decision is a resolved permission check.
type Decision struct {
	Verdict  Verdict       `json:"verdict"`
	Category tool.Category `json:"category"`
	Reason   string        `json:"reason,omitempty"`
}

// OverrideStore persists per-agent tool overrides.
type OverrideStore interface {
	Set(ctx context.Context, o Override) error
	Remove(ctx context.Context, agentID, toolID string) error
	List(ctx context.Context, agentID string) ([]Override, error)

	// ReplaceAll swaps an agent's full override set, used by self-heal
	// rollback.
	ReplaceAll(ctx context.Context, agentID string, overrides []Override) error
}

const overrideCacheTTL = 60 * time.Second

type cachedOverrides struct {
	byTool    map[string]Override
	fetchedAt time.Time
}

// Checker resolves tool permissions against the matrix and override store.
type Checker struct {
	matrix    Matrix
	catalogue *tool.Catalogue
	store     OverrideStore

	mu    sync.Mutex
	cache map[string]cachedOverrides
	now   func() time.Time
}

// NewChecker creates a checker. store may be nil for matrix-only gating.
func NewChecker(matrix Matrix, catalogue *tool.Catalogue, store OverrideStore) *Checker {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	return &Checker{
		matrix:    matrix,
		catalogue: catalogue,
		store:     store,
		cache:     make(map[string]cachedOverrides),
		now:       time.Now,
	}
}

// CanExecute resolves permission for one tool call.
func (c *Checker) CanExecute(ctx context.Context, agentID, toolID string, autonomy Autonomy) Decision {
	category := c.catalogue.CategoryOf(toolID)

	if o, ok := c.override(ctx, agentID, toolID); ok {
		switch o.Mode {
		case OverrideEnable:
			return Decision{Verdict: VerdictAllow, Category: category, Reason: "override: enabled"}
		case OverrideDisable:
			return Decision{Verdict: VerdictDeny, Category: category, Reason: "override: disabled"}
		case OverrideRequireApproval:
			return Decision{Verdict: VerdictApproval, Category: category, Reason: "override: approval required"}
		}
	}

	entry, ok := c.matrix[category]
	if !ok {
		// Unknown category behaves like observation.
		return Decision{Verdict: VerdictAllow, Category: category}
	}
	if autonomy >= entry.MinLevel {
		return Decision{Verdict: VerdictAllow, Category: category}
	}
	if entry.ApprovalLevel > 0 && autonomy >= entry.ApprovalLevel {
		return Decision{Verdict: VerdictApproval, Category: category, Reason: "below category minimum, approval path"}
	}
	return Decision{Verdict: VerdictDeny, Category: category, Reason: "autonomy below category minimum"}
}

// ToolPermission pairs a tool with its resolved decision.
type ToolPermission struct {
	ToolID   string   `json:"tool_id"`
	Decision Decision `json:"decision"`
}

// GetToolPermissions resolves every listed tool for an agent at once.
func (c *Checker) GetToolPermissions(ctx context.Context, agentID string, autonomy Autonomy, toolIDs []string) []ToolPermission {
	out := make([]ToolPermission, 0, len(toolIDs))
	for _, id := range toolIDs {
		out = append(out, ToolPermission{ToolID: id, Decision: c.CanExecute(ctx, agentID, id, autonomy)})
	}
	return out
}

// FilterAllowed returns the subset of toolIDs an agent may see: allowed
// outright or allowed via approval. Denied tools are dropped.
func (c *Checker) FilterAllowed(ctx context.Context, agentID string, autonomy Autonomy, toolIDs []string) []string {
	out := make([]string, 0, len(toolIDs))
	for _, id := range toolIDs {
		if c.CanExecute(ctx, agentID, id, autonomy).Verdict != VerdictDeny {
			out = append(out, id)
		}
	}
	return out
}

// SetOverride writes an override and invalidates the agent's cache entry.
func (c *Checker) SetOverride(ctx context.Context, o Override) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Set(ctx, o); err != nil {
		return err
	}
	c.invalidate(o.AgentID)
	return nil
}

// RemoveOverride deletes an override and invalidates the cache.
func (c *Checker) RemoveOverride(ctx context.Context, agentID, toolID string) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Remove(ctx, agentID, toolID); err != nil {
		return err
	}
	c.invalidate(agentID)
	return nil
}

// Overrides lists an agent's current overrides, bypassing the cache.
func (c *Checker) Overrides(ctx context.Context, agentID string) ([]Override, error) {
	if c.store == nil {
		return nil, nil
	}
	return c.store.List(ctx, agentID)
}

// ReplaceOverrides swaps an agent's override set and invalidates the cache.
func (c *Checker) ReplaceOverrides(ctx context.Context, agentID string, overrides []Override) error {
	if c.store == nil {
		return nil
	}
	if err := c.store.ReplaceAll(ctx, agentID, overrides); err != nil {
		return err
	}
	c.invalidate(agentID)
	return nil
}

// RetryOverride returns the self-heal retry override JSON for a tool, if any.
func (c *Checker) RetryOverride(ctx context.Context, agentID, toolID string) (string, bool) {
	if o, ok := c.override(ctx, agentID, toolID); ok && o.RetryConfig != "" {
		return o.RetryConfig, true
	}
	return "", false
}

func (c *Checker) override(ctx context.Context, agentID, toolID string) (Override, bool) {
	if c.store == nil {
		return Override{}, false
	}

	c.mu.Lock()
	entry, ok := c.cache[agentID]
	fresh := ok && c.now().Sub(entry.fetchedAt) < overrideCacheTTL
	c.mu.Unlock()

	if !fresh {
		list, err := c.store.List(ctx, agentID)
		if err != nil {
			// Stale cache beats no answer; fall through to whatever we had.
			if !ok {
				return Override{}, false
			}
		} else {
			byTool := make(map[string]Override, len(list))
			for _, o := range list {
				byTool[o.ToolID] = o
			}
			entry = cachedOverrides{byTool: byTool, fetchedAt: c.now()}
			c.mu.Lock()
			c.cache[agentID] = entry
			c.mu.Unlock()
		}
	}

	o, found := entry.byTool[toolID]
	return o, found
}

func (c *Checker) invalidate(agentID string) {
	c.mu.Lock()
	delete(c.cache, agentID)
	c.mu.Unlock()
}
