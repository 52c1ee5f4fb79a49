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

// Package hierarchy owns agent profiles and the master/sub-agent tree:
// creation under depth/breadth/autonomy caps, inheritance, soft deletion,
// detach-to-master with cascading path rewrites, and tree reconstruction.
package hierarchy

import (
	"strings"
	"time"

	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// AgentType distinguishes root masters from sub-agents.
type AgentType string

const (
	TypeMaster AgentType = "master"
	TypeSub    AgentType = "sub"
)

// Status is an agent's lifecycle state.
type Status string

const (
	StatusInactive Status = "inactive"
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusDeleted  Status = "deleted"
)

// CreatedBy records whether a human or another agent created a profile.
type CreatedBy string

const (
	CreatedByUser    CreatedBy = "user"
	CreatedByAgentic CreatedBy = "agentic"
)

// Skill is one capability an agent advertises, used by the orchestrator's
// reuse scoring.
type Skill struct {
	Name  string `json:"name"`
	Level int    `json:"level"` // 1..5
}

// HeartbeatConfig controls the heartbeat monitor for one agent.
type HeartbeatConfig struct {
	Enabled             bool  `json:"enabled"`
	IntervalMS          int64 `json:"interval_ms"`
	EscalateAfterMisses int   `json:"escalate_after_misses"`
}

// Inheritance flags say what a sub-agent takes from its parent at creation.
type Inheritance struct {
	Team       bool `json:"team"`
	Knowledge  bool `json:"knowledge"`
	Monitoring bool `json:"monitoring"`
	Routing    bool `json:"routing"`
}

// Routing is the model-routing configuration of one agent.
type Routing struct {
	Provider      string  `json:"provider,omitempty"`
	Model         string  `json:"model,omitempty"`
	Temperature   float64 `json:"temperature,omitempty"`
	MaxTokens     int     `json:"max_tokens,omitempty"`
	RoutingPreset string  `json:"routing_preset,omitempty"`
	SystemPrompt  string  `json:"system_prompt,omitempty"`
}

// ChildPolicy bounds an agent's ability to spawn sub-agents.
type ChildPolicy struct {
	CanCreateChildren   bool   `json:"can_create_children"`
	MaxChildren         int    `json:"max_children"`
	MaxHierarchyDepth   int    `json:"max_hierarchy_depth"`
	ChildrenAutonomyCap string `json:"children_autonomy_cap"`
}

// Profile is the persistent identity of one agent.
type Profile struct {
	ID                 string    `json:"id"`
	UserID             string    `json:"user_id"`
	Name               string    `json:"name"`
	Role               string    `json:"role,omitempty"`
	Description        string    `json:"description,omitempty"`
	AgentType          AgentType `json:"agent_type"`
	ParentID           string    `json:"parent_id,omitempty"`
	HierarchyLevel     int       `json:"hierarchy_level"`
	HierarchyPath      string    `json:"hierarchy_path"`
	CreatedByType      CreatedBy `json:"created_by_type"`
	CreatedByAgenticID string    `json:"created_by_agentic_id,omitempty"`

	Inherit Inheritance `json:"inherit"`
	Routing Routing     `json:"routing"`

	AutonomyLevel      string          `json:"autonomy_level"`
	RequireApprovalFor []tool.Category `json:"require_approval_for,omitempty"`

	MasterContactIdentity string   `json:"master_contact_identity,omitempty"`
	MasterContactChannel  string   `json:"master_contact_channel,omitempty"`
	NotifyMasterOn        []string `json:"notify_master_on,omitempty"`

	ChildPolicy ChildPolicy `json:"child_policy"`

	DailyBudget        float64 `json:"daily_budget,omitempty"`
	RateLimitPerMinute int     `json:"rate_limit_per_minute,omitempty"`

	Status    Status          `json:"status"`
	Heartbeat HeartbeatConfig `json:"heartbeat"`
	Skills    []Skill         `json:"skills,omitempty"`

	LastActiveAt time.Time  `json:"last_active_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty"`
}

// Autonomy returns the profile's numeric autonomy tier.
func (p *Profile) Autonomy() permission.Autonomy {
	return permission.ParseAutonomy(p.AutonomyLevel)
}

// IsMaster reports whether this profile is a root master.
func (p *Profile) IsMaster() bool { return p.AgentType == TypeMaster }

// RootMasterID extracts the root master id from the hierarchy path.
func (p *Profile) RootMasterID() string {
	parts := strings.Split(strings.TrimPrefix(p.HierarchyPath, "/"), "/")
	if len(parts) == 0 {
		return p.ID
	}
	return parts[0]
}

// RequiresApproval reports whether the given tool category is in the
// agent's require_approval_for set.
func (p *Profile) RequiresApproval(category tool.Category) bool {
	for _, c := range p.RequireApprovalFor {
		if c == category {
			return true
		}
	}
	return false
}

// SetDefaults fills profile defaults for fields left zero.
func (p *Profile) SetDefaults() {
	if p.AgentType == "" {
		p.AgentType = TypeMaster
	}
	if p.Status == "" {
		p.Status = StatusActive
	}
	if p.AutonomyLevel == "" {
		p.AutonomyLevel = "supervised"
	}
	if p.CreatedByType == "" {
		p.CreatedByType = CreatedByUser
	}
	if p.ChildPolicy.MaxChildren == 0 {
		p.ChildPolicy.MaxChildren = 5
	}
	if p.ChildPolicy.MaxHierarchyDepth == 0 {
		p.ChildPolicy.MaxHierarchyDepth = 3
	}
	if p.ChildPolicy.ChildrenAutonomyCap == "" {
		p.ChildPolicy.ChildrenAutonomyCap = "semi-autonomous"
	}
	if p.Heartbeat.IntervalMS == 0 {
		p.Heartbeat.IntervalMS = 5 * 60 * 1000
	}
	if p.Heartbeat.EscalateAfterMisses == 0 {
		p.Heartbeat.EscalateAfterMisses = 3
	}
}

// Node is one agent in a reconstructed hierarchy tree.
type Node struct {
	Profile  *Profile `json:"profile"`
	Children []*Node  `json:"children,omitempty"`
}

// capAutonomy clamps a requested autonomy label at the parent's cap and
// returns the effective label.
func capAutonomy(requested, cap string) string {
	if permission.ParseAutonomy(requested) > permission.ParseAutonomy(cap) {
		return cap
	}
	return requested
}
