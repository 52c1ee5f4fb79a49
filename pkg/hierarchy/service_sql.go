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

package hierarchy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/swarmerrors"
)

const profileSchema = `
CREATE TABLE IF NOT EXISTS agent_profiles (
    id VARCHAR(64) PRIMARY KEY,
    user_id VARCHAR(255) NOT NULL,
    name VARCHAR(255) NOT NULL,
    role VARCHAR(255),
    description TEXT,
    agent_type VARCHAR(16) NOT NULL,
    parent_id VARCHAR(64),
    hierarchy_level INTEGER NOT NULL,
    hierarchy_path VARCHAR(1024) NOT NULL,
    created_by_type VARCHAR(16) NOT NULL,
    created_by_agentic_id VARCHAR(64),
    inherit_team BOOLEAN NOT NULL,
    inherit_knowledge BOOLEAN NOT NULL,
    inherit_monitoring BOOLEAN NOT NULL,
    inherit_routing BOOLEAN NOT NULL,
    ai_provider VARCHAR(64),
    ai_model VARCHAR(128),
    temperature REAL,
    max_tokens INTEGER,
    routing_preset VARCHAR(64),
    system_prompt TEXT,
    autonomy_level VARCHAR(32) NOT NULL,
    require_approval_for TEXT,
    master_contact_identity VARCHAR(255),
    master_contact_channel VARCHAR(64),
    notify_master_on TEXT,
    can_create_children BOOLEAN NOT NULL,
    max_children INTEGER NOT NULL,
    max_hierarchy_depth INTEGER NOT NULL,
    children_autonomy_cap VARCHAR(32) NOT NULL,
    daily_budget REAL,
    rate_limit_per_minute INTEGER,
    status VARCHAR(16) NOT NULL,
    heartbeat_enabled BOOLEAN NOT NULL,
    heartbeat_interval_ms BIGINT NOT NULL,
    escalate_after_misses INTEGER NOT NULL,
    skills TEXT,
    last_active_at TIMESTAMP,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    terminated_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_profiles_user ON agent_profiles(user_id, status);
CREATE INDEX IF NOT EXISTS idx_profiles_parent ON agent_profiles(parent_id);
CREATE INDEX IF NOT EXISTS idx_profiles_path ON agent_profiles(hierarchy_path);
`

const profileColumns = `id, user_id, name, role, description, agent_type, parent_id, hierarchy_level,
    hierarchy_path, created_by_type, created_by_agentic_id,
    inherit_team, inherit_knowledge, inherit_monitoring, inherit_routing,
    ai_provider, ai_model, temperature, max_tokens, routing_preset, system_prompt,
    autonomy_level, require_approval_for, master_contact_identity, master_contact_channel, notify_master_on,
    can_create_children, max_children, max_hierarchy_depth, children_autonomy_cap,
    daily_budget, rate_limit_per_minute, status,
    heartbeat_enabled, heartbeat_interval_ms, escalate_after_misses, skills,
    last_active_at, created_at, updated_at, terminated_at`

// Service is the SQL-backed hierarchy service.
type Service struct {
	db *store.DB
}

// NewService creates the service and its schema.
func NewService(db *store.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, profileSchema); err != nil {
		return nil, fmt.Errorf("failed to create agent profile schema: %w", err)
	}
	return &Service{db: db}, nil
}

// CreateProfile creates a root master profile.
func (s *Service) CreateProfile(ctx context.Context, p *Profile) (*Profile, error) {
	if p == nil || p.UserID == "" || p.Name == "" {
		return nil, swarmerrors.New(swarmerrors.KindInvalidInput, "hierarchy", "create_profile", "user_id and name are required")
	}
	p.SetDefaults()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.AgentType = TypeMaster
	p.ParentID = ""
	p.HierarchyLevel = 0
	p.HierarchyPath = "/" + p.ID

	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	if err := s.insert(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateSubAgent creates a child of parentID, enforcing the depth, breadth
// and autonomy invariants and applying inheritance.
func (s *Service) CreateSubAgent(ctx context.Context, userID, parentID string, child *Profile) (*Profile, error) {
	if child == nil || child.Name == "" {
		return nil, swarmerrors.New(swarmerrors.KindInvalidInput, "hierarchy", "create_sub_agent", "child name is required")
	}

	parent, err := s.GetProfile(ctx, userID, parentID)
	if err != nil {
		return nil, err
	}
	if parent.Status == StatusDeleted {
		return nil, swarmerrors.New(swarmerrors.KindNotFound, "hierarchy", "create_sub_agent", "parent agent is deleted")
	}
	if !parent.ChildPolicy.CanCreateChildren {
		return nil, swarmerrors.New(swarmerrors.KindPolicyViolation, "hierarchy", "create_sub_agent", "parent may not create children")
	}
	if parent.HierarchyLevel+1 > parent.ChildPolicy.MaxHierarchyDepth {
		return nil, swarmerrors.New(swarmerrors.KindPolicyViolation, "hierarchy", "create_sub_agent", "maximum hierarchy depth reached")
	}
	liveChildren, err := s.CountChildren(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if liveChildren >= parent.ChildPolicy.MaxChildren {
		return nil, swarmerrors.New(swarmerrors.KindPolicyViolation, "hierarchy", "create_sub_agent", "maximum children reached")
	}

	child.SetDefaults()
	if child.ID == "" {
		child.ID = uuid.NewString()
	}
	child.UserID = parent.UserID
	child.AgentType = TypeSub
	child.ParentID = parent.ID
	child.HierarchyLevel = parent.HierarchyLevel + 1
	child.HierarchyPath = parent.HierarchyPath + "/" + child.ID
	child.AutonomyLevel = capAutonomy(child.AutonomyLevel, parent.ChildPolicy.ChildrenAutonomyCap)
	if child.ChildPolicy.MaxHierarchyDepth > parent.ChildPolicy.MaxHierarchyDepth {
		child.ChildPolicy.MaxHierarchyDepth = parent.ChildPolicy.MaxHierarchyDepth
	}

	if child.Inherit.Routing {
		if child.Routing.Provider == "" {
			child.Routing.Provider = parent.Routing.Provider
		}
		if child.Routing.Model == "" {
			child.Routing.Model = parent.Routing.Model
		}
		if child.Routing.RoutingPreset == "" {
			child.Routing.RoutingPreset = parent.Routing.RoutingPreset
		}
	}
	if child.Inherit.Monitoring && !child.Heartbeat.Enabled {
		child.Heartbeat = parent.Heartbeat
	}

	now := time.Now().UTC()
	child.CreatedAt = now
	child.UpdatedAt = now

	if err := s.insert(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// GetProfile loads one profile scoped by owner.
func (s *Service) GetProfile(ctx context.Context, userID, id string) (*Profile, error) {
	query := s.db.Rebind(`SELECT ` + profileColumns + ` FROM agent_profiles WHERE id = ? AND user_id = ?`)
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarmerrors.New(swarmerrors.KindNotFound, "hierarchy", "get_profile", "agent not found: "+id)
	}
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "get_profile", "failed to load agent", err)
	}
	return p, nil
}

// Get loads a profile without owner scoping, for internal engines.
func (s *Service) Get(ctx context.Context, id string) (*Profile, error) {
	query := s.db.Rebind(`SELECT ` + profileColumns + ` FROM agent_profiles WHERE id = ?`)
	p, err := scanProfile(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, swarmerrors.New(swarmerrors.KindNotFound, "hierarchy", "get", "agent not found: "+id)
	}
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "get", "failed to load agent", err)
	}
	return p, nil
}

// ListProfiles lists an owner's non-deleted profiles.
func (s *Service) ListProfiles(ctx context.Context, userID string) ([]*Profile, error) {
	query := s.db.Rebind(`SELECT ` + profileColumns + ` FROM agent_profiles WHERE user_id = ? AND status != ? ORDER BY created_at`)
	return s.queryProfiles(ctx, query, userID, StatusDeleted)
}

// ListByStatus lists every profile in the given statuses across all users,
// for the trigger and heartbeat engines.
func (s *Service) ListByStatus(ctx context.Context, statuses ...Status) ([]*Profile, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusActive}
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	query := s.db.Rebind(`SELECT ` + profileColumns + ` FROM agent_profiles WHERE status IN (` + placeholders + `) ORDER BY created_at`)
	args := make([]any, len(statuses))
	for i, st := range statuses {
		args[i] = st
	}
	return s.queryProfiles(ctx, query, args...)
}

// ListChildren lists an agent's live children.
func (s *Service) ListChildren(ctx context.Context, parentID string) ([]*Profile, error) {
	query := s.db.Rebind(`SELECT ` + profileColumns + ` FROM agent_profiles WHERE parent_id = ? AND status != ? ORDER BY created_at`)
	return s.queryProfiles(ctx, query, parentID, StatusDeleted)
}

// CountChildren counts an agent's live children.
func (s *Service) CountChildren(ctx context.Context, parentID string) (int, error) {
	query := s.db.Rebind(`SELECT COUNT(*) FROM agent_profiles WHERE parent_id = ? AND status != ?`)
	var n int
	if err := s.db.QueryRowContext(ctx, query, parentID, StatusDeleted).Scan(&n); err != nil {
		return 0, swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "count_children", "failed to count children", err)
	}
	return n, nil
}

// UpdateProfile persists mutable fields of a profile. Contact and
// notification scope fields are writable only on masters.
func (s *Service) UpdateProfile(ctx context.Context, p *Profile) error {
	if p == nil || p.ID == "" {
		return swarmerrors.New(swarmerrors.KindInvalidInput, "hierarchy", "update_profile", "profile id is required")
	}
	existing, err := s.GetProfile(ctx, p.UserID, p.ID)
	if err != nil {
		return err
	}
	if existing.AgentType == TypeSub {
		if p.MasterContactIdentity != existing.MasterContactIdentity ||
			p.MasterContactChannel != existing.MasterContactChannel ||
			!equalStrings(p.NotifyMasterOn, existing.NotifyMasterOn) {
			return swarmerrors.New(swarmerrors.KindPolicyViolation, "hierarchy", "update_profile", "contact fields are writable only on master agents")
		}
	}

	requireApproval, _ := json.Marshal(p.RequireApprovalFor)
	notifyOn, _ := json.Marshal(p.NotifyMasterOn)
	skills, _ := json.Marshal(p.Skills)

	query := s.db.Rebind(`
UPDATE agent_profiles SET
    name = ?, role = ?, description = ?,
    ai_provider = ?, ai_model = ?, temperature = ?, max_tokens = ?, routing_preset = ?, system_prompt = ?,
    autonomy_level = ?, require_approval_for = ?,
    master_contact_identity = ?, master_contact_channel = ?, notify_master_on = ?,
    can_create_children = ?, max_children = ?, max_hierarchy_depth = ?, children_autonomy_cap = ?,
    daily_budget = ?, rate_limit_per_minute = ?, status = ?,
    heartbeat_enabled = ?, heartbeat_interval_ms = ?, escalate_after_misses = ?, skills = ?,
    updated_at = ?
WHERE id = ? AND user_id = ?`)

	_, err = s.db.ExecContext(ctx, query,
		p.Name, p.Role, p.Description,
		p.Routing.Provider, p.Routing.Model, p.Routing.Temperature, p.Routing.MaxTokens, p.Routing.RoutingPreset, p.Routing.SystemPrompt,
		p.AutonomyLevel, string(requireApproval),
		p.MasterContactIdentity, p.MasterContactChannel, string(notifyOn),
		p.ChildPolicy.CanCreateChildren, p.ChildPolicy.MaxChildren, p.ChildPolicy.MaxHierarchyDepth, p.ChildPolicy.ChildrenAutonomyCap,
		p.DailyBudget, p.RateLimitPerMinute, p.Status,
		p.Heartbeat.Enabled, p.Heartbeat.IntervalMS, p.Heartbeat.EscalateAfterMisses, string(skills),
		time.Now().UTC(), p.ID, p.UserID,
	)
	if err != nil {
		return swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "update_profile", "failed to update agent", err)
	}
	return nil
}

// TouchLastActive records activity for the idle-detection trigger.
func (s *Service) TouchLastActive(ctx context.Context, id string) error {
	query := s.db.Rebind(`UPDATE agent_profiles SET last_active_at = ? WHERE id = ?`)
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC(), id)
	return err
}

// DeleteProfile soft-deletes a profile.
func (s *Service) DeleteProfile(ctx context.Context, userID, id string) error {
	now := time.Now().UTC()
	query := s.db.Rebind(`UPDATE agent_profiles SET status = ?, terminated_at = ?, updated_at = ? WHERE id = ? AND user_id = ?`)
	res, err := s.db.ExecContext(ctx, query, StatusDeleted, now, now, id, userID)
	if err != nil {
		return swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "delete_profile", "failed to delete agent", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return swarmerrors.New(swarmerrors.KindNotFound, "hierarchy", "delete_profile", "agent not found: "+id)
	}
	return nil
}

// DetachFromParent promotes a sub-agent to master and rewrites every
// descendant's hierarchy path under the new root.
func (s *Service) DetachFromParent(ctx context.Context, userID, id string) (*Profile, error) {
	p, err := s.GetProfile(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if p.IsMaster() {
		return p, nil
	}

	p.AgentType = TypeMaster
	p.ParentID = ""
	p.HierarchyLevel = 0
	p.HierarchyPath = "/" + p.ID

	query := s.db.Rebind(`
UPDATE agent_profiles SET agent_type = ?, parent_id = NULL, hierarchy_level = 0, hierarchy_path = ?, updated_at = ?
WHERE id = ? AND user_id = ?`)
	if _, err := s.db.ExecContext(ctx, query, TypeMaster, p.HierarchyPath, time.Now().UTC(), id, userID); err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "detach", "failed to promote agent", err)
	}

	// Replayable: rerunning after a partial failure rewrites the remainder.
	if err := s.UpdateChildrenPaths(ctx, id, p.HierarchyPath); err != nil {
		return nil, err
	}
	return p, nil
}

// UpdateChildrenPaths rewrites descendant paths depth-first after a move or
// detach. newPrefix is the parent's path after the change; each child's new
// path derives from it and the child's id.
func (s *Service) UpdateChildrenPaths(ctx context.Context, parentID, newPrefix string) error {
	children, err := s.ListChildren(ctx, parentID)
	if err != nil {
		return err
	}
	for _, child := range children {
		newChildPath := newPrefix + "/" + child.ID
		newLevel := strings.Count(newChildPath, "/") - 1

		query := s.db.Rebind(`UPDATE agent_profiles SET hierarchy_path = ?, hierarchy_level = ?, updated_at = ? WHERE id = ?`)
		if _, err := s.db.ExecContext(ctx, query, newChildPath, newLevel, time.Now().UTC(), child.ID); err != nil {
			return swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "update_children_paths", "failed to rewrite path for "+child.ID, err)
		}
		if err := s.UpdateChildrenPaths(ctx, child.ID, newChildPath); err != nil {
			return err
		}
	}
	return nil
}

// GetHierarchy returns the full tree containing the given agent, rooted at
// its master.
func (s *Service) GetHierarchy(ctx context.Context, userID, id string) (*Node, error) {
	p, err := s.GetProfile(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	rootID := p.RootMasterID()
	root, err := s.GetProfile(ctx, userID, rootID)
	if err != nil {
		return nil, err
	}

	query := s.db.Rebind(`SELECT ` + profileColumns + ` FROM agent_profiles WHERE user_id = ? AND status != ? AND (id = ? OR hierarchy_path LIKE ?) ORDER BY hierarchy_level, created_at`)
	all, err := s.queryProfiles(ctx, query, userID, StatusDeleted, rootID, root.HierarchyPath+"/%")
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node, len(all))
	for _, prof := range all {
		nodes[prof.ID] = &Node{Profile: prof}
	}
	var rootNode *Node
	for _, n := range nodes {
		if n.Profile.ID == rootID {
			rootNode = n
			continue
		}
		if parent, ok := nodes[n.Profile.ParentID]; ok {
			parent.Children = append(parent.Children, n)
		}
	}
	if rootNode == nil {
		return nil, swarmerrors.New(swarmerrors.KindNotFound, "hierarchy", "get_hierarchy", "root master not found: "+rootID)
	}
	sortTree(rootNode)
	return rootNode, nil
}

func sortTree(n *Node) {
	sort.Slice(n.Children, func(i, j int) bool {
		return n.Children[i].Profile.CreatedAt.Before(n.Children[j].Profile.CreatedAt)
	})
	for _, c := range n.Children {
		sortTree(c)
	}
}

func (s *Service) insert(ctx context.Context, p *Profile) error {
	requireApproval, _ := json.Marshal(p.RequireApprovalFor)
	notifyOn, _ := json.Marshal(p.NotifyMasterOn)
	skills, _ := json.Marshal(p.Skills)

	var parentID any
	if p.ParentID != "" {
		parentID = p.ParentID
	}

	query := s.db.Rebind(`
INSERT INTO agent_profiles (` + profileColumns + `)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, query,
		p.ID, p.UserID, p.Name, p.Role, p.Description, p.AgentType, parentID, p.HierarchyLevel,
		p.HierarchyPath, p.CreatedByType, p.CreatedByAgenticID,
		p.Inherit.Team, p.Inherit.Knowledge, p.Inherit.Monitoring, p.Inherit.Routing,
		p.Routing.Provider, p.Routing.Model, p.Routing.Temperature, p.Routing.MaxTokens, p.Routing.RoutingPreset, p.Routing.SystemPrompt,
		p.AutonomyLevel, string(requireApproval), p.MasterContactIdentity, p.MasterContactChannel, string(notifyOn),
		p.ChildPolicy.CanCreateChildren, p.ChildPolicy.MaxChildren, p.ChildPolicy.MaxHierarchyDepth, p.ChildPolicy.ChildrenAutonomyCap,
		p.DailyBudget, p.RateLimitPerMinute, p.Status,
		p.Heartbeat.Enabled, p.Heartbeat.IntervalMS, p.Heartbeat.EscalateAfterMisses, string(skills),
		nullableTime(p.LastActiveAt), p.CreatedAt, p.UpdatedAt, p.TerminatedAt,
	)
	if err != nil {
		return swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "insert", "failed to insert agent profile", err)
	}
	return nil
}

func (s *Service) queryProfiles(ctx context.Context, query string, args ...any) ([]*Profile, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "query", "failed to query agent profiles", err)
	}
	defer rows.Close()

	var out []*Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, swarmerrors.Wrap(swarmerrors.KindPersistence, "hierarchy", "query", "failed to scan agent profile", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*Profile, error) {
	var (
		p               Profile
		role            sql.NullString
		description     sql.NullString
		parentID        sql.NullString
		createdByAgID   sql.NullString
		provider        sql.NullString
		modelName       sql.NullString
		temperature     sql.NullFloat64
		maxTokens       sql.NullInt64
		routingPreset   sql.NullString
		systemPrompt    sql.NullString
		requireApproval sql.NullString
		contactIdentity sql.NullString
		contactChannel  sql.NullString
		notifyOn        sql.NullString
		dailyBudget     sql.NullFloat64
		rateLimit       sql.NullInt64
		skills          sql.NullString
		lastActive      sql.NullTime
		terminatedAt    sql.NullTime
	)

	err := row.Scan(
		&p.ID, &p.UserID, &p.Name, &role, &description, &p.AgentType, &parentID, &p.HierarchyLevel,
		&p.HierarchyPath, &p.CreatedByType, &createdByAgID,
		&p.Inherit.Team, &p.Inherit.Knowledge, &p.Inherit.Monitoring, &p.Inherit.Routing,
		&provider, &modelName, &temperature, &maxTokens, &routingPreset, &systemPrompt,
		&p.AutonomyLevel, &requireApproval, &contactIdentity, &contactChannel, &notifyOn,
		&p.ChildPolicy.CanCreateChildren, &p.ChildPolicy.MaxChildren, &p.ChildPolicy.MaxHierarchyDepth, &p.ChildPolicy.ChildrenAutonomyCap,
		&dailyBudget, &rateLimit, &p.Status,
		&p.Heartbeat.Enabled, &p.Heartbeat.IntervalMS, &p.Heartbeat.EscalateAfterMisses, &skills,
		&lastActive, &p.CreatedAt, &p.UpdatedAt, &terminatedAt,
	)
	if err != nil {
		return nil, err
	}

	p.Role = role.String
	p.Description = description.String
	p.ParentID = parentID.String
	p.CreatedByAgenticID = createdByAgID.String
	p.Routing.Provider = provider.String
	p.Routing.Model = modelName.String
	p.Routing.Temperature = temperature.Float64
	p.Routing.MaxTokens = int(maxTokens.Int64)
	p.Routing.RoutingPreset = routingPreset.String
	p.Routing.SystemPrompt = systemPrompt.String
	p.MasterContactIdentity = contactIdentity.String
	p.MasterContactChannel = contactChannel.String
	p.DailyBudget = dailyBudget.Float64
	p.RateLimitPerMinute = int(rateLimit.Int64)
	if lastActive.Valid {
		p.LastActiveAt = lastActive.Time
	}
	if terminatedAt.Valid {
		t := terminatedAt.Time
		p.TerminatedAt = &t
	}

	if requireApproval.String != "" {
		_ = json.Unmarshal([]byte(requireApproval.String), &p.RequireApprovalFor)
	}
	if notifyOn.String != "" {
		_ = json.Unmarshal([]byte(notifyOn.String), &p.NotifyMasterOn)
	}
	if skills.String != "" {
		_ = json.Unmarshal([]byte(skills.String), &p.Skills)
	}
	return &p, nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
