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

package selfheal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/northpeakmalaysia/swarmai/pkg/approval"
	"github.com/northpeakmalaysia/swarmai/pkg/hierarchy"
	"github.com/northpeakmalaysia/swarmai/pkg/notify"
	"github.com/northpeakmalaysia/swarmai/pkg/permission"
	"github.com/northpeakmalaysia/swarmai/pkg/recovery"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

// SelfTestMaxErrorRate: a healing self-test passes below this rate.
const SelfTestMaxErrorRate = 0.5

// FixType identifies what a fix changes.
type FixType string

const (
	FixToolConfig      FixType = "tool_config"
	FixRetryConfig     FixType = "retry_config"
	FixSystemPrompt    FixType = "system_prompt"
	FixSkillAdjustment FixType = "skill_adjustment"
	FixProviderSwitch  FixType = "provider_switch"
)

// Fix is one proposed remediation.
type Fix struct {
	Type        FixType        `json:"type"`
	ToolID      string         `json:"tool_id,omitempty"`
	Description string         `json:"description"`
	AutoFixable bool           `json:"auto_fixable"`
	Payload     map[string]any `json:"payload,omitempty"`
}

// State of a healing instance.
type State string

const (
	StateDetected         State = "detected"
	StateAnalyzing        State = "analyzing"
	StateProposingFix     State = "proposing_fix"
	StateAwaitingApproval State = "awaiting_approval"
	StateBackingUp        State = "backing_up"
	StateApplyingFix      State = "applying_fix"
	StateTesting          State = "testing"
	StateCompleted        State = "completed"
	StateRolledBack       State = "rolled_back"
	StateEscalated        State = "escalated"
	StateFailed           State = "failed"
)

// Healing is one recorded healing instance.
type Healing struct {
	ID         string     `json:"id"`
	AgentID    string     `json:"agent_id"`
	Severity   Severity   `json:"severity"`
	State      State      `json:"state"`
	Diagnosis  *Diagnosis `json:"diagnosis,omitempty"`
	Fix        *Fix       `json:"fix,omitempty"`
	BackupID   string     `json:"backup_id,omitempty"`
	ApprovalID string     `json:"approval_id,omitempty"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Backup is a config snapshot taken before applying a fix.
type Backup struct {
	ID                 string                `json:"id"`
	AgentID            string                `json:"agent_id"`
	SystemPrompt       string                `json:"system_prompt"`
	Provider           string                `json:"ai_provider"`
	Model              string                `json:"ai_model"`
	Temperature        float64               `json:"temperature"`
	AutonomyLevel      string                `json:"autonomy_level"`
	RequireApprovalFor []string              `json:"require_approval_for"`
	NotifyMasterOn     []string              `json:"notify_master_on"`
	Overrides          []permission.Override `json:"tool_overrides"`
	CreatedAt          time.Time             `json:"created_at"`
}

const healingSchema = `
CREATE TABLE IF NOT EXISTS healing_log (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    severity VARCHAR(16) NOT NULL,
    state VARCHAR(32) NOT NULL,
    diagnosis TEXT,
    fix TEXT,
    backup_id VARCHAR(64),
    approval_id VARCHAR(64),
    error_message TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_healing_log_agent ON healing_log(agent_id, created_at);

CREATE TABLE IF NOT EXISTS config_backups (
    id VARCHAR(64) PRIMARY KEY,
    agent_id VARCHAR(64) NOT NULL,
    snapshot TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
`

// Engine drives diagnosis and the healing state machine.
type Engine struct {
	db          *store.DB
	history     *History
	profiles    *hierarchy.Service
	permissions *permission.Checker
	approvals   approval.Store
	notifier    *notify.Service
}

// NewEngine creates the engine and its schema. approvals and notifier
// may be nil; high and critical findings then only log.
func NewEngine(db *store.DB, history *History, profiles *hierarchy.Service, permissions *permission.Checker, approvals approval.Store, notifier *notify.Service) (*Engine, error) {
	if db == nil || history == nil || profiles == nil || permissions == nil {
		return nil, fmt.Errorf("db, history, profiles and permissions are required")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := db.ExecContext(ctx, healingSchema); err != nil {
		return nil, fmt.Errorf("failed to create healing schema: %w", err)
	}
	return &Engine{
		db:          db,
		history:     history,
		profiles:    profiles,
		permissions: permissions,
		approvals:   approvals,
		notifier:    notifier,
	}, nil
}

// ProposeFix derives candidate fixes from a diagnosis, least invasive
// first: a transient failure pattern gets a raised retry budget before
// the worst tool is disabled outright.
func (e *Engine) ProposeFix(d *Diagnosis) []Fix {
	var fixes []Fix

	retryTypes := map[string]bool{"NETWORK": true, "TIMEOUT": true, "RATE_LIMIT": true}
	for _, p := range d.Patterns {
		if retryTypes[string(recovery.Classify(p.ErrorMessage))] {
			fixes = append(fixes, Fix{
				Type:        FixRetryConfig,
				ToolID:      p.ToolID,
				Description: fmt.Sprintf("raise retry budget for %s against transient failures", p.ToolID),
				AutoFixable: true,
				Payload:     map[string]any{"maxRetries": 3, "delayMs": 5000, "backoffMultiplier": 2},
			})
			break
		}
	}

	worstTool, worstCount := "", 0
	type toolCount struct {
		tool  string
		count int
	}
	counts := make([]toolCount, 0, len(d.ErrorsByTool))
	for tool, count := range d.ErrorsByTool {
		counts = append(counts, toolCount{tool, count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].count != counts[j].count {
			return counts[i].count > counts[j].count
		}
		return counts[i].tool < counts[j].tool
	})
	if len(counts) > 0 {
		worstTool, worstCount = counts[0].tool, counts[0].count
	}

	if worstTool != "" && worstCount >= PatternMinOccurrences {
		fixes = append(fixes, Fix{
			Type:        FixToolConfig,
			ToolID:      worstTool,
			Description: fmt.Sprintf("disable tool %s after %d recent failures", worstTool, worstCount),
			AutoFixable: true,
		})
	}

	if len(d.Patterns) > 0 {
		p := d.Patterns[0]
		fixes = append(fixes, Fix{
			Type:        FixSystemPrompt,
			ToolID:      p.ToolID,
			Description: fmt.Sprintf("instruct the agent to avoid the failing pattern on %s", p.ToolID),
			AutoFixable: false,
			Payload:     map[string]any{"instruction": avoidanceInstruction(p)},
		})
	}

	if d.ErrorsByType["INTERNAL"] > 0 || d.ErrorsByType["UNKNOWN"] > len(d.ErrorsByType) {
		fixes = append(fixes, Fix{
			Type:        FixProviderSwitch,
			Description: "switch model provider; requires manual review",
			AutoFixable: false,
		})
	}
	return fixes
}

// AnalyzeAndHeal diagnoses the agent and acts by severity: medium runs
// the auto-heal cycle, high enqueues an approval, critical notifies the
// master. Low severity takes no action.
func (e *Engine) AnalyzeAndHeal(ctx context.Context, agentID string) (*Healing, error) {
	diagnosis, err := e.DiagnoseSelf(ctx, agentID)
	if err != nil {
		return nil, err
	}

	healing := &Healing{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Severity:  diagnosis.Severity,
		State:     StateDetected,
		Diagnosis: diagnosis,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.insertHealing(ctx, healing); err != nil {
		return nil, err
	}

	if diagnosis.Severity == SeverityLow {
		return healing, e.transition(ctx, healing, StateCompleted)
	}

	if err := e.transition(ctx, healing, StateAnalyzing); err != nil {
		return healing, err
	}
	fixes := e.ProposeFix(diagnosis)
	if err := e.transition(ctx, healing, StateProposingFix); err != nil {
		return healing, err
	}

	switch diagnosis.Severity {
	case SeverityMedium:
		return healing, e.autoHeal(ctx, healing, fixes)
	case SeverityHigh:
		return healing, e.requestApproval(ctx, healing, fixes)
	case SeverityCritical:
		return healing, e.escalateCritical(ctx, healing)
	}
	return healing, nil
}

// autoHeal applies the first auto-fixable fix with backup, self-test and
// rollback on test failure.
func (e *Engine) autoHeal(ctx context.Context, healing *Healing, fixes []Fix) error {
	var fix *Fix
	for i := range fixes {
		if fixes[i].AutoFixable {
			fix = &fixes[i]
			break
		}
	}
	if fix == nil {
		return e.transition(ctx, healing, StateCompleted)
	}
	healing.Fix = fix

	if err := e.transition(ctx, healing, StateBackingUp); err != nil {
		return err
	}
	backup, err := e.CreateBackup(ctx, healing.AgentID)
	if err != nil {
		healing.Error = err.Error()
		return e.transition(ctx, healing, StateFailed)
	}
	healing.BackupID = backup.ID

	if err := e.transition(ctx, healing, StateApplyingFix); err != nil {
		return err
	}
	if err := e.applyFix(ctx, healing.AgentID, fix); err != nil {
		healing.Error = err.Error()
		return e.transition(ctx, healing, StateFailed)
	}

	if err := e.transition(ctx, healing, StateTesting); err != nil {
		return err
	}
	if e.selfTest(ctx, healing.AgentID) {
		slog.Info("Self-healing applied", "agent", healing.AgentID, "fix", fix.Type, "tool", fix.ToolID)
		return e.transition(ctx, healing, StateCompleted)
	}

	if err := e.Rollback(ctx, backup.ID); err != nil {
		healing.Error = fmt.Sprintf("self-test failed and rollback failed: %v", err)
		return e.transition(ctx, healing, StateFailed)
	}
	slog.Warn("Self-healing rolled back after failed self-test", "agent", healing.AgentID, "fix", fix.Type)
	return e.transition(ctx, healing, StateRolledBack)
}

func (e *Engine) requestApproval(ctx context.Context, healing *Healing, fixes []Fix) error {
	if e.approvals == nil {
		healing.Error = "no approval store configured"
		return e.transition(ctx, healing, StateEscalated)
	}
	var fix *Fix
	if len(fixes) > 0 {
		fix = &fixes[0]
	}
	healing.Fix = fix

	description := "self-healing fix awaiting approval"
	if fix != nil {
		description = fix.Description
	}
	id, err := e.approvals.Create(ctx, &approval.Request{
		AgentID:     healing.AgentID,
		Kind:        "self_heal",
		Description: description,
		Payload:     map[string]any{"healing_id": healing.ID},
	})
	if err != nil {
		healing.Error = err.Error()
		return e.transition(ctx, healing, StateFailed)
	}
	healing.ApprovalID = id
	return e.transition(ctx, healing, StateAwaitingApproval)
}

func (e *Engine) escalateCritical(ctx context.Context, healing *Healing) error {
	if e.notifier != nil {
		agent, err := e.profiles.Get(ctx, healing.AgentID)
		userID := ""
		if err == nil {
			userID = agent.UserID
		}
		diagJSON, _ := json.Marshal(healing.Diagnosis)
		intent := &notify.Intent{
			AgentID:  healing.AgentID,
			UserID:   userID,
			Kind:     notify.KindCriticalError,
			Priority: notify.PriorityHigh,
			Subject:  fmt.Sprintf("Agent %s is critically unhealthy", healing.AgentID),
			Body:     fmt.Sprintf("Error rate %.0f%% over the last %d hours. Full diagnostic attached.", healing.Diagnosis.ErrorRate*100, healing.Diagnosis.WindowHours),
			Metadata: map[string]any{"diagnosis": string(diagJSON)},
		}
		if err := e.notifier.Send(ctx, intent); err != nil {
			slog.Warn("Critical healing notification failed", "agent", healing.AgentID, "error", err)
		}
	}
	return e.transition(ctx, healing, StateEscalated)
}

// ApplyApproved resumes an awaiting_approval healing once its approval
// request resolved. Rejected or expired approvals end it as escalated.
func (e *Engine) ApplyApproved(ctx context.Context, healingID string) error {
	healing, err := e.getHealing(ctx, healingID)
	if err != nil {
		return err
	}
	if healing.State != StateAwaitingApproval {
		return fmt.Errorf("healing %s is not awaiting approval", healingID)
	}
	if e.approvals == nil || healing.ApprovalID == "" {
		return fmt.Errorf("healing %s has no approval request", healingID)
	}
	req, err := e.approvals.Get(ctx, healing.ApprovalID)
	if err != nil {
		return err
	}
	switch req.Status {
	case approval.StatusApproved:
	case approval.StatusPending:
		return fmt.Errorf("approval %s still pending", healing.ApprovalID)
	default:
		return e.transition(ctx, healing, StateEscalated)
	}
	if healing.Fix == nil {
		return e.transition(ctx, healing, StateCompleted)
	}
	return e.autoHealApproved(ctx, healing)
}

func (e *Engine) autoHealApproved(ctx context.Context, healing *Healing) error {
	if err := e.transition(ctx, healing, StateBackingUp); err != nil {
		return err
	}
	backup, err := e.CreateBackup(ctx, healing.AgentID)
	if err != nil {
		healing.Error = err.Error()
		return e.transition(ctx, healing, StateFailed)
	}
	healing.BackupID = backup.ID

	if err := e.transition(ctx, healing, StateApplyingFix); err != nil {
		return err
	}
	if err := e.applyFix(ctx, healing.AgentID, healing.Fix); err != nil {
		healing.Error = err.Error()
		return e.transition(ctx, healing, StateFailed)
	}
	if err := e.transition(ctx, healing, StateTesting); err != nil {
		return err
	}
	if e.selfTest(ctx, healing.AgentID) {
		return e.transition(ctx, healing, StateCompleted)
	}
	if err := e.Rollback(ctx, backup.ID); err != nil {
		healing.Error = fmt.Sprintf("self-test failed and rollback failed: %v", err)
		return e.transition(ctx, healing, StateFailed)
	}
	return e.transition(ctx, healing, StateRolledBack)
}

// applyFix mutates the agent's configuration per fix type.
func (e *Engine) applyFix(ctx context.Context, agentID string, fix *Fix) error {
	switch fix.Type {
	case FixToolConfig:
		return e.permissions.SetOverride(ctx, permission.Override{
			AgentID: agentID,
			ToolID:  fix.ToolID,
			Mode:    permission.OverrideDisable,
		})
	case FixRetryConfig:
		retryJSON, err := json.Marshal(fix.Payload)
		if err != nil {
			return fmt.Errorf("failed to encode retry config: %w", err)
		}
		return e.permissions.SetOverride(ctx, permission.Override{
			AgentID:     agentID,
			ToolID:      fix.ToolID,
			Mode:        permission.OverrideEnable,
			RetryConfig: string(retryJSON),
		})
	case FixSystemPrompt:
		profile, err := e.profiles.Get(ctx, agentID)
		if err != nil {
			return err
		}
		instruction, _ := fix.Payload["instruction"].(string)
		if instruction == "" {
			return fmt.Errorf("system prompt fix has no instruction")
		}
		profile.Routing.SystemPrompt = profile.Routing.SystemPrompt + "\n\n" + instruction
		return e.profiles.UpdateProfile(ctx, profile)
	case FixSkillAdjustment, FixProviderSwitch:
		return fmt.Errorf("fix type %s requires manual intervention", fix.Type)
	default:
		return fmt.Errorf("unknown fix type: %s", fix.Type)
	}
}

// selfTest passes when the error rate since the fix stays acceptable. An
// empty sample passes; the fix has produced no new failures.
func (e *Engine) selfTest(ctx context.Context, agentID string) bool {
	now := time.Now().UTC()
	w, err := e.history.stats(ctx, agentID, now.Add(-time.Hour), now)
	if err != nil {
		slog.Warn("Self-test failed to read history", "agent", agentID, "error", err)
		return false
	}
	return w.errorRate() < SelfTestMaxErrorRate
}

// CreateBackup snapshots the fields a fix may touch.
func (e *Engine) CreateBackup(ctx context.Context, agentID string) (*Backup, error) {
	profile, err := e.profiles.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	overrides, err := e.permissions.Overrides(ctx, agentID)
	if err != nil {
		return nil, err
	}

	backup := &Backup{
		ID:            uuid.NewString(),
		AgentID:       agentID,
		SystemPrompt:  profile.Routing.SystemPrompt,
		Provider:      profile.Routing.Provider,
		Model:         profile.Routing.Model,
		Temperature:   profile.Routing.Temperature,
		AutonomyLevel: profile.AutonomyLevel,
		NotifyMasterOn: append([]string(nil), profile.NotifyMasterOn...),
		Overrides:     overrides,
		CreatedAt:     time.Now().UTC(),
	}
	for _, c := range profile.RequireApprovalFor {
		backup.RequireApprovalFor = append(backup.RequireApprovalFor, string(c))
	}

	snapshot, err := json.Marshal(backup)
	if err != nil {
		return nil, fmt.Errorf("failed to encode backup: %w", err)
	}
	query := e.db.Rebind(`INSERT INTO config_backups (id, agent_id, snapshot, created_at) VALUES (?, ?, ?, ?)`)
	if _, err := e.db.ExecContext(ctx, query, backup.ID, agentID, string(snapshot), backup.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to store backup: %w", err)
	}
	return backup, nil
}

// Rollback restores the snapshot verbatim, replacing the tool-override
// set wholesale.
func (e *Engine) Rollback(ctx context.Context, backupID string) error {
	query := e.db.Rebind(`SELECT snapshot FROM config_backups WHERE id = ?`)
	var snapshot string
	if err := e.db.QueryRowContext(ctx, query, backupID).Scan(&snapshot); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("backup not found: %s", backupID)
		}
		return fmt.Errorf("failed to load backup: %w", err)
	}
	var backup Backup
	if err := json.Unmarshal([]byte(snapshot), &backup); err != nil {
		return fmt.Errorf("failed to decode backup: %w", err)
	}

	profile, err := e.profiles.Get(ctx, backup.AgentID)
	if err != nil {
		return err
	}
	profile.Routing.SystemPrompt = backup.SystemPrompt
	profile.Routing.Provider = backup.Provider
	profile.Routing.Model = backup.Model
	profile.Routing.Temperature = backup.Temperature
	profile.AutonomyLevel = backup.AutonomyLevel
	profile.NotifyMasterOn = append([]string(nil), backup.NotifyMasterOn...)
	profile.RequireApprovalFor = profile.RequireApprovalFor[:0]
	for _, c := range backup.RequireApprovalFor {
		profile.RequireApprovalFor = append(profile.RequireApprovalFor, tool.Category(c))
	}
	if err := e.profiles.UpdateProfile(ctx, profile); err != nil {
		return err
	}
	return e.permissions.ReplaceOverrides(ctx, backup.AgentID, backup.Overrides)
}

// GetHealingHistory lists healings for an agent, newest first.
func (e *Engine) GetHealingHistory(ctx context.Context, agentID string, limit int) ([]*Healing, error) {
	if limit <= 0 {
		limit = 20
	}
	query := e.db.Rebind(`
SELECT id, agent_id, severity, state, COALESCE(diagnosis, ''), COALESCE(fix, ''), COALESCE(backup_id, ''), COALESCE(approval_id, ''), COALESCE(error_message, ''), created_at, updated_at
FROM healing_log WHERE agent_id = ? ORDER BY created_at DESC LIMIT ` + fmt.Sprintf("%d", limit))
	rows, err := e.db.QueryContext(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list healing history: %w", err)
	}
	defer rows.Close()

	var out []*Healing
	for rows.Next() {
		h, err := scanHealing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

func (e *Engine) insertHealing(ctx context.Context, h *Healing) error {
	diagJSON, _ := json.Marshal(h.Diagnosis)
	h.UpdatedAt = h.CreatedAt
	query := e.db.Rebind(`
INSERT INTO healing_log (id, agent_id, severity, state, diagnosis, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if _, err := e.db.ExecContext(ctx, query, h.ID, h.AgentID, h.Severity, h.State, string(diagJSON), h.CreatedAt, h.UpdatedAt); err != nil {
		return fmt.Errorf("failed to insert healing record: %w", err)
	}
	return nil
}

func (e *Engine) transition(ctx context.Context, h *Healing, to State) error {
	h.State = to
	h.UpdatedAt = time.Now().UTC()
	fixJSON := ""
	if h.Fix != nil {
		if data, err := json.Marshal(h.Fix); err == nil {
			fixJSON = string(data)
		}
	}
	query := e.db.Rebind(`
UPDATE healing_log SET state = ?, fix = ?, backup_id = ?, approval_id = ?, error_message = ?, updated_at = ? WHERE id = ?`)
	if _, err := e.db.ExecContext(ctx, query, h.State, fixJSON, h.BackupID, h.ApprovalID, h.Error, h.UpdatedAt, h.ID); err != nil {
		return fmt.Errorf("failed to update healing record: %w", err)
	}
	return nil
}

func (e *Engine) getHealing(ctx context.Context, id string) (*Healing, error) {
	query := e.db.Rebind(`
SELECT id, agent_id, severity, state, COALESCE(diagnosis, ''), COALESCE(fix, ''), COALESCE(backup_id, ''), COALESCE(approval_id, ''), COALESCE(error_message, ''), created_at, updated_at
FROM healing_log WHERE id = ?`)
	h, err := scanHealing(e.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("healing record not found: %s", id)
	}
	return h, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHealing(row rowScanner) (*Healing, error) {
	var (
		h        Healing
		diagJSON string
		fixJSON  string
	)
	if err := row.Scan(
		&h.ID, &h.AgentID, &h.Severity, &h.State, &diagJSON, &fixJSON,
		&h.BackupID, &h.ApprovalID, &h.Error, &h.CreatedAt, &h.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if diagJSON != "" {
		_ = json.Unmarshal([]byte(diagJSON), &h.Diagnosis)
	}
	if fixJSON != "" {
		_ = json.Unmarshal([]byte(fixJSON), &h.Fix)
	}
	return &h, nil
}

func avoidanceInstruction(p Pattern) string {
	return fmt.Sprintf("Avoid the failure pattern observed on tool %q: %s. Prefer alternative approaches or verify inputs before calling it.", p.ToolID, p.ErrorMessage)
}
