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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

func TestParseAutonomy(t *testing.T) {
	tests := []struct {
		in   string
		want Autonomy
	}{
		{"supervised", AutonomySupervised},
		{"low", AutonomyLow},
		{"semi-autonomous", AutonomySemiAutonomous},
		{"semi_autonomous", AutonomySemiAutonomous},
		{"high", AutonomyHigh},
		{"autonomous", AutonomyAutonomous},
		{"full", AutonomyAutonomous},
		{"  HIGH  ", AutonomyHigh},
		{"", AutonomySupervised},
		{"cosmic", AutonomySupervised},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseAutonomy(tt.in), "ParseAutonomy(%q)", tt.in)
	}
}

func testCatalogue(t *testing.T) *tool.Catalogue {
	t.Helper()
	c := tool.NewCatalogue()
	entries := map[string]tool.Category{
		"lookCalendar":   tool.CategoryObservation,
		"storeMemory":    tool.CategoryMemoryWrite,
		"deleteMemory":   tool.CategoryMemoryDelete,
		"sendEmail":      tool.CategoryCommunicationOut,
		"rewriteSelf":    tool.CategorySelfModification,
		"reviseOwnGoals": tool.CategorySelfManagement,
	}
	for id, cat := range entries {
		require.NoError(t, c.Register(tool.Entry{
			ID:       id,
			Category: cat,
			Handler:  tool.HandlerFunc(func(context.Context, map[string]any) (tool.Result, error) { return tool.Result{}, nil }),
		}))
	}
	return c
}

func TestMatrixVerdicts(t *testing.T) {
	checker := NewChecker(nil, testCatalogue(t), nil)
	ctx := context.Background()

	tests := []struct {
		name     string
		toolID   string
		autonomy Autonomy
		want     Verdict
	}{
		{"observation at supervised", "lookCalendar", AutonomySupervised, VerdictAllow},
		{"memory write below minimum", "storeMemory", AutonomySupervised, VerdictDeny},
		{"memory write at minimum", "storeMemory", AutonomyLow, VerdictAllow},
		{"memory delete approval path", "deleteMemory", AutonomyLow, VerdictApproval},
		{"memory delete below approval floor", "deleteMemory", AutonomySupervised, VerdictDeny},
		{"outbound at high", "sendEmail", AutonomyHigh, VerdictAllow},
		{"outbound approval at semi", "sendEmail", AutonomySemiAutonomous, VerdictApproval},
		{"outbound denied at low", "sendEmail", AutonomyLow, VerdictDeny},
		{"self modification full only", "rewriteSelf", AutonomyAutonomous, VerdictAllow},
		{"self modification approval at high", "rewriteSelf", AutonomyHigh, VerdictApproval},
		{"self management no approval path", "reviseOwnGoals", AutonomyLow, VerdictDeny},
		{"unknown tool treated as observation", "ghost", AutonomySupervised, VerdictAllow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := checker.CanExecute(ctx, "a1", tt.toolID, tt.autonomy)
			assert.Equal(t, tt.want, d.Verdict)
		})
	}
}

func TestOverridesBeatMatrix(t *testing.T) {
	checker := NewChecker(nil, testCatalogue(t), NewMemoryOverrideStore())
	ctx := context.Background()

	// enable lets a supervised agent use an outbound tool
	require.NoError(t, checker.SetOverride(ctx, Override{AgentID: "a1", ToolID: "sendEmail", Mode: OverrideEnable}))
	assert.Equal(t, VerdictAllow, checker.CanExecute(ctx, "a1", "sendEmail", AutonomySupervised).Verdict)

	// disable blocks a fully autonomous agent
	require.NoError(t, checker.SetOverride(ctx, Override{AgentID: "a1", ToolID: "lookCalendar", Mode: OverrideDisable}))
	assert.Equal(t, VerdictDeny, checker.CanExecute(ctx, "a1", "lookCalendar", AutonomyAutonomous).Verdict)

	// require_approval downgrades an allowed tool
	require.NoError(t, checker.SetOverride(ctx, Override{AgentID: "a1", ToolID: "storeMemory", Mode: OverrideRequireApproval}))
	assert.Equal(t, VerdictApproval, checker.CanExecute(ctx, "a1", "storeMemory", AutonomyAutonomous).Verdict)

	// overrides are per-agent
	assert.Equal(t, VerdictAllow, checker.CanExecute(ctx, "a2", "lookCalendar", AutonomySupervised).Verdict)

	// removal restores matrix behavior
	require.NoError(t, checker.RemoveOverride(ctx, "a1", "sendEmail"))
	assert.Equal(t, VerdictDeny, checker.CanExecute(ctx, "a1", "sendEmail", AutonomySupervised).Verdict)
}

func TestOverrideCacheExpiry(t *testing.T) {
	store := NewMemoryOverrideStore()
	checker := NewChecker(nil, testCatalogue(t), store)
	ctx := context.Background()

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	checker.now = func() time.Time { return base }

	// Prime the cache with no overrides.
	assert.Equal(t, VerdictDeny, checker.CanExecute(ctx, "a1", "sendEmail", AutonomySupervised).Verdict)

	// A write through the store alone is invisible until the cache expires.
	require.NoError(t, store.Set(ctx, Override{AgentID: "a1", ToolID: "sendEmail", Mode: OverrideEnable}))
	assert.Equal(t, VerdictDeny, checker.CanExecute(ctx, "a1", "sendEmail", AutonomySupervised).Verdict)

	checker.now = func() time.Time { return base.Add(overrideCacheTTL + time.Second) }
	assert.Equal(t, VerdictAllow, checker.CanExecute(ctx, "a1", "sendEmail", AutonomySupervised).Verdict)
}

func TestFilterAllowed(t *testing.T) {
	checker := NewChecker(nil, testCatalogue(t), nil)
	ctx := context.Background()

	tools := []string{"lookCalendar", "storeMemory", "deleteMemory", "sendEmail"}
	got := checker.FilterAllowed(ctx, "a1", AutonomyLow, tools)
	// Approval-path tools stay visible; denied tools are dropped.
	assert.Equal(t, []string{"lookCalendar", "storeMemory", "deleteMemory"}, got)
}

func TestGetToolPermissions(t *testing.T) {
	checker := NewChecker(nil, testCatalogue(t), nil)

	perms := checker.GetToolPermissions(context.Background(), "a1", AutonomySemiAutonomous, []string{"sendEmail", "storeMemory"})
	require.Len(t, perms, 2)
	assert.Equal(t, VerdictApproval, perms[0].Decision.Verdict)
	assert.Equal(t, tool.CategoryCommunicationOut, perms[0].Decision.Category)
	assert.Equal(t, VerdictAllow, perms[1].Decision.Verdict)
}
