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

package model

import (
	"context"
	"testing"
)

func TestActionTypeTerminal(t *testing.T) {
	tests := []struct {
		action   ActionType
		terminal bool
	}{
		{ActionDone, true},
		{ActionRespond, true},
		{ActionSilent, true},
		{ActionHeartbeatOK, true},
		{ActionTool, false},
	}
	for _, tt := range tests {
		if got := tt.action.Terminal(); got != tt.terminal {
			t.Errorf("Terminal(%s) = %v, want %v", tt.action, got, tt.terminal)
		}
	}
}

func TestUsageTotal(t *testing.T) {
	u := Usage{PromptTokens: 120, CompletionTokens: 30}
	if u.Total() != 150 {
		t.Errorf("Total() = %d, want 150", u.Total())
	}
	if (Usage{}).Total() != 0 {
		t.Errorf("zero Usage Total() = %d, want 0", (Usage{}).Total())
	}
}

func TestStaticRouter(t *testing.T) {
	r := NewStaticRouter()
	ctx := context.Background()

	d, err := r.Decide(ctx, &Request{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d.Action.Type != ActionSilent {
		t.Errorf("Action.Type = %s, want silent", d.Action.Type)
	}

	// Each call returns a copy; mutations must not leak back.
	d.Action.Type = ActionDone
	d2, err := r.Decide(ctx, &Request{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Decide: %v", err)
	}
	if d2.Action.Type != ActionSilent {
		t.Errorf("second Decide Action.Type = %s, want silent", d2.Action.Type)
	}

	c, err := r.Complete(ctx, &CompletionRequest{AgentID: "a1", Prompt: "anything"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != "" {
		t.Errorf("Completion.Text = %q, want empty", c.Text)
	}
}

func TestStaticRouterHonorsCancellation(t *testing.T) {
	r := NewStaticRouter()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Decide(ctx, &Request{}); err == nil {
		t.Error("Decide with cancelled context: want error")
	}
	if _, err := r.Complete(ctx, &CompletionRequest{}); err == nil {
		t.Error("Complete with cancelled context: want error")
	}
}
