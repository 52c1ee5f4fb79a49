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

// Package builtin registers the tools the core ships with: memory
// search and store, plus the orchestrate tool bridging to the
// orchestrator.
package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/northpeakmalaysia/swarmai/pkg/memory"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
)

type searchMemoryParams struct {
	Query string `json:"query" jsonschema:"description=What to search for"`
	Limit int    `json:"limit,omitempty" jsonschema:"description=Maximum results,default=5"`
	Type  string `json:"type,omitempty" jsonschema:"description=Restrict to one memory type"`
}

type storeMemoryParams struct {
	Content    string  `json:"content" jsonschema:"description=The memory content"`
	Title      string  `json:"title,omitempty"`
	Type       string  `json:"type,omitempty" jsonschema:"description=Memory type,default=learning"`
	Importance float64 `json:"importance,omitempty" jsonschema:"description=Importance in [0 and 1],default=0.5"`
}

// RegisterMemoryTools adds searchMemory and storeMemory to the catalogue.
func RegisterMemoryTools(catalogue *tool.Catalogue, memories *memory.Service) error {
	if err := catalogue.Register(tool.Entry{
		ID:          "searchMemory",
		Description: "Search the agent's long-term memory",
		Category:    tool.CategoryMemoryRead,
		Schema:      tool.SchemaFor[searchMemoryParams](),
		Handler:     &searchMemoryHandler{memories: memories},
	}); err != nil {
		return err
	}
	return catalogue.Register(tool.Entry{
		ID:          "storeMemory",
		Description: "Store a new long-term memory",
		Category:    tool.CategoryMemoryWrite,
		Schema:      tool.SchemaFor[storeMemoryParams](),
		Handler:     &storeMemoryHandler{memories: memories},
	})
}

type searchMemoryHandler struct {
	memories *memory.Service
}

func (h *searchMemoryHandler) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	tc, _ := tool.FromContext(ctx)
	query, _ := params["query"].(string)
	if query == "" {
		return tool.Result{Success: false, Error: "query is required"}, nil
	}

	opts := memory.SearchOptions{Mode: memory.ModeHybrid, Limit: intParam(params, "limit", 5)}
	if t, ok := params["type"].(string); ok && t != "" {
		opts.Types = []memory.Type{memory.Type(t)}
	}

	results, err := h.memories.Search(ctx, tc.UserID, tc.AgentID, query, opts)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, nil
	}
	if len(results) == 0 {
		return tool.Result{Success: true, Content: "No matching memories found."}, nil
	}

	var b strings.Builder
	items := make([]map[string]any, 0, len(results))
	for i, r := range results {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r.Entry.Content)
		items = append(items, map[string]any{
			"id":      r.Entry.ID,
			"content": r.Entry.Content,
			"type":    r.Entry.Type,
			"score":   r.Score,
		})
	}
	return tool.Result{Success: true, Content: b.String(), Data: map[string]any{"memories": items}}, nil
}

type storeMemoryHandler struct {
	memories *memory.Service
}

func (h *storeMemoryHandler) Execute(ctx context.Context, params map[string]any) (tool.Result, error) {
	tc, _ := tool.FromContext(ctx)
	content, _ := params["content"].(string)
	if content == "" {
		return tool.Result{Success: false, Error: "content is required"}, nil
	}

	entry := &memory.Entry{
		AgentID: tc.AgentID,
		UserID:  tc.UserID,
		Content: content,
		Type:    memory.TypeLearning,
	}
	if title, ok := params["title"].(string); ok {
		entry.Title = title
	}
	if t, ok := params["type"].(string); ok && t != "" {
		entry.Type = memory.Type(t)
	}
	if imp, ok := floatParam(params, "importance"); ok {
		entry.Importance = imp
	}

	created, err := h.memories.Create(ctx, entry)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, nil
	}
	return tool.Result{
		Success: true,
		Content: "Memory stored.",
		Data:    map[string]any{"id": created.ID},
	}, nil
}

func intParam(params map[string]any, key string, fallback int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

func floatParam(params map[string]any, key string) (float64, bool) {
	switch v := params[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
