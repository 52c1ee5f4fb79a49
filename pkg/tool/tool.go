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

// Package tool defines the typed tool catalogue: every tool the runtime can
// invoke is registered here with its permission category, parameter schema,
// side-effect flag and fallback alternatives. Concrete tool behavior lives
// behind the Handler interface; transports and integrations are external.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// Category is a tool's permission category. Unknown tools default to
// CategoryObservation (read-only, always permitted).
type Category string

const (
	CategoryObservation          Category = "observation"
	CategoryMemoryRead           Category = "memory_read"
	CategoryMemoryWrite          Category = "memory_write"
	CategoryMemoryDelete         Category = "memory_delete"
	CategoryKnowledgeRead        Category = "knowledge_read"
	CategoryKnowledgeIngest      Category = "knowledge_ingest"
	CategorySelfManagement       Category = "self_management"
	CategorySubagentManage       Category = "subagent_manage"
	CategoryCommunicationRespond Category = "communication_respond"
	CategoryCommunicationOut     Category = "communication_outbound"
	CategorySelfImprovement      Category = "self_improvement"
	CategorySelfModification     Category = "self_modification"
)

// Categories lists all known categories.
func Categories() []Category {
	return []Category{
		CategoryObservation, CategoryMemoryRead, CategoryMemoryWrite,
		CategoryMemoryDelete, CategoryKnowledgeRead, CategoryKnowledgeIngest,
		CategorySelfManagement, CategorySubagentManage,
		CategoryCommunicationRespond, CategoryCommunicationOut,
		CategorySelfImprovement, CategorySelfModification,
	}
}

// Result is the outcome of one tool execution.
type Result struct {
	Success bool           `json:"success"`
	Content string         `json:"content,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// Context carries the invoking agent's identity into tool handlers.
type Context struct {
	AgentID string
	UserID  string

	// Trigger context of the enclosing run, including orchestration depth.
	TriggerContext map[string]any
}

type contextKey struct{}

// WithContext attaches a tool Context to ctx.
func WithContext(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// FromContext extracts the tool Context from ctx.
func FromContext(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}

// Handler executes a tool call.
type Handler interface {
	Execute(ctx context.Context, params map[string]any) (Result, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) (Result, error)

func (f HandlerFunc) Execute(ctx context.Context, params map[string]any) (Result, error) {
	return f(ctx, params)
}

// Entry is one catalogue row.
type Entry struct {
	ID          string          `json:"id"`
	Description string          `json:"description,omitempty"`
	Category    Category        `json:"category"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	SideEffect  bool            `json:"side_effect"`

	// Alternatives are fallback tool ids tried by recovery, in order.
	Alternatives []string `json:"alternatives,omitempty"`

	Handler Handler `json:"-"`
}

// Catalogue is the typed registry of tools.
type Catalogue struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// NewCatalogue creates an empty catalogue.
func NewCatalogue() *Catalogue {
	return &Catalogue{entries: make(map[string]Entry)}
}

// Register adds or replaces a catalogue entry.
func (c *Catalogue) Register(e Entry) error {
	if e.ID == "" {
		return fmt.Errorf("tool id cannot be empty")
	}
	if e.Handler == nil {
		return fmt.Errorf("tool %s has no handler", e.ID)
	}
	if e.Category == "" {
		e.Category = CategoryObservation
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.ID] = e
	return nil
}

// Get returns the entry for a tool id.
func (c *Catalogue) Get(id string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[id]
	return e, ok
}

// List returns all entries sorted by id.
func (c *Catalogue) List() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Remove deletes an entry.
func (c *Catalogue) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// CategoryOf returns the permission category for a tool id. Unknown tools
// are treated as observation.
func (c *Catalogue) CategoryOf(id string) Category {
	if e, ok := c.Get(id); ok {
		return e.Category
	}
	return CategoryObservation
}

// IsSideEffect reports whether a tool has external side effects. Unknown
// tools are assumed side-effect-free.
func (c *Catalogue) IsSideEffect(id string) bool {
	e, ok := c.Get(id)
	return ok && e.SideEffect
}

// Alternatives returns the ordered fallback list for a tool id.
func (c *Catalogue) Alternatives(id string) []string {
	e, ok := c.Get(id)
	if !ok {
		return nil
	}
	return e.Alternatives
}

// Execute runs a tool by id.
func (c *Catalogue) Execute(ctx context.Context, id string, params map[string]any) (Result, error) {
	e, ok := c.Get(id)
	if !ok {
		return Result{Success: false, Error: fmt.Sprintf("tool %s not found", id)},
			fmt.Errorf("tool %s not found", id)
	}
	return e.Handler.Execute(ctx, params)
}
