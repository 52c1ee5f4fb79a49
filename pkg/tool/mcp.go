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

package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

// MCPConfig configures one MCP server used as an external tool source.
type MCPConfig struct {
	// Name identifies the source in logs.
	Name string `yaml:"name"`

	// Command, Args and Env launch the server over stdio.
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args,omitempty"`
	Env     map[string]string `yaml:"env,omitempty"`

	// DefaultCategory applies to discovered tools without an explicit
	// override. Empty means observation.
	DefaultCategory Category `yaml:"default_category,omitempty"`

	// Overrides refine discovered tools by name.
	Overrides map[string]MCPToolOverride `yaml:"overrides,omitempty"`

	// Allow restricts discovery to the listed tool names when non-empty.
	Allow []string `yaml:"allow,omitempty"`
}

// MCPToolOverride refines the catalogue entry for one discovered tool.
type MCPToolOverride struct {
	Category     Category `yaml:"category,omitempty"`
	SideEffect   bool     `yaml:"side_effect,omitempty"`
	Alternatives []string `yaml:"alternatives,omitempty"`
}

// MCPSource discovers tools from one MCP server and registers them into the
// catalogue. The server process is the external tool implementation; the
// core only sees catalogue entries.
type MCPSource struct {
	cfg    MCPConfig
	mu     sync.Mutex
	client *client.Client
}

// NewMCPSource creates a source for the given server config.
func NewMCPSource(cfg MCPConfig) *MCPSource {
	return &MCPSource{cfg: cfg}
}

// Connect launches the server, discovers its tools and registers them.
func (s *MCPSource) Connect(ctx context.Context, catalogue *Catalogue) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	env := make([]string, 0, len(s.cfg.Env))
	for k, v := range s.cfg.Env {
		env = append(env, k+"="+v)
	}

	mcpClient, err := client.NewStdioMCPClient(s.cfg.Command, env, s.cfg.Args...)
	if err != nil {
		return fmt.Errorf("failed to create MCP client for %s: %w", s.cfg.Name, err)
	}

	if err := mcpClient.Start(ctx); err != nil {
		return fmt.Errorf("failed to start MCP client for %s: %w", s.cfg.Name, err)
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ClientInfo = mcp.Implementation{Name: "swarmai", Version: "1.0"}
	initReq.Params.ProtocolVersion = "2024-11-05"
	if _, err := mcpClient.Initialize(ctx, initReq); err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to initialize MCP server %s: %w", s.cfg.Name, err)
	}

	listResp, err := mcpClient.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		_ = mcpClient.Close()
		return fmt.Errorf("failed to list tools from %s: %w", s.cfg.Name, err)
	}

	allow := map[string]bool{}
	for _, name := range s.cfg.Allow {
		allow[name] = true
	}

	registered := 0
	for _, mcpTool := range listResp.Tools {
		if len(allow) > 0 && !allow[mcpTool.Name] {
			continue
		}

		entry := Entry{
			ID:          mcpTool.Name,
			Description: mcpTool.Description,
			Category:    s.cfg.DefaultCategory,
			Schema:      marshalSchema(mcpTool.InputSchema),
			Handler:     &mcpHandler{source: s, name: mcpTool.Name},
		}
		if ov, ok := s.cfg.Overrides[mcpTool.Name]; ok {
			if ov.Category != "" {
				entry.Category = ov.Category
			}
			entry.SideEffect = ov.SideEffect
			entry.Alternatives = ov.Alternatives
		}

		if err := catalogue.Register(entry); err != nil {
			slog.Warn("Failed to register MCP tool", "source", s.cfg.Name, "tool", mcpTool.Name, "error", err)
			continue
		}
		registered++
	}

	s.client = mcpClient
	slog.Info("Connected to MCP tool source", "source", s.cfg.Name, "tools", registered)
	return nil
}

// Close terminates the server connection.
func (s *MCPSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

type mcpHandler struct {
	source *MCPSource
	name   string
}

func (h *mcpHandler) Execute(ctx context.Context, params map[string]any) (Result, error) {
	h.source.mu.Lock()
	mcpClient := h.source.client
	h.source.mu.Unlock()

	if mcpClient == nil {
		return Result{Success: false, Error: "MCP source not connected"},
			fmt.Errorf("MCP source %s not connected", h.source.cfg.Name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = h.name
	req.Params.Arguments = params

	resp, err := mcpClient.CallTool(ctx, req)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, fmt.Errorf("MCP call failed: %w", err)
	}

	var texts []string
	for _, content := range resp.Content {
		if tc, ok := content.(mcp.TextContent); ok {
			texts = append(texts, tc.Text)
		}
	}
	combined := ""
	if len(texts) > 0 {
		combined = texts[0]
		for _, t := range texts[1:] {
			combined += "\n" + t
		}
	}

	if resp.IsError {
		msg := combined
		if msg == "" {
			msg = "unknown MCP tool error"
		}
		return Result{Success: false, Error: msg}, fmt.Errorf("%s", msg)
	}

	return Result{Success: true, Content: combined}, nil
}

func marshalSchema(schema mcp.ToolInputSchema) json.RawMessage {
	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	return data
}
