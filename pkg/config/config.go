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

// Package config loads and validates the root configuration from YAML,
// with environment expansion, env-var overrides and hot reload from file
// or Consul sources.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"

	"github.com/northpeakmalaysia/swarmai/pkg/guard"
	"github.com/northpeakmalaysia/swarmai/pkg/notify"
	"github.com/northpeakmalaysia/swarmai/pkg/observability"
	"github.com/northpeakmalaysia/swarmai/pkg/orchestrator"
	"github.com/northpeakmalaysia/swarmai/pkg/plan"
	"github.com/northpeakmalaysia/swarmai/pkg/runtime"
	"github.com/northpeakmalaysia/swarmai/pkg/store"
	"github.com/northpeakmalaysia/swarmai/pkg/tool"
	"github.com/northpeakmalaysia/swarmai/pkg/vector"
)

// Environment variable overrides.
const (
	EnvMaxConcurrent = "AI_MAX_CONCURRENT_BACKGROUND"
)

// LoggerConfig controls the process logger.
type LoggerConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// SetDefaults applies default values.
func (c *LoggerConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "text"
	}
}

// GuardConfig bounds concurrent model-driven runs.
type GuardConfig struct {
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// SetDefaults applies defaults, honoring AI_MAX_CONCURRENT_BACKGROUND.
func (c *GuardConfig) SetDefaults() {
	if c.MaxConcurrent == 0 {
		c.MaxConcurrent = guard.DefaultCapacity
		if v := os.Getenv(EnvMaxConcurrent); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				c.MaxConcurrent = n
			}
		}
	}
}

// NotifyConfig bounds notification delivery.
type NotifyConfig struct {
	DailyCap int `yaml:"daily_cap" mapstructure:"daily_cap"`
}

// SetDefaults applies default values.
func (c *NotifyConfig) SetDefaults() {
	if c.DailyCap == 0 {
		c.DailyCap = notify.DefaultDailyCap
	}
}

// Config is the root configuration.
type Config struct {
	Logger        LoggerConfig         `yaml:"logger" mapstructure:"logger"`
	Database      store.Config         `yaml:"database" mapstructure:"database"`
	Guard         GuardConfig          `yaml:"guard" mapstructure:"guard"`
	Runtime       runtime.Config       `yaml:"runtime" mapstructure:"runtime"`
	Orchestrator  orchestrator.Config  `yaml:"orchestrator" mapstructure:"orchestrator"`
	Plan          plan.Config          `yaml:"plan" mapstructure:"plan"`
	Vector        vector.Config        `yaml:"vector" mapstructure:"vector"`
	Notify        NotifyConfig         `yaml:"notify" mapstructure:"notify"`
	Observability observability.Config `yaml:"observability" mapstructure:"observability"`
	MCPServers    []tool.MCPConfig     `yaml:"mcp_servers" mapstructure:"mcp_servers"`
}

// SetDefaults applies defaults recursively.
func (c *Config) SetDefaults() {
	c.Logger.SetDefaults()
	c.Database.SetDefaults()
	c.Guard.SetDefaults()
	c.Runtime.SetDefaults()
	c.Orchestrator.SetDefaults()
	c.Plan.SetDefaults()
	c.Vector.SetDefaults()
	c.Notify.SetDefaults()
	c.Observability.SetDefaults()
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := c.Vector.Validate(); err != nil {
		return fmt.Errorf("vector: %w", err)
	}
	if c.Plan.Deadline >= c.Runtime.Deadline {
		return fmt.Errorf("plan deadline %s must be strictly less than runtime deadline %s", c.Plan.Deadline, c.Runtime.Deadline)
	}
	for i, mcp := range c.MCPServers {
		if mcp.Command == "" {
			return fmt.Errorf("mcp_servers[%d]: command is required", i)
		}
	}
	return nil
}

// Parse unmarshals YAML, expands ${ENV} references, applies defaults and
// validates. Decoding goes through an intermediate map so duration fields
// accept strings like "4m".
func Parse(data []byte) (*Config, error) {
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})
	raw := map[string]any{}
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg := &Config{}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build config decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Default returns a fully defaulted config with no file input.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}
