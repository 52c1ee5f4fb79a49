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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "info", cfg.Logger.Level)
	assert.Equal(t, "text", cfg.Logger.Format)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Guard.MaxConcurrent)
	assert.Equal(t, 10, cfg.Runtime.MaxIterations)
	assert.Equal(t, 4*time.Minute, cfg.Runtime.Deadline)
	assert.Equal(t, 3*time.Minute, cfg.Plan.Deadline)
	require.NoError(t, cfg.Validate())
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
logger:
  level: debug
database:
  driver: sqlite
  dsn: ":memory:"
guard:
  max_concurrent: 7
runtime:
  max_iterations: 5
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logger.Level)
	assert.Equal(t, ":memory:", cfg.Database.DSN)
	assert.Equal(t, 7, cfg.Guard.MaxConcurrent)
	assert.Equal(t, 5, cfg.Runtime.MaxIterations)
	// Untouched sections still pick up defaults.
	assert.Equal(t, 10, cfg.Runtime.MaxToolCalls)
}

func TestParseExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_DB_DSN", "/var/lib/swarmai/agents.db")

	cfg, err := Parse([]byte(`
database:
  driver: sqlite
  dsn: ${TEST_DB_DSN}
`))
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/swarmai/agents.db", cfg.Database.DSN)
}

func TestParseRejectsBadYAML(t *testing.T) {
	_, err := Parse([]byte(`logger: [`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestValidatePlanDeadlineBound(t *testing.T) {
	cfg := Default()
	cfg.Plan.Deadline = cfg.Runtime.Deadline

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be strictly less than runtime deadline")
}

func TestValidateMCPCommandRequired(t *testing.T) {
	_, err := Parse([]byte(`
mcp_servers:
  - name: browser
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "command is required")
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = "oracle"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported driver")
}

func TestGuardConfigEnvOverride(t *testing.T) {
	t.Setenv(EnvMaxConcurrent, "12")

	cfg := &GuardConfig{}
	cfg.SetDefaults()
	assert.Equal(t, 12, cfg.MaxConcurrent)

	// Explicit values win over the environment.
	cfg = &GuardConfig{MaxConcurrent: 2}
	cfg.SetDefaults()
	assert.Equal(t, 2, cfg.MaxConcurrent)
}
