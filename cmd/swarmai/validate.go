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

package main

import (
	"fmt"
	"os"

	"github.com/northpeakmalaysia/swarmai/pkg/config"
)

// ValidateCmd checks a configuration file without starting anything.
type ValidateCmd struct{}

func (c *ValidateCmd) Run(cli *CLI) error {
	if cli.Config == "" {
		return fmt.Errorf("--config is required for validate")
	}

	data, err := os.ReadFile(cli.Config)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := config.Parse(data)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", cli.Config)
	fmt.Printf("  database:  %s\n", cfg.Database.Driver)
	fmt.Printf("  vector:    %s\n", cfg.Vector.Type)
	fmt.Printf("  guard:     %d concurrent runs\n", cfg.Guard.MaxConcurrent)
	fmt.Printf("  runtime:   %d iterations, %d tool calls, %s deadline\n",
		cfg.Runtime.MaxIterations, cfg.Runtime.MaxToolCalls, cfg.Runtime.Deadline)
	if len(cfg.MCPServers) > 0 {
		fmt.Printf("  mcp:       %d server(s)\n", len(cfg.MCPServers))
	}
	return nil
}
