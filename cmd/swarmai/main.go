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

// Command swarmai runs the multi-agent runtime core.
//
// Usage:
//
//	swarmai serve --config config.yaml
//	swarmai serve --config swarmai/core --config-source consul --consul-addr localhost:8500
//	swarmai validate --config config.yaml
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"

	"github.com/northpeakmalaysia/swarmai"
	"github.com/northpeakmalaysia/swarmai/pkg/config"
	"github.com/northpeakmalaysia/swarmai/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Serve    ServeCmd    `cmd:"" help:"Start the agent runtime."`
	Validate ValidateCmd `cmd:"" help:"Validate a configuration file."`

	Config    string `short:"c" help:"Path to config file (or Consul key with --config-source consul)." type:"path"`
	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple or verbose)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("swarmai version %s\n", swarmai.Version)
	return nil
}

func main() {
	config.LoadDotEnv()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("swarmai"),
		kong.Description("SwarmAI - autonomous multi-agent runtime core"),
		kong.UsageOnError(),
	)

	output := os.Stderr
	var cleanup func()
	if cli.LogFile != "" {
		f, done, err := logger.OpenLogFile(cli.LogFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file: %v\n", err)
			os.Exit(1)
		}
		output = f
		cleanup = done
	}
	logger.Init(logger.ParseLevel(cli.LogLevel), output, cli.LogFormat)
	if cleanup != nil {
		defer cleanup()
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
