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
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
)

// LoaderOptions configure config loading.
type LoaderOptions struct {
	Type SourceType

	// Path is the file path or Consul key.
	Path string

	// Address of the Consul agent, for SourceConsul.
	Address string

	Watch    bool
	OnChange func(*Config) error
}

// Loader reads the root config from a provider and optionally hot
// reloads it.
type Loader struct {
	provider Provider
	options  LoaderOptions
	cancel   context.CancelFunc
}

// NewLoader creates a loader for the configured source.
func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("config path is required")
	}
	var (
		provider Provider
		err      error
	)
	switch opts.Type {
	case SourceFile, "":
		provider, err = NewFileProvider(opts.Path)
	case SourceConsul:
		provider, err = NewConsulProvider(opts.Address, opts.Path)
	default:
		return nil, fmt.Errorf("unknown config source type: %s", opts.Type)
	}
	if err != nil {
		return nil, err
	}
	return &Loader{provider: provider, options: opts}, nil
}

// Load reads and parses the config, starting the watch loop when asked.
func (l *Loader) Load(ctx context.Context) (*Config, error) {
	data, err := l.provider.Load(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}

	if l.options.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		l.cancel = cancel
		ch, err := l.provider.Watch(watchCtx)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to start config watch: %w", err)
		}
		go l.reloadLoop(watchCtx, ch)
	}
	return cfg, nil
}

func (l *Loader) reloadLoop(ctx context.Context, ch <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				return
			}
			data, err := l.provider.Load(ctx)
			if err != nil {
				slog.Warn("Config reload failed", "error", err)
				continue
			}
			cfg, err := Parse(data)
			if err != nil {
				slog.Warn("Reloaded config invalid, keeping current", "error", err)
				continue
			}
			if l.options.OnChange != nil {
				if err := l.options.OnChange(cfg); err != nil {
					slog.Warn("Config change callback failed", "error", err)
					continue
				}
			}
			slog.Info("Configuration reloaded", "source", l.provider.Type())
		}
	}
}

// Stop halts watching and releases the provider.
func (l *Loader) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	_ = l.provider.Close()
}

// LoadDotEnv loads .env into the process environment when present.
// Missing files are fine; real read failures are logged.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			slog.Warn("Failed to load env file", "path", path, "error", err)
		}
	}
}
