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

// Package vector abstracts the vector store behind a single Provider
// interface with embedded (chromem) and external (qdrant, pinecone)
// implementations. Embeddings are computed externally; providers only
// store and search pre-computed vectors.
package vector

import (
	"context"
	"fmt"
)

// ProviderType identifies a vector provider implementation.
type ProviderType string

const (
	// ProviderChromem is the embedded zero-config default.
	ProviderChromem ProviderType = "chromem"

	// ProviderQdrant talks to a Qdrant server over gRPC.
	ProviderQdrant ProviderType = "qdrant"

	// ProviderPinecone uses the managed Pinecone service.
	ProviderPinecone ProviderType = "pinecone"
)

// Result is one search hit.
type Result struct {
	ID       string         `json:"id"`
	Content  string         `json:"content,omitempty"`
	Score    float32        `json:"score"`
	Vector   []float32      `json:"vector,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Provider stores and searches pre-computed embeddings.
type Provider interface {
	Name() string
	Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error
	Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error)
	SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error)
	Delete(ctx context.Context, collection, id string) error
	DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error
	CreateCollection(ctx context.Context, collection string, vectorDimension int) error
	DeleteCollection(ctx context.Context, collection string) error
	Close() error
}

// Config selects and configures a provider.
type Config struct {
	Type     ProviderType    `yaml:"type" mapstructure:"type"`
	Chromem  *ChromemConfig  `yaml:"chromem,omitempty" mapstructure:"chromem"`
	Qdrant   *QdrantConfig   `yaml:"qdrant,omitempty" mapstructure:"qdrant"`
	Pinecone *PineconeConfig `yaml:"pinecone,omitempty" mapstructure:"pinecone"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Type == "" {
		c.Type = ProviderChromem
	}
	if c.Type == ProviderChromem && c.Chromem == nil {
		c.Chromem = &ChromemConfig{}
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.Type {
	case ProviderChromem:
		return nil
	case ProviderQdrant:
		if c.Qdrant == nil || c.Qdrant.Host == "" {
			return fmt.Errorf("qdrant host is required")
		}
		return nil
	case ProviderPinecone:
		if c.Pinecone == nil || c.Pinecone.APIKey == "" {
			return fmt.Errorf("pinecone api_key is required")
		}
		return nil
	case "":
		return fmt.Errorf("vector provider type is required")
	default:
		return fmt.Errorf("unknown vector provider type: %q", c.Type)
	}
}

// New creates a provider from configuration. A nil config yields the
// embedded in-memory provider.
func New(cfg *Config) (Provider, error) {
	if cfg == nil {
		return NewChromemProvider(ChromemConfig{})
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case ProviderChromem:
		chromemCfg := ChromemConfig{}
		if cfg.Chromem != nil {
			chromemCfg = *cfg.Chromem
		}
		return NewChromemProvider(chromemCfg)
	case ProviderQdrant:
		return NewQdrantProvider(*cfg.Qdrant)
	case ProviderPinecone:
		return NewPineconeProvider(*cfg.Pinecone)
	default:
		return nil, fmt.Errorf("unknown vector provider type: %q", cfg.Type)
	}
}
