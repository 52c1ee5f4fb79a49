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

package vector

import (
	"context"
	"fmt"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeConfig configures the managed Pinecone provider.
type PineconeConfig struct {
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	Host      string `yaml:"host,omitempty" mapstructure:"host"`
	IndexName string `yaml:"index_name" mapstructure:"index_name"`
}

// PineconeProvider uses the managed Pinecone service. Indexes must be
// created out of band; collection names map to index names.
type PineconeProvider struct {
	client    *pinecone.Client
	indexName string
}

// NewPineconeProvider creates a Pinecone provider.
func NewPineconeProvider(cfg PineconeConfig) (*PineconeProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("pinecone api key is required")
	}
	params := pinecone.NewClientParams{ApiKey: cfg.APIKey}
	if cfg.Host != "" {
		params.Host = cfg.Host
	}
	client, err := pinecone.NewClient(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create pinecone client: %w", err)
	}

	indexName := cfg.IndexName
	if indexName == "" {
		indexName = "swarmai-index"
	}
	return &PineconeProvider{client: client, indexName: indexName}, nil
}

func (p *PineconeProvider) Name() string { return "pinecone" }

func (p *PineconeProvider) index(collection string) string {
	if collection != "" {
		return collection
	}
	return p.indexName
}

func (p *PineconeProvider) connect(ctx context.Context, indexName string) (*pinecone.IndexConnection, error) {
	index, err := p.client.DescribeIndex(ctx, indexName)
	if err != nil {
		return nil, fmt.Errorf("failed to describe index %s: %w", indexName, err)
	}
	conn, err := p.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to index %s: %w", indexName, err)
	}
	return conn, nil
}

func (p *PineconeProvider) Upsert(ctx context.Context, collection, id string, vector []float32, metadata map[string]any) error {
	conn, err := p.connect(ctx, p.index(collection))
	if err != nil {
		return err
	}
	defer conn.Close()

	var meta *pinecone.Metadata
	if len(metadata) > 0 {
		meta, err = structpb.NewStruct(metadata)
		if err != nil {
			return fmt.Errorf("failed to convert metadata: %w", err)
		}
	}

	_, err = conn.UpsertVectors(ctx, []*pinecone.Vector{{Id: id, Values: vector, Metadata: meta}})
	if err != nil {
		return fmt.Errorf("failed to upsert vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) Search(ctx context.Context, collection string, vector []float32, topK int) ([]Result, error) {
	return p.SearchWithFilter(ctx, collection, vector, topK, nil)
}

func (p *PineconeProvider) SearchWithFilter(ctx context.Context, collection string, vector []float32, topK int, filter map[string]any) ([]Result, error) {
	conn, err := p.connect(ctx, p.index(collection))
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metaFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metaFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("failed to convert filter: %w", err)
		}
	}

	resp, err := conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:          vector,
		TopK:            uint32(topK),
		MetadataFilter:  metaFilter,
		IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("pinecone query failed: %w", err)
	}

	out := make([]Result, 0, len(resp.Matches))
	for _, match := range resp.Matches {
		if match.Vector == nil {
			continue
		}
		metadata := make(map[string]any)
		if match.Vector.Metadata != nil {
			metadata = match.Vector.Metadata.AsMap()
		}
		content, _ := metadata["content"].(string)
		out = append(out, Result{
			ID:       match.Vector.Id,
			Score:    match.Score,
			Content:  content,
			Metadata: metadata,
		})
	}
	return out, nil
}

func (p *PineconeProvider) Delete(ctx context.Context, collection, id string) error {
	conn, err := p.connect(ctx, p.index(collection))
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeleteVectorsById(ctx, []string{id}); err != nil {
		return fmt.Errorf("failed to delete vector: %w", err)
	}
	return nil
}

func (p *PineconeProvider) DeleteByFilter(ctx context.Context, collection string, filter map[string]any) error {
	conn, err := p.connect(ctx, p.index(collection))
	if err != nil {
		return err
	}
	defer conn.Close()

	metaFilter, err := structpb.NewStruct(filter)
	if err != nil {
		return fmt.Errorf("failed to convert filter: %w", err)
	}
	if err := conn.DeleteVectorsByFilter(ctx, metaFilter); err != nil {
		return fmt.Errorf("failed to delete by filter: %w", err)
	}
	return nil
}

// CreateCollection only verifies the index exists; Pinecone indexes are
// provisioned out of band.
func (p *PineconeProvider) CreateCollection(ctx context.Context, collection string, _ int) error {
	indexName := p.index(collection)
	indexes, err := p.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("failed to list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == indexName {
			return nil
		}
	}
	return fmt.Errorf("pinecone index %s does not exist", indexName)
}

func (p *PineconeProvider) DeleteCollection(_ context.Context, collection string) error {
	return fmt.Errorf("pinecone index deletion is managed out of band: %s", p.index(collection))
}

func (p *PineconeProvider) Close() error { return nil }

var _ Provider = (*PineconeProvider)(nil)
