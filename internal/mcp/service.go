// Package mcp exposes the engine's index operations as Model Context
// Protocol tools, so agent runtimes can use a running hnswd as a vector
// store.
package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/hnswdb/pkg/core/hnsw"
	"github.com/sanonone/hnswdb/pkg/engine"
)

// Service adapts engine operations to tool handlers.
type Service struct {
	engine *engine.Engine
}

func NewService(eng *engine.Engine) *Service {
	return &Service{engine: eng}
}

func (s *Service) CreateIndex(ctx context.Context, req *mcp.CallToolRequest, args CreateIndexArgs) (*mcp.CallToolResult, CreateIndexResult, error) {
	err := s.engine.IndexCreate(hnsw.Config{
		Name:           args.Name,
		Dim:            args.Dim,
		M:              args.M,
		EfConstruction: args.EfConstruction,
	})
	if err != nil {
		return nil, CreateIndexResult{}, err
	}
	return nil, CreateIndexResult{Name: args.Name}, nil
}

func (s *Service) ListIndexes(ctx context.Context, req *mcp.CallToolRequest, args struct{}) (*mcp.CallToolResult, ListIndexesResult, error) {
	infos := s.engine.IndexInfos()
	summaries := make([]IndexSummary, len(infos))
	for i, info := range infos {
		summaries[i] = IndexSummary{
			Name:           info.Name,
			Dim:            info.Dim,
			M:              info.M,
			EfConstruction: info.EfConstruction,
			NodeCount:      info.NodeCount,
			Precision:      string(info.Precision),
		}
	}
	return nil, ListIndexesResult{Indexes: summaries}, nil
}

func (s *Service) AddVector(ctx context.Context, req *mcp.CallToolRequest, args AddVectorArgs) (*mcp.CallToolResult, AddVectorResult, error) {
	if err := s.engine.NodeAdd(args.Index, args.Name, args.Vector); err != nil {
		return nil, AddVectorResult{}, err
	}
	return nil, AddVectorResult{Name: args.Name}, nil
}

func (s *Service) GetVector(ctx context.Context, req *mcp.CallToolRequest, args GetVectorArgs) (*mcp.CallToolResult, GetVectorResult, error) {
	info, err := s.engine.NodeGet(args.Index, args.Name)
	if err != nil {
		return nil, GetVectorResult{}, err
	}
	return nil, GetVectorResult{
		Name:   info.Name,
		Vector: info.Vector,
		Layer:  info.Layer,
	}, nil
}

func (s *Service) DeleteVector(ctx context.Context, req *mcp.CallToolRequest, args DeleteVectorArgs) (*mcp.CallToolResult, DeleteVectorResult, error) {
	if err := s.engine.NodeDelete(args.Index, args.Name); err != nil {
		return nil, DeleteVectorResult{}, err
	}
	return nil, DeleteVectorResult{Name: args.Name}, nil
}

func (s *Service) Search(ctx context.Context, req *mcp.CallToolRequest, args SearchArgs) (*mcp.CallToolResult, SearchResult, error) {
	k := args.K
	if k == 0 {
		k = 5
	}
	results, err := s.engine.Search(args.Index, args.Query, k)
	if err != nil {
		return nil, SearchResult{}, err
	}
	hits := make([]SearchHit, len(results))
	for i, r := range results {
		hits[i] = SearchHit{Name: r.Name, Distance: r.Dist}
	}
	return nil, SearchResult{Hits: hits}, nil
}
