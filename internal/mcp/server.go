package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sanonone/hnswdb/pkg/engine"
)

// NewMCPServer builds the MCP server with the index tools registered. The
// generic AddTool derives each tool's input schema from its args struct.
func NewMCPServer(eng *engine.Engine) *mcp.Server {
	service := NewService(eng)

	s := mcp.NewServer(&mcp.Implementation{
		Name:    "HNSWDB",
		Version: "0.3.0",
	}, nil)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "create_index",
		Description: "Create a new HNSW vector index with a fixed dimensionality.",
	}, service.CreateIndex)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "list_indexes",
		Description: "List the names of all vector indexes.",
	}, service.ListIndexes)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "add_vector",
		Description: "Insert a named vector into an index.",
	}, service.AddVector)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "get_vector",
		Description: "Retrieve a stored vector and its graph layer by name.",
	}, service.GetVector)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "delete_vector",
		Description: "Remove a vector from an index; the graph repairs itself around it.",
	}, service.DeleteVector)

	mcp.AddTool(s, &mcp.Tool{
		Name:        "vector_search",
		Description: "Find the k nearest vectors to a query under squared Euclidean distance.",
	}, service.Search)

	return s
}

// RunStdio serves MCP over stdin/stdout until the context ends.
func RunStdio(ctx context.Context, eng *engine.Engine) error {
	return NewMCPServer(eng).Run(ctx, &mcp.StdioTransport{})
}
