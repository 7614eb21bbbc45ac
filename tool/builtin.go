package tool

import (
	"context"
	"fmt"

	"github.com/turnpike-ai/turnpike/memory"
)

// MemoryWriter is the slice of the memory manager the built-in tools need.
type MemoryWriter interface {
	Store(ctx context.Context, rec memory.Record) (string, error)
	Search(ctx context.Context, text, agentID string, q memory.Query) ([]memory.SearchResult, error)
}

// NewMemorySaveTool exposes memory storage to the model so it can remember
// facts the user states. agentID scopes the records.
func NewMemorySaveTool(mgr MemoryWriter, agentID string) *FuncTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"content": map[string]any{
				"type":        "string",
				"description": "The fact to remember, phrased as a standalone statement",
			},
			"memory_type": map[string]any{
				"type": "string",
				"enum": []string{"episodic", "semantic", "procedural", "working"},
			},
			"importance": map[string]any{
				"type":    "number",
				"minimum": 0,
				"maximum": 1,
			},
		},
		"required": []string{"content"},
	}
	return NewFuncTool(
		"memory_save",
		"Save a fact to long-term memory for future conversations",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			content, _ := args["content"].(string)
			rec := memory.Record{AgentID: agentID, Content: content}
			if typ, ok := args["memory_type"].(string); ok {
				rec.Type = memory.Type(typ)
			}
			if imp, ok := args["importance"].(float64); ok {
				rec.Importance = imp
			}
			id, err := mgr.Store(ctx, rec)
			if err != nil {
				return nil, NewErr("memory_save", CodeExecution, err.Error())
			}
			return map[string]any{"memory_id": id}, nil
		},
	)
}

// NewMemorySearchTool exposes memory retrieval to the model for explicit
// recall requests.
func NewMemorySearchTool(mgr MemoryWriter, agentID string) *FuncTool {
	params := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "What to look for",
			},
			"max_results": map[string]any{
				"type":    "integer",
				"minimum": 1,
				"maximum": 20,
			},
		},
		"required": []string{"query"},
	}
	return NewFuncTool(
		"memory_search",
		"Search long-term memory for previously saved facts",
		params,
		func(ctx context.Context, args map[string]any) (any, error) {
			query, _ := args["query"].(string)
			maxResults := 5
			if n, ok := args["max_results"].(float64); ok && n > 0 {
				maxResults = int(n)
			}
			results, err := mgr.Search(ctx, query, agentID, memory.Query{MaxResults: maxResults})
			if err != nil {
				return nil, NewErr("memory_search", CodeExecution, err.Error())
			}
			out := make([]map[string]any, 0, len(results))
			for _, res := range results {
				out = append(out, map[string]any{
					"content":    res.Record.Content,
					"type":       string(res.Record.Type),
					"similarity": fmt.Sprintf("%.3f", res.Similarity),
				})
			}
			return map[string]any{"memories": out}, nil
		},
	)
}
