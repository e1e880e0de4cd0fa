package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/syui/aigpt/internal/engine"
)

// Handlers implements the MCP tools over an engine.
type Handlers struct {
	engine *engine.Engine
}

// jsonResult renders v as an indented JSON text result.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

// GetStatus handles the get_status tool.
func (h *Handlers) GetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	st, err := h.engine.Status(request.GetString("user_id", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(st)
}

// GetRelationship handles the get_relationship tool.
func (h *Handlers) GetRelationship(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	r, err := h.engine.Relationship(userID)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(r)
}

// ListRelationships handles the list_relationships tool.
func (h *Handlers) ListRelationships(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rels, err := h.engine.Relationships.List()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	st, err := h.engine.Relationships.Stats()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"relationships": rels, "stats": st})
}

// RecordInteraction handles the record_interaction tool.
func (h *Handlers) RecordInteraction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	sentiment, err := request.RequireFloat("sentiment")
	if err != nil {
		return mcp.NewToolResultError("sentiment argument is required and must be a number"), nil
	}
	res, err := h.engine.Interact(userID, sentiment)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// Chat handles the chat tool.
func (h *Handlers) Chat(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	message, err := request.RequireString("message")
	if err != nil {
		return mcp.NewToolResultError("message argument is required and must be a string"), nil
	}
	res, err := h.engine.Chat(ctx, userID, message)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(res)
}

// GetMemories handles the get_memories tool.
func (h *Handlers) GetMemories(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	userID, err := request.RequireString("user_id")
	if err != nil {
		return mcp.NewToolResultError("user_id argument is required and must be a string"), nil
	}
	mems, err := h.engine.Memories(userID, request.GetInt("limit", engine.DefaultMemoryLimit))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"user_id": userID, "memories": mems})
}

// GetFortune handles the get_fortune tool.
func (h *Handlers) GetFortune(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	f, err := h.engine.TodaysFortune()
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{
		"fortune":          f,
		"mood":             f.Mood(),
		"mood_description": f.Mood().Describe(),
	})
}

// ListTransmissions handles the list_transmissions tool.
func (h *Handlers) ListTransmissions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)
	if limit <= 0 {
		limit = 10
	}
	logs, st, err := h.engine.RecentTransmissions(limit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"transmissions": logs, "stats": st})
}

// RunTick handles the run_tick tool.
func (h *Handlers) RunTick(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var (
		rep engine.TickReport
		err error
	)
	if request.GetBool("all", false) {
		rep, err = h.engine.RunAll(context.WithoutCancel(ctx))
	} else {
		rep, err = h.engine.Tick(context.WithoutCancel(ctx))
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(rep)
}
