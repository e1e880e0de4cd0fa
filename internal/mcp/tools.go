// Package mcp exposes the companion as Model Context Protocol tools over stdio.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/syui/aigpt/internal/engine"
)

// NewServer creates an MCP server with every aigpt tool registered.
func NewServer(eng *engine.Engine, version string) *mcpserver.MCPServer {
	s := mcpserver.NewMCPServer("aigpt", version)
	RegisterTools(s, eng)
	return s
}

// RegisterTools registers all MCP tools with the server.
func RegisterTools(server *mcpserver.MCPServer, eng *engine.Engine) *Handlers {
	h := &Handlers{engine: eng}

	server.AddTool(mcp.Tool{
		Name:        "get_status",
		Description: "Current mood, today's fortune and overall stats. Pass user_id to include that relationship.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "Optional user to include",
				},
			},
		},
	}, h.GetStatus)

	server.AddTool(mcp.Tool{
		Name:        "get_relationship",
		Description: "Relationship with one user: score, status, transmission state.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User identifier",
				},
			},
			Required: []string{"user_id"},
		},
	}, h.GetRelationship)

	server.AddTool(mcp.Tool{
		Name:        "list_relationships",
		Description: "All relationships in creation order, with aggregate stats.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, h.ListRelationships)

	server.AddTool(mcp.Tool{
		Name:        "record_interaction",
		Description: "Record one interaction with a user. Sentiment runs from -1 (hostile) to 1 (warm).",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User identifier",
				},
				"sentiment": map[string]interface{}{
					"type":        "number",
					"description": "Interaction sentiment in [-1, 1]",
					"minimum":     -1,
					"maximum":     1,
				},
			},
			Required: []string{"user_id", "sentiment"},
		},
	}, h.RecordInteraction)

	server.AddTool(mcp.Tool{
		Name:        "chat",
		Description: "Send a message as a user. Sentiment is scored from the text and the companion replies.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User identifier",
				},
				"message": map[string]interface{}{
					"type":        "string",
					"description": "Message text",
				},
			},
			Required: []string{"user_id", "message"},
		},
	}, h.Chat)

	server.AddTool(mcp.Tool{
		Name:        "get_memories",
		Description: "Newest remembered conversation turns with a user, newest first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"user_id": map[string]interface{}{
					"type":        "string",
					"description": "User identifier",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of entries (default: 10)",
					"default":     10,
				},
			},
			Required: []string{"user_id"},
		},
	}, h.GetMemories)

	server.AddTool(mcp.Tool{
		Name:        "get_fortune",
		Description: "Today's fortune (1-10), mood and whether it is a breakthrough day.",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}, h.GetFortune)

	server.AddTool(mcp.Tool{
		Name:        "list_transmissions",
		Description: "Most recent AI-initiated messages, newest first.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of entries (default: 10)",
					"default":     10,
				},
			},
		},
	}, h.ListTransmissions)

	server.AddTool(mcp.Tool{
		Name:        "run_tick",
		Description: "Run the scheduler once. With all=true, run decay and every transmission check regardless of schedule.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"all": map[string]interface{}{
					"type":        "boolean",
					"description": "Run every check now",
					"default":     false,
				},
			},
		},
	}, h.RunTick)

	return h
}
