package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all Tradegate tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("tradegate", "1.0.0")
	client := NewClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolAssessTrade, h.HandleAssessTrade)
	s.AddTool(ToolAssessBatch, h.HandleAssessBatch)
	s.AddTool(ToolGetHealth, h.HandleGetHealth)
	s.AddTool(ToolGetMemory, h.HandleGetMemory)
	s.AddTool(ToolGetStats, h.HandleGetStats)
	if cfg.AdminSecret != "" {
		s.AddTool(ToolResetLearning, h.HandleResetLearning)
	}

	return s
}
