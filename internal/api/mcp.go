package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/topanga/clawrelay/internal/relay"
	"github.com/topanga/clawrelay/internal/storage"
)

// MCPCompleter abstracts the non-streaming relay call for the MCP layer.
type MCPCompleter interface {
	Complete(ctx context.Context, p relay.Payload) (string, error)
}

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Gateway    MCPCompleter
	Store      *storage.Store
	SessionKey string // default session for chat_history and the recent resource
	Version    string
}

// NewMCPServer creates an MCP server exposing the relay as tools.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := server.NewMCPServer(
		"clawrelay",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("clawrelay: send messages to the OpenClaw agent and read stored session transcripts."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("chat",
			mcp.WithDescription("Send a message to the OpenClaw agent and return its reply."),
			mcp.WithString("message", mcp.Description("The message text"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session identifier passed upstream as the user")),
		),
		mcpChat(deps),
	)

	s.AddTool(
		mcp.NewTool("chat_history",
			mcp.WithDescription("List stored transcript messages for a session, oldest first."),
			mcp.WithString("session_id", mcp.Description("Session identifier (defaults to the configured session key)")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of messages (default 20)")),
		),
		mcpChatHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"session://recent",
			"Recent Messages",
			mcp.WithResourceDescription("Last 10 stored messages of the default session"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpChat(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		message, err := req.RequireString("message")
		if err != nil || message == "" {
			return mcpError("message is required"), nil
		}

		chatReq := relay.ChatRequest{
			Message:   message,
			SessionID: req.GetString("session_id", ""),
		}
		reply, err := deps.Gateway.Complete(ctx, relay.NewPayload(chatReq, false))
		if err != nil {
			return mcpError(fmt.Sprintf("chat failed: %v", err)), nil
		}

		return mcpText(reply), nil
	}
}

type mcpMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
}

func mcpChatHistory(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		sessionID := req.GetString("session_id", deps.SessionKey)
		if sessionID == "" {
			sessionID = deps.SessionKey
		}

		limit := req.GetInt("limit", 20)
		if limit <= 0 {
			limit = 20
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		msgs, err := deps.Store.ListMessages(sessionID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing messages failed: %v", err)), nil
		}

		b, err := json.Marshal(toMCPMessages(msgs, 0))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal messages: %v", err)), nil
		}

		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		msgs, err := deps.Store.ListMessages(deps.SessionKey, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to list recent messages: %w", err)
		}

		b, err := json.Marshal(toMCPMessages(msgs, 200))
		if err != nil {
			return nil, fmt.Errorf("failed to marshal messages: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

// toMCPMessages converts stored messages, truncating content to maxRunes
// when maxRunes > 0.
func toMCPMessages(msgs []storage.Message, maxRunes int) []mcpMessage {
	out := make([]mcpMessage, len(msgs))
	for i, m := range msgs {
		content := m.Content
		if maxRunes > 0 && utf8.RuneCountInString(content) > maxRunes {
			runes := []rune(content)
			content = string(runes[:maxRunes]) + "..."
		}
		out[i] = mcpMessage{
			Role:      m.Role,
			Content:   content,
			Source:    m.Source,
			CreatedAt: m.CreatedAt.Format(time.RFC3339),
		}
	}
	return out
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
