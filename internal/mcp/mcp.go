// Package mcp implements the Model Context Protocol server for Satsgate.
//
// The MCP server exposes the agent orchestrator, wallet, and payment audit
// trail as tools, so MCP-compatible AI agents can run paid queries and
// inspect spending without speaking the HTTP API.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/satsgate-ai/satsgate/internal/agent"
	"github.com/satsgate-ai/satsgate/internal/model"
	"github.com/satsgate-ai/satsgate/internal/storage"
)

// Server wraps the MCP server with Satsgate's service layer.
type Server struct {
	mcpServer *mcpserver.MCPServer
	agent     *agent.Agent
	store     *storage.Store
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all tools and resources.
func New(a *agent.Agent, store *storage.Store, version string, logger *slog.Logger) *Server {
	s := &Server{
		agent:  a,
		store:  store,
		logger: logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"satsgate",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
	)

	s.registerResources()
	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func (s *Server) registerResources() {
	// satsgate://agent/status: wallet, reputation, and task counters.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"satsgate://agent/status",
			"Agent Status",
			mcplib.WithResourceDescription("Wallet balance, reputation score, and task counters for the agent"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentStatus,
	)

	// satsgate://payments/recent: the payment audit trail.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"satsgate://payments/recent",
			"Recent Payments",
			mcplib.WithResourceDescription("Recently verified L402 payments, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handlePaymentsRecent,
	)
}

func (s *Server) registerTools() {
	// satsgate_task runs a query through the paid-API cycle.
	s.mcpServer.AddTool(
		mcplib.NewTool("satsgate_task",
			mcplib.WithDescription("Run a query against the paid APIs. The agent routes the query, pays any L402 challenge within policy, and returns the result with its action trail."),
			mcplib.WithString("query", mcplib.Description("Natural language query, e.g. 'weather in tokyo' or 'BTC price'"), mcplib.Required()),
			mcplib.WithString("priority", mcplib.Description("Task priority: low, normal, high, or critical")),
		),
		s.handleTask,
	)

	// satsgate_wallet: wallet stats and recent transactions.
	s.mcpServer.AddTool(
		mcplib.NewTool("satsgate_wallet",
			mcplib.WithDescription("Inspect the agent's wallet: balance, hourly spend, and recent transactions"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum transactions to return")),
		),
		s.handleWallet,
	)

	// satsgate_payments: the durable payment audit trail.
	s.mcpServer.AddTool(
		mcplib.NewTool("satsgate_payments",
			mcplib.WithDescription("List verified L402 payments from the audit trail, newest first"),
			mcplib.WithNumber("limit", mcplib.Description("Maximum records to return")),
		),
		s.handlePayments,
	)
}

func (s *Server) handleAgentStatus(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(s.agent.Status(ctx), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal status: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "satsgate://agent/status",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handlePaymentsRecent(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	records, err := s.store.ListPayments(ctx, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent payments: %w", err)
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal payments: %w", err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      "satsgate://payments/recent",
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

func (s *Server) handleTask(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	query := request.GetString("query", "")
	if query == "" {
		return errorResult("query is required"), nil
	}
	priority := model.ParsePriority(request.GetString("priority", ""))

	task, err := s.agent.ExecuteTask(ctx, query, priority)
	if err != nil {
		return errorResult(fmt.Sprintf("task execution failed: %v", err)), nil
	}

	resultData, _ := json.MarshalIndent(task, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handleWallet(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	resultData, _ := json.MarshalIndent(map[string]any{
		"wallet":       s.agent.Wallet().Stats(),
		"transactions": s.agent.Wallet().History(limit),
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func (s *Server) handlePayments(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	limit := request.GetInt("limit", 20)
	records, err := s.store.ListPayments(ctx, limit)
	if err != nil {
		return errorResult(fmt.Sprintf("list payments failed: %v", err)), nil
	}
	resultData, _ := json.MarshalIndent(map[string]any{
		"payments": records,
		"total":    len(records),
	}, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(resultData)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
