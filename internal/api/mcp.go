package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/insightgenix/insightgenix/internal/session"
	"github.com/insightgenix/insightgenix/internal/training"
	"github.com/insightgenix/insightgenix/internal/vector"
)

// MCPDeps holds the MCP server's collaborators.
type MCPDeps struct {
	Session *session.Session
	Manager *training.Manager
}

// NewMCPServer registers the SQL assistant tools on an MCP server so agent
// clients can generate queries and manage grounding material.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"insightgenix",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("insightgenix — text-to-SQL assistant grounded on trained examples, schema and documentation."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("generate_sql",
			mcp.WithDescription("Generate and execute a SQL query for a natural-language question, grounded on the trained examples, schema and documentation."),
			mcp.WithString("question", mcp.Description("Natural-language question about the data"), mcp.Required()),
		),
		mcpGenerateSQL(deps),
	)

	s.AddTool(
		mcp.NewTool("train",
			mcp.WithDescription("Store grounding material. Provide exactly one of: question+query (SQL example), ddl_statement (schema), or documentation."),
			mcp.WithString("question", mcp.Description("Question for a SQL example")),
			mcp.WithString("query", mcp.Description("SQL answer for the question")),
			mcp.WithString("ddl_statement", mcp.Description("Schema DDL statement")),
			mcp.WithString("documentation", mcp.Description("Free-text documentation about the data")),
		),
		mcpTrain(deps),
	)

	s.AddTool(
		mcp.NewTool("list_training_data",
			mcp.WithDescription("List all stored training data across the sql, ddl and documentation collections."),
		),
		mcpListTrainingData(deps),
	)

	s.AddTool(
		mcp.NewTool("remove_training_data",
			mcp.WithDescription("Remove one training item by its suffixed identifier (…-sql, …-ddl or …-doc)."),
			mcp.WithString("id", mcp.Description("Training data identifier"), mcp.Required()),
		),
		mcpRemoveTrainingData(deps),
	)

	return s
}

func mcpGenerateSQL(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		reply, err := deps.Session.Handle(ctx, "query: "+question, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("generation failed: %v", err)), nil
		}

		out := map[string]string{"response": reply.Content}
		if reply.ResultSample != "" {
			out["result_sample"] = reply.ResultSample
		}
		if reply.ExecError != "" {
			out["exec_error"] = reply.ExecError
		}
		b, err := json.Marshal(out)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTrain(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		trainReq := training.Request{}
		question := req.GetString("question", "")
		query := req.GetString("query", "")
		ddl := req.GetString("ddl_statement", "")
		documentation := req.GetString("documentation", "")

		if documentation != "" {
			trainReq.Documentation = &training.DocumentationEntry{Text: documentation}
		} else if question != "" || query != "" {
			trainReq.SQL = &training.SQLExample{Question: question, Query: query}
		} else if ddl != "" {
			trainReq.DDL = &training.SchemaStatement{DDL: ddl}
		}

		id, err := deps.Manager.Train(ctx, trainReq)
		if errors.Is(err, training.ErrMalformedItem) {
			return mcpError(fmt.Sprintf("invalid training item: %v", err)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("training failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Stored training data %s", id)), nil
	}
}

func mcpListTrainingData(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		rows, err := deps.Manager.GetTrainingData(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("listing failed: %v", err)), nil
		}
		if len(rows) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(rows)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal rows: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRemoveTrainingData(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := req.RequireString("id")
		if err != nil {
			return mcpError("id is required"), nil
		}

		removed, err := deps.Manager.Remove(ctx, id)
		if errors.Is(err, vector.ErrNotFound) {
			return mcpError(fmt.Sprintf("training data %s not found", id)), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("removal failed: %v", err)), nil
		}
		if !removed {
			return mcpError(fmt.Sprintf("unrecognized identifier suffix on %s", id)), nil
		}
		return mcpText(fmt.Sprintf("Removed training data %s", id)), nil
	}
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
