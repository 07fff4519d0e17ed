package api

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/askpdf/internal/conversation"
	"github.com/kalambet/askpdf/internal/extract"
	"github.com/kalambet/askpdf/internal/session"
	"github.com/kalambet/askpdf/internal/storage"
)

// defaultMCPSession is the conversation shared by every MCP call.
const defaultMCPSession = "mcp"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Sessions  *session.Manager
	Store     *storage.Store
	SessionID string // defaults to "mcp"
	Version   string
}

func (d MCPDeps) session() *session.Session {
	id := d.SessionID
	if id == "" {
		id = defaultMCPSession
	}
	return d.Sessions.GetOrCreate(id)
}

// NewMCPServer creates an MCP server with all askpdf tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"askpdf",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("askpdf answers questions about PDF documents. Ingest PDFs first, then ask."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("ingest_pdf",
			mcp.WithDescription("Extract, chunk and index PDF files, then start a fresh conversation over them."),
			mcp.WithArray("paths", mcp.Description("Paths of the PDF files to ingest"), mcp.Required(), mcp.WithStringItems()),
		),
		mcpIngestPDF(deps),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the ingested documents. Follow-up questions see the conversation so far."),
			mcp.WithString("question", mcp.Description("The question"), mcp.Required()),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("recall",
			mcp.WithDescription("Semantically search the document index and return matching chunks."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpRecall(deps),
	)

	s.AddTool(
		mcp.NewTool("reset_conversation",
			mcp.WithDescription("Discard the conversation. Ingest documents again to continue asking."),
		),
		mcpResetConversation(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"session://history",
			"Conversation History",
			mcp.WithResourceDescription("Questions and answers of the current conversation"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceHistory(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"docs://recent",
			"Recent Documents",
			mcp.WithResourceDescription("Last 10 ingested documents"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecentDocs(deps),
	)

	return s
}

func mcpIngestPDF(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		paths := req.GetStringSlice("paths", nil)
		if len(paths) == 0 {
			return mcpError("paths is required"), nil
		}

		docs := make([]extract.Document, 0, len(paths))
		for _, p := range paths {
			data, err := os.ReadFile(p)
			if err != nil {
				return mcpError(fmt.Sprintf("reading %s: %v", p, err)), nil
			}
			docs = append(docs, extract.Document{Name: filepath.Base(p), Data: data})
		}

		res, err := deps.session().Upload(ctx, docs, nil)
		if err != nil {
			return mcpError(fmt.Sprintf("ingest failed: %v", err)), nil
		}
		return mcpText(fmt.Sprintf("Indexed %d documents as %d chunks into %s (batch %s)",
			len(docs), res.Chunks, res.Handle.Name, res.BatchID)), nil
	}
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil {
			return mcpError("question is required"), nil
		}

		ans, err := deps.session().Ask(ctx, question)
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		b, err := json.Marshal(map[string]any{
			"answer":  ans.Text,
			"sources": toSources(ans.Sources),
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal answer: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecall(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		chunks, err := deps.Sessions.Recall(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("recall failed: %v", err)), nil
		}

		if len(chunks) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(toSources(chunks))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResetConversation(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		deps.session().Reset()
		return mcpText("Conversation reset"), nil
	}
}

func mcpResourceHistory(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		history := deps.session().History()
		if history == nil {
			history = []conversation.Message{}
		}

		b, err := json.Marshal(history)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal history: %w", err)
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

func mcpResourceRecentDocs(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		docs, err := deps.Store.ListDocuments(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent documents: %w", err)
		}
		if docs == nil {
			docs = []storage.Document{}
		}

		b, err := json.Marshal(docs)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
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
