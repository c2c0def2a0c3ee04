package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/stepflow/internal/bundle"
	"github.com/rendis/stepflow/internal/engine"
	"github.com/rendis/stepflow/internal/registry"
	"github.com/rendis/stepflow/internal/store"
	"github.com/rendis/stepflow/internal/tester"
	"github.com/rendis/stepflow/internal/validation"
)

// ServerDeps holds the dependencies for creating a StepflowServer.
type ServerDeps struct {
	Executor  *engine.Executor
	Tester    *tester.Tester
	Store     store.Store
	Registry  *registry.Registry
	Validator *validation.RevisionValidator
	Logger    *slog.Logger
}

// StepflowServer wraps an MCP server with stepflow tool handlers.
type StepflowServer struct {
	executor  *engine.Executor
	tester    *tester.Tester
	store     store.Store
	registry  *registry.Registry
	validator *validation.RevisionValidator
	loader    *bundle.Loader
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewStepflowServer creates a StepflowServer with all tools registered.
func NewStepflowServer(deps ServerDeps) *StepflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &StepflowServer{
		executor:  deps.Executor,
		tester:    deps.Tester,
		store:     deps.Store,
		registry:  deps.Registry,
		validator: deps.Validator,
		logger:    logger,
	}
	if deps.Validator != nil {
		s.loader = bundle.NewLoader(deps.Validator.JSONSchema())
	}

	mcpSrv := server.NewMCPServer(
		"stepflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Stepflow runs graph workflows and their test scenarios. Use stepflow.run to execute a workflow, stepflow.test to run its stored scenarios, stepflow.validate to check a revision or a bundle document, stepflow.query to list workflows, revisions, runs, test runs, scenarios and types, and stepflow.diagram to draw a revision."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *StepflowServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *StepflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *StepflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: testTool(), Handler: s.handleTest},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: queryTool(), Handler: s.handleQuery},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("stepflow.run",
		mcp.WithDescription("Execute a workflow and return its final context and trace"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to run")),
		mcp.WithString("revision_id", mcp.Description("Revision to run (default: the workflow's current revision)")),
		mcp.WithObject("vars", mcp.Description("Initial context variables")),
		mcp.WithArray("batch",
			mcp.Description("Several initial contexts, run concurrently; replaces vars and returns one output per entry"),
			mcp.Items(map[string]any{"type": "object"}),
		),
	)
}

func testTool() mcp.Tool {
	return mcp.NewTool("stepflow.test",
		mcp.WithDescription("Run every stored test scenario of a workflow"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("ID of the workflow to test")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("stepflow.validate",
		mcp.WithDescription("Validate a stored revision or a bundle document"),
		mcp.WithString("workflow_id", mcp.Description("Workflow whose revision to validate")),
		mcp.WithString("revision_id", mcp.Description("Revision to validate (default: current)")),
		mcp.WithString("document", mcp.Description("Bundle document to validate instead of a stored revision")),
		mcp.WithString("format",
			mcp.Enum("yaml", "json"),
			mcp.Description("Format of document (default: yaml)"),
		),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("stepflow.query",
		mcp.WithDescription("Query workflows, revisions, runs, test runs, scenarios or types"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("workflows", "revisions", "runs", "test_runs", "scenarios", "types"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (id, workflow_id, workflow_type, status, limit)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("stepflow.diagram",
		mcp.WithDescription("Draw a workflow revision as a Mermaid flowchart or a PNG image"),
		mcp.WithString("workflow_id", mcp.Required(), mcp.Description("Workflow to draw")),
		mcp.WithString("revision_id", mcp.Description("Revision to draw (default: current, or the run's revision)")),
		mcp.WithString("run_id", mcp.Description("Run whose visited steps to overlay")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("mermaid", "image"),
			mcp.Description("Output format: mermaid (flowchart syntax) or image (PNG)"),
		),
	)
}
