package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/reflow-sh/reflow/internal/credinject"
	"github.com/reflow-sh/reflow/internal/ops"
	"github.com/reflow-sh/reflow/internal/runner"
	"github.com/reflow-sh/reflow/internal/scheduler"
	"github.com/reflow-sh/reflow/internal/secrets"
	"github.com/reflow-sh/reflow/internal/store"
	"github.com/reflow-sh/reflow/internal/streaming"
	"github.com/reflow-sh/reflow/internal/validation"
)

// ReflowServerDeps holds the dependencies for creating a ReflowServer.
type ReflowServerDeps struct {
	Runner   *runner.Runner
	Store    store.Store
	Vault    secrets.Vault
	Registry *ops.Registry
	Hub      streaming.Hub
	Logger   *slog.Logger
}

// ReflowServer wraps an MCP server with flow-script tool handlers.
type ReflowServer struct {
	runner    *runner.Runner
	store     store.Store
	vault     secrets.Vault
	registry  *ops.Registry
	hub       streaming.Hub
	logger    *slog.Logger
	validator *validation.FlowValidator
	injector  *credinject.Injector
	sessions  *SessionRegistry
	notifier  AgentNotifier
	sched     *scheduler.Scheduler
	mcpServer *server.MCPServer
}

// The server is the run entry point for cron-triggered flows.
var _ scheduler.FlowRunner = (*ReflowServer)(nil)

// NewReflowServer creates a new ReflowServer with all 6 tools registered.
func NewReflowServer(deps ReflowServerDeps) *ReflowServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	var catalog *ops.Catalog
	var lookup validation.OpLookup
	if deps.Registry != nil {
		catalog = deps.Registry.Catalog()
		lookup = deps.Registry
	}

	s := &ReflowServer{
		runner:    deps.Runner,
		store:     deps.Store,
		vault:     deps.Vault,
		registry:  deps.Registry,
		hub:       deps.Hub,
		logger:    logger,
		validator: validation.NewFlowValidator(lookup),
		injector:  credinject.NewInjector(catalog),
		sessions:  NewSessionRegistry(),
	}

	mcpSrv := server.NewMCPServer(
		"reflow",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Reflow rewrites and executes trigger-typed flow scripts. Use reflow.run to execute a script, reflow.validate to check one without running, reflow.plan to preview execution order, reflow.scan_credentials to list the secrets a script needs, reflow.list_operations to see available operation types, and reflow.query to list flows/runs/events/audits."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	s.notifier = NewMCPNotifier(mcpSrv, s.sessions)

	if deps.Store != nil {
		s.sched = scheduler.NewScheduler(deps.Store, s, logger)
	}
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin
// closes. When a store is configured the cron scheduler runs alongside the
// transport, dispatching due scheduled jobs through RunFlow.
func (s *ReflowServer) Serve(ctx context.Context) error {
	if s.sched != nil {
		if err := s.sched.RecoverMissed(ctx); err != nil {
			s.logger.Warn("missed-job recovery failed", "error", err.Error())
		}
		if err := s.sched.Start(ctx); err != nil {
			return err
		}
		defer func() {
			if err := s.sched.Stop(); err != nil {
				s.logger.Warn("scheduler shutdown failed", "error", err.Error())
			}
		}()
	}

	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// Scheduler returns the cron scheduler, or nil when no store is configured.
func (s *ReflowServer) Scheduler() *scheduler.Scheduler {
	return s.sched
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *ReflowServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 6 registered MCP tools as ServerTool entries.
func (s *ReflowServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: planTool(), Handler: s.handlePlan},
		{Tool: scanCredentialsTool(), Handler: s.handleScanCredentials},
		{Tool: listOperationsTool(), Handler: s.handleListOperations},
		{Tool: queryTool(), Handler: s.handleQuery},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("reflow.run",
		mcp.WithDescription("Rewrite and execute a flow script: validate, inject credentials, instrument, run sandboxed, and return the structured result with trace"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flow script source text")),
		mcp.WithObject("payload", mcp.Description("Trigger payload passed to the handle method")),
		mcp.WithObject("user_credentials", mcp.Description("Per-operation secret overrides: op ID (string) to an object of credential type to value")),
		mcp.WithString("flow_id", mcp.Description("Existing flow ID to record the run under")),
		mcp.WithString("agent_id", mcp.Description("ID of the calling agent, used for notifications")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("reflow.validate",
		mcp.WithDescription("Validate a flow script without executing it: structure, operation types, payload shape, and dependency cycles"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flow script source text")),
		mcp.WithObject("payload", mcp.Description("Optional trigger payload to check against the declared payload interface")),
	)
}

func planTool() mcp.Tool {
	return mcp.NewTool("reflow.plan",
		mcp.WithDescription("Build the anticipated execution plan for a flow script: ordered steps with per-operation instantiate and execute phases"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flow script source text")),
	)
}

func scanCredentialsTool() mcp.Tool {
	return mcp.NewTool("reflow.scan_credentials",
		mcp.WithDescription("List the credential types each operation in a flow script requires, without resolving any secret values"),
		mcp.WithString("source", mcp.Required(), mcp.Description("Flow script source text")),
	)
}

func listOperationsTool() mcp.Tool {
	return mcp.NewTool("reflow.list_operations",
		mcp.WithDescription("List the registered operation types with their kinds and static credential requirements"),
	)
}

func queryTool() mcp.Tool {
	return mcp.NewTool("reflow.query",
		mcp.WithDescription("Query stored flows, runs, run events, or credential injection audits"),
		mcp.WithString("resource", mcp.Required(),
			mcp.Enum("flows", "runs", "events", "audits"),
			mcp.Description("Type of resource to query"),
		),
		mcp.WithObject("filter", mcp.Description("Filter criteria (status, trigger_tag, flow_id, run_id, event_type, credential_type, since, limit)")),
	)
}
