package mcp

import (
	"context"
	"errors"

	"github.com/mark3labs/mcp-go/server"
)

// AgentNotifier pushes run lifecycle updates to connected agents.
type AgentNotifier interface {
	NotifyRunFinished(ctx context.Context, runID string, status string, detail map[string]any) error
}

// MCPNotifier implements AgentNotifier over MCP SSE push, routing each run's
// final status back to the agent that launched it.
type MCPNotifier struct {
	mcpServer *server.MCPServer
	sessions  *SessionRegistry
}

// NewMCPNotifier creates a notifier that pushes via MCP SSE.
func NewMCPNotifier(mcpServer *server.MCPServer, sessions *SessionRegistry) *MCPNotifier {
	return &MCPNotifier{mcpServer: mcpServer, sessions: sessions}
}

// NotifyRunFinished sends the run's final status to its launching agent.
// Best-effort: returns nil when the run is untracked or the agent is gone.
func (n *MCPNotifier) NotifyRunFinished(_ context.Context, runID string, status string, detail map[string]any) error {
	agentID, ok := n.sessions.AgentForRun(runID)
	if !ok {
		return nil
	}
	defer n.sessions.ReleaseRun(runID)

	sessionID, ok := n.sessions.SessionFor(agentID)
	if !ok {
		return nil
	}

	payload := map[string]any{
		"run_id": runID,
		"status": status,
	}
	for k, v := range detail {
		payload[k] = v
	}

	err := n.mcpServer.SendNotificationToSpecificClient(sessionID, "notifications/message", payload)
	if errors.Is(err, server.ErrSessionNotFound) {
		// Session expired between lookup and send.
		n.sessions.Remove(sessionID)
		return nil
	}
	return err
}
