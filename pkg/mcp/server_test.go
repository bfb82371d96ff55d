package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReflowServer(t *testing.T) {
	s := NewReflowServer(ReflowServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.NotNil(t, s.validator)
	assert.NotNil(t, s.sessions)
	assert.NotNil(t, s.notifier)
	// Without a store there is nothing to schedule against.
	assert.Nil(t, s.Scheduler())
}

func TestNewReflowServerWiresScheduler(t *testing.T) {
	s, _ := newTestServer(t, nil)
	assert.NotNil(t, s.Scheduler())
}

func TestToolRegistration(t *testing.T) {
	s := NewReflowServer(ReflowServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 6)

	expectedTools := []string{
		"reflow.run",
		"reflow.validate",
		"reflow.plan",
		"reflow.scan_credentials",
		"reflow.list_operations",
		"reflow.query",
	}
	for _, name := range expectedTools {
		tool := s.mcpServer.GetTool(name)
		assert.NotNil(t, tool, "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	s := NewReflowServer(ReflowServerDeps{})

	run := s.mcpServer.GetTool("reflow.run")
	require.NotNil(t, run)
	assert.Contains(t, run.Tool.Description, "execute a flow script")

	query := s.mcpServer.GetTool("reflow.query")
	require.NotNil(t, query)
	assert.Contains(t, query.Tool.Description, "injection audits")
}

func TestMCPServerAccessor(t *testing.T) {
	s := NewReflowServer(ReflowServerDeps{})
	assert.Same(t, s.mcpServer, s.MCPServer())
}
