package mcp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStepflowServer(t *testing.T) {
	s := NewStepflowServer(ServerDeps{})
	require.NotNil(t, s)
	assert.NotNil(t, s.mcpServer)
	assert.NotNil(t, s.logger)
	assert.Nil(t, s.loader)
}

func TestToolRegistration(t *testing.T) {
	s := NewStepflowServer(ServerDeps{})

	tools := s.mcpServer.ListTools()
	require.Len(t, tools, 5)

	for _, name := range []string{
		"stepflow.run",
		"stepflow.test",
		"stepflow.validate",
		"stepflow.query",
		"stepflow.diagram",
	} {
		assert.NotNil(t, s.mcpServer.GetTool(name), "tool %s should be registered", name)
	}
}

func TestToolDefinitions(t *testing.T) {
	tests := []struct {
		name        string
		toolName    string
		description string
	}{
		{"run", "stepflow.run", "Execute a workflow and return its final context and trace"},
		{"test", "stepflow.test", "Run every stored test scenario of a workflow"},
		{"validate", "stepflow.validate", "Validate a stored revision or a bundle document"},
		{"query", "stepflow.query", "Query workflows, revisions, runs, test runs, scenarios or types"},
		{"diagram", "stepflow.diagram", "Draw a workflow revision as a Mermaid flowchart or a PNG image"},
	}

	s := NewStepflowServer(ServerDeps{})

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tool := s.mcpServer.GetTool(tc.toolName)
			require.NotNil(t, tool)
			assert.Equal(t, tc.description, tool.Tool.Description)
		})
	}
}
