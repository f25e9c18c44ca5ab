package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeAgentTypes(t *testing.T) {
	builtin := map[string]AgentTypeConfig{
		"research": {
			Description: "Built-in research agent",
			MCPServers:  []string{"builtin-server"},
		},
		"override-me": {
			Description: "Override target",
			MCPServers:  []string{"old-server"},
		},
	}

	user := map[string]AgentTypeConfig{
		"user-type": {
			Description:        "User-defined type",
			MCPServers:         []string{"user-server"},
			CustomInstructions: "User instructions",
		},
		"override-me": {
			Description: "Overridden",
			MCPServers:  []string{"new-server"},
			LLMProvider: "user-provider",
		},
	}

	result := mergeAgentTypes(builtin, user)

	require.Len(t, result, 3)

	// Built-in type survives untouched
	assert.Equal(t, "Built-in research agent", result["research"].Description)
	assert.Equal(t, []string{"builtin-server"}, result["research"].MCPServers)

	// User type is added
	assert.Equal(t, "User instructions", result["user-type"].CustomInstructions)

	// User definition completely replaces the built-in one
	assert.Equal(t, "Overridden", result["override-me"].Description)
	assert.Equal(t, []string{"new-server"}, result["override-me"].MCPServers)
	assert.Equal(t, "user-provider", result["override-me"].LLMProvider)
}

func TestMergeToolPolicies(t *testing.T) {
	builtin := map[string]ToolPolicy{
		"create_research_plan": {
			RequiresApproval: true,
			DescribeTemplate: "builtin template",
		},
		"filesystem.write_file": {
			RequiresApproval: true,
		},
	}

	user := map[string]ToolPolicy{
		"create_research_plan": {
			RequiresApproval: true,
			AllowedDecisions: []string{DecisionApprove, DecisionReject},
			DescribeTemplate: "user template",
		},
		"custom.tool": {
			RequiresApproval: false,
		},
	}

	result := mergeToolPolicies(builtin, user)

	require.Len(t, result, 3)

	// User policy replaces the built-in one wholesale
	assert.Equal(t, "user template", result["create_research_plan"].DescribeTemplate)
	assert.Equal(t, []string{DecisionApprove, DecisionReject}, result["create_research_plan"].AllowedDecisions)

	// Untouched built-in policy survives
	assert.True(t, result["filesystem.write_file"].RequiresApproval)

	// New user policy is added
	assert.False(t, result["custom.tool"].RequiresApproval)
}

func TestMergeMCPServers(t *testing.T) {
	builtin := map[string]MCPServerConfig{
		"search-server": {
			Transport: TransportConfig{Type: TransportTypeStdio, Command: "builtin-cmd"},
		},
	}

	user := map[string]MCPServerConfig{
		"search-server": {
			Transport: TransportConfig{Type: TransportTypeHTTP, URL: "http://user.example.com"},
		},
		"extra-server": {
			Transport: TransportConfig{Type: TransportTypeStdio, Command: "extra-cmd"},
		},
	}

	result := mergeMCPServers(builtin, user)

	require.Len(t, result, 2)
	assert.Equal(t, TransportTypeHTTP, result["search-server"].Transport.Type)
	assert.Equal(t, "http://user.example.com", result["search-server"].Transport.URL)
	assert.Equal(t, "extra-cmd", result["extra-server"].Transport.Command)
}

func TestMergeLLMProviders(t *testing.T) {
	builtin := map[string]LLMProviderConfig{
		"anthropic-default": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "builtin-model",
			MaxToolResultTokens: 150000,
		},
	}

	user := map[string]LLMProviderConfig{
		"anthropic-default": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "user-model",
			MaxToolResultTokens: 100000,
		},
		"user-provider": {
			Type:  LLMProviderTypeAnthropic,
			Model: "other-model",
		},
	}

	result := mergeLLMProviders(builtin, user)

	require.Len(t, result, 2)
	assert.Equal(t, "user-model", result["anthropic-default"].Model)
	assert.Equal(t, 100000, result["anthropic-default"].MaxToolResultTokens)
	assert.Equal(t, "other-model", result["user-provider"].Model)
}

func TestMergeEdgeCases(t *testing.T) {
	t.Run("only builtin", func(t *testing.T) {
		builtin := map[string]AgentTypeConfig{
			"research": {Description: "builtin only"},
		}
		result := mergeAgentTypes(builtin, map[string]AgentTypeConfig{})
		require.Len(t, result, 1)
		assert.Equal(t, "builtin only", result["research"].Description)
	})

	t.Run("only user", func(t *testing.T) {
		user := map[string]AgentTypeConfig{
			"custom": {Description: "user only"},
		}
		result := mergeAgentTypes(map[string]AgentTypeConfig{}, user)
		require.Len(t, result, 1)
		assert.Equal(t, "user only", result["custom"].Description)
	})

	t.Run("both empty", func(t *testing.T) {
		result := mergeAgentTypes(map[string]AgentTypeConfig{}, map[string]AgentTypeConfig{})
		assert.Empty(t, result)
	})

	t.Run("nil builtin", func(t *testing.T) {
		result := mergeLLMProviders(nil, map[string]LLMProviderConfig{
			"provider1": {Type: LLMProviderTypeAnthropic, Model: "model1"},
		})
		require.Len(t, result, 1)
		assert.Equal(t, "model1", result["provider1"].Model)
	})

	t.Run("entries are copies", func(t *testing.T) {
		builtin := map[string]ToolPolicy{
			"tool": {RequiresApproval: true},
		}
		result := mergeToolPolicies(builtin, map[string]ToolPolicy{})

		// Mutating the result must not reach back into the input map
		result["tool"].RequiresApproval = false
		assert.True(t, builtin["tool"].RequiresApproval)
	})
}
