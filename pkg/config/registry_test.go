package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Agent Type Registry

func TestAgentTypeRegistry(t *testing.T) {
	agentTypes := map[string]*AgentTypeConfig{
		"research": {MCPServers: []string{"server1"}},
		"analysis": {MCPServers: []string{"server2"}},
	}

	registry := NewAgentTypeRegistry(agentTypes)

	t.Run("Get existing agent type", func(t *testing.T) {
		at, err := registry.Get("research")
		require.NoError(t, err)
		assert.Equal(t, []string{"server1"}, at.MCPServers)
	})

	t.Run("Get nonexistent agent type", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAgentTypeNotFound)
	})

	t.Run("Has agent type", func(t *testing.T) {
		assert.True(t, registry.Has("research"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["extra"] = &AgentTypeConfig{MCPServers: []string{"server3"}}

		// Original registry should be unchanged
		assert.False(t, registry.Has("extra"))
	})
}

func TestAgentTypeRegistryThreadSafety(_ *testing.T) {
	agentTypes := map[string]*AgentTypeConfig{
		"research": {MCPServers: []string{"server1"}},
		"analysis": {MCPServers: []string{"server2"}},
	}

	registry := NewAgentTypeRegistry(agentTypes)

	const goroutines = 100
	var wg sync.WaitGroup

	// Launch multiple goroutines reading concurrently
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get("research")
			_ = registry.Has("analysis")
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}

// Test Tool Policy Registry

func TestToolPolicyRegistry(t *testing.T) {
	policies := map[string]*ToolPolicy{
		"dangerous_tool": {
			RequiresApproval: true,
			AllowedDecisions: []string{DecisionApprove, DecisionReject},
		},
		"harmless_tool": {
			RequiresApproval: false,
		},
	}

	registry := NewToolPolicyRegistry(policies)

	t.Run("Get existing policy", func(t *testing.T) {
		policy, err := registry.Get("dangerous_tool")
		require.NoError(t, err)
		assert.True(t, policy.RequiresApproval)
	})

	t.Run("Get nonexistent policy", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrToolPolicyNotFound)
	})

	t.Run("Policy falls back to ungated", func(t *testing.T) {
		policy := registry.Policy("unlisted_tool")
		require.NotNil(t, policy)
		assert.False(t, policy.RequiresApproval)
	})

	t.Run("Has policy", func(t *testing.T) {
		assert.True(t, registry.Has("dangerous_tool"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["extra_tool"] = &ToolPolicy{RequiresApproval: true}

		// Original registry should be unchanged
		assert.False(t, registry.Has("extra_tool"))
	})
}

func TestToolPolicyRegistryThreadSafety(_ *testing.T) {
	policies := map[string]*ToolPolicy{
		"dangerous_tool": {RequiresApproval: true},
	}

	registry := NewToolPolicyRegistry(policies)

	const goroutines = 100
	var wg sync.WaitGroup

	// Launch multiple goroutines reading concurrently
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get("dangerous_tool")
			_ = registry.Policy("unlisted_tool")
			_ = registry.Has("dangerous_tool")
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}

// Test MCP Server Registry

func TestMCPServerRegistry(t *testing.T) {
	servers := map[string]*MCPServerConfig{
		"server1": {
			Transport: TransportConfig{Type: TransportTypeStdio, Command: "cmd1"},
		},
		"server2": {
			Transport: TransportConfig{Type: TransportTypeHTTP, URL: "http://example.com"},
		},
	}

	registry := NewMCPServerRegistry(servers)

	t.Run("Get existing server", func(t *testing.T) {
		server, err := registry.Get("server1")
		require.NoError(t, err)
		assert.Equal(t, "cmd1", server.Transport.Command)
	})

	t.Run("Get nonexistent server", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrMCPServerNotFound)
	})

	t.Run("Has server", func(t *testing.T) {
		assert.True(t, registry.Has("server1"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("ServerIDs sorted", func(t *testing.T) {
		assert.Equal(t, []string{"server1", "server2"}, registry.ServerIDs())
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["server3"] = &MCPServerConfig{
			Transport: TransportConfig{Type: TransportTypeStdio, Command: "cmd3"},
		}

		// Original registry should be unchanged
		assert.False(t, registry.Has("server3"))
	})
}

func TestMCPServerRegistryThreadSafety(_ *testing.T) {
	servers := map[string]*MCPServerConfig{
		"server1": {
			Transport: TransportConfig{Type: TransportTypeStdio, Command: "cmd1"},
		},
	}

	registry := NewMCPServerRegistry(servers)

	const goroutines = 100
	var wg sync.WaitGroup

	// Launch multiple goroutines reading concurrently
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get("server1")
			_ = registry.Has("server1")
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}

// Test LLM Provider Registry

func TestLLMProviderRegistry(t *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"provider1": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "model1",
			MaxToolResultTokens: 100000,
		},
		"provider2": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "model2",
			MaxToolResultTokens: 50000,
		},
	}

	registry := NewLLMProviderRegistry(providers)

	t.Run("Get existing provider", func(t *testing.T) {
		provider, err := registry.Get("provider1")
		require.NoError(t, err)
		assert.Equal(t, "model1", provider.Model)
	})

	t.Run("Get nonexistent provider", func(t *testing.T) {
		_, err := registry.Get("nonexistent")
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrLLMProviderNotFound)
	})

	t.Run("Has provider", func(t *testing.T) {
		assert.True(t, registry.Has("provider1"))
		assert.False(t, registry.Has("nonexistent"))
	})

	t.Run("GetAll returns copy", func(t *testing.T) {
		all := registry.GetAll()
		assert.Len(t, all, 2)

		// Modify the returned map
		all["provider3"] = &LLMProviderConfig{
			Type:                LLMProviderTypeAnthropic,
			Model:               "model3",
			MaxToolResultTokens: 75000,
		}

		// Original registry should be unchanged
		assert.False(t, registry.Has("provider3"))
	})
}

func TestLLMProviderRegistryThreadSafety(_ *testing.T) {
	providers := map[string]*LLMProviderConfig{
		"provider1": {
			Type:                LLMProviderTypeAnthropic,
			Model:               "model1",
			MaxToolResultTokens: 100000,
		},
	}

	registry := NewLLMProviderRegistry(providers)

	const goroutines = 100
	var wg sync.WaitGroup

	// Launch multiple goroutines reading concurrently
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = registry.Get("provider1")
			_ = registry.Has("provider1")
			_ = registry.GetAll()
		}()
	}

	wg.Wait()
	// If no panic, thread safety is good
}
