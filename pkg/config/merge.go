package config

// mergeAgentTypes merges built-in and user-defined agent type configurations.
// User-defined agent types override built-in ones with the same name.
func mergeAgentTypes(builtinTypes map[string]AgentTypeConfig, userTypes map[string]AgentTypeConfig) map[string]*AgentTypeConfig {
	result := make(map[string]*AgentTypeConfig)

	// First, add built-in agent types
	for name, at := range builtinTypes {
		atCopy := at
		result[name] = &atCopy
	}

	// Then, override with user-defined agent types (or add new ones)
	for name, userType := range userTypes {
		typeCopy := userType
		result[name] = &typeCopy
	}

	return result
}

// mergeToolPolicies merges built-in and user-defined tool gating policies.
// User-defined policies override built-in ones for the same tool.
func mergeToolPolicies(builtinPolicies map[string]ToolPolicy, userPolicies map[string]ToolPolicy) map[string]*ToolPolicy {
	result := make(map[string]*ToolPolicy)

	// First, add built-in policies
	for name, policy := range builtinPolicies {
		policyCopy := policy
		result[name] = &policyCopy
	}

	// Then, override with user-defined policies (or add new ones)
	for name, userPolicy := range userPolicies {
		policyCopy := userPolicy
		result[name] = &policyCopy
	}

	return result
}

// mergeMCPServers merges built-in and user-defined MCP server configurations.
// User-defined servers override built-in servers with the same ID.
func mergeMCPServers(builtinServers map[string]MCPServerConfig, userServers map[string]MCPServerConfig) map[string]*MCPServerConfig {
	result := make(map[string]*MCPServerConfig)

	// First, add built-in servers
	for id, server := range builtinServers {
		serverCopy := server
		result[id] = &serverCopy
	}

	// Then, override with user-defined servers (or add new ones)
	for id, userServer := range userServers {
		serverCopy := userServer
		result[id] = &serverCopy
	}

	return result
}

// mergeLLMProviders merges built-in and user-defined LLM provider configurations.
// User-defined providers override built-in providers with the same name.
func mergeLLMProviders(builtinProviders map[string]LLMProviderConfig, userProviders map[string]LLMProviderConfig) map[string]*LLMProviderConfig {
	result := make(map[string]*LLMProviderConfig)

	// First, add built-in providers
	for name, provider := range builtinProviders {
		providerCopy := provider
		result[name] = &providerCopy
	}

	// Then, override with user-defined providers (or add new ones)
	for name, userProvider := range userProviders {
		providerCopy := userProvider
		result[name] = &providerCopy
	}

	return result
}
