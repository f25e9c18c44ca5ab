// Package masking redacts sensitive data from tool results before they
// reach the model, the transcript, or the event log. Redaction is driven
// by named regex patterns: a built-in catalog (API keys, passwords,
// certificates, cloud credentials) plus per-server custom patterns from
// MCP server configs, with pattern groups for convenient reuse.
package masking

import (
	"log/slog"

	"github.com/meridian-labs/surveyor/pkg/config"
)

// Service applies pattern-based masking to tool result content. Created
// once at application startup. Thread-safe and stateless aside from the
// patterns compiled at construction.
type Service struct {
	registry             *config.MCPServerRegistry
	patterns             map[string]*CompiledPattern // Built-in + custom compiled patterns
	patternGroups        map[string][]string         // Group name → pattern names
	serverCustomPatterns map[string][]string         // serverID → custom pattern keys
}

// NewService creates a masking service with all patterns compiled eagerly.
// Invalid patterns are logged and skipped rather than failing startup.
func NewService(registry *config.MCPServerRegistry) *Service {
	s := &Service{
		registry:             registry,
		patterns:             make(map[string]*CompiledPattern),
		patternGroups:        config.GetBuiltinConfig().PatternGroups,
		serverCustomPatterns: make(map[string][]string),
	}

	s.compileBuiltinPatterns()
	s.compileCustomPatterns()

	slog.Info("Masking service initialized",
		"builtin_patterns", len(config.GetBuiltinConfig().MaskingPatterns),
		"compiled_patterns", len(s.patterns))

	return s
}

// MaskToolResult applies the masking configured for serverID to tool
// result content. Servers without masking enabled, and server IDs not in
// the registry, pass content through unchanged.
func (s *Service) MaskToolResult(content string, serverID string) string {
	if content == "" {
		return content
	}

	serverCfg, err := s.registry.Get(serverID)
	if err != nil || serverCfg.DataMasking == nil || !serverCfg.DataMasking.Enabled {
		return content
	}

	resolved := s.resolvePatterns(serverCfg.DataMasking, serverID)
	return applyPatterns(content, resolved)
}

// maskingEnabled reports whether any registered server has masking turned
// on. When none does, the executor decorator is skipped entirely.
func (s *Service) maskingEnabled() bool {
	for _, serverCfg := range s.registry.GetAll() {
		if serverCfg.DataMasking != nil && serverCfg.DataMasking.Enabled {
			return true
		}
	}
	return false
}
