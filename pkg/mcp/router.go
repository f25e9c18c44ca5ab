package mcp

import (
	"fmt"
	"regexp"
	"strings"
)

// toolNameRegex validates the "server.tool" format.
// Both server and tool parts must start with a word character and contain
// only word characters and hyphens.
var toolNameRegex = regexp.MustCompile(`^([\w][\w-]*)\.([\w][\w-]*)$`)

// NormalizeToolName converts wire-format tool names to the canonical form.
// LLM providers that forbid dots in function names (Anthropic's tool name
// grammar allows only word characters and hyphens) receive tools as
// "server__tool"; calls come back in the same shape. Everything downstream
// of the provider routes on "server.tool".
func NormalizeToolName(name string) string {
	if strings.Contains(name, "__") && !strings.Contains(name, ".") {
		return strings.Replace(name, "__", ".", 1)
	}
	return name
}

// WireToolName converts a canonical "server.tool" name to the "server__tool"
// form accepted by providers with restricted function-name grammars.
// The inverse of NormalizeToolName.
func WireToolName(name string) string {
	return strings.Replace(name, ".", "__", 1)
}

// SplitToolName splits "server.tool" into (serverID, toolName, error).
// Validates format with strict regex: server and tool parts must be
// word characters and hyphens, non-empty.
func SplitToolName(name string) (serverID, toolName string, err error) {
	matches := toolNameRegex.FindStringSubmatch(name)
	if matches == nil {
		return "", "", fmt.Errorf(
			"invalid tool name %q: must be in 'server.tool' format "+
				"(e.g., 'web.search')", name)
	}
	return matches[1], matches[2], nil
}
