package mission

import (
	"context"
	"log/slog"
	"sync"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// ToolLister reports the tools available to agent instances.
// runtime.ToolExecutor implementations satisfy it.
type ToolLister interface {
	ListTools(ctx context.Context) ([]runtime.ToolDefinition, error)
}

// RegistryCatalog answers plan-validation existence checks from the agent
// type registry and the live tool executor. The tool listing is cached on
// first use; connected MCP servers do not change their tool set mid-process.
type RegistryCatalog struct {
	agentTypes *config.AgentTypeRegistry
	tools      ToolLister
	log        *slog.Logger

	mu      sync.Mutex
	toolSet map[string]struct{}
}

var _ Catalog = (*RegistryCatalog)(nil)

// NewRegistryCatalog creates a catalog backed by configured agent types and
// the given tool executor.
func NewRegistryCatalog(agentTypes *config.AgentTypeRegistry, tools ToolLister) *RegistryCatalog {
	return &RegistryCatalog{
		agentTypes: agentTypes,
		tools:      tools,
		log:        slog.With("component", "catalog"),
	}
}

// HasAgentType reports whether name is a configured agent type.
func (c *RegistryCatalog) HasAgentType(name string) bool {
	return c.agentTypes.Has(name)
}

// HasTool reports whether name is available from the tool executor. When the
// listing cannot be fetched the check passes: rejecting a plan over a
// transient listing failure would mislabel every tool as unknown, while a
// genuinely missing tool still fails cleanly at execution time.
func (c *RegistryCatalog) HasTool(ctx context.Context, name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.toolSet == nil {
		defs, err := c.tools.ListTools(ctx)
		if err != nil {
			c.log.Warn("Tool listing failed, skipping tool validation", "error", err)
			return true
		}
		c.toolSet = make(map[string]struct{}, len(defs))
		for _, def := range defs {
			c.toolSet[def.Name] = struct{}{}
		}
	}

	_, ok := c.toolSet[name]
	return ok
}
