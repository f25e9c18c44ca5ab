package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/meridian-labs/surveyor/pkg/mcp"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// buildParams translates a GenerateInput into Anthropic request params.
// The returned map is the reverse tool-name mapping (wire → canonical) the
// stream pump uses when decoding tool_use blocks.
func buildParams(input *runtime.GenerateInput) (*sdk.MessageNewParams, map[string]string, error) {
	tools, canonToWire, wireToCanon, err := encodeTools(input.Tools)
	if err != nil {
		return nil, nil, err
	}

	msgs, system, err := encodeMessages(input.Messages, canonToWire)
	if err != nil {
		return nil, nil, err
	}

	maxTokens := input.Config.MaxOutputTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxOutputTokens
	}

	params := &sdk.MessageNewParams{
		Model:     sdk.Model(input.Config.Model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return params, wireToCanon, nil
}

// encodeMessages converts the conversation into Anthropic message params.
// Leading system messages become the system prompt; everything after the
// first non-system message stays in conversation order.
func encodeMessages(msgs []runtime.ConversationMessage, canonToWire map[string]string) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	var conversation []sdk.MessageParam
	var system []sdk.TextBlockParam

	i := 0
	for ; i < len(msgs) && msgs[i].Role == string(models.RoleSystem); i++ {
		if msgs[i].Content != "" {
			system = append(system, sdk.TextBlockParam{Text: msgs[i].Content})
		}
	}

	for ; i < len(msgs); i++ {
		m := msgs[i]
		switch m.Role {
		case string(models.RoleSystem):
			// Anthropic has no mid-conversation system role. Inline system
			// notes (rejection context and the like) ride as user messages
			// so conversation order is preserved.
			if m.Content != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}

		case string(models.RoleUser):
			if m.Content != "" {
				conversation = append(conversation, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
			}

		case string(models.RoleAssistant):
			blocks := make([]sdk.ContentBlockParamUnion, 0, 1+len(m.ToolCalls))
			if m.Content != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			for _, call := range m.ToolCalls {
				wire, ok := canonToWire[call.Name]
				if !ok {
					// History may reference a tool that is not advertised on
					// this request (a resume with a narrowed tool set).
					// Encode its wire form directly so the transcript stays
					// valid.
					wire = mcp.WireToolName(call.Name)
				}
				blocks = append(blocks, sdk.NewToolUseBlock(call.ID, toolArguments(call.Arguments), wire))
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))

		case string(models.RoleTool):
			// Consecutive tool results are grouped into one user message;
			// the API expects the full result set for a multi-call step in
			// the message that follows the assistant's tool_use message.
			blocks := []sdk.ContentBlockParamUnion{
				sdk.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError),
			}
			for i+1 < len(msgs) && msgs[i+1].Role == string(models.RoleTool) {
				i++
				next := msgs[i]
				blocks = append(blocks, sdk.NewToolResultBlock(next.ToolCallID, next.Content, next.IsError))
			}
			conversation = append(conversation, sdk.NewUserMessage(blocks...))

		default:
			return nil, nil, fmt.Errorf("unsupported message role %q", m.Role)
		}
	}

	if len(conversation) == 0 {
		return nil, nil, errors.New("at least one user or assistant message is required")
	}
	return conversation, system, nil
}

// encodeTools converts tool definitions into Anthropic tool params. Returns
// the tool list plus both name mappings (canonical → wire, wire → canonical).
// Anthropic's tool-name grammar allows only word characters and hyphens, so
// canonical "server.tool" names cross the wire as "server__tool".
func encodeTools(defs []runtime.ToolDefinition) ([]sdk.ToolUnionParam, map[string]string, map[string]string, error) {
	if len(defs) == 0 {
		return nil, nil, nil, nil
	}

	toolList := make([]sdk.ToolUnionParam, 0, len(defs))
	canonToWire := make(map[string]string, len(defs))
	wireToCanon := make(map[string]string, len(defs))

	for _, def := range defs {
		if def.Name == "" {
			continue
		}
		wire := mcp.WireToolName(def.Name)
		if prev, ok := wireToCanon[wire]; ok && prev != def.Name {
			return nil, nil, nil, fmt.Errorf(
				"tool name %q encodes to %q which collides with %q", def.Name, wire, prev)
		}
		wireToCanon[wire] = def.Name
		canonToWire[def.Name] = wire

		schema, err := toolSchema(def.ParametersSchema)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, wire)
		if u.OfTool != nil && def.Description != "" {
			u.OfTool.Description = sdk.String(def.Description)
		}
		toolList = append(toolList, u)
	}

	if len(toolList) == 0 {
		return nil, nil, nil, nil
	}
	return toolList, canonToWire, wireToCanon, nil
}

// toolSchema converts a JSON Schema string into the SDK's input schema shape.
func toolSchema(raw string) (sdk.ToolInputSchemaParam, error) {
	if strings.TrimSpace(raw) == "" {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}

// toolArguments normalizes a historical tool call's argument payload for
// re-encoding. tool_use input must be a JSON value; blank history entries
// become {} and non-JSON text is wrapped the way the executor's parameter
// cascade would read it back.
func toolArguments(raw string) json.RawMessage {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return json.RawMessage("{}")
	}
	if !json.Valid([]byte(trimmed)) {
		wrapped, err := json.Marshal(map[string]string{"input": trimmed})
		if err != nil {
			return json.RawMessage("{}")
		}
		return json.RawMessage(wrapped)
	}
	return json.RawMessage(trimmed)
}
