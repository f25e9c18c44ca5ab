package runtime

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const bareInterruptRecord = `{
	"interrupt": {
		"id": "int-1",
		"action_requests": [{"name": "create_research_plan", "args": {"budget": 50}}],
		"allowed_decisions": ["approve", "edit", "reject"]
	},
	"calls": [{"id": "call-1", "name": "create_research_plan", "arguments": "{\"budget\":50}"}]
}`

func TestNormalizeInterruptState_AcceptedShapes(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "bare record", raw: bareInterruptRecord},
		{name: "single-element list", raw: "[" + bareInterruptRecord + "]"},
		{name: "value wrapper", raw: `{"value": ` + bareInterruptRecord + `}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pending, err := NormalizeInterruptState(json.RawMessage(tt.raw))
			require.NoError(t, err)
			require.NotNil(t, pending)

			assert.Equal(t, "int-1", pending.Interrupt.ID)
			require.Len(t, pending.Interrupt.ActionRequests, 1)
			assert.Equal(t, "create_research_plan", pending.Interrupt.ActionRequests[0].Name)
			assert.Equal(t, float64(50), pending.Interrupt.ActionRequests[0].Args["budget"])
			assert.Equal(t,
				[]DecisionKind{DecisionApprove, DecisionEdit, DecisionReject},
				pending.Interrupt.AllowedDecisions)

			require.Len(t, pending.Calls, 1)
			assert.Equal(t, "call-1", pending.Calls[0].ID)
		})
	}
}

func TestNormalizeInterruptState_NoInterrupt(t *testing.T) {
	for _, raw := range []string{"", "null", "[]", "  "} {
		pending, err := NormalizeInterruptState(json.RawMessage(raw))
		require.NoError(t, err, "raw=%q", raw)
		assert.Nil(t, pending, "raw=%q", raw)
	}
}

func TestNormalizeInterruptState_Malformed(t *testing.T) {
	t.Run("multi-element list", func(t *testing.T) {
		raw := "[" + bareInterruptRecord + "," + bareInterruptRecord + "]"
		_, err := NormalizeInterruptState(json.RawMessage(raw))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at most one interrupt record")
	})

	t.Run("missing interrupt payload", func(t *testing.T) {
		_, err := NormalizeInterruptState(json.RawMessage(`{"calls": []}`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing interrupt payload")
	})

	t.Run("not JSON", func(t *testing.T) {
		_, err := NormalizeInterruptState(json.RawMessage(`{broken`))
		require.Error(t, err)
	})
}

func TestCheckpointRoundTrip(t *testing.T) {
	pending := &PendingInterrupt{
		Interrupt: &Interrupt{
			ID: "int-2",
			ActionRequests: []ActionRequest{
				{Name: "create_research_plan", Args: map[string]any{"budget": float64(30)}},
			},
			AllowedDecisions: []DecisionKind{DecisionApprove, DecisionReject},
		},
		Calls: []ToolCall{{ID: "call-2", Name: "create_research_plan", Arguments: `{"budget":30}`}},
	}
	state, err := encodeInterruptState(pending)
	require.NoError(t, err)

	cp := &Checkpoint{
		Conversation: []ConversationMessage{
			{Role: "system", Content: "instructions"},
			{Role: "user", Content: "draft a plan"},
		},
		InterruptState: state,
		TurnText:       "partial answer",
		TurnSteps:      2,
	}

	raw, err := EncodeCheckpoint(cp)
	require.NoError(t, err)

	decoded, err := DecodeCheckpoint(raw)
	require.NoError(t, err)
	assert.Equal(t, cp.Conversation, decoded.Conversation)
	assert.Equal(t, "partial answer", decoded.TurnText)
	assert.Equal(t, 2, decoded.TurnSteps)

	restored, err := decoded.PendingInterruptState()
	require.NoError(t, err)
	require.NotNil(t, restored)
	assert.Equal(t, pending.Interrupt.ID, restored.Interrupt.ID)
	assert.Equal(t, pending.Calls, restored.Calls)
}

func TestDecisionValidate(t *testing.T) {
	tests := []struct {
		name     string
		decision Decision
		wantErr  string
	}{
		{name: "approve", decision: Decision{Kind: DecisionApprove}},
		{name: "reject with message", decision: Decision{Kind: DecisionReject, Message: "budget too high"}},
		{
			name: "edit with action",
			decision: Decision{Kind: DecisionEdit, EditedAction: &ActionRequest{
				Name: "create_research_plan", Args: map[string]any{"budget": 30},
			}},
		},
		{name: "unknown kind", decision: Decision{Kind: "defer"}, wantErr: "unknown decision type"},
		{name: "edit without action", decision: Decision{Kind: DecisionEdit}, wantErr: "requires edited_action"},
		{
			name:     "edit without name",
			decision: Decision{Kind: DecisionEdit, EditedAction: &ActionRequest{}},
			wantErr:  "requires a tool name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.decision.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestInterruptAllows(t *testing.T) {
	intr := &Interrupt{AllowedDecisions: []DecisionKind{DecisionApprove, DecisionReject}}
	assert.True(t, intr.Allows(DecisionApprove))
	assert.True(t, intr.Allows(DecisionReject))
	assert.False(t, intr.Allows(DecisionEdit))
}
