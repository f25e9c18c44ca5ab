package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-labs/surveyor/pkg/models"
)

// LLMScriptEntry defines a single scripted LLM response.
type LLMScriptEntry struct {
	// Response content (exactly one must be set)
	Chunks []Chunk // Pre-built chunks to return
	Text   string  // Shorthand: auto-wrapped as TextChunk + UsageChunk
	Error  error   // Return error from Generate()

	// Test control
	BlockUntilCancelled bool            // Block the stream until ctx is cancelled
	WaitCh              <-chan struct{} // Block the stream until closed, then respond
	OnBlock             chan<- struct{} // Notified when the stream enters a blocking path
}

// ScriptedLLMClient implements LLMClient from a script. Sequential entries
// are consumed in call order; routed entries are matched by the request's
// TaskID first, which keeps parallel mission tests deterministic.
type ScriptedLLMClient struct {
	mu             sync.Mutex
	sequential     []LLMScriptEntry
	seqIndex       int
	routes         map[string][]LLMScriptEntry
	routeIndex     map[string]int
	capturedInputs []*GenerateInput
}

// NewScriptedLLMClient creates an empty scripted client.
func NewScriptedLLMClient() *ScriptedLLMClient {
	return &ScriptedLLMClient{
		routes:     make(map[string][]LLMScriptEntry),
		routeIndex: make(map[string]int),
	}
}

// AddSequential adds an entry consumed in order by non-routed calls.
func (c *ScriptedLLMClient) AddSequential(entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequential = append(c.sequential, entry)
}

// AddRouted adds an entry consumed by calls carrying the given TaskID.
func (c *ScriptedLLMClient) AddRouted(taskID string, entry LLMScriptEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.routes[taskID] = append(c.routes[taskID], entry)
}

// Generate implements LLMClient.
func (c *ScriptedLLMClient) Generate(ctx context.Context, input *GenerateInput) (<-chan Chunk, error) {
	c.mu.Lock()
	c.capturedInputs = append(c.capturedInputs, input)
	entry, err := c.nextEntry(input)
	c.mu.Unlock()

	if err != nil {
		return nil, err
	}

	if entry.BlockUntilCancelled {
		ch := make(chan Chunk)
		go func() {
			<-ctx.Done()
			close(ch)
		}()
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		return ch, nil
	}

	if entry.WaitCh != nil {
		if entry.OnBlock != nil {
			entry.OnBlock <- struct{}{}
		}
		select {
		case <-entry.WaitCh:
		case <-ctx.Done():
			ch := make(chan Chunk)
			close(ch)
			return ch, nil
		}
	}

	if entry.Error != nil {
		return nil, entry.Error
	}

	chunks := entry.Chunks
	if len(chunks) == 0 && entry.Text != "" {
		chunks = []Chunk{
			&TextChunk{Content: entry.Text},
			&UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
		}
	}

	ch := make(chan Chunk, len(chunks))
	for _, chunk := range chunks {
		ch <- chunk
	}
	close(ch)
	return ch, nil
}

// Close implements LLMClient.
func (c *ScriptedLLMClient) Close() error { return nil }

// CallCount returns the total number of Generate calls made.
func (c *ScriptedLLMClient) CallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.capturedInputs)
}

// CapturedInputs returns a copy of every Generate input seen so far.
func (c *ScriptedLLMClient) CapturedInputs() []*GenerateInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*GenerateInput, len(c.capturedInputs))
	copy(out, c.capturedInputs)
	return out
}

// nextEntry picks routed entries before sequential ones. Caller holds c.mu.
func (c *ScriptedLLMClient) nextEntry(input *GenerateInput) (*LLMScriptEntry, error) {
	if input.TaskID != "" {
		if entries, ok := c.routes[input.TaskID]; ok {
			idx := c.routeIndex[input.TaskID]
			if idx < len(entries) {
				c.routeIndex[input.TaskID] = idx + 1
				return &entries[idx], nil
			}
		}
	}

	if c.seqIndex < len(c.sequential) {
		entry := &c.sequential[c.seqIndex]
		c.seqIndex++
		return entry, nil
	}

	return nil, fmt.Errorf("ScriptedLLMClient: no more entries (task=%q, sequential=%d/%d)",
		input.TaskID, c.seqIndex, len(c.sequential))
}

// StubToolExecutor implements ToolExecutor with canned tools and results.
type StubToolExecutor struct {
	mu      sync.Mutex
	defs    []ToolDefinition
	results map[string]*ToolResult
	handler func(ctx context.Context, call ToolCall) (*ToolResult, error)
	calls   []ToolCall
}

// NewStubToolExecutor creates a stub executor exposing the given tools.
func NewStubToolExecutor(defs ...ToolDefinition) *StubToolExecutor {
	return &StubToolExecutor{
		defs:    defs,
		results: make(map[string]*ToolResult),
	}
}

// SetResult configures the canned result for a tool name.
func (s *StubToolExecutor) SetResult(toolName string, result *ToolResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[toolName] = result
}

// SetHandler overrides execution entirely. Takes precedence over SetResult.
func (s *StubToolExecutor) SetHandler(fn func(ctx context.Context, call ToolCall) (*ToolResult, error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = fn
}

// Execute implements ToolExecutor.
func (s *StubToolExecutor) Execute(ctx context.Context, call ToolCall) (*ToolResult, error) {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	handler := s.handler
	canned := s.results[call.Name]
	s.mu.Unlock()

	if handler != nil {
		return handler(ctx, call)
	}
	if canned != nil {
		result := *canned
		result.CallID = call.ID
		return &result, nil
	}
	return &ToolResult{
		CallID:  call.ID,
		Content: fmt.Sprintf("stub result for %s", call.Name),
	}, nil
}

// ListTools implements ToolExecutor.
func (s *StubToolExecutor) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolDefinition, len(s.defs))
	copy(out, s.defs)
	return out, nil
}

// Close implements ToolExecutor.
func (s *StubToolExecutor) Close() error { return nil }

// Calls returns a copy of every executed call in order.
func (s *StubToolExecutor) Calls() []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolCall, len(s.calls))
	copy(out, s.calls)
	return out
}

// MemoryThreadStore is an in-memory ThreadStore for adapter and session
// tests.
type MemoryThreadStore struct {
	mu          sync.Mutex
	nextID      int64
	messages    map[string][]*models.Message
	checkpoints map[string]json.RawMessage
}

// NewMemoryThreadStore creates an empty in-memory thread store.
func NewMemoryThreadStore() *MemoryThreadStore {
	return &MemoryThreadStore{
		messages:    make(map[string][]*models.Message),
		checkpoints: make(map[string]json.RawMessage),
	}
}

// AppendMessage implements ThreadStore.
func (m *MemoryThreadStore) AppendMessage(ctx context.Context, req models.AppendMessageRequest) (*models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	msg := &models.Message{
		ID:        m.nextID,
		ThreadID:  req.ThreadID,
		Role:      req.Role,
		Content:   req.Content,
		CreatedAt: time.Now(),
	}
	m.messages[req.ThreadID] = append(m.messages[req.ThreadID], msg)
	return msg, nil
}

// SaveCheckpoint implements ThreadStore.
func (m *MemoryThreadStore) SaveCheckpoint(ctx context.Context, threadID string, state json.RawMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make(json.RawMessage, len(state))
	copy(cp, state)
	m.checkpoints[threadID] = cp
	return nil
}

// LoadCheckpoint implements ThreadStore.
func (m *MemoryThreadStore) LoadCheckpoint(ctx context.Context, threadID string) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkpoints[threadID], nil
}

// Messages returns the persisted messages for a thread, in append order.
func (m *MemoryThreadStore) Messages(threadID string) []*models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Message, len(m.messages[threadID]))
	copy(out, m.messages[threadID])
	return out
}
