package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/meridian-labs/surveyor/pkg/config"
	"github.com/meridian-labs/surveyor/pkg/models"
	"github.com/meridian-labs/surveyor/pkg/runtime"
)

// scorerOutputSchema instructs the model to end its reply with the winning
// candidate number on the last line, which is what the extractor parses.
const scorerOutputSchema = `End your response with the number of the best candidate as a standalone number on the last line.
For example, if candidate 2 is the strongest, the last line of your response must be:
2`

// candidateRegex matches a number at the end of the reply.
var candidateRegex = regexp.MustCompile(`([+-]?\d+)\s*$`)

// scoreExtractionRetries bounds how often we re-ask for a parseable verdict.
// The reply depends on the context window, not elapsed time, so a reminder
// re-ask is the only lever; if a few of those fail the comparison itself is
// broken and the reduce should fail.
const scoreExtractionRetries = 3

// LLMScorer is the reference best_of scorer: it shows a model every
// candidate output and asks for the strongest one.
type LLMScorer struct {
	llm      runtime.LLMClient
	provider *config.LLMProviderConfig
}

// NewLLMScorer creates a scorer backed by the given model.
func NewLLMScorer(llm runtime.LLMClient, provider *config.LLMProviderConfig) *LLMScorer {
	return &LLMScorer{llm: llm, provider: provider}
}

// Score implements Scorer. Returns the zero-based index of the winning
// member.
func (s *LLMScorer) Score(ctx context.Context, members []Member) (int, error) {
	if len(members) == 1 {
		return 0, nil
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Below are %d candidate research outputs produced for the same objectives. "+
		"Judge which single candidate is the strongest: most objectives completed, "+
		"best-evidenced findings, fewest unsupported claims.\n", len(members))
	for i, m := range members {
		blob, err := json.MarshalIndent(m.Output, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("failed to encode candidate %d: %w", i+1, err)
		}
		fmt.Fprintf(&prompt, "\n## Candidate %d (instance %s)\n%s\n", i+1, m.InstanceID, blob)
	}
	prompt.WriteString("\n")
	prompt.WriteString(scorerOutputSchema)

	messages := []runtime.ConversationMessage{
		{
			Role:    string(models.RoleSystem),
			Content: "You are a strict research editor choosing the best of several candidate outputs.",
		},
		{Role: string(models.RoleUser), Content: prompt.String()},
	}

	resp, err := runtime.CallLLM(ctx, s.llm, &runtime.GenerateInput{
		Messages: messages,
		Config:   s.provider,
	}, nil)
	if err != nil {
		return 0, fmt.Errorf("scoring LLM call failed: %w", err)
	}

	winner, err := extractCandidate(resp.Text, len(members))
	for attempt := 0; err != nil && attempt < scoreExtractionRetries; attempt++ {
		messages = append(messages,
			runtime.ConversationMessage{Role: string(models.RoleAssistant), Content: resp.Text},
			runtime.ConversationMessage{
				Role:    string(models.RoleUser),
				Content: "Reply with the winning candidate number only.\n" + scorerOutputSchema,
			},
		)
		resp, err = runtime.CallLLM(ctx, s.llm, &runtime.GenerateInput{
			Messages: messages,
			Config:   s.provider,
		}, nil)
		if err != nil {
			return 0, fmt.Errorf("scoring extraction retry failed: %w", err)
		}
		winner, err = extractCandidate(resp.Text, len(members))
	}
	if err != nil {
		return 0, fmt.Errorf("failed to extract winning candidate after retries: %w", err)
	}
	return winner, nil
}

// extractCandidate parses the one-based candidate number off the end of the
// reply and converts it to a member index.
func extractCandidate(text string, n int) (int, error) {
	m := candidateRegex.FindStringSubmatch(strings.TrimSpace(text))
	if m == nil {
		return 0, fmt.Errorf("reply does not end with a candidate number")
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, fmt.Errorf("unparseable candidate number %q", m[1])
	}
	if v < 1 || v > n {
		return 0, fmt.Errorf("candidate number %d out of range 1..%d", v, n)
	}
	return v - 1, nil
}
