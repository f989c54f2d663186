package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mnemo-dev/mnemo/internal/llm"
	"github.com/mnemo-dev/mnemo/internal/model"
)

const summarizeSystemPrompt = `You are summarizing a span of conversation between a user and their assistant into a durable memory.
Produce a short descriptive title on the first line, then a blank line, then the memory body.
The body must not exceed %d words. Capture decisions, facts, and preferences worth remembering later.
When referring to dates and times, use ISO 8601 format rather than relative references; retain specific absolute dates when applicable.`

// Synthesizer turns conversation transcripts into titled memory texts
// via the LLM summarization capability.
type Synthesizer struct {
	generator llm.Generator
	wordLimit int
	timeout   time.Duration
}

// NewSynthesizer creates a synthesizer with the given word budget.
func NewSynthesizer(generator llm.Generator, wordLimit int, timeout time.Duration) *Synthesizer {
	return &Synthesizer{generator: generator, wordLimit: wordLimit, timeout: timeout}
}

// Summarize produces a memory name and body from a transcript. A
// provider failure or an unusable response yields
// model.ErrProviderUnavailable.
func (s *Synthesizer) Summarize(ctx context.Context, transcript string) (name, text string, err error) {
	genCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	system := fmt.Sprintf(summarizeSystemPrompt, s.wordLimit)
	resp, err := s.generator.Generate(genCtx, system, transcript)
	if err != nil {
		return "", "", fmt.Errorf("summarize span: %w: %v", model.ErrProviderUnavailable, err)
	}

	name, text = parseTitled(resp)
	if name == "" || text == "" {
		return "", "", fmt.Errorf("summarize span: unusable response: %w", model.ErrProviderUnavailable)
	}
	return name, text, nil
}

// parseTitled splits a response into its first non-empty line (title)
// and the remainder (body). Common title decorations are stripped.
func parseTitled(resp string) (name, body string) {
	lines := strings.Split(strings.TrimSpace(resp), "\n")
	for i, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		name = strings.TrimSpace(strings.TrimLeft(name, "#"))
		name = strings.Trim(name, "*")
		body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		break
	}
	return name, body
}

// formatTranscript renders messages as "role: content" lines for
// summarization prompts.
func formatTranscript(msgs []*model.Message) string {
	var b strings.Builder
	for _, m := range msgs {
		b.WriteString(m.Role)
		b.WriteString(": ")
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}
