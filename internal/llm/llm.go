// Package llm provides a pluggable interface for text-generation providers.
package llm

import "context"

// Generator produces text from a system prompt and a user prompt. The
// model identifier is fixed at construction.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)

	// Stream delivers the response incrementally. fn is called once per
	// fragment in arrival order; a non-nil return aborts the stream.
	Stream(ctx context.Context, system, prompt string, fn func(fragment string) error) error
}
