// Package llm defines the conversational model client interface and its two
// implementations: Anthropic as primary, AWS Bedrock as fallback.
package llm

import (
	"context"
)

// Message is one turn in a conversation, role "user" or "assistant".
type Message struct {
	Role    string
	Content string
}

// Request carries everything an LLMClient needs to produce one completion.
type Request struct {
	SystemPrompt string
	History      []Message
	MaxTokens    int
	Temperature  float64
}

// Response is the model's reply plus usage accounting for cost/metrics.
type Response struct {
	Text         string
	InputTokens  int
	OutputTokens int
	Model        string
}

// Client is implemented by every backing model provider. Callers never talk
// to a provider SDK directly — they go through Client so the Orchestrator
// can swap providers (or fall back) without touching pipeline logic.
type Client interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Name() string
}
