package providers

import (
	"context"
)

// CompletionRequest is a single system+user prompt exchange.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	// JSONMode asks the service to return a single JSON object.
	JSONMode    bool
	MaxTokens   int
	Temperature float32
}

// CompletionResponse carries the text and accounting for one completion.
type CompletionResponse struct {
	Text             string
	Model            string
	PromptTokens     int
	CompletionTokens int
	CostUSD          float64
}

// CompletionProvider defines a text-completion service.
type CompletionProvider interface {
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}
