package llm

import "context"

// LLM is a single-turn chat completion client
type LLM interface {
	Chat(ctx context.Context, systemPrompt string, messages []Message) (string, error)
}

type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type Message struct {
	Role    string
	Content string
}
