package llm

import "fmt"

// backend describes how a classifier provider is reached. Everything except
// claude speaks the OpenAI chat completions dialect.
type backend struct {
	baseURL string
	model   string
	apiKey  string
}

var backends = map[string]backend{
	"openai": {model: "gpt-4o-mini"},
	"kimi":   {baseURL: "https://api.moonshot.ai/v1", model: "kimi-k2-0711-preview"},
	"ollama": {baseURL: "http://localhost:11434/v1", model: "qwen2:0.5b", apiKey: "ollama"},
}

// New builds the client for the configured fallback classifier provider
func New(cfg Config) (LLM, error) {
	if cfg.Provider == "claude" {
		return newClaude(cfg.APIKey, cfg.Model), nil
	}

	b, ok := backends[cfg.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", cfg.Provider)
	}
	if cfg.BaseURL != "" {
		b.baseURL = cfg.BaseURL
		if cfg.Provider == "ollama" {
			b.baseURL = cfg.BaseURL + "/v1"
		}
	}
	if cfg.Model != "" {
		b.model = cfg.Model
	}
	if b.apiKey == "" {
		b.apiKey = cfg.APIKey
	}

	return newOpenAICompatible(b.apiKey, b.baseURL, b.model), nil
}

// IsKnownProvider reports whether New accepts the provider name
func IsKnownProvider(provider string) bool {
	if provider == "claude" {
		return true
	}
	_, ok := backends[provider]
	return ok
}
