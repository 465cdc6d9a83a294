package domain

// Credential is one opaque API key from the language-model credential pool.
type Credential struct {
	Index int
	Key   string
}

// CompletionRequest is a single-turn chat completion call.
type CompletionRequest struct {
	SystemPrompt string
	UserPrompt   string
	Temperature  float64
	MaxTokens    int
	JSONOutput   bool
}
