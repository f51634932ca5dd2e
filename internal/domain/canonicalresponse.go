package domain

// Usage is the canonical token-accounting block, translated from
// GeminiUsage into whichever field names the client protocol expects.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
}

// CanonicalResponse is the assembled non-streaming response every
// mapper's from_internal renders into its protocol's JSON shape.
type CanonicalResponse struct {
	Model        string
	Message      Message
	FinishReason string
	Usage        Usage
	Citations    []GroundingSource
}
