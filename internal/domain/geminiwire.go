package domain

// GeminiChunk is the raw shape of one upstream Server-Sent-Events
// payload in the Gemini-internal wire format every upstream account
// speaks, regardless of which client protocol originated the request.
type GeminiChunk struct {
	Candidates    []GeminiCandidate `json:"candidates"`
	UsageMetadata *GeminiUsage      `json:"usageMetadata,omitempty"`
}

// GeminiCandidate is one upstream candidate (the gateway only ever
// requests candidateCount=1 except where the client's n parameter asks
// for more).
type GeminiCandidate struct {
	Content           GeminiContentWire  `json:"content"`
	FinishReason      string             `json:"finishReason,omitempty"`
	GroundingMetadata *GeminiGrounding   `json:"groundingMetadata,omitempty"`
	Index             int                `json:"index"`
}

// GeminiContentWire is the wire shape of one turn's content.
type GeminiContentWire struct {
	Role  string          `json:"role,omitempty"`
	Parts []GeminiPartWire `json:"parts"`
}

// GeminiPartWire is one part of an upstream chunk. Exactly one of
// Text/FunctionCall/FunctionResponse/InlineData is populated.
type GeminiPartWire struct {
	Text             string                  `json:"text,omitempty"`
	Thought          bool                    `json:"thought,omitempty"`
	ThoughtSignature string                  `json:"thoughtSignature,omitempty"`
	FunctionCall     *GeminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *GeminiFunctionResponse `json:"functionResponse,omitempty"`
	InlineData       *GeminiInlineData       `json:"inlineData,omitempty"`
	// Index identifies which logical tool call this fragment belongs to
	// when the upstream splits one call's arguments across chunks.
	Index *int `json:"index,omitempty"`
}

// GeminiFunctionCall is an upstream tool-call part. ArgsJSON is the
// raw, possibly-partial JSON text of the call's arguments; the
// streaming engine concatenates fragments sharing the enclosing part's
// Index until the accumulated text parses as a complete JSON object
//.
type GeminiFunctionCall struct {
	Name     string `json:"name"`
	ArgsJSON string `json:"args"`
	ID       string `json:"id,omitempty"`
}

// GeminiFunctionResponse is a tool-result part sent back upstream in
// the next turn, keyed to the call it answers.
type GeminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
	ID       string         `json:"id,omitempty"`
}

// GeminiInlineData is a base64-encoded binary blob (e.g. generated
// image bytes).
type GeminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

// GeminiGrounding carries web-search grounding citations.
type GeminiGrounding struct {
	GroundingChunks []GeminiGroundingChunk `json:"groundingChunks,omitempty"`
}

// GeminiGroundingChunk is one citation source.
type GeminiGroundingChunk struct {
	Web *GeminiWebSource `json:"web,omitempty"`
}

// GeminiWebSource is one grounded search result.
type GeminiWebSource struct {
	URI   string `json:"uri"`
	Title string `json:"title"`
}

// GeminiUsage is the upstream token usage block.
type GeminiUsage struct {
	PromptTokenCount     int64 `json:"promptTokenCount"`
	CandidatesTokenCount int64 `json:"candidatesTokenCount"`
	TotalTokenCount      int64 `json:"totalTokenCount"`
}
