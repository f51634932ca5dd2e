package streaming

import "github.com/antigravity-gateway/gateway/internal/domain"

// EventKind discriminates the canonical streaming events the engine
// emits; protocol-specific renderers turn each into that protocol's
// wire chunk shape.
type EventKind int

const (
	EventText EventKind = iota
	EventThought
	EventToolCall
	EventCitation
	EventUsage
	EventWarning
	EventError
	EventDone
)

// Event is one canonical streaming delta, carrying a stream id and
// creation timestamp shared by every event of one logical response
//.
type Event struct {
	Kind      EventKind
	StreamID  string
	CreatedAt int64 // unix seconds, stamped once at stream start

	Text string // EventText / EventThought

	// EventThought
	ThoughtSignature string

	// EventToolCall
	ToolCallID   string
	ToolCallName string
	ToolCallArgs map[string]any

	// EventCitation
	Sources []domain.GroundingSource

	// EventUsage
	PromptTokens, CompletionTokens, TotalTokens int64

	// EventWarning / EventError
	Message string

	FinishReason string // set on EventDone
}
