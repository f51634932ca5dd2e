package domain

import "time"

// ToolCallFragment accumulates a tool call's argument JSON as upstream
// chunks fragment it across multiple SSE events.
type ToolCallFragment struct {
	ID        string
	Name      string
	ArgsJSON  string // concatenation so far; may not yet parse
	Completed bool
}

// PendingStream is per-in-flight-response state, owned by exactly one
// request task and never shared across streams.
type PendingStream struct {
	ID        string
	CreatedAt time.Time

	ToolCalls map[int]*ToolCallFragment // keyed by upstream fragment index

	LatestSignature string
	ChunksEmitted   int
	ParseErrors     int

	// LastValidOffset is the byte offset in the upstream body up to
	// which chunks parsed successfully, used to resume after a
	// malformed chunk without re-emitting already-flushed content.
	LastValidOffset int64
}

// NewPendingStream allocates stream state for a fresh response.
func NewPendingStream(id string, now time.Time) *PendingStream {
	return &PendingStream{
		ID:        id,
		CreatedAt: now,
		ToolCalls: make(map[int]*ToolCallFragment),
	}
}
