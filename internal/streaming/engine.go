// Package streaming implements the streaming engine: re-assembling
// an upstream Gemini-internal SSE chunk stream into the canonical
// Event sequence each protocol's renderer turns into its own wire
// shape.
package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/logger"
)

// parseErrorWarnThreshold is the parse-error count past which the
// engine logs a warning but keeps processing the stream.
const parseErrorWarnThreshold = 5

// Engine turns raw upstream SSE payloads into canonical Events against
// a PendingStream's accumulated state. Engine itself holds no
// per-stream state, so one Engine value is shared across every
// in-flight stream; each call takes the PendingStream explicitly.
type Engine struct{}

// New builds a stateless Engine.
func New() *Engine { return &Engine{} }

// Process parses one upstream SSE data payload, updates stream's
// accumulated state, and returns the canonical events it produced.
// A malformed payload increments stream.ParseErrors and yields no
// events (other than a one-time warning once the threshold is
// crossed); the stream is never aborted by a single bad chunk.
func (e *Engine) Process(stream *domain.PendingStream, raw []byte) []Event {
	var chunk domain.GeminiChunk
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return e.recordParseError(stream)
	}

	var events []Event
	stamp := func(ev Event) Event {
		ev.StreamID = stream.ID
		ev.CreatedAt = stream.CreatedAt.Unix()
		return ev
	}

	if chunk.UsageMetadata != nil {
		events = append(events, stamp(Event{
			Kind:             EventUsage,
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}))
	}

	for _, cand := range chunk.Candidates {
		for _, part := range cand.Content.Parts {
			switch {
			case part.FunctionCall != nil:
				if ev, ok := e.accumulateToolCall(stream, part); ok {
					events = append(events, stamp(ev))
				}
			case part.Thought:
				if part.ThoughtSignature != "" {
					stream.LatestSignature = part.ThoughtSignature
				}
				events = append(events, stamp(Event{
					Kind:             EventThought,
					Text:             part.Text,
					ThoughtSignature: stream.LatestSignature,
				}))
			case part.InlineData != nil:
				// Binary parts (generated images) produce no Event; the
				// streaming path does not carry inline data to renderers.
			default:
				if part.Text != "" {
					events = append(events, stamp(Event{Kind: EventText, Text: part.Text}))
				}
			}
		}

		if cand.GroundingMetadata != nil && len(cand.GroundingMetadata.GroundingChunks) > 0 {
			events = append(events, stamp(Event{Kind: EventCitation, Sources: groundingSources(cand.GroundingMetadata)}))
		}

		if cand.FinishReason != "" {
			stream.ChunksEmitted++
			events = append(events, stamp(Event{Kind: EventDone, FinishReason: cand.FinishReason}))
		}
	}

	return events
}

// Finish flushes any tool-call fragments still pending at stream end,
// attempting one last parse; fragments that still don't parse are
// dropped with a logged warning rather than surfaced as malformed
// tool_use blocks.
func (e *Engine) Finish(stream *domain.PendingStream) []Event {
	var events []Event
	for idx, frag := range stream.ToolCalls {
		if frag.Completed {
			continue
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(frag.ArgsJSON), &args); err != nil {
			logger.L().Sugar().Warnw("dropping unparseable tool call fragment at stream end",
				"stream_id", stream.ID, "index", idx, "tool", frag.Name)
			continue
		}
		frag.Completed = true
		events = append(events, Event{
			Kind:         EventToolCall,
			StreamID:     stream.ID,
			CreatedAt:    stream.CreatedAt.Unix(),
			ToolCallID:   frag.ID,
			ToolCallName: frag.Name,
			ToolCallArgs: args,
		})
	}
	return events
}

// Abort closes the stream with a terminal error event and resets state
// so no further chunks are processed against it.
func (e *Engine) Abort(stream *domain.PendingStream, cause error) Event {
	ev := Event{
		Kind:      EventError,
		StreamID:  stream.ID,
		CreatedAt: stream.CreatedAt.Unix(),
		Message:   cause.Error(),
	}
	stream.ToolCalls = make(map[int]*domain.ToolCallFragment)
	stream.LatestSignature = ""
	return ev
}

func (e *Engine) recordParseError(stream *domain.PendingStream) []Event {
	stream.ParseErrors++
	if stream.ParseErrors == parseErrorWarnThreshold+1 {
		logger.L().Sugar().Warnw("stream exceeded parse-error threshold, continuing",
			"stream_id", stream.ID, "parse_errors", stream.ParseErrors)
		return []Event{{
			Kind:      EventWarning,
			StreamID:  stream.ID,
			CreatedAt: stream.CreatedAt.Unix(),
			Message:   fmt.Sprintf("stream %s: %d malformed chunks so far", stream.ID, stream.ParseErrors),
		}}
	}
	return nil
}

// accumulateToolCall appends a tool-call fragment's argument text to
// the stream's running state, keyed by the part's declared index (0 if
// unset), and reports whether the accumulated arguments now parse as a
// complete call ready to emit.
func (e *Engine) accumulateToolCall(stream *domain.PendingStream, part domain.GeminiPartWire) (Event, bool) {
	idx := 0
	if part.Index != nil {
		idx = *part.Index
	}

	frag, ok := stream.ToolCalls[idx]
	if !ok {
		frag = &domain.ToolCallFragment{ID: part.FunctionCall.ID, Name: part.FunctionCall.Name}
		stream.ToolCalls[idx] = frag
	}
	if frag.Name == "" {
		frag.Name = part.FunctionCall.Name
	}
	frag.ArgsJSON += part.FunctionCall.ArgsJSON

	var args map[string]any
	if err := json.Unmarshal([]byte(frag.ArgsJSON), &args); err != nil {
		return Event{}, false
	}
	frag.Completed = true
	return Event{
		Kind:         EventToolCall,
		ToolCallID:   frag.ID,
		ToolCallName: frag.Name,
		ToolCallArgs: args,
	}, true
}

func groundingSources(g *domain.GeminiGrounding) []domain.GroundingSource {
	out := make([]domain.GroundingSource, 0, len(g.GroundingChunks))
	for _, c := range g.GroundingChunks {
		if c.Web == nil {
			continue
		}
		out = append(out, domain.GroundingSource{URL: c.Web.URI, Title: c.Web.Title})
	}
	return out
}
