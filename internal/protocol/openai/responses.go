package openai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/identity"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// ResponsesRequest is the subset of the /v1/responses request body this
// gateway understands: Codex CLI's input is either a bare string or an
// array of message items, each carrying an array of typed content
// parts.
type ResponsesRequest struct {
	Model        string            `json:"model"`
	Instructions string            `json:"instructions,omitempty"`
	Input        json.RawMessage   `json:"input"`
	Stream       bool              `json:"stream"`
	MaxOutputTokens int            `json:"max_output_tokens,omitempty"`
	Tools        []Tool            `json:"tools,omitempty"`
}

type responsesInputItem struct {
	Type    string                 `json:"type"`
	Role    string                 `json:"role"`
	Content []responsesContentPart `json:"content"`
}

type responsesContentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ToInternalResponses converts a /v1/responses request body into the
// canonical request shape. Input items of type "message" become
// chat turns; any other item type (function_call_output, reasoning,
// ...) is out of scope for this gateway's text-centric coverage and is
// skipped rather than rejected, so a Codex session carrying them still
// gets a best-effort reply.
func ToInternalResponses(body []byte) (domain.CanonicalRequest, error) {
	var req ResponsesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.CanonicalRequest{}, fmt.Errorf("openai: decode responses request: %w", err)
	}

	messages, err := responsesMessages(req.Input)
	if err != nil {
		return domain.CanonicalRequest{}, err
	}

	toolNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Function.Name)
	}

	return domain.CanonicalRequest{
		ClientModel: req.Model,
		System:      identity.BuildSystemInstruction(req.Instructions, toolNames),
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Stream:      req.Stream,
		Tools:       toolNames,
	}, nil
}

// responsesMessages decodes Input, which is either a bare string
// (shorthand for a single user turn) or an array of typed items.
func responsesMessages(raw json.RawMessage) ([]domain.Message, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []domain.Message{{
			Role:  domain.RoleUser,
			Parts: []domain.Part{{Kind: domain.PartText, Text: s}},
		}}, nil
	}

	var items []responsesInputItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("openai: decode responses input: %w", err)
	}

	var messages []domain.Message
	for _, item := range items {
		if item.Type != "" && item.Type != "message" {
			continue
		}
		role := domain.RoleUser
		if item.Role == "assistant" {
			role = domain.RoleModel
		}
		var text strings.Builder
		for _, p := range item.Content {
			text.WriteString(p.Text)
		}
		messages = append(messages, domain.Message{
			Role:  role,
			Parts: []domain.Part{{Kind: domain.PartText, Text: text.String()}},
		})
	}
	return messages, nil
}

// ResponsesObject is the non-streaming /v1/responses envelope.
type ResponsesObject struct {
	ID     string           `json:"id"`
	Object string           `json:"object"`
	Model  string           `json:"model"`
	Status string           `json:"status"`
	Output []ResponsesOutputItem `json:"output"`
	Usage  ResponsesUsage   `json:"usage"`
}

// ResponsesOutputItem is one item in the output array; this gateway
// only ever emits a single assistant message item per response.
type ResponsesOutputItem struct {
	Type    string                 `json:"type"`
	ID      string                 `json:"id"`
	Role    string                 `json:"role"`
	Content []responsesContentPart `json:"content"`
}

// ResponsesUsage is the Responses API's usage block, which names its
// fields differently from chat/completions' Usage.
type ResponsesUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// FromInternalResponses renders a canonical response as a /v1/responses
// body.
func FromInternalResponses(streamID string, resp domain.CanonicalResponse) ([]byte, error) {
	var content strings.Builder
	for _, p := range resp.Message.Parts {
		if p.Kind == domain.PartText {
			content.WriteString(p.Text)
		}
	}
	out := ResponsesObject{
		ID:     streamID,
		Object: "response",
		Model:  resp.Model,
		Status: "completed",
		Output: []ResponsesOutputItem{{
			Type: "message",
			ID:   streamID + "-msg",
			Role: "assistant",
			Content: []responsesContentPart{{
				Type: "output_text",
				Text: content.String(),
			}},
		}},
		Usage: ResponsesUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
			TotalTokens:  resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(out)
}

// ResponsesStreamEvent is one named SSE event in a streamed /v1/responses
// reply; the "type" field doubles as the SSE event name per Codex's
// convention of carrying it in both places.
type ResponsesStreamEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta,omitempty"`
	ItemID   string `json:"item_id,omitempty"`
	Response *ResponsesObject `json:"response,omitempty"`
}

// RenderResponsesStreamEvent converts one canonical streaming Event
// into a named Responses API SSE event. Returns ok=false for events
// this protocol renders nothing for.
func RenderResponsesStreamEvent(streamID string, ev streaming.Event) (ResponsesStreamEvent, bool) {
	switch ev.Kind {
	case streaming.EventText:
		if ev.Text == "" {
			return ResponsesStreamEvent{}, false
		}
		return ResponsesStreamEvent{Type: "response.output_text.delta", Delta: ev.Text, ItemID: streamID + "-msg"}, true
	case streaming.EventThought:
		if ev.Text == "" {
			return ResponsesStreamEvent{}, false
		}
		return ResponsesStreamEvent{Type: "response.reasoning_text.delta", Delta: ev.Text, ItemID: streamID + "-msg"}, true
	default:
		return ResponsesStreamEvent{}, false
	}
}
