// Package anthropic implements the Claude Messages API mapper: wire
// JSON in both directions, cache_control stripping, and the
// thinking-block signature/downgrade logic.
package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/identity"
	"github.com/antigravity-gateway/gateway/internal/protocol/schema"
	"github.com/antigravity-gateway/gateway/internal/protocol/toolrewrite"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// MessagesRequest is the subset of the /v1/messages body the gateway
// understands.
type MessagesRequest struct {
	Model     string          `json:"model"`
	System    json.RawMessage `json:"system,omitempty"`
	Messages  []WireMessage   `json:"messages"`
	MaxTokens int             `json:"max_tokens"`
	Stream    bool            `json:"stream"`
	Tools     []WireTool      `json:"tools,omitempty"`
}

// WireMessage is one Claude-shaped conversation turn.
type WireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// WireTool is a Claude-shaped tool declaration.
type WireTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// contentBlock is the union of every block shape Claude sends in a
// message's content array. It has no cache_control field, so that key
// is dropped while decoding: Gemini upstream has no equivalent concept.
type contentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	// thinking
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

// Options carries per-request context the mapper needs but that isn't
// present in the wire body itself: whether the resolved upstream model
// supports extended thinking, which gates the signature-preserve vs.
// downgrade-to-text decision below.
type Options struct {
	SupportsThinking bool
}

// ToInternal converts a /v1/messages body into the canonical request
// shape.
func ToInternal(body []byte, opts Options) (domain.CanonicalRequest, error) {
	var req MessagesRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.CanonicalRequest{}, fmt.Errorf("anthropic: decode request: %w", err)
	}

	system := systemText(req.System)
	toolNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Name)
	}

	messages := make([]domain.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks, err := decodeBlocks(m.Content)
		if err != nil {
			return domain.CanonicalRequest{}, fmt.Errorf("anthropic: decode message content: %w", err)
		}
		role := domain.RoleUser
		if m.Role == "assistant" {
			role = domain.RoleModel
		}
		parts, err := blocksToParts(blocks, opts)
		if err != nil {
			return domain.CanonicalRequest{}, err
		}
		messages = append(messages, domain.Message{Role: role, Parts: parts})
	}

	return domain.CanonicalRequest{
		ClientModel: req.Model,
		System:      identity.BuildSystemInstruction(system, toolNames),
		Messages:    messages,
		MaxTokens:   req.MaxTokens,
		Stream:      req.Stream,
		Tools:       toolNames,
	}, nil
}

// ToolParametersSanitized returns a tool's input_schema run through the
// Gemini schema sanitizer, ready to become a functionDeclarations
// entry.
func ToolParametersSanitized(t WireTool) map[string]any {
	cleaned := schema.Sanitize(anyify(t.InputSchema))
	if m, ok := cleaned.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

func anyify(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

func decodeBlocks(raw json.RawMessage) ([]contentBlock, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return []contentBlock{{Type: "text", Text: s}}, nil
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return nil, err
	}
	return blocks, nil
}

// blocksToParts converts one message's content blocks to canonical
// Parts. Thinking blocks are kept as PartThought carrying their
// signature only when the target model supports thinking and the
// signature is present; otherwise every thinking block in the turn is
// downgraded to plain text: a thinking block whose signature cannot
// be validated against the target model is flattened to text rather
// than replayed as thought.
func blocksToParts(blocks []contentBlock, opts Options) ([]domain.Part, error) {
	hasValidSignedThinking := opts.SupportsThinking
	if hasValidSignedThinking {
		for _, blk := range blocks {
			if blk.Type == "thinking" && blk.Signature == "" && blk.Thinking != "" {
				hasValidSignedThinking = false
				break
			}
		}
	}

	parts := make([]domain.Part, 0, len(blocks))
	for _, blk := range blocks {
		switch blk.Type {
		case "text":
			if blk.Text != "" {
				parts = append(parts, domain.Part{Kind: domain.PartText, Text: blk.Text})
			}
		case "thinking":
			if hasValidSignedThinking {
				if blk.Thinking == "" && blk.Signature == "" {
					continue
				}
				parts = append(parts, domain.Part{
					Kind:             domain.PartThought,
					Text:             blk.Thinking,
					ThoughtSignature: blk.Signature,
				})
			} else if blk.Thinking != "" {
				parts = append(parts, domain.Part{Kind: domain.PartText, Text: blk.Thinking})
			}
		case "tool_use":
			args, err := toolrewrite.ToUpstream(blk.Name, string(blk.Input))
			if err != nil {
				return nil, fmt.Errorf("anthropic: rewrite tool_use args: %w", err)
			}
			var parsed map[string]any
			if err := json.Unmarshal([]byte(args), &parsed); err != nil {
				return nil, fmt.Errorf("anthropic: parse rewritten tool_use args: %w", err)
			}
			parts = append(parts, domain.Part{
				Kind:     domain.PartFunctionCall,
				CallID:   blk.ID,
				CallName: blk.Name,
				CallArgs: parsed,
			})
		case "tool_result":
			result := map[string]any{"output": toolResultText(blk.Content)}
			parts = append(parts, domain.Part{
				Kind:           domain.PartFunctionResponse,
				ResponseID:     blk.ToolUseID,
				ResponseResult: result,
			})
		}
	}
	return parts, nil
}

func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []contentBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return string(raw)
	}
	var b strings.Builder
	for _, blk := range blocks {
		if blk.Type == "text" {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// MessagesResponse is the non-streaming /v1/messages response shape.
type MessagesResponse struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	Role       string          `json:"role"`
	Model      string          `json:"model"`
	Content    []ResponseBlock `json:"content"`
	StopReason string          `json:"stop_reason"`
	Usage      ResponseUsage   `json:"usage"`
}

// ResponseBlock is one rendered content block.
type ResponseBlock struct {
	Type      string             `json:"type"`
	Text      string             `json:"text,omitempty"`
	Thinking  string             `json:"thinking,omitempty"`
	Signature string             `json:"signature,omitempty"`
	ID        string             `json:"id,omitempty"`
	Name      string             `json:"name,omitempty"`
	Input     map[string]any     `json:"input,omitempty"`
	Content   []WebSearchResult  `json:"content,omitempty"`
}

// WebSearchResult is one entry in a web_search_tool_result block's
// structured sources array.
type WebSearchResult struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Title string `json:"title"`
}

// ResponseUsage is the Claude-shaped usage block.
type ResponseUsage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// FromInternal renders a canonical response as a /v1/messages body.
func FromInternal(messageID string, resp domain.CanonicalResponse) ([]byte, error) {
	blocks := make([]ResponseBlock, 0, len(resp.Message.Parts))
	for _, p := range resp.Message.Parts {
		switch p.Kind {
		case domain.PartText:
			blocks = append(blocks, ResponseBlock{Type: "text", Text: p.Text})
		case domain.PartThought:
			blocks = append(blocks, ResponseBlock{Type: "thinking", Thinking: p.Text, Signature: p.ThoughtSignature})
		case domain.PartFunctionCall:
			argsJSON, err := json.Marshal(p.CallArgs)
			if err != nil {
				return nil, fmt.Errorf("anthropic: marshal tool_use input: %w", err)
			}
			rewritten, err := toolrewrite.FromUpstream(p.CallName, string(argsJSON))
			if err != nil {
				return nil, fmt.Errorf("anthropic: reverse-rewrite tool_use args: %w", err)
			}
			var input map[string]any
			if err := json.Unmarshal([]byte(rewritten), &input); err != nil {
				return nil, fmt.Errorf("anthropic: parse reverse-rewritten tool_use args: %w", err)
			}
			blocks = append(blocks, ResponseBlock{Type: "tool_use", ID: p.CallID, Name: p.CallName, Input: input})
		}
	}
	if len(resp.Citations) > 0 {
		blocks = append(blocks, ResponseBlock{Type: "web_search_tool_result", Content: webSearchResults(resp.Citations)})
	}

	out := MessagesResponse{
		ID:         messageID,
		Type:       "message",
		Role:       "assistant",
		Model:      resp.Model,
		Content:    blocks,
		StopReason: stopReasonFromGemini(resp.FinishReason),
		Usage: ResponseUsage{
			InputTokens:  resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}
	return json.Marshal(out)
}

// webSearchResults renders grounding sources as a web_search_tool_result
// block's structured sources array.
func webSearchResults(sources []domain.GroundingSource) []WebSearchResult {
	out := make([]WebSearchResult, 0, len(sources))
	for _, s := range sources {
		out = append(out, WebSearchResult{Type: "web_search_result", URL: s.URL, Title: s.Title})
	}
	return out
}

func stopReasonFromGemini(reason string) string {
	switch reason {
	case "MAX_TOKENS":
		return "max_tokens"
	case "SAFETY", "RECITATION":
		return "refusal"
	default:
		return "end_turn"
	}
}

// StreamEvent is one Claude SSE event: {"type": "...", ...}. Claude's
// stream protocol is event-typed rather than delta-typed like
// OpenAI's, so the rendered shape varies by event kind; EventType
// names the SSE "event:" line the caller must also emit.
type StreamEvent struct {
	EventType string
	Payload   map[string]any
}

// RenderStreamEvent converts one canonical streaming Event into the
// Claude-shaped SSE event(s) it corresponds to.
func RenderStreamEvent(ev streaming.Event) (StreamEvent, bool) {
	switch ev.Kind {
	case streaming.EventText:
		if ev.Text == "" {
			return StreamEvent{}, false
		}
		return StreamEvent{EventType: "content_block_delta", Payload: map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		}}, true
	case streaming.EventThought:
		if ev.Text == "" {
			return StreamEvent{}, false
		}
		return StreamEvent{EventType: "content_block_delta", Payload: map[string]any{
			"type":  "content_block_delta",
			"delta": map[string]any{"type": "thinking_delta", "thinking": ev.Text},
		}}, true
	case streaming.EventToolCall:
		return StreamEvent{EventType: "content_block_start", Payload: map[string]any{
			"type": "content_block_start",
			"content_block": map[string]any{
				"type":  "tool_use",
				"id":    ev.ToolCallID,
				"name":  ev.ToolCallName,
				"input": ev.ToolCallArgs,
			},
		}}, true
	case streaming.EventCitation:
		if len(ev.Sources) == 0 {
			return StreamEvent{}, false
		}
		return StreamEvent{EventType: "content_block_start", Payload: map[string]any{
			"type": "content_block_start",
			"content_block": map[string]any{
				"type":    "web_search_tool_result",
				"content": webSearchResults(ev.Sources),
			},
		}}, true
	case streaming.EventDone:
		return StreamEvent{EventType: "message_delta", Payload: map[string]any{
			"type":  "message_delta",
			"delta": map[string]any{"stop_reason": stopReasonFromGemini(ev.FinishReason)},
		}}, true
	default:
		return StreamEvent{}, false
	}
}
