// Package openai implements the OpenAI chat-completions mapper: wire
// JSON in both directions plus streaming chunk rendering.
package openai

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

// ChatRequest is the subset of the chat/completions request body the
// gateway understands.
type ChatRequest struct {
	Model           string          `json:"model"`
	Messages        []ChatMessage   `json:"messages"`
	MaxTokens       int             `json:"max_tokens"`
	Stream          bool            `json:"stream"`
	N               int             `json:"n,omitempty"`
	Stop            []string        `json:"stop,omitempty"`
	Tools           []Tool          `json:"tools,omitempty"`
	ToolChoice      json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat  *ResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage is one chat turn. Content is either a plain string or an
// array of multimodal parts; Content keeps the raw JSON so contentText
// can branch on whichever shape arrived.
type ChatMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// Tool is an OpenAI-shaped function tool declaration.
type Tool struct {
	Type     string       `json:"type"`
	Function FunctionSpec `json:"function"`
}

// FunctionSpec is a tool's name/description/JSON-schema parameters.
type FunctionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ResponseFormat controls response_format: json_object passthrough.
type ResponseFormat struct {
	Type string `json:"type"`
}

// ToInternal converts a chat/completions request body into the
// canonical request shape.
func ToInternal(body []byte) (domain.CanonicalRequest, error) {
	var req ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.CanonicalRequest{}, fmt.Errorf("openai: decode request: %w", err)
	}

	var system string
	var messages []domain.Message
	toolNames := make([]string, 0, len(req.Tools))
	for _, t := range req.Tools {
		toolNames = append(toolNames, t.Function.Name)
	}

	for _, m := range req.Messages {
		text := contentText(m.Content)
		if m.Role == "system" {
			if system != "" {
				system += "\n\n"
			}
			system += text
			continue
		}
		role := domain.RoleUser
		if m.Role == "assistant" {
			role = domain.RoleModel
		}
		messages = append(messages, domain.Message{
			Role:  role,
			Parts: []domain.Part{{Kind: domain.PartText, Text: text}},
		})
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

// contentText extracts plain text from either a string or multimodal
// content array; non-text parts (images) are dropped here, mirroring
// the scope of this mapper's text-centric test coverage.
func contentText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, p := range parts {
		if p.Type == "text" {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolParametersSanitized returns a tool's parameters schema run
// through the Gemini schema sanitizer, ready to become a
// functionDeclarations entry.
func ToolParametersSanitized(t Tool) map[string]any {
	cleaned := schema.Sanitize(anyify(t.Function.Parameters))
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

// ChatCompletion is the non-streaming response envelope.
type ChatCompletion struct {
	ID      string   `json:"id"`
	Object  string   `json:"object"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Message is the assistant message in a non-streaming response.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is one OpenAI-shaped function call the assistant made.
type ToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries the call's name and JSON-encoded arguments.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Usage is the OpenAI-shaped usage block.
type Usage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// FromInternal renders a canonical response as a chat/completions
// response body.
func FromInternal(streamID string, resp domain.CanonicalResponse) ([]byte, error) {
	var content strings.Builder
	var toolCalls []ToolCall
	for _, p := range resp.Message.Parts {
		switch p.Kind {
		case domain.PartText:
			content.WriteString(p.Text)
		case domain.PartFunctionCall:
			tc, err := toClientToolCall(p)
			if err != nil {
				return nil, err
			}
			toolCalls = append(toolCalls, tc)
		}
	}
	out := ChatCompletion{
		ID:     streamID,
		Object: "chat.completion",
		Model:  resp.Model,
		Choices: []Choice{{
			Message:      Message{Role: "assistant", Content: content.String(), ToolCalls: toolCalls},
			FinishReason: resp.FinishReason,
		}},
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(out)
}

// toClientToolCall renders a canonical function-call part as an OpenAI
// tool call, restoring the argument names the client's own tool schema
// used (the upstream rewrite runs in reverse on the way back to the
// client).
func toClientToolCall(p domain.Part) (ToolCall, error) {
	argsJSON, err := json.Marshal(p.CallArgs)
	if err != nil {
		return ToolCall{}, fmt.Errorf("openai: marshal tool call args: %w", err)
	}
	restored, err := rewriteToolCallArgs(p.CallName, string(argsJSON), false)
	if err != nil {
		return ToolCall{}, fmt.Errorf("openai: restore client tool arg names: %w", err)
	}
	return ToolCall{
		ID:       p.CallID,
		Type:     "function",
		Function: ToolCallFunction{Name: p.CallName, Arguments: restored},
	}, nil
}

// StreamChunk is one chat.completion.chunk SSE payload.
type StreamChunk struct {
	ID      string        `json:"id"`
	Object  string        `json:"object"`
	Model   string        `json:"model"`
	Choices []ChunkChoice `json:"choices"`
}

// ChunkChoice carries the incremental delta.
type ChunkChoice struct {
	Index        int         `json:"index"`
	Delta        ChunkDelta  `json:"delta"`
	FinishReason *string     `json:"finish_reason"`
}

// ChunkDelta splits thought text into reasoning_content and ordinary
// text into content, per the OpenAI streaming contract.
type ChunkDelta struct {
	Role             string          `json:"role,omitempty"`
	Content          string          `json:"content,omitempty"`
	ReasoningContent string          `json:"reasoning_content,omitempty"`
	ToolCalls        []ToolCallDelta `json:"tool_calls,omitempty"`
}

// ToolCallDelta is one tool_calls entry in a streaming delta. Index is
// required by the OpenAI streaming contract so clients can accumulate
// fragments across chunks even though this gateway only ever emits a
// call complete in one chunk (the streaming engine already assembled
// it from upstream fragments before handing it over as an Event).
type ToolCallDelta struct {
	Index    int              `json:"index"`
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function ToolCallFunction `json:"function"`
}

// RenderStreamEvent converts one canonical streaming Event into a
// chat.completion.chunk payload. Returns ok=false when the event
// carries nothing this protocol renders: text or thought events with
// empty text, citation events with no sources, and warning, usage or
// other event kinds. Tool-call and done chunks are emitted even though
// their content and reasoning_content are empty.
func RenderStreamEvent(model string, ev streaming.Event) (StreamChunk, bool) {
	switch ev.Kind {
	case streaming.EventText:
		if ev.Text == "" {
			return StreamChunk{}, false
		}
		return chunk(model, ev, ChunkDelta{Content: ev.Text}, nil), true
	case streaming.EventThought:
		if ev.Text == "" {
			return StreamChunk{}, false
		}
		return chunk(model, ev, ChunkDelta{ReasoningContent: ev.Text}, nil), true
	case streaming.EventToolCall:
		argsJSON, err := json.Marshal(ev.ToolCallArgs)
		if err != nil {
			return StreamChunk{}, false
		}
		restored, err := rewriteToolCallArgs(ev.ToolCallName, string(argsJSON), false)
		if err != nil {
			return StreamChunk{}, false
		}
		delta := ChunkDelta{ToolCalls: []ToolCallDelta{{
			ID:       ev.ToolCallID,
			Type:     "function",
			Function: ToolCallFunction{Name: ev.ToolCallName, Arguments: restored},
		}}}
		return chunk(model, ev, delta, nil), true
	case streaming.EventCitation:
		if len(ev.Sources) == 0 {
			return StreamChunk{}, false
		}
		var b strings.Builder
		for _, s := range ev.Sources {
			fmt.Fprintf(&b, "[%s](%s) ", s.Title, s.URL)
		}
		return chunk(model, ev, ChunkDelta{Content: b.String()}, nil), true
	case streaming.EventDone:
		reason := finishReasonToOpenAI(ev.FinishReason)
		return chunk(model, ev, ChunkDelta{}, &reason), true
	default:
		return StreamChunk{}, false
	}
}

func chunk(model string, ev streaming.Event, delta ChunkDelta, finish *string) StreamChunk {
	return StreamChunk{
		ID:     ev.StreamID,
		Object: "chat.completion.chunk",
		Model:  model,
		Choices: []ChunkChoice{{
			Delta:        delta,
			FinishReason: finish,
		}},
	}
}

func finishReasonToOpenAI(geminiReason string) string {
	switch geminiReason {
	case "MAX_TOKENS":
		return "length"
	case "SAFETY", "RECITATION":
		return "content_filter"
	default:
		return "stop"
	}
}

// rewriteToolCallArgs applies the tool-argument rewrite to a tool
// call's raw argument JSON before it crosses the protocol boundary.
func rewriteToolCallArgs(toolName, argsJSON string, upstream bool) (string, error) {
	if upstream {
		return toolrewrite.ToUpstream(toolName, argsJSON)
	}
	return toolrewrite.FromUpstream(toolName, argsJSON)
}
