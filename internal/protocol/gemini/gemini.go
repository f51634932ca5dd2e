// Package gemini implements the native Gemini mapper: the client
// already speaks the upstream's own wire dialect, so this mapper's job
// shrinks to schema sanitization, tool-argument rewriting, and the
// identity/MCP system-instruction injection every other mapper also
// performs.
package gemini

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/identity"
	"github.com/antigravity-gateway/gateway/internal/protocol/schema"
	"github.com/antigravity-gateway/gateway/internal/protocol/toolrewrite"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// GenerateContentRequest is the :generateContent / :streamGenerateContent
// request body.
type GenerateContentRequest struct {
	Contents          []domain.GeminiContentWire `json:"contents"`
	SystemInstruction *domain.GeminiContentWire  `json:"systemInstruction,omitempty"`
	Tools             []WireTool                 `json:"tools,omitempty"`
	ToolConfig        *ToolConfig                `json:"toolConfig,omitempty"`
	GenerationConfig  json.RawMessage            `json:"generationConfig,omitempty"`
	// SessionID is a stable Gemini-internal conversation id, derived
	// from the first user message so retries and follow-up turns of
	// the same conversation land on the same upstream session.
	SessionID string `json:"sessionId,omitempty"`
}

// ToolConfig pins function-call mode; the upstream client always sends
// VALIDATED so declared tools are enforced against their schemas.
type ToolConfig struct {
	FunctionCallingConfig FunctionCallingConfig `json:"functionCallingConfig"`
}

// FunctionCallingConfig selects how strictly the upstream validates
// tool-call arguments against their declared schema.
type FunctionCallingConfig struct {
	Mode string `json:"mode"`
}

// WireTool is one Gemini-shaped tool declaration.
type WireTool struct {
	FunctionDeclarations []FunctionDeclaration `json:"functionDeclarations,omitempty"`
}

// FunctionDeclaration is one tool's name/description/parameters.
type FunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// ToInternal converts a native Gemini request body into the canonical
// request shape. Being an already-Gemini-shaped request, the
// conversion is close to identity: only text parts are pulled into
// canonical Messages (image/audio parts pass through on the original
// body when the dispatcher forwards it, since the upstream already
// understands them natively).
func ToInternal(body []byte) (domain.CanonicalRequest, error) {
	var req GenerateContentRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return domain.CanonicalRequest{}, fmt.Errorf("gemini: decode request: %w", err)
	}

	toolNames := make([]string, 0)
	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			toolNames = append(toolNames, fd.Name)
		}
	}

	system := ""
	if req.SystemInstruction != nil {
		system = partsText(req.SystemInstruction.Parts)
	}

	messages := make([]domain.Message, 0, len(req.Contents))
	for _, c := range req.Contents {
		role := domain.RoleUser
		if c.Role == "model" {
			role = domain.RoleModel
		}
		messages = append(messages, domain.Message{
			Role:  role,
			Parts: []domain.Part{{Kind: domain.PartText, Text: partsText(c.Parts)}},
		})
	}

	return domain.CanonicalRequest{
		System:   identity.BuildSystemInstruction(system, toolNames),
		Messages: messages,
		Tools:    toolNames,
	}, nil
}

func partsText(parts []domain.GeminiPartWire) string {
	for _, p := range parts {
		if p.Text != "" {
			return p.Text
		}
	}
	return ""
}

// SanitizeTools runs every declared tool's parameters through the
// shared JSON-schema sanitizer, in place, so the upstream never sees a
// keyword it rejects.
func SanitizeTools(tools []WireTool) {
	for i := range tools {
		for j := range tools[i].FunctionDeclarations {
			cleaned := schema.Sanitize(anyify(tools[i].FunctionDeclarations[j].Parameters))
			if m, ok := cleaned.(map[string]any); ok {
				tools[i].FunctionDeclarations[j].Parameters = m
			}
		}
	}
}

func anyify(m map[string]any) any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// RewriteToolCallArgsUpstream applies the tool-argument rewrite to a
// function call's raw argument JSON before it leaves the gateway
// toward the tool runner (the Gemini mapper is the one place this
// runs on the request path, since native Gemini clients send tool
// calls back as plain functionResponse parts rather than going through
// a separate runner round-trip like the other protocols).
func RewriteToolCallArgsUpstream(toolName, argsJSON string) (string, error) {
	return toolrewrite.ToUpstream(toolName, argsJSON)
}

// dummyThoughtSignature lets a Gemini-family target skip thought-
// signature validation on a pre-filled assistant turn that has no real
// upstream-issued signature yet. Never used against a Claude-family
// target, which requires a genuine signature.
const dummyThoughtSignature = "skip_thought_signature_validator"

// BuildUpstreamRequest assembles the Gemini-internal wire request body
// every dispatcher attempt sends, regardless of which client protocol
// the canonical request was decoded from. tools must already be in
// Gemini's functionDeclarations shape (each protocol mapper's own tool
// list translated and sanitized before this call). allowDummyThought
// gates the thinking-prefill workaround to Gemini-family targets only;
// disableThinking is set by the dispatcher after a 400
// thinking-signature-missing response: it flattens every thought part
// to plain text and turns off includeThoughts.
func BuildUpstreamRequest(canon domain.CanonicalRequest, tools []WireTool, upstreamModel string, allowDummyThought, thinkingRequested, disableThinking bool) ([]byte, error) {
	var sysInstruction *domain.GeminiContentWire
	if canon.System != "" {
		sysInstruction = &domain.GeminiContentWire{Parts: []domain.GeminiPartWire{{Text: canon.System}}}
	}

	contents := make([]domain.GeminiContentWire, 0, len(canon.Messages))
	for i, m := range canon.Messages {
		role := "user"
		if m.Role == domain.RoleModel {
			role = "model"
		}

		parts := make([]domain.GeminiPartWire, 0, len(m.Parts))
		for _, p := range m.Parts {
			if disableThinking && p.Kind == domain.PartThought {
				parts = append(parts, domain.GeminiPartWire{Text: p.Text})
				continue
			}
			wp, err := toUpstreamPart(p)
			if err != nil {
				return nil, err
			}
			parts = append(parts, wp)
		}

		isLastAssistantTurn := role == "model" && i == len(canon.Messages)-1
		if allowDummyThought && thinkingRequested && !disableThinking && isLastAssistantTurn {
			parts = prependDummyThought(parts)
		}

		if len(parts) == 0 {
			continue
		}
		contents = append(contents, domain.GeminiContentWire{Role: role, Parts: parts})
	}

	req := GenerateContentRequest{
		Contents:          contents,
		SystemInstruction: sysInstruction,
		SessionID:         stableSessionID(canon.Messages),
		ToolConfig:        &ToolConfig{FunctionCallingConfig: FunctionCallingConfig{Mode: "VALIDATED"}},
	}
	if len(tools) > 0 {
		SanitizeTools(tools)
		req.Tools = tools
	}
	if canon.MaxTokens > 0 || thinkingRequested {
		req.GenerationConfig = buildGenerationConfig(canon.MaxTokens, thinkingRequested && !disableThinking)
	}

	return json.Marshal(req)
}

func prependDummyThought(parts []domain.GeminiPartWire) []domain.GeminiPartWire {
	for _, p := range parts {
		if p.Thought {
			return parts
		}
	}
	dummy := domain.GeminiPartWire{Text: "Thinking...", Thought: true, ThoughtSignature: dummyThoughtSignature}
	return append([]domain.GeminiPartWire{dummy}, parts...)
}

func buildGenerationConfig(maxTokens int, includeThoughts bool) json.RawMessage {
	cfg := map[string]any{}
	if maxTokens > 0 {
		cfg["maxOutputTokens"] = maxTokens
	}
	if includeThoughts {
		cfg["thinkingConfig"] = map[string]any{"includeThoughts": true}
	}
	if len(cfg) == 0 {
		return nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return nil
	}
	return b
}

// toUpstreamPart renders one canonical content block in upstream
// Gemini wire shape, the mirror image of FromInternal's switch.
func toUpstreamPart(p domain.Part) (domain.GeminiPartWire, error) {
	switch p.Kind {
	case domain.PartText:
		return domain.GeminiPartWire{Text: p.Text}, nil
	case domain.PartThought:
		return domain.GeminiPartWire{Text: p.Text, Thought: true, ThoughtSignature: p.ThoughtSignature}, nil
	case domain.PartFunctionCall:
		argsJSON, err := json.Marshal(p.CallArgs)
		if err != nil {
			return domain.GeminiPartWire{}, fmt.Errorf("gemini: marshal tool call args: %w", err)
		}
		return domain.GeminiPartWire{
			FunctionCall: &domain.GeminiFunctionCall{Name: p.CallName, ID: p.CallID, ArgsJSON: string(argsJSON)},
		}, nil
	case domain.PartFunctionResponse:
		return domain.GeminiPartWire{
			FunctionResponse: &domain.GeminiFunctionResponse{ID: p.ResponseID, Response: p.ResponseResult},
		}, nil
	case domain.PartInlineData:
		return domain.GeminiPartWire{
			InlineData: &domain.GeminiInlineData{MimeType: p.MimeType, Data: base64.StdEncoding.EncodeToString(p.Data)},
		}, nil
	default:
		return domain.GeminiPartWire{}, fmt.Errorf("gemini: unsupported part kind %d in request", p.Kind)
	}
}

// stableSessionID derives a Gemini-internal conversation id from the
// first user message's text so retries and later turns of the same
// conversation land on the same upstream session. Returns an empty
// string (so sessionId is omitted) when no user text is present yet.
func stableSessionID(messages []domain.Message) string {
	for _, m := range messages {
		if m.Role != domain.RoleUser {
			continue
		}
		for _, p := range m.Parts {
			if p.Kind == domain.PartText && p.Text != "" {
				h := sha256.Sum256([]byte(p.Text))
				n := int64(binary.BigEndian.Uint64(h[:8])) & 0x7FFFFFFFFFFFFFFF
				return "-" + strconv.FormatInt(n, 10)
			}
		}
	}
	return ""
}

// CanonicalFromUpstream parses one non-streaming upstream response
// body into the canonical response shape every protocol's FromInternal
// renders from, regardless of which client protocol's handler is
// calling it: the upstream always answers in Gemini wire format.
func CanonicalFromUpstream(body []byte) (domain.CanonicalResponse, error) {
	var chunk domain.GeminiChunk
	if err := json.Unmarshal(body, &chunk); err != nil {
		return domain.CanonicalResponse{}, fmt.Errorf("gemini: decode upstream response: %w", err)
	}
	if len(chunk.Candidates) == 0 {
		return domain.CanonicalResponse{}, fmt.Errorf("gemini: upstream response has no candidates")
	}
	cand := chunk.Candidates[0]

	parts := make([]domain.Part, 0, len(cand.Content.Parts))
	for _, p := range cand.Content.Parts {
		parts = append(parts, fromUpstreamPart(p))
	}

	var citations []domain.GroundingSource
	if cand.GroundingMetadata != nil {
		for _, c := range cand.GroundingMetadata.GroundingChunks {
			if c.Web == nil {
				continue
			}
			citations = append(citations, domain.GroundingSource{URL: c.Web.URI, Title: c.Web.Title})
		}
	}

	resp := domain.CanonicalResponse{
		Message:      domain.Message{Role: domain.RoleModel, Parts: parts},
		FinishReason: cand.FinishReason,
		Citations:    citations,
	}
	if chunk.UsageMetadata != nil {
		resp.Usage = domain.Usage{
			PromptTokens:     chunk.UsageMetadata.PromptTokenCount,
			CompletionTokens: chunk.UsageMetadata.CandidatesTokenCount,
			TotalTokens:      chunk.UsageMetadata.TotalTokenCount,
		}
	}
	return resp, nil
}

// fromUpstreamPart renders one upstream wire part as a canonical Part,
// the mirror image of toUpstreamPart.
func fromUpstreamPart(p domain.GeminiPartWire) domain.Part {
	switch {
	case p.FunctionCall != nil:
		var args map[string]any
		_ = json.Unmarshal([]byte(p.FunctionCall.ArgsJSON), &args)
		return domain.Part{Kind: domain.PartFunctionCall, CallID: p.FunctionCall.ID, CallName: p.FunctionCall.Name, CallArgs: args}
	case p.FunctionResponse != nil:
		return domain.Part{Kind: domain.PartFunctionResponse, ResponseID: p.FunctionResponse.ID, ResponseResult: p.FunctionResponse.Response}
	case p.InlineData != nil:
		data, _ := base64.StdEncoding.DecodeString(p.InlineData.Data)
		return domain.Part{Kind: domain.PartInlineData, MimeType: p.InlineData.MimeType, Data: data}
	case p.Thought:
		return domain.Part{Kind: domain.PartThought, Text: p.Text, ThoughtSignature: p.ThoughtSignature}
	default:
		return domain.Part{Kind: domain.PartText, Text: p.Text}
	}
}

// GenerateContentResponse is the non-streaming response shape.
type GenerateContentResponse struct {
	Candidates    []domain.GeminiCandidate `json:"candidates"`
	UsageMetadata *domain.GeminiUsage      `json:"usageMetadata,omitempty"`
}

// FromInternal renders a canonical response back into native Gemini
// shape. Since the canonical response was itself assembled from
// Gemini wire chunks, this is the thinnest of the three mappers'
// from_internal paths.
func FromInternal(resp domain.CanonicalResponse) ([]byte, error) {
	parts := make([]domain.GeminiPartWire, 0, len(resp.Message.Parts))
	for _, p := range resp.Message.Parts {
		switch p.Kind {
		case domain.PartText:
			parts = append(parts, domain.GeminiPartWire{Text: p.Text})
		case domain.PartThought:
			parts = append(parts, domain.GeminiPartWire{Text: p.Text, Thought: true, ThoughtSignature: p.ThoughtSignature})
		case domain.PartFunctionCall:
			argsJSON, err := json.Marshal(p.CallArgs)
			if err != nil {
				return nil, fmt.Errorf("gemini: marshal function call args: %w", err)
			}
			parts = append(parts, domain.GeminiPartWire{
				FunctionCall: &domain.GeminiFunctionCall{Name: p.CallName, ID: p.CallID, ArgsJSON: string(argsJSON)},
			})
		case domain.PartInlineData:
			parts = append(parts, domain.GeminiPartWire{
				InlineData: &domain.GeminiInlineData{MimeType: p.MimeType, Data: base64.StdEncoding.EncodeToString(p.Data)},
			})
		}
	}

	out := GenerateContentResponse{
		Candidates: []domain.GeminiCandidate{{
			Content:      domain.GeminiContentWire{Role: "model", Parts: parts},
			FinishReason: resp.FinishReason,
		}},
		UsageMetadata: &domain.GeminiUsage{
			PromptTokenCount:     resp.Usage.PromptTokens,
			CandidatesTokenCount: resp.Usage.CompletionTokens,
			TotalTokenCount:      resp.Usage.TotalTokens,
		},
	}
	return json.Marshal(out)
}

// RenderStreamEvent converts one canonical streaming Event into a
// :streamGenerateContent chunk. Native Gemini clients read the same
// candidates/usageMetadata shape whether the chunk came straight from
// upstream or was reassembled by the streaming engine.
func RenderStreamEvent(ev streaming.Event) (GenerateContentResponse, bool) {
	switch ev.Kind {
	case streaming.EventText:
		if ev.Text == "" {
			return GenerateContentResponse{}, false
		}
		return candidateChunk(domain.GeminiPartWire{Text: ev.Text}, ""), true
	case streaming.EventThought:
		if ev.Text == "" {
			return GenerateContentResponse{}, false
		}
		return candidateChunk(domain.GeminiPartWire{Text: ev.Text, Thought: true, ThoughtSignature: ev.ThoughtSignature}, ""), true
	case streaming.EventToolCall:
		argsJSON, err := json.Marshal(ev.ToolCallArgs)
		if err != nil {
			return GenerateContentResponse{}, false
		}
		return candidateChunk(domain.GeminiPartWire{
			FunctionCall: &domain.GeminiFunctionCall{Name: ev.ToolCallName, ID: ev.ToolCallID, ArgsJSON: string(argsJSON)},
		}, ""), true
	case streaming.EventUsage:
		return GenerateContentResponse{UsageMetadata: &domain.GeminiUsage{
			PromptTokenCount:     ev.PromptTokens,
			CandidatesTokenCount: ev.CompletionTokens,
			TotalTokenCount:      ev.TotalTokens,
		}}, true
	case streaming.EventDone:
		return GenerateContentResponse{Candidates: []domain.GeminiCandidate{{FinishReason: ev.FinishReason}}}, true
	default:
		return GenerateContentResponse{}, false
	}
}

func candidateChunk(part domain.GeminiPartWire, finishReason string) GenerateContentResponse {
	return GenerateContentResponse{Candidates: []domain.GeminiCandidate{{
		Content:      domain.GeminiContentWire{Role: "model", Parts: []domain.GeminiPartWire{part}},
		FinishReason: finishReason,
	}}}
}
