package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

func TestToInternalSplitsSystemAndRoles(t *testing.T) {
	body := []byte(`{"model":"claude-opus","system":"be terse","max_tokens":100,"messages":[
		{"role":"user","content":"hi"},
		{"role":"assistant","content":"hello"}
	]}`)
	req, err := ToInternal(body, Options{})
	require.NoError(t, err)
	assert.Contains(t, req.System, "be terse")
	require.Len(t, req.Messages, 2)
	assert.Equal(t, domain.RoleUser, req.Messages[0].Role)
	assert.Equal(t, domain.RoleModel, req.Messages[1].Role)
}

func TestToInternalStripsCacheControlImplicitly(t *testing.T) {
	body := []byte(`{"model":"claude-opus","max_tokens":10,"messages":[
		{"role":"user","content":[{"type":"text","text":"hi","cache_control":{"type":"ephemeral"}}]}
	]}`)
	req, err := ToInternal(body, Options{})
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, "hi", req.Messages[0].Parts[0].Text)
}

func TestToInternalKeepsThinkingWithSignatureWhenModelSupportsThinking(t *testing.T) {
	body := []byte(`{"model":"claude-opus","max_tokens":10,"messages":[
		{"role":"assistant","content":[{"type":"thinking","thinking":"step one","signature":"sig-1"},{"type":"text","text":"answer"}]}
	]}`)
	req, err := ToInternal(body, Options{SupportsThinking: true})
	require.NoError(t, err)
	parts := req.Messages[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, domain.PartThought, parts[0].Kind)
	assert.Equal(t, "sig-1", parts[0].ThoughtSignature)
}

func TestToInternalDowngradesThinkingToTextWhenSignatureMissing(t *testing.T) {
	body := []byte(`{"model":"claude-opus","max_tokens":10,"messages":[
		{"role":"assistant","content":[{"type":"thinking","thinking":"step one"},{"type":"text","text":"answer"}]}
	]}`)
	req, err := ToInternal(body, Options{SupportsThinking: true})
	require.NoError(t, err)
	parts := req.Messages[0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, domain.PartText, parts[0].Kind)
	assert.Equal(t, "step one", parts[0].Text)
}

func TestToInternalDowngradesThinkingWhenModelDoesNotSupportThinking(t *testing.T) {
	body := []byte(`{"model":"claude-haiku","max_tokens":10,"messages":[
		{"role":"assistant","content":[{"type":"thinking","thinking":"step one","signature":"sig-1"}]}
	]}`)
	req, err := ToInternal(body, Options{SupportsThinking: false})
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	assert.Equal(t, domain.PartText, req.Messages[0].Parts[0].Kind)
}

func TestToInternalRewritesToolUseArgsForReadTool(t *testing.T) {
	body := []byte(`{"model":"claude-opus","max_tokens":10,"messages":[
		{"role":"assistant","content":[{"type":"tool_use","id":"call1","name":"Read","input":{"path":"/tmp/x"}}]}
	]}`)
	req, err := ToInternal(body, Options{})
	require.NoError(t, err)
	require.Len(t, req.Messages[0].Parts, 1)
	p := req.Messages[0].Parts[0]
	assert.Equal(t, domain.PartFunctionCall, p.Kind)
	assert.Equal(t, "/tmp/x", p.CallArgs["file_path"])
	assert.Nil(t, p.CallArgs["path"])
}

func TestToInternalConvertsToolResultToFunctionResponse(t *testing.T) {
	body := []byte(`{"model":"claude-opus","max_tokens":10,"messages":[
		{"role":"user","content":[{"type":"tool_result","tool_use_id":"call1","content":"file contents"}]}
	]}`)
	req, err := ToInternal(body, Options{})
	require.NoError(t, err)
	p := req.Messages[0].Parts[0]
	assert.Equal(t, domain.PartFunctionResponse, p.Kind)
	assert.Equal(t, "call1", p.ResponseID)
	assert.Equal(t, "file contents", p.ResponseResult["output"])
}

func TestFromInternalRendersTextAndToolUseBlocks(t *testing.T) {
	resp := domain.CanonicalResponse{
		Model: "claude-opus",
		Message: domain.Message{Parts: []domain.Part{
			{Kind: domain.PartText, Text: "here you go"},
			{Kind: domain.PartFunctionCall, CallID: "call1", CallName: "Grep", CallArgs: map[string]any{"path": "/tmp"}},
		}},
		FinishReason: "STOP",
		Usage:        domain.Usage{PromptTokens: 5, CompletionTokens: 3},
	}
	body, err := FromInternal("msg_1", resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"text":"here you go"`)
	assert.Contains(t, string(body), `"paths":["/tmp"]`)
}

func TestRenderStreamEventEmitsThinkingDelta(t *testing.T) {
	ev, ok := RenderStreamEvent(streaming.Event{Kind: streaming.EventThought, Text: "pondering"})
	require.True(t, ok)
	assert.Equal(t, "content_block_delta", ev.EventType)
}

func TestRenderStreamEventDropsEmptyText(t *testing.T) {
	_, ok := RenderStreamEvent(streaming.Event{Kind: streaming.EventText, Text: ""})
	assert.False(t, ok)
}

func TestFromInternalRendersWebSearchToolResultFromCitations(t *testing.T) {
	resp := domain.CanonicalResponse{
		Model:     "claude-opus",
		Message:   domain.Message{Parts: []domain.Part{{Kind: domain.PartText, Text: "per my search"}}},
		Citations: []domain.GroundingSource{{URL: "https://example.com", Title: "Example"}},
	}
	body, err := FromInternal("msg_1", resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"type":"web_search_tool_result"`)
	assert.Contains(t, string(body), `"url":"https://example.com"`)
	assert.Contains(t, string(body), `"title":"Example"`)
}

func TestRenderStreamEventEmitsWebSearchToolResultForCitations(t *testing.T) {
	ev, ok := RenderStreamEvent(streaming.Event{
		Kind:    streaming.EventCitation,
		Sources: []domain.GroundingSource{{URL: "https://example.com", Title: "Example"}},
	})
	require.True(t, ok)
	assert.Equal(t, "content_block_start", ev.EventType)
	block := ev.Payload["content_block"].(map[string]any)
	assert.Equal(t, "web_search_tool_result", block["type"])
}

func TestRenderStreamEventDropsEmptyCitations(t *testing.T) {
	_, ok := RenderStreamEvent(streaming.Event{Kind: streaming.EventCitation})
	assert.False(t, ok)
}
