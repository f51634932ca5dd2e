package openai

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

func TestToInternalResponsesHandlesStringInput(t *testing.T) {
	body := []byte(`{"model":"gpt-5-codex","input":"list the files here","instructions":"be terse"}`)

	req, err := ToInternalResponses(body)
	require.NoError(t, err)
	assert.Equal(t, "gpt-5-codex", req.ClientModel)
	assert.Contains(t, req.System, "be terse")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "list the files here", req.Messages[0].Parts[0].Text)
}

func TestToInternalResponsesHandlesItemArrayInput(t *testing.T) {
	body := []byte(`{"model":"gpt-5-codex","input":[
		{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]},
		{"type":"message","role":"assistant","content":[{"type":"output_text","text":"hello"}]}
	]}`)

	req, err := ToInternalResponses(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, domain.RoleUser, req.Messages[0].Role)
	assert.Equal(t, domain.RoleModel, req.Messages[1].Role)
}

func TestToInternalResponsesSkipsNonMessageItems(t *testing.T) {
	body := []byte(`{"model":"gpt-5-codex","input":[
		{"type":"function_call_output","role":"","content":[{"type":"output_text","text":"42"}]},
		{"type":"message","role":"user","content":[{"type":"input_text","text":"hi"}]}
	]}`)

	req, err := ToInternalResponses(body)
	require.NoError(t, err)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "hi", req.Messages[0].Parts[0].Text)
}

func TestFromInternalResponsesRendersOutputText(t *testing.T) {
	resp := domain.CanonicalResponse{
		Model:   "gpt-5-codex",
		Message: domain.Message{Role: domain.RoleModel, Parts: []domain.Part{{Kind: domain.PartText, Text: "done"}}},
		Usage:   domain.Usage{PromptTokens: 4, CompletionTokens: 1, TotalTokens: 5},
	}
	body, err := FromInternalResponses("resp-1", resp)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"text":"done"`)
	assert.Contains(t, string(body), `"input_tokens":4`)
}

func TestRenderResponsesStreamEventRendersTextDelta(t *testing.T) {
	ev := streaming.Event{Kind: streaming.EventText, Text: "hi"}
	chunk, ok := RenderResponsesStreamEvent("resp-1", ev)
	require.True(t, ok)
	assert.Equal(t, "response.output_text.delta", chunk.Type)
	assert.Equal(t, "hi", chunk.Delta)
}

func TestRenderResponsesStreamEventDropsEmptyText(t *testing.T) {
	ev := streaming.Event{Kind: streaming.EventText, Text: ""}
	_, ok := RenderResponsesStreamEvent("resp-1", ev)
	assert.False(t, ok)
}
