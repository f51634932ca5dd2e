package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/identity"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// legacyCompletionRequest is the subset of the deprecated
// /v1/completions body the gateway understands.
type legacyCompletionRequest struct {
	Model     string `json:"model"`
	Prompt    string `json:"prompt"`
	MaxTokens int    `json:"max_tokens"`
	Stream    bool   `json:"stream"`
}

// legacyCompletionResponse is the text_completion response shape.
type legacyCompletionResponse struct {
	ID      string                   `json:"id"`
	Object  string                   `json:"object"`
	Model   string                   `json:"model"`
	Choices []legacyCompletionChoice `json:"choices"`
}

type legacyCompletionChoice struct {
	Text         string `json:"text"`
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
}

// Completions handles POST /v1/completions: the legacy single-prompt
// API, translated into a one-turn chat exchange against the same
// dispatch pipeline /v1/chat/completions uses.
func (h *Handlers) Completions(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	var req legacyCompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		renderOpenAIError(c, badRequest("decode completions request: %s", err))
		return
	}
	if req.Prompt == "" {
		renderOpenAIError(c, badRequest("prompt is required"))
		return
	}

	canon := domain.CanonicalRequest{
		ClientModel: req.Model,
		System:      identity.BuildSystemInstruction("", nil),
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: req.Prompt}}},
		},
		MaxTokens: req.MaxTokens,
		Stream:    req.Stream,
	}

	result, upstreamModel, err := h.runRequest(c.Request.Context(), canon, nil)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}

	id := newStreamID()
	if canon.Stream {
		h.streamLegacyCompletion(c, id, upstreamModel, result)
		return
	}
	defer closeResult(result)
	resp, err := gemini.CanonicalFromUpstream(result.Body)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	c.JSON(http.StatusOK, legacyCompletionResponse{
		ID:     id,
		Object: "text_completion",
		Model:  upstreamModel,
		Choices: []legacyCompletionChoice{{
			Text:         textOf(resp.Message),
			FinishReason: resp.FinishReason,
		}},
	})
}

func textOf(msg domain.Message) string {
	var out string
	for _, p := range msg.Parts {
		if p.Kind == domain.PartText {
			out += p.Text
		}
	}
	return out
}

func closeResult(result *dispatch.Result) {
	if result.RawBody != nil {
		_ = result.RawBody.Close()
	}
}

func (h *Handlers) streamLegacyCompletion(c *gin.Context, id, model string, result *dispatch.Result) {
	defer closeResult(result)
	w := newSSEWriter(c.Writer)
	stream := domain.NewPendingStream(id, time.Now())

	emit := func(ev streaming.Event) {
		switch ev.Kind {
		case streaming.EventText, streaming.EventThought:
			if ev.Text == "" {
				return
			}
			w.WriteData(legacyCompletionResponse{
				ID: id, Object: "text_completion", Model: model,
				Choices: []legacyCompletionChoice{{Text: ev.Text}},
			})
		case streaming.EventDone:
			w.WriteData(legacyCompletionResponse{
				ID: id, Object: "text_completion", Model: model,
				Choices: []legacyCompletionChoice{{FinishReason: ev.FinishReason}},
			})
		}
	}

	for raw := range sseFrames(result.RawBody) {
		for _, ev := range h.engine.Process(stream, raw) {
			emit(ev)
		}
	}
	for _, ev := range h.engine.Finish(stream) {
		emit(ev)
	}
	w.WriteRaw("data: [DONE]\n\n")
}
