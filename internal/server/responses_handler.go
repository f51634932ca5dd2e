package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
)

// Responses handles POST /v1/responses, the OpenAI "Responses" wire
// format Codex CLI speaks, for both the streaming and non-streaming
// cases.
func (h *Handlers) Responses(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	canon, err := openai.ToInternalResponses(body)
	if err != nil {
		renderOpenAIError(c, badRequest("decode responses request: %s", err))
		return
	}
	tools, err := decodeOpenAITools(body)
	if err != nil {
		renderOpenAIError(c, badRequest("decode tools: %s", err))
		return
	}

	result, upstreamModel, err := h.runRequest(c.Request.Context(), canon, tools)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}

	id := newStreamID()
	if !canon.Stream {
		resp, err := gemini.CanonicalFromUpstream(result.Body)
		if err != nil {
			renderOpenAIError(c, err)
			return
		}
		resp.Model = upstreamModel
		out, err := openai.FromInternalResponses(id, resp)
		if err != nil {
			renderOpenAIError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}

	h.streamResponses(c, id, upstreamModel, result)
}

func (h *Handlers) streamResponses(c *gin.Context, id, model string, result *dispatch.Result) {
	defer closeResult(result)
	w := newSSEWriter(c.Writer)
	stream := domain.NewPendingStream(id, time.Now())

	w.WriteEvent("response.created", gin.H{
		"type": "response.created",
		"response": gin.H{"id": id, "object": "response", "model": model, "status": "in_progress"},
	})

	var full string
	for raw := range sseFrames(result.RawBody) {
		for _, ev := range h.engine.Process(stream, raw) {
			if chunk, ok := openai.RenderResponsesStreamEvent(id, ev); ok {
				full += chunk.Delta
				w.WriteEvent(chunk.Type, chunk)
			}
		}
	}
	for _, ev := range h.engine.Finish(stream) {
		if chunk, ok := openai.RenderResponsesStreamEvent(id, ev); ok {
			full += chunk.Delta
			w.WriteEvent(chunk.Type, chunk)
		}
	}

	final := openai.ResponsesObject{
		ID:     id,
		Object: "response",
		Model:  model,
		Status: "completed",
		Output: []openai.ResponsesOutputItem{{
			Type: "message",
			ID:   id + "-msg",
			Role: "assistant",
		}},
	}
	w.WriteEvent("response.completed", openai.ResponsesStreamEvent{Type: "response.completed", Response: &final})
}
