package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/modelrouter"
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
)

// Messages handles POST /v1/messages for both the streaming and
// non-streaming cases.
func (h *Handlers) Messages(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		renderAnthropicError(c, err)
		return
	}

	var probe struct {
		Model string `json:"model"`
	}
	_ = json.Unmarshal(body, &probe)
	caps := modelrouter.Detect(h.router.Resolve(domain.CanonicalRequest{ClientModel: probe.Model}))

	canon, err := anthropic.ToInternal(body, anthropic.Options{SupportsThinking: caps.SupportsThinking})
	if err != nil {
		renderAnthropicError(c, badRequest("decode messages request: %s", err))
		return
	}
	tools, err := decodeAnthropicTools(body)
	if err != nil {
		renderAnthropicError(c, badRequest("decode tools: %s", err))
		return
	}

	result, upstreamModel, err := h.runRequest(c.Request.Context(), canon, tools)
	if err != nil {
		renderAnthropicError(c, err)
		return
	}

	id := newStreamID()
	if !canon.Stream {
		resp, err := gemini.CanonicalFromUpstream(result.Body)
		if err != nil {
			renderAnthropicError(c, err)
			return
		}
		resp.Model = upstreamModel
		out, err := anthropic.FromInternal(id, resp)
		if err != nil {
			renderAnthropicError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}

	h.streamAnthropic(c, id, upstreamModel, result)
}

func decodeAnthropicTools(body []byte) ([]gemini.WireTool, error) {
	var req struct {
		Tools []anthropic.WireTool `json:"tools"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return anthropicToolsToWire(req.Tools), nil
}

func (h *Handlers) streamAnthropic(c *gin.Context, id, model string, result *dispatch.Result) {
	defer closeResult(result)
	w := newSSEWriter(c.Writer)
	stream := domain.NewPendingStream(id, time.Now())

	w.WriteEvent("message_start", map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id":      id,
			"type":    "message",
			"role":    "assistant",
			"model":   model,
			"content": []any{},
		},
	})
	w.WriteEvent("content_block_start", map[string]any{
		"type":  "content_block_start",
		"index": 0,
		"content_block": map[string]any{
			"type": "text",
			"text": "",
		},
	})

	for raw := range sseFrames(result.RawBody) {
		for _, ev := range h.engine.Process(stream, raw) {
			if chunk, ok := anthropic.RenderStreamEvent(ev); ok {
				w.WriteEvent(chunk.EventType, chunk.Payload)
			}
		}
	}
	for _, ev := range h.engine.Finish(stream) {
		if chunk, ok := anthropic.RenderStreamEvent(ev); ok {
			w.WriteEvent(chunk.EventType, chunk.Payload)
		}
	}

	w.WriteEvent("content_block_stop", map[string]any{"type": "content_block_stop", "index": 0})
	w.WriteEvent("message_stop", map[string]any{"type": "message_stop"})
}
