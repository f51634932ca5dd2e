package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
)

// ChatCompletions handles POST /v1/chat/completions for both the
// streaming and non-streaming cases.
func (h *Handlers) ChatCompletions(c *gin.Context) {
	body, err := readBody(c)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	canon, err := openai.ToInternal(body)
	if err != nil {
		renderOpenAIError(c, badRequest("decode chat request: %s", err))
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
		out, err := openai.FromInternal(id, resp)
		if err != nil {
			renderOpenAIError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}

	h.streamOpenAI(c, id, upstreamModel, result)
}

// decodeOpenAITools re-decodes just the tools array out of the raw
// body, since openai.ToInternal discards the client's own tool shape
// once it has folded tool names into the canonical request.
func decodeOpenAITools(body []byte) ([]gemini.WireTool, error) {
	var req struct {
		Tools []openai.Tool `json:"tools"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	return openAIToolsToWire(req.Tools), nil
}

func (h *Handlers) streamOpenAI(c *gin.Context, id, model string, result *dispatch.Result) {
	defer closeResult(result)
	w := newSSEWriter(c.Writer)
	stream := domain.NewPendingStream(id, time.Now())

	for raw := range sseFrames(result.RawBody) {
		for _, ev := range h.engine.Process(stream, raw) {
			if chunk, ok := openai.RenderStreamEvent(model, ev); ok {
				w.WriteData(chunk)
			}
		}
	}
	for _, ev := range h.engine.Finish(stream) {
		if chunk, ok := openai.RenderStreamEvent(model, ev); ok {
			w.WriteData(chunk)
		}
	}
	w.WriteRaw("data: [DONE]\n\n")
}
