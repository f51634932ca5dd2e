package server

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
)

// GenerateContent handles both POST
// /v1beta/models/{model}:generateContent and the streaming
// :streamGenerateContent suffix. Gin routes on a single {modelAction}
// path segment since the colon is part of the segment, not a
// delimiter gin itself understands, so the handler splits it here.
func (h *Handlers) GenerateContent(c *gin.Context) {
	model, stream, ok := splitModelAction(c.Param("modelAction"))
	if !ok {
		renderGeminiError(c, badRequest("unrecognized model:action path segment"))
		return
	}

	body, err := readBody(c)
	if err != nil {
		renderGeminiError(c, err)
		return
	}

	var wire gemini.GenerateContentRequest
	if err := json.Unmarshal(body, &wire); err != nil {
		renderGeminiError(c, badRequest("decode generateContent request: %s", err))
		return
	}
	gemini.SanitizeTools(wire.Tools)

	canon, err := gemini.ToInternal(body)
	if err != nil {
		renderGeminiError(c, badRequest("decode generateContent request: %s", err))
		return
	}
	canon.ClientModel = model
	canon.Stream = stream

	result, _, err := h.runRequest(c.Request.Context(), canon, wire.Tools)
	if err != nil {
		renderGeminiError(c, err)
		return
	}

	if !canon.Stream {
		resp, err := gemini.CanonicalFromUpstream(result.Body)
		if err != nil {
			renderGeminiError(c, err)
			return
		}
		out, err := gemini.FromInternal(resp)
		if err != nil {
			renderGeminiError(c, err)
			return
		}
		c.Data(http.StatusOK, "application/json", out)
		return
	}

	h.streamGemini(c, result)
}

// splitModelAction splits "gemini-3-pro-high:streamGenerateContent"
// into its model id and stream flag.
func splitModelAction(raw string) (model string, stream bool, ok bool) {
	raw = strings.TrimPrefix(raw, "/")
	switch {
	case strings.HasSuffix(raw, ":streamGenerateContent"):
		return strings.TrimSuffix(raw, ":streamGenerateContent"), true, true
	case strings.HasSuffix(raw, ":generateContent"):
		return strings.TrimSuffix(raw, ":generateContent"), false, true
	default:
		return "", false, false
	}
}

func (h *Handlers) streamGemini(c *gin.Context, result *dispatch.Result) {
	defer closeResult(result)
	w := newSSEWriter(c.Writer)
	stream := domain.NewPendingStream(newStreamID(), time.Now())

	for raw := range sseFrames(result.RawBody) {
		for _, ev := range h.engine.Process(stream, raw) {
			if chunk, ok := gemini.RenderStreamEvent(ev); ok {
				w.WriteData(chunk)
			}
		}
	}
	for _, ev := range h.engine.Finish(stream) {
		if chunk, ok := gemini.RenderStreamEvent(ev); ok {
			w.WriteData(chunk)
		}
	}
}
