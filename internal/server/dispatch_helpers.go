package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/apperr"
	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/modelrouter"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
	"github.com/antigravity-gateway/gateway/internal/scheduler"
	"github.com/antigravity-gateway/gateway/internal/upstream"
)

// readBody reads and size-caps the request body; handlers call this
// once before decoding into their protocol's wire shape.
func readBody(c *gin.Context) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, upstream.MaxPayloadBytes+1))
	if err != nil {
		return nil, apperr.NewClientError(http.StatusBadRequest, "read request body: %s", err)
	}
	if len(body) > upstream.MaxPayloadBytes {
		return nil, apperr.NewClientError(http.StatusRequestEntityTooLarge, "request body exceeds %d bytes", upstream.MaxPayloadBytes)
	}
	return body, nil
}

// runRequest resolves the upstream model, builds the per-attempt
// request closure, and runs the dispatcher's full retry loop. tools
// must already be translated into Gemini's functionDeclarations shape
// by the caller's own protocol mapper.
func (h *Handlers) runRequest(ctx context.Context, canon domain.CanonicalRequest, tools []gemini.WireTool) (*dispatch.Result, string, error) {
	upstreamModel := h.router.Resolve(canon)
	caps := modelrouter.Detect(upstreamModel)
	thinkingRequested := caps.SupportsThinking

	fingerprint := ""
	if !scheduler.IsBackgroundTask(canon) {
		fingerprint = scheduler.Fingerprint(canon)
	}

	allowDummyThought := strings.HasPrefix(upstreamModel, "gemini-")
	build := func(ctx context.Context, disableThinking bool) ([]byte, error) {
		return gemini.BuildUpstreamRequest(canon, tools, upstreamModel, allowDummyThought, thinkingRequested, disableThinking)
	}

	result, err := h.dispatcher.Do(ctx, dispatch.Params{
		UpstreamModel: upstreamModel,
		Mode:          h.cfg.SchedulingMode(),
		Fingerprint:   fingerprint,
		PathSuffix:    pathSuffix(canon.Stream),
		Stream:        canon.Stream,
		Build:         build,
	})
	return result, upstreamModel, err
}

func pathSuffix(stream bool) string {
	if stream {
		return "/v1internal:streamGenerateContent"
	}
	return "/v1internal:generateContent"
}

// newStreamID mints the id attached to a response or stream's chunks.
func newStreamID() string {
	b := make([]byte, 12)
	_, _ = rand.Read(b)
	return "chatcmpl-" + hex.EncodeToString(b)
}

func badRequest(format string, args ...any) error {
	return apperr.NewClientError(http.StatusBadRequest, format, args...)
}

// canonicalRequestFor builds the minimal CanonicalRequest the router
// needs to resolve a bare client model id, for callers (the capability
// probe) that have no full request to route.
func canonicalRequestFor(clientModel string) domain.CanonicalRequest {
	return domain.CanonicalRequest{ClientModel: clientModel}
}
