package server

import (
	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/protocol/canonical"
)

// renderOpenAIError writes the OpenAI-flavored error
// envelope, used by both /v1/chat/completions and /v1/completions.
func renderOpenAIError(c *gin.Context, err error) {
	c.JSON(canonical.Status(err), canonical.OpenAIBody(err))
}

// renderAnthropicError writes the Claude-flavored
// error envelope.
func renderAnthropicError(c *gin.Context, err error) {
	c.JSON(canonical.Status(err), canonical.AnthropicBody(err))
}

// renderGeminiError writes the google.rpc.Status
// envelope native Gemini clients expect.
func renderGeminiError(c *gin.Context, err error) {
	c.JSON(canonical.Status(err), canonical.GeminiBody(err))
}
