package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
)

// audioMaxBytes is the multipart file size cap.
const audioMaxBytes = 15 << 20

// AudioTranscriptions handles POST /v1/audio/transcriptions: the
// uploaded clip is forwarded as an inline-data part on a single user
// turn against the resolved model, and the transcript text is
// returned in the OpenAI transcription shape.
func (h *Handlers) AudioTranscriptions(c *gin.Context) {
	if err := c.Request.ParseMultipartForm(audioMaxBytes); err != nil {
		renderOpenAIError(c, badRequest("parse multipart form: %s", err))
		return
	}
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		renderOpenAIError(c, badRequest("file field is required: %s", err))
		return
	}
	defer file.Close()
	if header.Size > audioMaxBytes {
		renderOpenAIError(c, badRequest("audio file exceeds %d bytes", audioMaxBytes))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, audioMaxBytes+1))
	if err != nil {
		renderOpenAIError(c, badRequest("read audio file: %s", err))
		return
	}
	if len(data) > audioMaxBytes {
		renderOpenAIError(c, badRequest("audio file exceeds %d bytes", audioMaxBytes))
		return
	}

	model := c.Request.FormValue("model")
	if model == "" {
		model = "gemini-2.5-flash"
	}
	mimeType := header.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "audio/mpeg"
	}

	canon := domain.CanonicalRequest{
		ClientModel: model,
		Messages: []domain.Message{{
			Role: domain.RoleUser,
			Parts: []domain.Part{
				{Kind: domain.PartText, Text: "Transcribe this audio clip verbatim."},
				{Kind: domain.PartInlineData, MimeType: mimeType, Data: data},
			},
		}},
	}

	result, _, err := h.runRequest(c.Request.Context(), canon, nil)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	defer closeResult(result)

	resp, err := gemini.CanonicalFromUpstream(result.Body)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"text": textOf(resp.Message)})
}
