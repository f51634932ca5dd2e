package server

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
)

// imageGenerationRequest is the subset of the OpenAI images request
// body the gateway understands; edits/variations reuse the same
// shape, and any source image or mask they carry is not read.
type imageGenerationRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
}

type imageResponse struct {
	Created int64            `json:"created"`
	Data    []imageResponseN `json:"data"`
}

type imageResponseN struct {
	B64JSON string `json:"b64_json"`
}

// ImageGenerations handles POST /v1/images/generations: a
// non-streaming turn against an image-capable model, with each
// inline-data part returned as a base64 image.
func (h *Handlers) ImageGenerations(c *gin.Context) {
	h.runImageRequest(c, imageGenerationRequest{})
}

// ImageEdits and ImageVariations handle POST /v1/images/edits and
// /v1/images/variations. Neither the source image bytes nor a mask
// are folded into the upstream turn here: the gateway has no image
// ingestion pipeline of its own, so only the textual prompt travels
// upstream, matching the generations path's request shape.
func (h *Handlers) ImageEdits(c *gin.Context)      { h.runImageRequest(c, imageGenerationRequest{}) }
func (h *Handlers) ImageVariations(c *gin.Context) { h.runImageRequest(c, imageGenerationRequest{}) }

func (h *Handlers) runImageRequest(c *gin.Context, _ imageGenerationRequest) {
	body, err := readBody(c)
	if err != nil {
		renderOpenAIError(c, err)
		return
	}
	var req imageGenerationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		renderOpenAIError(c, badRequest("decode image request: %s", err))
		return
	}
	if req.Prompt == "" {
		renderOpenAIError(c, badRequest("prompt is required"))
		return
	}
	if req.Model == "" {
		req.Model = "gemini-3-pro-image"
	}

	canon := domain.CanonicalRequest{
		ClientModel: req.Model,
		Messages: []domain.Message{
			{Role: domain.RoleUser, Parts: []domain.Part{{Kind: domain.PartText, Text: req.Prompt}}},
		},
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

	out := imageResponse{Created: time.Now().Unix()}
	for _, p := range resp.Message.Parts {
		if p.Kind == domain.PartInlineData {
			out.Data = append(out.Data, imageResponseN{B64JSON: base64.StdEncoding.EncodeToString(p.Data)})
		}
	}
	if len(out.Data) == 0 {
		renderOpenAIError(c, badRequest("upstream returned no image data"))
		return
	}
	c.JSON(http.StatusOK, out)
}
