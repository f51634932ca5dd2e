package server

import (
	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/server/middleware"
)

const healthPath = "/healthz"

// SetupRouter builds the gin.Engine, applies the shared middleware
// chain, and registers every route this gateway serves.
func SetupRouter(h *Handlers, cfg *config.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())

	mode := cfg.AuthModeValue()
	clientKey := cfg.Server.ClientAPIKey
	registerRoutes(r, h, mode, clientKey)
	return r
}

func registerRoutes(r *gin.Engine, h *Handlers, mode config.AuthMode, clientKey string) {
	r.GET(healthPath, h.Healthz)

	v1 := r.Group("/v1")
	v1.Use(middleware.Auth(mode, clientKey, healthPath))
	{
		v1.POST("/chat/completions", h.ChatCompletions)
		v1.POST("/completions", h.Completions)
		v1.POST("/responses", h.Responses)
		v1.POST("/messages", h.Messages)
		v1.POST("/images/generations", h.ImageGenerations)
		v1.POST("/images/edits", h.ImageEdits)
		v1.POST("/images/variations", h.ImageVariations)
		v1.POST("/audio/transcriptions", h.AudioTranscriptions)
		v1.GET("/models", h.ListModels)
		v1.GET("/models/claude", h.ListClaudeModels)
		v1.POST("/models/detect", h.DetectModel)
	}

	v1beta := r.Group("/v1beta")
	v1beta.Use(middleware.AuthGoogle(mode, clientKey, healthPath))
	{
		v1beta.POST("/models/:modelAction", h.GenerateContent)
	}
}
