// Package server wires the dispatcher, model router, and streaming
// engine into gin HTTP handlers for every client-facing protocol
// surface: OpenAI chat/legacy/responses, Anthropic messages, and
// native Gemini.
package server

import (
	"github.com/antigravity-gateway/gateway/internal/config"
	"github.com/antigravity-gateway/gateway/internal/dispatch"
	"github.com/antigravity-gateway/gateway/internal/modelrouter"
	"github.com/antigravity-gateway/gateway/internal/streaming"
)

// Handlers bundles the dependencies every route handler needs.
type Handlers struct {
	dispatcher *dispatch.Dispatcher
	router     *modelrouter.Router
	engine     *streaming.Engine
	cfg        *config.Config
}

// NewHandlers builds a Handlers value.
func NewHandlers(d *dispatch.Dispatcher, r *modelrouter.Router, e *streaming.Engine, cfg *config.Config) *Handlers {
	return &Handlers{dispatcher: d, router: r, engine: e, cfg: cfg}
}
