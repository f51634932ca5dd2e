package server

import (
	"github.com/antigravity-gateway/gateway/internal/protocol/anthropic"
	"github.com/antigravity-gateway/gateway/internal/protocol/gemini"
	"github.com/antigravity-gateway/gateway/internal/protocol/openai"
)

// openAIToolsToWire translates a chat/completions request's declared
// tools into Gemini's functionDeclarations shape.
func openAIToolsToWire(tools []openai.Tool) []gemini.WireTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]gemini.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, gemini.FunctionDeclaration{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  openai.ToolParametersSanitized(t),
		})
	}
	return []gemini.WireTool{{FunctionDeclarations: decls}}
}

// anthropicToolsToWire translates a /v1/messages request's declared
// tools into Gemini's functionDeclarations shape.
func anthropicToolsToWire(tools []anthropic.WireTool) []gemini.WireTool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]gemini.FunctionDeclaration, 0, len(tools))
	for _, t := range tools {
		decls = append(decls, gemini.FunctionDeclaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  anthropic.ToolParametersSanitized(t),
		})
	}
	return []gemini.WireTool{{FunctionDeclarations: decls}}
}
