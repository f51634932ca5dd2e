package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/modelrouter"
)

// modelObject is the OpenAI-shaped {"object":"model",...} list entry.
type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ListModels handles GET /v1/models: every client-facing id the
// configured exact map declares, deduplicated and sorted.
func (h *Handlers) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": h.modelObjects(func(string) bool { return true })})
}

// ListClaudeModels handles GET /v1/models/claude: the subset of
// ListModels whose client id starts with "claude-".
func (h *Handlers) ListClaudeModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": h.modelObjects(func(id string) bool {
		return strings.HasPrefix(id, "claude-")
	})})
}

func (h *Handlers) modelObjects(keep func(string) bool) []modelObject {
	seen := make(map[string]bool)
	ids := make([]string, 0, len(h.cfg.ModelMap.Exact))
	for id := range h.cfg.ModelMap.Exact {
		if !keep(id) || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]modelObject, 0, len(ids))
	for _, id := range ids {
		out = append(out, modelObject{ID: id, Object: "model", OwnedBy: "antigravity-gateway"})
	}
	return out
}

// DetectModel handles POST /v1/models/detect: a capability probe
// clients use to ask whether a model id supports thinking, tools,
// images, or grounding before committing to a request shape.
func (h *Handlers) DetectModel(c *gin.Context) {
	var req struct {
		Model string `json:"model"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		renderOpenAIError(c, badRequest("decode detect request: %s", err))
		return
	}

	upstreamModel := h.router.Resolve(canonicalRequestFor(req.Model))
	caps := modelrouter.Detect(upstreamModel)
	c.JSON(http.StatusOK, gin.H{
		"model":              req.Model,
		"upstream_model":     upstreamModel,
		"supports_thinking":  caps.SupportsThinking,
		"supports_images":    caps.SupportsImages,
		"supports_tools":     caps.SupportsTools,
		"supports_grounding": caps.SupportsGrounding,
	})
}
