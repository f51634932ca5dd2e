// Package modelrouter resolves a client-requested model id to an
// upstream model id, and exposes the static capability table the
// dispatcher and protocol mappers consult.
package modelrouter

import (
	"regexp"
	"strings"
	"sync"

	"github.com/antigravity-gateway/gateway/internal/domain"
	"github.com/antigravity-gateway/gateway/internal/scheduler"
)

// FlashLiteModel is the cheapest Gemini tier background tasks are
// always routed to.
const FlashLiteModel = "gemini-2.5-flash-lite"

// WebSearchFallbackModel is the fixed model web_search-tagged requests
// force-route to regardless of the client's requested model.
const WebSearchFallbackModel = "gemini-2.5-flash"

// Router resolves client model ids to upstream model ids and exposes
// static capability lookups.
type Router struct {
	modelMap domain.ModelMap

	mu      sync.Mutex
	regexes map[string]*regexp.Regexp
}

// New builds a Router over the given model map (config.Config.ModelMap).
func New(modelMap domain.ModelMap) *Router {
	return &Router{modelMap: modelMap, regexes: make(map[string]*regexp.Regexp)}
}

// Resolve applies a five-step precedence: background task, then
// forced feature route, then exact map, then family regex, then
// passthrough.
func (r *Router) Resolve(req domain.CanonicalRequest) string {
	if scheduler.IsBackgroundTask(req) {
		return FlashLiteModel
	}
	if hasWebSearchTool(req.Tools) {
		return WebSearchFallbackModel
	}
	if target, ok := r.modelMap.Exact[req.ClientModel]; ok {
		return target
	}
	if target, ok := r.matchFamily(req.ClientModel); ok {
		return target
	}
	return req.ClientModel
}

func hasWebSearchTool(tools []string) bool {
	for _, name := range tools {
		if strings.EqualFold(name, "web_search") {
			return true
		}
	}
	return false
}

func (r *Router) matchFamily(clientModel string) (string, bool) {
	for _, rule := range r.modelMap.Families {
		re, err := r.compiledRegex(rule.Pattern)
		if err != nil {
			continue
		}
		if re.MatchString(clientModel) {
			return rule.Target, true
		}
	}
	return "", false
}

// compiledRegex caches compiled family-rule patterns; the rule set is
// small and static for the process lifetime so a plain map plus mutex
// is simpler than a sync.Map here.
func (r *Router) compiledRegex(pattern string) (*regexp.Regexp, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if re, ok := r.regexes[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	r.regexes[pattern] = re
	return re, nil
}

// Capabilities is the static per-model capability table used by the
// dispatcher (to decide whether to strip a thinking-signature retry
// path) and the protocol mappers (to decide whether to pass through
// tool/grounding blocks at all).
type Capabilities struct {
	SupportsThinking  bool
	SupportsImages    bool
	SupportsTools     bool
	SupportsGrounding bool
}

// capabilityTable is a static per-model capability lookup, keyed on
// the upstream model id's "thinking" and "image" suffix naming
// convention.
var capabilityTable = map[string]Capabilities{
	"claude-opus-4-6-thinking":   {SupportsThinking: true, SupportsTools: true, SupportsGrounding: true},
	"claude-sonnet-4-5":          {SupportsTools: true, SupportsGrounding: true},
	"claude-sonnet-4-5-thinking": {SupportsThinking: true, SupportsTools: true, SupportsGrounding: true},
	"gemini-2.5-flash":           {SupportsTools: true, SupportsGrounding: true},
	"gemini-2.5-flash-lite":      {SupportsTools: true},
	"gemini-2.5-flash-thinking":  {SupportsThinking: true, SupportsTools: true, SupportsGrounding: true},
	"gemini-2.5-pro":             {SupportsThinking: true, SupportsTools: true, SupportsGrounding: true},
	"gemini-3-flash":             {SupportsTools: true, SupportsGrounding: true},
	"gemini-3-pro-high":          {SupportsThinking: true, SupportsTools: true, SupportsGrounding: true},
	"gemini-3-pro-low":           {SupportsThinking: true, SupportsTools: true, SupportsGrounding: true},
	"gemini-3-pro-image":         {SupportsImages: true, SupportsTools: true},
	"gpt-oss-120b-medium":        {SupportsTools: true},
}

// Detect returns the capability set for an upstream model id. An
// unrecognized id gets the conservative all-false default, so callers
// skip thinking/image/grounding-specific handling for it rather than
// guessing.
func Detect(upstreamModel string) Capabilities {
	return capabilityTable[upstreamModel]
}

// DefaultModelMap returns the default routing table: exact overrides
// for specific model ids plus family regex rules for the broader
// class match.
func DefaultModelMap() domain.ModelMap {
	return domain.ModelMap{
		Exact: map[string]string{
			"claude-opus-4-6-thinking":   "claude-opus-4-6-thinking",
			"claude-opus-4-6":            "claude-opus-4-6-thinking",
			"claude-opus-4-5-thinking":   "claude-opus-4-6-thinking",
			"claude-opus-4-5-20251101":   "claude-opus-4-6-thinking",
			"claude-sonnet-4-5":          "claude-sonnet-4-5",
			"claude-sonnet-4-5-thinking": "claude-sonnet-4-5-thinking",
			"claude-sonnet-4-5-20250929": "claude-sonnet-4-5",
			"claude-haiku-4-5":           "claude-sonnet-4-5",
			"claude-haiku-4-5-20251001":  "claude-sonnet-4-5",
			"gemini-2.5-flash":           "gemini-2.5-flash",
			"gemini-2.5-flash-lite":      "gemini-2.5-flash-lite",
			"gemini-2.5-flash-thinking":  "gemini-2.5-flash-thinking",
			"gemini-2.5-pro":             "gemini-2.5-pro",
			"gemini-3-flash":             "gemini-3-flash",
			"gemini-3-pro-high":          "gemini-3-pro-high",
			"gemini-3-pro-low":           "gemini-3-pro-low",
			"gemini-3-pro-image":         "gemini-3-pro-image",
			"gemini-3-flash-preview":     "gemini-3-flash",
			"gemini-3-pro-preview":       "gemini-3-pro-high",
			"gemini-3-pro-image-preview": "gemini-3-pro-image",
			"gpt-oss-120b-medium":        "gpt-oss-120b-medium",
			"tab_flash_lite_preview":     "tab_flash_lite_preview",
		},
		Families: []domain.FamilyRule{
			{Family: domain.FamilyClaude45, Pattern: `^claude-(opus|sonnet)-4-5`, Target: "claude-sonnet-4-5"},
			{Family: domain.FamilyClaude35, Pattern: `^claude-3[-.]5`, Target: "claude-sonnet-4-5"},
			{Family: domain.FamilyGPT5, Pattern: `^gpt-5`, Target: "gpt-oss-120b-medium"},
			{Family: domain.FamilyGPT4o, Pattern: `^gpt-4o`, Target: "gpt-oss-120b-medium"},
			{Family: domain.FamilyGPT4, Pattern: `^gpt-4`, Target: "gpt-oss-120b-medium"},
		},
	}
}
