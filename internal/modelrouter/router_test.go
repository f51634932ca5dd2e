package modelrouter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-gateway/gateway/internal/domain"
)

func TestResolveBackgroundTaskAlwaysWinsOverEverythingElse(t *testing.T) {
	r := New(DefaultModelMap())
	req := domain.CanonicalRequest{ClientModel: "claude-haiku-4-5-20251001", Tools: []string{"web_search"}}
	assert.Equal(t, FlashLiteModel, r.Resolve(req))
}

func TestResolveWebSearchForcesFallbackModel(t *testing.T) {
	r := New(DefaultModelMap())
	req := domain.CanonicalRequest{ClientModel: "claude-sonnet-4-5", Tools: []string{"web_search"}}
	assert.Equal(t, WebSearchFallbackModel, r.Resolve(req))
}

func TestResolveExactMapOverridesFamilyRules(t *testing.T) {
	r := New(DefaultModelMap())
	req := domain.CanonicalRequest{ClientModel: "claude-opus-4-6"}
	assert.Equal(t, "claude-opus-4-6-thinking", r.Resolve(req))
}

func TestResolveFamilyRegexMatchesUnlistedVersion(t *testing.T) {
	r := New(DefaultModelMap())
	req := domain.CanonicalRequest{ClientModel: "claude-opus-4-5-20260101-preview"}
	assert.Equal(t, "claude-sonnet-4-5", r.Resolve(req))
}

func TestResolvePassthroughWhenNothingMatches(t *testing.T) {
	r := New(DefaultModelMap())
	req := domain.CanonicalRequest{ClientModel: "some-unknown-model"}
	assert.Equal(t, "some-unknown-model", r.Resolve(req))
}

func TestDetectReturnsCapabilitiesForKnownModel(t *testing.T) {
	caps := Detect("gemini-2.5-pro")
	assert.True(t, caps.SupportsThinking)
	assert.True(t, caps.SupportsGrounding)
}

func TestDetectReturnsZeroValueForUnknownModel(t *testing.T) {
	caps := Detect("totally-made-up-model")
	assert.Equal(t, Capabilities{}, caps)
}
