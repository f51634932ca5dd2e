package canonical

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/antigravity-gateway/gateway/internal/apperr"
)

func TestStatusUnwrapsClientError(t *testing.T) {
	err := apperr.NewClientError(429, "rate limited: %s", "quota exhausted")
	assert.Equal(t, 429, Status(err))
}

func TestStatusMapsAllAccountsUnavailableTo503(t *testing.T) {
	err := &apperr.AllAccountsUnavailableError{}
	assert.Equal(t, http.StatusServiceUnavailable, Status(err))
}

func TestOpenAIBodyClassifiesRateLimitType(t *testing.T) {
	body := OpenAIBody(apperr.NewClientError(429, "slow down"))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "rate_limit_error", errObj["type"])
	assert.Equal(t, 429, errObj["code"])
}

func TestAnthropicBodyUsesTypeErrorEnvelope(t *testing.T) {
	body := AnthropicBody(apperr.NewClientError(400, "bad request"))
	assert.Equal(t, "error", body["type"])
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "invalid_request_error", errObj["type"])
}

func TestGeminiBodyMapsStatusToGoogleRPCCode(t *testing.T) {
	body := GeminiBody(apperr.NewClientError(403, "forbidden"))
	errObj := body["error"].(map[string]any)
	assert.Equal(t, "PERMISSION_DENIED", errObj["status"])
	assert.Equal(t, 403, errObj["code"])
}
