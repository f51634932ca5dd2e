// Package canonical classifies apperr failures into each client
// protocol's native error envelope, so a handler can turn whatever the
// dispatcher or a mapper returned into the right wire shape without
// duplicating the classification logic per protocol.
package canonical

import (
	"errors"
	"net/http"

	"github.com/antigravity-gateway/gateway/internal/apperr"
)

// Status maps an error to the HTTP status code the response should
// carry, independent of which protocol renders the body.
func Status(err error) int {
	var clientErr *apperr.ClientError
	if errors.As(err, &clientErr) {
		return clientErr.Status
	}
	var allUnavail *apperr.AllAccountsUnavailableError
	if errors.As(err, &allUnavail) {
		return http.StatusServiceUnavailable
	}
	var rateLimited *apperr.RateLimitedError
	if errors.As(err, &rateLimited) {
		return http.StatusTooManyRequests
	}
	switch {
	case errors.Is(err, apperr.ErrAuthRevoked):
		return http.StatusForbidden
	case errors.Is(err, apperr.ErrStreamCorrupted):
		return http.StatusBadGateway
	case errors.Is(err, apperr.ErrUpstreamTransient):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// OpenAIBody renders {"error":{"message","type","code"}}, the shape
// every OpenAI-compatible client expects.
func OpenAIBody(err error) map[string]any {
	status := Status(err)
	return map[string]any{
		"error": map[string]any{
			"message": err.Error(),
			"type":    openAIErrorType(status),
			"code":    status,
		},
	}
}

func openAIErrorType(status int) string {
	switch {
	case status == http.StatusTooManyRequests:
		return "rate_limit_error"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return "authentication_error"
	case status >= 500:
		return "api_error"
	default:
		return "invalid_request_error"
	}
}

// AnthropicBody renders {"type":"error","error":{"type","message"}}.
func AnthropicBody(err error) map[string]any {
	status := Status(err)
	return map[string]any{
		"type": "error",
		"error": map[string]any{
			"type":    anthropicErrorType(status),
			"message": err.Error(),
		},
	}
}

func anthropicErrorType(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limit_error"
	case http.StatusUnauthorized:
		return "authentication_error"
	case http.StatusForbidden:
		return "permission_error"
	case http.StatusBadRequest:
		return "invalid_request_error"
	default:
		if status >= 500 {
			return "api_error"
		}
		return "invalid_request_error"
	}
}

// GeminiBody renders {"error":{"code","message","status"}}, matching
// the google.rpc.Status JSON shape native Gemini clients expect.
func GeminiBody(err error) map[string]any {
	status := Status(err)
	return map[string]any{
		"error": map[string]any{
			"code":    status,
			"message": err.Error(),
			"status":  googleStatus(status),
		},
	}
}

// googleStatus maps an HTTP status to its google.rpc.Code string name.
// Hand-written: no vendored googleapi helper covers this mapping here.
func googleStatus(httpStatus int) string {
	switch httpStatus {
	case http.StatusBadRequest:
		return "INVALID_ARGUMENT"
	case http.StatusUnauthorized:
		return "UNAUTHENTICATED"
	case http.StatusForbidden:
		return "PERMISSION_DENIED"
	case http.StatusNotFound:
		return "NOT_FOUND"
	case http.StatusConflict:
		return "ALREADY_EXISTS"
	case http.StatusTooManyRequests:
		return "RESOURCE_EXHAUSTED"
	case http.StatusRequestEntityTooLarge:
		return "INVALID_ARGUMENT"
	case http.StatusServiceUnavailable:
		return "UNAVAILABLE"
	case http.StatusGatewayTimeout:
		return "DEADLINE_EXCEEDED"
	default:
		if httpStatus >= 500 {
			return "INTERNAL"
		}
		return "UNKNOWN"
	}
}
