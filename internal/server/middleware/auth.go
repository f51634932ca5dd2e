// Package middleware holds the gin middleware the HTTP surface wraps
// every route with: request-scoped logging and client API key
// authentication.
package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/antigravity-gateway/gateway/internal/config"
)

// Auth builds the OpenAI/Anthropic-flavored auth middleware: on
// rejection it renders {"error":{"message","type","code"}}, the shape
// those two protocols' clients already parse.
func Auth(mode config.AuthMode, clientKey string, path string) gin.HandlerFunc {
	return authMiddleware(mode, clientKey, path, abortWithOpenAIError)
}

// AuthGoogle is Auth's twin for the native Gemini surface: on rejection
// it renders {"error":{"code","message","status":"UNAUTHENTICATED"}},
// matching what the Gemini SDK expects from /v1beta.
func AuthGoogle(mode config.AuthMode, clientKey string, path string) gin.HandlerFunc {
	return authMiddleware(mode, clientKey, path, abortWithGoogleError)
}

func authMiddleware(mode config.AuthMode, clientKey string, healthPath string, onReject func(c *gin.Context, status int, message string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		if mode == config.AuthOff {
			c.Next()
			return
		}
		if mode == config.AuthAllExceptHealth && c.Request.URL.Path == healthPath {
			c.Next()
			return
		}

		provided := extractAPIKey(c)
		if provided != "" {
			if clientKey == "" || provided != clientKey {
				onReject(c, http.StatusUnauthorized, "invalid API key")
				c.Abort()
				return
			}
			c.Next()
			return
		}

		if mode == config.AuthAuto && isLoopback(c.ClientIP()) {
			c.Next()
			return
		}

		onReject(c, http.StatusUnauthorized, "API key is required")
		c.Abort()
	}
}

// extractAPIKey reads the client's key in priority order: the Gemini
// native header, then a Bearer Authorization header, then x-api-key,
// then a query-string key (accepted only on the native Gemini path,
// mirroring the Gemini SDK's own query-key convention).
func extractAPIKey(c *gin.Context) string {
	if k := strings.TrimSpace(c.GetHeader("x-goog-api-key")); k != "" {
		return k
	}
	if auth := strings.TrimSpace(c.GetHeader("Authorization")); auth != "" {
		parts := strings.SplitN(auth, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if k := strings.TrimSpace(parts[1]); k != "" {
				return k
			}
		}
	}
	if k := strings.TrimSpace(c.GetHeader("x-api-key")); k != "" {
		return k
	}
	if strings.HasPrefix(c.Request.URL.Path, "/v1beta") {
		if k := strings.TrimSpace(c.Query("key")); k != "" {
			return k
		}
	}
	return ""
}

func isLoopback(host string) bool {
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func abortWithOpenAIError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"message": message,
			"type":    "authentication_error",
			"code":    status,
		},
	})
}

func abortWithGoogleError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{
		"error": gin.H{
			"code":    status,
			"message": message,
			"status":  "UNAUTHENTICATED",
		},
	})
}
