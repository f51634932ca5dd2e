package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Healthz handles GET /healthz: a bare liveness probe with no
// upstream dependency, so it stays fast even when every account is
// locked out.
func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
