package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListModels handles GET /v1/models, aggregating local engines and remote
// backends into one OpenAI-shaped list.
func (s *Server) ListModels(c *gin.Context) {
	c.JSON(http.StatusOK, s.gateway.Models(c.Request.Context()))
}
