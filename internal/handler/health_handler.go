package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"fm-serve/internal/version"
)

// Health handles GET /health. Degraded dependencies turn the status to
// degraded but keep the endpoint at 200 so probes can read the detail.
func (s *Server) Health(c *gin.Context) {
	status := "healthy"

	dbStatus := "disabled"
	if s.DB != nil {
		dbStatus = "ok"
		if sqlDB, err := s.DB.DB(); err != nil {
			status, dbStatus = "degraded", "error"
		} else if err := sqlDB.PingContext(c.Request.Context()); err != nil {
			status, dbStatus = "degraded", "error"
		}
	}

	backends := gin.H{}
	for _, remote := range s.gateway.Remotes() {
		checkCtx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		if err := s.gateway.CheckRemote(checkCtx, &remote); err != nil {
			backends[remote.Name] = "unreachable"
			status = "degraded"
		} else {
			backends[remote.Name] = "ok"
		}
		cancel()
	}

	payload := gin.H{
		"status":    status,
		"version":   version.Version,
		"database":  dbStatus,
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
	}
	if len(backends) > 0 {
		payload["backends"] = backends
	}
	c.JSON(http.StatusOK, payload)
}

// Props handles GET /props, reporting the effective generation defaults the
// way llama-server does.
func (s *Server) Props(c *gin.Context) {
	gen := s.config.GetGenerationConfig()

	engines := make([]gin.H, 0)
	for _, engine := range s.gateway.Engines() {
		engines = append(engines, gin.H{
			"name":       engine.Name(),
			"model_type": engine.ModelType(),
			"models":     engine.Models(),
		})
	}

	c.JSON(http.StatusOK, gin.H{
		"version": version.Version,
		"default_generation_settings": gin.H{
			"temperature":        gen.Sampling.Temperature,
			"top_p":              gen.Sampling.TopP,
			"top_k":              gen.Sampling.TopK,
			"min_p":              gen.Sampling.MinP,
			"repetition_penalty": gen.Sampling.RepetitionPenalty,
			"presence_penalty":   gen.Sampling.PresencePenalty,
			"max_tokens":         gen.Sampling.MaxTokens,
			"stop":               gen.DefaultStopSequences,
		},
		"think_open_tag":  gen.ThinkOpenTag,
		"think_close_tag": gen.ThinkCloseTag,
		"engines":         engines,
	})
}
