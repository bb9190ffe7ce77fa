package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"fm-serve/internal/backend"
	app_errors "fm-serve/internal/errors"
	"fm-serve/internal/gateway"
	"fm-serve/internal/models"
	"fm-serve/internal/pipeline"
	"fm-serve/internal/response"
	"fm-serve/internal/toolcall"
	"fm-serve/internal/utils"
)

// ChatCompletions handles POST /v1/chat/completions. The request is fully
// validated before any backend is touched; remote models are passed through
// the gateway while local models run the generation pipeline.
func (s *Server) ChatCompletions(c *gin.Context) {
	start := time.Now()

	body, err := c.GetRawData()
	if err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrBadRequest, "failed to read request body"))
		return
	}

	var wireReq models.ChatCompletionRequest
	if err := json.Unmarshal(body, &wireReq); err != nil {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrInvalidJSON, "request body is not valid JSON"))
		return
	}

	genReq, apiErr := models.BuildGenerationRequest(&wireReq, s.config.GetGenerationConfig())
	if apiErr != nil {
		response.Error(c, apiErr)
		return
	}

	target, ok := s.gateway.Resolve(c.Request.Context(), genReq.Model)
	if !ok {
		response.Error(c, app_errors.NewAPIError(app_errors.ErrModelNotFound, "model not found: "+genReq.Model))
		return
	}

	if target.Local() {
		s.serveLocal(c, target.Engine, genReq, start)
		return
	}
	s.serveRemote(c, target, body, genReq, start)
}

func (s *Server) serveRemote(c *gin.Context, target gateway.Target, body []byte, genReq *models.GenerationRequest, start time.Time) {
	stats, apiErr := s.gateway.ForwardChatCompletion(c, target, body)

	log := &models.RequestLog{
		Model:    genReq.Model,
		Backend:  target.Remote.Name,
		IsStream: stats.IsStream,
		Duration: time.Since(start).Milliseconds(),
		SourceIP: c.ClientIP(),
	}
	if apiErr != nil {
		log.StatusCode = apiErr.HTTPStatus
		log.ErrorMessage = apiErr.Message
		s.logService.Record(log)
		response.Error(c, apiErr)
		return
	}
	log.StatusCode = stats.StatusCode
	log.IsSuccess = stats.StatusCode < 400
	log.PromptTokens = stats.PromptTokens
	log.CompletionTokens = stats.CompletionTokens
	log.CachedTokens = stats.CachedTokens
	s.logService.Record(log)
}

func (s *Server) serveLocal(c *gin.Context, engine backend.Engine, genReq *models.GenerationRequest, start time.Time) {
	gen := s.config.GetGenerationConfig()
	ctx := c.Request.Context()

	messages, err := pipeline.ApplyResponseFormat(genReq.Messages, genReq.ResponseFormat)
	if err != nil {
		s.failLocal(c, engine, genReq, start, app_errors.NewAPIError(app_errors.ErrValidation, err.Error()))
		return
	}

	renderReq := *genReq
	renderReq.Messages = messages
	prompt, err := backend.RenderPrompt(&renderReq)
	if err != nil {
		s.failLocal(c, engine, genReq, start, app_errors.NewAPIError(app_errors.ErrRenderFailed, err.Error()))
		return
	}

	// Token ids drive both usage accounting and prefix reuse. A tokenizer
	// failure degrades to an estimate with no reuse.
	promptTokens, err := engine.Tokenize(ctx, prompt)
	if err != nil {
		logrus.WithFields(logrus.Fields{"engine": engine.Name(), "error": err}).Warn("Tokenize failed, prompt cache disabled for this request")
		promptTokens = nil
	}
	promptTokenCount := len(promptTokens)
	if promptTokens == nil {
		promptTokenCount = utils.CountTokens(prompt)
	}

	lease, err := s.promptCache.Acquire(ctx, engine.Name())
	if err != nil {
		s.failLocal(c, engine, genReq, start, app_errors.NewAPIError(app_errors.ErrInternalServer, "request cancelled while waiting for the engine"))
		return
	}
	defer lease.Release()

	reused := 0
	if promptTokens != nil {
		reused = lease.Reuse(genReq.Model, promptTokens)
	}

	params := backend.GenerationParams{
		Model:             genReq.Model,
		Prompt:            prompt,
		ReusePrefixTokens: reused,
		Temperature:       genReq.Temperature,
		TopP:              genReq.TopP,
		TopK:              genReq.TopK,
		MinP:              genReq.MinP,
		RepetitionPenalty: genReq.RepetitionPenalty,
		PresencePenalty:   genReq.PresencePenalty,
		Seed:              genReq.Seed,
		MaxTokens:         genReq.MaxTokens,
		Logprobs:          genReq.Logprobs,
		TopLogprobs:       genReq.TopLogprobs,
	}

	stream, err := engine.Generate(ctx, params)
	if err != nil {
		lease.Invalidate()
		logrus.WithFields(logrus.Fields{"engine": engine.Name(), "error": err}).Error("Engine failed to start generation")
		s.failLocal(c, engine, genReq, start, app_errors.NewAPIError(app_errors.ErrBadGateway, "engine failed to start generation"))
		return
	}

	pl := pipeline.New(pipeline.Options{
		Request:       genReq,
		Format:        toolcall.InferFormat(engine.ModelType(), gen.ToolCallFormat),
		ThinkOpenTag:  gen.ThinkOpenTag,
		ThinkCloseTag: gen.ThinkCloseTag,
		PromptTokens:  promptTokenCount,
		CachedTokens:  reused,
	})

	var outcome *pipeline.Outcome
	if genReq.Stream {
		outcome, err = s.runStreaming(c, pl, stream, genReq)
	} else {
		outcome, err = pl.Run(ctx, stream, nil)
	}
	if err != nil {
		lease.Invalidate()
		logrus.WithFields(logrus.Fields{"engine": engine.Name(), "error": err}).Error("Generation failed")
		if !c.Writer.Written() {
			s.failLocal(c, engine, genReq, start, app_errors.NewAPIError(app_errors.ErrBadGateway, "generation failed"))
		}
		return
	}
	if promptTokens != nil {
		lease.Commit(genReq.Model, promptTokens)
	} else {
		// The engine state now holds a prompt the cache never saw. Drop the
		// stale entry so the next request cannot reuse it.
		lease.Invalidate()
	}

	if !genReq.Stream {
		completion := pipeline.AssembleChatCompletion(genReq.Model, genReq, outcome)
		c.JSON(http.StatusOK, completion)
	}
	s.recordLocal(engine, genReq, outcome, start, c.ClientIP())
}

// runStreaming drives the pipeline with SSE output.
func (s *Server) runStreaming(c *gin.Context, pl *pipeline.Pipeline, stream backend.Stream, genReq *models.GenerationRequest) (*pipeline.Outcome, error) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	emitter := pipeline.NewStreamEmitter(c.Writer, genReq.Model, genReq)
	outcome, err := pl.Run(c.Request.Context(), stream, emitter.EmitDelta)
	if err != nil {
		return nil, err
	}

	if len(outcome.ToolCalls) > 0 {
		if err := emitter.EmitToolCalls(outcome.ToolCalls); err != nil {
			return nil, err
		}
	}
	if err := emitter.EmitFinish(outcome); err != nil {
		return nil, err
	}
	return outcome, nil
}

func (s *Server) recordLocal(engine backend.Engine, genReq *models.GenerationRequest, outcome *pipeline.Outcome, start time.Time, sourceIP string) {
	log := &models.RequestLog{
		Model:            genReq.Model,
		Backend:          engine.Name(),
		IsSuccess:        true,
		StatusCode:       http.StatusOK,
		IsStream:         genReq.Stream,
		FinishReason:     outcome.FinishReason,
		PromptTokens:     outcome.Usage.PromptTokens,
		CompletionTokens: outcome.Usage.CompletionTokens,
		Duration:         time.Since(start).Milliseconds(),
		SourceIP:         sourceIP,
	}
	if outcome.Usage.PromptTokensDetails != nil {
		log.CachedTokens = outcome.Usage.PromptTokensDetails.CachedTokens
	}
	s.logService.Record(log)
}

func (s *Server) failLocal(c *gin.Context, engine backend.Engine, genReq *models.GenerationRequest, start time.Time, apiErr *app_errors.APIError) {
	s.logService.Record(&models.RequestLog{
		Model:        genReq.Model,
		Backend:      engine.Name(),
		StatusCode:   apiErr.HTTPStatus,
		IsStream:     genReq.Stream,
		Duration:     time.Since(start).Milliseconds(),
		SourceIP:     c.ClientIP(),
		ErrorMessage: apiErr.Message,
	})
	response.Error(c, apiErr)
}
