package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fm-serve/internal/models"
	"fm-serve/internal/utils"
)

// StreamEmitter writes a chat completion as server-sent events. Every chunk
// shares the completion id, creation time and model; the terminator line
// "data: [DONE]" closes the stream.
type StreamEmitter struct {
	w       io.Writer
	flusher http.Flusher
	id      string
	created int64
	model   string

	includeUsage bool
	logprobs     bool
	roleSent     bool
}

func NewStreamEmitter(w io.Writer, model string, req *models.GenerationRequest) *StreamEmitter {
	e := &StreamEmitter{
		w:            w,
		id:           utils.CompletionID(),
		created:      time.Now().Unix(),
		model:        model,
		includeUsage: req.IncludeUsage,
		logprobs:     req.Logprobs,
	}
	if flusher, ok := w.(http.Flusher); ok {
		e.flusher = flusher
	}
	return e
}

func (e *StreamEmitter) chunk(choices []models.ChunkChoice, usage *models.Usage) models.ChatCompletionChunk {
	return models.ChatCompletionChunk{
		ID:                e.id,
		Object:            "chat.completion.chunk",
		Created:           e.created,
		Model:             e.model,
		SystemFingerprint: systemFingerprint(),
		Choices:           choices,
		Usage:             usage,
	}
}

func (e *StreamEmitter) write(chunk models.ChatCompletionChunk) error {
	payload, err := json.Marshal(chunk)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// EmitDelta sends one incremental fragment. The first fragment carries the
// assistant role.
func (e *StreamEmitter) EmitDelta(delta Delta) error {
	d := models.Delta{
		Content:          delta.Content,
		ReasoningContent: delta.Reasoning,
	}
	if !e.roleSent {
		d.Role = "assistant"
		e.roleSent = true
	}

	choice := models.ChunkChoice{Index: 0, Delta: d}
	if e.logprobs && delta.Logprob != nil {
		choice.Logprobs = &models.ChoiceLogprobs{Content: []models.TokenLogprob{*delta.Logprob}}
	}
	return e.write(e.chunk([]models.ChunkChoice{choice}, nil))
}

// EmitToolCalls sends the parsed tool calls as one delta.
func (e *StreamEmitter) EmitToolCalls(calls []models.ToolCall) error {
	d := models.Delta{ToolCalls: calls}
	if !e.roleSent {
		d.Role = "assistant"
		e.roleSent = true
	}
	return e.write(e.chunk([]models.ChunkChoice{{Index: 0, Delta: d}}, nil))
}

// EmitFinish sends the closing chunk with the finish reason, then the usage
// chunk when the request asked for it, then the terminator.
func (e *StreamEmitter) EmitFinish(outcome *Outcome) error {
	if !e.roleSent {
		// Empty generation; the role still has to reach the client.
		if err := e.EmitDelta(Delta{}); err != nil {
			return err
		}
	}

	reason := outcome.FinishReason
	if err := e.write(e.chunk([]models.ChunkChoice{{Index: 0, FinishReason: &reason}}, nil)); err != nil {
		return err
	}

	if e.includeUsage {
		usage := outcome.Usage
		if err := e.write(e.chunk([]models.ChunkChoice{}, &usage)); err != nil {
			return err
		}
	}

	if _, err := fmt.Fprint(e.w, "data: [DONE]\n\n"); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
