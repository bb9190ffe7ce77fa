package models

import (
	"fmt"

	app_errors "fm-serve/internal/errors"
	"fm-serve/internal/types"
	"fm-serve/internal/utils"
)

// GenerationRequest is the immutable, validated form of a chat completion
// request after server defaults have been merged in.
type GenerationRequest struct {
	Model             string
	Messages          []Message
	Temperature       float64
	TopP              float64
	TopK              int
	MinP              float64
	RepetitionPenalty float64
	PresencePenalty   float64
	Seed              *int64
	// Stop is the merged stop set: per-request stop strings first (API takes
	// precedence), then server defaults, duplicates removed.
	Stop           []string
	MaxTokens      int
	Tools          []Tool
	ToolChoice     string
	ResponseFormat *ResponseFormat
	Stream         bool
	IncludeUsage   bool
	Logprobs       bool
	TopLogprobs    int
}

// BuildGenerationRequest validates a wire request and merges it with the
// server generation defaults. All validation failures are reported before any
// backend is touched.
func BuildGenerationRequest(req *ChatCompletionRequest, gen types.GenerationConfig) (*GenerationRequest, *app_errors.APIError) {
	if req.Model == "" {
		return nil, app_errors.NewAPIError(app_errors.ErrValidation, "model is required")
	}
	if len(req.Messages) == 0 {
		return nil, app_errors.NewAPIError(app_errors.ErrValidation, "messages must not be empty")
	}
	for i, msg := range req.Messages {
		switch msg.Role {
		case "system", "user", "assistant", "tool":
		default:
			return nil, app_errors.NewAPIError(app_errors.ErrValidation,
				fmt.Sprintf("messages[%d].role must be one of system, user, assistant, tool", i))
		}
	}

	out := &GenerationRequest{
		Model:             req.Model,
		Messages:          req.Messages,
		Temperature:       gen.Sampling.Temperature,
		TopP:              gen.Sampling.TopP,
		TopK:              gen.Sampling.TopK,
		MinP:              gen.Sampling.MinP,
		RepetitionPenalty: gen.Sampling.RepetitionPenalty,
		PresencePenalty:   gen.Sampling.PresencePenalty,
		Seed:              req.Seed,
		MaxTokens:         gen.Sampling.MaxTokens,
		Tools:             req.Tools,
		ResponseFormat:    req.ResponseFormat,
		Stream:            req.Stream,
	}

	if req.Temperature != nil {
		if *req.Temperature < 0 || *req.Temperature > 2 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "temperature must be within [0, 2]")
		}
		out.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		if *req.TopP <= 0 || *req.TopP > 1 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "top_p must be within (0, 1]")
		}
		out.TopP = *req.TopP
	}
	if req.TopK != nil {
		if *req.TopK < 0 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "top_k cannot be negative")
		}
		out.TopK = *req.TopK
	}
	if req.MinP != nil {
		if *req.MinP < 0 || *req.MinP > 1 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "min_p must be within [0, 1]")
		}
		out.MinP = *req.MinP
	}
	if req.RepetitionPenalty != nil {
		if *req.RepetitionPenalty <= 0 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "repetition_penalty must be positive")
		}
		out.RepetitionPenalty = *req.RepetitionPenalty
	}
	if req.PresencePenalty != nil {
		if *req.PresencePenalty < -2 || *req.PresencePenalty > 2 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "presence_penalty must be within [-2, 2]")
		}
		out.PresencePenalty = *req.PresencePenalty
	}

	maxTokens := req.MaxTokens
	if maxTokens == nil {
		maxTokens = req.MaxCompletionTokens
	}
	if maxTokens != nil {
		if *maxTokens < 1 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "max_tokens must be at least 1")
		}
		out.MaxTokens = *maxTokens
	}

	// API-level stop strings take precedence over server defaults.
	merged := make([]string, 0, len(req.Stop)+len(gen.DefaultStopSequences))
	merged = append(merged, req.Stop...)
	merged = append(merged, gen.DefaultStopSequences...)
	out.Stop = utils.DedupeStrings(merged)

	toolChoice, apiErr := normalizeToolChoice(req)
	if apiErr != nil {
		return nil, apiErr
	}
	out.ToolChoice = toolChoice

	if req.ResponseFormat != nil {
		switch req.ResponseFormat.Type {
		case "text", "json_object":
		case "json_schema":
			if req.ResponseFormat.JSONSchema == nil || len(req.ResponseFormat.JSONSchema.Schema) == 0 {
				return nil, app_errors.NewAPIError(app_errors.ErrValidation, "response_format.json_schema.schema is required")
			}
		default:
			return nil, app_errors.NewAPIError(app_errors.ErrValidation,
				fmt.Sprintf("unsupported response_format.type: %s", req.ResponseFormat.Type))
		}
	}

	if req.StreamOptions != nil {
		if !req.Stream {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "stream_options requires stream=true")
		}
		out.IncludeUsage = req.StreamOptions.IncludeUsage
	}

	out.Logprobs = req.Logprobs
	if req.TopLogprobs != nil {
		if !req.Logprobs {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "top_logprobs requires logprobs=true")
		}
		if *req.TopLogprobs < 0 {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation, "top_logprobs cannot be negative")
		}
		if *req.TopLogprobs > gen.MaxTopLogprobs {
			return nil, app_errors.NewAPIError(app_errors.ErrValidation,
				fmt.Sprintf("top_logprobs must be <= %d", gen.MaxTopLogprobs))
		}
		out.TopLogprobs = *req.TopLogprobs
	}

	return out, nil
}

// normalizeToolChoice reduces the polymorphic tool_choice field to one of
// "auto", "none", "required", or a bare function name.
func normalizeToolChoice(req *ChatCompletionRequest) (string, *app_errors.APIError) {
	if len(req.Tools) == 0 {
		return ToolChoiceNone, nil
	}
	for i, tool := range req.Tools {
		if tool.Type != "function" {
			return "", app_errors.NewAPIError(app_errors.ErrValidation,
				fmt.Sprintf("tools[%d].type must be \"function\"", i))
		}
		if tool.Function.Name == "" {
			return "", app_errors.NewAPIError(app_errors.ErrValidation,
				fmt.Sprintf("tools[%d].function.name is required", i))
		}
	}

	switch v := req.ToolChoice.(type) {
	case nil:
		return ToolChoiceAuto, nil
	case string:
		switch v {
		case ToolChoiceAuto, ToolChoiceNone, ToolChoiceRequired:
			return v, nil
		}
		return "", app_errors.NewAPIError(app_errors.ErrValidation,
			fmt.Sprintf("invalid tool_choice: %q", v))
	case map[string]any:
		fn, _ := v["function"].(map[string]any)
		name, _ := fn["name"].(string)
		if name == "" {
			return "", app_errors.NewAPIError(app_errors.ErrValidation, "tool_choice.function.name is required")
		}
		for _, tool := range req.Tools {
			if tool.Function.Name == name {
				return name, nil
			}
		}
		return "", app_errors.NewAPIError(app_errors.ErrValidation,
			fmt.Sprintf("tool_choice names undeclared function %q", name))
	default:
		return "", app_errors.NewAPIError(app_errors.ErrValidation, "tool_choice must be a string or an object")
	}
}
