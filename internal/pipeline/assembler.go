package pipeline

import (
	"time"

	"fm-serve/internal/models"
	"fm-serve/internal/utils"
	"fm-serve/internal/version"
)

func systemFingerprint() string {
	return "fm-serve-" + version.Version
}

// AssembleChatCompletion builds the non-streaming response body from a
// finished pipeline outcome.
func AssembleChatCompletion(model string, req *models.GenerationRequest, outcome *Outcome) *models.ChatCompletion {
	message := models.Message{
		Role:             "assistant",
		Content:          outcome.Content,
		ReasoningContent: outcome.Reasoning,
		ToolCalls:        outcome.ToolCalls,
	}

	choice := models.Choice{
		Index:        0,
		Message:      message,
		FinishReason: outcome.FinishReason,
	}
	if req.Logprobs {
		choice.Logprobs = &models.ChoiceLogprobs{Content: outcome.Logprobs}
	}

	usage := outcome.Usage
	return &models.ChatCompletion{
		ID:                utils.CompletionID(),
		Object:            "chat.completion",
		Created:           time.Now().Unix(),
		Model:             model,
		SystemFingerprint: systemFingerprint(),
		Choices:           []models.Choice{choice},
		Usage:             &usage,
	}
}
