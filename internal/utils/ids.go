package utils

import (
	"strings"

	"github.com/google/uuid"
)

// CompletionID returns a fresh chat completion identifier in the
// OpenAI-compatible "chatcmpl-" form.
func CompletionID() string {
	return "chatcmpl-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ToolCallID returns a fresh tool call identifier in the "call_" form.
func ToolCallID() string {
	return "call_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:24]
}
