package backend

import (
	"encoding/json"
	"fmt"
	"strings"

	"fm-serve/internal/models"
)

// RenderPrompt renders a chat into the ChatML prompt form shared by the local
// engines:
//
//	<|im_start|>role
//	content<|im_end|>
//
// followed by an assistant header for the model to complete. Tool
// declarations, when present, are appended to the system block so the model
// sees a single system message; more than one system message is rejected
// because several chat templates fail to render it.
func RenderPrompt(req *models.GenerationRequest) (string, error) {
	systemSeen := false
	var b strings.Builder

	for i, msg := range req.Messages {
		role := msg.Role
		content := msg.Content

		switch role {
		case "system":
			if systemSeen {
				return "", fmt.Errorf("chat template cannot render more than one system message")
			}
			systemSeen = true
			if i == 0 && len(req.Tools) > 0 && req.ToolChoice != models.ToolChoiceNone {
				block, err := renderToolBlock(req.Tools)
				if err != nil {
					return "", err
				}
				content = content + "\n\n" + block
			}
		case "tool":
			// Tool results carry the call id so the model can associate them.
			if msg.ToolCallID != "" {
				content = fmt.Sprintf("[%s] %s", msg.ToolCallID, content)
			}
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				calls, err := json.Marshal(msg.ToolCalls)
				if err != nil {
					return "", fmt.Errorf("failed to render assistant tool calls: %w", err)
				}
				if content != "" {
					content += "\n"
				}
				content += string(calls)
			}
		}

		b.WriteString("<|im_start|>")
		b.WriteString(role)
		b.WriteByte('\n')
		b.WriteString(content)
		b.WriteString("<|im_end|>\n")
	}

	// Fabricate the system block when the chat has none but tools are
	// declared, so the declarations are still visible to the model.
	if !systemSeen && len(req.Tools) > 0 && req.ToolChoice != models.ToolChoiceNone {
		block, err := renderToolBlock(req.Tools)
		if err != nil {
			return "", err
		}
		prefix := "<|im_start|>system\n" + block + "<|im_end|>\n"
		return prefix + b.String() + "<|im_start|>assistant\n", nil
	}

	b.WriteString("<|im_start|>assistant\n")
	return b.String(), nil
}

func renderToolBlock(tools []models.Tool) (string, error) {
	var b strings.Builder
	b.WriteString("# Tools\n\nYou may call one of the following functions:\n")
	for _, tool := range tools {
		spec, err := json.Marshal(tool.Function)
		if err != nil {
			return "", fmt.Errorf("failed to render tool %s: %w", tool.Function.Name, err)
		}
		b.WriteString(string(spec))
		b.WriteByte('\n')
	}
	return b.String(), nil
}
