package pipeline

import (
	"encoding/json"
	"fmt"

	"fm-serve/internal/models"
)

const jsonObjectInstruction = "You must answer with a single valid JSON object and nothing else."

// ApplyResponseFormat rewrites the message list so the model is steered
// toward the requested output shape. The instruction joins the existing
// system message when there is one, because a second system message does not
// render.
func ApplyResponseFormat(messages []models.Message, format *models.ResponseFormat) ([]models.Message, error) {
	if format == nil || format.Type == "" || format.Type == "text" {
		return messages, nil
	}

	instruction := jsonObjectInstruction
	if format.Type == "json_schema" {
		schema, err := json.Marshal(format.JSONSchema.Schema)
		if err != nil {
			return nil, fmt.Errorf("response_format json_schema is not serializable: %w", err)
		}
		instruction = fmt.Sprintf(
			"You must answer with a single JSON object that validates against this JSON Schema, and nothing else:\n%s",
			schema,
		)
	}

	out := make([]models.Message, len(messages))
	copy(out, messages)

	for i := range out {
		if out[i].Role == "system" {
			out[i].Content = out[i].Content + "\n\n" + instruction
			return out, nil
		}
	}
	return append([]models.Message{{Role: "system", Content: instruction}}, out...), nil
}
