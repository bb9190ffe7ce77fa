// Package toolcall parses the tool-call notations different model families
// emit into the wire-level function call shape.
package toolcall

import (
	"fmt"
	"strings"

	"fm-serve/internal/models"
)

// Call is one parsed function call. Arguments is the serialized JSON object.
type Call struct {
	Name      string
	Arguments string
}

// Result is the outcome of parsing generated content. Text holds the content
// that remains once call markup is removed.
type Result struct {
	Calls []Call
	Text  string
}

// Format parses one model family's tool-call notation.
type Format interface {
	// Name identifies the format in configuration and logs.
	Name() string
	// StartTags lists the markers that open call markup. An empty slice means
	// the notation is inline and calls can only be recognized in the full
	// completed content.
	StartTags() []string
	// Parse extracts tool calls from content. The declared tools are
	// available for formats that must match bare function names. Parse
	// reports false when the content contains no recognizable call, in which
	// case the content passes through as plain text.
	Parse(content string, tools []models.Tool) (Result, bool)
}

var formatRegistry = make(map[string]Format)

// RegisterFormat adds a tool-call format to the registry.
func RegisterFormat(format Format) {
	if _, exists := formatRegistry[format.Name()]; exists {
		panic(fmt.Sprintf("tool-call format '%s' is already registered", format.Name()))
	}
	formatRegistry[format.Name()] = format
}

// FormatByName returns the named format.
func FormatByName(name string) (Format, bool) {
	format, ok := formatRegistry[name]
	return format, ok
}

// Formats returns the names of every registered format.
func Formats() []string {
	names := make([]string, 0, len(formatRegistry))
	for name := range formatRegistry {
		names = append(names, name)
	}
	return names
}

// modelTypeFormats maps a model family to the notation it was trained on.
// Families not listed here emit plain JSON calls.
var modelTypeFormats = map[string]string{
	"lfm2":        "lfm2",
	"qwen3":       "xml_function",
	"qwen3_moe":   "xml_function",
	"qwen3_coder": "xml_function",
	"glm4":        "glm4",
	"glm4_moe":    "glm4",
	"gemma":       "gemma",
	"gemma3":      "gemma",
	"kimi_k2":     "kimi_k2",
	"minimax_m2":  "minimax_m2",
}

// InferFormat resolves the format for a model family. The override, when set,
// wins over the family table; unknown families fall back to plain JSON.
func InferFormat(modelType, override string) Format {
	name := override
	if name == "" {
		name = modelTypeFormats[strings.ToLower(modelType)]
	}
	if name == "" {
		name = "json"
	}
	format, ok := formatRegistry[name]
	if !ok {
		format = formatRegistry["json"]
	}
	return format
}

// declaredToolNames returns the function names a request declared.
func declaredToolNames(tools []models.Tool) []string {
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		names = append(names, tool.Function.Name)
	}
	return names
}

// scanJSONObject returns the end index (exclusive) of the JSON object that
// starts at s[start] == '{', honoring nested braces and string escapes.
func scanJSONObject(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}
