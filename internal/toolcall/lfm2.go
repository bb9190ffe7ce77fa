package toolcall

import (
	"encoding/json"
	"strings"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&lfm2Format{})
}

const (
	lfm2StartTag = "<|tool_call_start|>"
	lfm2EndTag   = "<|tool_call_end|>"
)

// lfm2Format parses the LFM2 family notation, a JSON list wrapped in special
// tokens:
//
//	<|tool_call_start|>[{"name": "get_weather", "arguments": {"city": "Berlin"}}]<|tool_call_end|>
type lfm2Format struct{}

func (f *lfm2Format) Name() string        { return "lfm2" }
func (f *lfm2Format) StartTags() []string { return []string{lfm2StartTag} }

func (f *lfm2Format) Parse(content string, _ []models.Tool) (Result, bool) {
	start := strings.Index(content, lfm2StartTag)
	if start < 0 {
		return Result{}, false
	}
	rest := content[start+len(lfm2StartTag):]
	end := strings.Index(rest, lfm2EndTag)
	if end < 0 {
		return Result{}, false
	}

	body := strings.TrimSpace(rest[:end])
	var raws []rawJSONCall
	if strings.HasPrefix(body, "{") {
		var single rawJSONCall
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return Result{}, false
		}
		raws = []rawJSONCall{single}
	} else if err := json.Unmarshal([]byte(body), &raws); err != nil {
		return Result{}, false
	}

	calls := make([]Call, 0, len(raws))
	for _, raw := range raws {
		call, ok := normalizeRawCall(raw)
		if !ok {
			return Result{}, false
		}
		calls = append(calls, call)
	}
	if len(calls) == 0 {
		return Result{}, false
	}

	text := strings.TrimSpace(content[:start] + rest[end+len(lfm2EndTag):])
	return Result{Calls: calls, Text: text}, true
}
