package toolcall

import (
	"encoding/json"
	"strings"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&jsonFormat{})
}

// jsonFormat recognizes a completion that consists of a bare JSON call, the
// default for model families without a dedicated notation:
//
//	{"name": "get_weather", "arguments": {"city": "Berlin"}}
//
// An array of such objects encodes parallel calls. Code fences around the
// JSON are tolerated.
type jsonFormat struct{}

func (f *jsonFormat) Name() string        { return "json" }
func (f *jsonFormat) StartTags() []string { return nil }

type rawJSONCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (f *jsonFormat) Parse(content string, _ []models.Tool) (Result, bool) {
	body := stripCodeFence(strings.TrimSpace(content))
	if body == "" {
		return Result{}, false
	}

	var raws []rawJSONCall
	switch body[0] {
	case '{':
		var single rawJSONCall
		if err := json.Unmarshal([]byte(body), &single); err != nil {
			return Result{}, false
		}
		raws = []rawJSONCall{single}
	case '[':
		if err := json.Unmarshal([]byte(body), &raws); err != nil {
			return Result{}, false
		}
	default:
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
	return Result{Calls: calls}, true
}

// normalizeRawCall validates a decoded call and serializes its arguments.
// Arguments may arrive as an object or as a string holding JSON.
func normalizeRawCall(raw rawJSONCall) (Call, bool) {
	if raw.Name == "" {
		return Call{}, false
	}
	args := strings.TrimSpace(string(raw.Arguments))
	switch {
	case args == "" || args == "null":
		args = "{}"
	case args[0] == '"':
		var inner string
		if err := json.Unmarshal(raw.Arguments, &inner); err != nil {
			return Call{}, false
		}
		inner = strings.TrimSpace(inner)
		if inner == "" {
			inner = "{}"
		}
		if !json.Valid([]byte(inner)) {
			return Call{}, false
		}
		args = inner
	case args[0] == '{':
		if !json.Valid(raw.Arguments) {
			return Call{}, false
		}
	default:
		return Call{}, false
	}
	return Call{Name: raw.Name, Arguments: args}, true
}

// stripCodeFence unwraps ```json fenced blocks.
func stripCodeFence(body string) string {
	if !strings.HasPrefix(body, "```") {
		return body
	}
	rest := strings.TrimPrefix(body, "```")
	if idx := strings.IndexByte(rest, '\n'); idx >= 0 {
		rest = rest[idx+1:]
	}
	rest = strings.TrimSuffix(strings.TrimSpace(rest), "```")
	return strings.TrimSpace(rest)
}
