package toolcall

import (
	"strconv"
	"strings"

	"github.com/tidwall/sjson"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&gemmaFormat{})
}

// gemmaFormat parses the Gemma family notation, a bare python-style call with
// no surrounding markup:
//
//	get_weather(city="Berlin", days=3)
//
// Because there is no tag, a call is only recognized when the function name
// matches a declared tool.
type gemmaFormat struct{}

func (f *gemmaFormat) Name() string        { return "gemma" }
func (f *gemmaFormat) StartTags() []string { return nil }

func (f *gemmaFormat) Parse(content string, tools []models.Tool) (Result, bool) {
	var calls []Call
	text := content

	for _, name := range declaredToolNames(tools) {
		for {
			start := findCallSite(text, name)
			if start < 0 {
				break
			}
			open := start + len(name)
			end, ok := scanParens(text, open)
			if !ok {
				break
			}
			args, ok := parsePythonArguments(text[open+1 : end-1])
			if !ok {
				break
			}
			calls = append(calls, Call{Name: name, Arguments: args})
			text = text[:start] + text[end:]
		}
	}

	if len(calls) == 0 {
		return Result{}, false
	}
	return Result{Calls: calls, Text: strings.TrimSpace(text)}, true
}

// findCallSite locates name immediately followed by '(' at a word boundary.
func findCallSite(s, name string) int {
	from := 0
	for {
		idx := strings.Index(s[from:], name+"(")
		if idx < 0 {
			return -1
		}
		idx += from
		if idx == 0 || !isIdentByte(s[idx-1]) {
			return idx
		}
		from = idx + len(name)
	}
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// scanParens returns the index just past the ')' matching s[open] == '(',
// skipping over quoted strings.
func scanParens(s string, open int) (int, bool) {
	depth := 0
	var quote byte
	escaped := false
	for i := open; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

// parsePythonArguments converts `key=value, key2=value2` into a JSON object.
// Values may be quoted strings, numbers, booleans or None.
func parsePythonArguments(body string) (string, bool) {
	args := "{}"
	for _, part := range splitTopLevel(body) {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq <= 0 {
			return "", false
		}
		key := strings.TrimSpace(part[:eq])
		raw := strings.TrimSpace(part[eq+1:])

		value, ok := pythonValue(raw)
		if !ok {
			return "", false
		}
		var err error
		args, err = sjson.Set(args, key, value)
		if err != nil {
			return "", false
		}
	}
	return args, true
}

// splitTopLevel splits on commas outside quotes and brackets.
func splitTopLevel(body string) []string {
	var parts []string
	depth := 0
	var quote byte
	escaped := false
	start := 0
	for i := 0; i < len(body); i++ {
		c := body[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"':
			quote = c
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case ',':
			if depth == 0 {
				parts = append(parts, body[start:i])
				start = i + 1
			}
		}
	}
	parts = append(parts, body[start:])
	return parts
}

func pythonValue(raw string) (any, bool) {
	if raw == "" {
		return nil, false
	}
	switch raw {
	case "True":
		return true, true
	case "False":
		return false, true
	case "None":
		return nil, true
	}
	if raw[0] == '"' || raw[0] == '\'' {
		if len(raw) < 2 || raw[len(raw)-1] != raw[0] {
			return nil, false
		}
		inner := raw[1 : len(raw)-1]
		inner = strings.ReplaceAll(inner, `\`+string(raw[0]), string(raw[0]))
		return inner, true
	}
	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return n, true
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f, true
	}
	return nil, false
}
