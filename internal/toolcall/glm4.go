package toolcall

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&glm4Format{})
}

var glm4CallRe = regexp.MustCompile(`(?s)<tool_call>\s*([\w.-]+)\s*\n\s*(\{.*?)\s*</tool_call>`)

// glm4Format parses the GLM-4 family notation, the function name on its own
// line followed by a JSON arguments object:
//
//	<tool_call>get_weather
//	{"city": "Berlin"}
//	</tool_call>
type glm4Format struct{}

func (f *glm4Format) Name() string        { return "glm4" }
func (f *glm4Format) StartTags() []string { return []string{"<tool_call>"} }

func (f *glm4Format) Parse(content string, _ []models.Tool) (Result, bool) {
	matches := glm4CallRe.FindAllStringSubmatchIndex(content, -1)
	if len(matches) == 0 {
		return Result{}, false
	}

	var calls []Call
	var text strings.Builder
	last := 0
	for _, m := range matches {
		text.WriteString(content[last:m[0]])
		last = m[1]

		name := content[m[2]:m[3]]
		args := strings.TrimSpace(content[m[4]:m[5]])
		if !gjson.Valid(args) || !strings.HasPrefix(args, "{") {
			return Result{}, false
		}
		calls = append(calls, Call{Name: name, Arguments: args})
	}
	text.WriteString(content[last:])

	return Result{Calls: calls, Text: strings.TrimSpace(text.String())}, true
}
