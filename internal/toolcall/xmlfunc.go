package toolcall

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&xmlFunctionFormat{})
}

var (
	xmlCallRe  = regexp.MustCompile(`(?s)<tool_call>\s*<function=([\w.-]+)>(.*?)</function>\s*</tool_call>`)
	xmlParamRe = regexp.MustCompile(`(?s)<parameter=([\w.-]+)>(.*?)</parameter>`)
)

// xmlFunctionFormat parses the XML notation of the Qwen3 family:
//
//	<tool_call><function=get_weather>
//	<parameter=city>Berlin</parameter>
//	</function></tool_call>
type xmlFunctionFormat struct{}

func (f *xmlFunctionFormat) Name() string        { return "xml_function" }
func (f *xmlFunctionFormat) StartTags() []string { return []string{"<tool_call>"} }

func (f *xmlFunctionFormat) Parse(content string, _ []models.Tool) (Result, bool) {
	matches := xmlCallRe.FindAllStringSubmatchIndex(content, -1)
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
		body := content[m[4]:m[5]]
		args, ok := parseXMLParameters(body)
		if !ok {
			return Result{}, false
		}
		calls = append(calls, Call{Name: name, Arguments: args})
	}
	text.WriteString(content[last:])

	return Result{Calls: calls, Text: strings.TrimSpace(text.String())}, true
}

func parseXMLParameters(body string) (string, bool) {
	args := "{}"
	for _, param := range xmlParamRe.FindAllStringSubmatch(body, -1) {
		key := param[1]
		value := strings.TrimSpace(param[2])

		var err error
		if isJSONScalarOrStructure(value) {
			args, err = sjson.SetRaw(args, key, value)
		} else {
			args, err = sjson.Set(args, key, value)
		}
		if err != nil {
			return "", false
		}
	}
	return args, true
}

// isJSONScalarOrStructure reports whether a parameter value is already JSON
// (number, boolean, object, array) and should be embedded as-is rather than
// quoted as a string.
func isJSONScalarOrStructure(value string) bool {
	if value == "" {
		return false
	}
	switch value[0] {
	case '{', '[', 't', 'f', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return gjson.Valid(value)
	}
	return false
}
