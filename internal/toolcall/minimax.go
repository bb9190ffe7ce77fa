package toolcall

import (
	"regexp"
	"strings"

	"github.com/tidwall/sjson"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&minimaxM2Format{})
}

var (
	minimaxBlockRe  = regexp.MustCompile(`(?s)<minimax:tool_call>(.*?)</minimax:tool_call>`)
	minimaxInvokeRe = regexp.MustCompile(`(?s)<invoke name="([^"]+)">(.*?)</invoke>`)
	minimaxParamRe  = regexp.MustCompile(`(?s)<parameter name="([^"]+)">(.*?)</parameter>`)
)

// minimaxM2Format parses the MiniMax M2 notation, invoke elements inside a
// namespaced block:
//
//	<minimax:tool_call>
//	<invoke name="get_weather">
//	<parameter name="city">Berlin</parameter>
//	</invoke>
//	</minimax:tool_call>
type minimaxM2Format struct{}

func (f *minimaxM2Format) Name() string        { return "minimax_m2" }
func (f *minimaxM2Format) StartTags() []string { return []string{"<minimax:tool_call>"} }

func (f *minimaxM2Format) Parse(content string, _ []models.Tool) (Result, bool) {
	blocks := minimaxBlockRe.FindAllStringSubmatchIndex(content, -1)
	if len(blocks) == 0 {
		return Result{}, false
	}

	var calls []Call
	var text strings.Builder
	last := 0
	for _, b := range blocks {
		text.WriteString(content[last:b[0]])
		last = b[1]

		body := content[b[2]:b[3]]
		invokes := minimaxInvokeRe.FindAllStringSubmatch(body, -1)
		if len(invokes) == 0 {
			return Result{}, false
		}
		for _, invoke := range invokes {
			args, ok := parseMinimaxParameters(invoke[2])
			if !ok {
				return Result{}, false
			}
			calls = append(calls, Call{Name: invoke[1], Arguments: args})
		}
	}
	text.WriteString(content[last:])

	return Result{Calls: calls, Text: strings.TrimSpace(text.String())}, true
}

func parseMinimaxParameters(body string) (string, bool) {
	args := "{}"
	for _, param := range minimaxParamRe.FindAllStringSubmatch(body, -1) {
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
