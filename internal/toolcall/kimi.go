package toolcall

import (
	"regexp"
	"strings"

	"github.com/tidwall/gjson"

	"fm-serve/internal/models"
)

func init() {
	RegisterFormat(&kimiK2Format{})
}

var kimiCallRe = regexp.MustCompile(`functions\.([\w.-]+):(\d+)\s*`)

// kimiK2Format parses the Kimi K2 notation, an inline namespaced call with an
// index and a JSON arguments object, no surrounding tags:
//
//	functions.get_weather:0{"city": "Berlin"}
type kimiK2Format struct{}

func (f *kimiK2Format) Name() string        { return "kimi_k2" }
func (f *kimiK2Format) StartTags() []string { return nil }

func (f *kimiK2Format) Parse(content string, _ []models.Tool) (Result, bool) {
	var calls []Call
	var text strings.Builder
	rest := content

	for {
		loc := kimiCallRe.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		open := loc[1]
		if open >= len(rest) || rest[open] != '{' {
			text.WriteString(rest[:open])
			rest = rest[open:]
			continue
		}
		end, ok := scanJSONObject(rest, open)
		if !ok {
			break
		}
		args := rest[open:end]
		if !gjson.Valid(args) {
			break
		}
		text.WriteString(rest[:loc[0]])
		calls = append(calls, Call{Name: rest[loc[2]:loc[3]], Arguments: args})
		rest = rest[end:]
	}
	text.WriteString(rest)

	if len(calls) == 0 {
		return Result{}, false
	}
	return Result{Calls: calls, Text: strings.TrimSpace(text.String())}, true
}
