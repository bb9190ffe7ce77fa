package utils

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

var (
	encoderOnce    sync.Once
	fallbackCoding *tiktoken.Tiktoken
)

// fallbackEncoder lazily initializes a cl100k_base encoder. It is used for
// usage accounting on paths where no backend tokenizer is available (remote
// backend request logs). Initialization may fail offline; callers fall back
// to the rune heuristic in that case.
func fallbackEncoder() *tiktoken.Tiktoken {
	encoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			fallbackCoding = enc
		}
	})
	return fallbackCoding
}

// CountTokens returns the token count of text using the cl100k_base encoding,
// falling back to the ~4 runes per token heuristic when the encoding is
// unavailable.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := fallbackEncoder(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateTokensFromString(text)
}

// EncodeTokens returns the cl100k_base token ids of text. When the encoding
// is unavailable it degrades to one synthetic id per 4-rune chunk, which is
// stable for identical text and therefore still usable for prefix matching.
func EncodeTokens(text string) []int {
	if text == "" {
		return nil
	}
	if enc := fallbackEncoder(); enc != nil {
		return enc.Encode(text, nil, nil)
	}
	runes := []rune(text)
	var ids []int
	for i := 0; i < len(runes); i += 4 {
		end := i + 4
		if end > len(runes) {
			end = len(runes)
		}
		var id int
		for _, r := range runes[i:end] {
			id = id*31 + int(r)
		}
		ids = append(ids, id)
	}
	return ids
}

// EstimateTokensFromString estimates token count using ~4 runes per token.
// NOTE: This is an approximation and may differ from actual tokenizers
// (language mix, code/JSON, and model-specific tokenization).
func EstimateTokensFromString(text string) int {
	if text == "" {
		return 0
	}
	count := utf8.RuneCountInString(text)
	if count <= 0 {
		return 0
	}
	return (count + 3) / 4
}
