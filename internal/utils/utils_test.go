package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestGetEnvOrDefault tests env lookup with defaults
func TestGetEnvOrDefault(t *testing.T) {
	t.Setenv("FM_SERVE_TEST_KEY", "value")
	assert.Equal(t, "value", GetEnvOrDefault("FM_SERVE_TEST_KEY", "default"))
	assert.Equal(t, "default", GetEnvOrDefault("FM_SERVE_TEST_MISSING", "default"))
}

// TestParseHelpers tests the env parse helpers
func TestParseHelpers(t *testing.T) {
	assert.Equal(t, 42, ParseInteger("42", 1))
	assert.Equal(t, 1, ParseInteger("not-a-number", 1))
	assert.Equal(t, 1, ParseInteger("", 1))

	assert.Equal(t, 0.5, ParseFloat("0.5", 1))
	assert.Equal(t, 1.0, ParseFloat("oops", 1))

	assert.True(t, ParseBoolean("true", false))
	assert.False(t, ParseBoolean("garbage", false))

	assert.Equal(t, []string{"a", "b"}, ParseArray(" a , b ,", ","))
	assert.Nil(t, ParseArray("  ", ","))
}

// TestMaskAPIKey tests API key masking
func TestMaskAPIKey(t *testing.T) {
	assert.Equal(t, "sk-1****cdef", MaskAPIKey("sk-1234567890abcdef"))
	assert.Equal(t, "short", MaskAPIKey("short"))
}

// TestTruncateString tests string truncation
func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abcdef", 3))
	assert.Equal(t, "abc", TruncateString("abc", 10))
}

// TestDedupeStrings tests dedupe ordering and empties
func TestDedupeStrings(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, DedupeStrings([]string{"a", "b", "a", "", "c", "b"}))
	assert.Nil(t, DedupeStrings(nil))
	assert.Nil(t, DedupeStrings([]string{"", ""}))
}

// TestCompletionID tests the chatcmpl identifier shape
func TestCompletionID(t *testing.T) {
	id := CompletionID()
	assert.True(t, strings.HasPrefix(id, "chatcmpl-"))
	assert.NotEqual(t, id, CompletionID())
}

// TestToolCallID tests the call identifier shape
func TestToolCallID(t *testing.T) {
	id := ToolCallID()
	assert.True(t, strings.HasPrefix(id, "call_"))
	assert.Len(t, id, len("call_")+24)
}

// TestEstimateTokensFromString tests the rune heuristic
func TestEstimateTokensFromString(t *testing.T) {
	assert.Equal(t, 0, EstimateTokensFromString(""))
	assert.Equal(t, 1, EstimateTokensFromString("abcd"))
	assert.Equal(t, 2, EstimateTokensFromString("abcde"))
}

// TestCountTokens tests that counting never returns negative values and
// is monotonic with input growth
func TestCountTokens(t *testing.T) {
	assert.Equal(t, 0, CountTokens(""))
	short := CountTokens("hello")
	long := CountTokens(strings.Repeat("hello world ", 50))
	assert.Greater(t, long, short)
}
