package models

import (
	"encoding/json"
	"testing"

	"fm-serve/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testGenConfig() types.GenerationConfig {
	return types.GenerationConfig{
		Sampling: types.SamplingDefaults{
			Temperature:       0.7,
			TopP:              0.9,
			TopK:              40,
			RepetitionPenalty: 1.0,
			MaxTokens:         2048,
		},
		DefaultStopSequences: []string{"###"},
		ThinkOpenTag:         "<think>",
		ThinkCloseTag:        "</think>",
		MaxTopLogprobs:       20,
	}
}

func userRequest() *ChatCompletionRequest {
	return &ChatCompletionRequest{
		Model:    "test-model",
		Messages: []Message{{Role: "user", Content: "hi"}},
	}
}

// TestStopFieldUnmarshal tests the string-or-array stop field
func TestStopFieldUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want StopField
	}{
		{"single string", `"END"`, StopField{"END"}},
		{"array", `["a","b"]`, StopField{"a", "b"}},
		{"empty string", `""`, nil},
		{"empty array", `[]`, StopField{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s StopField
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &s))
			assert.Equal(t, tt.want, s)
		})
	}

	var s StopField
	assert.Error(t, json.Unmarshal([]byte(`42`), &s))
}

// TestBuildGenerationRequest_Defaults tests default merging
func TestBuildGenerationRequest_Defaults(t *testing.T) {
	gen, apiErr := BuildGenerationRequest(userRequest(), testGenConfig())
	require.Nil(t, apiErr)

	assert.Equal(t, 0.7, gen.Temperature)
	assert.Equal(t, 0.9, gen.TopP)
	assert.Equal(t, 40, gen.TopK)
	assert.Equal(t, 2048, gen.MaxTokens)
	assert.Equal(t, []string{"###"}, gen.Stop)
	assert.Equal(t, ToolChoiceNone, gen.ToolChoice)
}

// TestBuildGenerationRequest_StopMerge tests stop precedence and dedupe
func TestBuildGenerationRequest_StopMerge(t *testing.T) {
	req := userRequest()
	req.Stop = StopField{"3.", "###", "3."}

	gen, apiErr := BuildGenerationRequest(req, testGenConfig())
	require.Nil(t, apiErr)

	// API-level first, duplicates removed
	assert.Equal(t, []string{"3.", "###"}, gen.Stop)
}

// TestBuildGenerationRequest_Validation tests the 400-before-backend rules
func TestBuildGenerationRequest_Validation(t *testing.T) {
	floatPtr := func(v float64) *float64 { return &v }
	intPtr := func(v int) *int { return &v }

	tests := []struct {
		name   string
		mutate func(*ChatCompletionRequest)
		msg    string
	}{
		{"missing model", func(r *ChatCompletionRequest) { r.Model = "" }, "model is required"},
		{"empty messages", func(r *ChatCompletionRequest) { r.Messages = nil }, "messages must not be empty"},
		{"bad role", func(r *ChatCompletionRequest) { r.Messages[0].Role = "robot" }, "role must be one of"},
		{"temperature too high", func(r *ChatCompletionRequest) { r.Temperature = floatPtr(2.5) }, "temperature"},
		{"top_p out of range", func(r *ChatCompletionRequest) { r.TopP = floatPtr(1.5) }, "top_p"},
		{"negative top_k", func(r *ChatCompletionRequest) { r.TopK = intPtr(-1) }, "top_k"},
		{"zero max_tokens", func(r *ChatCompletionRequest) { r.MaxTokens = intPtr(0) }, "max_tokens"},
		{"top_logprobs without logprobs", func(r *ChatCompletionRequest) { r.TopLogprobs = intPtr(3) }, "requires logprobs"},
		{
			"top_logprobs over ceiling",
			func(r *ChatCompletionRequest) { r.Logprobs = true; r.TopLogprobs = intPtr(21) },
			"top_logprobs must be <= 20",
		},
		{
			"stream_options without stream",
			func(r *ChatCompletionRequest) { r.StreamOptions = &StreamOptions{IncludeUsage: true} },
			"stream_options requires stream",
		},
		{
			"json_schema without schema",
			func(r *ChatCompletionRequest) { r.ResponseFormat = &ResponseFormat{Type: "json_schema"} },
			"schema is required",
		},
		{
			"unknown response_format",
			func(r *ChatCompletionRequest) { r.ResponseFormat = &ResponseFormat{Type: "yaml"} },
			"unsupported response_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := userRequest()
			tt.mutate(req)

			_, apiErr := BuildGenerationRequest(req, testGenConfig())
			require.NotNil(t, apiErr)
			assert.Equal(t, 400, apiErr.HTTPStatus)
			assert.Contains(t, apiErr.Message, tt.msg)
		})
	}
}

// TestBuildGenerationRequest_TopLogprobsZero tests that zero is accepted
func TestBuildGenerationRequest_TopLogprobsZero(t *testing.T) {
	zero := 0
	req := userRequest()
	req.Logprobs = true
	req.TopLogprobs = &zero

	gen, apiErr := BuildGenerationRequest(req, testGenConfig())
	require.Nil(t, apiErr)
	assert.True(t, gen.Logprobs)
	assert.Equal(t, 0, gen.TopLogprobs)
}

// TestNormalizeToolChoice tests tool_choice normalization
func TestNormalizeToolChoice(t *testing.T) {
	tools := []Tool{{Type: "function", Function: ToolFunction{Name: "get_weather"}}}

	tests := []struct {
		name       string
		tools      []Tool
		toolChoice any
		want       string
		wantErr    bool
	}{
		{"no tools", nil, nil, ToolChoiceNone, false},
		{"default auto", tools, nil, ToolChoiceAuto, false},
		{"explicit none", tools, "none", ToolChoiceNone, false},
		{"explicit required", tools, "required", ToolChoiceRequired, false},
		{"invalid string", tools, "maybe", "", true},
		{
			"named function",
			tools,
			map[string]any{"type": "function", "function": map[string]any{"name": "get_weather"}},
			"get_weather",
			false,
		},
		{
			"undeclared function",
			tools,
			map[string]any{"type": "function", "function": map[string]any{"name": "nope"}},
			"",
			true,
		},
		{"wrong type", tools, 42.0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := userRequest()
			req.Tools = tt.tools
			req.ToolChoice = tt.toolChoice

			got, apiErr := normalizeToolChoice(req)
			if tt.wantErr {
				require.NotNil(t, apiErr)
				return
			}
			require.Nil(t, apiErr)
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestToolValidation tests tool declaration validation
func TestToolValidation(t *testing.T) {
	req := userRequest()
	req.Tools = []Tool{{Type: "mcp", Function: ToolFunction{Name: "x"}}}
	_, apiErr := BuildGenerationRequest(req, testGenConfig())
	require.NotNil(t, apiErr)
	assert.Contains(t, apiErr.Message, `type must be "function"`)

	req = userRequest()
	req.Tools = []Tool{{Type: "function"}}
	_, apiErr = BuildGenerationRequest(req, testGenConfig())
	require.NotNil(t, apiErr)
	assert.Contains(t, apiErr.Message, "name is required")
}

// TestMaxCompletionTokensAlias tests the max_completion_tokens alias
func TestMaxCompletionTokensAlias(t *testing.T) {
	n := 64
	req := userRequest()
	req.MaxCompletionTokens = &n

	gen, apiErr := BuildGenerationRequest(req, testGenConfig())
	require.Nil(t, apiErr)
	assert.Equal(t, 64, gen.MaxTokens)
}
