package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fm-serve/internal/models"
	"fm-serve/internal/types"
)

func newLlamaTestServer(t *testing.T, chunks []llamaCompletionChunk) (*httptest.Server, *llamaCompletionRequest) {
	t.Helper()
	var captured llamaCompletionRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/tokenize":
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"tokens": [101, 202, 303]}`)
		case "/completion":
			require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for _, chunk := range chunks {
				payload, err := json.Marshal(chunk)
				require.NoError(t, err)
				fmt.Fprintf(w, "data: %s\n\n", payload)
				flusher.Flush()
			}
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server, &captured
}

func newLlamaTestEngine(t *testing.T, baseURL string) Engine {
	t.Helper()
	engine, err := newLlamaCppEngine(types.EngineConfig{
		Name: "llama-main", Driver: "llamacpp", BaseURL: baseURL,
		Models: []string{"qwen3-8b"}, ModelType: "qwen3",
	})
	require.NoError(t, err)
	return engine
}

func TestLlamaCppEngineConfig(t *testing.T) {
	_, err := newLlamaCppEngine(types.EngineConfig{Name: "x", Models: []string{"m"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "base_url")

	_, err = newLlamaCppEngine(types.EngineConfig{Name: "x", BaseURL: "http://127.0.0.1:8080"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no models")
}

func TestLlamaCppTokenize(t *testing.T) {
	server, _ := newLlamaTestServer(t, nil)
	engine := newLlamaTestEngine(t, server.URL)

	ids, err := engine.Tokenize(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []int{101, 202, 303}, ids)
}

func TestLlamaCppGenerate(t *testing.T) {
	server, captured := newLlamaTestServer(t, []llamaCompletionChunk{
		{Content: "Hel"},
		{Content: "lo"},
		{Content: "", Stop: true, StopType: "eos"},
	})
	engine := newLlamaTestEngine(t, server.URL)

	seed := int64(7)
	stream, err := engine.Generate(context.Background(), GenerationParams{
		Model: "qwen3-8b", Prompt: "<|im_start|>user\nhi<|im_end|>\n<|im_start|>assistant\n",
		Temperature: 0.7, TopP: 0.9, TopK: 40, MaxTokens: 64, Seed: &seed,
		ReusePrefixTokens: 12,
	})
	require.NoError(t, err)

	text, reason := collectStream(t, stream)
	assert.Equal(t, "Hello", text)
	assert.Equal(t, models.FinishReasonStop, reason)

	assert.True(t, captured.Stream)
	assert.True(t, captured.CachePrompt)
	assert.Equal(t, 64, captured.MaxTokens)
	assert.Equal(t, int64(7), captured.Seed)
	assert.Zero(t, captured.NProbs)
}

func TestLlamaCppGenerateLengthStop(t *testing.T) {
	server, _ := newLlamaTestServer(t, []llamaCompletionChunk{
		{Content: "a"},
		{Content: "b", Stop: true, StopType: "limit"},
	})
	engine := newLlamaTestEngine(t, server.URL)

	stream, err := engine.Generate(context.Background(), GenerationParams{Model: "qwen3-8b", Prompt: "p", MaxTokens: 2})
	require.NoError(t, err)

	text, reason := collectStream(t, stream)
	assert.Equal(t, "ab", text)
	assert.Equal(t, models.FinishReasonLength, reason)
}

func TestLlamaCppGenerateLogprobs(t *testing.T) {
	server, captured := newLlamaTestServer(t, []llamaCompletionChunk{
		{
			Content: "Hi",
			CompletionProbabilities: []llamaTokenProb{
				{Token: "Hi", Logprob: -0.12, TopLogprobs: []llamaTopLogprob{
					{Token: "Hi", Logprob: -0.12},
					{Token: "Hey", Logprob: -2.4},
				}},
			},
		},
		{Content: "", Stop: true, StopType: "eos"},
	})
	engine := newLlamaTestEngine(t, server.URL)

	stream, err := engine.Generate(context.Background(), GenerationParams{
		Model: "qwen3-8b", Prompt: "p", MaxTokens: 8, Logprobs: true, TopLogprobs: 2,
	})
	require.NoError(t, err)

	inc, err := stream.Recv(context.Background())
	require.NoError(t, err)
	require.NotNil(t, inc.Logprob)
	assert.Equal(t, "Hi", inc.Logprob.Token)
	assert.InDelta(t, -0.12, inc.Logprob.Logprob, 1e-9)
	require.Len(t, inc.Logprob.TopLogprobs, 2)
	assert.Equal(t, "Hey", inc.Logprob.TopLogprobs[1].Token)

	for {
		if _, err := stream.Recv(context.Background()); err != nil {
			break
		}
	}
	assert.Equal(t, 2, captured.NProbs)
}

func TestLlamaCppGenerateUpstreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": "model loading"}`, http.StatusServiceUnavailable)
	}))
	t.Cleanup(server.Close)
	engine := newLlamaTestEngine(t, server.URL)

	_, err := engine.Generate(context.Background(), GenerationParams{Model: "qwen3-8b", Prompt: "p"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestFinishReasonFromStopType(t *testing.T) {
	assert.Equal(t, models.FinishReasonLength, finishReasonFromStopType("limit"))
	assert.Equal(t, models.FinishReasonStop, finishReasonFromStopType("eos"))
	assert.Equal(t, models.FinishReasonStop, finishReasonFromStopType("word"))
}
