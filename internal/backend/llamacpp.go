package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"fm-serve/internal/models"
	"fm-serve/internal/types"
)

func init() {
	RegisterDriver("llamacpp", newLlamaCppEngine)
}

// llamaCppEngine drives a llama-server instance over its native /completion
// and /tokenize endpoints. Each engine owns one base URL and the models the
// configuration declares for it.
type llamaCppEngine struct {
	name      string
	baseURL   string
	modelType string
	models    []string
	client    *http.Client
}

func newLlamaCppEngine(cfg types.EngineConfig) (Engine, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("llamacpp engine %s requires a base_url", cfg.Name)
	}
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("llamacpp engine %s declares no models", cfg.Name)
	}
	return &llamaCppEngine{
		name:      cfg.Name,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		modelType: cfg.ModelType,
		models:    cfg.Models,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        16,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

func (e *llamaCppEngine) Name() string      { return e.name }
func (e *llamaCppEngine) ModelType() string { return e.modelType }
func (e *llamaCppEngine) Models() []string  { return e.models }

type llamaTokenizeRequest struct {
	Content string `json:"content"`
}

type llamaTokenizeResponse struct {
	Tokens []int `json:"tokens"`
}

func (e *llamaCppEngine) Tokenize(ctx context.Context, text string) ([]int, error) {
	body, err := json.Marshal(llamaTokenizeRequest{Content: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/tokenize", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tokenize request to %s failed: %w", e.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("tokenize request to %s returned %d: %s", e.name, resp.StatusCode, string(data))
	}

	var parsed llamaTokenizeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("tokenize response from %s malformed: %w", e.name, err)
	}
	return parsed.Tokens, nil
}

// llamaCompletionRequest mirrors the subset of the llama-server /completion
// body this engine uses. max_tokens is the OpenAI-compatible alias for
// n_predict.
type llamaCompletionRequest struct {
	Prompt          string  `json:"prompt"`
	Stream          bool    `json:"stream"`
	CachePrompt     bool    `json:"cache_prompt"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"top_p,omitempty"`
	TopK            int     `json:"top_k,omitempty"`
	MinP            float64 `json:"min_p,omitempty"`
	RepeatPenalty   float64 `json:"repeat_penalty,omitempty"`
	PresencePenalty float64 `json:"presence_penalty,omitempty"`
	Seed            int64   `json:"seed,omitempty"`
	NProbs          int     `json:"n_probs,omitempty"`
}

type llamaTopLogprob struct {
	Token   string  `json:"token"`
	Logprob float64 `json:"logprob"`
}

type llamaTokenProb struct {
	Token       string            `json:"token"`
	Logprob     float64           `json:"logprob"`
	TopLogprobs []llamaTopLogprob `json:"top_logprobs"`
}

type llamaCompletionChunk struct {
	Content                 string           `json:"content"`
	Stop                    bool             `json:"stop"`
	StopType                string           `json:"stop_type"`
	TokensPredicted         int              `json:"tokens_predicted"`
	CompletionProbabilities []llamaTokenProb `json:"completion_probabilities"`
}

func (e *llamaCppEngine) Generate(ctx context.Context, params GenerationParams) (Stream, error) {
	body := llamaCompletionRequest{
		Prompt:      params.Prompt,
		Stream:      true,
		CachePrompt: params.ReusePrefixTokens > 0,
		MaxTokens:   params.MaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		MinP:        params.MinP,
	}
	if params.RepetitionPenalty != 1.0 {
		body.RepeatPenalty = params.RepetitionPenalty
	}
	if params.PresencePenalty != 0 {
		body.PresencePenalty = params.PresencePenalty
	}
	if params.Seed != nil {
		body.Seed = *params.Seed
	}
	if params.Logprobs {
		body.NProbs = params.TopLogprobs
		if body.NProbs == 0 {
			body.NProbs = 1
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, e.baseURL+"/completion", bytes.NewReader(payload))
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")

	resp, err := e.client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("completion request to %s failed: %w", e.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("completion request to %s returned %d: %s", e.name, resp.StatusCode, string(data))
	}

	stream := newIncrementStream(cancel)
	go e.consume(reqCtx, resp.Body, stream)
	return stream, nil
}

// consume reads SSE lines from the llama-server response and republishes them
// as token increments. The final chunk carries stop=true with a stop_type that
// maps onto the OpenAI finish reasons.
func (e *llamaCppEngine) consume(ctx context.Context, body io.ReadCloser, stream *incrementStream) {
	defer body.Close()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "" || payload == "[DONE]" {
			continue
		}

		var chunk llamaCompletionChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			logrus.WithFields(logrus.Fields{"engine": e.name, "error": err}).Warn("Discarding malformed completion chunk")
			continue
		}

		inc := TokenIncrement{Text: chunk.Content}
		if len(chunk.CompletionProbabilities) > 0 {
			inc.Logprob = convertLogprob(chunk.CompletionProbabilities[0])
		}
		if chunk.Stop {
			inc.IsFinal = true
			inc.FinishReason = finishReasonFromStopType(chunk.StopType)
		}
		if !stream.push(ctx, inc) {
			return
		}
		if chunk.Stop {
			stream.finish(nil)
			return
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		stream.finish(fmt.Errorf("completion stream from %s broke: %w", e.name, err))
		return
	}
	stream.finish(io.ErrUnexpectedEOF)
}

func convertLogprob(prob llamaTokenProb) *TokenLogprob {
	lp := &TokenLogprob{Token: prob.Token, Logprob: prob.Logprob}
	for _, top := range prob.TopLogprobs {
		lp.TopLogprobs = append(lp.TopLogprobs, models.TopLogprob{Token: top.Token, Logprob: top.Logprob})
	}
	return lp
}

func finishReasonFromStopType(stopType string) string {
	if stopType == "limit" {
		return models.FinishReasonLength
	}
	return models.FinishReasonStop
}
