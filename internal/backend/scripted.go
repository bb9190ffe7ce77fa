package backend

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"fm-serve/internal/models"
	"fm-serve/internal/types"
	"fm-serve/internal/utils"
)

func init() {
	RegisterDriver("scripted", newScriptedEngine)
}

// scriptedEngine is an in-process engine with fully deterministic output. It
// backs the default configuration so the server runs without any external
// inference process, and it lets tests script exact model output per model id.
type scriptedEngine struct {
	name      string
	modelType string
	models    []string

	mu      sync.RWMutex
	scripts map[string]string
}

func newScriptedEngine(cfg types.EngineConfig) (Engine, error) {
	if len(cfg.Models) == 0 {
		return nil, fmt.Errorf("scripted engine %s declares no models", cfg.Name)
	}
	return &scriptedEngine{
		name:      cfg.Name,
		modelType: cfg.ModelType,
		models:    cfg.Models,
		scripts:   make(map[string]string),
	}, nil
}

func (e *scriptedEngine) Name() string      { return e.name }
func (e *scriptedEngine) ModelType() string { return e.modelType }
func (e *scriptedEngine) Models() []string  { return e.models }

// SetScript fixes the full output text for a model. Subsequent generations
// against that model replay the text instead of the synthesized output.
func (e *scriptedEngine) SetScript(model, text string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scripts[model] = text
}

func (e *scriptedEngine) Tokenize(_ context.Context, text string) ([]int, error) {
	return utils.EncodeTokens(text), nil
}

func (e *scriptedEngine) Generate(ctx context.Context, params GenerationParams) (Stream, error) {
	e.mu.RLock()
	script, scripted := e.scripts[params.Model]
	e.mu.RUnlock()

	text := script
	if !scripted {
		text = synthesizeText(params)
	}

	genCtx, cancel := context.WithCancel(ctx)
	stream := newIncrementStream(cancel)
	go e.replay(genCtx, stream, text, params)
	return stream, nil
}

// replay feeds the text to the consumer in small rune chunks so that markup
// spanning chunk boundaries is a normal occurrence, as it is with real
// engines. Each chunk counts as one token against the budget.
func (e *scriptedEngine) replay(ctx context.Context, stream *incrementStream, text string, params GenerationParams) {
	chunks := chunkRunes(text, 5)

	truncated := false
	if params.MaxTokens > 0 && len(chunks) > params.MaxTokens {
		chunks = chunks[:params.MaxTokens]
		truncated = true
	}

	seed := int64(0)
	if params.Seed != nil {
		seed = *params.Seed
	}

	for i, chunk := range chunks {
		inc := TokenIncrement{Text: chunk}
		if params.Logprobs {
			inc.Logprob = syntheticLogprob(chunk, seed, i, params.TopLogprobs)
		}
		if i == len(chunks)-1 {
			inc.IsFinal = true
			if truncated {
				inc.FinishReason = models.FinishReasonLength
			} else {
				inc.FinishReason = models.FinishReasonStop
			}
		}
		if !stream.push(ctx, inc) {
			return
		}
	}
	if len(chunks) == 0 {
		final := TokenIncrement{IsFinal: true, FinishReason: models.FinishReasonStop}
		if !stream.push(ctx, final) {
			return
		}
	}
	stream.finish(nil)
}

func chunkRunes(text string, size int) []string {
	runes := []rune(text)
	var chunks []string
	for i := 0; i < len(runes); i += size {
		end := i + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[i:end]))
	}
	return chunks
}

var scriptedVocabulary = []string{
	"the", "model", "serves", "tokens", "from", "local", "state", "with",
	"steady", "order", "and", "each", "reply", "derives", "its", "words",
	"only", "of", "seed", "prompt",
}

// synthesizeText derives output from the prompt and seed alone. The same
// request always yields the same text.
func synthesizeText(params GenerationParams) string {
	h := fnv.New64a()
	h.Write([]byte(params.Prompt))
	state := h.Sum64()
	if params.Seed != nil {
		state ^= uint64(*params.Seed) * 0x9e3779b97f4a7c15
	}

	length := 24 + int(state%40)
	words := make([]string, 0, length)
	for i := 0; i < length; i++ {
		state = state*6364136223846793005 + 1442695040888963407
		words = append(words, scriptedVocabulary[state%uint64(len(scriptedVocabulary))])
	}
	return strings.Join(words, " ") + "."
}

func syntheticLogprob(chunk string, seed int64, index int, topN int) *TokenLogprob {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%d|%d", chunk, seed, index)
	state := h.Sum64()

	logprob := -float64(state%5000)/1000.0 - 0.001
	lp := &TokenLogprob{Token: chunk, Logprob: logprob}
	for i := 0; i < topN; i++ {
		alt := chunk
		if i > 0 {
			alt = scriptedVocabulary[(state+uint64(i))%uint64(len(scriptedVocabulary))]
		}
		altProb := logprob - math.Abs(float64(i))*0.5
		lp.TopLogprobs = append(lp.TopLogprobs, models.TopLogprob{Token: alt, Logprob: altProb})
	}
	return lp
}
