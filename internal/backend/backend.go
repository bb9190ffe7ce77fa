// Package backend defines the token source contract between the generation
// pipeline and the engines that produce tokens, plus the engine
// implementations shipped with the server.
package backend

import (
	"context"
	"io"

	"fm-serve/internal/models"
)

// TokenLogprob carries the log-probability data of one emitted token.
type TokenLogprob struct {
	Token       string
	Logprob     float64
	TopLogprobs []models.TopLogprob
}

// TokenIncrement is one unit of the lazy token sequence an engine produces.
type TokenIncrement struct {
	// Text is the decoded text fragment for this increment.
	Text string
	// IsFinal marks the last increment of the sequence.
	IsFinal bool
	// FinishReason is set on the final increment: "stop" when the engine hit
	// end-of-sequence, "length" when it exhausted the token budget.
	FinishReason string
	// Logprob is present when the request asked for logprobs.
	Logprob *TokenLogprob
}

// Stream is a cancellable, lazy, finite, non-restartable sequence of token
// increments.
type Stream interface {
	// Recv returns the next increment. It returns io.EOF after the final
	// increment has been consumed, and the context error if ctx is done.
	Recv(ctx context.Context) (TokenIncrement, error)
	// Cancel asks the engine to stop producing. Cancellation is cooperative;
	// the engine may emit a few more increments before halting.
	Cancel()
}

// GenerationParams is the engine-level request: a rendered prompt plus
// sampling parameters. Stop sequences are deliberately absent; stop matching
// happens downstream where the reasoning channel can be excluded.
type GenerationParams struct {
	Model  string
	Prompt string
	// ReusePrefixTokens is the number of leading prompt tokens already
	// resident in the engine's KV state for this model.
	ReusePrefixTokens int
	Temperature       float64
	TopP              float64
	TopK              int
	MinP              float64
	RepetitionPenalty float64
	PresencePenalty   float64
	Seed              *int64
	MaxTokens         int
	Logprobs          bool
	TopLogprobs       int
}

// Engine is a local token-generating backend hosting one or more models.
type Engine interface {
	// Name identifies the engine instance; it is part of the prefix cache key.
	Name() string
	// ModelType names the model family, used to infer the tool-call format.
	ModelType() string
	// Models lists the model ids this engine serves.
	Models() []string
	// Tokenize converts text to token ids using the engine's tokenizer.
	Tokenize(ctx context.Context, text string) ([]int, error)
	// Generate starts a generation and returns its increment stream.
	Generate(ctx context.Context, params GenerationParams) (Stream, error)
}

// incrementStream is the channel-backed Stream implementation shared by the
// engine drivers.
type incrementStream struct {
	ch     chan TokenIncrement
	err    chan error
	cancel context.CancelFunc
	done   bool
}

func newIncrementStream(cancel context.CancelFunc) *incrementStream {
	return &incrementStream{
		ch:     make(chan TokenIncrement, 16),
		err:    make(chan error, 1),
		cancel: cancel,
	}
}

// push delivers an increment to the consumer. It returns false when the
// consumer side is gone.
func (s *incrementStream) push(ctx context.Context, inc TokenIncrement) bool {
	select {
	case s.ch <- inc:
		return true
	case <-ctx.Done():
		return false
	}
}

// finish closes the stream, optionally with a terminal error.
func (s *incrementStream) finish(err error) {
	if err != nil {
		s.err <- err
	}
	close(s.ch)
}

func (s *incrementStream) Recv(ctx context.Context) (TokenIncrement, error) {
	if s.done {
		return TokenIncrement{}, io.EOF
	}
	select {
	case inc, ok := <-s.ch:
		if !ok {
			s.done = true
			select {
			case err := <-s.err:
				return TokenIncrement{}, err
			default:
				return TokenIncrement{}, io.EOF
			}
		}
		return inc, nil
	case <-ctx.Done():
		return TokenIncrement{}, ctx.Err()
	}
}

func (s *incrementStream) Cancel() {
	s.cancel()
}
