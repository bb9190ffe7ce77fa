package pipeline

import (
	"context"
	"io"
	"strings"

	"fm-serve/internal/backend"
	"fm-serve/internal/models"
	"fm-serve/internal/toolcall"
	"fm-serve/internal/utils"
)

// Options configures one pipeline run.
type Options struct {
	Request       *models.GenerationRequest
	Format        toolcall.Format
	ThinkOpenTag  string
	ThinkCloseTag string
	// PromptTokens and CachedTokens seed usage accounting; they are known
	// before generation starts.
	PromptTokens int
	CachedTokens int
}

// Delta is one streamable piece of the response surface.
type Delta struct {
	Content   string
	Reasoning string
	Logprob   *models.TokenLogprob
}

// Outcome is the fully accumulated result of a generation.
type Outcome struct {
	Content      string
	Reasoning    string
	ToolCalls    []models.ToolCall
	FinishReason string
	Usage        models.Usage
	Logprobs     []models.TokenLogprob
}

// Pipeline owns the per-request processing state between the engine stream
// and the response.
type Pipeline struct {
	opts     Options
	splitter *ReasoningSplitter
	stopper  *StopMatcher
	gate     *toolGate
	usage    *UsageAccumulator

	content      strings.Builder
	reasoning    strings.Builder
	logprobs     []models.TokenLogprob
	engineFinish string
}

func New(opts Options) *Pipeline {
	req := opts.Request
	toolsActive := len(req.Tools) > 0 && req.ToolChoice != models.ToolChoiceNone
	return &Pipeline{
		opts:     opts,
		splitter: NewReasoningSplitter(opts.ThinkOpenTag, opts.ThinkCloseTag),
		stopper:  NewStopMatcher(req.Stop),
		gate:     newToolGate(toolsActive, opts.Format),
		usage:    NewUsageAccumulator(opts.PromptTokens, opts.CachedTokens),
	}
}

// Run drains the engine stream through the pipeline. When emit is non-nil
// every releasable delta is forwarded to it as it becomes available; a nil
// emit accumulates silently for a non-streaming response. Run cancels the
// stream as soon as the outcome is decided early, stop-sequence match
// included.
func (p *Pipeline) Run(ctx context.Context, stream backend.Stream, emit func(Delta) error) (*Outcome, error) {
	defer stream.Cancel()

	for {
		inc, err := stream.Recv(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}

		if inc.Text != "" {
			p.usage.CountIncrement()
		}

		stopped, err := p.consume(inc, emit)
		if err != nil {
			return nil, err
		}
		if stopped {
			stream.Cancel()
			return p.finish(models.FinishReasonStop, emit)
		}
		if inc.IsFinal {
			p.engineFinish = inc.FinishReason
			break
		}
	}

	return p.finishFromFlush(emit)
}

// consume routes one increment through split, stop matching and tool gating.
func (p *Pipeline) consume(inc backend.TokenIncrement, emit func(Delta) error) (bool, error) {
	content, reasoning := p.splitter.Feed(inc.Text)

	if reasoning != "" {
		p.reasoning.WriteString(reasoning)
		if err := p.emitDelta(emit, Delta{Reasoning: reasoning}); err != nil {
			return false, err
		}
	}

	if content == "" {
		return false, nil
	}

	var logprob *models.TokenLogprob
	if p.opts.Request.Logprobs && inc.Logprob != nil {
		logprob = convertTokenLogprob(inc.Logprob, p.opts.Request.TopLogprobs)
		p.logprobs = append(p.logprobs, *logprob)
	}

	safe, stopped := p.stopper.Feed(content)
	if safe != "" {
		if err := p.release(safe, logprob, emit); err != nil {
			return false, err
		}
	}
	return stopped, nil
}

// release pushes content through the tool gate and emits whatever the gate
// lets out.
func (p *Pipeline) release(content string, logprob *models.TokenLogprob, emit func(Delta) error) error {
	out := p.gate.feed(content)
	if out == "" {
		return nil
	}
	p.content.WriteString(out)
	return p.emitDelta(emit, Delta{Content: out, Logprob: logprob})
}

// finishFromFlush ends a run that exhausted the stream without a stop match.
func (p *Pipeline) finishFromFlush(emit func(Delta) error) (*Outcome, error) {
	content, reasoning := p.splitter.Flush()
	if reasoning != "" {
		p.reasoning.WriteString(reasoning)
		if err := p.emitDelta(emit, Delta{Reasoning: reasoning}); err != nil {
			return nil, err
		}
	}

	safe, stopped := "", false
	if content != "" {
		safe, stopped = p.stopper.Feed(content)
	}
	if !stopped {
		safe += p.stopper.Flush()
	}
	if safe != "" {
		if err := p.release(safe, nil, emit); err != nil {
			return nil, err
		}
	}

	reason := p.engineFinish
	if stopped || p.stopper.Stopped() {
		reason = models.FinishReasonStop
	}
	if reason == "" {
		reason = models.FinishReasonStop
	}
	return p.finish(reason, emit)
}

// finish resolves the tool gate and assembles the outcome.
func (p *Pipeline) finish(reason string, emit func(Delta) error) (*Outcome, error) {
	calls, remainder := p.gate.finalize(p.opts.Request.Tools)
	if remainder != "" {
		p.content.WriteString(remainder)
		if err := p.emitDelta(emit, Delta{Content: remainder}); err != nil {
			return nil, err
		}
	}

	outcome := &Outcome{
		Content:      p.content.String(),
		Reasoning:    p.reasoning.String(),
		FinishReason: reason,
		Usage:        p.usage.Usage(),
		Logprobs:     p.logprobs,
	}
	if len(calls) > 0 {
		outcome.ToolCalls = convertCalls(calls)
		outcome.FinishReason = models.FinishReasonToolCalls
	}
	return outcome, nil
}

func (p *Pipeline) emitDelta(emit func(Delta) error, delta Delta) error {
	if emit == nil {
		return nil
	}
	return emit(delta)
}

// convertTokenLogprob caps the alternatives at the requested count. Engines
// may return more; llama.cpp needs n_probs >= 1 to report the chosen token's
// logprob at all, so a top_logprobs of zero still produces one alternative.
func convertTokenLogprob(lp *backend.TokenLogprob, maxTop int) *models.TokenLogprob {
	top := lp.TopLogprobs
	if len(top) > maxTop {
		top = top[:maxTop]
	}
	return &models.TokenLogprob{
		Token:       lp.Token,
		Logprob:     lp.Logprob,
		TopLogprobs: top,
	}
}

func convertCalls(calls []toolcall.Call) []models.ToolCall {
	out := make([]models.ToolCall, 0, len(calls))
	for i, call := range calls {
		index := i
		out = append(out, models.ToolCall{
			Index: &index,
			ID:    utils.ToolCallID(),
			Type:  "function",
			Function: models.FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}
	return out
}

// toolGate withholds content that may still turn into tool-call markup.
// Formats with start tags release text up to any possible tag prefix and
// hold everything from a completed tag on; inline formats hold the whole
// content because a call can only be recognized once generation completes.
type toolGate struct {
	active    bool
	format    toolcall.Format
	startTags []string
	inline    bool
	holding   bool
	full      strings.Builder
	released  int
}

func newToolGate(active bool, format toolcall.Format) *toolGate {
	g := &toolGate{active: active, format: format}
	if format != nil {
		g.startTags = format.StartTags()
	}
	g.inline = len(g.startTags) == 0
	return g
}

func (g *toolGate) feed(text string) string {
	if !g.active {
		return text
	}
	g.full.WriteString(text)
	if g.inline || g.holding {
		return ""
	}

	pending := g.full.String()[g.released:]
	earliest := -1
	for _, tag := range g.startTags {
		if idx := strings.Index(pending, tag); idx >= 0 && (earliest < 0 || idx < earliest) {
			earliest = idx
		}
	}
	if earliest >= 0 {
		out := pending[:earliest]
		g.released += len(out)
		g.holding = true
		return out
	}

	overlap := 0
	for _, tag := range g.startTags {
		if n := tagOverlap(pending, tag); n > overlap {
			overlap = n
		}
	}
	out := pending[:len(pending)-overlap]
	g.released += len(out)
	return out
}

// finalize parses the accumulated content for tool calls. When parsing
// fails, everything still withheld is returned as plain content, so a
// malformed call degrades to text instead of an error.
func (g *toolGate) finalize(tools []models.Tool) ([]toolcall.Call, string) {
	if !g.active {
		return nil, ""
	}
	full := g.full.String()

	result, ok := g.format.Parse(full, tools)
	if !ok {
		return nil, full[g.released:]
	}

	emitted := full[:g.released]
	if strings.HasPrefix(result.Text, emitted) {
		return result.Calls, result.Text[len(emitted):]
	}
	// The cleanup around the markup does not line up with what already went
	// out; swallow the remainder rather than duplicating text.
	return result.Calls, ""
}
