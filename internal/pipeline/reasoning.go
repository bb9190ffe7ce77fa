// Package pipeline turns the raw token stream of an engine into the response
// surface of the chat API: it splits the reasoning channel, matches stop
// sequences on content only, recognizes tool calls, accounts usage and
// assembles the final response or stream.
package pipeline

import "strings"

type reasoningMode int

const (
	beforeReasoning reasoningMode = iota
	insideReasoning
)

// ReasoningSplitter routes generated text into the content and reasoning
// channels. Text between the open and close tags is reasoning; everything
// else is content. A close tag returns the splitter to the outside state, so
// a later open tag starts another reasoning block; open tags seen while
// already inside a block are literal reasoning text. Tags spanning increment
// boundaries are handled by withholding text that could still become a tag.
type ReasoningSplitter struct {
	openTag  string
	closeTag string
	mode     reasoningMode
	buf      strings.Builder
}

func NewReasoningSplitter(openTag, closeTag string) *ReasoningSplitter {
	return &ReasoningSplitter{openTag: openTag, closeTag: closeTag}
}

// Feed consumes the next text fragment and returns what can be released to
// each channel so far.
func (s *ReasoningSplitter) Feed(text string) (content, reasoning string) {
	s.buf.WriteString(text)

	for {
		switch s.mode {
		case beforeReasoning:
			pending := s.buf.String()
			idx := strings.Index(pending, s.openTag)
			if idx < 0 {
				release := len(pending) - tagOverlap(pending, s.openTag)
				content += pending[:release]
				s.setBuf(pending[release:])
				return content, reasoning
			}
			content += pending[:idx]
			s.setBuf(pending[idx+len(s.openTag):])
			s.mode = insideReasoning

		case insideReasoning:
			pending := s.buf.String()
			idx := strings.Index(pending, s.closeTag)
			if idx < 0 {
				release := len(pending) - tagOverlap(pending, s.closeTag)
				reasoning += pending[:release]
				s.setBuf(pending[release:])
				return content, reasoning
			}
			reasoning += pending[:idx]
			s.setBuf(pending[idx+len(s.closeTag):])
			s.mode = beforeReasoning
		}
	}
}

// Flush releases whatever the splitter is still withholding. Text inside an
// unterminated reasoning block stays reasoning.
func (s *ReasoningSplitter) Flush() (content, reasoning string) {
	pending := s.buf.String()
	s.setBuf("")
	if s.mode == insideReasoning {
		return "", pending
	}
	return pending, ""
}

func (s *ReasoningSplitter) setBuf(text string) {
	s.buf.Reset()
	s.buf.WriteString(text)
}

// tagOverlap returns the length of the longest suffix of text that is a
// proper prefix of tag.
func tagOverlap(text, tag string) int {
	max := len(tag) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, tag[:n]) {
			return n
		}
	}
	return 0
}
