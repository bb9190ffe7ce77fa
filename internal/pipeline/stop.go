package pipeline

import "strings"

// StopMatcher scans the content channel for stop sequences. It withholds just
// enough trailing text to recognize a sequence split across increments. When
// a sequence matches, everything from the match on is discarded and the
// generation is over; the matched sequence itself is never emitted.
//
// When several sequences match, the earliest offset wins; at the same offset
// the longest sequence wins.
type StopMatcher struct {
	stops   []string
	holdLen int
	buf     string
	matched string
}

func NewStopMatcher(stops []string) *StopMatcher {
	holdLen := 0
	for _, stop := range stops {
		if len(stop)-1 > holdLen {
			holdLen = len(stop) - 1
		}
	}
	return &StopMatcher{stops: stops, holdLen: holdLen}
}

// Feed consumes the next content fragment. It returns the text safe to emit
// and whether a stop sequence completed.
func (m *StopMatcher) Feed(text string) (emit string, stopped bool) {
	if m.matched != "" {
		return "", true
	}
	if len(m.stops) == 0 {
		return text, false
	}

	m.buf += text

	bestIdx, bestLen := -1, 0
	for _, stop := range m.stops {
		idx := strings.Index(m.buf, stop)
		if idx < 0 {
			continue
		}
		if bestIdx < 0 || idx < bestIdx || (idx == bestIdx && len(stop) > bestLen) {
			bestIdx, bestLen = idx, len(stop)
		}
	}
	if bestIdx >= 0 {
		emit = m.buf[:bestIdx]
		m.matched = m.buf[bestIdx : bestIdx+bestLen]
		m.buf = ""
		return emit, true
	}

	release := len(m.buf) - m.holdLen
	if release < 0 {
		release = 0
	}
	emit = m.buf[:release]
	m.buf = m.buf[release:]
	return emit, false
}

// Flush returns the withheld tail once generation ends without a stop match.
func (m *StopMatcher) Flush() string {
	tail := m.buf
	m.buf = ""
	return tail
}

// Stopped reports whether a stop sequence has matched.
func (m *StopMatcher) Stopped() bool {
	return m.matched != ""
}
