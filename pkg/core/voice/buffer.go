package voice

import (
	"strings"
)

// Fragments this short ride along with the next sentence instead of
// becoming their own synthesis request; tiny utterances like "Hi." cost
// a full round trip and play back with an audible seam.
const defaultMinSpokenWords = 2

// SentenceBuffer accumulates streamed text and hands back sentences as
// they complete, so synthesis can start on the first sentence while the
// rest of the reply is still being generated.
type SentenceBuffer struct {
	pending  strings.Builder
	held     string
	minWords int
}

// NewSentenceBuffer creates a buffer with the default short-fragment
// merging.
func NewSentenceBuffer() *SentenceBuffer {
	return &SentenceBuffer{minWords: defaultMinSpokenWords}
}

// NewSentenceBufferMinWords creates a buffer that holds back completed
// sentences shorter than n words and merges them into the next one.
// n <= 1 disables merging.
func NewSentenceBufferMinWords(n int) *SentenceBuffer {
	return &SentenceBuffer{minWords: n}
}

// Add appends streamed text and returns the sentences it completed, in
// order. A sentence below the word minimum is held and prepended to the
// next one rather than returned on its own.
func (b *SentenceBuffer) Add(text string) []string {
	b.pending.WriteString(text)
	content := b.pending.String()

	var out []string
	last := 0
	for i := 0; i < len(content); i++ {
		if !endsSentence(content, i) {
			continue
		}
		chunk := strings.TrimSpace(content[last : i+1])
		last = i + 1
		if chunk == "" {
			continue
		}
		if b.held != "" {
			chunk = b.held + " " + chunk
			b.held = ""
		}
		if len(strings.Fields(chunk)) < b.minWords {
			b.held = chunk
			continue
		}
		out = append(out, chunk)
	}

	if last > 0 {
		rest := content[last:]
		b.pending.Reset()
		b.pending.WriteString(rest)
	}
	return out
}

// Flush returns everything still buffered, held fragments included, and
// resets the buffer.
func (b *SentenceBuffer) Flush() string {
	rest := strings.TrimSpace(b.pending.String())
	b.pending.Reset()
	if b.held != "" {
		if rest == "" {
			rest = b.held
		} else {
			rest = b.held + " " + rest
		}
		b.held = ""
	}
	return rest
}

// Pending returns the buffered text that has not been returned yet.
func (b *SentenceBuffer) Pending() string {
	if b.held == "" {
		return b.pending.String()
	}
	return b.held + " " + b.pending.String()
}

// spokenAbbreviations are periods that do not end a spoken sentence.
// Keys are lowercase.
var spokenAbbreviations = map[string]struct{}{
	"dr.": {}, "mr.": {}, "mrs.": {}, "ms.": {}, "jr.": {}, "sr.": {},
	"prof.": {}, "rev.": {}, "gen.": {}, "col.": {}, "lt.": {}, "sgt.": {},
	"inc.": {}, "ltd.": {}, "corp.": {}, "co.": {}, "vs.": {}, "etc.": {},
	"i.e.": {}, "e.g.": {}, "a.m.": {}, "p.m.": {}, "u.s.": {}, "u.k.": {},
	"no.": {}, "st.": {}, "ave.": {},
}

// endsSentence reports whether position i closes a sentence: a
// terminator that is not part of an abbreviation, followed by
// whitespace or end of input.
func endsSentence(s string, i int) bool {
	switch s[i] {
	case '!', '?':
	case '.':
		if isAbbreviationAt(s, i) {
			return false
		}
	default:
		return false
	}
	if i+1 == len(s) {
		return true
	}
	switch s[i+1] {
	case ' ', '\n', '\r', '\t':
		return true
	}
	return false
}

// isAbbreviationAt reports whether the period at i belongs to a known
// abbreviation or a single-letter initial ("J. Smith").
func isAbbreviationAt(s string, i int) bool {
	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := strings.ToLower(s[start : i+1])
	if _, ok := spokenAbbreviations[word]; ok {
		return true
	}
	if i >= 1 && s[i-1] >= 'A' && s[i-1] <= 'Z' {
		if i < 2 || s[i-2] == ' ' || s[i-2] == '\n' {
			return true
		}
	}
	return false
}
