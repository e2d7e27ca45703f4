package rag

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Select turns raw index matches into prompt passages and citation records.
//
// Matches are walked from last to first, mirroring the order the reference
// client used; citation order therefore follows reverse service order rather
// than score order. A match needs both a source and text to be considered.
// The relevance cutoff only applies once one passage has been accepted, so a
// low-scoring sole match still grounds the answer.
//
// hasAny reports whether at least one passage was selected.
func Select(matches []Match) (passages []Passage, citations []Citation, hasAny bool) {
	citations = []Citation{}

	for i := len(matches) - 1; i >= 0; i-- {
		m := matches[i]
		if m.Metadata.Source == "" || m.Metadata.Text == "" {
			continue
		}

		text := Sanitize(m.Metadata.Text)
		if text == "" {
			continue
		}

		if len(passages) > 0 && m.Score < MinRelevanceScore {
			continue
		}

		passages = append(passages, Passage{
			Text:   text,
			Source: m.Metadata.Source,
			Score:  m.Score,
		})
		citations = append(citations, Citation{
			Filename: Filename(m.Metadata.Source),
			Score:    m.Score,
		})
	}

	return passages, citations, len(passages) > 0
}

// Sanitize strips leading sentence fragments left behind by upstream
// chunking. A chunk that begins with a lowercase letter almost always starts
// mid-sentence, so everything up to the first sentence boundary is dropped,
// repeatedly, until the text starts cleanly. A lone fragment with no boundary
// is kept whole so the passage is never emptied.
func Sanitize(text string) string {
	s := strings.TrimSpace(text)
	for startsLowercase(s) {
		cut := sentenceBoundary(s)
		if cut < 0 {
			break
		}
		s = strings.TrimSpace(s[cut:])
	}
	return s
}

// Filename returns the last path element of a source path.
func Filename(source string) string {
	if i := strings.LastIndex(source, "/"); i >= 0 {
		return source[i+1:]
	}
	return source
}

// startsLowercase reports whether s begins with a lowercase letter.
func startsLowercase(s string) bool {
	r, _ := utf8.DecodeRuneInString(s)
	return unicode.IsLower(r)
}

// sentenceBoundary returns the byte offset just past the first sentence
// terminator that is followed by whitespace and more text, or -1.
func sentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.', '!', '?':
			rest := s[i+1:]
			trimmed := strings.TrimLeftFunc(rest, unicode.IsSpace)
			if len(trimmed) < len(rest) && trimmed != "" {
				return i + 1
			}
		}
	}
	return -1
}
