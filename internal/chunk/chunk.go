// Package chunk implements the sentence-level chunking strategy used when
// splitting a record's text into embeddable units, grounded on the target-
// length/overlap shape of the teacher's rag chunker but operating on
// sentences rather than raw character windows (CHUNK_STRATEGY="sentence").
package chunk

import (
	"regexp"
	"strings"
)

// Options controls how text is split. MaxWords approximates a token budget
// per chunk; Overlap is the number of trailing sentences from a chunk that
// are repeated at the start of the next one, preserving local context across
// a chunk boundary.
type Options struct {
	MaxWords int
	Overlap  int
}

// DefaultOptions matches CHUNK_SIZE=300 / SENTENCE_OVERLAP=1.
func DefaultOptions() Options {
	return Options{MaxWords: 300, Overlap: 1}
}

var sentenceBoundary = regexp.MustCompile(`(?s)[^.!?]*[.!?]+(\s+|$)`)

// splitSentences breaks text into sentences using simple punctuation
// boundaries. A trailing fragment with no terminal punctuation is kept as
// its own sentence rather than dropped.
func splitSentences(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	var sentences []string
	consumed := 0
	// Text before a match that the match itself does not cover (e.g. "3."
	// in "3.5") belongs to the same sentence as that match.
	for _, loc := range sentenceBoundary.FindAllStringIndex(text, -1) {
		if s := strings.TrimSpace(text[consumed:loc[1]]); s != "" {
			sentences = append(sentences, s)
		}
		consumed = loc[1]
	}
	if consumed < len(text) {
		if rest := strings.TrimSpace(text[consumed:]); rest != "" {
			sentences = append(sentences, rest)
		}
	}
	return sentences
}

// Sentence splits text into fixed-size, sentence-overlapping chunks. Each
// chunk accumulates whole sentences until adding the next would exceed
// opt.MaxWords words, then starts the next chunk by repeating the last
// opt.Overlap sentences of the one just closed. Empty text yields zero
// chunks.
func Sentence(text string, opt Options) []string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	maxWords := opt.MaxWords
	if maxWords <= 0 {
		maxWords = 300
	}
	overlap := opt.Overlap
	if overlap < 0 {
		overlap = 0
	}

	var chunks []string
	var current []string
	wordCount := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		chunks = append(chunks, strings.Join(current, " "))
	}

	for _, s := range sentences {
		words := len(strings.Fields(s))
		if wordCount > 0 && wordCount+words > maxWords {
			flush()
			start := len(current) - overlap
			if start < 0 {
				start = 0
			}
			current = append([]string{}, current[start:]...)
			wordCount = 0
			for _, c := range current {
				wordCount += len(strings.Fields(c))
			}
		}
		current = append(current, s)
		wordCount += words
	}
	flush()
	return chunks
}

// Default chunks text using DefaultOptions.
func Default(text string) []string {
	return Sentence(text, DefaultOptions())
}
