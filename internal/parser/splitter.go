package parser

import (
	"github.com/tmc/langchaingo/textsplitter"
)

// NewSplitter returns the character splitter used for every ingested document.
// It prefers paragraph breaks, then line breaks, then spaces.
func NewSplitter(chunkSize, chunkOverlap int) textsplitter.TextSplitter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(chunkSize),
		textsplitter.WithChunkOverlap(chunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
}

// SplitText splits text into chunks, dropping chunks that are only whitespace.
func SplitText(splitter textsplitter.TextSplitter, text string) ([]string, error) {
	chunks, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	out := chunks[:0]
	for _, c := range chunks {
		if isBlank(c) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}
