package parser

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitTextRespectsChunkSize(t *testing.T) {
	text := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	splitter := NewSplitter(100, 20)

	chunks, err := SplitText(splitter, text)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 100)
		assert.NotEmpty(t, strings.TrimSpace(c))
	}
}

func TestSplitTextPrefersParagraphs(t *testing.T) {
	text := "first paragraph\n\nsecond paragraph"
	chunks, err := SplitText(NewSplitter(20, 0), text)
	require.NoError(t, err)
	assert.Equal(t, []string{"first paragraph", "second paragraph"}, chunks)
}

func TestSplitTextShortInput(t *testing.T) {
	chunks, err := SplitText(NewSplitter(1000, 200), "short")
	require.NoError(t, err)
	assert.Equal(t, []string{"short"}, chunks)

	chunks, err = SplitText(NewSplitter(1000, 200), "   \n\n ")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
