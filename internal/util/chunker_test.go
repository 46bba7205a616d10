package util

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// fixedSentence returns a 119-character sentence, which estimates to exactly 34 tokens.
func fixedSentence(i int) string {
	head := fmt.Sprintf("Sentence %02d ", i)
	return head + strings.Repeat("x", 118-len(head)) + "."
}

func TestSplitSentences(t *testing.T) {
	got := SplitSentences("First one. Second! Third?? Version 3.5 ships today. tail without stop")
	require.Equal(t, []string{"First one.", "Second!", "Third??", "Version 3.5 ships today.", "tail without stop"}, got)
	require.Empty(t, SplitSentences(""))
	require.Empty(t, SplitSentences("   "))
}

func TestChunkTextEmpty(t *testing.T) {
	require.Empty(t, ChunkText("", 1000, 200, "src"))
	require.Empty(t, ChunkText(" \n\t\x00 ", 1000, 200, "src"))
}

func TestChunkTextSingleChunk(t *testing.T) {
	chunks := ChunkText("Hello   world.\nSecond line here.", 1000, 200, "course:1:info")
	require.Len(t, chunks, 1)
	require.Equal(t, "Hello world. Second line here.", chunks[0].Content)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, 1, chunks[0].Metadata.TotalChunks)
	require.Equal(t, "course:1:info", chunks[0].Metadata.Source)
	require.Equal(t, 1000, chunks[0].Metadata.ChunkSize)
	require.Equal(t, 200, chunks[0].Metadata.Overlap)
	require.Zero(t, chunks[0].Metadata.OverlapChars)
}

func TestChunkTextFiftySentenceDocumentYieldsTwoChunks(t *testing.T) {
	sentences := make([]string, 50)
	for i := range sentences {
		sentences[i] = fixedSentence(i + 1)
		require.Equal(t, 34, EstimateTokens(sentences[i]))
	}
	doc := strings.Join(sentences, " ")
	require.InDelta(t, 1800, EstimateTokens(doc), 100)

	chunks := ChunkText(doc, 1000, 200, "doc")
	require.Len(t, chunks, 2)

	first := SplitSentences(chunks[0].Content)
	require.Len(t, first, 29)
	lastTwo := strings.Join(first[len(first)-2:], " ")
	require.True(t, strings.HasPrefix(chunks[1].Content, lastTwo+" "))
	require.Equal(t, len(lastTwo), chunks[1].Metadata.OverlapChars)

	for i, c := range chunks {
		require.Equal(t, i, c.ChunkIndex)
		require.Equal(t, 2, c.Metadata.TotalChunks)
	}
	require.Equal(t, doc, Reassemble(chunks))
}

func TestChunkTextOversizedSentenceKeptWhole(t *testing.T) {
	huge := strings.Repeat("word ", 1000) + "end."
	chunks := ChunkText(huge, 100, 20, "big")
	require.Len(t, chunks, 1)
	require.Equal(t, NormalizeText(huge), chunks[0].Content)
	require.Greater(t, EstimateTokens(chunks[0].Content), 100)
}

func TestChunkTextDeterministicAndReconstructs(t *testing.T) {
	inputs := []string{
		"One. Two! Three? Four. Five.",
		strings.Repeat("A short sentence about photosynthesis. ", 120),
		strings.Repeat("Lorem ipsum dolor sit amet, consectetur adipiscing elit! ", 60) + "Trailing text without a stop",
		strings.Repeat("x", 900) + ". " + strings.Repeat("Small one. ", 30),
		"Line one\nline two.\n\nLine\tthree? 3.14 is pi. Done",
	}
	for _, in := range inputs {
		for _, size := range []int{20, 60, 200, 1000} {
			a := ChunkText(in, size, 10, "s")
			b := ChunkText(in, size, 10, "s")
			require.Equal(t, a, b)
			require.Equal(t, NormalizeText(in), Reassemble(a), "size %d", size)
			for i, c := range a {
				require.Equal(t, i, c.ChunkIndex)
				require.Equal(t, len(a), c.Metadata.TotalChunks)
				if i > 0 {
					prev := a[i-1].Content
					require.True(t, strings.HasSuffix(prev, c.Content[:c.Metadata.OverlapChars]))
				}
			}
		}
	}
}

func TestChunkTextDefaults(t *testing.T) {
	chunks := ChunkText("Hello there.", 0, -1, "s")
	require.Len(t, chunks, 1)
	require.Equal(t, DefaultChunkSize, chunks[0].Metadata.ChunkSize)
	require.Equal(t, DefaultChunkOverlap, chunks[0].Metadata.Overlap)
}
