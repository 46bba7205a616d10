package util

import (
	"strings"

	"coursesearch/internal/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// overlapSentences is how many trailing sentences of a closed chunk open the next one.
	overlapSentences = 2
)

// SplitSentences cuts normalized text after each run of '.', '!' or '?' that is
// followed by whitespace or the end of the text. Terminators stay with their
// sentence, so strings.Join(SplitSentences(t), " ") == t for normalized t.
func SplitSentences(text string) []string {
	out := make([]string, 0, 16)
	start := 0
	for i := 0; i < len(text); i++ {
		if !isTerminator(text[i]) {
			continue
		}
		end := i + 1
		for end < len(text) && isTerminator(text[end]) {
			end++
		}
		i = end - 1
		if end < len(text) && text[end] != ' ' && text[end] != '\t' && text[end] != '\n' {
			continue
		}
		if s := strings.TrimSpace(text[start:end]); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(b byte) bool {
	return b == '.' || b == '!' || b == '?'
}

// ChunkText splits text into sentence-aligned chunks bounded by estimated tokens.
// Each new chunk opens with the last two sentences of the previous one; the
// overlap budget is reserved on top of those sentences. A sentence larger than
// chunkSize is emitted whole as its own chunk.
func ChunkText(text string, chunkSize, overlap int, source string) []models.Chunk {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	sentences := SplitSentences(NormalizeText(text))
	if len(sentences) == 0 {
		return nil
	}

	chunks := make([]models.Chunk, 0, 4)
	emit := func(parts []string, overlapChars int) {
		chunks = append(chunks, models.Chunk{
			Content:    strings.Join(parts, " "),
			ChunkIndex: len(chunks),
			Metadata: models.ChunkMetadata{
				Source:       source,
				ChunkSize:    chunkSize,
				Overlap:      overlap,
				OverlapChars: overlapChars,
			},
		})
	}

	current := make([]string, 0, 32)
	currentTokens := 0
	seedChars := 0
	for _, sentence := range sentences {
		sentenceTokens := EstimateTokens(sentence)
		if len(current) > 0 && currentTokens+sentenceTokens > chunkSize {
			emit(current, seedChars)

			keep := overlapSentences
			if keep > len(current) {
				keep = len(current)
			}
			seed := append([]string(nil), current[len(current)-keep:]...)
			seedText := strings.Join(seed, " ")

			current = append(seed, sentence)
			currentTokens = EstimateTokens(seedText) + sentenceTokens + overlap
			seedChars = len(seedText)
			continue
		}
		current = append(current, sentence)
		currentTokens += sentenceTokens
	}
	if len(current) > 0 {
		emit(current, seedChars)
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}
	return chunks
}

// Reassemble drops the repeated prefix of every chunk after the first and
// concatenates the rest, yielding the normalized source text.
func Reassemble(chunks []models.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Content)
			continue
		}
		b.WriteString(c.Content[c.Metadata.OverlapChars:])
	}
	return b.String()
}
