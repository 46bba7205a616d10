// Package processor chunks a document and embeds every chunk in order.
package processor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coursesearch/internal/models"
	"coursesearch/internal/util"
)

// DefaultDelay paces consecutive embedding calls.
const DefaultDelay = 100 * time.Millisecond

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

type ProgressFunc func(Progress)

type Options struct {
	// Delay between embedding calls; negative disables pacing.
	Delay  time.Duration
	Logger *slog.Logger
}

type Processor struct {
	embedder Embedder
	delay    time.Duration
	logger   *slog.Logger
}

func New(embedder Embedder, opts Options) *Processor {
	delay := opts.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	if delay < 0 {
		delay = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{embedder: embedder, delay: delay, logger: logger.With("component", "processor")}
}

// Process chunks text and embeds each chunk sequentially. A single failed
// embedding fails the whole document and no partial result is returned.
func (p *Processor) Process(ctx context.Context, text, sourceID string, chunkSize, overlap int, onProgress ProgressFunc) ([]models.EmbeddedChunk, error) {
	chunks := util.ChunkText(text, chunkSize, overlap, sourceID)
	if len(chunks) == 0 {
		return nil, nil
	}
	out := make([]models.EmbeddedChunk, 0, len(chunks))
	for i, ch := range chunks {
		vec, err := p.embedder.Embed(ctx, ch.Content)
		if err != nil {
			return nil, fmt.Errorf("embed chunk %d/%d of %s: %w", i+1, len(chunks), sourceID, err)
		}
		out = append(out, models.EmbeddedChunk{Chunk: ch, Embedding: vec})
		if onProgress != nil {
			onProgress(Progress{Current: i + 1, Total: len(chunks)})
		}
		if i < len(chunks)-1 && p.delay > 0 {
			if err := sleep(ctx, p.delay); err != nil {
				return nil, err
			}
		}
	}
	p.logger.Debug("document embedded", "source", sourceID, "chunks", len(out))
	return out, nil
}

// ProcessSection runs Process on a section and stamps its title and type onto every chunk.
func (p *Processor) ProcessSection(ctx context.Context, s models.Section, chunkSize, overlap int, onProgress ProgressFunc) ([]models.EmbeddedChunk, error) {
	chunks, err := p.Process(ctx, s.Content, s.Source, chunkSize, overlap, onProgress)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].SectionTitle = s.Title
		chunks[i].SectionType = s.Type
	}
	return chunks, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type Stats struct {
	TotalTokens       int     `json:"total_tokens"`
	ChunkCount        int     `json:"chunk_count"`
	AvgTokensPerChunk int     `json:"avg_tokens_per_chunk"`
	EstimatedCostUSD  float64 `json:"estimated_cost_usd"`
}

// ComputeStats sums estimated tokens over chunks and prices them at
// costPerMillion USD per million tokens.
func ComputeStats(chunks []models.EmbeddedChunk, costPerMillion float64) Stats {
	var s Stats
	for _, c := range chunks {
		s.TotalTokens += util.EstimateTokens(c.Content)
	}
	s.ChunkCount = len(chunks)
	if s.ChunkCount > 0 {
		s.AvgTokensPerChunk = (s.TotalTokens + s.ChunkCount/2) / s.ChunkCount
	}
	s.EstimatedCostUSD = float64(s.TotalTokens) / 1_000_000 * costPerMillion
	return s
}
