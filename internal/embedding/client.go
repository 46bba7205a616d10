// Package embedding turns one piece of text into one fixed-dimension vector.
package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"coursesearch/internal/providers"
	"coursesearch/internal/util"

	"golang.org/x/time/rate"
)

type Options struct {
	Model string
	// Dimension is the vector length every response must have.
	Dimension int
	// RatePerSecond <= 0 disables the limiter.
	RatePerSecond float64
	Burst         int
	Logger        *slog.Logger
}

type Client struct {
	provider  providers.EmbeddingProvider
	model     string
	dimension int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func New(provider providers.EmbeddingProvider, opts Options) (*Client, error) {
	if provider == nil {
		return nil, fmt.Errorf("%w: embedding provider is required", util.ErrValidation)
	}
	if opts.Dimension <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", util.ErrValidation)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		provider:  provider,
		model:     opts.Model,
		dimension: opts.Dimension,
		logger:    logger.With("component", "embedding"),
	}
	if opts.RatePerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), burst)
	}
	return c, nil
}

func (c *Client) Model() string  { return c.model }
func (c *Client) Dimension() int { return c.dimension }

// Embed issues exactly one provider request for text. Transport failures and
// malformed responses both wrap util.ErrProvider. There is no retry.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("wait for embedding slot: %w", err)
		}
	}
	vectors, info, err := c.provider.Embed(ctx, providers.EmbedRequest{
		Operation: "embed_chunk",
		Inputs:    []string{text},
		Model:     c.model,
		Dimension: c.dimension,
	})
	if err != nil {
		class := providers.ClassifyError(err)
		c.logger.Warn("embedding request failed",
			"provider", info.Name, "model", info.Model, "class", class, "err", err)
		if class.Throttled() {
			return nil, fmt.Errorf("%w: %w: %s (%s): %w", util.ErrProvider, util.ErrThrottled, info.Name, class, err)
		}
		return nil, fmt.Errorf("%w: %s (%s): %w", util.ErrProvider, info.Name, class, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", util.ErrProvider, len(vectors))
	}
	v := vectors[0]
	if len(v) != c.dimension {
		return nil, fmt.Errorf("%w: expected dimension %d, got %d", util.ErrProvider, c.dimension, len(v))
	}
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("%w: non-finite value at position %d", util.ErrProvider, i)
		}
	}
	return v, nil
}
