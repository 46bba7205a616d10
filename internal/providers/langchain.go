package providers

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"
)

// LangchainProvider embeds through langchaingo's OpenAI client. It targets any
// OpenAI-compatible endpoint (vLLM, LM Studio, llama.cpp server, Azure proxies).
type LangchainProvider struct {
	alias    string
	model    string
	embedder embeddings.Embedder
}

func NewLangchainProvider(alias, model string) (*LangchainProvider, error) {
	if m := strings.TrimSpace(os.Getenv("COURSESEARCH_LANGCHAIN_EMBED_MODEL")); m != "" {
		model = m
	}
	if model == "" {
		model = defaultOpenAIEmbedModel
	}
	opts := []openai.Option{
		openai.WithEmbeddingModel(model),
		openai.WithToken(langchainToken(alias)),
	}
	if base := strings.TrimSpace(os.Getenv("COURSESEARCH_LANGCHAIN_BASE_URL")); base != "" {
		opts = append(opts, openai.WithBaseURL(base))
	}
	client, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("create langchain openai client: %w", err)
	}
	embedder, err := embeddings.NewEmbedder(client, embeddings.WithStripNewLines(true))
	if err != nil {
		return nil, fmt.Errorf("create langchain embedder: %w", err)
	}
	return &LangchainProvider{alias: alias, model: model, embedder: embedder}, nil
}

func (l *LangchainProvider) Embed(ctx context.Context, req EmbedRequest) ([][]float32, ProviderInfo, error) {
	info := ProviderInfo{Name: "langchain", Model: l.model, Key: l.alias}
	if len(req.Inputs) == 0 {
		return nil, info, fmt.Errorf("no embedding inputs")
	}
	vectors, err := l.embedder.EmbedDocuments(ctx, req.Inputs)
	if err != nil {
		return nil, info, fmt.Errorf("langchain embedding request failed: %w", err)
	}
	return vectors, info, nil
}

// langchainToken falls back to "none" for local servers that skip auth.
func langchainToken(alias string) string {
	if k := resolveOpenAIKey(alias); k != "" {
		return k
	}
	return "none"
}
