package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOllamaModelResolution(t *testing.T) {
	t.Setenv("COURSESEARCH_OLLAMA_EMBED_MODEL", "")
	t.Setenv("COURSESEARCH_OLLAMA_EMBED_MODEL_BGE", "")
	require.Equal(t, "nomic-embed-text", ollamaModel(""))
	require.Equal(t, "bge-small-en-v1.5", ollamaModel("bge"))
	require.Equal(t, "all-minilm:l6-v2", ollamaModel("all-minilm:l6-v2"))

	t.Setenv("COURSESEARCH_OLLAMA_EMBED_MODEL_BGE", "bge-m3")
	require.Equal(t, "bge-m3", ollamaModel("bge"))

	t.Setenv("COURSESEARCH_OLLAMA_EMBED_MODEL", "snowflake-arctic-embed")
	require.Equal(t, "snowflake-arctic-embed", ollamaModel(""))
}

func TestFitDimension(t *testing.T) {
	src := []float32{1, 2, 3}
	require.Equal(t, []float32{1, 2}, fitDimension(src, 2))
	require.Equal(t, []float32{1, 2, 3, 0, 0}, fitDimension(src, 5))
	require.Equal(t, src, fitDimension(src, 0))
}

func TestOllamaEmbedBatchesInputs(t *testing.T) {
	var (
		got  map[string]any
		path string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"model":"nomic-embed-text","embeddings":[[1,0,0,9],[0,1,0,9]]}`))
	}))
	defer srv.Close()
	t.Setenv("COURSESEARCH_OLLAMA_BASE_URL", srv.URL)
	t.Setenv("COURSESEARCH_OLLAMA_EMBED_MODEL", "")

	vecs, info, err := NewOllamaEmbeddingProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}, Model: "ignored", Dimension: 3})
	require.NoError(t, err)
	require.Equal(t, "ollama", info.Name)
	require.Equal(t, [][]float32{{1, 0, 0}, {0, 1, 0}}, vecs)
	require.Equal(t, "/api/embed", path)
	require.Equal(t, "nomic-embed-text", got["model"])
	require.Equal(t, []any{"a", "b"}, got["input"])
}

func ollamaServer(t *testing.T, status int, body string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	t.Setenv("COURSESEARCH_OLLAMA_BASE_URL", srv.URL)
}

func TestOllamaEmbedErrors(t *testing.T) {
	ollamaServer(t, http.StatusServiceUnavailable, "model is loading")
	_, _, err := NewOllamaEmbeddingProvider("").Embed(context.Background(), EmbedRequest{Inputs: []string{"a"}})
	var se *StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	require.Equal(t, ErrorTransient, ClassifyError(err))

	ollamaServer(t, http.StatusOK, `{"embeddings":[[1,2]]}`)
	p := NewOllamaEmbeddingProvider("")
	_, _, err = p.Embed(context.Background(), EmbedRequest{Inputs: []string{"a", "b"}})
	require.ErrorContains(t, err, "1 embeddings for 2 inputs")

	_, _, err = p.Embed(context.Background(), EmbedRequest{})
	require.Error(t, err)
}
