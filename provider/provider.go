// Package provider wraps the external embedding service used by the
// dense retrieval backend. Only query-time embedding happens here; the
// knowledge-base chunks are embedded offline.
package provider

import (
	"context"
	"errors"
	"time"

	openai_provider "github.com/carelens/edrisk/provider/openai"
)

// Client identifies an embedding provider implementation.
type Client string

const (
	OpenAI Client = "openai"
)

// Provider is the embedding contract consumed by retrieval.
type Provider interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// Options configures a provider instance.
type Options struct {
	APIKey         string
	BaseURL        string
	EmbeddingModel string
	Timeout        time.Duration
}

// NewProvider creates an embedding client. An empty API key returns an
// error so the caller can fall back to lexical retrieval.
func NewProvider(client Client, opts Options) (Provider, error) {
	switch client {
	case OpenAI:
		if opts.APIKey == "" {
			return nil, errors.New("embedding provider api key not set")
		}
		if opts.EmbeddingModel == "" {
			opts.EmbeddingModel = "text-embedding-3-small"
		}
		if opts.Timeout <= 0 {
			opts.Timeout = 30 * time.Second
		}
		return openai_provider.NewClient(opts.APIKey, opts.BaseURL, opts.EmbeddingModel, opts.Timeout), nil
	default:
		return nil, errors.New("unsupported embedding provider")
	}
}
