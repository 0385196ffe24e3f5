package provider

import "context"

// Providers bundles the three external contracts the retrieval engine
// depends on (spec §6).
type Providers struct {
	Embedder   Embedder
	Summarizer Summarizer
	Generator  Generator
}

// NewOllama builds a Providers set backed by a single Ollama host, using
// embedModel for embeddings and chatModel for summarization/generation.
func NewOllama(ctx context.Context, host, embedModel, chatModel string) (*Providers, error) {
	embedder, err := NewOllamaEmbedder(ctx, OllamaConfig{Host: host, Model: embedModel})
	if err != nil {
		return nil, err
	}
	chatCfg := OllamaConfig{Host: host, Model: chatModel}
	return &Providers{
		Embedder:   embedder,
		Summarizer: NewOllamaSummarizer(chatCfg),
		Generator:  NewOllamaGenerator(chatCfg),
	}, nil
}

// NewStatic builds a deterministic, offline Providers set for tests and
// --offline runs.
func NewStatic() *Providers {
	return &Providers{
		Embedder:   NewStaticEmbedder(),
		Summarizer: NewStaticSummarizer(),
		Generator:  NewStaticGenerator(),
	}
}

// Close releases every provider's resources.
func (p *Providers) Close() error {
	var firstErr error
	for _, c := range []interface{ Close() error }{p.Embedder, p.Summarizer, p.Generator} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
