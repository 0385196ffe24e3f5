package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures the Ollama-backed providers.
type OllamaConfig struct {
	Host    string // e.g. "http://localhost:11434"
	Model   string
	Timeout time.Duration
}

func (c OllamaConfig) withDefaults() OllamaConfig {
	if c.Host == "" {
		c.Host = "http://localhost:11434"
	}
	if c.Timeout == 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

// OllamaEmbedder calls Ollama's /api/embed endpoint.
type OllamaEmbedder struct {
	config OllamaConfig
	client *http.Client
	dims   int
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// NewOllamaEmbedder constructs an embedder and probes the model's
// dimensionality with a one-word embed call.
func NewOllamaEmbedder(ctx context.Context, cfg OllamaConfig) (*OllamaEmbedder, error) {
	cfg = cfg.withDefaults()
	e := &OllamaEmbedder{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}

	dims, err := e.detectDimensions(ctx)
	if err != nil {
		return nil, fmt.Errorf("detect embedding dimensions: %w", err)
	}
	e.dims = dims
	return e, nil
}

func (e *OllamaEmbedder) detectDimensions(ctx context.Context) (int, error) {
	vecs, err := e.doEmbed(ctx, []string{"dimension probe"})
	if err != nil {
		return 0, err
	}
	if len(vecs) == 0 {
		return 0, fmt.Errorf("empty embedding response")
	}
	return len(vecs[0]), nil
}

func (e *OllamaEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(ollamaEmbedRequest{Model: e.config.Model, Input: texts})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.Host+"/api/embed", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("embed request failed: %s: %s", resp.Status, string(b))
	}

	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	return out.Embeddings, nil
}

// Embed generates an embedding for a single text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts with retry.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	var vecs [][]float32
	err := WithRetry(ctx, DefaultRetryConfig(), func() error {
		v, err := e.doEmbed(ctx, texts)
		if err != nil {
			return err
		}
		vecs = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	for i, v := range vecs {
		vecs[i] = normalizeVector(v)
	}
	return vecs, nil
}

func (e *OllamaEmbedder) Dimensions() int   { return e.dims }
func (e *OllamaEmbedder) ModelName() string { return e.config.Model }

func (e *OllamaEmbedder) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.config.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (e *OllamaEmbedder) Close() error { return nil }

var _ Embedder = (*OllamaEmbedder)(nil)

// ollamaGenerateRequest/Response are shared by the Summarizer and
// Generator, both backed by Ollama's /api/generate completion endpoint.
type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
}

func ollamaGenerate(ctx context.Context, client *http.Client, cfg OllamaConfig, prompt string) (string, error) {
	body, err := json.Marshal(ollamaGenerateRequest{Model: cfg.Model, Prompt: prompt, Stream: false})
	if err != nil {
		return "", fmt.Errorf("marshal generate request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.Host+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("generate request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("generate request failed: %s: %s", resp.Status, string(b))
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generate response: %w", err)
	}
	return strings.TrimSpace(out.Response), nil
}

// OllamaSummarizer and OllamaGenerator share one HTTP client and model
// config; both are thin prompt-formatting wrappers over ollamaGenerate.
type OllamaSummarizer struct {
	config OllamaConfig
	client *http.Client
}

func NewOllamaSummarizer(cfg OllamaConfig) *OllamaSummarizer {
	cfg = cfg.withDefaults()
	return &OllamaSummarizer{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (s *OllamaSummarizer) Summarize(ctx context.Context, text string, maxWords int) (string, error) {
	prompt := fmt.Sprintf("Summarize the following in at most %d words, no preamble:\n\n%s", maxWords, text)
	return ollamaGenerate(ctx, s.client, s.config, prompt)
}

func (s *OllamaSummarizer) Available(ctx context.Context) bool {
	return ollamaTagsReachable(ctx, s.client, s.config)
}
func (s *OllamaSummarizer) Close() error { return nil }

var _ Summarizer = (*OllamaSummarizer)(nil)

type OllamaGenerator struct {
	config OllamaConfig
	client *http.Client
}

func NewOllamaGenerator(cfg OllamaConfig) *OllamaGenerator {
	cfg = cfg.withDefaults()
	return &OllamaGenerator{config: cfg, client: &http.Client{Timeout: cfg.Timeout}}
}

func (g *OllamaGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return ollamaGenerate(ctx, g.client, g.config, prompt)
}

func (g *OllamaGenerator) Available(ctx context.Context) bool {
	return ollamaTagsReachable(ctx, g.client, g.config)
}
func (g *OllamaGenerator) Close() error { return nil }

var _ Generator = (*OllamaGenerator)(nil)

func ollamaTagsReachable(ctx context.Context, client *http.Client, cfg OllamaConfig) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.Host+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
