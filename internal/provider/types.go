package provider

import (
	"context"
	"math"
	"time"
)

// Default timeouts and batch sizes for HTTP-backed providers.
const (
	DefaultBatchSize = 32
	MaxBatchSize     = 256
	DefaultTimeout   = 60 * time.Second
)

// StaticDimensions is the embedding dimension of the deterministic
// offline embedder, used by tests and --offline runs.
const StaticDimensions = 256

// Embedder turns text into a fixed-dimension vector (spec §6).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	ModelName() string
	Available(ctx context.Context) bool
	Close() error
}

// Summarizer condenses text. Neither the context assembler nor the gate
// rewriting stage calls it: the assembler degrades using each entity's
// stored Summary, and the gate is a pure heuristic.
type Summarizer interface {
	Summarize(ctx context.Context, text string, maxWords int) (string, error)
	Available(ctx context.Context) bool
	Close() error
}

// Generator produces free text from a prompt, used by the decompose and
// HyDE rewriting stages (spec §4.4).
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Available(ctx context.Context) bool
	Close() error
}

func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
