package testutil

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"

	"github.com/chantio/chantio/internal/provider"
)

// MockProvider is a scriptable stand-in for the model server client.
// Embeddings are deterministic bag-of-words vectors (see WordEmbed), so
// texts sharing more words score higher under dot-product search — enough
// to exercise real retrieval ordering without a model.
type MockProvider struct {
	mu sync.Mutex

	// EmbedErr, when set, is returned by every Embed call.
	EmbedErr error
	// GenerateErr, when set, is returned by every Generate call.
	GenerateErr error
	// Reply is the generation output. Default "ok".
	Reply string

	// EmbedCalls counts Embed invocations.
	EmbedCalls int
	// GenerateCalls counts Generate invocations.
	GenerateCalls int
	// LastPrompt is the prompt of the most recent Generate call.
	LastPrompt string

	// EmbedDelay blocks Embed until the context is done when set together
	// with a context carrying a deadline shorter than the delay.
	EmbedDelay func(ctx context.Context) error
}

// WordDim is the embedding dimensionality of the mock.
const WordDim = 64

// WordEmbed maps text to a normalized bag-of-words vector. Deterministic:
// equal texts give equal vectors, shared words raise the dot product.
func WordEmbed(text string) []float32 {
	vec := make([]float32, WordDim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%WordDim]++
	}
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum > 0 {
		norm := math.Sqrt(sum)
		for i := range vec {
			vec[i] = float32(float64(vec[i]) / norm)
		}
	}
	return vec
}

// Embed implements the embedder contract.
func (m *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.EmbedCalls++
	embedErr := m.EmbedErr
	delay := m.EmbedDelay
	m.mu.Unlock()

	if delay != nil {
		if err := delay(ctx); err != nil {
			return nil, err
		}
	}
	if embedErr != nil {
		return nil, embedErr
	}
	return WordEmbed(text), nil
}

// Generate implements the generator contract.
func (m *MockProvider) Generate(ctx context.Context, prompt string, genCtx []int) (provider.GenerateResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GenerateCalls++
	m.LastPrompt = prompt
	if m.GenerateErr != nil {
		return provider.GenerateResult{}, m.GenerateErr
	}
	reply := m.Reply
	if reply == "" {
		reply = "ok"
	}
	return provider.GenerateResult{Text: reply}, nil
}
