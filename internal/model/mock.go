package model

import (
	"context"
	"hash/fnv"
	"strings"
	"sync"
)

// MockEmbedder produces deterministic embeddings for tests: each
// whitespace token adds weight at a hashed position, so texts sharing
// tokens get positively correlated unit vectors.
type MockEmbedder struct {
	dimension int

	// Err, when set, fails every call.
	Err error
}

var _ Embedder = (*MockEmbedder)(nil)

// NewMockEmbedder returns a mock of the given dimension.
func NewMockEmbedder(dimension int) *MockEmbedder {
	if dimension <= 0 {
		dimension = 64
	}
	return &MockEmbedder{dimension: dimension}
}

func (m *MockEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, m.dimension)
		for _, tok := range strings.Fields(strings.ToLower(text)) {
			h := fnv.New32a()
			h.Write([]byte(tok))
			v[int(h.Sum32())%m.dimension]++
		}
		normalizeL2(v)
		out[i] = v
	}
	return out, nil
}

func (m *MockEmbedder) Dimension() int {
	return m.dimension
}

func (m *MockEmbedder) Model() string {
	return "mock-embedder"
}

// MockReranker scores passages by token overlap with the query
// (Jaccard), so an identical passage scores 1.0 and a disjoint one 0.
type MockReranker struct {
	// Err, when set, fails every call.
	Err error
}

var _ Reranker = (*MockReranker)(nil)

func (m *MockReranker) Rerank(ctx context.Context, query string, passages []string) ([]float64, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	q := tokenSet(query)
	scores := make([]float64, len(passages))
	for i, p := range passages {
		scores[i] = jaccard(q, tokenSet(p))
	}
	return scores, nil
}

func tokenSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		set[tok] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	var shared int
	for tok := range a {
		if _, ok := b[tok]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

// GenerateCall records one generator invocation.
type GenerateCall struct {
	Prompt string
	Opts   GenerateOptions
}

// MockGenerator returns a canned answer and records every call so tests
// can assert on prompts and invocation counts.
type MockGenerator struct {
	mu sync.Mutex

	// Answer is returned from Generate; empty means "mock answer".
	Answer string
	// Err, when set, fails every call.
	Err error

	calls []GenerateCall
}

var _ Generator = (*MockGenerator)(nil)

func (m *MockGenerator) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, GenerateCall{Prompt: prompt, Opts: opts})
	m.mu.Unlock()

	if m.Err != nil {
		return "", m.Err
	}
	if m.Answer != "" {
		return m.Answer, nil
	}
	return "mock answer", nil
}

// Calls returns a copy of the recorded invocations.
func (m *MockGenerator) Calls() []GenerateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]GenerateCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount reports how many times Generate ran.
func (m *MockGenerator) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}
