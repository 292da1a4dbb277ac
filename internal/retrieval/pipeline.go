// Package retrieval answers queries against the indexed corpus: embed
// the query, recall candidates, hydrate their texts, rerank, and
// generate a grounded answer.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/docsift/docsift/internal/cache"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

var (
	// ErrInvalidQuery rejects empty or whitespace-only queries before
	// any model call.
	ErrInvalidQuery = errors.New("query must not be empty")

	// ErrRetrieval wraps failures of the recall, rerank, and generate
	// steps. A rerank failure is never papered over with recall order:
	// the quality drop would be invisible to the caller.
	ErrRetrieval = errors.New("retrieval failed")
)

// ScoredChunk is one reranked candidate with its provenance.
type ScoredChunk struct {
	Chunk      storage.Chunk
	Score      float64
	RecallRank int
}

// Answer is the result of a full question-answering run.
type Answer struct {
	Query  string
	Answer string
	Chunks []ScoredChunk
}

// Pipeline runs the query side: embed, recall, hydrate, rerank, and
// for Ask, generate.
type Pipeline struct {
	logger    *observability.Logger
	cfg       config.RetrievalConfig
	chunks    *storage.ChunkRepository
	index     vector.Index
	embedder  *model.EmbedderHost
	reranker  *model.RerankerHost
	generator *model.GeneratorHost
	genWait   time.Duration
	qcache    *cache.EmbeddingCache
}

// NewPipeline wires the retrieval dependencies.
func NewPipeline(
	logger *observability.Logger,
	cfg *config.Config,
	repos *storage.Repositories,
	index vector.Index,
	hosts *model.Hosts,
) *Pipeline {
	genWait := cfg.Generator.Timeout
	if genWait <= 0 {
		genWait = 2 * time.Minute
	}
	return &Pipeline{
		logger:    logger.WithComponent("retrieval"),
		cfg:       cfg.Retrieval,
		chunks:    repos.Chunks,
		index:     index,
		embedder:  hosts.Embedder,
		reranker:  hosts.Reranker,
		generator: hosts.Generator,
		genWait:   genWait,
	}
}

// UseEmbeddingCache memoizes query embeddings between requests. Safe
// to skip: a nil cache means every query is embedded fresh.
func (p *Pipeline) UseEmbeddingCache(c *cache.EmbeddingCache) {
	p.qcache = c
}

// RetrieveChunks returns the topK best chunks for query in reranked
// order. An empty recall is not an error: the result is simply empty.
func (p *Pipeline) RetrieveChunks(ctx context.Context, query string, topK int) ([]ScoredChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}
	if topK <= 0 {
		topK = p.cfg.FinalSize
	}

	vec, err := p.queryVector(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query: %w", ErrRetrieval, err)
	}

	hits, err := p.index.Query(ctx, vec, p.cfg.RecallSize)
	if err != nil {
		return nil, fmt.Errorf("%w: recall: %w", ErrRetrieval, err)
	}
	if len(hits) == 0 {
		p.logger.Info().Str("query", preview(query)).Msg("recall returned no candidates")
		return nil, nil
	}

	candidates, err := p.hydrate(ctx, hits)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		p.logger.Warn().
			Str("query", preview(query)).
			Int("recalled", len(hits)).
			Msg("every recalled id was stale")
		return nil, nil
	}

	passages := make([]string, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Chunk.ChunkText
	}
	scores, err := p.reranker.Rerank(ctx, query, passages)
	if err != nil {
		return nil, fmt.Errorf("%w: rerank: %w", ErrRetrieval, err)
	}
	for i := range candidates {
		candidates[i].Score = scores[i]
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].RecallRank < candidates[j].RecallRank
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

// queryVector embeds the query, consulting the cache first when one is
// wired.
func (p *Pipeline) queryVector(ctx context.Context, query string) ([]float32, error) {
	if p.qcache != nil {
		if vec := p.qcache.Get(ctx, query); vec != nil {
			return vec, nil
		}
	}
	vec, err := p.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	if p.qcache != nil {
		p.qcache.Put(ctx, query, vec)
	}
	return vec, nil
}

// hydrate resolves recalled ids to stored chunks, preserving recall
// order. An id missing from the store is a stale index entry: skipped,
// logged once.
func (p *Pipeline) hydrate(ctx context.Context, hits []vector.Hit) ([]ScoredChunk, error) {
	ids := make([]int64, len(hits))
	for i, h := range hits {
		ids[i] = h.ChunkID
	}
	rows, err := p.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: hydrate: %w", ErrRetrieval, err)
	}
	byID := make(map[int64]*storage.Chunk, len(rows))
	for _, c := range rows {
		byID[c.ID] = c
	}

	out := make([]ScoredChunk, 0, len(hits))
	for i, h := range hits {
		c, ok := byID[h.ChunkID]
		if !ok {
			p.logger.Warn().
				Int64("chunk_id", h.ChunkID).
				Msg("recalled chunk missing from store; skipping stale index entry")
			continue
		}
		out = append(out, ScoredChunk{Chunk: *c, RecallRank: i})
	}
	return out, nil
}

// Ask answers query from the indexed corpus. When nothing relevant is
// recalled the configured no-answer sentence is returned and the
// generator is not invoked.
func (p *Pipeline) Ask(ctx context.Context, query string) (*Answer, error) {
	start := time.Now()
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrInvalidQuery
	}

	chunks, err := p.RetrieveChunks(ctx, query, p.cfg.FinalSize)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return &Answer{Query: query, Answer: p.cfg.NoAnswerText, Chunks: []ScoredChunk{}}, nil
	}

	passages := make([]string, len(chunks))
	for i, c := range chunks {
		passages[i] = c.Chunk.ChunkText
	}
	prompt := BuildPrompt(passages, query)

	// Generation runs to completion once started: the model host cannot
	// abandon a transformer pass halfway. Detach from the caller's
	// cancellation and discard the result afterwards if the caller is
	// gone.
	genCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.genWait)
	defer cancel()
	text, err := p.generator.Generate(genCtx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: generate: %w", ErrRetrieval, err)
	}
	if cerr := ctx.Err(); cerr != nil {
		return nil, cerr
	}

	p.logger.Info().
		Str("query", preview(query)).
		Int("chunks", len(chunks)).
		Dur("duration", time.Since(start)).
		Msg("query answered")
	return &Answer{Query: query, Answer: text, Chunks: chunks}, nil
}

// preview shortens query text for log lines.
func preview(s string) string {
	const max = 64
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
