package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/internal/cache"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

type testRetrieval struct {
	pipe  *Pipeline
	cfg   *config.Config
	repos *storage.Repositories
	index *vector.MemoryIndex
	emb   *model.MockEmbedder
	gen   *model.MockGenerator
}

func newTestRetrieval(t *testing.T, reranker model.Reranker, generator model.Generator) *testRetrieval {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))
	repos := storage.NewRepositories(db)

	emb := model.NewMockEmbedder(64)
	index := vector.NewMemoryIndex(64)

	if reranker == nil {
		reranker = &model.MockReranker{}
	}
	gen, _ := generator.(*model.MockGenerator)
	if generator == nil {
		gen = &model.MockGenerator{Answer: "canned answer"}
		generator = gen
	}

	cfg := config.DefaultConfig()
	cfg.Retrieval.RecallSize = 10
	cfg.Retrieval.FinalSize = 3
	hosts := model.NewHosts(cfg, emb, reranker, generator, observability.DefaultLogger())

	return &testRetrieval{
		pipe:  NewPipeline(observability.DefaultLogger(), cfg, repos, index, hosts),
		cfg:   cfg,
		repos: repos,
		index: index,
		emb:   emb,
		gen:   gen,
	}
}

// seedCorpus stores and indexes one chunk per text, returning chunk ids.
func (tr *testRetrieval) seedCorpus(t *testing.T, texts ...string) []int64 {
	t.Helper()
	ctx := context.Background()

	doc := &storage.Document{
		OriginalFilename: "corpus.txt",
		ContentType:      "text/plain",
		Size:             1,
		FilePath:         fmt.Sprintf("corpus-%d.txt", time.Now().UnixNano()),
		StorageType:      storage.StorageLocal,
	}
	require.NoError(t, tr.repos.Documents.Create(ctx, doc))

	chunks := make([]*storage.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &storage.Chunk{SourceDocumentID: doc.ID, ChunkText: text, SequenceInDocument: i}
	}
	require.NoError(t, tr.repos.Chunks.CreateBatch(ctx, chunks))

	vecs, err := tr.emb.Embed(ctx, texts)
	require.NoError(t, err)
	entries := make([]vector.Entry, len(chunks))
	ids := make([]int64, len(chunks))
	for i, c := range chunks {
		entries[i] = vector.Entry{
			ChunkID:            c.ID,
			Vector:             vecs[i],
			SourceDocumentID:   doc.ID,
			SequenceInDocument: i,
		}
		ids[i] = c.ID
	}
	require.NoError(t, tr.index.Upsert(ctx, entries))
	return ids
}

func TestRetrieveChunks_RejectsEmptyQuery(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)

	for _, query := range []string{"", "   ", "\n\t "} {
		_, err := tr.pipe.RetrieveChunks(context.Background(), query, 5)
		assert.ErrorIs(t, err, ErrInvalidQuery, "query %q", query)
	}
}

func TestRetrieveChunks_EmptyIndex(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)

	got, err := tr.pipe.RetrieveChunks(context.Background(), "anything at all", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRetrieveChunks_RerankOrderWins(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)
	exact := "solar plant"
	partial := "solar plant array panel spare tokens"
	weak := "solar"
	tr.seedCorpus(t, partial, weak, exact)

	got, err := tr.pipe.RetrieveChunks(context.Background(), "solar plant", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Token-overlap reranking must order exact > weak > partial no
	// matter what order recall produced.
	assert.Equal(t, exact, got[0].Chunk.ChunkText)
	assert.Equal(t, weak, got[1].Chunk.ChunkText)
	assert.Equal(t, partial, got[2].Chunk.ChunkText)
	assert.True(t, got[0].Score >= got[1].Score && got[1].Score >= got[2].Score)
}

func TestRetrieveChunks_TiesBrokenByRecallRank(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)
	ids := tr.seedCorpus(t, "alpha beta", "alpha beta")

	got, err := tr.pipe.RetrieveChunks(context.Background(), "alpha beta", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, got[0].Score, got[1].Score)
	assert.Less(t, got[0].RecallRank, got[1].RecallRank)
	assert.Equal(t, ids[0], got[0].Chunk.ID)
	assert.Equal(t, ids[1], got[1].Chunk.ID)
}

func TestRetrieveChunks_TopKBound(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)
	tr.seedCorpus(t, "alpha news", "beta news", "gamma news", "delta news")

	got, err := tr.pipe.RetrieveChunks(context.Background(), "alpha news", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "alpha news", got[0].Chunk.ChunkText)
}

func TestRetrieveChunks_StaleIdsSkipped(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)
	tr.seedCorpus(t, "solar plant output", "wind turbine capacity")

	// An index entry whose chunk row no longer exists.
	vecs, err := tr.emb.Embed(context.Background(), []string{"solar plant output"})
	require.NoError(t, err)
	require.NoError(t, tr.index.Upsert(context.Background(), []vector.Entry{{
		ChunkID: 9999,
		Vector:  vecs[0],
	}}))

	got, err := tr.pipe.RetrieveChunks(context.Background(), "solar plant output", 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	for _, sc := range got {
		assert.NotEqual(t, int64(9999), sc.Chunk.ID)
	}
}

// countingEmbedder counts Embed calls made through the host.
type countingEmbedder struct {
	model.Embedder
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	c.calls++
	return c.Embedder.Embed(ctx, texts)
}

func TestRetrieveChunks_EmbeddingCacheSkipsReembedding(t *testing.T) {
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(ctx, db, "sqlite"))
	repos := storage.NewRepositories(db)

	mock := model.NewMockEmbedder(64)
	counting := &countingEmbedder{Embedder: mock}
	index := vector.NewMemoryIndex(64)

	cfg := config.DefaultConfig()
	cfg.Retrieval.RecallSize = 10
	cfg.Retrieval.FinalSize = 3
	hosts := model.NewHosts(cfg, counting, &model.MockReranker{}, &model.MockGenerator{}, observability.DefaultLogger())

	mem := cache.NewMemoryClient(16)
	t.Cleanup(func() { mem.Close() })
	pipe := NewPipeline(observability.DefaultLogger(), cfg, repos, index, hosts)
	pipe.UseEmbeddingCache(cache.NewEmbeddingCache(mem, time.Minute, mock.Model(), cfg.Embedding.Instruction, 64, observability.DefaultLogger()))

	doc := &storage.Document{
		OriginalFilename: "corpus.txt",
		ContentType:      "text/plain",
		Size:             1,
		FilePath:         "cache-corpus.txt",
		StorageType:      storage.StorageLocal,
	}
	require.NoError(t, repos.Documents.Create(ctx, doc))
	chunks := []*storage.Chunk{{SourceDocumentID: doc.ID, ChunkText: "solar plant output", SequenceInDocument: 0}}
	require.NoError(t, repos.Chunks.CreateBatch(ctx, chunks))
	vecs, err := mock.Embed(ctx, []string{"solar plant output"})
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, []vector.Entry{{ChunkID: chunks[0].ID, Vector: vecs[0], SourceDocumentID: doc.ID}}))

	first, err := pipe.RetrieveChunks(ctx, "solar plant output", 3)
	require.NoError(t, err)
	require.Len(t, first, 1)
	assert.Equal(t, 1, counting.calls)
	assert.Equal(t, 1, mem.Len())

	second, err := pipe.RetrieveChunks(ctx, "solar plant output", 3)
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, 1, counting.calls, "repeat query must reuse the cached vector")
	assert.Equal(t, first[0].Chunk.ID, second[0].Chunk.ID)
}

func TestAsk_GeneratesFromRerankedContext(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)
	tr.seedCorpus(t,
		"wind turbine capacity grew last year",
		"solar plant output rose in march",
		"pasta should cook for nine minutes",
	)

	query := "solar plant output rose in march"
	ans, err := tr.pipe.Ask(context.Background(), query)
	require.NoError(t, err)
	assert.Equal(t, "canned answer", ans.Answer)
	assert.Equal(t, query, ans.Query)
	require.NotEmpty(t, ans.Chunks)
	assert.Equal(t, "solar plant output rose in march", ans.Chunks[0].Chunk.ChunkText)

	require.Equal(t, 1, tr.gen.CallCount())
	prompt := tr.gen.Calls()[0].Prompt
	assert.True(t, strings.HasPrefix(prompt, promptInstruction))
	assert.True(t, strings.HasSuffix(prompt, "Question: "+query))
	assert.Contains(t, prompt, contextSeparator)
	for _, sc := range ans.Chunks {
		assert.Contains(t, prompt, sc.Chunk.ChunkText)
	}
	// Passages appear in reranked order.
	first := strings.Index(prompt, ans.Chunks[0].Chunk.ChunkText)
	last := strings.Index(prompt, ans.Chunks[len(ans.Chunks)-1].Chunk.ChunkText)
	assert.Less(t, first, last)
}

func TestAsk_NoCandidatesSkipsGenerator(t *testing.T) {
	tr := newTestRetrieval(t, nil, nil)

	ans, err := tr.pipe.Ask(context.Background(), "is there anything indexed?")
	require.NoError(t, err)
	assert.Equal(t, tr.cfg.Retrieval.NoAnswerText, ans.Answer)
	assert.NotNil(t, ans.Chunks)
	assert.Empty(t, ans.Chunks)
	assert.Zero(t, tr.gen.CallCount())
}

func TestAsk_RerankFailureSurfaces(t *testing.T) {
	reranker := &model.MockReranker{Err: errors.New("reranker offline")}
	tr := newTestRetrieval(t, reranker, nil)
	tr.seedCorpus(t, "solar plant output")

	_, err := tr.pipe.Ask(context.Background(), "solar plant output")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Contains(t, err.Error(), "rerank")
	assert.Zero(t, tr.gen.CallCount())
}

func TestAsk_GeneratorFailureSurfaces(t *testing.T) {
	gen := &model.MockGenerator{Err: errors.New("generator offline")}
	tr := newTestRetrieval(t, nil, gen)
	tr.seedCorpus(t, "solar plant output")

	_, err := tr.pipe.Ask(context.Background(), "solar plant output")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetrieval)
	assert.Contains(t, err.Error(), "generate")
}

// lateGenerator cancels the caller's context before returning, as a
// client that disconnected while the model was busy.
type lateGenerator struct {
	cancel context.CancelFunc
	called bool
}

func (g *lateGenerator) Generate(ctx context.Context, prompt string, opts model.GenerateOptions) (string, error) {
	g.called = true
	g.cancel()
	return "late answer", nil
}

func TestAsk_CancelledCallerDiscardsAnswer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen := &lateGenerator{cancel: cancel}
	tr := newTestRetrieval(t, nil, gen)
	tr.seedCorpus(t, "solar plant output")

	ans, err := tr.pipe.Ask(ctx, "solar plant output")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, ans)
	assert.True(t, gen.called, "generation itself must have run to completion")
}

func TestBuildPrompt_FixedTemplate(t *testing.T) {
	got := BuildPrompt([]string{"first passage", "second passage"}, "what happened?")
	want := promptInstruction +
		"\n\nContext:\nfirst passage\n\n---\n\nsecond passage\n\nQuestion: what happened?"
	assert.Equal(t, want, got)
}
