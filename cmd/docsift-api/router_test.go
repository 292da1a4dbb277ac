package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsift/docsift/cmd/docsift-api/handlers"
	"github.com/docsift/docsift/internal/blob"
	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/model"
	"github.com/docsift/docsift/internal/observability"
	"github.com/docsift/docsift/internal/retrieval"
	"github.com/docsift/docsift/internal/storage"
	"github.com/docsift/docsift/internal/vector"
)

type stubPublisher struct {
	err error
	ids []int64
}

func (s *stubPublisher) PublishIngest(ctx context.Context, documentID int64) error {
	if s.err != nil {
		return s.err
	}
	s.ids = append(s.ids, documentID)
	return nil
}

type fixture struct {
	router    http.Handler
	repos     *storage.Repositories
	blobs     blob.Store
	blobDir   string
	index     *vector.MemoryIndex
	emb       *model.MockEmbedder
	cfg       *config.Config
	pub       *stubPublisher
	brokerErr error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(context.Background(), db, "sqlite"))
	repos := storage.NewRepositories(db)

	blobDir := t.TempDir()
	blobs, err := blob.NewLocalStore(blobDir)
	require.NoError(t, err)

	emb := model.NewMockEmbedder(64)
	index := vector.NewMemoryIndex(64)

	cfg := config.DefaultConfig()
	cfg.Retrieval.RecallSize = 10
	cfg.Retrieval.FinalSize = 3

	logger := observability.DefaultLogger()
	hosts := model.NewHosts(cfg, emb, &model.MockReranker{}, &model.MockGenerator{Answer: "generated answer"}, logger)

	f := &fixture{
		repos:   repos,
		blobs:   blobs,
		blobDir: blobDir,
		index:   index,
		emb:     emb,
		cfg:     cfg,
		pub:     &stubPublisher{},
	}
	deps := &Dependencies{
		Repos:     repos,
		Blobs:     blobs,
		Index:     index,
		Retrieval: retrieval.NewPipeline(logger, cfg, repos, index, hosts),
		Publisher: f.pub,
		Checks: map[string]handlers.Check{
			"store":  func(ctx context.Context) error { return db.PingContext(ctx) },
			"broker": func(ctx context.Context) error { return f.brokerErr },
			"vector": func(ctx context.Context) error { _, err := index.Count(ctx); return err },
			"blob":   func(ctx context.Context) error { return blobs.Ping(ctx) },
		},
	}
	f.router = NewRouter(logger, cfg, deps)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) doJSON(t *testing.T, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	return f.do(t, method, path, bytes.NewBuffer(raw), "application/json")
}

func multipartUpload(t *testing.T, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, filename))
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

// seedCorpus stores and indexes chunks for the query routes.
func (f *fixture) seedCorpus(t *testing.T, texts ...string) *storage.Document {
	t.Helper()
	ctx := context.Background()

	doc := &storage.Document{
		OriginalFilename: "corpus.txt",
		ContentType:      "text/plain",
		Size:             1,
		FilePath:         "corpus.txt",
		StorageType:      storage.StorageLocal,
	}
	require.NoError(t, f.repos.Documents.Create(ctx, doc))

	chunks := make([]*storage.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = &storage.Chunk{SourceDocumentID: doc.ID, ChunkText: text, SequenceInDocument: i}
	}
	require.NoError(t, f.repos.Chunks.CreateBatch(ctx, chunks))

	vecs, err := f.emb.Embed(ctx, texts)
	require.NoError(t, err)
	entries := make([]vector.Entry, len(chunks))
	for i, c := range chunks {
		entries[i] = vector.Entry{
			ChunkID:            c.ID,
			Vector:             vecs[i],
			SourceDocumentID:   doc.ID,
			SequenceInDocument: i,
		}
	}
	require.NoError(t, f.index.Upsert(ctx, entries))
	return doc
}

func TestUploadCreatesDocumentAndEnqueues(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartUpload(t, "report.txt", "text/plain", []byte("solar output rose"))

	rec := f.do(t, http.MethodPost, "/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc storage.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "report.txt", doc.OriginalFilename)
	assert.Equal(t, storage.StatusUploaded, doc.Status)
	assert.Equal(t, int64(len("solar output rose")), doc.Size)
	assert.True(t, strings.HasSuffix(doc.FilePath, ".txt"))

	require.Equal(t, []int64{doc.ID}, f.pub.ids)

	stored, err := f.blobs.Fetch(context.Background(), doc.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "solar output rose", string(stored))
}

func TestUploadRecoversTypeFromExtension(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartUpload(t, "report.txt", "application/octet-stream", []byte("solar output rose"))

	rec := f.do(t, http.MethodPost, "/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc storage.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "text/plain", doc.ContentType)
}

func TestUploadKeepsUnknownType(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartUpload(t, "payload.bin", "application/octet-stream", []byte{0x01})

	rec := f.do(t, http.MethodPost, "/documents", body, contentType)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var doc storage.Document
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "application/octet-stream", doc.ContentType)
}

func TestUploadRequiresFileField(t *testing.T) {
	f := newFixture(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("name", "no file here"))
	require.NoError(t, mw.Close())

	rec := f.do(t, http.MethodPost, "/documents", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestUploadRejectsEmptyFile(t *testing.T) {
	f := newFixture(t)
	body, contentType := multipartUpload(t, "empty.txt", "text/plain", nil)

	rec := f.do(t, http.MethodPost, "/documents", body, contentType)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUploadRollsBackWhenEnqueueFails(t *testing.T) {
	f := newFixture(t)
	f.pub.err = errors.New("broker down")
	body, contentType := multipartUpload(t, "report.txt", "text/plain", []byte("some text"))

	rec := f.do(t, http.MethodPost, "/documents", body, contentType)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	docs, err := f.repos.Documents.List(context.Background(), 10, 0, storage.OrderDesc)
	require.NoError(t, err)
	assert.Empty(t, docs)

	entries, err := os.ReadDir(f.blobDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "orphaned blob left behind")
}

func TestListDocumentsPagination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		doc := &storage.Document{
			OriginalFilename: fmt.Sprintf("doc-%d.txt", i),
			ContentType:      "text/plain",
			Size:             1,
			FilePath:         fmt.Sprintf("doc-%d.txt", i),
			StorageType:      storage.StorageLocal,
		}
		require.NoError(t, f.repos.Documents.Create(ctx, doc))
	}

	rec := f.do(t, http.MethodGet, "/documents?limit=2", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.ListDocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 2)
	assert.Equal(t, 2, resp.Limit)
	assert.Equal(t, "doc-2.txt", resp.Documents[0].OriginalFilename, "newest first by default")

	rec = f.do(t, http.MethodGet, "/documents?limit=2&offset=2&order=created_at_asc", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Documents, 1)
	assert.Equal(t, "doc-2.txt", resp.Documents[0].OriginalFilename)
}

func TestListDocumentsValidation(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/documents?order=size_desc", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/documents?limit=abc", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/documents?offset=-1", nil, "").Code)

	// Out-of-range limits clamp instead of failing.
	rec := f.do(t, http.MethodGet, "/documents?limit=1000", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp handlers.ListDocumentsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 100, resp.Limit)
}

func TestGetDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := &storage.Document{
		OriginalFilename: "a.txt", ContentType: "text/plain", Size: 1,
		FilePath: "a.txt", StorageType: storage.StorageLocal,
	}
	require.NoError(t, f.repos.Documents.Create(ctx, doc))

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/documents/%d", doc.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/documents/999", nil, "").Code)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/documents/abc", nil, "").Code)
}

func TestDeleteDocumentPurgesEverything(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := f.seedCorpus(t, "solar plant output", "wind turbine capacity")
	require.NoError(t, f.blobs.Save(ctx, doc.FilePath, []byte("raw"), "text/plain"))

	rec := f.do(t, http.MethodDelete, fmt.Sprintf("/documents/%d", doc.ID), nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	_, err := f.repos.Documents.GetByID(ctx, doc.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	n, err := f.repos.Chunks.CountByDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	indexed, err := f.index.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, indexed)

	_, err = f.blobs.Fetch(ctx, doc.FilePath)
	assert.ErrorIs(t, err, blob.ErrNotFound)
}

func TestDownloadDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	local := &storage.Document{
		OriginalFilename: "report.txt", ContentType: "text/plain", Size: 9,
		FilePath: "stored.txt", StorageType: storage.StorageLocal,
	}
	require.NoError(t, f.repos.Documents.Create(ctx, local))
	require.NoError(t, f.blobs.Save(ctx, "stored.txt", []byte("raw bytes"), "text/plain"))

	rec := f.do(t, http.MethodGet, fmt.Sprintf("/documents/%d/download", local.ID), nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "raw bytes", rec.Body.String())
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "report.txt")

	remote := &storage.Document{
		OriginalFilename: "far.txt", ContentType: "text/plain", Size: 1,
		FilePath: "far.txt", StorageType: storage.StorageS3,
	}
	require.NoError(t, f.repos.Documents.Create(ctx, remote))
	assert.Equal(t, http.StatusBadRequest,
		f.do(t, http.MethodGet, fmt.Sprintf("/documents/%d/download", remote.ID), nil, "").Code)
}

func TestRetrieveChunksRoute(t *testing.T) {
	f := newFixture(t)
	f.seedCorpus(t, "solar plant output", "wind turbine capacity", "pasta cooking time")

	rec := f.doJSON(t, http.MethodPost, "/query/retrieve-chunks",
		handlers.RetrieveChunksRequest{Query: "solar plant output", TopK: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var chunks []handlers.RetrievedChunkDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &chunks))
	require.Len(t, chunks, 2)
	assert.Equal(t, "solar plant output", chunks[0].Text)
	assert.NotZero(t, chunks[0].ID)
	assert.NotZero(t, chunks[0].DocumentID)
	assert.GreaterOrEqual(t, chunks[0].Score, chunks[1].Score)
}

func TestRetrieveChunksValidation(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/query/retrieve-chunks", handlers.RetrieveChunksRequest{Query: "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/query/retrieve-chunks", bytes.NewBufferString("{broken"), "application/json")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAskRoute(t *testing.T) {
	f := newFixture(t)
	f.seedCorpus(t, "solar plant output rose in march", "wind turbine capacity grew")

	rec := f.doJSON(t, http.MethodPost, "/query/ask", handlers.AskRequest{Query: "solar plant output rose in march"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp handlers.AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "generated answer", resp.Answer)
	assert.Equal(t, "solar plant output rose in march", resp.Query)
	require.NotEmpty(t, resp.RetrievedContextTexts)
	assert.Equal(t, "solar plant output rose in march", resp.RetrievedContextTexts[0])
}

func TestAskRouteNoCandidates(t *testing.T) {
	f := newFixture(t)

	rec := f.doJSON(t, http.MethodPost, "/query/ask", handlers.AskRequest{Query: "anything"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.AskResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, f.cfg.Retrieval.NoAnswerText, resp.Answer)
	assert.NotNil(t, resp.RetrievedContextTexts)
	assert.Empty(t, resp.RetrievedContextTexts)
	assert.Contains(t, rec.Body.String(), `"retrieved_context_texts":[]`)
}

func TestHealthRoute(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp handlers.HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	for name, state := range resp.Checks {
		assert.Equal(t, "ok", state, "check %s", name)
	}

	f.brokerErr = errors.New("redis unreachable")
	rec = f.do(t, http.MethodGet, "/health", nil, "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "unhealthy", resp.Status)
	assert.Equal(t, "redis unreachable", resp.Checks["broker"])
	assert.Equal(t, "ok", resp.Checks["store"])
}
