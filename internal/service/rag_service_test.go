package service

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/blobstore/local"
	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/metrics"
	"docqa/internal/repository"
)

type fixture struct {
	svc   *RAGService
	store domain.DocumentStore
	index domain.VectorIndex
	synth *recordingSynth
	dir   string
	m     *metrics.Metrics
}

func newFixture(t *testing.T, store domain.DocumentStore, idx domain.VectorIndex) *fixture {
	t.Helper()
	if store == nil {
		store = newFakeStore()
	}
	if idx == nil {
		idx = newTestIndex(t)
	}
	dir := t.TempDir()
	blobs, err := local.New(dir)
	require.NoError(t, err)

	m := metrics.New(prometheus.NewRegistry())
	emb := hashing.NewEmbedder(0)
	synth := &recordingSynth{answer: "synthesized"}
	svc := NewRAGService(Deps{
		Store:     store,
		Index:     idx,
		Blobs:     blobs,
		Ingestor:  NewIngestor(chunker.NewWordChunker(4), emb, idx, store, nil, m),
		Retriever: NewRetriever(emb, idx, nil, nil, m),
		Synth:     synth,
		Metrics:   m,
	})
	return &fixture{svc: svc, store: store, index: idx, synth: synth, dir: dir, m: m}
}

func sqliteStore(t *testing.T) *repository.DocumentRepository {
	t.Helper()
	db, err := repository.Open(context.Background(), repository.DriverSQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	repo := repository.NewDocumentRepository(db)
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func TestUploadValidation(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.svc.Upload(ctx, UploadRequest{Title: "x"})
	assert.ErrorIs(t, err, ErrMissingOwner)

	_, err = f.svc.Upload(ctx, UploadRequest{OwnerID: "alice", Title: "  "})
	assert.ErrorIs(t, err, ErrEmptyUpload)
}

func TestUploadDefaultsTitle(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Upload(context.Background(), UploadRequest{OwnerID: "alice", Source: "https://example.com/a"})
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, res.Document.Title)
	require.NotNil(t, res.Document.Source)
	assert.Equal(t, "https://example.com/a", *res.Document.Source)
	assert.Equal(t, 0, res.Chunks)
	assert.Nil(t, res.Document.FileRef)
}

func TestUploadFileWithSQLite(t *testing.T) {
	store := sqliteStore(t)
	f := newFixture(t, store, nil)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, UploadRequest{
		OwnerID:  "alice",
		Title:    "notes",
		FileName: "notes.txt",
		Data:     []byte("one two three four five six seven eight nine"),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	require.NotNil(t, res.Document.FileRef)
	assert.FileExists(t, *res.Document.FileRef)

	chunks, err := store.ListChunks(ctx, res.Document.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	assert.Equal(t, "nine", chunks[2].Text)
	for _, c := range chunks {
		require.NotNil(t, c.VectorStoreID)
		assert.Equal(t, c.ID, *c.VectorStoreID)
	}

	docs, err := f.svc.Documents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "notes", docs[0].Title)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.DocumentsUploaded))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.m.ChunksCreated))
}

func TestUploadPartialFailureKeepsDocument(t *testing.T) {
	store := newFakeStore()
	store.failChunk[1] = errBoom
	f := newFixture(t, store, nil)

	res, err := f.svc.Upload(context.Background(), UploadRequest{
		OwnerID:  "alice",
		FileName: "a.txt",
		Data:     []byte("w1 w2 w3 w4 w5 w6"),
	})
	var ie *IngestError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, 1, res.Chunks)
	assert.Equal(t, DefaultTitle, res.Document.Title)

	_, err = store.GetDocument(context.Background(), res.Document.ID)
	assert.NoError(t, err)
}

func TestAskEmptyQuery(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.svc.Ask(context.Background(), "alice", "   ")
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
	assert.Equal(t, 0, f.synth.calls)
}

func TestAskWithoutDocuments(t *testing.T) {
	f := newFixture(t, nil, nil)
	res, err := f.svc.Ask(context.Background(), "alice", "what is raft?")
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsMessage("what is raft?"), res.Answer)
	assert.Equal(t, "No relevant documents found for 'what is raft?'. Try uploading some documents first.", res.Answer)
	assert.Empty(t, res.Sources)
	assert.Equal(t, 0, f.synth.calls)
}

func TestAskRetrievalFailureDegrades(t *testing.T) {
	idx := &failingIndex{VectorIndex: newTestIndex(t), searchErr: errBoom}
	f := newFixture(t, nil, idx)
	res, err := f.svc.Ask(context.Background(), "alice", "anything")
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsMessage("anything"), res.Answer)
	assert.Equal(t, 0, f.synth.calls)
}

func TestAskJoinsPassages(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, UploadRequest{OwnerID: "alice", FileName: "r.txt", Data: []byte("raft elects a leader. logs replicate")})
	require.NoError(t, err)
	_, err = f.svc.Upload(ctx, UploadRequest{OwnerID: "bob", FileName: "b.txt", Data: []byte("raft secrets of bob")})
	require.NoError(t, err)

	res, err := f.svc.Ask(ctx, "alice", " raft leader ")
	require.NoError(t, err)
	assert.Equal(t, "synthesized", res.Answer)
	require.Len(t, res.Sources, 2)
	assert.Equal(t, "raft leader", f.synth.query)
	assert.Equal(t, res.Sources[0].Text+"\n"+res.Sources[1].Text, f.synth.passages)
	assert.NotContains(t, f.synth.passages, "bob")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.AnswersGenerated))
}

func TestAskCountsErrorAnswers(t *testing.T) {
	f := newFixture(t, nil, nil)
	f.synth.answer = domain.AnswerErrorPrefix + "quota exceeded"
	ctx := context.Background()
	_, err := f.svc.Upload(ctx, UploadRequest{OwnerID: "alice", FileName: "r.txt", Data: []byte("some text")})
	require.NoError(t, err)

	res, err := f.svc.Ask(ctx, "alice", "text")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Answer, domain.AnswerErrorPrefix))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.m.AnswerErrors))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.m.AnswersGenerated))
}

func TestChatMessages(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	out, err := f.svc.Chat(ctx, ChatRequest{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "Please provide a message or upload a file.", out)

	out, err = f.svc.Chat(ctx, ChatRequest{OwnerID: "alice", Files: []ChatFile{
		{Name: "a.txt", Data: []byte("alpha beta")},
		{Name: "broken.pdf", Data: []byte("not a pdf")},
	}})
	require.NoError(t, err)
	assert.Equal(t, "Error processing broken.pdf: The file may be password-protected or corrupted. Please try a different PDF. Uploaded and processed 1 document(s). ", out)

	out, err = f.svc.Chat(ctx, ChatRequest{OwnerID: "alice", Message: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, "synthesized", out)

	docs, err := f.svc.Documents(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.txt", docs[0].Title)
}

func TestChatFileThenQuestion(t *testing.T) {
	f := newFixture(t, nil, nil)
	out, err := f.svc.Chat(context.Background(), ChatRequest{
		OwnerID: "alice",
		Message: "gamma",
		Files:   []ChatFile{{Name: "g.md", Data: []byte("gamma delta")}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Uploaded and processed 1 document(s). synthesized", out)
}

func TestDeleteDocument(t *testing.T) {
	store := sqliteStore(t)
	f := newFixture(t, store, nil)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, UploadRequest{OwnerID: "alice", FileName: "d.txt", Data: []byte("delete me please now")})
	require.NoError(t, err)
	ref := *res.Document.FileRef

	err = f.svc.DeleteDocument(ctx, "bob", res.Document.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.NoError(t, f.svc.DeleteDocument(ctx, "alice", res.Document.ID))
	_, err = store.GetDocument(ctx, res.Document.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, statErr := os.Stat(ref)
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(filepath.Join(f.dir, res.Document.ID))
	assert.True(t, os.IsNotExist(statErr))

	hits, err := f.svc.Search(ctx, "alice", "delete me", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)

	err = f.svc.DeleteDocument(ctx, "alice", "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeleteDocumentRetryAfterRowFailure(t *testing.T) {
	store := newFakeStore()
	f := newFixture(t, store, nil)
	ctx := context.Background()

	res, err := f.svc.Upload(ctx, UploadRequest{OwnerID: "alice", FileName: "d.txt", Data: []byte("keep trying to delete")})
	require.NoError(t, err)

	store.failDoc = errBoom
	err = f.svc.DeleteDocument(ctx, "alice", res.Document.ID)
	assert.ErrorIs(t, err, errBoom)
	_, err = store.GetDocument(ctx, res.Document.ID)
	require.NoError(t, err)

	store.failDoc = nil
	require.NoError(t, f.svc.DeleteDocument(ctx, "alice", res.Document.ID))
	_, err = store.GetDocument(ctx, res.Document.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	chunks, err := store.ListChunks(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Empty(t, chunks)
	hits, err := f.svc.Search(ctx, "alice", "keep trying", 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil, nil)
	assert.NoError(t, f.svc.Health(context.Background()))
}
