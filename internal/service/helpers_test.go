package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"docqa/internal/domain"
)

// fakeStore is an in-memory domain.DocumentStore with failure hooks.
type fakeStore struct {
	mu        sync.Mutex
	docs      map[string]domain.Document
	chunks    map[string]domain.DocumentChunk
	failChunk map[int]error
	failLink  error
	failDel   error
	failDoc   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		docs:      map[string]domain.Document{},
		chunks:    map[string]domain.DocumentChunk{},
		failChunk: map[int]error{},
	}
}

func (f *fakeStore) CreateDocument(_ context.Context, doc *domain.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if doc.ID == "" {
		doc.ID = fmt.Sprintf("doc-%d", len(f.docs)+1)
	}
	f.docs[doc.ID] = *doc
	return nil
}

func (f *fakeStore) GetDocument(_ context.Context, id string) (*domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &d, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, owner string) ([]domain.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Document
	for _, d := range f.docs {
		if d.OwnerID == owner {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, id, owner string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDoc != nil {
		return f.failDoc
	}
	d, ok := f.docs[id]
	if !ok || d.OwnerID != owner {
		return domain.ErrNotFound
	}
	delete(f.docs, id)
	for cid, c := range f.chunks {
		if c.DocumentID == id {
			delete(f.chunks, cid)
		}
	}
	return nil
}

func (f *fakeStore) CreateChunk(_ context.Context, c *domain.DocumentChunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.failChunk[c.ChunkIndex]; ok {
		return &domain.ChunkPersistError{Index: c.ChunkIndex, Err: err}
	}
	if c.ID == "" {
		c.ID = fmt.Sprintf("%s-chunk-%d", c.DocumentID, c.ChunkIndex)
	}
	f.chunks[c.ID] = *c
	return nil
}

func (f *fakeStore) UpdateChunkVectorID(_ context.Context, chunkID, vectorID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLink != nil {
		return f.failLink
	}
	c, ok := f.chunks[chunkID]
	if !ok {
		return domain.ErrNotFound
	}
	c.VectorStoreID = &vectorID
	f.chunks[chunkID] = c
	return nil
}

func (f *fakeStore) DeleteChunk(_ context.Context, chunkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failDel != nil {
		return f.failDel
	}
	delete(f.chunks, chunkID)
	return nil
}

func (f *fakeStore) ListChunks(_ context.Context, docID string) ([]domain.DocumentChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.DocumentChunk
	for _, c := range f.chunks {
		if c.DocumentID == docID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

// failingEmbedder delegates to inner except for texts listed in fail.
type failingEmbedder struct {
	inner domain.Embedder
	fail  map[string]error
}

func (e *failingEmbedder) Name() string   { return "failing" }
func (e *failingEmbedder) Dimension() int { return e.inner.Dimension() }
func (e *failingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err, ok := e.fail[text]; ok {
		return nil, err
	}
	return e.inner.Embed(ctx, text)
}

// failingIndex wraps a VectorIndex and fails the listed operations.
type failingIndex struct {
	domain.VectorIndex
	upsertErr error
	searchErr error
}

func (f *failingIndex) Upsert(ctx context.Context, r domain.VectorRecord) error {
	if f.upsertErr != nil {
		return f.upsertErr
	}
	return f.VectorIndex.Upsert(ctx, r)
}

func (f *failingIndex) Search(ctx context.Context, v []float32, k int, filter map[string]string) ([]domain.SearchHit, error) {
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.VectorIndex.Search(ctx, v, k, filter)
}

// recordingSynth returns a fixed answer and remembers its input.
type recordingSynth struct {
	answer   string
	query    string
	passages string
	calls    int
}

func (r *recordingSynth) Answer(_ context.Context, query, passages string) string {
	r.calls++
	r.query = query
	r.passages = passages
	return r.answer
}

var errBoom = errors.New("boom")
