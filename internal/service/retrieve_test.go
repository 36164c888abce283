package service

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding/hashing"
	"docqa/internal/metrics"
)

func seed(t *testing.T, idx domain.VectorIndex, owner, docID string, texts ...string) {
	t.Helper()
	ing := NewIngestor(chunker.NewWordChunker(100), hashing.NewEmbedder(0), idx, newFakeStore(), nil, nil)
	for _, text := range texts {
		_, err := ing.Ingest(context.Background(), domain.Document{ID: docID, OwnerID: owner}, text)
		require.NoError(t, err)
		docID += "x"
	}
}

func TestSearchIsScopedToOwner(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx, "alice", "a", "golang channels and goroutines")
	seed(t, idx, "bob", "b", "golang channels and goroutines")

	r := NewRetriever(hashing.NewEmbedder(0), idx, nil, nil, nil)
	res, err := r.Search(context.Background(), "goroutines", 10, domain.Scope{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a", res[0].DocumentID)

	res, err = r.Search(context.Background(), "goroutines", 10, domain.Scope{OwnerID: "carol"})
	require.NoError(t, err)
	assert.Empty(t, res)
	assert.NotNil(t, res)
}

func TestSearchRequiresOwner(t *testing.T) {
	r := NewRetriever(hashing.NewEmbedder(0), newTestIndex(t), nil, nil, nil)
	_, err := r.Search(context.Background(), "anything", 5, domain.Scope{})
	assert.ErrorIs(t, err, domain.ErrUnscopedSearch)
}

func TestSearchRejectsBlankQuery(t *testing.T) {
	r := NewRetriever(hashing.NewEmbedder(0), newTestIndex(t), nil, nil, nil)
	_, err := r.Search(context.Background(), "  ", 5, domain.Scope{OwnerID: "alice"})
	assert.ErrorIs(t, err, domain.ErrEmptyInput)
}

func TestSearchOrdersByScoreAndHonoursTopK(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx, "alice", "d",
		"postgres replication lag",
		"postgres vacuum tuning guide",
		"baking sourdough bread at home",
	)

	r := NewRetriever(hashing.NewEmbedder(0), idx, nil, nil, nil)
	res, err := r.Search(context.Background(), "postgres vacuum tuning guide", 2, domain.Scope{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "postgres vacuum tuning guide", res[0].Text)
	assert.InDelta(t, 1.0, res[0].Score, 1e-4)
	assert.GreaterOrEqual(t, res[0].Score, res[1].Score)
}

func TestSearchDefaultTopK(t *testing.T) {
	idx := newTestIndex(t)
	texts := make([]string, 8)
	for i := range texts {
		texts[i] = "shared words here " + string(rune('a'+i))
	}
	seed(t, idx, "alice", "d", texts...)

	r := NewRetriever(hashing.NewEmbedder(0), idx, nil, nil, nil)
	res, err := r.Search(context.Background(), "shared words", 0, domain.Scope{OwnerID: "alice"})
	require.NoError(t, err)
	assert.Len(t, res, domain.DefaultTopK)
}

func TestSearchMinScore(t *testing.T) {
	idx := newTestIndex(t)
	seed(t, idx, "alice", "d", "kubernetes pod scheduling", "kubernetes pod")

	floor := float32(0.99)
	r := NewRetriever(hashing.NewEmbedder(0), idx, &floor, nil, nil)
	res, err := r.Search(context.Background(), "kubernetes pod scheduling", 5, domain.Scope{OwnerID: "alice"})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "kubernetes pod scheduling", res[0].Text)
}

func TestSearchFailuresAreTyped(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	idx := &failingIndex{VectorIndex: newTestIndex(t), searchErr: errBoom}
	r := NewRetriever(hashing.NewEmbedder(0), idx, nil, nil, m)
	_, err := r.Search(context.Background(), "q", 5, domain.Scope{OwnerID: "alice"})
	var vse *domain.VectorStoreError
	require.ErrorAs(t, err, &vse)
	assert.Equal(t, "search", vse.Op)

	emb := &failingEmbedder{inner: hashing.NewEmbedder(0), fail: map[string]error{"q": errBoom}}
	r = NewRetriever(emb, newTestIndex(t), nil, nil, m)
	_, err = r.Search(context.Background(), "q", 5, domain.Scope{OwnerID: "alice"})
	var ee *domain.EmbeddingError
	require.ErrorAs(t, err, &ee)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchRequests))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SearchErrors))
}
