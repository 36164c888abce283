package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func record(id, doc, owner string, idx int, vec ...float32) domain.VectorRecord {
	return domain.VectorRecord{
		ID:      id,
		Vector:  vec,
		Payload: domain.VectorPayload{DocumentID: doc, OwnerID: owner, ChunkIndex: idx, Text: id},
	}
}

func newStore(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage()
	require.NoError(t, s.EnsureCollection(context.Background(), domain.CollectionName, 2, domain.DistanceCosine))
	return s
}

func TestEnsureCollection(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	require.NoError(t, s.EnsureCollection(ctx, "c", 2, domain.DistanceCosine))
	require.NoError(t, s.EnsureCollection(ctx, "c", 2, domain.DistanceCosine))
	assert.Error(t, s.EnsureCollection(ctx, "c", 3, domain.DistanceCosine))
	assert.Error(t, s.EnsureCollection(ctx, "d", 0, domain.DistanceCosine))
}

func TestSearchRejectsDimensionMismatch(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, record("a", "d", "u", 0, 1, 0)))

	_, err := s.Search(ctx, []float32{1, 0, 0}, 1, nil)
	var vse *domain.VectorStoreError
	require.ErrorAs(t, err, &vse)
	assert.Equal(t, "search", vse.Op)
}

func TestSearchOrdersByScore(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, record("far", "d", "u", 0, 0, 1)))
	require.NoError(t, s.Upsert(ctx, record("near", "d", "u", 1, 1, 0.1)))
	require.NoError(t, s.Upsert(ctx, record("mid", "d", "u", 2, 1, 1)))

	hits, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].ID)
	assert.Equal(t, "mid", hits[1].ID)
	assert.GreaterOrEqual(t, hits[0].Score, hits[1].Score)
}

func TestSearchFilter(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, record("a1", "d1", "alice", 0, 1, 0)))
	require.NoError(t, s.Upsert(ctx, record("b1", "d2", "bob", 0, 1, 0)))

	hits, err := s.Search(ctx, []float32{1, 0}, 10, map[string]string{domain.PayloadOwnerKey: "alice"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a1", hits[0].ID)

	hits, err = s.Search(ctx, []float32{1, 0}, 10, map[string]string{"unknown": "x"})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestTiesPreferRecentInsertion(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, record("first", "d", "u", 0, 1, 0)))
	require.NoError(t, s.Upsert(ctx, record("second", "d", "u", 1, 1, 0)))

	hits, err := s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, []string{hits[0].ID, hits[1].ID})

	// Replacing keeps the original slot.
	require.NoError(t, s.Upsert(ctx, record("first", "d", "u", 0, 2, 0)))
	hits, err = s.Search(ctx, []float32{1, 0}, 2, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "first"}, []string{hits[0].ID, hits[1].ID})
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	r := record("c1", "d", "u", 0, 1, 0)
	require.NoError(t, s.Upsert(ctx, r))
	require.NoError(t, s.Upsert(ctx, r))
	assert.Equal(t, 1, s.Len())

	hits, err := s.Search(ctx, []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUpsertRejectsWrongDimension(t *testing.T) {
	s := newStore(t)
	err := s.Upsert(context.Background(), record("c", "d", "u", 0, 1, 2, 3))
	var vse *domain.VectorStoreError
	assert.ErrorAs(t, err, &vse)
}

func TestDeleteByDocument(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, record("a", "d1", "u", 0, 1, 0)))
	require.NoError(t, s.Upsert(ctx, record("b", "d1", "u", 1, 0, 1)))
	require.NoError(t, s.Upsert(ctx, record("c", "d2", "u", 0, 1, 1)))

	require.NoError(t, s.DeleteByDocument(ctx, "d1"))
	assert.Equal(t, 1, s.Len())
	hits, _ := s.Search(ctx, []float32{1, 0}, 5, nil)
	require.Len(t, hits, 1)
	assert.Equal(t, "c", hits[0].ID)
}

func TestSearchEmpty(t *testing.T) {
	hits, err := newStore(t).Search(context.Background(), []float32{1, 0}, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}
