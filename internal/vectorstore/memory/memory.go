package memory

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"docqa/internal/domain"
)

type entry struct {
	record domain.VectorRecord
	seq    uint64
}

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// Equal scores rank the more recently inserted record first; replacing a
// record keeps its original insertion slot.
type Storage struct {
	mu          sync.RWMutex
	collections map[string]int
	dimension   int
	entries     map[string]*entry
	next        uint64
}

func NewStorage() *Storage {
	return &Storage{
		collections: make(map[string]int),
		entries:     make(map[string]*entry),
	}
}

func (s *Storage) EnsureCollection(_ context.Context, name string, dimension int, _ string) error {
	if dimension <= 0 {
		return &domain.VectorStoreError{Op: "ensure collection", Err: errors.New("invalid dimension")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.collections[name]; ok {
		if existing != dimension {
			return &domain.VectorStoreError{Op: "ensure collection", Err: fmt.Errorf("collection %s has dimension %d, want %d", name, existing, dimension)}
		}
		return nil
	}
	s.collections[name] = dimension
	s.dimension = dimension
	return nil
}

func (s *Storage) Upsert(_ context.Context, record domain.VectorRecord) error {
	if record.ID == "" {
		return &domain.VectorStoreError{Op: "upsert", Err: errors.New("empty point id")}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension != 0 && len(record.Vector) != s.dimension {
		return &domain.VectorStoreError{Op: "upsert", Err: errors.New("vector dimension mismatch")}
	}
	vec := make([]float32, len(record.Vector))
	copy(vec, record.Vector)
	record.Vector = vec

	if e, ok := s.entries[record.ID]; ok {
		e.record = record
		return nil
	}
	s.next++
	s.entries[record.ID] = &entry{record: record, seq: s.next}
	return nil
}

func (s *Storage) Search(_ context.Context, vector []float32, topK int, filter map[string]string) ([]domain.SearchHit, error) {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension != 0 && len(vector) != s.dimension {
		return nil, &domain.VectorStoreError{Op: "search", Err: errors.New("vector dimension mismatch")}
	}

	type scored struct {
		e     *entry
		score float32
	}
	candidates := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		if !matches(e.record.Payload, filter) {
			continue
		}
		candidates = append(candidates, scored{e: e, score: cosine(e.record.Vector, vector)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].e.seq > candidates[j].e.seq
	})
	if topK > len(candidates) {
		topK = len(candidates)
	}
	hits := make([]domain.SearchHit, 0, topK)
	for _, c := range candidates[:topK] {
		hits = append(hits, domain.SearchHit{ID: c.e.record.ID, Payload: c.e.record.Payload, Score: c.score})
	}
	return hits, nil
}

func (s *Storage) DeleteByDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, e := range s.entries {
		if e.record.Payload.DocumentID == documentID {
			delete(s.entries, id)
		}
	}
	return nil
}

func (s *Storage) Health(context.Context) error { return nil }

// Len reports the number of stored points.
func (s *Storage) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func matches(p domain.VectorPayload, filter map[string]string) bool {
	for k, v := range filter {
		var got string
		switch k {
		case domain.PayloadOwnerKey:
			got = p.OwnerID
		case domain.PayloadDocKey:
			got = p.DocumentID
		case domain.PayloadTextKey:
			got = p.Text
		case domain.PayloadIndexKey:
			got = fmt.Sprint(p.ChunkIndex)
		default:
			return false
		}
		if got != v {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

var _ domain.VectorIndex = (*Storage)(nil)
