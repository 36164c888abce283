package service

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docqa/internal/domain"
	"docqa/internal/metrics"
	"docqa/internal/observability"
)

// Retriever finds the chunks of one owner most similar to a query.
type Retriever struct {
	embedder domain.Embedder
	index    domain.VectorIndex
	minScore *float32
	logger   observability.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

// NewRetriever creates a retriever. A nil minScore keeps every hit.
func NewRetriever(emb domain.Embedder, idx domain.VectorIndex, minScore *float32, logger observability.Logger, m *metrics.Metrics) *Retriever {
	if logger == nil {
		logger = observability.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Retriever{
		embedder: emb,
		index:    idx,
		minScore: minScore,
		logger:   logger.WithPrefix("retrieve"),
		metrics:  m,
		tracer:   observability.Tracer("docqa/service"),
	}
}

// Search returns at most topK chunks of scope.OwnerID, best first. An
// empty result is not an error.
func (r *Retriever) Search(ctx context.Context, query string, topK int, scope domain.Scope) ([]domain.QueryResult, error) {
	if scope.OwnerID == "" {
		return nil, domain.ErrUnscopedSearch
	}
	if strings.TrimSpace(query) == "" {
		return nil, domain.ErrEmptyInput
	}
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	ctx, span := r.tracer.Start(ctx, "search", trace.WithAttributes(attribute.Int("top_k", topK)))
	defer span.End()

	r.metrics.SearchRequests.Inc()
	start := time.Now()
	defer func() { r.metrics.SearchDuration.Observe(time.Since(start).Seconds()) }()

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.metrics.SearchErrors.Inc()
		span.SetStatus(codes.Error, "embed failed")
		return nil, asEmbeddingError(err)
	}

	hits, err := r.index.Search(ctx, vec, topK, map[string]string{domain.PayloadOwnerKey: scope.OwnerID})
	if err != nil {
		r.metrics.SearchErrors.Inc()
		span.SetStatus(codes.Error, "index search failed")
		return nil, asVectorStoreError("search", err)
	}

	results := make([]domain.QueryResult, 0, len(hits))
	for _, h := range hits {
		if r.minScore != nil && h.Score < *r.minScore {
			continue
		}
		results = append(results, domain.QueryResult{
			ChunkID:    h.ID,
			DocumentID: h.Payload.DocumentID,
			ChunkIndex: h.Payload.ChunkIndex,
			Text:       h.Payload.Text,
			Score:      h.Score,
		})
	}
	r.metrics.SearchResultCount.Observe(float64(len(results)))
	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}
