package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"docqa/internal/domain"
	"docqa/internal/metrics"
	"docqa/internal/observability"
)

// IngestResult reports the chunks committed for one document.
type IngestResult struct {
	DocumentID string
	Chunks     int
	ChunkIDs   []string
}

// IngestError reports the chunk at which ingestion stopped. Chunks before
// Index stay committed. Inconsistent is set when the failed chunk could not
// be cleaned up.
type IngestError struct {
	Index        int
	Committed    int
	Inconsistent bool
	Err          error
}

func (e *IngestError) Error() string {
	msg := fmt.Sprintf("ingest chunk %d (%d committed): %v", e.Index, e.Committed, e.Err)
	if e.Inconsistent {
		msg += " (rollback failed)"
	}
	return msg
}

func (e *IngestError) Unwrap() error { return e.Err }

// Ingestor splits a document, embeds each chunk and records it in both the
// document store and the vector index.
type Ingestor struct {
	chunker  domain.Chunker
	embedder domain.Embedder
	index    domain.VectorIndex
	store    domain.DocumentStore
	logger   observability.Logger
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewIngestor(ch domain.Chunker, emb domain.Embedder, idx domain.VectorIndex, store domain.DocumentStore, logger observability.Logger, m *metrics.Metrics) *Ingestor {
	if logger == nil {
		logger = observability.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Ingestor{
		chunker:  ch,
		embedder: emb,
		index:    idx,
		store:    store,
		logger:   logger.WithPrefix("ingest"),
		metrics:  m,
		tracer:   observability.Tracer("docqa/service"),
	}
}

// Ingest processes the chunks of doc one at a time, in index order. For
// each chunk the row is written, the text embedded, the vector upserted
// and the row linked to its vector. The first failure stops ingestion and
// is returned as *IngestError.
func (i *Ingestor) Ingest(ctx context.Context, doc domain.Document, fullText string) (IngestResult, error) {
	ctx, span := i.tracer.Start(ctx, "ingest", trace.WithAttributes(attribute.String("document.id", doc.ID)))
	defer span.End()
	start := time.Now()
	defer func() { i.metrics.IngestionDuration.Observe(time.Since(start).Seconds()) }()

	result := IngestResult{DocumentID: doc.ID}
	if strings.TrimSpace(fullText) == "" {
		i.logger.Debug("Nothing to ingest", map[string]interface{}{
			"document_id": doc.ID,
			"reason":      domain.ErrEmptyInput.Error(),
		})
		return result, nil
	}

	texts := i.chunker.Split(fullText)
	span.SetAttributes(attribute.Int("chunks.total", len(texts)))
	for idx, text := range texts {
		chunkID, err := i.ingestChunk(ctx, doc, idx, text)
		if err != nil {
			err.Committed = result.Chunks
			span.RecordError(err)
			span.SetStatus(codes.Error, "chunk failed")
			i.logger.Error("Ingestion failed", map[string]interface{}{
				"document_id":  doc.ID,
				"chunk_index":  idx,
				"committed":    result.Chunks,
				"inconsistent": err.Inconsistent,
				"error":        err.Err.Error(),
			})
			return result, err
		}
		result.Chunks++
		result.ChunkIDs = append(result.ChunkIDs, chunkID)
		i.metrics.ChunksCreated.Inc()
	}

	i.logger.Info("Document ingested", map[string]interface{}{
		"document_id": doc.ID,
		"chunks":      result.Chunks,
		"chunker":     i.chunker.Name(),
		"embedder":    i.embedder.Name(),
	})
	return result, nil
}

func (i *Ingestor) ingestChunk(ctx context.Context, doc domain.Document, idx int, text string) (string, *IngestError) {
	chunk := &domain.DocumentChunk{DocumentID: doc.ID, Text: text, ChunkIndex: idx}
	if err := i.store.CreateChunk(ctx, chunk); err != nil {
		i.metrics.IngestionErrors.WithLabelValues("persist").Inc()
		return "", &IngestError{Index: idx, Err: asChunkPersistError(idx, err)}
	}

	embedStart := time.Now()
	vec, err := i.embedder.Embed(ctx, text)
	i.metrics.EmbeddingDuration.Observe(time.Since(embedStart).Seconds())
	if err != nil {
		i.metrics.IngestionErrors.WithLabelValues("embed").Inc()
		return "", i.rollback(ctx, chunk, false, asEmbeddingError(err))
	}

	record := domain.VectorRecord{
		ID:     chunk.ID,
		Vector: vec,
		Payload: domain.VectorPayload{
			DocumentID: doc.ID,
			OwnerID:    doc.OwnerID,
			ChunkIndex: idx,
			Text:       text,
		},
	}
	if err := i.index.Upsert(ctx, record); err != nil {
		i.metrics.IngestionErrors.WithLabelValues("upsert").Inc()
		return "", i.rollback(ctx, chunk, false, asVectorStoreError("upsert", err))
	}

	if err := i.store.UpdateChunkVectorID(ctx, chunk.ID, record.ID); err != nil {
		i.metrics.IngestionErrors.WithLabelValues("link").Inc()
		// The point is already indexed and has no row left to point at.
		return "", i.rollback(ctx, chunk, true, asChunkPersistError(idx, err))
	}
	return chunk.ID, nil
}

// Restore re-embeds stored chunks and writes them back to the index under
// their recorded vector ids. It returns the number of points written
// before the first failure.
func (i *Ingestor) Restore(ctx context.Context, chunks []domain.IndexedChunk) (int, error) {
	ctx, span := i.tracer.Start(ctx, "restore", trace.WithAttributes(attribute.Int("chunks.total", len(chunks))))
	defer span.End()

	restored := 0
	for _, c := range chunks {
		if c.VectorStoreID == nil {
			continue
		}
		vec, err := i.embedder.Embed(ctx, c.Text)
		if err != nil {
			span.RecordError(err)
			return restored, asEmbeddingError(err)
		}
		record := domain.VectorRecord{
			ID:     *c.VectorStoreID,
			Vector: vec,
			Payload: domain.VectorPayload{
				DocumentID: c.DocumentID,
				OwnerID:    c.OwnerID,
				ChunkIndex: c.ChunkIndex,
				Text:       c.Text,
			},
		}
		if err := i.index.Upsert(ctx, record); err != nil {
			span.RecordError(err)
			return restored, asVectorStoreError("upsert", err)
		}
		restored++
	}
	return restored, nil
}

// rollback deletes the row of a failed chunk.
func (i *Ingestor) rollback(ctx context.Context, chunk *domain.DocumentChunk, orphanedPoint bool, cause error) *IngestError {
	ie := &IngestError{Index: chunk.ChunkIndex, Inconsistent: orphanedPoint, Err: cause}
	// The caller's context may be the reason for the failure.
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := i.store.DeleteChunk(rbCtx, chunk.ID); err != nil {
		ie.Inconsistent = true
		i.logger.Warn("Chunk rollback failed", map[string]interface{}{
			"chunk_id": chunk.ID,
			"error":    err.Error(),
		})
	}
	return ie
}

func asChunkPersistError(idx int, err error) error {
	var cpe *domain.ChunkPersistError
	if errors.As(err, &cpe) || domain.IsTimeout(err) {
		return err
	}
	return &domain.ChunkPersistError{Index: idx, Err: err}
}

func asEmbeddingError(err error) error {
	var ee *domain.EmbeddingError
	if errors.As(err, &ee) || domain.IsTimeout(err) {
		return err
	}
	return &domain.EmbeddingError{Err: err}
}

func asVectorStoreError(op string, err error) error {
	var vse *domain.VectorStoreError
	if errors.As(err, &vse) || domain.IsTimeout(err) {
		return err
	}
	return &domain.VectorStoreError{Op: op, Err: err}
}
