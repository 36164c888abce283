package domain

import (
	"context"
	"time"
)

// Collection defaults for the chunk vector index.
const (
	CollectionName   = "document_chunks"
	VectorDimension  = 384
	DistanceCosine   = "Cosine"
	PayloadOwnerKey  = "owner_id"
	PayloadDocKey    = "document_id"
	PayloadIndexKey  = "chunk_index"
	PayloadTextKey   = "text"
	DefaultTopK      = 5
	DefaultChunkSize = 500
)

// AnswerErrorPrefix starts every answer that reports a synthesis failure.
const AnswerErrorPrefix = "Error generating answer: "

// Document is an uploaded file or URL owned by one user.
type Document struct {
	ID         string    `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	OwnerID    string    `db:"owner_id" json:"owner_id"`
	Source     *string   `db:"source" json:"source,omitempty"`
	UploadedAt time.Time `db:"uploaded_at" json:"uploaded_at"`
	FileRef    *string   `db:"file_ref" json:"file_ref,omitempty"`
}

// DocumentChunk is one contiguous slice of a document's text.
type DocumentChunk struct {
	ID            string  `db:"id" json:"id"`
	DocumentID    string  `db:"document_id" json:"document_id"`
	Text          string  `db:"text" json:"text"`
	ChunkIndex    int     `db:"chunk_index" json:"chunk_index"`
	VectorStoreID *string `db:"vector_store_id" json:"vector_store_id,omitempty"`
}

// IndexedChunk is a chunk linked to a vector, with the owner of its document.
type IndexedChunk struct {
	DocumentChunk
	OwnerID string `db:"owner_id"`
}

// VectorPayload is stored next to each vector in the index.
type VectorPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	ChunkIndex int    `json:"chunk_index"`
	Text       string `json:"text"`
}

// VectorRecord is a point in the vector index. ID equals the chunk id.
type VectorRecord struct {
	ID      string
	Vector  []float32
	Payload VectorPayload
}

// SearchHit is a raw nearest-neighbour hit returned by a VectorIndex.
type SearchHit struct {
	ID      string
	Payload VectorPayload
	Score   float32
}

// QueryResult is a retrieved chunk with its similarity to the query.
type QueryResult struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
	Score      float32 `json:"score"`
}

// Scope restricts retrieval to the documents of one owner.
type Scope struct {
	OwnerID string
}

// Chunker splits raw document text into ordered segments.
type Chunker interface {
	Name() string
	Split(text string) []string
}

// Embedder maps text to a fixed-length vector. Implementations must be
// pure functions of the input text.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorIndex is the external nearest-neighbour store.
type VectorIndex interface {
	EnsureCollection(ctx context.Context, name string, dimension int, distance string) error
	Upsert(ctx context.Context, record VectorRecord) error
	Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]SearchHit, error)
	DeleteByDocument(ctx context.Context, documentID string) error
	Health(ctx context.Context) error
}

// DocumentStore persists documents and their chunks.
type DocumentStore interface {
	CreateDocument(ctx context.Context, doc *Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]Document, error)
	DeleteDocument(ctx context.Context, id, ownerID string) error
	CreateChunk(ctx context.Context, chunk *DocumentChunk) error
	UpdateChunkVectorID(ctx context.Context, chunkID, vectorID string) error
	DeleteChunk(ctx context.Context, chunkID string) error
	ListChunks(ctx context.Context, documentID string) ([]DocumentChunk, error)
}

// Synthesizer turns retrieved context and a question into answer text.
// It never fails: remote errors are rendered into the returned text.
type Synthesizer interface {
	Answer(ctx context.Context, query, passages string) string
}
