// Package repository implements data access for documents and chunks
package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"  // PostgreSQL driver
	_ "modernc.org/sqlite" // SQLite driver

	"docqa/internal/domain"
)

//go:embed schema/*.sql
var schemaFS embed.FS

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string) (*sqlx.DB, error) {
	switch driver {
	case DriverPostgres, DriverSQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if driver == DriverSQLite && !strings.Contains(dsn, "_time_format") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_time_format=sqlite"
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if driver == DriverSQLite {
		// One connection keeps in-memory databases shared and the pragma applied.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enabling foreign keys: %w", err)
		}
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// DocumentRepository handles document and chunk data access
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Migrate creates the tables if they do not exist.
func (r *DocumentRepository) Migrate(ctx context.Context) error {
	file := "schema/postgres.sql"
	if r.db.DriverName() == DriverSQLite {
		file = "schema/sqlite.sql"
	}
	data, err := schemaFS.ReadFile(file)
	if err != nil {
		return fmt.Errorf("reading schema: %w", err)
	}
	for _, stmt := range strings.Split(string(data), ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("running migration: %w", err)
		}
	}
	return nil
}

// CreateDocument creates a new document record
func (r *DocumentRepository) CreateDocument(ctx context.Context, doc *domain.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadedAt.IsZero() {
		doc.UploadedAt = time.Now()
	}
	doc.UploadedAt = doc.UploadedAt.UTC()

	query := r.db.Rebind(`
		INSERT INTO documents (id, title, owner_id, source, uploaded_at, file_ref)
		VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		doc.ID, doc.Title, doc.OwnerID, doc.Source, doc.UploadedAt, doc.FileRef,
	)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	return nil
}

// GetDocument retrieves a document by ID
func (r *DocumentRepository) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	var doc domain.Document
	query := r.db.Rebind(`
		SELECT id, title, owner_id, source, uploaded_at, file_ref
		FROM documents
		WHERE id = ?`)

	err := r.db.GetContext(ctx, &doc, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return &doc, nil
}

// ListDocuments returns the documents of one owner, newest first
func (r *DocumentRepository) ListDocuments(ctx context.Context, ownerID string) ([]domain.Document, error) {
	docs := []domain.Document{}
	query := r.db.Rebind(`
		SELECT id, title, owner_id, source, uploaded_at, file_ref
		FROM documents
		WHERE owner_id = ?
		ORDER BY uploaded_at DESC, id`)

	if err := r.db.SelectContext(ctx, &docs, query, ownerID); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document and its chunks if it belongs to ownerID
func (r *DocumentRepository) DeleteDocument(ctx context.Context, id, ownerID string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM documents WHERE id = ? AND owner_id = ?`), id, ownerID)
	if err != nil {
		return fmt.Errorf("failed to delete document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	// Covers connections where the cascade is not enforced.
	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM document_chunks WHERE document_id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// CreateChunk creates a new document chunk
func (r *DocumentRepository) CreateChunk(ctx context.Context, chunk *domain.DocumentChunk) error {
	if chunk.ID == "" {
		chunk.ID = uuid.NewString()
	}
	query := r.db.Rebind(`
		INSERT INTO document_chunks (id, document_id, text, chunk_index, vector_store_id)
		VALUES (?, ?, ?, ?, ?)`)

	_, err := r.db.ExecContext(ctx, query,
		chunk.ID, chunk.DocumentID, chunk.Text, chunk.ChunkIndex, chunk.VectorStoreID,
	)
	if err != nil {
		return &domain.ChunkPersistError{Index: chunk.ChunkIndex, Err: err}
	}
	return nil
}

// UpdateChunkVectorID records the vector index id of a stored chunk
func (r *DocumentRepository) UpdateChunkVectorID(ctx context.Context, chunkID, vectorID string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE document_chunks SET vector_store_id = ? WHERE id = ?`), vectorID, chunkID)
	if err != nil {
		return fmt.Errorf("failed to update chunk: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("chunk %s: %w", chunkID, domain.ErrNotFound)
	}
	return nil
}

// DeleteChunk removes a single chunk row
func (r *DocumentRepository) DeleteChunk(ctx context.Context, chunkID string) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM document_chunks WHERE id = ?`), chunkID); err != nil {
		return fmt.Errorf("failed to delete chunk: %w", err)
	}
	return nil
}

// ListChunks returns the chunks of a document in index order
func (r *DocumentRepository) ListChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	chunks := []domain.DocumentChunk{}
	query := r.db.Rebind(`
		SELECT id, document_id, text, chunk_index, vector_store_id
		FROM document_chunks
		WHERE document_id = ?
		ORDER BY chunk_index`)

	if err := r.db.SelectContext(ctx, &chunks, query, documentID); err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	return chunks, nil
}

// ListIndexedChunks returns every chunk linked to a vector, with its owner
func (r *DocumentRepository) ListIndexedChunks(ctx context.Context) ([]domain.IndexedChunk, error) {
	chunks := []domain.IndexedChunk{}
	query := `
		SELECT c.id, c.document_id, c.text, c.chunk_index, c.vector_store_id, d.owner_id
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.vector_store_id IS NOT NULL
		ORDER BY d.uploaded_at, c.document_id, c.chunk_index`

	if err := r.db.SelectContext(ctx, &chunks, query); err != nil {
		return nil, fmt.Errorf("failed to list indexed chunks: %w", err)
	}
	return chunks, nil
}

var _ domain.DocumentStore = (*DocumentRepository)(nil)
