package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docqa/internal/blobstore"
	"docqa/internal/domain"
	"docqa/internal/extract"
	"docqa/internal/metrics"
	"docqa/internal/observability"
)

var (
	// ErrEmptyUpload rejects an upload with no title, source or file.
	ErrEmptyUpload = errors.New("upload needs a title, a source or a file")
	// ErrMissingOwner rejects requests without a caller identity.
	ErrMissingOwner = errors.New("owner is required")
)

// DefaultTitle names documents uploaded without a title.
const DefaultTitle = "Untitled"

// UploadRequest describes a document to add. Data holds the file bytes
// when FileName is set.
type UploadRequest struct {
	OwnerID  string
	Title    string
	Source   string
	FileName string
	Data     []byte
}

// UploadResult is the stored document and the number of chunks committed.
type UploadResult struct {
	Document domain.Document
	Chunks   int
}

// AskResult is an answer and the chunks it was generated from.
type AskResult struct {
	Answer  string
	Sources []domain.QueryResult
}

// ChatFile is a file attached to a chat message.
type ChatFile struct {
	Name string
	Data []byte
}

// ChatRequest combines optional uploads with an optional question.
type ChatRequest struct {
	OwnerID string
	Message string
	Files   []ChatFile
}

// RAGService ties document upload to ingestion and questions to retrieval
// and answer synthesis.
type RAGService struct {
	store     domain.DocumentStore
	index     domain.VectorIndex
	blobs     blobstore.Store
	ingestor  *Ingestor
	retriever *Retriever
	synth     domain.Synthesizer
	topK      int
	logger    observability.Logger
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Deps are the collaborators of a RAGService. Blobs may be nil, in which
// case uploaded files are not kept.
type Deps struct {
	Store     domain.DocumentStore
	Index     domain.VectorIndex
	Blobs     blobstore.Store
	Ingestor  *Ingestor
	Retriever *Retriever
	Synth     domain.Synthesizer
	TopK      int
	Logger    observability.Logger
	Metrics   *metrics.Metrics
}

func NewRAGService(d Deps) *RAGService {
	if d.TopK <= 0 {
		d.TopK = domain.DefaultTopK
	}
	if d.Logger == nil {
		d.Logger = observability.NewNop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.NewNop()
	}
	return &RAGService{
		store:     d.Store,
		index:     d.Index,
		blobs:     d.Blobs,
		ingestor:  d.Ingestor,
		retriever: d.Retriever,
		synth:     d.Synth,
		topK:      d.TopK,
		logger:    d.Logger.WithPrefix("rag"),
		metrics:   d.Metrics,
		tracer:    observability.Tracer("docqa/service"),
	}
}

// Upload stores a document and ingests its text. When ingestion fails part
// way, the document and the chunks committed so far are kept and returned
// together with the *IngestError.
func (s *RAGService) Upload(ctx context.Context, req UploadRequest) (UploadResult, error) {
	if req.OwnerID == "" {
		return UploadResult{}, ErrMissingOwner
	}
	title := strings.TrimSpace(req.Title)
	source := strings.TrimSpace(req.Source)
	if title == "" && source == "" && req.FileName == "" {
		return UploadResult{}, ErrEmptyUpload
	}
	if title == "" {
		title = DefaultTitle
	}

	var text string
	if req.FileName != "" {
		var err error
		text, err = extract.Text(req.FileName, req.Data)
		if err != nil {
			return UploadResult{}, fmt.Errorf("extract %s: %w", req.FileName, err)
		}
	}

	doc := domain.Document{
		ID:         uuid.NewString(),
		Title:      title,
		OwnerID:    req.OwnerID,
		UploadedAt: time.Now().UTC(),
	}
	if source != "" {
		doc.Source = &source
	}
	if req.FileName != "" && s.blobs != nil {
		ref, err := s.blobs.Put(ctx, blobstore.Key(doc.ID, req.FileName), bytes.NewReader(req.Data))
		if err != nil {
			return UploadResult{}, fmt.Errorf("store file: %w", err)
		}
		doc.FileRef = &ref
	}

	if err := s.store.CreateDocument(ctx, &doc); err != nil {
		s.discardBlob(ctx, doc.FileRef)
		return UploadResult{}, err
	}
	s.metrics.DocumentsUploaded.Inc()

	res, err := s.ingestor.Ingest(ctx, doc, text)
	out := UploadResult{Document: doc, Chunks: res.Chunks}
	if err != nil {
		return out, err
	}
	s.logger.Info("Document uploaded", map[string]interface{}{
		"document_id": doc.ID,
		"owner_id":    doc.OwnerID,
		"chunks":      res.Chunks,
	})
	return out, nil
}

// Search runs a scoped retrieval for owner.
func (s *RAGService) Search(ctx context.Context, owner, query string, topK int) ([]domain.QueryResult, error) {
	return s.retriever.Search(ctx, query, topK, domain.Scope{OwnerID: owner})
}

// NoDocumentsMessage is the answer given when retrieval finds nothing.
func NoDocumentsMessage(query string) string {
	return fmt.Sprintf("No relevant documents found for '%s'. Try uploading some documents first.", query)
}

// Ask answers query from owner's documents. Retrieval failures degrade to
// the no-documents answer; only an empty query is an error.
func (s *RAGService) Ask(ctx context.Context, owner, query string) (AskResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return AskResult{}, domain.ErrEmptyInput
	}
	if owner == "" {
		return AskResult{}, ErrMissingOwner
	}
	ctx, span := s.tracer.Start(ctx, "ask")
	defer span.End()

	results, err := s.retriever.Search(ctx, query, s.topK, domain.Scope{OwnerID: owner})
	if err != nil {
		s.logger.Warn("Retrieval failed, answering without context", map[string]interface{}{
			"owner_id": owner,
			"error":    err.Error(),
		})
		return AskResult{Answer: NoDocumentsMessage(query)}, nil
	}
	if len(results) == 0 {
		return AskResult{Answer: NoDocumentsMessage(query)}, nil
	}

	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	start := time.Now()
	answer := s.synth.Answer(ctx, query, strings.Join(texts, "\n"))
	s.metrics.AnswerDuration.Observe(time.Since(start).Seconds())
	if strings.HasPrefix(answer, domain.AnswerErrorPrefix) {
		s.metrics.AnswerErrors.Inc()
	} else {
		s.metrics.AnswersGenerated.Inc()
	}
	span.SetAttributes(attribute.Int("sources", len(results)))
	return AskResult{Answer: answer, Sources: results}, nil
}

// Chat uploads the attached files, then answers the message. Per-file
// problems are reported in the returned text.
func (s *RAGService) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if req.OwnerID == "" {
		return "", ErrMissingOwner
	}
	var b strings.Builder

	if len(req.Files) > 0 {
		processed := 0
		for _, f := range req.Files {
			_, err := s.Upload(ctx, UploadRequest{OwnerID: req.OwnerID, Title: f.Name, FileName: f.Name, Data: f.Data})
			switch {
			case err == nil:
				processed++
			case errors.Is(err, extract.ErrNoText):
				fmt.Fprintf(&b, "Could not extract readable text from %s. The file may contain only images or be corrupted. ", f.Name)
			default:
				s.logger.Warn("Chat upload failed", map[string]interface{}{"file": f.Name, "error": err.Error()})
				if strings.EqualFold(filepath.Ext(f.Name), ".pdf") {
					fmt.Fprintf(&b, "Error processing %s: The file may be password-protected or corrupted. Please try a different PDF. ", f.Name)
				} else {
					fmt.Fprintf(&b, "Error processing %s. ", f.Name)
				}
			}
		}
		fmt.Fprintf(&b, "Uploaded and processed %d document(s). ", processed)
	}

	if msg := strings.TrimSpace(req.Message); msg != "" {
		res, err := s.Ask(ctx, req.OwnerID, msg)
		if err != nil {
			return "", err
		}
		b.WriteString(res.Answer)
	}

	if b.Len() == 0 {
		return "Please provide a message or upload a file.", nil
	}
	return b.String(), nil
}

// Documents lists owner's documents, newest first.
func (s *RAGService) Documents(ctx context.Context, owner string) ([]domain.Document, error) {
	if owner == "" {
		return nil, ErrMissingOwner
	}
	return s.store.ListDocuments(ctx, owner)
}

// DeleteDocument removes a document of owner with its vectors, chunks and
// stored file. Documents of other owners are reported as not found.
func (s *RAGService) DeleteDocument(ctx context.Context, owner, id string) error {
	doc, err := s.store.GetDocument(ctx, id)
	if err != nil {
		return err
	}
	if doc.OwnerID != owner {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	// Vectors go first: deleting them twice is harmless, so a retry after a
	// failed row delete still completes.
	if err := s.index.DeleteByDocument(ctx, id); err != nil {
		return asVectorStoreError("delete", err)
	}
	if err := s.store.DeleteDocument(ctx, id, owner); err != nil {
		s.logger.Error("Document rows kept after vectors were deleted", map[string]interface{}{
			"document_id": id,
			"owner_id":    owner,
			"error":       err.Error(),
		})
		return fmt.Errorf("delete document %s (vectors already removed, retry to finish): %w", id, err)
	}
	s.discardBlob(ctx, doc.FileRef)
	s.logger.Info("Document deleted", map[string]interface{}{"document_id": id, "owner_id": owner})
	return nil
}

func (s *RAGService) discardBlob(ctx context.Context, ref *string) {
	if ref == nil || s.blobs == nil {
		return
	}
	if err := s.blobs.Delete(ctx, *ref); err != nil {
		s.logger.Warn("Failed to delete stored file", map[string]interface{}{"ref": *ref, "error": err.Error()})
	}
}

// Health checks the vector index.
func (s *RAGService) Health(ctx context.Context) error {
	return s.index.Health(ctx)
}
