// Package api exposes the document QA service over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"docqa/internal/auth"
	"docqa/internal/domain"
	"docqa/internal/extract"
	"docqa/internal/metrics"
	"docqa/internal/observability"
	"docqa/internal/service"
)

var errTooLarge = errors.New("file too large")

// Config tunes the HTTP layer.
type Config struct {
	Addr           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxUploadBytes int64
	RatePerSecond  float64
	Burst          int
}

// Server serves the REST API.
type Server struct {
	cfg       Config
	svc       *service.RAGService
	validator *auth.JWTValidator
	limiter   *OwnerLimiter
	gatherer  prometheus.Gatherer
	logger    observability.Logger
	metrics   *metrics.Metrics
	router    *gin.Engine
}

// NewServer builds the router. gatherer backs /metrics; nil uses the
// default prometheus registry.
func NewServer(cfg Config, svc *service.RAGService, v *auth.JWTValidator, gatherer prometheus.Gatherer, logger observability.Logger, m *metrics.Metrics) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 32 << 20
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 5
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	s := &Server{
		cfg:       cfg,
		svc:       svc,
		validator: v,
		limiter:   NewOwnerLimiter(cfg.RatePerSecond, cfg.Burst),
		gatherer:  gatherer,
		logger:    logger.WithPrefix("api"),
		metrics:   m,
	}
	s.router = s.routes()
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(s.logger))
	r.MaxMultipartMemory = s.cfg.MaxUploadBytes

	r.GET("/healthz", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	v1 := r.Group("/api/v1", RequireOwner(s.validator), RateLimit(s.limiter, s.metrics))
	v1.POST("/documents", s.uploadDocument)
	v1.GET("/documents", s.listDocuments)
	v1.DELETE("/documents/:id", s.deleteDocument)
	v1.POST("/ask", s.ask)
	v1.POST("/search", s.search)
	v1.POST("/chat", s.chat)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{"addr": s.cfg.Addr})
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server", nil)
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) health(c *gin.Context) {
	if err := s.svc.Health(c.Request.Context()); err != nil {
		s.logger.Warn("Health check failed", map[string]interface{}{"error": err.Error()})
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) uploadDocument(c *gin.Context) {
	req := service.UploadRequest{
		OwnerID: ownerFrom(c),
		Title:   c.PostForm("title"),
		Source:  c.PostForm("source"),
	}
	if fh, err := c.FormFile("file"); err == nil {
		data, err := s.readFile(fh)
		if err != nil {
			s.respondError(c, err)
			return
		}
		req.FileName = fh.Filename
		req.Data = data
	}

	res, err := s.svc.Upload(c.Request.Context(), req)
	if err != nil {
		var ie *service.IngestError
		if errors.As(err, &ie) {
			s.logger.Error("Ingestion stopped", map[string]interface{}{
				"document_id": res.Document.ID,
				"error":       err.Error(),
			})
			c.JSON(statusFor(ie.Err), gin.H{
				"error":  "ingestion failed",
				"id":     res.Document.ID,
				"chunks": res.Chunks,
			})
			return
		}
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":     res.Document.ID,
		"title":  res.Document.Title,
		"chunks": res.Chunks,
	})
}

func (s *Server) listDocuments(c *gin.Context) {
	docs, err := s.svc.Documents(c.Request.Context(), ownerFrom(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if docs == nil {
		docs = []domain.Document{}
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) deleteDocument(c *gin.Context) {
	if err := s.svc.DeleteDocument(c.Request.Context(), ownerFrom(c), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type askRequest struct {
	Query string `json:"query"`
}

func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	res, err := s.svc.Ask(c.Request.Context(), ownerFrom(c), req.Query)
	if err != nil {
		s.respondError(c, err)
		return
	}
	sources := res.Sources
	if sources == nil {
		sources = []domain.QueryResult{}
	}
	c.JSON(http.StatusOK, gin.H{"answer": res.Answer, "sources": sources})
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (s *Server) search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	results, err := s.svc.Search(c.Request.Context(), ownerFrom(c), req.Query, req.TopK)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) chat(c *gin.Context) {
	req := service.ChatRequest{OwnerID: ownerFrom(c), Message: c.PostForm("message")}
	if form, err := c.MultipartForm(); err == nil {
		for _, fh := range form.File["files"] {
			data, err := s.readFile(fh)
			if err != nil {
				s.respondError(c, err)
				return
			}
			req.Files = append(req.Files, service.ChatFile{Name: fh.Filename, Data: data})
		}
	}

	answer, err := s.svc.Chat(c.Request.Context(), req)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answer": answer})
}

func (s *Server) readFile(fh *multipart.FileHeader) ([]byte, error) {
	if fh.Size > s.cfg.MaxUploadBytes {
		return nil, errTooLarge
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, errTooLarge
	}
	return data, nil
}

// respondError writes {"error": msg}. Server errors get a generic message
// and are logged instead.
func (s *Server) respondError(c *gin.Context, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError:
		msg = "internal server error"
	case http.StatusGatewayTimeout:
		msg = "upstream service timed out"
	case http.StatusBadGateway:
		msg = "upstream service failed"
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request error", map[string]interface{}{
			"path":  c.FullPath(),
			"error": err.Error(),
		})
	}
	c.JSON(status, gin.H{"error": msg})
}

func statusFor(err error) int {
	var (
		vse *domain.VectorStoreError
		ee  *domain.EmbeddingError
	)
	switch {
	case errors.Is(err, domain.ErrEmptyInput),
		errors.Is(err, domain.ErrUnscopedSearch),
		errors.Is(err, service.ErrEmptyUpload),
		errors.Is(err, service.ErrMissingOwner):
		return http.StatusBadRequest
	case errors.Is(err, errTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, extract.ErrNoText), errors.Is(err, extract.ErrUnreadable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case domain.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.As(err, &vse), errors.As(err, &ee):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
