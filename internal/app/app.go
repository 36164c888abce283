// Package app assembles the configured components into a running service.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"docqa/internal/answer/extractive"
	answeropenai "docqa/internal/answer/openai"
	"docqa/internal/auth"
	"docqa/internal/blobstore"
	"docqa/internal/blobstore/local"
	"docqa/internal/blobstore/s3"
	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding/cache"
	"docqa/internal/embedding/hashing"
	embedopenai "docqa/internal/embedding/openai"
	"docqa/internal/embedding/remote"
	"docqa/internal/metrics"
	"docqa/internal/observability"
	"docqa/internal/repository"
	"docqa/internal/resilience"
	"docqa/internal/service"
	"docqa/internal/vectorstore/memory"
	"docqa/internal/vectorstore/qdrant"
)

// App holds the wired components of one process.
type App struct {
	Config   *config.AppConfig
	Logger   observability.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	DB       *sqlx.DB
	Store    *repository.DocumentRepository
	Index    domain.VectorIndex
	Embedder domain.Embedder
	Service  *service.RAGService

	ingestor   *service.Ingestor
	collection string
	distance   string
	closers    []func() error
}

// New connects to the configured backends and builds the service.
func New(ctx context.Context, cfg *config.AppConfig, logger observability.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a := &App{
		Config:     cfg,
		Logger:     logger,
		Registry:   reg,
		Metrics:    metrics.New(reg),
		collection: domain.CollectionName,
		distance:   domain.DistanceCosine,
	}

	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	db, err := repository.Open(ctx, cfg.Database.Driver, cfg.DatabaseDSN())
	if err != nil {
		return nil, err
	}
	a.DB = db
	a.closers = append(a.closers, db.Close)
	a.Store = repository.NewDocumentRepository(db)

	if a.Embedder, err = a.newEmbedder(); err != nil {
		return nil, err
	}
	if a.Index, err = a.newIndex(); err != nil {
		return nil, err
	}
	ch, err := NewChunker(cfg.Chunker)
	if err != nil {
		return nil, err
	}
	blobs, err := newBlobStore(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	a.ingestor = service.NewIngestor(ch, a.Embedder, a.Index, a.Store, logger, a.Metrics)
	retriever := service.NewRetriever(a.Embedder, a.Index, cfg.Retrieval.MinScore, logger, a.Metrics)
	a.Service = service.NewRAGService(service.Deps{
		Store:     a.Store,
		Index:     a.Index,
		Blobs:     blobs,
		Ingestor:  a.ingestor,
		Retriever: retriever,
		Synth:     a.newSynthesizer(),
		TopK:      cfg.Retrieval.TopK,
		Logger:    logger,
		Metrics:   a.Metrics,
	})
	ok = true
	return a, nil
}

// Init migrates the schema and creates the vector collection if absent.
func (a *App) Init(ctx context.Context) error {
	if err := a.Store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	if err := a.Index.EnsureCollection(ctx, a.collection, a.Embedder.Dimension(), a.distance); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}
	if a.Config.VectorStore.Type == "memory" {
		if err := a.restoreIndex(ctx); err != nil {
			return err
		}
	}
	a.Logger.Info("Storage initialised", map[string]interface{}{
		"collection": a.collection,
		"dimension":  a.Embedder.Dimension(),
		"driver":     a.Config.Database.Driver,
	})
	return nil
}

// restoreIndex refills the in-process index from the stored chunks, which
// outlive the process when the database is on disk.
func (a *App) restoreIndex(ctx context.Context) error {
	chunks, err := a.Store.ListIndexedChunks(ctx)
	if err != nil {
		return fmt.Errorf("restore index: %w", err)
	}
	if len(chunks) == 0 {
		return nil
	}
	n, err := a.ingestor.Restore(ctx, chunks)
	if err != nil {
		return fmt.Errorf("restore index after %d of %d chunks: %w", n, len(chunks), err)
	}
	a.Logger.Info("Vector index restored", map[string]interface{}{"chunks": n})
	return nil
}

// Validator builds the token validator from the secret env var.
func (a *App) Validator() (*auth.JWTValidator, error) {
	return NewValidator(a.Config)
}

// NewValidator builds a token validator without connecting to any backend.
func NewValidator(cfg *config.AppConfig) (*auth.JWTValidator, error) {
	secret := os.Getenv(cfg.Auth.SecretEnv)
	if secret == "" {
		return nil, fmt.Errorf("%w: set %s", auth.ErrMissingSecret, cfg.Auth.SecretEnv)
	}
	ttl := time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	return auth.NewJWTValidator([]byte(secret), cfg.Auth.Issuer, ttl)
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) guard(name string) *resilience.Guard {
	b := a.Config.Breaker
	return resilience.NewGuard(name, a.Config.RemoteTimeout(), resilience.BreakerConfig{
		MaxRequests:  b.MaxRequests,
		Interval:     time.Duration(b.IntervalSecs) * time.Second,
		Timeout:      time.Duration(b.TimeoutSecs) * time.Second,
		FailureRatio: b.FailureRatio,
		MinRequests:  b.MinRequests,
	}, a.Logger)
}

func secondsOr(secs int, fallback time.Duration) time.Duration {
	if secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func (a *App) newEmbedder() (domain.Embedder, error) {
	cfg := a.Config.Embedder
	var emb domain.Embedder
	switch cfg.Type {
	case "hashing":
		emb = hashing.NewEmbedder(cfg.Dimension)
	case "openai":
		o := cfg.OpenAI
		e, err := embedopenai.NewEmbedder(embedopenai.Config{
			BaseURL:   o.BaseURL,
			APIKeyEnv: o.APIKeyEnv,
			Model:     o.Model,
			Dimension: cfg.Dimension,
			Timeout:   secondsOr(o.TimeoutSecs, a.Config.RemoteTimeout()),
			Guard:     a.guard("openai-embeddings"),
		})
		if err != nil {
			return nil, fmt.Errorf("openai embedder: %w", err)
		}
		emb = e
	case "remote":
		r := cfg.Remote
		c, err := remote.NewClient(remote.Config{
			BaseURL:    r.BaseURL,
			Path:       r.Path,
			APIKeyEnv:  r.APIKeyEnv,
			Model:      r.Model,
			Dimension:  cfg.Dimension,
			Timeout:    secondsOr(r.TimeoutSecs, a.Config.RemoteTimeout()),
			MaxRetries: r.MaxRetries,
		})
		if err != nil {
			return nil, err
		}
		emb = c
	default:
		return nil, fmt.Errorf("unknown embedder: %s", cfg.Type)
	}

	if !a.Config.Cache.Enabled {
		return emb, nil
	}
	cc := a.Config.Cache
	client := redis.NewClient(&redis.Options{
		Addr:     cc.Addr,
		Password: os.Getenv(cc.PasswordEnv),
		DB:       cc.DB,
	})
	a.closers = append(a.closers, client.Close)
	return cache.New(emb, client, cache.Config{
		TTL:       time.Duration(cc.TTLSecs) * time.Second,
		KeyPrefix: cc.KeyPrefix,
	}, a.Logger, a.Metrics), nil
}

func (a *App) newIndex() (domain.VectorIndex, error) {
	cfg := a.Config.VectorStore
	switch cfg.Type {
	case "memory":
		return memory.NewStorage(), nil
	case "qdrant":
		q := cfg.Qdrant
		a.collection = q.Collection
		a.distance = q.Distance
		var key string
		if q.APIKeyEnv != "" {
			key = os.Getenv(q.APIKeyEnv)
		}
		return qdrant.NewStorage(qdrant.Config{
			URL:        q.URL,
			APIKey:     key,
			Collection: q.Collection,
			Timeout:    secondsOr(q.TimeoutSecs, a.Config.RemoteTimeout()),
			Guard:      a.guard("qdrant"),
		})
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.Type)
	}
}

func (a *App) newSynthesizer() domain.Synthesizer {
	cfg := a.Config.Completion
	if cfg.Type == "extractive" {
		return extractive.NewSynthesizer(cfg.MaxSentences)
	}
	return answeropenai.NewSynthesizer(answeropenai.Config{
		BaseURL:   cfg.BaseURL,
		APIKeyEnv: cfg.APIKeyEnv,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Timeout:   a.Config.RemoteTimeout(),
		Guard:     a.guard("openai-chat"),
		Logger:    a.Logger,
	})
}

// NewChunker builds the configured splitter.
func NewChunker(cfg config.ChunkerConfig) (domain.Chunker, error) {
	switch cfg.Type {
	case "word":
		return chunker.NewWordChunker(cfg.ChunkSize), nil
	case "char":
		return chunker.NewCharChunker(cfg.ChunkSize, cfg.Overlap), nil
	default:
		return nil, fmt.Errorf("unknown chunker: %s", cfg.Type)
	}
}

func newBlobStore(ctx context.Context, cfg config.StorageConfig) (blobstore.Store, error) {
	switch cfg.Type {
	case "none":
		return nil, nil
	case "local":
		return local.New(cfg.Dir)
	case "s3":
		c := cfg.S3
		return s3.New(ctx, s3.Config{
			Region:         c.Region,
			Bucket:         c.Bucket,
			Prefix:         c.Prefix,
			Endpoint:       c.Endpoint,
			ForcePathStyle: c.ForcePathStyle,
			AccessKeyEnv:   c.AccessKeyEnv,
			SecretKeyEnv:   c.SecretKeyEnv,
		})
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
	}
}
