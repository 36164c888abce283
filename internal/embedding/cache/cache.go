// Package cache provides a Redis-backed decorator for embedders
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-redis/redis/v8"

	"docqa/internal/domain"
	"docqa/internal/metrics"
	"docqa/internal/observability"
)

var (
	// ErrCacheMiss is returned when a cache key is not found
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheInvalid is returned when cached data is invalid
	ErrCacheInvalid = errors.New("invalid cached data")
)

// Config configures the cache behavior
type Config struct {
	// TTL is the time-to-live for cache entries; zero keeps them forever
	TTL time.Duration

	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
}

// Embedder returns cached vectors for texts it has seen and delegates the
// rest to the wrapped embedder.
type Embedder struct {
	inner   domain.Embedder
	client  *redis.Client
	config  Config
	logger  observability.Logger
	metrics *metrics.Metrics
}

// New wraps inner with a Redis cache.
func New(inner domain.Embedder, client *redis.Client, config Config, logger observability.Logger, m *metrics.Metrics) *Embedder {
	if config.KeyPrefix == "" {
		config.KeyPrefix = "docqa:emb:"
	}
	if logger == nil {
		logger = observability.NewNop()
	}
	if m == nil {
		m = metrics.NewNop()
	}
	return &Embedder{
		inner:   inner,
		client:  client,
		config:  config,
		logger:  logger.WithPrefix("embedding-cache"),
		metrics: m,
	}
}

func (e *Embedder) Name() string { return e.inner.Name() }

func (e *Embedder) Dimension() int { return e.inner.Dimension() }

// Embed looks the text up in Redis first. Cache failures are logged and
// never fail the call.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.makeKey(text)

	vec, err := e.get(ctx, key)
	switch {
	case err == nil:
		e.metrics.EmbeddingCacheHits.WithLabelValues("hit").Inc()
		return vec, nil
	case errors.Is(err, ErrCacheMiss):
		e.metrics.EmbeddingCacheHits.WithLabelValues("miss").Inc()
	default:
		e.metrics.EmbeddingCacheHits.WithLabelValues("error").Inc()
		e.logger.Warn("Cache get error", map[string]interface{}{"error": err.Error()})
	}

	vec, err = e.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if err := e.client.Set(ctx, key, encode(vec), e.config.TTL).Err(); err != nil {
		e.logger.Warn("Cache set error", map[string]interface{}{"error": err.Error()})
	}
	return vec, nil
}

func (e *Embedder) get(ctx context.Context, key string) ([]float32, error) {
	val, err := e.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache get error: %w", err)
	}
	vec, err := decode(val)
	if err != nil {
		return nil, err
	}
	if len(vec) != e.inner.Dimension() {
		return nil, ErrCacheInvalid
	}
	return vec, nil
}

// makeKey hashes the model name with the text so switching models never
// serves stale vectors.
func (e *Embedder) makeKey(text string) string {
	sum := sha256.Sum256([]byte(e.inner.Name() + "\x00" + text))
	return e.config.KeyPrefix + hex.EncodeToString(sum[:])
}

func encode(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(x))
	}
	return buf
}

func decode(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrCacheInvalid
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v, nil
}

var _ domain.Embedder = (*Embedder)(nil)
