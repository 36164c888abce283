// Package metrics provides Prometheus metrics for the document QA service
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for docqa
type Metrics struct {
	// Ingestion metrics
	DocumentsUploaded  prometheus.Counter
	ChunksCreated      prometheus.Counter
	IngestionDuration  prometheus.Histogram
	IngestionErrors    *prometheus.CounterVec
	EmbeddingDuration  prometheus.Histogram
	EmbeddingCacheHits *prometheus.CounterVec

	// Search metrics
	SearchRequests    prometheus.Counter
	SearchDuration    prometheus.Histogram
	SearchErrors      prometheus.Counter
	SearchResultCount prometheus.Histogram

	// Answer metrics
	AnswersGenerated prometheus.Counter
	AnswerErrors     prometheus.Counter
	AnswerDuration   prometheus.Histogram

	// HTTP metrics
	RateLimitHits prometheus.Counter
}

// New creates all metrics and registers them on reg. A nil reg leaves
// them unregistered, which tests rely on.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		DocumentsUploaded: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_documents_uploaded_total",
			Help: "Total number of documents uploaded",
		}),
		ChunksCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_chunks_created_total",
			Help: "Total number of chunks committed",
		}),
		IngestionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_ingestion_duration_seconds",
			Help:    "Duration of document ingestion in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}),
		IngestionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_ingestion_errors_total",
			Help: "Total number of ingestion failures by stage",
		}, []string{"stage"}),
		EmbeddingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_embedding_duration_seconds",
			Help:    "Duration of a single embedding call in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 10),
		}),
		EmbeddingCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_embedding_cache_lookups_total",
			Help: "Embedding cache lookups by result",
		}, []string{"result"}),

		SearchRequests: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_search_requests_total",
			Help: "Total number of search requests",
		}),
		SearchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_search_duration_seconds",
			Help:    "Duration of search operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~10s
		}),
		SearchErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_search_errors_total",
			Help: "Total number of failed searches",
		}),
		SearchResultCount: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_search_result_count",
			Help:    "Number of results returned per search",
			Buckets: prometheus.LinearBuckets(0, 1, 11),
		}),

		AnswersGenerated: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_answers_generated_total",
			Help: "Total number of answers returned",
		}),
		AnswerErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_answer_errors_total",
			Help: "Total number of answers that degraded to an error message",
		}),
		AnswerDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "docqa_answer_duration_seconds",
			Help:    "Duration of answer generation in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~100s
		}),

		RateLimitHits: f.NewCounter(prometheus.CounterOpts{
			Name: "docqa_rate_limit_hits_total",
			Help: "Total number of requests rejected by the rate limiter",
		}),
	}
}

// NewNop returns unregistered metrics.
func NewNop() *Metrics { return New(nil) }
