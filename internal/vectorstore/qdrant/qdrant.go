package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"docqa/internal/domain"
	"docqa/internal/resilience"
)

// Storage is a minimal REST client to Qdrant.
// Point ids are chunk ids (UUIDs) and payloads follow domain.VectorPayload.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
	guard      *resilience.Guard
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
	Guard      *resilience.Guard
}

func NewStorage(cfg Config) (*Storage, error) {
	if cfg.URL == "" {
		return nil, errors.New("qdrant url is required")
	}
	if cfg.Collection == "" {
		cfg.Collection = domain.CollectionName
	}
	if cfg.Guard == nil {
		cfg.Guard = resilience.NewGuard("qdrant", cfg.Timeout, resilience.BreakerConfig{}, nil)
	}
	return &Storage{
		url:        strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{},
		guard:      cfg.Guard,
	}, nil
}

// EnsureCollection creates the collection if it doesn't exist. An existing
// collection is never recreated; a dimension mismatch is reported.
func (s *Storage) EnsureCollection(ctx context.Context, name string, dimension int, distance string) error {
	if dimension <= 0 {
		return &domain.VectorStoreError{Op: "ensure collection", Err: errors.New("invalid dimension")}
	}
	if name != "" && name != s.collection {
		return &domain.VectorStoreError{Op: "ensure collection", Err: fmt.Errorf("collection %s does not match configured collection %s", name, s.collection)}
	}
	if distance == "" {
		distance = domain.DistanceCosine
	}
	url := fmt.Sprintf("%s/collections/%s", s.url, s.collection)

	err := s.guard.Call(ctx, "ensure collection", func(ctx context.Context) error {
		var info struct {
			Result struct {
				Config struct {
					Params struct {
						Vectors struct {
							Size int `json:"size"`
						} `json:"vectors"`
					} `json:"params"`
				} `json:"config"`
			} `json:"result"`
		}
		status, err := s.doJSON(ctx, http.MethodGet, url, nil, &info)
		if err == nil {
			if size := info.Result.Config.Params.Vectors.Size; size != 0 && size != dimension {
				return fmt.Errorf("collection %s has dimension %d, want %d", s.collection, size, dimension)
			}
			return nil
		}
		if status != http.StatusNotFound {
			return err
		}

		body := map[string]any{
			"vectors": map[string]any{
				"size":     dimension,
				"distance": distance,
			},
		}
		_, err = s.doJSON(ctx, http.MethodPut, url, body, nil)
		return err
	})
	return wrap("ensure collection", err)
}

// Upsert writes one point and waits until it is indexed.
func (s *Storage) Upsert(ctx context.Context, record domain.VectorRecord) error {
	body := map[string]any{
		"points": []map[string]any{{
			"id":      record.ID,
			"vector":  record.Vector,
			"payload": record.Payload,
		}},
	}
	url := fmt.Sprintf("%s/collections/%s/points?wait=true", s.url, s.collection)
	err := s.guard.Call(ctx, "upsert", func(ctx context.Context) error {
		_, err := s.doJSON(ctx, http.MethodPut, url, body, nil)
		return err
	})
	return wrap("upsert", err)
}

// Search returns at most topK points matching every filter entry, best first.
func (s *Storage) Search(ctx context.Context, vector []float32, topK int, filter map[string]string) ([]domain.SearchHit, error) {
	if topK <= 0 {
		topK = domain.DefaultTopK
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	if f := matchFilter(filter); f != nil {
		req["filter"] = f
	}

	var resp struct {
		Result []struct {
			ID      json.RawMessage      `json:"id"`
			Score   float32              `json:"score"`
			Payload domain.VectorPayload `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", s.url, s.collection)
	err := s.guard.Call(ctx, "search", func(ctx context.Context) error {
		_, err := s.doJSON(ctx, http.MethodPost, url, req, &resp)
		return err
	})
	if err != nil {
		return nil, wrap("search", err)
	}

	hits := make([]domain.SearchHit, 0, len(resp.Result))
	for _, r := range resp.Result {
		hits = append(hits, domain.SearchHit{ID: pointID(r.ID), Payload: r.Payload, Score: r.Score})
	}
	return hits, nil
}

// DeleteByDocument removes every point of one document.
func (s *Storage) DeleteByDocument(ctx context.Context, documentID string) error {
	body := map[string]any{
		"filter": matchFilter(map[string]string{domain.PayloadDocKey: documentID}),
	}
	url := fmt.Sprintf("%s/collections/%s/points/delete?wait=true", s.url, s.collection)
	err := s.guard.Call(ctx, "delete", func(ctx context.Context) error {
		_, err := s.doJSON(ctx, http.MethodPost, url, body, nil)
		return err
	})
	return wrap("delete", err)
}

func (s *Storage) Health(ctx context.Context) error {
	url := fmt.Sprintf("%s/healthz", s.url)
	err := s.guard.Call(ctx, "health", func(ctx context.Context) error {
		_, err := s.doJSON(ctx, http.MethodGet, url, nil, nil)
		return err
	})
	return wrap("health", err)
}

// matchFilter builds a `must` clause per entry, ordered by key.
func matchFilter(filter map[string]string) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	must := make([]any, 0, len(keys))
	for _, k := range keys {
		must = append(must, map[string]any{
			"key":   k,
			"match": map[string]any{"value": filter[k]},
		})
	}
	return map[string]any{"must": must}
}

// pointID renders a string or numeric point id.
func pointID(raw json.RawMessage) string {
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str
	}
	return string(raw)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *domain.TimeoutError
	if errors.As(err, &te) {
		return err
	}
	return &domain.VectorStoreError{Op: op, Err: err}
}

// doJSON sends body (if any) and decodes the response into out (if any).
// It returns the HTTP status so callers can branch on 404.
func (s *Storage) doJSON(ctx context.Context, method, url string, body any, out any) (int, error) {
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, err
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, fmt.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, strings.TrimSpace(string(b)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

var _ domain.VectorIndex = (*Storage)(nil)
