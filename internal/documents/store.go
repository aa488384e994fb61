// Package documents stores dataset metadata documents in Elasticsearch, one
// index per provider.
package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	es "github.com/elastic/go-elasticsearch/v8"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
)

// pageSize is the number of documents fetched per search page.
const pageSize = 500

// indexMapping indexes only the fields used for lookups. Other JSON-LD
// properties are kept in _source as-is, whatever their shape.
const indexMapping = `{
	"mappings": {
		"dynamic": false,
		"properties": {
			"@id":        {"type": "keyword"},
			"@type":      {"type": "keyword"},
			"centerName": {"type": "keyword"},
			"syncDate":   {"type": "date"}
		}
	}
}`

// Store reads and writes DatasetDocuments.
type Store struct {
	client *es.Client
	prefix string
	log    logger.Logger

	ensured sync.Map
}

// NewStore creates a store whose index names start with prefix.
func NewStore(client *es.Client, prefix string, log logger.Logger) *Store {
	return &Store{client: client, prefix: prefix, log: log}
}

// IndexName returns the index holding a provider's documents.
func (s *Store) IndexName(providerName string) string {
	var b strings.Builder
	b.WriteString(s.prefix)
	for _, r := range strings.ToLower(providerName) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// Upsert inserts or replaces the document keyed by its external id. A
// document the cluster refuses (a 4xx other than 429) is an ErrRejected;
// every other failure is an ErrStorage.
func (s *Store) Upsert(ctx context.Context, doc *domain.DatasetDocument) error {
	index := s.IndexName(doc.Provider)
	if err := s.ensureIndex(ctx, index); err != nil {
		return storageErr("ensure index", doc.Provider, err)
	}

	body, err := json.Marshal(doc)
	if err != nil {
		return storageErr("encode document", doc.Provider, err)
	}

	res, err := s.client.Index(
		index,
		bytes.NewReader(body),
		s.client.Index.WithContext(ctx),
		s.client.Index.WithDocumentID(doc.ExternalID),
	)
	if err != nil {
		return storageErr("index document", doc.Provider, err)
	}
	defer closeBody(res.Body)

	if res.IsError() {
		resErr := responseError(res.StatusCode, res.Body)
		if rejectedStatus(res.StatusCode) {
			e := domain.NewError(domain.ErrRejected, "index document", doc.Provider, resErr)
			e.ID = doc.ExternalID
			return e
		}
		return storageErr("index document", doc.Provider, resErr)
	}
	return nil
}

// rejectedStatus reports whether the cluster refused this one document, as
// opposed to being unable to take writes at all.
func rejectedStatus(code int) bool {
	return code >= http.StatusBadRequest && code < http.StatusInternalServerError &&
		code != http.StatusTooManyRequests
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source domain.DatasetDocument `json:"_source"`
			Sort   []any                  `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// Datasets returns every stored document of the provider whose @type names a
// dataset. A provider without an index has no documents.
func (s *Store) Datasets(ctx context.Context, providerName string) ([]domain.DatasetDocument, error) {
	index := s.IndexName(providerName)

	var (
		docs  []domain.DatasetDocument
		after []any
	)
	for {
		page, notFound, err := s.searchPage(ctx, index, after)
		if err != nil {
			return nil, storageErr("search documents", providerName, err)
		}
		if notFound {
			s.log.Debug("No document index for provider",
				logger.String("provider", providerName),
				logger.String("index", index),
			)
			return nil, nil
		}

		for _, hit := range page.Hits.Hits {
			docs = append(docs, hit.Source)
		}

		hits := page.Hits.Hits
		if len(hits) < pageSize {
			return docs, nil
		}
		after = hits[len(hits)-1].Sort
	}
}

func (s *Store) searchPage(ctx context.Context, index string, after []any) (*searchResponse, bool, error) {
	query := map[string]any{
		"size": pageSize,
		"query": map[string]any{
			"wildcard": map[string]any{
				"@type": map[string]any{"value": "*dataset*", "case_insensitive": true},
			},
		},
		"sort": []any{map[string]any{"@id": "asc"}},
	}
	if len(after) > 0 {
		query["search_after"] = after
	}

	body, err := json.Marshal(query)
	if err != nil {
		return nil, false, fmt.Errorf("encode query: %w", err)
	}

	res, err := s.client.Search(
		s.client.Search.WithContext(ctx),
		s.client.Search.WithIndex(index),
		s.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, false, err
	}
	defer closeBody(res.Body)

	if res.StatusCode == http.StatusNotFound {
		return nil, true, nil
	}
	if res.IsError() {
		return nil, false, responseError(res.StatusCode, res.Body)
	}

	var page searchResponse
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, false, fmt.Errorf("decode search response: %w", err)
	}
	return &page, false, nil
}

func (s *Store) ensureIndex(ctx context.Context, index string) error {
	if _, ok := s.ensured.Load(index); ok {
		return nil
	}

	res, err := s.client.Indices.Exists([]string{index}, s.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index: %w", err)
	}
	closeBody(res.Body)

	if res.StatusCode == http.StatusNotFound {
		if createErr := s.createIndex(ctx, index); createErr != nil {
			return createErr
		}
		s.log.Info("Created document index", logger.String("index", index))
	} else if res.IsError() {
		return fmt.Errorf("check index: status %d", res.StatusCode)
	}

	s.ensured.Store(index, struct{}{})
	return nil
}

func (s *Store) createIndex(ctx context.Context, index string) error {
	res, err := s.client.Indices.Create(
		index,
		s.client.Indices.Create.WithContext(ctx),
		s.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	defer closeBody(res.Body)

	if res.IsError() {
		createErr := responseError(res.StatusCode, res.Body)
		if strings.Contains(createErr.Error(), "resource_already_exists_exception") {
			return nil
		}
		return fmt.Errorf("create index: %w", createErr)
	}
	return nil
}

// Ping checks the cluster is reachable.
func (s *Store) Ping(ctx context.Context) error {
	res, err := s.client.Ping(s.client.Ping.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("ping elasticsearch: %w", err)
	}
	defer closeBody(res.Body)

	if res.IsError() {
		return fmt.Errorf("ping elasticsearch: status %d", res.StatusCode)
	}
	return nil
}

func responseError(status int, body io.Reader) error {
	raw, _ := io.ReadAll(io.LimitReader(body, 4096))
	return fmt.Errorf("elasticsearch status %d: %s", status, bytes.TrimSpace(raw))
}

func closeBody(body io.ReadCloser) {
	_ = body.Close()
}

func storageErr(op, providerName string, err error) error {
	return domain.NewError(domain.ErrStorage, op, providerName, err)
}
