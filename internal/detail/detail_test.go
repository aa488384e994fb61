package detail_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	es "github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/detail"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/documents"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/logger"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/provider"
)

var syncTime = time.Date(2026, 3, 2, 1, 0, 0, 0, time.UTC)

type staticCreds struct {
	services    map[string]string
	invalidated *atomic.Int32
}

func (s staticCreds) GetOrRefresh(context.Context, domain.Provider) (*domain.Credential, error) {
	return &domain.Credential{Token: "tok", Version: "1.0", Services: s.services}, nil
}

func (s staticCreds) Invalidate(context.Context, string) {
	if s.invalidated != nil {
		s.invalidated.Add(1)
	}
}

type memIDs struct {
	mu      sync.Mutex
	order   []string
	status  map[string]string
	markErr error
}

func newMemIDs(pending ...string) *memIDs {
	m := &memIDs{status: map[string]string{}}
	for _, id := range pending {
		m.order = append(m.order, id)
		m.status[id] = domain.StatusPending
	}
	return m
}

func (m *memIDs) PendingIDs(context.Context, string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []string
	for _, id := range m.order {
		if m.status[id] == domain.StatusPending {
			out = append(out, id)
		}
	}
	return out, nil
}

func (m *memIDs) MarkProcessed(_ context.Context, _ string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.markErr != nil {
		return m.markErr
	}
	for _, id := range ids {
		m.status[id] = domain.StatusProcessed
	}
	return nil
}

type memDocs struct {
	mu        sync.Mutex
	docs      map[string]*domain.DatasetDocument
	upsertErr error
}

func (m *memDocs) Upsert(_ context.Context, doc *domain.DatasetDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}
	if m.docs == nil {
		m.docs = map[string]*domain.DatasetDocument{}
	}
	m.docs[doc.ExternalID] = doc
	return nil
}

func detailsServer(t *testing.T, bodies map[string]string) string {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "tok", r.Header.Get("token"))
		body, ok := bodies[r.URL.Query().Get("id")]
		if !ok {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func newFetcher(url string, ids *memIDs, docs *memDocs) *detail.Fetcher {
	creds := staticCreds{services: map[string]string{domain.ServiceDatasetDetails: url}}
	return detail.NewFetcher(creds, provider.NewClient(5*time.Second), ids, docs, logger.NewNop(),
		detail.WithClock(func() time.Time { return syncTime }))
}

func TestProcessPending_FailedIDStaysPending(t *testing.T) {
	t.Parallel()

	url := detailsServer(t, map[string]string{
		"a": `{"@type":"schema:Dataset","schema:url":"https://data.example.org/a","schema:name":"A"}`,
	})
	ids := newMemIDs("a", "b")
	docs := &memDocs{}

	n, err := newFetcher(url, ids, docs).ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusProcessed, ids.status["a"])
	assert.Equal(t, domain.StatusPending, ids.status["b"])

	require.Contains(t, docs.docs, "a")
	doc := docs.docs["a"]
	assert.Equal(t, "a", doc.ExternalID)
	assert.Equal(t, "alpha", doc.Provider)
	assert.Equal(t, syncTime, doc.SyncDate)
	assert.Equal(t, "A", doc.DisplayName())
}

func TestProcessPending_StripsControlCharacters(t *testing.T) {
	t.Parallel()

	url := detailsServer(t, map[string]string{
		"a": "{\"@type\":\"schema:Dataset\",\x01\"schema:name\":\"Sea\x0b Ice\"}",
	})
	ids := newMemIDs("a")
	docs := &memDocs{}

	n, err := newFetcher(url, ids, docs).ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	assert.Equal(t, "Sea Ice", docs.docs["a"].DisplayName())
}

func TestProcessPending_ParseFailureIsSkipped(t *testing.T) {
	t.Parallel()

	url := detailsServer(t, map[string]string{
		"bad":  `<html>maintenance</html>`,
		"good": `{"@type":"schema:Dataset"}`,
	})
	ids := newMemIDs("bad", "good")
	docs := &memDocs{}

	n, err := newFetcher(url, ids, docs).ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, domain.StatusPending, ids.status["bad"])
	assert.Equal(t, domain.StatusProcessed, ids.status["good"])
}

func TestProcessPending_MissingServiceFails(t *testing.T) {
	t.Parallel()

	f := detail.NewFetcher(staticCreds{}, provider.NewClient(time.Second), newMemIDs("a"), &memDocs{}, logger.NewNop())

	_, err := f.ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.ErrorIs(t, err, domain.ErrDetailFetch)
}

func TestProcessPending_StorageFailureAborts(t *testing.T) {
	t.Parallel()

	url := detailsServer(t, map[string]string{
		"a": `{"@type":"schema:Dataset"}`,
		"b": `{"@type":"schema:Dataset"}`,
	})
	ids := newMemIDs("a", "b")
	docs := &memDocs{upsertErr: domain.NewError(domain.ErrStorage, "index document", "alpha", errors.New("cluster red"))}

	n, err := newFetcher(url, ids, docs).ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.ErrorIs(t, err, domain.ErrStorage)
	assert.Equal(t, 0, n)
	assert.Equal(t, domain.StatusPending, ids.status["a"])
}

// mappingCluster accepts index requests unless the document carries an object
// @type, which a keyword mapping refuses.
type mappingCluster struct {
	mu      sync.Mutex
	indexed []string
}

func (c *mappingCluster) RoundTrip(req *http.Request) (*http.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	parts := strings.Split(strings.Trim(req.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1:
		return esResponse(http.StatusOK, `{}`), nil
	case len(parts) == 3 && parts[1] == "_doc":
		body, _ := io.ReadAll(req.Body)
		if bytes.Contains(body, []byte(`"@type":{`)) {
			return esResponse(http.StatusBadRequest,
				`{"error":{"type":"mapper_parsing_exception","reason":"failed to parse field [@type]"}}`), nil
		}
		c.indexed = append(c.indexed, parts[2])
		return esResponse(http.StatusCreated, `{"result":"created"}`), nil
	default:
		return esResponse(http.StatusBadRequest, `{"error":"unsupported"}`), nil
	}
}

func esResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"X-Elastic-Product": []string{"Elasticsearch"}},
	}
}

func TestProcessPending_RejectedDocumentDoesNotBlockLaterIDs(t *testing.T) {
	t.Parallel()

	url := detailsServer(t, map[string]string{
		"a": `{"@type":"schema:Dataset"}`,
		"b": `{"@type":{"@id":"schema:Dataset"}}`,
		"c": `{"@type":"schema:Dataset"}`,
	})
	cluster := &mappingCluster{}
	client, err := es.NewClient(es.Config{Transport: cluster})
	require.NoError(t, err)
	store := documents.NewStore(client, "datasets_", logger.NewNop())

	ids := newMemIDs("a", "b", "c")
	creds := staticCreds{services: map[string]string{domain.ServiceDatasetDetails: url}}
	fetcher := detail.NewFetcher(creds, provider.NewClient(5*time.Second), ids, store, logger.NewNop())

	first, err := fetcher.ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.NoError(t, err)
	second, err := fetcher.ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.NoError(t, err)

	assert.Equal(t, 2, first)
	assert.Zero(t, second)

	assert.Equal(t, domain.StatusProcessed, ids.status["a"])
	assert.Equal(t, domain.StatusPending, ids.status["b"])
	assert.Equal(t, domain.StatusProcessed, ids.status["c"])
	assert.Equal(t, []string{"a", "c"}, cluster.indexed)
}

func TestProcessPending_RejectedTokenIsRefreshed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "stale" {
			http.Error(w, "token expired", http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"@type":"schema:Dataset"}`))
	}))
	t.Cleanup(srv.Close)

	var invalidated atomic.Int32
	creds := staticCreds{
		services:    map[string]string{domain.ServiceDatasetDetails: srv.URL},
		invalidated: &invalidated,
	}
	ids := newMemIDs("stale", "fresh")
	docs := &memDocs{}
	fetcher := detail.NewFetcher(creds, provider.NewClient(5*time.Second), ids, docs, logger.NewNop())

	n, err := fetcher.ProcessPending(context.Background(), domain.Provider{Name: "alpha"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, int32(1), invalidated.Load())
	assert.Equal(t, domain.StatusPending, ids.status["stale"])
	assert.Equal(t, domain.StatusProcessed, ids.status["fresh"])
}

func TestStripControl(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "a\nb\r\tc", detail.StripControl("a\nb\r\x00\tc\x1f"))
	assert.Equal(t, "déjà vu", detail.StripControl("déjà\x7f vu"))
}
