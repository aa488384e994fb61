// Package provider talks to a data center's ticket, dataset list and dataset
// details endpoints.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/transport"
)

// Request headers understood by providers.
const (
	headerSecretKey = "secretKey"
	headerToken     = "token"
	headerVersion   = "version"
)

const defaultVersion = "1.0"

// maxBodySize caps list and detail responses.
const maxBodySize = 32 << 20

// Ticket is a freshly issued access ticket.
type Ticket struct {
	Token    string
	Version  string
	Services map[string]string
	// Lifetime is the validity advertised by the provider.
	Lifetime time.Duration
}

type ticketResponse struct {
	Ticket struct {
		Token   string `json:"token"`
		Expires int64  `json:"expires"`
	} `json:"ticket"`
	ServiceList []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
		URL     string `json:"url"`
	} `json:"serviceList"`
}

// Client performs provider API calls. Redirects are never followed.
type Client struct {
	http *http.Client
}

// NewClient creates a provider client with the given per-request timeout.
func NewClient(timeout time.Duration) *Client {
	return &Client{
		http: transport.NewClient(transport.ClientConfig{
			Timeout:      timeout,
			MaxRedirects: -1,
		}),
	}
}

// RequestTicket asks the provider's ticket endpoint for a new ticket. The
// protocol version is taken from the first published service.
func (c *Client) RequestTicket(ctx context.Context, p domain.Provider) (*Ticket, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build ticket request: %w", err)
	}
	req.Header.Set(headerSecretKey, p.SecretKey)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("request ticket: %w", err)
	}

	var tr ticketResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("decode ticket: %w", err)
	}
	if tr.Ticket.Token == "" {
		return nil, errors.New("decode ticket: empty token")
	}

	t := &Ticket{
		Token:    tr.Ticket.Token,
		Version:  defaultVersion,
		Services: make(map[string]string, len(tr.ServiceList)),
		Lifetime: time.Duration(tr.Ticket.Expires) * time.Second,
	}
	if len(tr.ServiceList) > 0 && tr.ServiceList[0].Version != "" {
		t.Version = tr.ServiceList[0].Version
	}
	for _, s := range tr.ServiceList {
		t.Services[s.Name] = s.URL
	}

	return t, nil
}

// ListDatasetIDs calls the DATASET_LIST service with the provider's list
// method. Entries without a string id are skipped.
func (c *Client) ListDatasetIDs(ctx context.Context, p domain.Provider, cred *domain.Credential) ([]string, error) {
	listURL, ok := cred.ServiceURL(domain.ServiceDatasetList)
	if !ok {
		return nil, fmt.Errorf("service %s not published", domain.ServiceDatasetList)
	}

	method := http.MethodGet
	if p.ListMethod == domain.ListMethodPost {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, listURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build list request: %w", err)
	}
	setAuth(req, cred)

	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("list datasets: response is not an array: %w", err)
	}

	ids := make([]string, 0, len(entries))
	for _, raw := range entries {
		var entry struct {
			ID any `json:"id"`
		}
		if json.Unmarshal(raw, &entry) != nil {
			continue
		}
		if id, isString := entry.ID.(string); isString && id != "" {
			ids = append(ids, id)
		}
	}

	return ids, nil
}

// FetchDetails returns the raw detail document of one dataset.
func (c *Client) FetchDetails(ctx context.Context, cred *domain.Credential, id string) ([]byte, error) {
	detailsURL, ok := cred.ServiceURL(domain.ServiceDatasetDetails)
	if !ok {
		return nil, fmt.Errorf("service %s not published", domain.ServiceDatasetDetails)
	}

	u, err := url.Parse(detailsURL)
	if err != nil {
		return nil, fmt.Errorf("parse details url: %w", err)
	}
	q := u.Query()
	q.Set("id", id)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build details request: %w", err)
	}
	setAuth(req, cred)

	return c.do(req)
}

func setAuth(req *http.Request, cred *domain.Credential) {
	req.Header.Set(headerToken, cred.Token)
	req.Header.Set(headerVersion, cred.Version)
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if statusErr := checkResponse(resp); statusErr != nil {
		return nil, statusErr
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
