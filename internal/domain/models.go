// Package domain holds the data model shared by the ingestion and monitoring
// components.
package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// List request methods a provider may require.
const (
	ListMethodGet  = "GET"
	ListMethodPost = "POST"
)

// Service names published in a provider's service list.
const (
	ServiceDatasetList    = "DATASET_LIST"
	ServiceDatasetDetails = "GET_DATASET_DETAILS"
)

// Provider is a remote data center publishing dataset metadata.
type Provider struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	SecretKey string `yaml:"secret_key"`
	Enabled   *bool  `yaml:"enabled"`
	// ListMethod selects the HTTP method of the dataset list endpoint.
	ListMethod string `yaml:"list_method"`
	// DetailRate caps detail requests per second. Zero disables pacing.
	DetailRate float64 `yaml:"detail_rate"`
}

// IsEnabled reports whether the provider takes part in runs. Providers are
// enabled unless explicitly switched off.
func (p Provider) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// Credential is an access ticket for one provider. Values are never mutated;
// a refresh replaces the whole credential.
type Credential struct {
	Token     string            `json:"token"`
	Version   string            `json:"version"`
	Services  map[string]string `json:"services"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Valid reports whether the credential can still be used at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.ExpiresAt.After(now)
}

// ServiceURL returns the endpoint published for the named service.
func (c *Credential) ServiceURL(name string) (string, bool) {
	u, ok := c.Services[name]
	return u, ok && u != ""
}

// Processing states of a discovered dataset id.
const (
	StatusPending   = "pending"
	StatusProcessed = "processed"
)

// ProcessedID is the dedup marker for one discovered dataset.
type ProcessedID struct {
	Provider  string    `db:"center_name"`
	DatasetID string    `db:"dataset_id"`
	Status    string    `db:"status"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// DatasetDocument is the stored metadata of one dataset. JSON-LD values are
// kept raw since providers mix strings, {"@value": ...} objects and arrays.
// Properties without a field of their own travel in Extra.
type DatasetDocument struct {
	ExternalID    string          `json:"@id"`
	Type          json.RawMessage `json:"@type,omitempty"`
	URL           json.RawMessage `json:"schema:url,omitempty"`
	Name          json.RawMessage `json:"schema:name,omitempty"`
	DatePublished json.RawMessage `json:"schema:datePublished,omitempty"`
	Provider      string          `json:"centerName"`
	SyncDate      time.Time       `json:"syncDate"`

	Extra map[string]json.RawMessage `json:"-"`
}

// documentFields has the layout of DatasetDocument without its methods.
type documentFields DatasetDocument

var documentKeys = []string{
	"@id", "@type", "schema:url", "schema:name", "schema:datePublished", "centerName", "syncDate",
}

// UnmarshalJSON decodes the known properties and keeps the rest in Extra.
func (d *DatasetDocument) UnmarshalJSON(data []byte) error {
	var fields documentFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range documentKeys {
		delete(all, k)
	}

	*d = DatasetDocument(fields)
	if len(all) > 0 {
		d.Extra = all
	}
	return nil
}

// MarshalJSON encodes the known properties over the Extra ones.
func (d DatasetDocument) MarshalJSON() ([]byte, error) {
	base, err := json.Marshal(documentFields(d))
	if err != nil || len(d.Extra) == 0 {
		return base, err
	}

	var known map[string]json.RawMessage
	if err := json.Unmarshal(base, &known); err != nil {
		return nil, err
	}

	merged := make(map[string]json.RawMessage, len(d.Extra)+len(known))
	for k, v := range d.Extra {
		merged[k] = v
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

const unknownValue = "unknown"

// ProbeURL returns the dataset URL. Only a plain string counts.
func (d *DatasetDocument) ProbeURL() (string, bool) {
	var s string
	if len(d.URL) == 0 || json.Unmarshal(d.URL, &s) != nil || s == "" {
		return "", false
	}
	return s, true
}

// DisplayName returns the dataset name, following the first element of an
// array and the @value of an object.
func (d *DatasetDocument) DisplayName() string {
	if len(d.Name) == 0 || string(d.Name) == "null" {
		return "Unknown"
	}

	var list []json.RawMessage
	if json.Unmarshal(d.Name, &list) == nil {
		if len(list) == 0 {
			return unknownValue
		}
		return literal(list[0])
	}

	return literal(d.Name)
}

// PublishedDate returns the publication date text or "unknown".
func (d *DatasetDocument) PublishedDate() string {
	return literal(d.DatePublished)
}

// IsDataset reports whether @type names a dataset, ignoring case.
func (d *DatasetDocument) IsDataset() bool {
	var single string
	if json.Unmarshal(d.Type, &single) == nil {
		return strings.Contains(strings.ToLower(single), "dataset")
	}

	var many []string
	if json.Unmarshal(d.Type, &many) == nil {
		for _, t := range many {
			if strings.Contains(strings.ToLower(t), "dataset") {
				return true
			}
		}
	}

	return false
}

// literal decodes a JSON-LD literal that is either a string or an object
// with a string @value.
func literal(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return unknownValue
	}

	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}

	var obj struct {
		Value *string `json:"@value"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Value != nil {
		return *obj.Value
	}

	return unknownValue
}
