package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrorCategory is the cause class of a failed probe.
type ErrorCategory string

// The closed set of probe failure categories.
const (
	CategoryNetworkConnection ErrorCategory = "NetworkConnection"
	CategoryDNSResolution     ErrorCategory = "DnsResolution"
	CategoryTimeout           ErrorCategory = "Timeout"
	CategorySSLCertificate    ErrorCategory = "SslCertificate"
	CategoryConnectionRefused ErrorCategory = "ConnectionRefused"
	CategoryServerError       ErrorCategory = "ServerError"
	CategoryClientError       ErrorCategory = "ClientError"
	CategoryTooManyRedirects  ErrorCategory = "TooManyRedirects"
	CategoryRequestCanceled   ErrorCategory = "RequestCanceled"
	CategoryUnknown           ErrorCategory = "Unknown"
)

// HealthRecord is one probe of one dataset URL. The result fields stay nil
// until the probe completes.
type HealthRecord struct {
	ID            string    `db:"id"`
	RawID         string    `db:"raw_id"`
	URL           string    `db:"url"`
	Name          string    `db:"name"`
	CenterName    string    `db:"center_name"`
	DatePublished string    `db:"date_published"`
	CheckTime     time.Time `db:"check_time"`

	StatusCode         *int           `db:"status_code"`
	StatusText         *string        `db:"status_text"`
	ErrorCategory      *ErrorCategory `db:"error_category"`
	ErrorMsg           *string        `db:"error_msg"`
	ErrorDetail        *string        `db:"error_detail"`
	ResponseTimeMS     *int64         `db:"response_time_ms"`
	IsLikelyLocalIssue *bool          `db:"is_likely_local_issue"`
	Headers            *string        `db:"headers"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// NewHealthRecord builds a pending record for the document. Documents without
// a usable URL yield false.
func NewHealthRecord(doc *DatasetDocument, now time.Time) (HealthRecord, bool) {
	u, ok := doc.ProbeURL()
	if !ok {
		return HealthRecord{}, false
	}

	return HealthRecord{
		ID:            uuid.NewString(),
		RawID:         doc.ExternalID,
		URL:           u,
		Name:          doc.DisplayName(),
		CenterName:    doc.Provider,
		DatePublished: doc.PublishedDate(),
		CheckTime:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, true
}

// Completed reports whether the probe result has been filled in.
func (r *HealthRecord) Completed() bool {
	return r.StatusCode != nil || r.ErrorCategory != nil
}

// IsSuccess reports whether the probe returned a 2xx status.
func (r *HealthRecord) IsSuccess() bool {
	return r.StatusCode != nil && *r.StatusCode >= 200 && *r.StatusCode < 300
}

// CleanText makes s storable in a PostgreSQL TEXT column: invalid UTF-8 runs
// become U+FFFD and NUL bytes are removed.
func CleanText(s string) string {
	return strings.ReplaceAll(strings.ToValidUTF8(s, "\uFFFD"), "\x00", "")
}
