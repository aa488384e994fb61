// Package classify maps probe failures onto the closed set of error
// categories and tells local network trouble apart from remote faults.
package classify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jonesrussell/north-cloud/dataset-monitor/internal/domain"
)

// Sentinels the probe transport wraps so the classifier can recognise them.
var (
	ErrTooManyRedirects = errors.New("stopped after too many redirects")
	ErrBuildRequest     = errors.New("build request")
)

// Failure is a classified probe failure.
type Failure struct {
	Category domain.ErrorCategory
	Message  string
	Detail   string
}

// Error classifies a transport error. It is total: anything unrecognised is
// CategoryUnknown.
func Error(err error) domain.ErrorCategory {
	switch {
	case err == nil:
		return domain.CategoryUnknown
	case isTimeout(err):
		return domain.CategoryTimeout
	case isConnect(err):
		return connectCategory(err)
	case errors.Is(err, ErrTooManyRedirects):
		return domain.CategoryTooManyRedirects
	case errors.Is(err, ErrBuildRequest), errors.Is(err, context.Canceled):
		return domain.CategoryRequestCanceled
	case isTLS(err):
		return domain.CategorySSLCertificate
	default:
		return domain.CategoryUnknown
	}
}

// Status classifies an HTTP status code. ok is false for codes that are not
// failures.
func Status(code int) (category domain.ErrorCategory, ok bool) {
	switch {
	case code >= http.StatusInternalServerError && code < 600:
		return domain.CategoryServerError, true
	case code >= http.StatusBadRequest && code < http.StatusInternalServerError:
		return domain.CategoryClientError, true
	default:
		return "", false
	}
}

// IsLikelyLocalIssue reports whether failures of the category usually point
// at the monitoring host's own network.
func IsLikelyLocalIssue(c domain.ErrorCategory) bool {
	switch c {
	case domain.CategoryNetworkConnection,
		domain.CategoryDNSResolution,
		domain.CategoryTimeout,
		domain.CategoryRequestCanceled:
		return true
	default:
		return false
	}
}

// FromStatus builds the failure for an error status response.
func FromStatus(code int) (Failure, bool) {
	category, ok := Status(code)
	if !ok {
		return Failure{}, false
	}

	text := http.StatusText(code)
	kind := "client error"
	if category == domain.CategoryServerError {
		kind = "server error"
	}

	return Failure{
		Category: category,
		Message:  fmt.Sprintf("%s: %d %s", kind, code, text),
		Detail:   fmt.Sprintf("status code: %d, reason: %s", code, text),
	}, true
}

// FromError builds the failure for a transport error. The detail lists the
// cause chain and the timeout, connect and redirect flags.
func FromError(err error) Failure {
	var chain []string
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		chain = append(chain, e.Error())
	}

	detail := fmt.Sprintf("is_timeout: %t, is_connect: %t, is_redirect: %t",
		isTimeout(err), isConnect(err), errors.Is(err, ErrTooManyRedirects))
	if len(chain) > 0 {
		detail = "caused by: " + strings.Join(chain, " <- ") + "; " + detail
	}

	return Failure{
		Category: Error(err),
		Message:  err.Error(),
		Detail:   detail,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnect(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func connectCategory(err error) domain.ErrorCategory {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return domain.CategoryDNSResolution
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"):
		return domain.CategoryConnectionRefused
	case strings.Contains(msg, "dns"),
		strings.Contains(msg, "resolve"),
		strings.Contains(msg, "no such host"):
		return domain.CategoryDNSResolution
	default:
		return domain.CategoryNetworkConnection
	}
}

func isTLS(err error) bool {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		certInvalid      x509.CertificateInvalidError
		recordErr        tls.RecordHeaderError
		verifyErr        *tls.CertificateVerificationError
	)
	if errors.As(err, &unknownAuthority) || errors.As(err, &hostnameErr) ||
		errors.As(err, &certInvalid) || errors.As(err, &recordErr) || errors.As(err, &verifyErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "ssl") || strings.Contains(msg, "tls") || strings.Contains(msg, "certificate")
}
