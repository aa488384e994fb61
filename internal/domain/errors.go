package domain

import (
	"errors"
	"strings"
)

// Error kinds. Match them with errors.Is.
var (
	ErrConfig      = errors.New("config error")
	ErrAuth        = errors.New("auth error")
	ErrDiscovery   = errors.New("discovery error")
	ErrDetailFetch = errors.New("detail fetch error")
	ErrParse       = errors.New("parse error")
	ErrStorage     = errors.New("storage error")
	ErrRejected    = errors.New("document rejected")
)

// Error carries the failing operation together with the provider and dataset
// it concerns.
type Error struct {
	Kind     error
	Op       string
	Provider string
	ID       string
	Err      error
}

// NewError builds an Error for a provider-scoped operation.
func NewError(kind error, op, provider string, err error) *Error {
	return &Error{Kind: kind, Op: op, Provider: provider, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Provider != "" {
		b.WriteString(" [provider=")
		b.WriteString(e.Provider)
		if e.ID != "" {
			b.WriteString(" id=")
			b.WriteString(e.ID)
		}
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error. A parse failure is
// also a detail fetch failure.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	return e.Kind == ErrParse && target == ErrDetailFetch
}
