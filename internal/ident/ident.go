package ident

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Kind discriminates who issued an identifier.
type Kind string

const (
	// KindExternal marks an identifier issued by the upstream content provider.
	KindExternal Kind = "external"
	// KindInternal marks an identifier issued by the relational store.
	KindInternal Kind = "internal"
)

// ErrEmptyIdentifier indicates a blank identifier value.
var ErrEmptyIdentifier = errors.New("ident: empty identifier")

// Ref carries an identifier together with its provenance, so callers never
// have to guess from the shape of the string which kind they hold.
type Ref struct {
	kind  Kind
	value string
}

// External tags a provider-issued identifier.
func External(value string) Ref {
	return Ref{kind: KindExternal, value: strings.TrimSpace(value)}
}

// Internal tags a store-issued identifier.
func Internal(value string) Ref {
	return Ref{kind: KindInternal, value: strings.TrimSpace(value)}
}

// Classify tags an untagged identifier arriving at a process boundary.
// A value that parses as a UUID is assumed store-issued; everything else is
// treated as provider-issued. The check is structural, so a provider id that
// happens to be a UUID would be misread; boundaries that know the provenance
// should construct the Ref directly instead.
func Classify(raw string) Ref {
	trimmed := strings.TrimSpace(raw)
	if _, err := uuid.Parse(trimmed); err == nil {
		return Internal(trimmed)
	}
	return External(trimmed)
}

// Kind reports the provenance of the identifier.
func (r Ref) Kind() Kind {
	return r.kind
}

// Value returns the raw identifier string.
func (r Ref) Value() string {
	return r.value
}

// IsInternal reports whether the identifier was issued by the store.
func (r Ref) IsInternal() bool {
	return r.kind == KindInternal
}

// IsZero reports whether the reference carries no identifier.
func (r Ref) IsZero() bool {
	return r.value == ""
}

// Validate confirms the reference carries a usable value.
func (r Ref) Validate() error {
	if r.value == "" {
		return ErrEmptyIdentifier
	}
	return nil
}

// String renders the reference for log output.
func (r Ref) String() string {
	return fmt.Sprintf("%s:%s", r.kind, r.value)
}
