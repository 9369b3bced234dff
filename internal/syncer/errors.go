package syncer

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingOwner indicates resolution had to create a record but no
	// owning parent was supplied.
	ErrMissingOwner = errors.New("syncer: owner required to create record")
	// ErrAmbiguousMatch indicates more than one stored record matched a key
	// that must be unique. This points at upstream data corruption and is
	// reported rather than silently resolved.
	ErrAmbiguousMatch = errors.New("syncer: ambiguous match on unique key")
	// ErrWriteFailure indicates the store rejected an insert or update.
	ErrWriteFailure = errors.New("syncer: store write failed")
	// ErrReferenceMissing indicates a binding referenced a document that was
	// not part of the current sync batch.
	ErrReferenceMissing = errors.New("syncer: referenced document not in sync batch")
	// ErrMissingClient indicates a component was constructed without a store
	// client.
	ErrMissingClient = errors.New("syncer: store client is required")
)

const (
	opResolve      = "syncer.resolve"
	opReconcile    = "syncer.reconcile"
	opBind         = "syncer.bind"
	opUnbind       = "syncer.unbind"
	opEvidence     = "syncer.record_evidence"
	opSyncProject  = "syncer.sync_project"
	opServiceNew   = "syncer.service.new"
	opListBindings = "syncer.list_bindings"
)

// ServiceError carries an operation-scoped error code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the machine-readable error code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}
