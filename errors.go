package stockpile

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/stockpile/state"
	"github.com/xraph/stockpile/store"
	"github.com/xraph/stockpile/txn"
)

// Sentinel errors returned by the Ledger.
var (
	ErrInvalidInput       = errors.New("stockpile: invalid input")
	ErrStoreNotRegistered = errors.New("stockpile: store not registered")
	ErrStoreExists        = errors.New("stockpile: store already registered")
	ErrNotPersistent      = errors.New("stockpile: store cannot be persisted")
	ErrScopeOpen          = errors.New("stockpile: not allowed inside an open scope")
	ErrInvalidTransfer    = errors.New("stockpile: transfer needs two distinct stores")
	ErrTransferIncomplete = errors.New("stockpile: transfer incomplete")
	ErrAlreadyStarted     = errors.New("stockpile: already started")
	ErrStopped            = errors.New("stockpile: stopped")
)

// Errors of the store, txn and state packages, re-exported.
var (
	ErrNegativeQuantity   = store.ErrNegativeQuantity
	ErrNoArticle          = store.ErrNoArticle
	ErrInvalidDivisor     = store.ErrInvalidDivisor
	ErrInvalidCapacity    = store.ErrInvalidCapacity
	ErrInvalidMember      = store.ErrInvalidMember
	ErrCorruptState       = store.ErrCorruptState
	ErrUnenlistedMutation = store.ErrUnenlistedMutation
	ErrNoCoordinator      = store.ErrNoCoordinator
	ErrUnsupported        = store.ErrUnsupported

	ErrScopeNotCurrent = txn.ErrScopeNotCurrent
	ErrScopeClosed     = txn.ErrScopeClosed
	ErrScopeClosing    = txn.ErrScopeClosing

	ErrStateNotFound = state.ErrNotFound
)

// MultiError collects errors from operations that keep going after a
// failure, such as Flush.
type MultiError struct {
	Errors []error
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "stockpile: no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("stockpile: %d errors occurred; first: %v", len(e.Errors), e.Errors[0])
}

// Unwrap exposes the collected errors to errors.Is and errors.As.
func (e MultiError) Unwrap() []error { return e.Errors }

// Add adds an error to the multi-error.
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors.
func (e MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// Err returns nil when no error was added, the error itself when one was,
// and e otherwise.
func (e MultiError) Err() error {
	switch len(e.Errors) {
	case 0:
		return nil
	case 1:
		return e.Errors[0]
	default:
		return e
	}
}

// IsInvalidArgument returns true if the error reports a bad argument.
func IsInvalidArgument(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeQuantity) ||
		errors.Is(err, ErrNoArticle) ||
		errors.Is(err, ErrInvalidDivisor) ||
		errors.Is(err, ErrInvalidCapacity) ||
		errors.Is(err, ErrInvalidMember) ||
		errors.Is(err, ErrInvalidTransfer)
}

// IsInvalidState returns true if the error reports an operation made in the
// wrong scope state.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrScopeNotCurrent) ||
		errors.Is(err, ErrScopeClosed) ||
		errors.Is(err, ErrScopeClosing) ||
		errors.Is(err, ErrUnenlistedMutation) ||
		errors.Is(err, ErrNoCoordinator) ||
		errors.Is(err, ErrScopeOpen) ||
		errors.Is(err, ErrAlreadyStarted) ||
		errors.Is(err, ErrStopped)
}

// IsUnsupported returns true if the operation is not supported by the store.
func IsUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupported) ||
		errors.Is(err, ErrNotPersistent)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrStoreNotRegistered) ||
		errors.Is(err, ErrStateNotFound)
}

// IsRetryable returns true if the error is temporary and the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrTransferIncomplete)
}
