package txn

import "errors"

// Invalid-state errors returned by scopes.
var (
	ErrScopeNotCurrent = errors.New("txn: scope is not the innermost open scope")
	ErrScopeClosed     = errors.New("txn: scope is closed")
	ErrScopeClosing    = errors.New("txn: scope is closing")
)
