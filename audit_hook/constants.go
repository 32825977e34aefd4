package audithook

// Action constants for audit events.
const (
	// Scope actions
	ActionScopeCommitted  = "scope.committed"
	ActionScopeRolledBack = "scope.rolled_back"

	// Transfer actions
	ActionTransfer = "article.transferred"

	// Store actions
	ActionStoreRegistered   = "store.registered"
	ActionStoreUnregistered = "store.unregistered"
	ActionStorePurged       = "store.purged"
	ActionStoreDesync       = "store.desync"

	// State actions
	ActionStateFlushed  = "state.flushed"
	ActionStateRestored = "state.restored"
)

// Resource constants for audit events.
const (
	ResourceScope = "scope"
	ResourceStore = "store"
	ResourceState = "state"
)

// Category constants for audit events.
const (
	CategoryInventory   = "inventory"
	CategoryPersistence = "persistence"
	CategoryIntegrity   = "integrity"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
