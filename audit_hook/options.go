package audithook

import "log/slog"

// Option configures an Extension.
type Option func(*Extension)

// WithLogger sets the logger for the extension.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extension) {
		e.logger = logger
	}
}

// WithEnabledActions audits exactly the given actions.
func WithEnabledActions(actions ...string) Option {
	return func(e *Extension) {
		e.enabled = make(map[string]bool)
		for _, action := range actions {
			e.enabled[action] = true
		}
	}
}

// WithDisabledActions removes actions from the current set.
func WithDisabledActions(actions ...string) Option {
	return func(e *Extension) {
		if e.enabled == nil {
			e.enabled = make(map[string]bool)
			for _, action := range allActions() {
				if defaultEnabled(action) {
					e.enabled[action] = true
				}
			}
		}
		for _, action := range actions {
			delete(e.enabled, action)
		}
	}
}

func defaultEnabled(action string) bool {
	return action != ActionScopeCommitted && action != ActionScopeRolledBack
}

// allActions returns all known audit actions.
func allActions() []string {
	return []string{
		ActionScopeCommitted,
		ActionScopeRolledBack,
		ActionTransfer,
		ActionStoreRegistered,
		ActionStoreUnregistered,
		ActionStorePurged,
		ActionStoreDesync,
		ActionStateFlushed,
		ActionStateRestored,
	}
}
