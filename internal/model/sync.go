package model

// SyncResult reports the outcome of one push or pull invocation.
type SyncResult struct {
	Success bool `json:"success"`

	// Skipped is set when the operation declined to run, for example
	// because the stored cursor belongs to a different account.
	Skipped bool `json:"skipped,omitempty"`

	// AccountSwitchRequired is set with Skipped when the session guard
	// must run before sync can resume.
	AccountSwitchRequired bool `json:"account_switch_required,omitempty"`

	Pushed  int    `json:"pushed,omitempty"`
	Pulled  int    `json:"pulled,omitempty"`
	Message string `json:"message,omitempty"`
}
