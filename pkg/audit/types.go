// Package audit durably records security- and data-relevant actions.
// Entries are append-only: nothing in this package mutates or deletes
// an entry once written, except the retention cleanup.
package audit

import "time"

// Module is the closed set of subsystems that produce audit entries.
// Free-text tags are deliberately not accepted: a closed enumeration
// keeps audit queries reliable.
type Module string

const (
	ModuleAuthentication Module = "authentication"
	ModuleOAuth          Module = "oauth"
	ModuleRequester      Module = "requester"
	ModuleAudit          Module = "audit"
)

// Valid reports whether m is a known module
func (m Module) Valid() bool {
	switch m {
	case ModuleAuthentication, ModuleOAuth, ModuleRequester, ModuleAudit:
		return true
	}
	return false
}

// Action is the closed set of auditable actions
type Action string

const (
	ActionLogin               Action = "login"
	ActionLoginFailed         Action = "login_failed"
	ActionLogout              Action = "logout"
	ActionTokenExchanged      Action = "token_exchanged"
	ActionTokenExchangeFailed Action = "token_exchange_failed"
	ActionSearch              Action = "search"
	ActionCreate              Action = "create"
	ActionUpdate              Action = "update"
	ActionViewLogs            Action = "view_logs"
)

// Entry is a single audit trail record
type Entry struct {
	ID        int64     `json:"id,omitempty"`
	Username  string    `json:"username"`
	Module    Module    `json:"module"`
	Action    Action    `json:"action"`
	OldValue  string    `json:"old_value"`
	NewValue  string    `json:"new_value"`
	Timestamp time.Time `json:"timestamp"`
}

// Filter narrows audit trail queries
type Filter struct {
	Username string
	Module   Module
	Limit    int
}

// RetentionPolicy bounds how long entries are kept
type RetentionPolicy struct {
	RetentionDays int
}
