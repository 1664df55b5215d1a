// Package auth provides pluggable authentication/authorization hooks:
// AllowHook grants every connection and every publish/subscribe, and
// Ledger enforces a YAML/JSON rule table of users and topic ACLs,
// adapted from the teacher's hooks/auth package.
package auth

import (
	"github.com/alvar-labs/embermqtt"
)

// AllowHook grants every CONNECT and every PUBLISH/SUBSCRIBE, the
// broker's out-of-the-box default when no auth hook is configured.
type AllowHook struct {
	embermqtt.HookBase
}

func (h *AllowHook) ID() string { return "allow-all-auth" }

func (h *AllowHook) Authenticate(clientID, username string, password []byte) bool {
	return true
}

func (h *AllowHook) Authorize(clientID, topic string, isSubscription bool) bool {
	return true
}
