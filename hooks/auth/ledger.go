package auth

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/alvar-labs/embermqtt"
	"gopkg.in/yaml.v3"
)

// Access determines read/write privileges for an ACL rule.
type Access byte

const (
	Deny Access = iota
	ReadOnly
	WriteOnly
	ReadWrite
)

// RString is a rule value that treats "" and "*" as wildcards and
// supports a single trailing "*" for prefix matching.
type RString string

func (r RString) Matches(a string) bool {
	rr := string(r)
	if rr == "" || rr == "*" || a == rr {
		return true
	}
	if i := strings.Index(rr, "*"); i > 0 && len(a) >= i && a[:i] == rr[:i] {
		return true
	}
	return false
}

func (r RString) FilterMatches(topic string) bool {
	return embermqtt.Match(topic, string(r))
}

// Filters maps a topic filter to the access it grants.
type Filters map[RString]Access

// UserRule is a predefined user's credentials and ACL.
type UserRule struct {
	Password RString `json:"password,omitempty" yaml:"password,omitempty"`
	ACL      Filters `json:"acl,omitempty" yaml:"acl,omitempty"`
	Disallow bool    `json:"disallow,omitempty" yaml:"disallow,omitempty"`
}

// Users maps username to its UserRule.
type Users map[string]UserRule

// AuthRule is a generic, unkeyed authentication rule evaluated in order.
type AuthRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`
	Username RString `json:"username,omitempty" yaml:"username,omitempty"`
	Password RString `json:"password,omitempty" yaml:"password,omitempty"`
	Allow    bool    `json:"allow,omitempty" yaml:"allow,omitempty"`
}

// ACLRule is a generic, unkeyed authorization rule evaluated in order.
type ACLRule struct {
	Client   RString `json:"client,omitempty" yaml:"client,omitempty"`
	Username RString `json:"username,omitempty" yaml:"username,omitempty"`
	Filters  Filters `json:"filters,omitempty" yaml:"filters,omitempty"`
}

// Ledger is a table of users and access rules loaded from YAML/JSON.
type Ledger struct {
	mu    sync.RWMutex
	Users Users      `json:"users" yaml:"users"`
	Auth  []AuthRule `json:"auth" yaml:"auth"`
	ACL   []ACLRule  `json:"acl" yaml:"acl"`
}

// LoadLedger reads a YAML ledger file from path.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	l := &Ledger{}
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("parse ledger: %w", err)
	}
	return l, nil
}

func (l *Ledger) authOk(clientID, username string, password []byte) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.Users != nil {
		if u, ok := l.Users[username]; ok && u.Password != "" {
			return u.Password == RString(password) && !u.Disallow
		}
	}
	for _, rule := range l.Auth {
		if rule.Client.Matches(clientID) && rule.Username.Matches(username) && rule.Password.Matches(string(password)) {
			return rule.Allow
		}
	}
	return len(l.Auth) == 0 && l.Users == nil
}

func (l *Ledger) aclOk(clientID, username, topic string, write bool) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.Users != nil {
		if u, ok := l.Users[username]; ok && len(u.ACL) > 0 {
			for filter, access := range u.ACL {
				if !filter.FilterMatches(topic) {
					continue
				}
				if write {
					return access == WriteOnly || access == ReadWrite
				}
				return access == ReadOnly || access == ReadWrite
			}
			return false
		}
	}
	for _, rule := range l.ACL {
		if !rule.Client.Matches(clientID) || !rule.Username.Matches(username) {
			continue
		}
		if len(rule.Filters) == 0 {
			return true
		}
		for filter, access := range rule.Filters {
			if !filter.FilterMatches(topic) {
				continue
			}
			if write {
				if access == WriteOnly || access == ReadWrite {
					return true
				}
			} else if access == ReadOnly || access == ReadWrite {
				return true
			}
		}
	}
	return len(l.ACL) == 0 && l.Users == nil
}

// Hook enforces a Ledger's rules as the broker's Authenticate/Authorize
// hook.
type Hook struct {
	embermqtt.HookBase
	ledger *Ledger

	mu        sync.RWMutex
	usernames map[string]string // clientID -> username, for Authorize lookups
}

// NewHook wraps an already-loaded Ledger.
func NewHook(ledger *Ledger) *Hook {
	return &Hook{ledger: ledger, usernames: make(map[string]string)}
}

func (h *Hook) ID() string { return "ledger-auth" }

func (h *Hook) Authenticate(clientID, username string, password []byte) bool {
	ok := h.ledger.authOk(clientID, username, password)
	if ok {
		h.mu.Lock()
		h.usernames[clientID] = username
		h.mu.Unlock()
	}
	return ok
}

func (h *Hook) Authorize(clientID, topic string, isSubscription bool) bool {
	h.mu.RLock()
	username := h.usernames[clientID]
	h.mu.RUnlock()
	return h.ledger.aclOk(clientID, username, topic, !isSubscription)
}

func (h *Hook) RemoveClient(clientID string) {
	h.mu.Lock()
	delete(h.usernames, clientID)
	h.mu.Unlock()
}
