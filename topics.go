package embermqtt

import (
	"errors"
	"strings"
	"sync"
)

// ErrTopicFilterInvalid is returned by ParseFilter for a malformed shared
// subscription filter.
var ErrTopicFilterInvalid = errors.New("topic filter invalid")

const sharePrefix = "$share/"

// ParseFilter splits a raw subscription filter into its shared-subscription
// group (if any) and the filter actually matched against topic names. A
// filter not starting with "$share/" has an empty share name and is
// returned unchanged.
func ParseFilter(raw string) (shareName, matchFilter string, err error) {
	if !strings.HasPrefix(raw, sharePrefix) {
		return "", raw, nil
	}
	rest := raw[len(sharePrefix):]
	slash := strings.IndexByte(rest, '/')
	if slash <= 0 {
		return "", "", ErrTopicFilterInvalid
	}
	group, filter := rest[:slash], rest[slash+1:]
	if filter == "" || strings.ContainsAny(group, "+#") {
		return "", "", ErrTopicFilterInvalid
	}
	return group, filter, nil
}

// ValidTopicName reports whether name is legal to publish to: non-empty,
// free of wildcards and embedded NUL bytes.
func ValidTopicName(name string) bool {
	if name == "" || strings.ContainsRune(name, 0) {
		return false
	}
	return !strings.ContainsAny(name, "+#")
}

// ValidTopicFilter reports whether filter (the match portion, after any
// $share/group/ prefix has been stripped) is a legal subscription filter:
// '#' only as the final level, '+'/'#' occupying a whole level.
func ValidTopicFilter(filter string) bool {
	if filter == "" || strings.ContainsRune(filter, 0) {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if strings.Contains(level, "#") && (level != "#" || i != len(levels)-1) {
			return false
		}
		if strings.Contains(level, "+") && level != "+" {
			return false
		}
	}
	return true
}

// Match reports whether topic matches filter under the MQTT wildcard
// rules: '+' matches exactly one level, '#' (final level only) matches
// zero or more remaining levels, and a topic beginning with '$' never
// matches a filter whose first level is '+' or '#'.
func Match(topic, filter string) bool {
	topicLevels := strings.Split(topic, "/")
	filterLevels := strings.Split(filter, "/")

	if strings.HasPrefix(topic, "$") && len(filterLevels) > 0 {
		if filterLevels[0] == "+" || filterLevels[0] == "#" {
			return false
		}
	}

	ti := 0
	for fi := 0; fi < len(filterLevels); fi++ {
		level := filterLevels[fi]
		if level == "#" {
			return true
		}
		if ti >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[ti] {
			return false
		}
		ti++
	}
	return ti == len(topicLevels)
}

// Subscription is one (client, filter) entry stored in the subscription
// index, carrying the options negotiated on the SUBSCRIBE that installed
// or last replaced it.
type Subscription struct {
	ClientID             string
	Filter               string
	ShareName            string
	Qos                  byte
	NoLocal              bool
	RetainAsPublished    bool
	RetainHandling       byte
	SubscriptionID       int
	HasSubscriptionID    bool
}

func (s Subscription) key() subKey { return subKey{clientID: s.ClientID, filter: s.Filter, share: s.ShareName} }

type subKey struct {
	clientID string
	filter   string
	share    string
}

// TopicsIndex is the broker's set of subscriptions. The hint in the
// distilled spec ("a linear scan is acceptable at this scale") is taken
// literally: entries are kept in maps keyed by (client, filter, share),
// and matching walks every stored entry testing its filter against the
// published topic. The order of matching results is not defined.
type TopicsIndex struct {
	mu      sync.RWMutex
	byKey   map[subKey]*Subscription
	byClient map[string]map[subKey]struct{}
}

// NewTopicsIndex returns an empty subscription index.
func NewTopicsIndex() *TopicsIndex {
	return &TopicsIndex{
		byKey:    make(map[subKey]*Subscription),
		byClient: make(map[string]map[subKey]struct{}),
	}
}

// Insert installs sub, replacing any existing entry for the same
// (client, filter, share-name). Returns true if an existing entry was
// replaced.
func (t *TopicsIndex) Insert(sub Subscription) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := sub.key()
	_, replaced := t.byKey[k]
	cp := sub
	t.byKey[k] = &cp
	if t.byClient[sub.ClientID] == nil {
		t.byClient[sub.ClientID] = make(map[subKey]struct{})
	}
	t.byClient[sub.ClientID][k] = struct{}{}
	return replaced
}

// Delete removes the entry matching the raw UNSUBSCRIBE filter (which may
// itself carry a $share/group/ prefix). Returns true iff an entry existed.
func (t *TopicsIndex) Delete(clientID, rawFilter string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	share, match, err := ParseFilter(rawFilter)
	if err != nil {
		match = rawFilter
	}
	k := subKey{clientID: clientID, filter: match, share: share}
	if _, ok := t.byKey[k]; !ok {
		return false
	}
	delete(t.byKey, k)
	delete(t.byClient[clientID], k)
	return true
}

// DeleteClient removes every subscription owned by clientID, used on
// clean-start session replacement per the distilled spec's clarified
// open question in §9.
func (t *TopicsIndex) DeleteClient(clientID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k := range t.byClient[clientID] {
		delete(t.byKey, k)
	}
	delete(t.byClient, clientID)
}

// Matching returns every subscription whose filter matches topic.
func (t *TopicsIndex) Matching(topic string) []Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Subscription
	for _, s := range t.byKey {
		if Match(topic, s.Filter) {
			out = append(out, *s)
		}
	}
	return out
}

// Of returns every subscription owned by clientID.
func (t *TopicsIndex) Of(clientID string) []Subscription {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var out []Subscription
	for k := range t.byClient[clientID] {
		out = append(out, *t.byKey[k])
	}
	return out
}
