// Package storage defines the persistence Store interface every backend
// (bolt, badger, pebble, redis) implements, plus a Hook that drives any
// Store from the broker's hook events — grounded on the teacher's
// hooks/storage package, generalized here so the four backends share one
// hook implementation instead of four near-duplicate ones.
package storage

import (
	"encoding/json"
	"time"

	"github.com/alvar-labs/embermqtt"
	"github.com/alvar-labs/embermqtt/system"
)

const (
	ClientKeyPrefix       = "client_"
	SubscriptionKeyPrefix = "sub_"
	RetainedKeyPrefix     = "retained_"
	SysInfoKey            = "sysinfo"
)

// Store is the minimal key/value contract every persistence backend
// implements.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, bool, error)
	Delete(key string) error
	DeletePrefix(prefix string) error
	Close() error
}

// StoredClient is the JSON-serialized form of a persisted session.
type StoredClient struct {
	ClientID              string    `json:"client_id"`
	SessionExpiryInterval uint32    `json:"session_expiry_interval"`
	DisconnectedAt        time.Time `json:"disconnected_at"`
}

// StoredSubscription is the JSON-serialized form of a persisted
// subscription.
type StoredSubscription struct {
	ClientID  string `json:"client_id"`
	Filter    string `json:"filter"`
	ShareName string `json:"share_name,omitempty"`
	Qos       byte   `json:"qos"`
}

// Hook drives an arbitrary Store from broker events: it is the single
// persistence implementation every backend package wires up by
// constructing its own Store and wrapping it in NewHook.
type Hook struct {
	embermqtt.HookBase
	store Store
}

// NewHook wraps an already-opened Store.
func NewHook(store Store) *Hook {
	return &Hook{store: store}
}

func (h *Hook) ID() string { return "storage" }

func (h *Hook) PersistSession(clientID string, s *embermqtt.Session) {
	rec := StoredClient{ClientID: clientID, SessionExpiryInterval: s.SessionExpiryInterval}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	h.store.Put(ClientKeyPrefix+clientID, data)
}

func (h *Hook) PersistSubscription(clientID string, sub embermqtt.Subscription) {
	rec := StoredSubscription{ClientID: clientID, Filter: sub.Filter, ShareName: sub.ShareName, Qos: sub.Qos}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	h.store.Put(SubscriptionKeyPrefix+clientID+":"+sub.Filter, data)
}

func (h *Hook) RemoveSubscription(clientID, filter string) {
	h.store.Delete(SubscriptionKeyPrefix + clientID + ":" + filter)
}

func (h *Hook) RemoveClient(clientID string) {
	h.store.Delete(ClientKeyPrefix + clientID)
	h.store.DeletePrefix(SubscriptionKeyPrefix + clientID + ":")
}

func (h *Hook) OnRetainMessage(topic, origin string, removed bool) {
	if removed {
		h.store.Delete(RetainedKeyPrefix + topic)
		return
	}
	h.store.Put(RetainedKeyPrefix+topic, []byte(origin))
}

func (h *Hook) OnSysInfoTick(info system.Snapshot) {
	data, err := json.Marshal(info)
	if err != nil {
		return
	}
	h.store.Put(SysInfoKey, data)
}
