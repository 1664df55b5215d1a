package embermqtt

import (
	"sync"
	"time"

	"github.com/alvar-labs/embermqtt/packets"
)

// RetainedMessage is one retained publish together with the client id
// that published it, as returned by GetRetained.
type RetainedMessage struct {
	Packet    packets.Packet
	Origin    string
	StoredAt  time.Time
}

// RetainedStore maps exact topic names to their retained message. Per the
// distilled spec §4.4/§3: a zero-length-payload retained publish deletes
// the entry rather than storing an empty one.
type RetainedStore struct {
	mu   sync.RWMutex
	byTopic map[string]RetainedMessage
	now  func() time.Time
}

// NewRetainedStore returns an empty retained-message store.
func NewRetainedStore() *RetainedStore {
	return &RetainedStore{byTopic: make(map[string]RetainedMessage), now: time.Now}
}

// SetRetained stores or removes the retained message for topic, per
// distilled §4.4: an empty payload removes any existing record.
func (r *RetainedStore) SetRetained(topic string, pk packets.Packet, origin string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(pk.Payload) == 0 {
		delete(r.byTopic, topic)
		return
	}
	r.byTopic[topic] = RetainedMessage{Packet: pk, Origin: origin, StoredAt: r.now()}
}

// sweepExpiredLocked removes every entry whose message-expiry interval has
// elapsed. Must be called with mu held for writing.
func (r *RetainedStore) sweepExpiredLocked() {
	now := r.now()
	for topic, rm := range r.byTopic {
		if !rm.Packet.Properties.HasMessageExpiry {
			continue
		}
		deadline := rm.StoredAt.Add(time.Duration(rm.Packet.Properties.MessageExpiryInterval) * time.Second)
		if !now.Before(deadline) {
			delete(r.byTopic, topic)
		}
	}
}

// SweepExpired removes every retained entry whose message-expiry interval
// has elapsed, for the housekeeper's periodic pass.
func (r *RetainedStore) SweepExpired() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweepExpiredLocked()
}

// GetRetained sweeps expired entries, then returns every retained message
// whose topic matches filter, with each message's remaining message-expiry
// interval decremented by the time elapsed since it was stored (the
// publisher-side adjustment the distilled spec requires before forwarding
// a retained message to a new subscriber).
func (r *RetainedStore) GetRetained(filter string) []RetainedMessage {
	r.mu.Lock()
	r.sweepExpiredLocked()
	var matches []RetainedMessage
	now := r.now()
	for topic, rm := range r.byTopic {
		if !Match(topic, filter) {
			continue
		}
		out := rm
		out.Packet = rm.Packet.Copy()
		if out.Packet.Properties.HasMessageExpiry {
			elapsed := uint32(now.Sub(rm.StoredAt) / time.Second)
			if elapsed >= out.Packet.Properties.MessageExpiryInterval {
				out.Packet.Properties.MessageExpiryInterval = 0
			} else {
				out.Packet.Properties.MessageExpiryInterval -= elapsed
			}
		}
		matches = append(matches, out)
	}
	r.mu.Unlock()
	return matches
}

// Len returns the number of retained messages currently stored.
func (r *RetainedStore) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTopic)
}
