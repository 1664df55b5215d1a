package embermqtt

import (
	"time"
)

// runHousekeeper is the broker's single periodic maintenance loop
// (distilled spec §4.8): it evicts disconnected sessions whose expiry
// interval has elapsed (dispatching their will first), sweeps expired
// retained messages, and emits a system-info tick to every hook. It is
// grounded on the teacher's system-info ticker pattern but folds expiry
// sweeping into the same loop rather than running a second ticker,
// since both run at the broker's SysTopicInterval cadence.
func (b *Broker) runHousekeeper() {
	ticker := time.NewTicker(b.Options.SysTopicInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.closing:
			return
		case <-ticker.C:
			b.sweepExpiredSessions()
			b.Retained.SweepExpired()
			b.Sys.SetRetainedCount(b.Retained.Len())
			b.Hooks.OnSysInfoTick(b.Sys.Snapshot())
		}
	}
}

// sweepExpiredSessions dispatches any disconnected session's will whose
// delay has separately elapsed, then discards every disconnected session
// whose GetExpiryTime has passed (dispatching its will too, if the delay
// sweep hasn't already fired it). Per the distilled spec's redesign note,
// both checks use "now >= deadline", not only strictly after.
func (b *Broker) sweepExpiredSessions() {
	b.mu.RLock()
	candidates := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		candidates = append(candidates, s)
	}
	b.mu.RUnlock()

	now := time.Now()
	for _, s := range candidates {
		if will := s.TakeDueWill(now); will != nil {
			b.publishWill(s.ClientID, s.Version, will)
		}

		expiry := s.GetExpiryTime()
		if expiry.IsZero() || now.Before(expiry) {
			continue
		}
		b.dispatchWill(s)
		b.dropSession(s.ClientID)
		b.Hooks.RemoveClient(s.ClientID)
	}
}
