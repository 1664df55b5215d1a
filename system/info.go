// Package system tracks the broker-wide counters exposed to hooks and
// the HTTP stats listener, grounded on the teacher's system package.
package system

import (
	"sync/atomic"
	"time"
)

// Info holds live, concurrently-updated broker counters. All fields are
// accessed through atomic operations so publish/subscribe hot paths
// never take a lock just to bump a counter.
type Info struct {
	started time.Time

	bytesReceived    atomic.Int64
	bytesSent        atomic.Int64
	messagesReceived atomic.Int64
	messagesSent     atomic.Int64
	clientsConnected atomic.Int64
	clientsMax       atomic.Int64
	retainedCount    atomic.Int64
	subscriptionsCnt atomic.Int64
}

// New returns an Info with its uptime clock started now.
func New() *Info {
	return &Info{started: time.Now()}
}

func (i *Info) AddBytesReceived(n int)    { i.bytesReceived.Add(int64(n)) }
func (i *Info) AddBytesSent(n int)        { i.bytesSent.Add(int64(n)) }
func (i *Info) IncMessagesReceived()      { i.messagesReceived.Add(1) }
func (i *Info) IncMessagesSent()          { i.messagesSent.Add(1) }
func (i *Info) SetRetainedCount(n int)    { i.retainedCount.Store(int64(n)) }
func (i *Info) SetSubscriptionsCount(n int) { i.subscriptionsCnt.Store(int64(n)) }

// ClientConnected/ClientDisconnected track the live connection count and
// its high-water mark.
func (i *Info) ClientConnected() {
	n := i.clientsConnected.Add(1)
	for {
		max := i.clientsMax.Load()
		if n <= max || i.clientsMax.CompareAndSwap(max, n) {
			return
		}
	}
}

func (i *Info) ClientDisconnected() {
	i.clientsConnected.Add(-1)
}

// Snapshot is the point-in-time view handed to hooks and the /stats
// HTTP endpoint.
type Snapshot struct {
	Version          string `json:"version"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	BytesReceived    int64  `json:"bytes_received"`
	BytesSent        int64  `json:"bytes_sent"`
	MessagesReceived int64  `json:"messages_received"`
	MessagesSent     int64  `json:"messages_sent"`
	ClientsConnected int64  `json:"clients_connected"`
	ClientsMax       int64  `json:"clients_maximum"`
	RetainedCount    int64  `json:"retained_count"`
	SubscriptionsCount int64 `json:"subscriptions_count"`
}

// Version is the broker build version string, stamped at link time in a
// real release; kept as a plain var here so cmd/embermqttd can override it
// with -ldflags.
var Version = "dev"

func (i *Info) Snapshot() Snapshot {
	return Snapshot{
		Version:            Version,
		UptimeSeconds:      int64(time.Since(i.started).Seconds()),
		BytesReceived:      i.bytesReceived.Load(),
		BytesSent:          i.bytesSent.Load(),
		MessagesReceived:   i.messagesReceived.Load(),
		MessagesSent:       i.messagesSent.Load(),
		ClientsConnected:   i.clientsConnected.Load(),
		ClientsMax:         i.clientsMax.Load(),
		RetainedCount:      i.retainedCount.Load(),
		SubscriptionsCount: i.subscriptionsCnt.Load(),
	}
}
